package verify

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAliveAgainstListener(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	addr := l.Addr().(*net.TCPAddr)

	checker := NewTCPChecker(time.Second, 2)
	assert.True(t, checker.Alive("127.0.0.1", addr.Port))
}

func TestAliveDeadHostRetries(t *testing.T) {
	attempts := 0
	checker := NewTCPChecker(time.Second, 2)
	checker.dial = func(network, address string, timeout time.Duration) (net.Conn, error) {
		attempts++
		return nil, errors.New("connection refused")
	}

	assert.False(t, checker.Alive("10.255.255.1", 80))
	assert.Equal(t, 2, attempts)
}

func TestAliveSucceedsOnRetry(t *testing.T) {
	attempts := 0
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close() })

	checker := NewTCPChecker(time.Second, 3)
	checker.dial = func(network, address string, timeout time.Duration) (net.Conn, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("timeout")
		}
		return client, nil
	}

	assert.True(t, checker.Alive("1.2.3.4", 443))
	assert.Equal(t, 2, attempts)
}
