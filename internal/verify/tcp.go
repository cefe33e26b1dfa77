package verify

import (
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// TCPChecker performs quick connect-only liveness checks so dead hosts are
// rejected before any HTTP probe spends its full timeout on them.
type TCPChecker struct {
	timeout time.Duration
	retries int
	dial    func(network, address string, timeout time.Duration) (net.Conn, error)
}

// NewTCPChecker returns a checker that attempts each target up to retries
// times with the given per-attempt timeout.
func NewTCPChecker(timeout time.Duration, retries int) *TCPChecker {
	if retries < 1 {
		retries = 1
	}
	return &TCPChecker{timeout: timeout, retries: retries, dial: net.DialTimeout}
}

// Alive reports whether a TCP connection to ip:port can be established.
func (c *TCPChecker) Alive(ip string, port int) bool {
	address := net.JoinHostPort(ip, strconv.Itoa(port))
	for attempt := 1; attempt <= c.retries; attempt++ {
		conn, err := c.dial("tcp", address, c.timeout)
		if err == nil {
			conn.Close()
			return true
		}
		log.Debug().Str("address", address).Int("attempt", attempt).Err(err).Msg("TCP check failed")
	}
	return false
}
