package tlsharvest

import (
	"context"
	"crypto/x509"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tlsTestTarget(t *testing.T) (string, int, *x509.Certificate) {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(srv.TLS.Certificates[0].Certificate[0])
	require.NoError(t, err)
	return host, port, leaf
}

func TestFetchExtractsCertificate(t *testing.T) {
	host, port, leaf := tlsTestTarget(t)

	cert := New(2 * time.Second).Fetch(context.Background(), host, port)
	require.NotNil(t, cert)
	require.Empty(t, cert.Error)

	assert.Equal(t, leaf.Subject.CommonName, cert.SubjectCN)
	assert.Equal(t, leaf.Issuer.CommonName, cert.IssuerCN)
	assert.Equal(t, leaf.SerialNumber.Text(16), cert.SerialNumber)
	assert.Equal(t, leaf.NotBefore.UTC().Format(time.RFC3339), cert.NotBefore)
	assert.Equal(t, leaf.NotAfter.UTC().Format(time.RFC3339), cert.NotAfter)
	assert.Len(t, cert.SHA256Fingerprint, 64)
	assert.True(t, cert.IsValid)
	// httptest certificates are self-issued.
	assert.True(t, cert.IsSelfSigned)
}

func TestFetchConnectionRefused(t *testing.T) {
	// Grab a port that nothing listens on.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())

	cert := New(time.Second).Fetch(context.Background(), "127.0.0.1", addr.Port)
	require.NotNil(t, cert)
	assert.NotEmpty(t, cert.Error)
	assert.Empty(t, cert.SubjectCN)
}

func TestFetchPlaintextPort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cert := New(time.Second).Fetch(context.Background(), host, port)
	require.NotNil(t, cert)
	assert.NotEmpty(t, cert.Error, "handshake against a plaintext port must fail")
}

func TestBulkFetch(t *testing.T) {
	host, port, _ := tlsTestTarget(t)

	targets := []Target{{IP: host, Port: port}}
	results := New(2 * time.Second).BulkFetch(context.Background(), targets, 4)
	require.Len(t, results, 1)

	key := net.JoinHostPort(host, strconv.Itoa(port))
	require.Contains(t, results, key)
	assert.Empty(t, results[key].Error)
}

func TestExpiredCertificateMarkedInvalid(t *testing.T) {
	host, port, leaf := tlsTestTarget(t)

	h := New(2 * time.Second)
	h.now = func() time.Time { return leaf.NotAfter.Add(24 * time.Hour) }

	cert := h.Fetch(context.Background(), host, port)
	require.Empty(t, cert.Error)
	assert.False(t, cert.IsValid)
}
