// Package tlsharvest collects certificate metadata from candidate hosts.
// Chain verification is deliberately disabled: deployments of interest are
// frequently self-signed, and the certificate content is the signal.
package tlsharvest

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sigint-sh/sigint/internal/models"
)

// DefaultTimeout bounds one handshake attempt.
const DefaultTimeout = 5 * time.Second

// Target names one endpoint to handshake with. The same IP may appear with
// several ports.
type Target struct {
	IP   string
	Port int
}

// Harvester performs TLS handshakes and extracts leaf certificate fields.
type Harvester struct {
	timeout time.Duration
	now     func() time.Time
}

// New returns a harvester with the given handshake timeout.
func New(timeout time.Duration) *Harvester {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Harvester{timeout: timeout, now: time.Now}
}

// Fetch handshakes with ip:port and returns the leaf certificate fields.
// Handshake failures come back as a certificate carrying only Error, so the
// caller can attach the outcome to its result either way.
func (h *Harvester) Fetch(ctx context.Context, ip string, port int) *models.TLSCertificate {
	address := net.JoinHostPort(ip, fmt.Sprintf("%d", port))
	dialer := &net.Dialer{Timeout: h.timeout}

	deadline := h.now().Add(h.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn, err := tls.DialWithDialer(dialer, "tcp", address, &tls.Config{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Debug().Str("address", address).Err(err).Msg("TLS handshake failed")
		return &models.TLSCertificate{Error: err.Error()}
	}
	defer conn.Close()
	_ = conn.SetDeadline(deadline)

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return &models.TLSCertificate{Error: "no peer certificates presented"}
	}
	return h.extract(certs[0])
}

func (h *Harvester) extract(cert *x509.Certificate) *models.TLSCertificate {
	fingerprint := sha256.Sum256(cert.Raw)
	now := h.now()

	return &models.TLSCertificate{
		SubjectCN:         cert.Subject.CommonName,
		SubjectO:          firstString(cert.Subject.Organization),
		IssuerCN:          cert.Issuer.CommonName,
		IssuerO:           firstString(cert.Issuer.Organization),
		NotBefore:         cert.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:          cert.NotAfter.UTC().Format(time.RFC3339),
		SANs:              cert.DNSNames,
		Emails:            cert.EmailAddresses,
		SerialNumber:      cert.SerialNumber.Text(16),
		SHA256Fingerprint: hex.EncodeToString(fingerprint[:]),
		IsValid:           !now.Before(cert.NotBefore) && !now.After(cert.NotAfter),
		IsSelfSigned:      string(cert.RawSubject) == string(cert.RawIssuer),
	}
}

// BulkFetch harvests certificates from targets with at most workers handshakes
// in flight. The result map is keyed by "ip:port".
func (h *Harvester) BulkFetch(ctx context.Context, targets []Target, workers int) map[string]*models.TLSCertificate {
	if workers <= 0 {
		workers = 1
	}

	var mu sync.Mutex
	results := make(map[string]*models.TLSCertificate, len(targets))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for _, target := range targets {
		target := target
		group.Go(func() error {
			cert := h.Fetch(ctx, target.IP, target.Port)
			mu.Lock()
			results[net.JoinHostPort(target.IP, fmt.Sprintf("%d", target.Port))] = cert
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	return results
}

func firstString(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
