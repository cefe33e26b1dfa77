package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	d := DefaultDiscovery()
	assert.Equal(t, 7, d.CacheTTLDays)
	assert.Equal(t, CacheAndNew, d.CacheStrategy)
	assert.Equal(t, 10, d.MaxQueries)
	assert.Equal(t, 0, d.MaxResults)
	assert.Equal(t, 20, d.EnrichWorkers)

	v := DefaultVerify()
	assert.Equal(t, 10, v.Workers)
	assert.Equal(t, 10*time.Second, v.Timeout)
	assert.True(t, v.TCPCheck)
	assert.Equal(t, 2*time.Second, v.TCPTimeout)
	assert.Equal(t, 2, v.TCPRetries)
	assert.True(t, v.FetchTLS)
	assert.Equal(t, 5*time.Second, v.TLSTimeout)
	assert.Equal(t, 50.0, v.RetryThreshold)

	s := DefaultScoring()
	assert.Equal(t, 80, s.FaviconPoints)
	assert.Equal(t, 50, s.ImagePoints)
	assert.Equal(t, 15, s.TitlePoints)
	assert.Equal(t, 15, s.BodyPoints)
	assert.Equal(t, 100, s.MaxScore)
	assert.Equal(t, 80.0, s.VerifiedThreshold)
}

func TestCacheStrategyValid(t *testing.T) {
	assert.True(t, CacheOnly.Valid())
	assert.True(t, NewOnly.Valid())
	assert.True(t, CacheAndNew.Valid())
	assert.False(t, CacheStrategy("everything").Valid())
	assert.False(t, CacheStrategy("").Valid())
}

func TestLoadReadsCredentials(t *testing.T) {
	t.Setenv("SHODAN_API_KEY", " shodan-key ")
	t.Setenv("CENSYS_PERSONAL_ACCESS_TOKEN", "pat")
	t.Setenv("CENSYS_ORG_ID", "")
	t.Setenv("IPINFO_TOKEN", "tok")
	t.Setenv("SIGINT_CACHE_DIR", "/tmp/sigint-test-cache")
	t.Setenv("SIGINT_CACHE_TTL_DAYS", "3")

	cfg := Load()
	assert.Equal(t, "shodan-key", cfg.Credentials.ShodanAPIKey)
	assert.Equal(t, "pat", cfg.Credentials.CensysPAT)
	assert.Empty(t, cfg.Credentials.CensysOrgID)
	assert.Equal(t, "tok", cfg.Credentials.IPInfoToken)
	assert.Equal(t, "/tmp/sigint-test-cache", cfg.Discovery.CacheDir)
	assert.Equal(t, 3, cfg.Discovery.CacheTTLDays)
}

func TestLoadRejectsBadTTL(t *testing.T) {
	t.Setenv("SIGINT_CACHE_TTL_DAYS", "soon")
	cfg := Load()
	assert.Equal(t, DefaultCacheTTLDays, cfg.Discovery.CacheTTLDays)
}

func TestCacheTTL(t *testing.T) {
	d := DiscoveryConfig{CacheTTLDays: 7}
	assert.Equal(t, 7*24*time.Hour, d.CacheTTL())
	d.CacheTTLDays = 0
	assert.Equal(t, time.Duration(0), d.CacheTTL())
}
