// Package config holds the defaults and recognized options for the discovery
// and verification pipeline, plus environment-based credential loading.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Probe point values and score scale.
const (
	DefaultFaviconPoints = 80
	DefaultImagePoints   = 50
	DefaultTitlePoints   = 15
	DefaultBodyPoints    = 15
	DefaultMaxScore      = 100
)

// Classification thresholds on the 0-100 scale.
const (
	DefaultVerifiedThreshold = 80.0
	DefaultLikelyThreshold   = 50.0
	DefaultPartialThreshold  = 30.0
)

// Discovery defaults.
const (
	DefaultCacheTTLDays       = 7
	DefaultMaxQueries         = 10
	DefaultMaxResultsPerQuery = 100
	DefaultEnrichWorkers      = 20
)

// Verification defaults.
const (
	DefaultWorkers        = 10
	DefaultProbeTimeout   = 10 * time.Second
	DefaultTCPTimeout     = 2 * time.Second
	DefaultTCPRetries     = 2
	DefaultTLSTimeout     = 5 * time.Second
	DefaultRetryThreshold = 50.0
)

// DefaultUserAgent identifies probe traffic. Operators may override it.
const DefaultUserAgent = "Mozilla/5.0 (compatible; sigint/1.0)"

// CacheStrategy selects how the discovery engine uses the per-query cache.
type CacheStrategy string

const (
	CacheOnly   CacheStrategy = "cache_only"
	NewOnly     CacheStrategy = "new_only"
	CacheAndNew CacheStrategy = "cache_and_new"
)

// Valid reports whether s is a recognized strategy.
func (s CacheStrategy) Valid() bool {
	switch s {
	case CacheOnly, NewOnly, CacheAndNew:
		return true
	}
	return false
}

// DiscoveryConfig holds the options recognized by the discovery engine.
type DiscoveryConfig struct {
	CacheDir           string
	CacheTTLDays       int // 0 = never expire
	CacheStrategy      CacheStrategy
	MaxQueries         int
	MaxResults         int // 0 = unlimited, applied after dedup
	MaxResultsPerQuery int
	EnrichWorkers      int
	EnabledPlugins     []string // empty = all configured
	Interactive        bool
}

// VerifyConfig holds the options recognized by the verification engine.
type VerifyConfig struct {
	Workers        int
	Timeout        time.Duration
	TCPCheck       bool
	TCPTimeout     time.Duration
	TCPRetries     int
	FetchTLS       bool
	TLSTimeout     time.Duration
	RetryThreshold float64
	UserAgent      string
}

// ScoringConfig holds probe point values and classification thresholds.
type ScoringConfig struct {
	FaviconPoints     int
	ImagePoints       int
	TitlePoints       int
	BodyPoints        int
	MaxScore          int
	VerifiedThreshold float64
	LikelyThreshold   float64
	PartialThreshold  float64
}

// Credentials holds API keys loaded from the environment. An empty field
// means the corresponding capability is disabled.
type Credentials struct {
	ShodanAPIKey string
	CensysPAT    string
	CensysOrgID  string
	IPInfoToken  string
}

// Config is the assembled runtime configuration.
type Config struct {
	Discovery   DiscoveryConfig
	Verify      VerifyConfig
	Scoring     ScoringConfig
	Credentials Credentials
}

// DefaultDiscovery returns the discovery defaults.
func DefaultDiscovery() DiscoveryConfig {
	return DiscoveryConfig{
		CacheDir:           defaultCacheDir(),
		CacheTTLDays:       DefaultCacheTTLDays,
		CacheStrategy:      CacheAndNew,
		MaxQueries:         DefaultMaxQueries,
		MaxResultsPerQuery: DefaultMaxResultsPerQuery,
		EnrichWorkers:      DefaultEnrichWorkers,
	}
}

// DefaultVerify returns the verification defaults.
func DefaultVerify() VerifyConfig {
	return VerifyConfig{
		Workers:        DefaultWorkers,
		Timeout:        DefaultProbeTimeout,
		TCPCheck:       true,
		TCPTimeout:     DefaultTCPTimeout,
		TCPRetries:     DefaultTCPRetries,
		FetchTLS:       true,
		TLSTimeout:     DefaultTLSTimeout,
		RetryThreshold: DefaultRetryThreshold,
		UserAgent:      DefaultUserAgent,
	}
}

// DefaultScoring returns the scoring defaults.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		FaviconPoints:     DefaultFaviconPoints,
		ImagePoints:       DefaultImagePoints,
		TitlePoints:       DefaultTitlePoints,
		BodyPoints:        DefaultBodyPoints,
		MaxScore:          DefaultMaxScore,
		VerifiedThreshold: DefaultVerifiedThreshold,
		LikelyThreshold:   DefaultLikelyThreshold,
		PartialThreshold:  DefaultPartialThreshold,
	}
}

// Load assembles defaults plus environment. A .env file in the working
// directory is honored when present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment from .env file")
	}

	cfg := &Config{
		Discovery: DefaultDiscovery(),
		Verify:    DefaultVerify(),
		Scoring:   DefaultScoring(),
		Credentials: Credentials{
			ShodanAPIKey: strings.TrimSpace(os.Getenv("SHODAN_API_KEY")),
			CensysPAT:    strings.TrimSpace(os.Getenv("CENSYS_PERSONAL_ACCESS_TOKEN")),
			CensysOrgID:  strings.TrimSpace(os.Getenv("CENSYS_ORG_ID")),
			IPInfoToken:  strings.TrimSpace(os.Getenv("IPINFO_TOKEN")),
		},
	}

	if v := os.Getenv("SIGINT_CACHE_DIR"); v != "" {
		cfg.Discovery.CacheDir = v
	}
	if v := os.Getenv("SIGINT_CACHE_TTL_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days >= 0 {
			cfg.Discovery.CacheTTLDays = days
		} else {
			log.Warn().Str("value", v).Msg("Invalid SIGINT_CACHE_TTL_DAYS, using default")
		}
	}

	return cfg
}

// CacheTTL converts the configured day count to a duration. Zero means the
// cache never expires.
func (d DiscoveryConfig) CacheTTL() time.Duration {
	return time.Duration(d.CacheTTLDays) * 24 * time.Hour
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".sigint", "cache")
	}
	return filepath.Join(home, ".sigint", "cache")
}
