package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sigint-sh/sigint/internal/config"
	"github.com/sigint-sh/sigint/internal/discover"
	"github.com/sigint-sh/sigint/internal/enrich"
	"github.com/sigint-sh/sigint/internal/models"
	"github.com/sigint-sh/sigint/pkg/plugins"
)

var discoverFlags struct {
	fingerprintPath string
	outputPath      string
	cacheStrategy   string
	maxQueries      int
	maxResults      int
	pluginNames     []string
	interactive     bool
	noEnrich        bool
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Query scan services for candidate hosts matching a fingerprint",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDiscover()
	},
}

func init() {
	discoverCmd.Flags().StringVarP(&discoverFlags.fingerprintPath, "fingerprint", "f", "", "fingerprint file (required)")
	discoverCmd.Flags().StringVarP(&discoverFlags.outputPath, "output", "o", "candidates.json", "candidates output file")
	discoverCmd.Flags().StringVar(&discoverFlags.cacheStrategy, "cache-strategy", string(config.CacheAndNew), "cache strategy (cache_only, new_only, cache_and_new)")
	discoverCmd.Flags().IntVar(&discoverFlags.maxQueries, "max-queries", config.DefaultMaxQueries, "maximum queries per fingerprint")
	discoverCmd.Flags().IntVar(&discoverFlags.maxResults, "max-results", 0, "total candidate cap after deduplication (0 = unlimited)")
	discoverCmd.Flags().StringSliceVar(&discoverFlags.pluginNames, "plugins", nil, "plugins to use (default: all configured)")
	discoverCmd.Flags().BoolVarP(&discoverFlags.interactive, "interactive", "i", false, "review each query before execution")
	discoverCmd.Flags().BoolVar(&discoverFlags.noEnrich, "no-enrich", false, "skip IPInfo enrichment")
	discoverCmd.MarkFlagRequired("fingerprint") //nolint:errcheck
}

func runDiscover() error {
	cfg := config.Load()

	strategy := config.CacheStrategy(discoverFlags.cacheStrategy)
	if !strategy.Valid() {
		return fmt.Errorf("invalid cache strategy %q", discoverFlags.cacheStrategy)
	}
	cfg.Discovery.CacheStrategy = strategy
	cfg.Discovery.MaxQueries = discoverFlags.maxQueries
	cfg.Discovery.MaxResults = discoverFlags.maxResults
	cfg.Discovery.EnabledPlugins = discoverFlags.pluginNames
	cfg.Discovery.Interactive = discoverFlags.interactive

	fingerprint, err := models.LoadFingerprint(discoverFlags.fingerprintPath)
	if err != nil {
		return err
	}

	registry := plugins.DefaultRegistry(plugins.Credentials{
		ShodanAPIKey: cfg.Credentials.ShodanAPIKey,
		CensysPAT:    cfg.Credentials.CensysPAT,
		CensysOrgID:  cfg.Credentials.CensysOrgID,
	})

	opts := []discover.Option{}
	if discoverFlags.interactive {
		opts = append(opts, discover.WithPrompt(discover.NewTerminalPrompt(os.Stdin, os.Stderr)))
	}
	if !discoverFlags.noEnrich {
		enrichCacheDir := filepath.Join(cfg.Discovery.CacheDir, "ipinfo")
		opts = append(opts, discover.WithEnricher(
			enrich.NewClient(cfg.Credentials.IPInfoToken, enrichCacheDir, enrich.DefaultCacheTTLDays)))
	}

	engine := discover.New(cfg.Discovery, registry, opts...)
	candidates, err := engine.Discover(cmdContext(), &fingerprint.FingerprintSpec)
	if err != nil {
		return err
	}

	if err := discover.WriteCandidates(discoverFlags.outputPath, fingerprint.FingerprintSpec.RunID, candidates); err != nil {
		return err
	}
	log.Info().
		Int("candidates", len(candidates)).
		Str("output", discoverFlags.outputPath).
		Msg("Discovery finished")
	return nil
}
