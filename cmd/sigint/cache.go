package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigint-sh/sigint/internal/config"
	"github.com/sigint-sh/sigint/internal/discover"
	"github.com/sigint-sh/sigint/pkg/plugins"
)

var cacheClearExpiredOnly bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the discovery query cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show query cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine := cacheEngine()
		stats := engine.Stats()

		fmt.Printf("Cached queries:    %d\n", stats.TotalQueries)
		fmt.Printf("Cached candidates: %d\n", stats.TotalCandidates)
		fmt.Printf("Valid entries:     %d\n", stats.ValidQueries)
		fmt.Printf("Expired entries:   %d\n", stats.ExpiredQueries)
		for platform, count := range stats.ByPlatform {
			fmt.Printf("  %s: %d\n", platform, count)
		}
		if stats.OldestCache != "" {
			fmt.Printf("Oldest entry:      %s\n", stats.OldestCache)
			fmt.Printf("Newest entry:      %s\n", stats.NewestCache)
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached query results",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine := cacheEngine()
		cleared, kept := engine.ClearCache(cacheClearExpiredOnly)
		fmt.Printf("Cleared %d entries, kept %d\n", cleared, kept)
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().BoolVar(&cacheClearExpiredOnly, "expired-only", false, "only remove entries past their TTL")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func cacheEngine() *discover.Engine {
	cfg := config.Load()
	registry := plugins.DefaultRegistry(plugins.Credentials{})
	return discover.New(cfg.Discovery, registry)
}
