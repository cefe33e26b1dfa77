package discover

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sigint-sh/sigint/internal/models"
)

// CacheStats summarizes the query cache directory.
type CacheStats struct {
	TotalQueries    int            `json:"total_queries"`
	TotalCandidates int            `json:"total_candidates"`
	ValidQueries    int            `json:"valid_queries"`
	ExpiredQueries  int            `json:"expired_queries"`
	ByPlatform      map[string]int `json:"by_platform"`
	OldestCache     string         `json:"oldest_cache,omitempty"`
	NewestCache     string         `json:"newest_cache,omitempty"`
}

// ClearCache removes cached query files. With expiredOnly, entries inside
// the TTL survive; unreadable files are always removed.
func (e *Engine) ClearCache(expiredOnly bool) (cleared, kept int) {
	files, err := filepath.Glob(filepath.Join(e.cfg.CacheDir, "query_*.json"))
	if err != nil {
		return 0, 0
	}
	for _, file := range files {
		if expiredOnly {
			data, err := os.ReadFile(file)
			if err == nil {
				var cache models.QueryCache
				if json.Unmarshal(data, &cache) == nil && !e.cacheExpired(cache.QueryTimestamp) {
					kept++
					continue
				}
			}
		}
		if err := os.Remove(file); err != nil {
			log.Debug().Err(err).Str("file", file).Msg("Cache file removal failed")
			continue
		}
		cleared++
	}
	log.Info().Int("cleared", cleared).Int("kept", kept).Bool("expired_only", expiredOnly).Msg("Cache cleared")
	return cleared, kept
}

// Stats walks the cache directory and tallies entries per platform and
// validity. Unreadable files are skipped.
func (e *Engine) Stats() CacheStats {
	stats := CacheStats{ByPlatform: map[string]int{}}
	files, err := filepath.Glob(filepath.Join(e.cfg.CacheDir, "query_*.json"))
	if err != nil {
		return stats
	}

	var oldest, newest time.Time
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		var cache models.QueryCache
		if err := json.Unmarshal(data, &cache); err != nil {
			continue
		}

		stats.TotalQueries++
		stats.TotalCandidates += cache.ResultCount
		stats.ByPlatform[cache.Platform]++

		if e.cacheExpired(cache.QueryTimestamp) {
			stats.ExpiredQueries++
		} else {
			stats.ValidQueries++
		}

		cachedAt, err := time.Parse(time.RFC3339, cache.QueryTimestamp)
		if err != nil {
			continue
		}
		if oldest.IsZero() || cachedAt.Before(oldest) {
			oldest = cachedAt
		}
		if newest.IsZero() || cachedAt.After(newest) {
			newest = cachedAt
		}
	}

	if !oldest.IsZero() {
		stats.OldestCache = oldest.UTC().Format(time.RFC3339)
		stats.NewestCache = newest.UTC().Format(time.RFC3339)
	}
	return stats
}
