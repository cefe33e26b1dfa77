// Package discover drives discovery queries across configured plugins with
// per-query caching, interactive review, deduplication, and enrichment.
package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sigint-sh/sigint/internal/config"
	"github.com/sigint-sh/sigint/internal/enrich"
	"github.com/sigint-sh/sigint/internal/metrics"
	"github.com/sigint-sh/sigint/internal/models"
	"github.com/sigint-sh/sigint/internal/planner"
	"github.com/sigint-sh/sigint/pkg/plugins"
)

// Enricher resolves enrichment records for a batch of IPs.
type Enricher interface {
	BulkLookup(ctx context.Context, ips []string, workers int) map[string]enrich.IPInfo
}

// Engine executes a fingerprint's query plan across discovery plugins.
type Engine struct {
	cfg      config.DiscoveryConfig
	registry *plugins.Registry
	prompt   OperatorPrompt
	enricher Enricher

	now func() time.Time
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithPrompt replaces the operator prompt.
func WithPrompt(p OperatorPrompt) Option {
	return func(e *Engine) { e.prompt = p }
}

// WithEnricher attaches an IP enrichment collaborator.
func WithEnricher(en Enricher) Option {
	return func(e *Engine) { e.enricher = en }
}

func withClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds a discovery engine over the given plugin registry.
func New(cfg config.DiscoveryConfig, registry *plugins.Registry, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		registry: registry,
		prompt:   BatchPrompt{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Discover runs the full phase: plan queries, execute them with caching,
// deduplicate by (ip, port), truncate, and enrich. An operator abort returns
// the candidates gathered so far.
func (e *Engine) Discover(ctx context.Context, spec *models.FingerprintSpec) ([]models.CandidateHost, error) {
	active := e.activePlugins()
	if len(active) == 0 {
		return nil, fmt.Errorf("no configured discovery plugins (set SHODAN_API_KEY or CENSYS_PERSONAL_ACCESS_TOKEN)")
	}

	queries := planner.BuildQueries(spec, e.cfg.MaxQueries)
	log.Info().
		Str("app", spec.AppName).
		Int("queries", len(queries)).
		Str("strategy", string(e.cfg.CacheStrategy)).
		Msg("Starting discovery")

	if e.cfg.Interactive && len(queries) > 0 {
		queries = e.reviewQueries(queries)
		if len(queries) == 0 {
			log.Warn().Msg("All queries denied by operator")
			return nil, nil
		}
	}

	var all []models.CandidateHost
	cachedCount, freshCount, skippedCount := 0, 0, 0

	aborted := false
	for _, plugin := range active {
		if aborted {
			break
		}
		for _, query := range queries {
			if !plugin.SupportsQueryType(query.QueryType) {
				continue
			}
			candidates, outcome, errMsg := e.executeQueryWithCache(ctx, plugin, query)
			all = append(all, candidates...)
			switch outcome {
			case queryCached:
				cachedCount++
			case queryFresh:
				freshCount++
			case querySkipped:
				skippedCount++
			}
			if errMsg != "" && !e.prompt.ContinueOnError(errMsg) {
				log.Warn().Msg("Discovery aborted by operator after query error")
				aborted = true
				break
			}
		}
	}

	log.Info().
		Int("cached", cachedCount).
		Int("fresh", freshCount).
		Int("skipped", skippedCount).
		Msg("Query execution finished")

	deduplicated := models.Deduplicate(all)
	log.Info().
		Int("raw", len(all)).
		Int("unique", len(deduplicated)).
		Msg("Deduplicated candidates")

	// The total cap applies after deduplication, never before.
	if e.cfg.MaxResults > 0 && len(deduplicated) > e.cfg.MaxResults {
		deduplicated = deduplicated[:e.cfg.MaxResults]
	}

	if e.enricher != nil && len(deduplicated) > 0 {
		e.enrichCandidates(ctx, deduplicated)
	}

	return deduplicated, nil
}

func (e *Engine) activePlugins() []plugins.Plugin {
	if len(e.cfg.EnabledPlugins) == 0 {
		return e.registry.ConfiguredPlugins()
	}
	var active []plugins.Plugin
	for _, name := range e.cfg.EnabledPlugins {
		p, ok := e.registry.Get(name)
		if !ok {
			log.Warn().Str("plugin", name).Msg("Unknown plugin requested")
			continue
		}
		if !p.IsConfigured() {
			log.Warn().Str("plugin", name).Msg("Plugin not configured, skipping")
			continue
		}
		active = append(active, p)
	}
	return active
}

func (e *Engine) reviewQueries(queries []plugins.DiscoveryQuery) []plugins.DiscoveryQuery {
	var approved []plugins.DiscoveryQuery
	runAll := false

	for i, query := range queries {
		if runAll {
			approved = append(approved, query)
			continue
		}
		verdict, newValue := e.prompt.ReviewQuery(i+1, len(queries), query)
		switch verdict {
		case VerdictApprove:
			approved = append(approved, query)
		case VerdictDeny:
		case VerdictModify:
			modified := plugins.DiscoveryQuery{
				QueryType: query.QueryType,
				Value:     newValue,
				// The raw query no longer matches the edited value.
				Metadata: map[string]string{"modified": "true", "original_value": query.Value},
			}
			for k, v := range query.Metadata {
				if _, reserved := modified.Metadata[k]; !reserved {
					modified.Metadata[k] = v
				}
			}
			approved = append(approved, modified)
		case VerdictRunAll:
			runAll = true
			approved = append(approved, query)
		case VerdictSkipAll:
			log.Info().Int("approved", len(approved)).Int("total", len(queries)).Msg("Query review finished early")
			return approved
		}
	}
	return approved
}

// queryOutcome says how one query was satisfied.
type queryOutcome int

const (
	queryFresh queryOutcome = iota
	queryCached
	querySkipped
)

// executeQueryWithCache runs one query against one plugin, honoring the
// cache strategy. It returns the candidates, how the query was satisfied,
// and an error message when the plugin failed (partial results included).
func (e *Engine) executeQueryWithCache(ctx context.Context, plugin plugins.Plugin, query plugins.DiscoveryQuery) ([]models.CandidateHost, queryOutcome, string) {
	queryHash := models.HashQuery(plugin.Name(), string(query.QueryType), query.Value)
	cacheFile := filepath.Join(e.cfg.CacheDir, "query_"+queryHash+".json")

	if e.cfg.CacheStrategy == config.CacheOnly || e.cfg.CacheStrategy == config.CacheAndNew {
		if cached, ok := e.loadQueryCache(cacheFile); ok {
			log.Info().
				Str("plugin", plugin.Name()).
				Str("query", query.String()).
				Int("results", cached.ResultCount).
				Msg("Query served from cache")
			metrics.CacheHitsTotal.Inc()
			metrics.QueriesExecutedTotal.WithLabelValues(plugin.Name(), "cached").Inc()
			return cached.Candidates, queryCached, ""
		}
		if e.cfg.CacheStrategy == config.CacheOnly {
			log.Info().
				Str("plugin", plugin.Name()).
				Str("query", query.String()).
				Msg("No valid cache entry; cache_only strategy skips execution")
			return nil, querySkipped, ""
		}
	}

	result := plugin.Search(ctx, query, e.cfg.MaxResultsPerQuery)

	candidates := make([]models.CandidateHost, 0, len(result.Hosts))
	for _, host := range result.Hosts {
		candidates = append(candidates, hostToCandidate(host))
	}
	metrics.CandidatesDiscoveredTotal.WithLabelValues(plugin.Name()).Add(float64(len(candidates)))

	if !result.Success() {
		metrics.QueriesExecutedTotal.WithLabelValues(plugin.Name(), "error").Inc()
		log.Error().
			Str("plugin", plugin.Name()).
			Str("query", query.String()).
			Str("error", result.Error).
			Msg("Query failed")
		// A rate-limited page still yields the results gathered before it.
		return candidates, queryFresh, result.Error
	}

	metrics.QueriesExecutedTotal.WithLabelValues(plugin.Name(), "fresh").Inc()
	log.Info().
		Str("plugin", plugin.Name()).
		Str("query", query.String()).
		Int("results", len(candidates)).
		Msg("Query executed")

	e.saveQueryCache(cacheFile, plugin, query, queryHash, candidates)
	return candidates, queryFresh, ""
}

// hostToCandidate converts a plugin result into the engine's candidate model.
func hostToCandidate(host plugins.NormalizedHost) models.CandidateHost {
	candidate := models.CandidateHost{
		IP:           host.IP,
		Port:         host.Port,
		Hostname:     host.Hostname,
		Sources:      []string{host.Source},
		LastSeen:     host.LastSeen,
		Location:     host.Location,
		ASN:          host.Metadata["asn"],
		Organization: host.Metadata["org"],
	}
	candidate.NormalizeLastSeen()
	return candidate
}

func (e *Engine) loadQueryCache(path string) (*models.QueryCache, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var cache models.QueryCache
	if err := json.Unmarshal(data, &cache); err != nil {
		log.Debug().Err(err).Str("file", path).Msg("Unreadable cache entry treated as miss")
		return nil, false
	}
	if e.cacheExpired(cache.QueryTimestamp) {
		return nil, false
	}
	return &cache, true
}

func (e *Engine) cacheExpired(timestamp string) bool {
	if e.cfg.CacheTTLDays <= 0 {
		return false
	}
	cachedAt, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return true
	}
	return e.now().Sub(cachedAt) > e.cfg.CacheTTL()
}

func (e *Engine) saveQueryCache(path string, plugin plugins.Plugin, query plugins.DiscoveryQuery, queryHash string, candidates []models.CandidateHost) {
	if err := os.MkdirAll(e.cfg.CacheDir, 0o755); err != nil {
		log.Debug().Err(err).Msg("Cache directory unavailable, skipping write")
		return
	}
	cache := models.QueryCache{
		QueryHash:      queryHash,
		Platform:       plugin.Name(),
		QueryString:    string(query.QueryType) + ":" + query.Value,
		QueryTimestamp: e.now().UTC().Format(time.RFC3339),
		ResultCount:    len(candidates),
		Candidates:     candidates,
	}
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Debug().Err(err).Str("file", path).Msg("Cache write failed")
	}
}

func (e *Engine) enrichCandidates(ctx context.Context, candidates []models.CandidateHost) {
	ips := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ips = append(ips, c.IP)
	}

	log.Info().Int("candidates", len(candidates)).Msg("Enriching candidates")
	records := e.enricher.BulkLookup(ctx, ips, e.cfg.EnrichWorkers)
	enrichedAt := e.now().UTC().Format(time.RFC3339)

	cloudCount := 0
	for i := range candidates {
		info, ok := records[candidates[i].IP]
		if !ok || info.Error != "" {
			continue
		}
		candidates[i].HostingProvider = info.HostingProvider
		candidates[i].IsCloudHosted = info.IsHosting
		candidates[i].EnrichedAt = enrichedAt

		// Enrichment fills gaps; it never overwrites discovery data.
		if len(candidates[i].Location) == 0 && (info.Country != "" || info.City != "") {
			location := map[string]string{}
			if info.Country != "" {
				location["country_code"] = info.Country
			}
			if info.City != "" {
				location["city"] = info.City
			}
			if info.Region != "" {
				location["region"] = info.Region
			}
			candidates[i].Location = location
		}
		if candidates[i].Hostname == "" {
			candidates[i].Hostname = info.Hostname
		}
		if candidates[i].Organization == "" {
			candidates[i].Organization = info.Company
		}
		if candidates[i].ASN == "" {
			candidates[i].ASN = info.ASN
		}
		if info.IsHosting {
			cloudCount++
		}
	}
	log.Info().Int("cloud_hosted", cloudCount).Msg("Enrichment complete")
}
