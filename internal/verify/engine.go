// Package verify probes discovered candidates against a fingerprint's probe
// plan and classifies each host by its accumulated score.
package verify

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sigint-sh/sigint/internal/config"
	"github.com/sigint-sh/sigint/internal/metrics"
	"github.com/sigint-sh/sigint/internal/models"
	"github.com/sigint-sh/sigint/pkg/tlsharvest"
)

// Harvester fetches certificate metadata for verified hosts.
type Harvester interface {
	BulkFetch(ctx context.Context, targets []tlsharvest.Target, workers int) map[string]*models.TLSCertificate
}

// Engine verifies candidates concurrently against a probe plan.
type Engine struct {
	cfg       config.VerifyConfig
	scoring   config.ScoringConfig
	harvester Harvester
	alive     func(ip string, port int) bool
	now       func() time.Time
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithHarvester replaces the TLS certificate collector.
func WithHarvester(h Harvester) Option {
	return func(e *Engine) { e.harvester = h }
}

// WithLivenessCheck replaces the TCP liveness function.
func WithLivenessCheck(alive func(ip string, port int) bool) Option {
	return func(e *Engine) { e.alive = alive }
}

// New builds a verification engine.
func New(cfg config.VerifyConfig, scoring config.ScoringConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		scoring:   scoring,
		harvester: tlsharvest.New(cfg.TLSTimeout),
		alive:     NewTCPChecker(cfg.TCPTimeout, cfg.TCPRetries).Alive,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) thresholds() models.Thresholds {
	return models.Thresholds{
		Verified: e.scoring.VerifiedThreshold,
		Likely:   e.scoring.LikelyThreshold,
		Partial:  e.scoring.PartialThreshold,
	}
}

// Verify probes every candidate and returns the full report, including
// zero-score hosts. Results are ordered by score, highest first.
func (e *Engine) Verify(ctx context.Context, fingerprint *models.FingerprintOutput, candidates []models.CandidateHost) *models.VerificationReport {
	started := e.now()
	spec := fingerprint.FingerprintSpec
	plan := fingerprint.ProbePlan

	appPrefix := ""
	if spec.Mode != models.ModeOrganization {
		appPrefix = AppPrefix(spec.AppName)
	}
	executor := NewExecutor(e.cfg, e.scoring, spec.Mode)

	log.Info().
		Str("app", spec.AppName).
		Int("candidates", len(candidates)).
		Int("probe_steps", len(plan.ProbeSteps)).
		Int("workers", e.cfg.Workers).
		Str("app_prefix", appPrefix).
		Msg("Starting verification")

	workers := e.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan models.CandidateHost)
	resultCh := make(chan models.VerificationResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for candidate := range jobs {
				resultCh <- e.verifyCandidate(ctx, executor, candidate, plan, appPrefix)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, candidate := range candidates {
			select {
			case jobs <- candidate:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]models.VerificationResult, 0, len(candidates))
	for result := range resultCh {
		results = append(results, result)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if e.cfg.FetchTLS {
		e.attachCertificates(ctx, results)
	}

	completed := e.now()
	report := &models.VerificationReport{
		FingerprintRunID:      spec.RunID,
		AppName:               spec.AppName,
		VerificationStarted:   started.UTC().Format(time.RFC3339),
		VerificationCompleted: completed.UTC().Format(time.RFC3339),
		TotalDurationMs:       float64(completed.Sub(started).Milliseconds()),
		Summary:               models.Summarize(results),
		Results:               results,
	}
	log.Info().
		Int("total", report.Summary.Total).
		Int("verified", report.Summary.Verified).
		Int("likely", report.Summary.Likely).
		Int("partial", report.Summary.Partial).
		Msg("Verification complete")
	return report
}

// verifyCandidate runs the liveness gate, the primary scheme pass, and the
// scheme and prefix retries for one candidate.
func (e *Engine) verifyCandidate(ctx context.Context, executor *Executor, candidate models.CandidateHost, plan models.ProbePlan, appPrefix string) models.VerificationResult {
	started := e.now()

	if e.cfg.TCPCheck && !e.alive(candidate.IP, candidate.Port) {
		metrics.VerificationsTotal.WithLabelValues(string(models.ClassNoMatch)).Inc()
		return models.VerificationResult{
			IP:                    candidate.IP,
			Port:                  candidate.Port,
			Hostname:              candidate.Hostname,
			Scheme:                "unknown",
			Classification:        models.ClassNoMatch,
			VerificationStarted:   started.UTC().Format(time.RFC3339),
			VerificationCompleted: e.now().UTC().Format(time.RFC3339),
		}
	}

	scheme := schemeForPort(candidate.Port)
	result := e.probeWithScheme(ctx, executor, candidate, plan, scheme, "")

	if result.Score < e.cfg.RetryThreshold {
		alternate := alternateScheme(scheme)
		altResult := e.probeWithScheme(ctx, executor, candidate, plan, alternate, "")
		altResult.AlternateSchemeTried = true
		if altResult.Score > result.Score {
			result = altResult
		} else {
			result.AlternateSchemeTried = true
		}
	}

	// Apps deployed under a context path answer at /<prefix>/ instead of /.
	if result.Score < e.cfg.RetryThreshold && appPrefix != "" {
		prefix := "/" + appPrefix
		for _, s := range []string{scheme, alternateScheme(scheme)} {
			prefixed := e.probeWithScheme(ctx, executor, candidate, plan, s, prefix)
			prefixed.PrefixUsed = prefix
			if prefixed.Score > result.Score {
				result = prefixed
				if result.Score >= e.cfg.RetryThreshold {
					break
				}
			}
		}
	}

	metrics.VerificationsTotal.WithLabelValues(string(result.Classification)).Inc()
	metrics.VerificationDurationSeconds.Observe(e.now().Sub(started).Seconds())
	return result
}

// probeWithScheme executes the probe plan once against scheme://ip:port with
// the given path prefix, terminating early once the score cap is reached.
func (e *Engine) probeWithScheme(ctx context.Context, executor *Executor, candidate models.CandidateHost, plan models.ProbePlan, scheme, prefix string) models.VerificationResult {
	started := e.now()
	result := models.VerificationResult{
		IP:          candidate.IP,
		Port:        candidate.Port,
		Hostname:    candidate.Hostname,
		Scheme:      scheme,
		TotalProbes: len(plan.ProbeSteps),
	}

	baseURL := fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(candidate.IP, strconv.Itoa(candidate.Port)))
	currentScore := 0

	for _, step := range plan.ProbeSteps {
		if currentScore >= e.scoring.MaxScore {
			result.ProbeResults = append(result.ProbeResults, models.ProbeResult{
				Order:     step.Order,
				URLPath:   prefix + step.URLPath,
				CheckType: step.CheckType,
				MaxPoints: step.Weight,
				Skipped:   true,
			})
			metrics.ProbesExecutedTotal.WithLabelValues(string(step.CheckType), "skipped").Inc()
			continue
		}

		probed := step
		probed.URLPath = prefix + step.URLPath
		probeResult := executor.Execute(ctx, baseURL, probed)
		result.ProbeResults = append(result.ProbeResults, probeResult)
		currentScore += probeResult.PointsEarned

		metrics.ProbesExecutedTotal.WithLabelValues(string(step.CheckType), probeOutcome(probeResult)).Inc()
		if probeResult.Matched {
			result.MatchedProbes++
		}
	}

	result.Score = models.CalculateScore(result.ProbeResults, e.scoring.MaxScore)
	result.Classification = models.Classify(result.Score, e.thresholds())
	completed := e.now()
	result.VerificationStarted = started.UTC().Format(time.RFC3339)
	result.VerificationCompleted = completed.UTC().Format(time.RFC3339)
	result.DurationMs = float64(completed.Sub(started).Milliseconds())
	return result
}

// attachCertificates harvests TLS metadata for verified and likely hosts.
// Port 80 targets are tried on 443; other ports are tried as-is.
func (e *Engine) attachCertificates(ctx context.Context, results []models.VerificationResult) {
	var targets []tlsharvest.Target
	indexesByKey := map[string][]int{}
	for i, r := range results {
		if r.Classification != models.ClassVerified && r.Classification != models.ClassLikely {
			continue
		}
		port := r.Port
		if port == 80 || port == 443 {
			port = 443
		}
		key := net.JoinHostPort(r.IP, strconv.Itoa(port))
		if _, seen := indexesByKey[key]; !seen {
			targets = append(targets, tlsharvest.Target{IP: r.IP, Port: port})
		}
		indexesByKey[key] = append(indexesByKey[key], i)
	}
	if len(targets) == 0 {
		return
	}

	log.Info().Int("endpoints", len(targets)).Msg("Fetching TLS certificates")
	certs := e.harvester.BulkFetch(ctx, targets, e.cfg.Workers)
	for key, cert := range certs {
		for _, i := range indexesByKey[key] {
			results[i].TLSCertificate = cert
		}
	}
}

func probeOutcome(r models.ProbeResult) string {
	switch {
	case r.Error != "":
		return "error"
	case r.Matched:
		return "matched"
	default:
		return "unmatched"
	}
}

func schemeForPort(port int) string {
	if port == 443 || port == 8443 {
		return "https"
	}
	return "http"
}

func alternateScheme(scheme string) string {
	if scheme == "http" {
		return "https"
	}
	return "http"
}
