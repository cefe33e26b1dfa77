// Package metrics exposes Prometheus counters for the discovery and
// verification pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Discovery metrics
	QueriesExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigint_queries_executed_total",
			Help: "Discovery queries executed by plugin and outcome",
		},
		[]string{"plugin", "outcome"},
	)

	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sigint_cache_hits_total",
			Help: "Discovery queries answered from the query cache",
		},
	)

	CandidatesDiscoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigint_candidates_discovered_total",
			Help: "Candidate hosts returned by discovery sources",
		},
		[]string{"plugin"},
	)

	// Verification metrics
	ProbesExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigint_probes_executed_total",
			Help: "Probes executed by check type and result",
		},
		[]string{"check_type", "result"},
	)

	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigint_verifications_total",
			Help: "Completed verifications by classification",
		},
		[]string{"classification"},
	)

	VerificationDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sigint_verification_duration_seconds",
			Help:    "Wall time to verify one candidate",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)
