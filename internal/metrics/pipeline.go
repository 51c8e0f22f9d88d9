package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline Prometheus metrics.
var (
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragstream",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage", "outcome"},
	)

	PipelineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragstream",
			Name:      "pipeline_requests_total",
			Help:      "Pipeline requests by terminal outcome",
		},
		[]string{"outcome"},
	)

	PipelineDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragstream",
			Name:      "pipeline_degraded_total",
			Help:      "Stages that fell back to a degraded path",
		},
		[]string{"stage"},
	)

	RewriteCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragstream",
			Name:      "rewrite_cache_total",
			Help:      "Rewrite cache lookups",
		},
		[]string{"result"}, // "hit" / "stale" / "miss"
	)

	RetrievalRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragstream",
			Name:      "retrieval_retries_total",
			Help:      "Retrieval attempts retried after a transient failure",
		},
	)

	OutputFilterRedactionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragstream",
			Name:      "output_filter_redactions_total",
			Help:      "Phrases redacted from generated output",
		},
	)

	VariantRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragstream",
			Name:      "variant_requests_total",
			Help:      "Requests routed to each generation variant",
		},
		[]string{"variant"},
	)
)

var registerPipelineOnce sync.Once

// RegisterPipelineMetrics registers pipeline metrics. Safe to call more than once.
func RegisterPipelineMetrics() {
	registerPipelineOnce.Do(func() {
		prometheus.MustRegister(
			StageDuration,
			PipelineRequestsTotal,
			PipelineDegradedTotal,
			RewriteCacheTotal,
			RetrievalRetriesTotal,
			OutputFilterRedactionsTotal,
			VariantRequestsTotal,
		)
	})
}
