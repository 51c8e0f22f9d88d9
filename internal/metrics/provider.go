package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Model provider operations.
const (
	OpEmbed    = "embed"
	OpGenerate = "generate"
	OpRewrite  = "rewrite"
)

// Model provider Prometheus metrics, labelled by provider, model and operation.
var (
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragstream",
			Name:      "provider_requests_total",
			Help:      "Model provider calls by operation and status",
		},
		[]string{"provider", "model", "operation", "status"},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragstream",
			Name:      "provider_request_duration_seconds",
			Help:      "Model provider call latency; for streamed generation, time until the stream opened",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "model", "operation"},
	)

	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragstream",
			Name:      "provider_tokens_total",
			Help:      "Tokens reported by the provider",
		},
		[]string{"provider", "model", "operation", "type"}, // "prompt" / "completion"
	)

	ProviderErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragstream",
			Name:      "provider_errors_total",
			Help:      "Model provider failures by kind",
		},
		[]string{"provider", "model", "operation", "error_type"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragstream",
			Name:      "embedding_cache_total",
			Help:      "Query embedding cache lookups",
		},
		[]string{"result"}, // "hit" / "miss"
	)
)

var registerProviderOnce sync.Once

// RegisterProviderMetrics registers model provider metrics. Safe to call more than once.
func RegisterProviderMetrics() {
	registerProviderOnce.Do(func() {
		prometheus.MustRegister(
			ProviderRequestsTotal,
			ProviderRequestDuration,
			ProviderTokensTotal,
			ProviderErrorsTotal,
			EmbeddingCacheTotal,
		)
	})
}

// ProviderCall records one provider call. Create with StartProviderCall and
// finish with exactly one of Done or Fail.
type ProviderCall struct {
	provider, model, op string
	start               time.Time
}

// StartProviderCall starts timing a call.
func StartProviderCall(provider, model, op string) ProviderCall {
	return ProviderCall{provider: provider, model: model, op: op, start: time.Now()}
}

// Done records a successful call.
func (c ProviderCall) Done() {
	ProviderRequestsTotal.WithLabelValues(c.provider, c.model, c.op, "success").Inc()
	ProviderRequestDuration.WithLabelValues(c.provider, c.model, c.op).Observe(time.Since(c.start).Seconds())
}

// Fail records a failed call. errType is a short kind such as "api_error".
func (c ProviderCall) Fail(errType string) {
	ProviderRequestsTotal.WithLabelValues(c.provider, c.model, c.op, "error").Inc()
	ProviderErrorsTotal.WithLabelValues(c.provider, c.model, c.op, errType).Inc()
}

// Tokens adds provider-reported usage. Zero counts are skipped.
func (c ProviderCall) Tokens(prompt, completion int) {
	if prompt > 0 {
		ProviderTokensTotal.WithLabelValues(c.provider, c.model, c.op, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		ProviderTokensTotal.WithLabelValues(c.provider, c.model, c.op, "completion").Add(float64(completion))
	}
}
