package ragstream

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation statuses used as metric labels.
const (
	statusOK          = "ok"
	statusInterrupted = "interrupted"
	statusRejected    = "rejected"
	statusError       = "error"
)

type sdkMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	firstChunk prometheus.Histogram
	chunks     prometheus.Counter
}

func newSDKMetrics(reg prometheus.Registerer) (*sdkMetrics, error) {
	m := &sdkMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragstream",
			Subsystem: "sdk",
			Name:      "operations_total",
			Help:      "SDK operations by type and status (ok, interrupted, rejected, error).",
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragstream",
			Subsystem: "sdk",
			Name:      "operation_duration_seconds",
			Help:      "SDK operation duration in seconds, until the stream is drained.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),
		firstChunk: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragstream",
			Subsystem: "sdk",
			Name:      "time_to_first_chunk_seconds",
			Help:      "Time from sending a search until the first answer chunk arrives.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ragstream",
			Subsystem: "sdk",
			Name:      "stream_chunks_total",
			Help:      "Answer chunks delivered to Search callbacks.",
		}),
	}
	if err := registerOrReuse(reg, &m.operations); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.duration); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.firstChunk); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.chunks); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse lets several clients share one registry.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	err := reg.Register(*c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return fmt.Errorf("ragstream: register metric: %w", err)
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return fmt.Errorf("ragstream: metric already registered as %T", are.ExistingCollector)
	}
	*c = existing
	return nil
}

// observer logs and counts SDK operations. A nil observer, logger or
// metrics set is valid and records nothing.
type observer struct {
	logger  *slog.Logger
	metrics *sdkMetrics
}

func newObserver(logger *slog.Logger, reg prometheus.Registerer) (*observer, error) {
	o := &observer{logger: logger}
	if reg != nil {
		m, err := newSDKMetrics(reg)
		if err != nil {
			return nil, err
		}
		o.metrics = m
	}
	return o, nil
}

func (o *observer) chunk() {
	if o != nil && o.metrics != nil {
		o.metrics.chunks.Inc()
	}
}

func (o *observer) firstChunk(start time.Time) {
	if o != nil && o.metrics != nil {
		o.metrics.firstChunk.Observe(time.Since(start).Seconds())
	}
}

func statusOf(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, ErrStreamInterrupted):
		return statusInterrupted
	case errors.As(err, &apiErr) && apiErr.Status < 500:
		return statusRejected
	default:
		return statusError
	}
}

func (o *observer) observe(op string, start time.Time, err error) {
	if o == nil {
		return
	}
	dur := time.Since(start)
	status := statusOf(err)

	if o.metrics != nil {
		o.metrics.operations.WithLabelValues(op, status).Inc()
		o.metrics.duration.WithLabelValues(op).Observe(dur.Seconds())
	}

	if o.logger == nil {
		return
	}
	if err != nil {
		o.logger.Warn("ragstream operation failed", "op", op, "status", status, "duration", dur, "error", err)
		return
	}
	o.logger.Debug("ragstream operation completed", "op", op, "duration", dur)
}
