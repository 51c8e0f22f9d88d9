// Package observe records pipeline spans. Sinks are fire-and-forget:
// they never return errors and never block the request path.
package observe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Span attribute keys.
const (
	AttrTraceID = "trace_id"
	AttrStage   = "stage"
	AttrOutcome = "outcome"
	AttrVariant = "variant"
)

// Sink receives completed spans.
type Sink interface {
	RecordSpan(name string, start, end time.Time, attrs map[string]string)
}

// Nop discards spans.
type Nop struct{}

// RecordSpan implements Sink.
func (Nop) RecordSpan(string, time.Time, time.Time, map[string]string) {}

// Multi fans a span out to several sinks.
type Multi []Sink

// RecordSpan implements Sink.
func (m Multi) RecordSpan(name string, start, end time.Time, attrs map[string]string) {
	for _, s := range m {
		s.RecordSpan(name, start, end, attrs)
	}
}

// Histogram records span durations into a histogram labelled by stage and outcome.
type Histogram struct {
	vec *prometheus.HistogramVec
}

// NewHistogram wraps a histogram vec with labels "stage" and "outcome".
func NewHistogram(vec *prometheus.HistogramVec) *Histogram {
	return &Histogram{vec: vec}
}

// RecordSpan implements Sink.
func (h *Histogram) RecordSpan(name string, start, end time.Time, attrs map[string]string) {
	outcome := attrs[AttrOutcome]
	if outcome == "" {
		outcome = "ok"
	}
	h.vec.WithLabelValues(name, outcome).Observe(end.Sub(start).Seconds())
}

// Log writes each span as a debug line.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a logging sink.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

// RecordSpan implements Sink.
func (l *Log) RecordSpan(name string, start, end time.Time, attrs map[string]string) {
	if ce := l.logger.Check(zap.DebugLevel, "span"); ce != nil {
		fields := make([]zap.Field, 0, len(attrs)+2)
		fields = append(fields, zap.String("span", name), zap.Duration("duration", end.Sub(start)))
		for k, v := range attrs {
			fields = append(fields, zap.String(k, v))
		}
		ce.Write(fields...)
	}
}
