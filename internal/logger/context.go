package logger

import (
	"context"

	"go.uber.org/zap"
)

// TraceIDKey is the field name every request-scoped line carries.
const TraceIDKey = "trace_id"

type ctxKey struct{}

// ContextWithLogger stores a logger in the context.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContextOr returns the context logger, or def when none is set.
func FromContextOr(ctx context.Context, def *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return def
}

// FromContext returns the context logger or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return FromContextOr(ctx, zap.NewNop())
}

// With returns a context whose logger carries the extra fields.
func With(ctx context.Context, fields ...zap.Field) context.Context {
	return ContextWithLogger(ctx, FromContext(ctx).With(fields...))
}

// WithTrace derives a trace-scoped logger from ctx (or def) and stores it
// back, so stages reached through the returned context log the trace id.
func WithTrace(ctx context.Context, def *zap.Logger, traceID string) (context.Context, *zap.Logger) {
	l := FromContextOr(ctx, def).With(zap.String(TraceIDKey, traceID))
	return ContextWithLogger(ctx, l), l
}
