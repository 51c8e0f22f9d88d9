package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation signals an empty or malformed query.
	ErrValidation = errors.New("invalid query")
	// ErrGuardrailRejected signals a query blocked by the safety gate.
	ErrGuardrailRejected = errors.New("query rejected by guardrail")
	// ErrUpstreamTimeout signals a remote call that ran out of time.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUpstreamUnavailable signals a remote call that failed after retries.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrCancelled signals a request abandoned by the caller or its deadline.
	ErrCancelled = errors.New("request cancelled")
	// ErrInternal signals an unexpected fault.
	ErrInternal = errors.New("internal error")
)

// StageError attributes a failure to a pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// UpstreamError classifies a remote call failure as timeout or unavailable.
// A cancelled parent context is reported as ErrCancelled.
func UpstreamError(stage string, err error) error {
	if err == nil {
		return nil
	}
	var sentinel error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled):
		sentinel = ErrCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrUpstreamTimeout):
		sentinel = ErrUpstreamTimeout
	default:
		sentinel = ErrUpstreamUnavailable
	}
	return &StageError{Stage: stage, Err: fmt.Errorf("%w: %w", sentinel, err)}
}

// StageOf returns the stage recorded on err, or "" if none.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
