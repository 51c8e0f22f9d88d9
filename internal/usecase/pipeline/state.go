package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kailas-cloud/ragstream/internal/domain"
)

// Stage names, in transition order.
const (
	StageInit           = "init"
	StageGuardTransform = "guard_transform"
	StageRetrieve       = "retrieve"
	StageRerank         = "rerank"
	StageGenerate       = "generate"
	StageFilterStream   = "filter_stream"
)

// State is the per-request context: deadline, cancellation flag, trace id
// and stage timings. It lives for one request and is never shared.
type State struct {
	TraceID  string
	Deadline time.Time

	cancelled atomic.Bool

	mu      sync.Mutex
	stage   string
	timings map[string]time.Duration
}

func newState(traceID string, deadline time.Time) *State {
	return &State{
		TraceID:  traceID,
		Deadline: deadline,
		stage:    StageInit,
		timings:  make(map[string]time.Duration),
	}
}

// enter moves to stage unless the request has been cancelled.
func (s *State) enter(stage string) error {
	if s.cancelled.Load() {
		return fmt.Errorf("enter %s: %w", stage, domain.ErrCancelled)
	}
	s.mu.Lock()
	s.stage = stage
	s.mu.Unlock()
	return nil
}

func (s *State) cancel() { s.cancelled.Store(true) }

func (s *State) record(stage string, d time.Duration) {
	s.mu.Lock()
	s.timings[stage] += d
	s.mu.Unlock()
}

// Cancelled reports whether the caller went away or the deadline passed.
func (s *State) Cancelled() bool { return s.cancelled.Load() }

// Stage returns the current stage.
func (s *State) Stage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Timings returns a copy of the per-stage durations.
func (s *State) Timings() map[string]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Duration, len(s.timings))
	for k, v := range s.timings {
		out[k] = v
	}
	return out
}
