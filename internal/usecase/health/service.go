package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the aggregated readiness of the service.
type Status string

const (
	// Healthy means every dependency answered.
	Healthy Status = "ok"
	// Degraded means only optional dependencies failed; requests are still served.
	Degraded Status = "degraded"
	// Unhealthy means a dependency the pipeline cannot run without failed.
	Unhealthy Status = "error"
)

// CheckResult is the outcome of one dependency probe.
type CheckResult string

const (
	CheckOK    CheckResult = "ok"
	CheckError CheckResult = "error"
)

// Report aggregates probe results by component name.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// DefaultCheckTimeout bounds each probe.
const DefaultCheckTimeout = 2 * time.Second

type component struct {
	name     string
	critical bool
	probe    func(ctx context.Context) error
}

// Service probes pipeline dependencies concurrently.
type Service struct {
	components []component
	timeout    time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithCheckTimeout overrides DefaultCheckTimeout.
func WithCheckTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a Service. The cache is optional for serving (the pipeline
// treats cache errors as misses); search, generation and embedding are not.
// search, generation and embedding can be nil and are then skipped.
func New(cache, search StorePinger, generation, embedding ProviderChecker, opts ...Option) *Service {
	s := &Service{timeout: DefaultCheckTimeout}
	for _, o := range opts {
		o(s)
	}
	if cache != nil {
		s.components = append(s.components, component{name: "cache", probe: cache.Ping})
	}
	if search != nil {
		s.components = append(s.components, component{name: "search", critical: true, probe: search.Ping})
	}
	if generation != nil {
		s.components = append(s.components, component{name: "generation", critical: true, probe: generation.HealthCheck})
	}
	if embedding != nil {
		s.components = append(s.components, component{name: "embedding", critical: true, probe: embedding.HealthCheck})
	}
	return s
}

// Check probes every component in parallel, each under its own timeout.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult, len(s.components))
	var mu sync.Mutex
	failedCritical, failed := false, 0

	var g errgroup.Group
	for _, c := range s.components {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			res := result(c.probe(pctx))

			mu.Lock()
			defer mu.Unlock()
			checks[c.name] = res
			if res == CheckError {
				failed++
				failedCritical = failedCritical || c.critical
			}
			return nil
		})
	}
	_ = g.Wait()

	status := Healthy
	switch {
	case failedCritical || (failed > 0 && failed == len(checks)):
		status = Unhealthy
	case failed > 0:
		status = Degraded
	}
	return Report{Status: status, Checks: checks}
}

func result(err error) CheckResult {
	if err != nil {
		return CheckError
	}
	return CheckOK
}
