package guard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/ragstream/internal/domain"
)

// Service is the Safety Gate facade.
type Service struct {
	gate    Gate
	timeout time.Duration
}

// New creates a Service. timeout <= 0 leaves only the caller's deadline.
func New(gate Gate, timeout time.Duration) *Service {
	return &Service{gate: gate, timeout: timeout}
}

// Check runs the gate under the guard timeout and normalises its verdict.
// A modify verdict without usable sanitized text becomes allow.
func (s *Service) Check(ctx context.Context, text string) (domain.Verdict, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	v, err := s.gate.Check(ctx, text)
	if err != nil {
		return domain.Verdict{}, domain.UpstreamError("guard", err)
	}

	switch v.Decision {
	case domain.Allow, domain.Block:
		v.Sanitized = ""
	case domain.Modify:
		if strings.TrimSpace(v.Sanitized) == "" {
			v = domain.Verdict{Decision: domain.Allow, Reason: v.Reason}
		}
	default:
		return domain.Verdict{}, domain.UpstreamError("guard",
			fmt.Errorf("unknown decision %q: %w", v.Decision, domain.ErrUpstreamUnavailable))
	}
	return v, nil
}
