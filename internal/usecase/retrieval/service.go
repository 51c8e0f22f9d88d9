package retrieval

import (
	"context"
	"errors"
	"io"
	"net"
	"sort"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/ragstream/internal/domain"
	"github.com/kailas-cloud/ragstream/internal/domain/candidate"
)

const maxAttempts = 2

// Config controls result size, per-attempt timeout and retry backoff.
type Config struct {
	DefaultTopK  int
	MaxTopK      int
	Timeout      time.Duration
	RetryBackoff time.Duration
}

// Service is the Retrieval Facade.
type Service struct {
	backend Backend
	cfg     Config
	retries prometheus.Counter
}

// New creates a Service. retries can be nil.
func New(backend Backend, cfg Config, retries prometheus.Counter) *Service {
	return &Service{backend: backend, cfg: cfg, retries: retries}
}

// Retrieve returns at most topK unique candidates ordered by score descending,
// with origin ranks assigned. A transient failure is retried once.
func (s *Service) Retrieve(ctx context.Context, query string, topK int) ([]candidate.Candidate, error) {
	topK = s.clamp(topK)

	attempt := 0
	cands, err := retry.DoWithData(
		func() ([]candidate.Candidate, error) {
			if attempt > 0 && s.retries != nil {
				s.retries.Inc()
			}
			attempt++
			return s.search(ctx, query, topK)
		},
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.Delay(s.cfg.RetryBackoff),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(isTransient),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, domain.UpstreamError("retrieve", err)
	}
	return order(cands, topK), nil
}

func (s *Service) search(ctx context.Context, query string, topK int) ([]candidate.Candidate, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	return s.backend.Search(ctx, query, topK)
}

func (s *Service) clamp(topK int) int {
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	if s.cfg.MaxTopK > 0 && topK > s.cfg.MaxTopK {
		topK = s.cfg.MaxTopK
	}
	return topK
}

// order de-duplicates by id keeping the highest score (first occurrence on
// ties), sorts by score descending, truncates and assigns origin ranks.
func order(in []candidate.Candidate, topK int) []candidate.Candidate {
	pos := make(map[string]int, len(in))
	out := make([]candidate.Candidate, 0, len(in))
	for _, c := range in {
		if i, seen := pos[c.ID()]; seen {
			if c.Score() > out[i].Score() {
				out[i] = c
			}
			continue
		}
		pos[c.ID()] = len(out)
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score() > out[j].Score() })

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	for i := range out {
		out[i] = out[i].WithRank(i)
	}
	return out
}

// isTransient reports timeouts and connection-level failures.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
