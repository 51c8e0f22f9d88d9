package rewrite

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/ragstream/internal/domain"
	"github.com/kailas-cloud/ragstream/internal/logger"
)

// Config controls rewrite timeouts and cache freshness.
type Config struct {
	Enabled           bool
	Timeout           time.Duration
	FreshTTL          time.Duration
	RevalidateTimeout time.Duration
}

// Service is the Query Rewriter: a read-through, stale-while-revalidate
// cache in front of a rewrite backend.
type Service struct {
	backend    Backend
	cache      Cache
	cfg        Config
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger

	group        singleflight.Group
	revalidating sync.Map
	wg           sync.WaitGroup
	now          func() time.Time
}

// New creates a Service. cache can be nil.
// cacheTotal is a counter vec with label "result" ("hit"/"stale"/"miss").
func New(backend Backend, cache Cache, cfg Config, cacheTotal *prometheus.CounterVec, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		backend:    backend,
		cache:      cache,
		cfg:        cfg,
		cacheTotal: cacheTotal,
		logger:     log,
		now:        time.Now,
	}
}

// Normalize lower-cases text and collapses whitespace runs to one space.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Rewrite returns the rewritten query. On failure it returns the original
// text together with the error so callers can continue degraded.
func (s *Service) Rewrite(ctx context.Context, text string) (string, error) {
	if !s.cfg.Enabled || s.backend == nil {
		return text, nil
	}
	key := Normalize(text)
	if key == "" {
		return text, nil
	}

	if cached, ok := s.lookup(ctx, key); ok {
		if s.now().Sub(cached.StoredAt) < s.cfg.FreshTTL {
			s.incCache("hit")
			return cached.Text, nil
		}
		s.incCache("stale")
		s.revalidate(ctx, key, text)
		return cached.Text, nil
	}
	s.incCache("miss")

	ch := s.group.DoChan(key, func() (any, error) {
		s.wg.Add(1)
		defer s.wg.Done()
		callCtx, cancel := s.detached(ctx)
		defer cancel()
		return s.fetch(callCtx, key, text)
	})
	select {
	case <-ctx.Done():
		return text, domain.UpstreamError("rewrite", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return text, domain.UpstreamError("rewrite", r.Err)
		}
		return r.Val.(string), nil
	}
}

// detached returns a context for a fetch shared by several requests: it
// keeps ctx's values but not its cancellation, and is bounded by the rewrite
// timeout (or by ctx's deadline when no timeout is configured).
func (s *Service) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	bg := context.WithoutCancel(ctx)
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(bg, s.cfg.Timeout)
	}
	if dl, ok := ctx.Deadline(); ok {
		return context.WithDeadline(bg, dl)
	}
	return context.WithCancel(bg)
}

// Wait blocks until in-flight fetches and background revalidations finish.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) lookup(ctx context.Context, key string) (domain.CachedRewrite, bool) {
	if s.cache == nil {
		return domain.CachedRewrite{}, false
	}
	e, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log(ctx).Warn("Rewrite cache read failed", zap.String("stage", "rewrite"), zap.Error(err))
		return domain.CachedRewrite{}, false
	}
	return e, ok
}

func (s *Service) fetch(ctx context.Context, key, text string) (string, error) {
	out, err := s.backend.Rewrite(ctx, text)
	if err != nil {
		return "", err
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, key, domain.CachedRewrite{Text: out, StoredAt: s.now()}); err != nil {
			s.log(ctx).Warn("Rewrite cache write failed", zap.String("stage", "rewrite"), zap.Error(err))
		}
	}
	return out, nil
}

// revalidate refreshes a stale entry in the background. At most one refresh
// per key runs at a time; failure keeps the existing entry.
func (s *Service) revalidate(ctx context.Context, key, text string) {
	if _, running := s.revalidating.LoadOrStore(key, struct{}{}); running {
		return
	}
	bg := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.revalidating.Delete(key)

		if s.cfg.RevalidateTimeout > 0 {
			var cancel context.CancelFunc
			bg, cancel = context.WithTimeout(bg, s.cfg.RevalidateTimeout)
			defer cancel()
		}
		if _, err, _ := s.group.Do(key, func() (any, error) {
			return s.fetch(bg, key, text)
		}); err != nil {
			s.log(bg).Warn("Rewrite revalidation failed, keeping stale entry",
				zap.String("stage", "rewrite"), zap.Error(err))
		}
	}()
}

func (s *Service) log(ctx context.Context) *zap.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

func (s *Service) incCache(result string) {
	if s.cacheTotal != nil {
		s.cacheTotal.WithLabelValues(result).Inc()
	}
}
