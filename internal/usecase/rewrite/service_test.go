package rewrite

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/ragstream/internal/domain"
)

// --- Mocks ---

type mockBackend struct {
	calls   atomic.Int32
	out     string
	err     error
	release chan struct{} // when set, Rewrite waits for it
}

func (m *mockBackend) Rewrite(ctx context.Context, query string) (string, error) {
	m.calls.Add(1)
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.err != nil {
		return "", m.err
	}
	return m.out, nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]domain.CachedRewrite
	getErr  error
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]domain.CachedRewrite)}
}

func (m *memCache) Get(_ context.Context, key string) (domain.CachedRewrite, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.CachedRewrite{}, false, m.getErr
	}
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *memCache) Put(_ context.Context, key string, e domain.CachedRewrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
	return nil
}

func (m *memCache) get(key string) domain.CachedRewrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[key]
}

func newCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "rewrite_cache_test"}, []string{"result"})
}

var testCfg = Config{
	Enabled:           true,
	Timeout:           time.Second,
	FreshTTL:          time.Hour,
	RevalidateTimeout: time.Second,
}

// --- Tests ---

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"  Reset   Password ":       "reset password",
		"RESET\tpassword\n":         "reset password",
		"reset\u00a0\u2003password": "reset password",
		"":                          "",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRewrite_Disabled(t *testing.T) {
	backend := &mockBackend{out: "x"}
	svc := New(backend, newMemCache(), Config{Enabled: false}, nil, nil)

	got, err := svc.Rewrite(context.Background(), "original")
	if err != nil || got != "original" {
		t.Fatalf("got %q, %v", got, err)
	}
	if backend.calls.Load() != 0 {
		t.Error("backend must not be called when disabled")
	}
}

func TestRewrite_MissThenHit(t *testing.T) {
	backend := &mockBackend{out: "hypothetical passage"}
	cache := newMemCache()
	counter := newCounter()
	svc := New(backend, cache, testCfg, counter, nil)

	for _, q := range []string{"Reset password", "  reset   PASSWORD"} {
		got, err := svc.Rewrite(context.Background(), q)
		if err != nil {
			t.Fatalf("Rewrite(%q): %v", q, err)
		}
		if got != "hypothetical passage" {
			t.Errorf("Rewrite(%q) = %q", q, got)
		}
	}

	if n := backend.calls.Load(); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}
	if v := testutil.ToFloat64(counter.WithLabelValues("miss")); v != 1 {
		t.Errorf("miss = %v, want 1", v)
	}
	if v := testutil.ToFloat64(counter.WithLabelValues("hit")); v != 1 {
		t.Errorf("hit = %v, want 1", v)
	}
	if cache.get("reset password").Text != "hypothetical passage" {
		t.Error("expected entry under the normalized key")
	}
}

func TestRewrite_StaleServesAndRevalidates(t *testing.T) {
	backend := &mockBackend{out: "fresh"}
	cache := newMemCache()
	cache.entries["q"] = domain.CachedRewrite{Text: "old", StoredAt: time.Now().Add(-2 * time.Hour)}
	counter := newCounter()
	svc := New(backend, cache, testCfg, counter, nil)

	got, err := svc.Rewrite(context.Background(), "q")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got != "old" {
		t.Errorf("got %q, want stale value", got)
	}

	svc.Wait()
	if backend.calls.Load() != 1 {
		t.Errorf("backend calls = %d, want 1", backend.calls.Load())
	}
	if cache.get("q").Text != "fresh" {
		t.Errorf("entry = %q, want refreshed", cache.get("q").Text)
	}
	if v := testutil.ToFloat64(counter.WithLabelValues("stale")); v != 1 {
		t.Errorf("stale = %v, want 1", v)
	}
}

func TestRewrite_RevalidationFailureKeepsEntry(t *testing.T) {
	backend := &mockBackend{err: errors.New("boom")}
	cache := newMemCache()
	stored := time.Now().Add(-2 * time.Hour)
	cache.entries["q"] = domain.CachedRewrite{Text: "old", StoredAt: stored}
	svc := New(backend, cache, testCfg, nil, nil)

	got, err := svc.Rewrite(context.Background(), "q")
	if err != nil || got != "old" {
		t.Fatalf("got %q, %v", got, err)
	}
	svc.Wait()

	if e := cache.get("q"); e.Text != "old" || !e.StoredAt.Equal(stored) {
		t.Errorf("entry changed: %+v", e)
	}
}

func TestRewrite_BackendFailureFallsBack(t *testing.T) {
	svc := New(&mockBackend{err: errors.New("conn refused")}, newMemCache(), testCfg, nil, nil)

	got, err := svc.Rewrite(context.Background(), "Original Query")
	if got != "Original Query" {
		t.Errorf("got %q, want original text", got)
	}
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if domain.StageOf(err) != "rewrite" {
		t.Errorf("stage = %q", domain.StageOf(err))
	}
}

func TestRewrite_CacheReadErrorIsMiss(t *testing.T) {
	cache := newMemCache()
	cache.getErr = errors.New("redis down")
	backend := &mockBackend{out: "passage"}

	got, err := New(backend, cache, testCfg, nil, nil).Rewrite(context.Background(), "q")
	if err != nil || got != "passage" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestRewrite_Timeout(t *testing.T) {
	backend := &mockBackend{out: "x", release: make(chan struct{})}
	cfg := testCfg
	cfg.Timeout = 20 * time.Millisecond

	got, err := New(backend, nil, cfg, nil, nil).Rewrite(context.Background(), "q")
	if got != "q" || !errors.Is(err, domain.ErrUpstreamTimeout) {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestRewrite_ConcurrentMissesCoalesce(t *testing.T) {
	backend := &mockBackend{out: "passage", release: make(chan struct{})}
	svc := New(backend, newMemCache(), testCfg, nil, nil)

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = svc.Rewrite(context.Background(), "Same  Query")
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(backend.release)
	wg.Wait()

	if c := backend.calls.Load(); c != 1 {
		t.Errorf("backend calls = %d, want 1", c)
	}
	for i, r := range results {
		if r != "passage" {
			t.Errorf("result[%d] = %q", i, r)
		}
	}
}

func TestRewrite_CancelledCallerDoesNotFailJoinedCaller(t *testing.T) {
	backend := &mockBackend{out: "passage", release: make(chan struct{})}
	cache := newMemCache()
	svc := New(backend, cache, testCfg, nil, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Rewrite(firstCtx, "shoes")
		firstErr <- err
	}()
	waitCalls(t, backend, 1)

	type result struct {
		out string
		err error
	}
	second := make(chan result, 1)
	go func() {
		out, err := svc.Rewrite(context.Background(), "Shoes")
		second <- result{out, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("first caller: expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting on the shared fetch")
	}

	close(backend.release)
	r := <-second
	if r.err != nil || r.out != "passage" {
		t.Fatalf("joined caller got %q, %v", r.out, r.err)
	}
	if c := backend.calls.Load(); c != 1 {
		t.Errorf("backend calls = %d, want 1", c)
	}
	svc.Wait()
	if cache.get("shoes").Text != "passage" {
		t.Error("shared fetch must still populate the cache")
	}
}

func TestRewrite_CancelledCallerStopsWaiting(t *testing.T) {
	backend := &mockBackend{out: "passage", release: make(chan struct{})}
	defer close(backend.release)
	svc := New(backend, nil, testCfg, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	got, err := svc.Rewrite(ctx, "q")
	if got != "q" || !errors.Is(err, domain.ErrUpstreamTimeout) {
		t.Fatalf("got %q, %v", got, err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("caller waited %v for the shared fetch", elapsed)
	}
}

func waitCalls(t *testing.T, b *mockBackend, n int32) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for b.calls.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("backend calls = %d, want %d", b.calls.Load(), n)
		}
		time.Sleep(time.Millisecond)
	}
}
