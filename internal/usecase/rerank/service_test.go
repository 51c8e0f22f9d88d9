package rerank

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kailas-cloud/ragstream/internal/domain"
	"github.com/kailas-cloud/ragstream/internal/domain/candidate"
)

// --- Mocks ---

type mockScorer struct {
	scores []candidate.Score
	err    error
	block  bool
	docs   []string
	userID string
}

func (m *mockScorer) Score(ctx context.Context, _, userID string, docs []string) ([]candidate.Score, error) {
	m.docs = docs
	m.userID = userID
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.scores, m.err
}

func retrieved(ids ...string) []candidate.Candidate {
	out := make([]candidate.Candidate, len(ids))
	for i, id := range ids {
		out[i] = candidate.New(id, "doc "+id, float64(len(ids)-i), nil).WithRank(i)
	}
	return out
}

func ids(rs []candidate.Ranked) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID()
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- Tests ---

func TestRerank_SortsByScore(t *testing.T) {
	scorer := &mockScorer{scores: []candidate.Score{
		{Index: 0, Value: 0.1},
		{Index: 1, Value: 0.8},
		{Index: 2, Value: 0.5},
		{Index: 3, Value: 0.9},
	}}
	got, err := New(scorer, time.Second).Rerank(context.Background(), "q", "", retrieved("a", "b", "c", "d"), 3)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if want := []string{"d", "b", "c"}; !equal(ids(got), want) {
		t.Errorf("got %v, want %v", ids(got), want)
	}
	if got[0].RerankScore() != 0.9 || got[0].OriginRank() != 3 {
		t.Errorf("first = %v rank %d", got[0].RerankScore(), got[0].OriginRank())
	}
	if len(scorer.docs) != 4 || scorer.docs[0] != "doc a" {
		t.Errorf("scorer got docs %v", scorer.docs)
	}
}

func TestRerank_TiesKeepRetrievalOrder(t *testing.T) {
	scorer := &mockScorer{scores: []candidate.Score{
		{Index: 2, Value: 0.5},
		{Index: 0, Value: 0.5},
		{Index: 1, Value: 0.5},
	}}
	got, err := New(scorer, 0).Rerank(context.Background(), "q", "", retrieved("a", "b", "c"), 5)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"a", "b", "c"}; !equal(ids(got), want) {
		t.Errorf("got %v, want %v", ids(got), want)
	}
}

func TestRerank_MissingScoresSortLast(t *testing.T) {
	scorer := &mockScorer{scores: []candidate.Score{{Index: 2, Value: 0.3}, {Index: 9, Value: 1}}}
	got, err := New(scorer, 0).Rerank(context.Background(), "q", "", retrieved("a", "b", "c"), 3)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"c", "a", "b"}; !equal(ids(got), want) {
		t.Errorf("got %v, want %v", ids(got), want)
	}
	if !math.IsInf(got[2].RerankScore(), -1) {
		t.Errorf("unscored candidate score = %v", got[2].RerankScore())
	}
}

func TestRerank_OutputSizeAndMonotonic(t *testing.T) {
	scorer := &mockScorer{scores: []candidate.Score{{Index: 0, Value: 2}, {Index: 1, Value: 3}}}
	for _, topK := range []int{0, 1, 2, 10} {
		got, err := New(scorer, 0).Rerank(context.Background(), "q", "", retrieved("a", "b"), topK)
		if err != nil {
			t.Fatal(err)
		}
		want := 2
		if topK == 1 {
			want = 1
		}
		if len(got) != want {
			t.Errorf("topK=%d: len = %d, want %d", topK, len(got), want)
		}
		for i := 1; i < len(got); i++ {
			if got[i].RerankScore() > got[i-1].RerankScore() {
				t.Errorf("topK=%d: scores not non-increasing", topK)
			}
		}
	}
}

func TestRerank_Empty(t *testing.T) {
	scorer := &mockScorer{}
	got, err := New(scorer, 0).Rerank(context.Background(), "q", "", nil, 5)
	if err != nil || got != nil {
		t.Fatalf("got %v, %v", got, err)
	}
	if scorer.docs != nil {
		t.Error("scorer must not be called for empty input")
	}
}

func TestRerank_Error(t *testing.T) {
	_, err := New(&mockScorer{err: errors.New("503")}, 0).Rerank(context.Background(), "q", "", retrieved("a"), 1)
	if !errors.Is(err, domain.ErrUpstreamUnavailable) || domain.StageOf(err) != "rerank" {
		t.Fatalf("got %v", err)
	}
}

func TestRerank_Timeout(t *testing.T) {
	_, err := New(&mockScorer{block: true}, 10*time.Millisecond).
		Rerank(context.Background(), "q", "", retrieved("a"), 1)
	if !errors.Is(err, domain.ErrUpstreamTimeout) {
		t.Fatalf("expected ErrUpstreamTimeout, got %v", err)
	}
}

func TestRerank_DisabledUsesFallback(t *testing.T) {
	svc := New(nil, 0)
	if svc.Enabled() {
		t.Fatal("expected disabled")
	}
	got, err := svc.Rerank(context.Background(), "q", "", retrieved("a", "b", "c"), 2)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"a", "b"}; !equal(ids(got), want) {
		t.Errorf("got %v, want %v", ids(got), want)
	}
}

func TestFallback(t *testing.T) {
	got := Fallback(retrieved("a", "b", "c", "d"), 3)
	if want := []string{"a", "b", "c"}; !equal(ids(got), want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}
	for _, r := range got {
		if r.RerankScore() != r.Score() {
			t.Errorf("%s: rerank score %v != retrieval score %v", r.ID(), r.RerankScore(), r.Score())
		}
	}
}

func TestRerank_ForwardsUserID(t *testing.T) {
	scorer := &mockScorer{scores: []candidate.Score{{Index: 0, Value: 1}}}
	if _, err := New(scorer, 0).Rerank(context.Background(), "q", "user-7", retrieved("a"), 1); err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if scorer.userID != "user-7" {
		t.Errorf("scorer got user %q", scorer.userID)
	}
}
