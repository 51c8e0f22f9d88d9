package rerank

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/kailas-cloud/ragstream/internal/domain"
	"github.com/kailas-cloud/ragstream/internal/domain/candidate"
)

// Service is the Rerank Facade.
type Service struct {
	scorer  Scorer
	timeout time.Duration
}

// New creates a Service. A nil scorer disables reranking: Rerank then
// returns the retrieval order.
func New(scorer Scorer, timeout time.Duration) *Service {
	return &Service{scorer: scorer, timeout: timeout}
}

// Enabled reports whether a rerank backend is configured.
func (s *Service) Enabled() bool { return s.scorer != nil }

// Rerank scores cands against query and returns the best min(topK, len(cands)),
// ordered by rerank score descending with ties broken by retrieval rank.
// Candidates the backend does not score sort last.
func (s *Service) Rerank(
	ctx context.Context, query, userID string, cands []candidate.Candidate, topK int,
) ([]candidate.Ranked, error) {
	if len(cands) == 0 {
		return nil, nil
	}
	if s.scorer == nil {
		return Fallback(cands, topK), nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	docs := make([]string, len(cands))
	for i, c := range cands {
		docs[i] = c.Text()
	}
	scores, err := s.scorer.Score(ctx, query, userID, docs)
	if err != nil {
		return nil, domain.UpstreamError("rerank", err)
	}

	values := make([]float64, len(cands))
	for i := range values {
		values[i] = math.Inf(-1)
	}
	for _, sc := range scores {
		if sc.Index >= 0 && sc.Index < len(values) && !math.IsNaN(sc.Value) {
			values[sc.Index] = sc.Value
		}
	}

	ranked := make([]candidate.Ranked, len(cands))
	origin := make([]int, len(cands))
	for i, c := range cands {
		ranked[i] = candidate.NewRanked(c, values[i])
		origin[i] = c.Rank()
		if origin[i] < 0 {
			origin[i] = i
		}
	}
	idx := make([]int, len(cands))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if values[ia] != values[ib] {
			return values[ia] > values[ib]
		}
		return origin[ia] < origin[ib]
	})

	n := limit(topK, len(cands))
	out := make([]candidate.Ranked, n)
	for i := range out {
		out[i] = ranked[idx[i]]
	}
	return out, nil
}

// Fallback keeps retrieval order, truncated to topK, using the retrieval
// score as the rerank score.
func Fallback(cands []candidate.Candidate, topK int) []candidate.Ranked {
	n := limit(topK, len(cands))
	out := make([]candidate.Ranked, n)
	for i := range out {
		out[i] = candidate.NewRanked(cands[i], cands[i].Score())
	}
	return out
}

// Fallback implements the degraded path; see the package-level Fallback.
func (s *Service) Fallback(cands []candidate.Candidate, topK int) []candidate.Ranked {
	return Fallback(cands, topK)
}

func limit(topK, n int) int {
	if topK <= 0 || topK > n {
		return n
	}
	return topK
}
