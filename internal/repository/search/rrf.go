package search

import (
	"sort"

	"github.com/kailas-cloud/ragstream/internal/domain/candidate"
)

// rrfK is the Reciprocal Rank Fusion constant (standard value from Cormack et al. 2009).
const rrfK = 60

// fuseRRF merges KNN and BM25 results via Reciprocal Rank Fusion.
// score(d) = sum of 1/(k + rank_i(d)) for each ranking where d appears.
// When a document appears in both lists, the KNN copy is kept.
func fuseRRF(knn, bm25 []candidate.Candidate, topK int) []candidate.Candidate {
	type scored struct {
		c     candidate.Candidate
		score float64
	}

	merged := make(map[string]*scored, len(knn)+len(bm25))
	for rank, c := range knn {
		if _, dup := merged[c.ID()]; dup {
			continue
		}
		merged[c.ID()] = &scored{c: c, score: 1.0 / float64(rrfK+rank+1)}
	}
	for rank, c := range bm25 {
		s := 1.0 / float64(rrfK+rank+1)
		if existing, ok := merged[c.ID()]; ok {
			existing.score += s
			continue
		}
		merged[c.ID()] = &scored{c: c, score: s}
	}

	results := make([]candidate.Candidate, 0, len(merged))
	for _, s := range merged {
		results = append(results, candidate.New(s.c.ID(), s.c.Text(), s.score, s.c.Metadata()))
	}

	// map iteration is random; id tie-break keeps output deterministic
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score() != results[j].Score() {
			return results[i].Score() > results[j].Score()
		}
		return results[i].ID() < results[j].ID()
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
