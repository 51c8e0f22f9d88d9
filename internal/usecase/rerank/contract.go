package rerank

import (
	"context"

	"github.com/kailas-cloud/ragstream/internal/domain/candidate"
)

// Scorer assigns relevance scores to documents for a query on behalf of a
// user (empty when anonymous).
type Scorer interface {
	Score(ctx context.Context, query, userID string, docs []string) ([]candidate.Score, error)
}
