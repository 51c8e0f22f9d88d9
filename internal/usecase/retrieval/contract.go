package retrieval

import (
	"context"

	"github.com/kailas-cloud/ragstream/internal/domain/candidate"
)

// Backend runs one search against the document index.
type Backend interface {
	Search(ctx context.Context, query string, topK int) ([]candidate.Candidate, error)
}
