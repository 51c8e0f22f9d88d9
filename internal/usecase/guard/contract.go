package guard

import (
	"context"

	"github.com/kailas-cloud/ragstream/internal/domain"
)

// Gate returns a safety verdict for query text.
type Gate interface {
	Check(ctx context.Context, text string) (domain.Verdict, error)
}
