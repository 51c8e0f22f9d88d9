package rewrite

import (
	"context"

	"github.com/kailas-cloud/ragstream/internal/domain"
)

// Backend produces a retrieval-oriented rewrite of a query.
type Backend interface {
	Rewrite(ctx context.Context, query string) (string, error)
}

// Cache stores rewrites keyed by normalized query text.
type Cache interface {
	Get(ctx context.Context, normalized string) (domain.CachedRewrite, bool, error)
	Put(ctx context.Context, normalized string, e domain.CachedRewrite) error
}
