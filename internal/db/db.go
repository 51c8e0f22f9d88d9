// Package db defines the storage contracts behind the pipeline: a
// key-value cache (redis or badger) and a document index (redis FT.SEARCH
// or qdrant). Drivers live in subpackages.
package db

import (
	"context"
	"time"
)

// Pinger checks connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore holds cache entries. Entries expire after their ttl; a missing or
// expired key reads as ErrKeyNotFound.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// VectorSearcher runs nearest-neighbour search over document embeddings.
type VectorSearcher interface {
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
}

// TextSearcher runs BM25 full-text search over document content.
type TextSearcher interface {
	SearchBM25(ctx context.Context, q *TextQuery) (*SearchResult, error)
}

// CacheStore backs the rewrite and embedding caches.
type CacheStore interface {
	Pinger
	KVStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// SearchStore is a vector-only document index.
type SearchStore interface {
	Pinger
	VectorSearcher
	Close()
}

// Store serves both roles from one connection and supports both search kinds.
type Store interface {
	CacheStore
	VectorSearcher
	TextSearcher
}
