package rewritecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/ragstream/internal/db"
	"github.com/kailas-cloud/ragstream/internal/domain"
)

// store is the consumer interface for rewrite entries (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Repo stores rewrites keyed by a normalized query.
type Repo struct {
	store  store
	prefix string
	ttl    time.Duration
}

// New creates a rewrite cache repository. ttl is the hard expiry of an entry.
func New(s store, keyPrefix string, ttl time.Duration) *Repo {
	return &Repo{store: s, prefix: keyPrefix, ttl: ttl}
}

// Key returns the store key for a normalized query.
func (r *Repo) Key(normalized string) string {
	h := sha256.Sum256([]byte(normalized))
	return r.prefix + "rewrite:" + hex.EncodeToString(h[:])
}

// Get returns the entry for a normalized query; ok is false when absent.
func (r *Repo) Get(ctx context.Context, normalized string) (domain.CachedRewrite, bool, error) {
	data, err := r.store.Get(ctx, r.Key(normalized))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.CachedRewrite{}, false, nil
		}
		return domain.CachedRewrite{}, false, fmt.Errorf("get rewrite: %w", err)
	}
	e, err := decodeEntry(data)
	if err != nil {
		return domain.CachedRewrite{}, false, fmt.Errorf("decode rewrite: %w", err)
	}
	return e, true, nil
}

// Put stores an entry for a normalized query.
func (r *Repo) Put(ctx context.Context, normalized string, e domain.CachedRewrite) error {
	data, err := encodeEntry(e)
	if err != nil {
		return err
	}
	if err := r.store.SetWithTTL(ctx, r.Key(normalized), data, r.ttl); err != nil {
		return fmt.Errorf("put rewrite: %w", err)
	}
	return nil
}
