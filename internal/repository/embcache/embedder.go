package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/ragstream/internal/db"
	"github.com/kailas-cloud/ragstream/internal/domain"
)

type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Config controls key layout and entry lifetime.
type Config struct {
	KeyPrefix string // e.g. "ragstream:"
	Model     string // keyed so a model switch never serves old vectors
	TTL       time.Duration
}

// CachedEmbedder caches query vectors and coalesces concurrent misses
// for the same text into one provider call.
type CachedEmbedder struct {
	inner      domain.Embedder
	store      store
	cfg        Config
	flight     singleflight.Group
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator. cacheTotal (label "result": hit, miss) may be nil.
func New(
	inner domain.Embedder,
	s store,
	cfg Config,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedEmbedder {
	return &CachedEmbedder{
		inner:      inner,
		store:      s,
		cfg:        cfg,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Embed implements domain.Embedder.
// Store failures count as misses and never fail the call.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.QueryEmbedding, error) {
	key := c.cacheKey(text)

	if vec, ok := c.lookup(ctx, key); ok {
		c.count("hit")
		return domain.QueryEmbedding{Vector: vec, Cached: true}, nil
	}
	c.count("miss")

	ch := c.flight.DoChan(key, func() (any, error) {
		return c.embedAndStore(ctx, key, text)
	})
	select {
	case <-ctx.Done():
		return domain.QueryEmbedding{}, fmt.Errorf("embed text: %w", ctx.Err())
	case r := <-ch:
		if r.Err == nil {
			return r.Val.(domain.QueryEmbedding), nil
		}
		// The shared call ran under another request's context.
		if r.Shared && ctx.Err() == nil && isContextErr(r.Err) {
			return c.embedAndStore(ctx, key, text)
		}
		return domain.QueryEmbedding{}, r.Err
	}
}

func (c *CachedEmbedder) embedAndStore(ctx context.Context, key, text string) (domain.QueryEmbedding, error) {
	res, err := c.inner.Embed(ctx, text)
	if err != nil {
		return domain.QueryEmbedding{}, fmt.Errorf("embed text: %w", err)
	}
	c.save(ctx, key, res.Vector)
	return res, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *CachedEmbedder) count(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(c.cfg.Model + "\x00" + text))
	return c.cfg.KeyPrefix + "emb:" + hex.EncodeToString(h[:16])
}

func (c *CachedEmbedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		return nil, false
	case err != nil:
		c.logger.Warn("Embedding cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	case len(data) == 0:
		return nil, false
	}

	vec, err := decodeVector(data)
	if err != nil {
		c.logger.Warn("Discarding corrupt cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return vec, true
}

func (c *CachedEmbedder) save(ctx context.Context, key string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	if err := c.store.SetWithTTL(ctx, key, encodeVector(vec), c.cfg.TTL); err != nil {
		c.logger.Warn("Embedding cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// encodeVector packs float32s little-endian, 4 bytes each.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("cached embedding length %d is not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, nil
}
