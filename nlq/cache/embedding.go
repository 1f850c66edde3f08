package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"
)

// Embedder generates vector embeddings. Local interface to avoid a
// dependency on the pipeline package.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// EmbeddingCache wraps an Embedder with an exact-match LRU keyed by the
// SHA-256 of the normalized text.
type EmbeddingCache struct {
	inner Embedder
	lru   *LRU[string, []float32]

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// NewEmbeddingCache creates a caching wrapper around inner.
func NewEmbeddingCache(inner Embedder, capacity int, ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{
		inner: inner,
		lru:   NewLRU[string, []float32](capacity, ttl),
	}
}

func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := hashKey(text)
	if vector, ok := c.lru.Get(key); ok {
		c.hits.Add(1)
		return vector, nil
	}
	c.misses.Add(1)

	vector, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.lru.Set(key, vector)
	return vector, nil
}

func (c *EmbeddingCache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	pending := []string{}
	pendingIdx := []int{}
	for i, text := range texts {
		if vector, ok := c.lru.Get(hashKey(text)); ok {
			c.hits.Add(1)
			vectors[i] = vector
			continue
		}
		c.misses.Add(1)
		pending = append(pending, text)
		pendingIdx = append(pendingIdx, i)
	}
	if len(pending) == 0 {
		return vectors, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, pending)
	if err != nil {
		return nil, err
	}
	for j, vector := range fresh {
		vectors[pendingIdx[j]] = vector
		c.lru.Set(hashKey(pending[j]), vector)
	}
	return vectors, nil
}

func (c *EmbeddingCache) Dimensions() int {
	return c.inner.Dimensions()
}

// Stats returns a snapshot of hit and miss counters.
func (c *EmbeddingCache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.lru.Size(),
	}
}

func hashKey(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
