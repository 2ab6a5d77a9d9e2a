// Package cache memoizes query embeddings so repeated and rewritten queries
// do not pay for a second embedding call.
package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Embedder generates an embedding for text.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// CachedEmbedder wraps an Embedder with a ristretto cache keyed by the
// embedding model and the exact text. Cost is one per entry.
type CachedEmbedder struct {
	next  Embedder
	model string
	cache *ristretto.Cache
}

// NewCachedEmbedder caches next's embeddings. model names the embedding
// model behind next so vectors from different models never share an entry.
func NewCachedEmbedder(next Embedder, model string, maxEntries int64) (*CachedEmbedder, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, model: model, cache: c}, nil
}

func (e *CachedEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := e.model + "\x00" + text
	if v, ok := e.cache.Get(key); ok {
		if embedding, ok := v.([]float32); ok {
			return embedding, nil
		}
	}

	embedding, err := e.next.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.Set(key, embedding, 1)
	return embedding, nil
}

// Wait blocks until buffered writes are visible to Get.
func (e *CachedEmbedder) Wait() {
	e.cache.Wait()
}

func (e *CachedEmbedder) Close() {
	e.cache.Close()
}
