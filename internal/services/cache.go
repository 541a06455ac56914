package services

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// EmbeddingCache is a content-addressed LRU in front of the synthesizer,
// keyed by the combined digest of (content, filename). Cached slices are
// shared, never copied; embeddings are immutable once computed.
type EmbeddingCache struct {
	entries *lru.Cache[string, []float32]
}

func NewEmbeddingCache(size int) (*EmbeddingCache, error) {
	entries, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &EmbeddingCache{entries: entries}, nil
}

func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	return c.entries.Get(key)
}

func (c *EmbeddingCache) Put(key string, embedding []float32) {
	c.entries.Add(key, embedding)
}

func (c *EmbeddingCache) Len() int {
	return c.entries.Len()
}
