// Package embedcache keeps chunk embeddings in memory so retrieval never
// has to decode vectors from the database on the hot path.
package embedcache

import (
	"context"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/repo"
)

const DefaultCapacity = 50000

// Cache is an LRU of chunk id to embedding vector. Reads promote, writes
// evict the oldest entry at capacity, and misses fall back to the chunk
// store and populate the cache on success.
type Cache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, []float32]
	chunks   *repo.ChunkRepo
	capacity int
}

func New(chunks *repo.ChunkRepo, capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	lru, err := simplelru.NewLRU[string, []float32](capacity, nil)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: lru, chunks: chunks, capacity: capacity}, nil
}

// Get returns the embedding for a chunk id, loading it from the store on a
// miss. Returns ErrNotFound when the chunk has no stored embedding either.
func (c *Cache) Get(ctx context.Context, id string) ([]float32, error) {
	c.mu.Lock()
	values, ok := c.lru.Get(id)
	c.mu.Unlock()
	if ok {
		return values, nil
	}
	values, err := c.chunks.GetEmbedding(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Set(id, values)
	return values, nil
}

func (c *Cache) Set(id string, values []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(id, values)
}

// InvalidateDocument removes every cached vector belonging to a document.
func (c *Cache) InvalidateDocument(ctx context.Context, documentID string) error {
	ids, err := c.chunks.ListIDsByDocument(ctx, documentID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.lru.Remove(id)
	}
	return nil
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// BulkLoad fills the cache from stored embeddings up to capacity. Called
// once at startup before the server accepts traffic.
func (c *Cache) BulkLoad(ctx context.Context) error {
	loaded := 0
	err := c.chunks.ScanEmbeddings(ctx, func(id string, values []float32) bool {
		c.Set(id, values)
		loaded++
		return loaded < c.capacity
	})
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("embedding cache loaded", zap.Int("entries", loaded))
	return nil
}
