package embed

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"github.com/viant/memvec/model"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize bounds the number of cached embeddings.
const DefaultCacheSize = 4096

// Cached memoizes embeddings keyed by model and normalized content hash.
// Concurrent requests for the same text share one provider call.
type Cached struct {
	next  Embedder
	cache *ristretto.Cache
	group singleflight.Group
}

// NewCached wraps next with a cache holding at most size entries.
func NewCached(next Embedder, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(size) * 10,
		MaxCost:     int64(size),
		BufferItems: 64,
		// each entry costs 1; MaxCost is an entry count
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Dimensions() int { return c.next.Dimensions() }
func (c *Cached) Model() string   { return c.next.Model() }

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	normalized := model.NormalizeContent(text)
	if normalized == "" {
		return nil, model.ErrEmptyInput
	}
	key := c.next.Model() + ":" + model.ContentHash(normalized)
	if v, ok := c.cache.Get(key); ok {
		return clone(v.([]float32)), nil
	}
	// the shared call outlives any single caller; each caller waits on its own ctx
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		vec, err := c.next.Embed(shared, normalized)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, clone(vec), 1)
		return vec, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.([]float32)), nil
	}
}

// Wait blocks until pending cache writes are visible.
func (c *Cached) Wait() { c.cache.Wait() }

func (c *Cached) Close() error {
	c.cache.Close()
	if closer, ok := c.next.(Closer); ok {
		return closer.Close()
	}
	return nil
}

func clone(v []float32) []float32 { return append([]float32(nil), v...) }
