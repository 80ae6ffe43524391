package rater

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/embedding"
)

// AnchorCache memoizes anchor embeddings per AnchorCacheKey. Entries are never evicted.
// Concurrent misses on one key share a single embedding computation.
type AnchorCache struct {
	embedder  embedding.Embedder
	store     VectorStore
	namespace string

	mu      sync.RWMutex
	entries map[core.AnchorCacheKey][]embedding.Vector
	group   singleflight.Group

	hits     atomic.Int64
	misses   atomic.Int64
	storeHit atomic.Int64
}

// CacheOption configures an AnchorCache.
type CacheOption func(*AnchorCache)

// WithStore adds a second-tier VectorStore consulted before the embedder.
func WithStore(s VectorStore) CacheOption { return func(c *AnchorCache) { c.store = s } }

// WithNamespace overrides the store namespace (defaults to the embedder's model id).
func WithNamespace(ns string) CacheOption { return func(c *AnchorCache) { c.namespace = ns } }

// NewAnchorCache creates an empty cache over e.
func NewAnchorCache(e embedding.Embedder, opts ...CacheOption) *AnchorCache {
	c := &AnchorCache{
		embedder: e,
		entries:  make(map[core.AnchorCacheKey][]embedding.Vector),
	}
	for _, o := range opts {
		o(c)
	}
	if c.namespace == "" {
		c.namespace = embedding.ModelID(e)
	}
	if c.namespace == "" {
		c.namespace = "default"
	}
	return c
}

// CacheStats is a point-in-time view of cache activity.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	StoreHits int64 `json:"store_hits"`
	Entries   int   `json:"entries"`
}

// Stats returns hit and miss counters. Misses count computations, not waiting callers.
func (c *AnchorCache) Stats() CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), StoreHits: c.storeHit.Load(), Entries: n}
}

// GetOrCompute returns the five anchor vectors for set, embedding them on first use.
// The returned slice must be treated as read-only. A caller whose ctx ends stops waiting,
// but the shared computation continues for the other callers.
func (c *AnchorCache) GetOrCompute(ctx context.Context, set core.AnchorSet) ([]embedding.Vector, error) {
	if !set.Valid() {
		return nil, &core.ValidationError{Field: "anchor_set", Value: set.Name(), Message: "anchor set must have 5 non-empty statements"}
	}
	key := set.Key()
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		return c.compute(context.WithoutCancel(ctx), set)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]embedding.Vector), nil
	}
}

func (c *AnchorCache) lookup(key core.AnchorCacheKey) ([]embedding.Vector, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *AnchorCache) publish(key core.AnchorCacheKey, vecs []embedding.Vector) {
	c.mu.Lock()
	c.entries[key] = vecs
	c.mu.Unlock()
}

func (c *AnchorCache) compute(ctx context.Context, set core.AnchorSet) ([]embedding.Vector, error) {
	key := set.Key()
	if c.store != nil {
		vecs, ok, err := c.store.Get(ctx, c.namespace, key)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("anchor_set", set.Name()).Msg("anchor store lookup failed")
		case ok && validAnchorVectors(vecs) == nil:
			c.storeHit.Add(1)
			c.publish(key, vecs)
			return vecs, nil
		}
	}
	c.misses.Add(1)
	vecs, err := embedding.EmbedAll(ctx, c.embedder, set.Statements())
	if err != nil {
		return nil, fmt.Errorf("rater: embed anchor set %q: %w", set.Name(), err)
	}
	if err := validAnchorVectors(vecs); err != nil {
		return nil, fmt.Errorf("rater: anchor set %q: %w", set.Name(), err)
	}
	c.publish(key, vecs)
	if c.store != nil {
		if err := c.store.Put(ctx, c.namespace, key, vecs); err != nil {
			log.Warn().Err(err).Str("anchor_set", set.Name()).Msg("anchor store write failed")
		}
	}
	log.Debug().Str("anchor_set", set.Name()).Int("dims", len(vecs[0])).Msg("anchor embeddings cached")
	return vecs, nil
}

func validAnchorVectors(vecs []embedding.Vector) error {
	if len(vecs) != core.ScaleSize {
		return fmt.Errorf("got %d vectors: %w", len(vecs), core.ErrDimensionMismatch)
	}
	for _, v := range vecs[1:] {
		if len(v) != len(vecs[0]) {
			return fmt.Errorf("anchor vectors differ in length: %w", core.ErrDimensionMismatch)
		}
	}
	return nil
}
