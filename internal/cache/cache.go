package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/singleflight"
)

// Cache is a bounded LRU keyed by a hash of a serialized request payload.
// Callers own the instance and pass it to whatever needs memoization.
//
// Stored values are shared between callers and must be treated as read-only.
type Cache[V any] struct {
	entries     *lru.Cache[uint64, V]
	flight      singleflight.Group
	loadTimeout time.Duration

	hits      int64
	misses    int64
	evictions int64
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// DefaultLoadTimeout bounds a shared load once it is detached from its callers.
const DefaultLoadTimeout = 2 * time.Minute

// Option configures a Cache.
type Option func(*options)

type options struct {
	loadTimeout time.Duration
}

// WithLoadTimeout overrides DefaultLoadTimeout. Zero or less disables it.
func WithLoadTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.loadTimeout = timeout
	}
}

// New creates a cache holding at most size entries.
func New[V any](size int, opts ...Option) (*Cache[V], error) {
	cfg := options{loadTimeout: DefaultLoadTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Cache[V]{loadTimeout: cfg.loadTimeout}
	entries, err := lru.NewWithEvict[uint64, V](size, func(uint64, V) {
		atomic.AddInt64(&c.evictions, 1)
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

// Key hashes the JSON encoding of payload. Map keys are sorted by
// encoding/json, so equal payloads produce equal keys.
func Key(payload any) (uint64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode cache key: %w", err)
	}
	return xxh3.Hash(raw), nil
}

// Get returns the cached value for key.
func (c *Cache[V]) Get(key uint64) (V, bool) {
	value, ok := c.entries.Get(key)
	if ok {
		atomic.AddInt64(&c.hits, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
	return value, ok
}

// Add stores value under key, evicting the least recently used entry when full.
func (c *Cache[V]) Add(key uint64, value V) {
	c.entries.Add(key, value)
}

// GetOrLoad returns the cached value or runs load once for all concurrent
// callers asking for the same key. Failed loads are not cached.
//
// The shared load runs on a context detached from any single caller's
// cancellation and bounded by the load timeout. A caller whose own ctx ends
// stops waiting with ctx.Err() while the load carries on for the rest.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key uint64, load func(context.Context) (V, error)) (V, error) {
	var zero V
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	ch := c.flight.DoChan(strconv.FormatUint(key, 16), func() (any, error) {
		if value, ok := c.entries.Get(key); ok {
			return value, nil
		}
		loadCtx := context.WithoutCancel(ctx)
		if c.loadTimeout > 0 {
			var cancel context.CancelFunc
			loadCtx, cancel = context.WithTimeout(loadCtx, c.loadTimeout)
			defer cancel()
		}
		value, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, value)
		return value, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Len reports the number of cached entries.
func (c *Cache[V]) Len() int {
	return c.entries.Len()
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.entries.Purge()
}

// Stats returns counters accumulated since creation.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Entries:   c.entries.Len(),
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}
