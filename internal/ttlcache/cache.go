// Package ttlcache provides a single-slot cache that reloads its value once
// the value is older than a fixed window.
package ttlcache

import (
	"context"
	"sync"
	"time"
)

// Loader produces a fresh value for the cache.
type Loader[T any] func(ctx context.Context) (T, error)

// entry is the cached slot. loadedAt is zero iff no value is held.
type entry[T any] struct {
	value    T
	loadedAt time.Time
}

// Cache holds at most one value produced by its loader.
//
// Get serialises refreshes with a mutex, so concurrent callers never trigger
// more than one load at a time. Values are returned as stored; callers that
// need to mutate them must copy first.
type Cache[T any] struct {
	load Loader[T]
	ttl  time.Duration
	now  func() time.Time

	mu    sync.Mutex
	entry entry[T]
}

// Option configures a Cache.
type Option[T any] func(*Cache[T])

// WithClock replaces time.Now, mainly for tests.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) {
		c.now = now
	}
}

// New creates a cache that keeps a loaded value for ttl.
func New[T any](load Loader[T], ttl time.Duration, opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		load: load,
		ttl:  ttl,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value, loading it first when nothing is cached or
// the cached value is older than the window. A failed load is not cached and
// its error is returned as is.
func (c *Cache[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.entry.loadedAt.IsZero() && now.Sub(c.entry.loadedAt) <= c.ttl {
		return c.entry.value, nil
	}

	v, err := c.load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.entry = entry[T]{value: v, loadedAt: c.now()}
	return v, nil
}
