// Package cache provides the in-process cache used for composed histories.
package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a keyed store with per-entry expiry.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V, ttl time.Duration)
	Invalidate(key string)
}

type entry[V any] struct {
	value   V
	expires time.Time
}

// Option configures an LRU.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// LRU is a size-bounded cache whose entries also expire after their TTL.
// Safe for concurrent use.
type LRU[V any] struct {
	store *lru.Cache[string, entry[V]]
	now   func() time.Time
}

// NewLRU creates an LRU holding at most size entries.
func NewLRU[V any](size int, opts ...Option) (*LRU[V], error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	store, err := lru.New[string, entry[V]](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &LRU[V]{store: store, now: o.now}, nil
}

// Get returns the live value for key. Expired entries are evicted on read.
func (c *LRU[V]) Get(key string) (V, bool) {
	var zero V
	e, ok := c.store.Get(key)
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expires) {
		c.store.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores value for ttl. A non-positive ttl removes the key.
func (c *LRU[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		c.store.Remove(key)
		return
	}
	c.store.Add(key, entry[V]{value: value, expires: c.now().Add(ttl)})
}

// Invalidate drops key unconditionally.
func (c *LRU[V]) Invalidate(key string) {
	c.store.Remove(key)
}

// Len reports the number of stored entries, including expired ones not yet evicted.
func (c *LRU[V]) Len() int {
	return c.store.Len()
}

// Purge drops every entry.
func (c *LRU[V]) Purge() {
	c.store.Purge()
}

// Nop is a Cache that stores nothing.
type Nop[V any] struct{}

func (Nop[V]) Get(string) (V, bool) {
	var zero V
	return zero, false
}

func (Nop[V]) Set(string, V, time.Duration) {}

func (Nop[V]) Invalidate(string) {}
