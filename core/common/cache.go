package common

import (
	"errors"
	"fmt"
	"sync"

	internaltelemetry "github.com/sushant-115/gojostore/internal/telemetry"
	"go.uber.org/zap"
)

// Fetcher loads the resource identified by key when it is not resident.
type Fetcher[T any] func(key uint64) (T, error)

// Evictor writes a resource back when its last reference is released.
type Evictor[T any] func(value T) error

// CacheOption configures a Cache.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	logger  *zap.Logger
	metrics *internaltelemetry.StorageMetrics
}

// WithCacheLogger sets the logger used for cache traffic.
func WithCacheLogger(logger *zap.Logger) CacheOption {
	return func(o *cacheOptions) { o.logger = logger }
}

// WithCacheMetrics records hits, misses and evictions on m.
func WithCacheMetrics(m *internaltelemetry.StorageMetrics) CacheOption {
	return func(o *cacheOptions) { o.metrics = m }
}

type cacheEntry[T any] struct {
	value T
	refs  int
}

// Cache is a reference-counted resource cache. A resource stays resident
// while at least one holder references it and is written back through the
// Evictor as soon as the last reference is released.
//
// A key is in one of three states: absent, in flight (being fetched or
// written back) or resident. Callers that ask for an in-flight key wait
// until the key leaves that state.
type Cache[T any] struct {
	name     string
	capacity int // 0 means unbounded
	fetch    Fetcher[T]
	evict    Evictor[T]

	mu       sync.Mutex
	cond     *sync.Cond
	entries  map[uint64]*cacheEntry[T]
	inFlight map[uint64]struct{}
	count    int // resident plus in-flight keys

	logger  *zap.Logger
	metrics *internaltelemetry.StorageMetrics
}

// NewCache creates a cache holding at most capacity resources.
func NewCache[T any](name string, capacity int, fetch Fetcher[T], evict Evictor[T], opts ...CacheOption) *Cache[T] {
	o := cacheOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	c := &Cache[T]{
		name:     name,
		capacity: capacity,
		fetch:    fetch,
		evict:    evict,
		entries:  make(map[uint64]*cacheEntry[T]),
		inFlight: make(map[uint64]struct{}),
		logger:   o.logger.Named("cache").With(zap.String("cache", name)),
		metrics:  o.metrics,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Get returns the resource for key and takes a reference on it. Every
// successful Get must be paired with a Release.
func (c *Cache[T]) Get(key uint64) (T, error) {
	var zero T

	c.mu.Lock()
	for {
		if _, busy := c.inFlight[key]; busy {
			c.cond.Wait()
			continue
		}
		if e, ok := c.entries[key]; ok {
			e.refs++
			c.mu.Unlock()
			c.metrics.CacheHit(c.name)
			return e.value, nil
		}
		if c.capacity > 0 && c.count >= c.capacity {
			c.mu.Unlock()
			return zero, ErrCacheFull
		}
		c.count++
		c.inFlight[key] = struct{}{}
		break
	}
	c.mu.Unlock()

	c.metrics.CacheMiss(c.name)
	value, err := c.fetch(key)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
	if err != nil {
		c.count--
		c.cond.Broadcast()
		return zero, err
	}
	c.entries[key] = &cacheEntry[T]{value: value, refs: 1}
	c.cond.Broadcast()
	c.logger.Debug("resource loaded", zap.Uint64("key", key))
	return value, nil
}

// Release drops one reference on key. The resource is written back and
// removed when the count reaches zero.
func (c *Cache[T]) Release(key uint64) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("release %s key %d: %w", c.name, key, ErrNotCached)
	}
	e.refs--
	if e.refs > 0 {
		c.mu.Unlock()
		return nil
	}
	delete(c.entries, key)
	c.inFlight[key] = struct{}{}
	c.mu.Unlock()

	err := c.evict(e.value)

	c.mu.Lock()
	delete(c.inFlight, key)
	c.count--
	c.cond.Broadcast()
	c.mu.Unlock()

	c.metrics.CacheEvict(c.name)
	if err != nil {
		c.logger.Error("write back failed", zap.Uint64("key", key), zap.Error(err))
		return fmt.Errorf("write back %s key %d: %w", c.name, key, err)
	}
	return nil
}

// Close writes back every resident resource regardless of its reference
// count. It waits for in-flight fetches and write-backs to settle first.
func (c *Cache[T]) Close() error {
	c.mu.Lock()
	for len(c.inFlight) > 0 {
		c.cond.Wait()
	}
	entries := c.entries
	c.entries = make(map[uint64]*cacheEntry[T])
	c.count = 0
	c.mu.Unlock()

	var errs []error
	for key, e := range entries {
		if err := c.evict(e.value); err != nil {
			errs = append(errs, fmt.Errorf("write back %s key %d: %w", c.name, key, err))
		}
	}
	c.logger.Debug("cache closed", zap.Int("written_back", len(entries)))
	return errors.Join(errs...)
}

// Len reports the number of resident resources.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
