// Package freshness provides a time-boxed cache with single-flight refresh
// coalescing and stale-on-error fallback. Health probes and other expensive
// derived values sit behind it so concurrent demand triggers one
// recomputation, not many.
package freshness

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultWaitTimeout bounds how long a caller waits for another caller's
// in-flight refresh before attempting its own.
const DefaultWaitTimeout = 5 * time.Second

// Cache holds one value of type T with a TTL. All state is guarded by one
// mutex; the refresh function itself always runs unlocked so readers are
// only ever blocked for the coalescing wait, not the refresh duration.
type Cache[T any] struct {
	mu          sync.Mutex
	value       T
	hasValue    bool
	expiresAt   time.Time
	refreshing  bool
	refreshDone chan struct{}

	ttl         time.Duration
	waitTimeout time.Duration
	now         func() time.Time
}

// Option customizes a Cache.
type Option[T any] func(*Cache[T])

// WithWaitTimeout overrides the bounded coalescing wait.
func WithWaitTimeout[T any](d time.Duration) Option[T] {
	return func(c *Cache[T]) { c.waitTimeout = d }
}

// WithClock overrides the time source. Used by tests.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) { c.now = now }
}

// New creates a cache with the given TTL. A non-positive TTL is a
// configuration error and fails at construction.
func New[T any](ttl time.Duration, opts ...Option[T]) (*Cache[T], error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache TTL must be positive, got %s", ttl)
	}

	c := &Cache[T]{
		ttl:         ttl,
		waitTimeout: DefaultWaitTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetTTL changes the TTL and retroactively caps any already-cached value's
// remaining lifetime to the new TTL.
func (c *Cache[T]) SetTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %s", ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ttl = ttl
	if c.hasValue {
		cap := c.now().Add(ttl)
		if c.expiresAt.After(cap) {
			c.expiresAt = cap
		}
	}
	return nil
}

// Invalidate expires any cached value so the next Get refreshes.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expiresAt = time.Time{}
}

// Get returns the cached value, refreshing it via refresh when expired.
// The second return reports a cache hit. On refresh failure with a prior
// value cached, that stale value is returned with hit=true and the error
// attached; with no prior value the failure propagates.
//
// Concurrent callers coalesce: exactly one runs refresh, the rest wait
// (bounded) and re-check. A caller whose wait times out attempts its own
// refresh as soon as the in-flight one clears.
func (c *Cache[T]) Get(ctx context.Context, refresh func() (T, error)) (T, bool, error) {
	var zero T
	timedOut := false

	for {
		c.mu.Lock()

		if c.hasValue && c.now().Before(c.expiresAt) {
			v := c.value
			c.mu.Unlock()
			return v, true, nil
		}

		if !c.refreshing {
			c.refreshing = true
			c.refreshDone = make(chan struct{})
			break // this caller refreshes; mutex released below
		}

		done := c.refreshDone
		c.mu.Unlock()

		if timedOut {
			// Already waited once; block until the in-flight refresh
			// clears, then take over.
			select {
			case <-done:
			case <-ctx.Done():
				return zero, false, ctx.Err()
			}
			continue
		}

		select {
		case <-done:
			// Re-check: the refresher may have succeeded or failed.
		case <-time.After(c.waitTimeout):
			timedOut = true
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
	}

	done := c.refreshDone
	c.mu.Unlock()

	// Refresh runs unlocked; only one is in flight per cache instance.
	value, err := refresh()

	c.mu.Lock()
	c.refreshing = false
	close(done)

	if err == nil {
		c.value = value
		c.hasValue = true
		c.expiresAt = c.now().Add(c.ttl)
		c.mu.Unlock()
		return value, false, nil
	}

	if c.hasValue {
		stale := c.value
		c.mu.Unlock()
		return stale, true, err
	}

	c.mu.Unlock()
	return zero, false, err
}
