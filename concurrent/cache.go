// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package concurrent

import (
	"sync"
	"time"
)

// Cache is a mutex-guarded single-flight memoization cache: concurrent
// callers asking for the same key while it's being populated block on the
// same underlying call rather than each doing their own work.
type Cache[K comparable, V any] struct {
	mu   sync.Mutex
	data map[K]entry[V]
}

type entry[V any] struct {
	value     V
	expiresAt time.Time // zero means "never expires"
}

// NewCache constructs an empty Cache.
func NewCache[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		data: make(map[K]entry[V]),
	}
}

// Get returns the cached value for k, if present and not expired.
func (c *Cache[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[k]
	if !ok || c.expired(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetOr returns the cached value for k, computing and storing it via f on a
// miss. The entry never expires once set.
func (c *Cache[K, V]) GetOr(k K, f func() (V, error)) (V, error) {
	return c.GetOrRefresh(k, 0, f)
}

// GetOrRefresh is GetOr with a TTL: once ttl has elapsed since the entry was
// populated, the next caller recomputes it via f. ttl <= 0 means the entry
// never expires. This is the shape rdap's 24h IANA bootstrap-file cache
// needs, layered onto the same single-flight population discipline as GetOr.
func (c *Cache[K, V]) GetOrRefresh(k K, ttl time.Duration, f func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.data[k]; ok && !c.expired(e) {
		return e.value, nil
	}

	v, err := f()
	if err != nil {
		var zero V
		return zero, err
	}

	ne := entry[V]{value: v}
	if ttl > 0 {
		ne.expiresAt = time.Now().Add(ttl)
	}
	c.data[k] = ne
	return v, nil
}

func (c *Cache[K, V]) expired(e entry[V]) bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}
