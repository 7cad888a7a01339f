package cache

import "sync"

// Cache is a thread-safe LRU cache holding at most limit entries.
// Cache must not be copied after creation.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*node[K, V]
	order   lruList[K, V]
	limit   int
	release func(K, V)

	hits, misses, evictions uint64
}

// New creates a cache holding at most limit entries; limit <= 0 means
// unbounded. release, if non-nil, is called for every value that leaves the
// cache.
func New[K comparable, V any](limit int, release func(K, V)) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]*node[K, V]),
		limit:   limit,
		release: release,
	}
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.order.moveToFront(n)
	return n.value, true
}

// GetOrCreate returns the cached value for key, or calls create and caches
// its result. create runs under the cache lock, so a key is created at most
// once. A failed create caches nothing.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.entries[key]; ok {
		c.hits++
		c.order.moveToFront(n)
		return n.value, nil
	}
	c.misses++
	v, err := create()
	if err != nil {
		return v, err
	}
	c.entries[key] = c.order.pushFront(key, v)
	c.evict()
	return v, nil
}

// evict drops least recently used entries until the cache fits its limit.
// Caller must hold c.mu.
func (c *Cache[K, V]) evict() {
	for c.limit > 0 && c.order.len > c.limit {
		n := c.order.removeOldest()
		delete(c.entries, n.key)
		c.evictions++
		if c.release != nil {
			c.release(n.key, n.value)
		}
	}
}

// Delete removes key and releases its value. It reports whether key was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[key]
	if !ok {
		return false
	}
	c.order.unlink(n)
	delete(c.entries, key)
	if c.release != nil {
		c.release(n.key, n.value)
	}
	return true
}

// Clear releases and removes every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for n := c.order.removeOldest(); n != nil; n = c.order.removeOldest() {
		if c.release != nil {
			c.release(n.key, n.value)
		}
	}
	c.entries = make(map[K]*node[K, V])
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.len
}

// Stats contains cache statistics.
type Stats struct {
	Len       int
	Limit     int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns the cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Len:       c.order.len,
		Limit:     c.limit,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
