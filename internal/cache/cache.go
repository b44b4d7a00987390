package cache

import "sync"

// Cache is a thread-safe LRU cache of device objects.
//
// Entries pushed out by the size limit, removed with Delete or DeleteFunc,
// or dropped by Purge are passed to the eviction callback so the owner can
// destroy the underlying object.
//
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*lruNode[K, V]
	order   lruList[K, V]
	limit   int
	onEvict func(K, V)

	hits, misses, evictions uint64
}

// New creates a cache holding at most limit entries (0 means unlimited).
// onEvict may be nil.
func New[K comparable, V any](limit int, onEvict func(K, V)) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]*lruNode[K, V]),
		limit:   limit,
		onEvict: onEvict,
	}
}

// Get retrieves a value and marks it as recently used.
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
	c.order.touch(n)
	return n.value, true
}

// GetOrCreate returns the cached value or stores the result of create.
// create runs under the lock, so a key is never created twice. A failed
// create leaves the cache unchanged.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.entries[key]; ok {
		c.hits++
		c.order.touch(n)
		return n.value, nil
	}
	c.misses++
	v, err := create()
	if err != nil {
		return v, err
	}
	c.entries[key] = c.order.pushFront(key, v)
	c.evictOverLimit()
	return v, nil
}

// Delete removes key, passing its value to the eviction callback.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	n, ok := c.entries[key]
	if ok {
		c.order.unlink(n)
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if ok && c.onEvict != nil {
		c.onEvict(n.key, n.value)
	}
	return ok
}

// DeleteFunc removes every entry for which match returns true.
func (c *Cache[K, V]) DeleteFunc(match func(K, V) bool) int {
	c.mu.Lock()
	var removed []*lruNode[K, V]
	for k, n := range c.entries {
		if match(k, n.value) {
			c.order.unlink(n)
			delete(c.entries, k)
			removed = append(removed, n)
		}
	}
	c.mu.Unlock()

	if c.onEvict != nil {
		for _, n := range removed {
			c.onEvict(n.key, n.value)
		}
	}
	return len(removed)
}

// Purge removes all entries.
func (c *Cache[K, V]) Purge() {
	c.DeleteFunc(func(K, V) bool { return true })
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Len:       len(c.entries),
		Capacity:  c.limit,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// evictOverLimit drops least recently used entries. Caller must hold c.mu.
func (c *Cache[K, V]) evictOverLimit() {
	if c.limit <= 0 {
		return
	}
	for len(c.entries) > c.limit {
		n := c.order.popBack()
		delete(c.entries, n.key)
		c.evictions++
		if c.onEvict != nil {
			c.onEvict(n.key, n.value)
		}
	}
}

// Stats contains cache statistics.
type Stats struct {
	Len       int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}
