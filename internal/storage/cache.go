package storage

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// LRUCache is a thread-safe LRU cache with TTL support.
type LRUCache[V any] struct {
	mu           sync.Mutex
	capacity     int
	ttl          time.Duration
	items        map[string]*list.Element
	evictionList *list.List
	now          func() time.Time
}

// NewLRUCache creates a new LRU cache. A non-positive capacity disables caching.
func NewLRUCache[V any](capacity int, ttl time.Duration) *LRUCache[V] {
	return &LRUCache[V]{
		capacity:     capacity,
		ttl:          ttl,
		items:        make(map[string]*list.Element),
		evictionList: list.New(),
		now:          time.Now,
	}
}

// Get retrieves an item, dropping it if expired.
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, found := c.items[key]
	if !found {
		return zero, false
	}

	entry := elem.Value.(*cacheEntry[V])
	if c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		return zero, false
	}

	c.evictionList.MoveToFront(elem)
	return entry.value, true
}

// Set adds or updates an item.
func (c *LRUCache[V]) Set(key string, value V) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)

	if elem, found := c.items[key]; found {
		c.evictionList.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry[V])
		entry.value = value
		entry.expiresAt = expiresAt
		return
	}

	elem := c.evictionList.PushFront(&cacheEntry[V]{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = elem

	if c.evictionList.Len() > c.capacity {
		if oldest := c.evictionList.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// Delete removes an item.
func (c *LRUCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, found := c.items[key]; found {
		c.removeElement(elem)
	}
}

// Clear removes all items.
func (c *LRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.evictionList.Init()
}

// Len returns the current number of items.
func (c *LRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictionList.Len()
}

// CleanupExpired removes all expired items and returns how many were dropped.
func (c *LRUCache[V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0

	var prev *list.Element
	for elem := c.evictionList.Back(); elem != nil; elem = prev {
		prev = elem.Prev()
		if now.After(elem.Value.(*cacheEntry[V]).expiresAt) {
			c.removeElement(elem)
			removed++
		}
	}

	return removed
}

func (c *LRUCache[V]) removeElement(elem *list.Element) {
	c.evictionList.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry[V]).key)
}

// CacheStats is a point-in-time view of a cache.
type CacheStats struct {
	Capacity int
	Size     int
	TTL      time.Duration
}

// GetStats returns current cache statistics.
func (c *LRUCache[V]) GetStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Capacity: c.capacity,
		Size:     c.evictionList.Len(),
		TTL:      c.ttl,
	}
}
