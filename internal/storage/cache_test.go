package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUCache_GetSet(t *testing.T) {
	c := NewLRUCache[string](2, time.Minute)

	c.Set("a", "1")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // a is now most recent
	c.Set("c", 3)

	_, okA := c.Get("a")
	_, okB := c.Get("b")
	_, okC := c.Get("c")
	assert.True(t, okA)
	assert.False(t, okB, "b should have been evicted")
	assert.True(t, okC)
	assert.Equal(t, 2, c.Len())
}

func TestLRUCache_Expiry(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	c.Set("b", 2)

	now = now.Add(2 * time.Minute)
	_, ok := c.Get("a")
	assert.False(t, ok)

	assert.Equal(t, 1, c.CleanupExpired())
	assert.Equal(t, 0, c.Len())
}

func TestLRUCache_ZeroCapacityDisables(t *testing.T) {
	c := NewLRUCache[int](0, time.Minute)
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLRUCache_DeleteAndClear(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	stats := c.GetStats()
	assert.Equal(t, 10, stats.Capacity)
	assert.Equal(t, time.Minute, stats.TTL)
}
