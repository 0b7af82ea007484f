package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUCacheSetGet(t *testing.T) {
	c := NewLRUCache(4, time.Minute)

	c.Set("a", []byte("alpha"), 0)
	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []byte("alpha"), got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache(2, time.Minute)

	c.Set("a", []byte("1"), 0)
	c.Set("b", []byte("2"), 0)

	// Touch "a" so "b" becomes the eviction candidate.
	_, _ = c.Get("a")
	c.Set("c", []byte("3"), 0)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRUCacheTTLExpiry(t *testing.T) {
	c := NewLRUCache(4, time.Minute)

	c.Set("a", []byte("1"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLRUCacheInvalidate(t *testing.T) {
	c := NewLRUCache(4, time.Minute)

	c.Set("a", []byte("1"), 0)
	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	// Idempotent for absent keys.
	c.Invalidate("a")
}

func TestLRUCacheUpdateKeepsCapacity(t *testing.T) {
	c := NewLRUCache(3, time.Minute)
	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), []byte{byte(i)}, 0)
	}
	c.Set("k1", []byte("updated"), 0)

	assert.Equal(t, 3, c.Len())
	got, ok := c.Get("k1")
	assert.True(t, ok)
	assert.Equal(t, []byte("updated"), got)
}
