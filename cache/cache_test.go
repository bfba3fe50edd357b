package cache

import (
	"expvar"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGet(t *testing.T) {
	c := NewLRUCache(4)
	c.Put(1, []byte("one"))
	c.Put(2, []byte("two"))

	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), got)

	_, ok = c.Get(3)
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestEviction(t *testing.T) {
	c := NewLRUCache(2)
	c.Put(1, []byte("one"))
	c.Put(2, []byte("two"))

	// Touch 1 so that 2 becomes the eviction victim.
	_, ok := c.Get(1)
	require.True(t, ok)
	c.Put(3, []byte("three"))

	_, ok = c.Get(2)
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = c.Get(1)
	assert.True(t, ok)
	_, ok = c.Get(3)
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestUpdateExisting(t *testing.T) {
	c := NewLRUCache(2)
	c.Put(1, []byte("old"))
	c.Put(1, []byte("new"))

	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got)
	assert.Equal(t, 1, c.Len())
}

func TestDisabledCache(t *testing.T) {
	c := NewLRUCache(0)
	c.Put(1, []byte("one"))
	_, ok := c.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMetricsAndHitRate(t *testing.T) {
	c := NewLRUCache(2)
	hits := new(expvar.Int)
	misses := new(expvar.Int)
	c.SetMetrics(hits, misses)

	c.Put(1, []byte("one"))
	c.Get(1)
	c.Get(1)
	c.Get(9)

	assert.Equal(t, int64(2), hits.Value())
	assert.Equal(t, int64(1), misses.Value())
	assert.InDelta(t, 2.0/3.0, c.GetHitRate(), 1e-9)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), hits.Value())
	assert.Equal(t, float64(0), c.GetHitRate())
}

func TestConcurrentAccess(t *testing.T) {
	c := NewLRUCache(64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				ordinal := uint64(i % 100)
				c.Put(ordinal, []byte(fmt.Sprintf("g%d-%d", g, i)))
				c.Get(ordinal)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}
