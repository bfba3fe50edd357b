package cache

import (
	"container/list"
	"expvar"
	"sync"
)

// cacheEntry holds one decoded record keyed by its ordinal.
type cacheEntry struct {
	ordinal uint64
	record  []byte
}

// LRUCache is a fixed-size LRU over decoded records. Stored slices are
// owned by the cache; callers must not mutate what Get returns.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	lruList  *list.List
	items    map[uint64]*list.Element

	hits   *expvar.Int
	misses *expvar.Int
}

// NewLRUCache creates a cache holding up to capacity records. A
// non-positive capacity disables caching entirely.
func NewLRUCache(capacity int) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		lruList:  list.New(),
		items:    make(map[uint64]*list.Element),
	}
}

// SetMetrics attaches hit/miss counters, typically expvar-published by the
// embedding application.
func (c *LRUCache) SetMetrics(hits, misses *expvar.Int) {
	c.hits = hits
	c.misses = misses
}

// Get retrieves a record from the cache.
func (c *LRUCache) Get(ordinal uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return nil, false
	}

	if elem, ok := c.items[ordinal]; ok {
		if c.hits != nil {
			c.hits.Add(1)
		}
		c.lruList.MoveToFront(elem)
		return elem.Value.(*cacheEntry).record, true
	}

	if c.misses != nil {
		c.misses.Add(1)
	}
	return nil, false
}

// Put adds a record to the cache, evicting the least recently used entry
// when full.
func (c *LRUCache) Put(ordinal uint64, record []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return
	}

	if elem, ok := c.items[ordinal]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value.(*cacheEntry).record = record
		return
	}

	if c.lruList.Len() >= c.capacity {
		c.evict()
	}
	c.items[ordinal] = c.lruList.PushFront(&cacheEntry{ordinal: ordinal, record: record})
}

// Len returns the current number of cached records.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// evict removes the least recently used record. Must be called with c.mu
// locked.
func (c *LRUCache) evict() {
	if elem := c.lruList.Back(); elem != nil {
		removed := c.lruList.Remove(elem).(*cacheEntry)
		delete(c.items, removed.ordinal)
	}
}

// Clear removes all entries and resets the metrics.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lruList = list.New()
	c.items = make(map[uint64]*list.Element)
	if c.hits != nil {
		c.hits.Set(0)
	}
	if c.misses != nil {
		c.misses.Set(0)
	}
}

// GetHitRate calculates the cache hit rate, useful for expvar.Func.
func (c *LRUCache) GetHitRate() float64 {
	var hits, misses float64
	if c.hits != nil {
		hits = float64(c.hits.Value())
	}
	if c.misses != nil {
		misses = float64(c.misses.Value())
	}
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return hits / total
}
