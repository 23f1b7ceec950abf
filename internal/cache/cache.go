// Package cache provides the process-wide LRU cache of materialized segment
// group file contents, consulted by rowset loading when use_cache is set.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Key identifies one cached segment group file.
type Key struct {
	RowsetID uint64
	GroupID  uint32
	Kind     uint8 // data or index file
}

const (
	// KindData marks a cached data file.
	KindData uint8 = iota
	// KindIndex marks a cached index file.
	KindIndex
)

// SegmentCache is a byte-capacity bounded LRU over raw file contents.
type SegmentCache struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[Key]*list.Element
	evictList *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   Key
	value []byte
}

// New creates a cache bounded to capacity bytes.
func New(capacity int64) *SegmentCache {
	return &SegmentCache{
		capacity:  capacity,
		items:     make(map[Key]*list.Element),
		evictList: list.New(),
	}
}

// Get returns the cached bytes for key. The returned slice must be treated
// as immutable.
func (c *SegmentCache) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches the bytes for key, evicting the least recently used entries
// until the cache fits its capacity.
func (c *SegmentCache) Set(key Key, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		old := ent.Value.(*entry)
		c.size += int64(len(b)) - int64(len(old.value))
		old.value = b
	} else {
		ent := c.evictList.PushFront(&entry{key: key, value: b})
		c.items[key] = ent
		c.size += int64(len(b))
	}

	for c.capacity > 0 && c.size > c.capacity {
		oldest := c.evictList.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
	}
}

// Evict drops every entry belonging to the given rowset, used when a rowset
// is removed.
func (c *SegmentCache) Evict(rowsetID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, ent := range c.items {
		if key.RowsetID == rowsetID {
			c.removeElement(ent)
		}
	}
}

func (c *SegmentCache) removeElement(ent *list.Element) {
	e := ent.Value.(*entry)
	c.evictList.Remove(ent)
	delete(c.items, e.key)
	c.size -= int64(len(e.value))
}

// Size returns the current cached byte count.
func (c *SegmentCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns hit and miss counters.
func (c *SegmentCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
