package cache

import (
	"container/list"
)

// DefaultCapacity bounds the message-dedup cache when the caller does not
// pick a size.
const DefaultCapacity = 100

// LRUCache is a bounded mapping ordered by recency of access, used to make
// webhook processing idempotent under at-least-once delivery. Entries have
// no TTL: an identifier that reappears after capacity eviction is treated as
// new, which is an acceptable false negative since true duplicate deliveries
// arrive within a short window.
//
// The cache does no internal locking. Hosts that handle events concurrently
// must serialize access externally.
type LRUCache struct {
	capacity int
	items    map[string]*list.Element
	lru      *list.List
}

type entry struct {
	key   string
	value any
}

// NewLRUCache creates a cache holding at most capacity entries;
// non-positive capacities fall back to DefaultCapacity.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LRUCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		lru:      list.New(),
	}
}

// Get retrieves a value and, on a hit, marks the key most recently used.
func (c *LRUCache) Get(key string) (any, bool) {
	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(elem)
	return elem.Value.(*entry).value, true
}

// Put inserts or updates a value. An existing key has its recency refreshed;
// a new key at capacity evicts the least-recently-used entry first.
func (c *LRUCache) Put(key string, value any) {
	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*entry).value = value
		return
	}

	if c.lru.Len() >= c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}

	c.items[key] = c.lru.PushFront(&entry{key: key, value: value})
}

// Len returns the number of entries in the cache.
func (c *LRUCache) Len() int {
	return c.lru.Len()
}
