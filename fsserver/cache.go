package fsserver

import "container/list"

// entry is one slot held by Cache: a key and a value. Cache's index
// maps each key to the list.Element holding its entry, for O(1) LRU
// promotion/eviction.
type entry[K comparable, V any] struct {
	key   K
	value V
}

// Cache is a fixed-capacity LRU with O(1) Get/Put/Evict, used twice in
// fsserver: once keyed on block number (the block cache), once on
// inode number (the inode cache). The index map doubles as the hash
// table, sized to the same capacity as the LRU list.
type Cache[K comparable, V any] struct {
	capacity int
	ll       *list.List
	index    map[K]*list.Element

	onEvict func(key K, value V)
}

// NewCache builds a Cache of the given capacity. onEvict is called
// synchronously whenever an entry is evicted to make room for a new
// one, or when Purge is called — callers use it to write back dirty
// entries.
func NewCache[K comparable, V any](capacity int, onEvict func(K, V)) *Cache[K, V] {
	return &Cache[K, V]{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[K]*list.Element, capacity),
		onEvict:  onEvict,
	}
}

// Get returns the cached value for key and promotes it to the LRU
// head, or reports a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	if el, ok := c.index[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Put inserts or replaces key's value at the LRU head, evicting the
// LRU tail first if the cache is at capacity.
func (c *Cache[K, V]) Put(key K, value V) {
	if el, ok := c.index[key]; ok {
		el.Value.(*entry[K, V]).value = value
		c.ll.MoveToFront(el)
		return
	}
	if c.capacity > 0 && len(c.index) >= c.capacity {
		c.evictTail()
	}
	el := c.ll.PushFront(&entry[K, V]{key: key, value: value})
	c.index[key] = el
}

// Remove drops key from the cache without invoking onEvict — used when
// the caller has already handled write-back itself (e.g. truncation
// freeing an inode entirely).
func (c *Cache[K, V]) Remove(key K) {
	if el, ok := c.index[key]; ok {
		c.ll.Remove(el)
		delete(c.index, key)
	}
}

func (c *Cache[K, V]) evictTail() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	e := el.Value.(*entry[K, V])
	c.ll.Remove(el)
	delete(c.index, e.key)
	if c.onEvict != nil {
		c.onEvict(e.key, e.value)
	}
}

// Purge calls onEvict for every remaining entry and empties the
// cache, the way Sync flushes every dirty entry.
func (c *Cache[K, V]) Purge() {
	for c.ll.Len() > 0 {
		c.evictTail()
	}
}

// Len reports the number of entries currently cached.
func (c *Cache[K, V]) Len() int { return c.ll.Len() }
