package fsserver

import "testing"

func TestCacheGetPutPromotesToHead(t *testing.T) {
	c := NewCache[uint32, int](2, nil)
	c.Put(1, 100)
	c.Put(2, 200)

	if v, ok := c.Get(1); !ok || v != 100 {
		t.Fatalf("Get(1) = %d, %v", v, ok)
	}

	// 1 is now MRU; 2 is LRU. Inserting a third entry should evict 2.
	c.Put(3, 300)
	if _, ok := c.Get(2); ok {
		t.Fatalf("expected key 2 to have been evicted")
	}
	if v, ok := c.Get(1); !ok || v != 100 {
		t.Fatalf("key 1 should have survived eviction, got %d, %v", v, ok)
	}
	if v, ok := c.Get(3); !ok || v != 300 {
		t.Fatalf("key 3 should be present, got %d, %v", v, ok)
	}
}

func TestCacheEvictionCallsOnEvict(t *testing.T) {
	var evicted []uint32
	c := NewCache[uint32, int](1, func(k uint32, v int) {
		evicted = append(evicted, k)
	})
	c.Put(1, 1)
	c.Put(2, 2)
	if len(evicted) != 1 || evicted[0] != 1 {
		t.Fatalf("expected key 1 evicted once, got %v", evicted)
	}
}

func TestCacheRemoveSkipsOnEvict(t *testing.T) {
	called := false
	c := NewCache[uint32, int](2, func(k uint32, v int) { called = true })
	c.Put(1, 1)
	c.Remove(1)
	if called {
		t.Fatalf("Remove must not invoke onEvict")
	}
	if _, ok := c.Get(1); ok {
		t.Fatalf("removed key should be gone")
	}
}

func TestCachePurgeEvictsEveryEntry(t *testing.T) {
	var evicted []uint32
	c := NewCache[uint32, int](10, func(k uint32, v int) {
		evicted = append(evicted, k)
	})
	c.Put(1, 1)
	c.Put(2, 2)
	c.Put(3, 3)
	c.Purge()
	if len(evicted) != 3 {
		t.Fatalf("expected 3 entries purged, got %d", len(evicted))
	}
	if c.Len() != 0 {
		t.Fatalf("cache should be empty after Purge, got Len=%d", c.Len())
	}
}

func TestCachePutExistingKeyUpdatesValueWithoutEviction(t *testing.T) {
	evictions := 0
	c := NewCache[uint32, int](1, func(k uint32, v int) { evictions++ })
	c.Put(1, 1)
	c.Put(1, 2)
	if v, _ := c.Get(1); v != 2 {
		t.Fatalf("expected updated value 2, got %d", v)
	}
	if evictions != 0 {
		t.Fatalf("updating an existing key must not evict, got %d evictions", evictions)
	}
}
