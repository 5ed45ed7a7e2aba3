// Package storage provides the core storage engine components for PageDB.
package storage

import (
	"errors"
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"
)

// ErrCacheFull is the cause reported when every cached page is pinned.
var ErrCacheFull = errors.New("memory cache is full and every page is pinned")

type cacheKey struct {
	origin   Origin
	position int64
}

// CachedPage is a pinned, read-only page held by the memory cache. The page
// must not be modified; writers clone it first.
type CachedPage struct {
	key   cacheKey
	refs  int
	stale bool
	Page  *Page
}

// Origin returns where the page was loaded from.
func (cp *CachedPage) Origin() Origin {
	return cp.key.origin
}

// Position returns the page position within its origin.
func (cp *CachedPage) Position() int64 {
	return cp.key.position
}

// CacheStats reports cache occupancy.
type CacheStats struct {
	Capacity int
	Pinned   int
	Clean    int
}

// MemoryCache is a bounded pool of immutable page images keyed by origin and
// position. A log position identifies one committed version of a page, so
// versioned reads share the cache with data-area reads.
//
// Pinned pages are never evicted. Unpinned pages move to a clean LRU tier
// and are evicted oldest first when room is needed.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	pinned   map[cacheKey]*CachedPage
	clean    *simplelru.LRU
	metrics  *Metrics
}

// NewMemoryCache creates a cache holding up to capacity pages.
func NewMemoryCache(capacity int, m *Metrics) (*MemoryCache, error) {
	clean, err := simplelru.NewLRU(capacity, nil)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = NewMetrics()
	}
	return &MemoryCache{
		capacity: capacity,
		pinned:   make(map[cacheKey]*CachedPage),
		clean:    clean,
		metrics:  m,
	}, nil
}

// Get returns the page at (origin, position) pinned, calling load on a miss.
// Release must be called once the caller is done with the page.
func (c *MemoryCache) Get(origin Origin, position int64, load func() (*Page, error)) (*CachedPage, error) {
	key := cacheKey{origin: origin, position: position}

	c.mu.Lock()
	if cp, ok := c.pinLocked(key); ok {
		c.mu.Unlock()
		c.metrics.CacheHits.Inc()
		return cp, nil
	}
	c.mu.Unlock()
	c.metrics.CacheMisses.Inc()

	p, err := load()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another reader may have loaded the same page meanwhile.
	if cp, ok := c.pinLocked(key); ok {
		return cp, nil
	}
	if len(c.pinned)+c.clean.Len() >= c.capacity {
		if _, _, ok := c.clean.RemoveOldest(); !ok {
			return nil, &Error{Code: CodeResourceExhausted, Op: "cache get", PageID: p.Header.PageID, Err: ErrCacheFull}
		}
		c.metrics.CacheEvictions.Inc()
	}
	cp := &CachedPage{key: key, refs: 1, Page: p}
	c.pinned[key] = cp
	return cp, nil
}

func (c *MemoryCache) pinLocked(key cacheKey) (*CachedPage, bool) {
	if cp, ok := c.pinned[key]; ok {
		cp.refs++
		return cp, true
	}
	if v, ok := c.clean.Get(key); ok {
		cp := v.(*CachedPage)
		c.clean.Remove(key)
		cp.refs = 1
		c.pinned[key] = cp
		return cp, true
	}
	return nil, false
}

// Release unpins a page returned by Get.
func (c *MemoryCache) Release(cp *CachedPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp.refs--
	if cp.refs > 0 {
		return
	}
	if c.pinned[cp.key] == cp {
		delete(c.pinned, cp.key)
	}
	if !cp.stale {
		c.clean.Add(cp.key, cp)
	}
}

// Invalidate drops the page at (origin, position). Holders keep their pinned
// copy; new readers load it again.
func (c *MemoryCache) Invalidate(origin Origin, position int64) {
	key := cacheKey{origin: origin, position: position}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clean.Remove(key)
	if cp, ok := c.pinned[key]; ok {
		cp.stale = true
		delete(c.pinned, key)
	}
}

// InvalidateOrigin drops every page of one origin, used when the log is
// truncated and its positions are reused.
func (c *MemoryCache) InvalidateOrigin(origin Origin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.clean.Keys() {
		if k.(cacheKey).origin == origin {
			c.clean.Remove(k)
		}
	}
	for k, cp := range c.pinned {
		if k.origin == origin {
			cp.stale = true
			delete(c.pinned, k)
		}
	}
}

// Stats returns the current occupancy.
func (c *MemoryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Capacity: c.capacity,
		Pinned:   len(c.pinned),
		Clean:    c.clean.Len(),
	}
}
