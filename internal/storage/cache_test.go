// Package storage provides the core storage engine components for PageDB.
package storage

import (
	"errors"
	"testing"
)

func loader(id PageID, calls *int) func() (*Page, error) {
	return func() (*Page, error) {
		*calls++
		return NewPage(id, PageTypeData, MinPageSize), nil
	}
}

// TestCacheHit tests that a second Get does not reload the page.
func TestCacheHit(t *testing.T) {
	c, err := NewMemoryCache(16, nil)
	if err != nil {
		t.Fatalf("NewMemoryCache() error = %v", err)
	}

	calls := 0
	a, err := c.Get(OriginData, 3, loader(3, &calls))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	b, _ := c.Get(OriginData, 3, loader(3, &calls))

	if calls != 1 {
		t.Errorf("load called %d times, want 1", calls)
	}
	if a != b {
		t.Error("Get() returned different buffers for the same key")
	}

	c.Release(a)
	c.Release(b)
	if s := c.Stats(); s.Pinned != 0 || s.Clean != 1 {
		t.Errorf("Stats() = %+v, want 0 pinned 1 clean", s)
	}

	// Clean pages are still served without loading.
	again, _ := c.Get(OriginData, 3, loader(3, &calls))
	c.Release(again)
	if calls != 1 {
		t.Errorf("load called %d times after release, want 1", calls)
	}
}

// TestCacheOriginsAreDistinct tests that data and log positions do not collide.
func TestCacheOriginsAreDistinct(t *testing.T) {
	c, _ := NewMemoryCache(16, nil)
	calls := 0
	d, _ := c.Get(OriginData, 1, loader(1, &calls))
	l, _ := c.Get(OriginLog, 1, loader(1, &calls))
	defer c.Release(d)
	defer c.Release(l)

	if calls != 2 || d == l {
		t.Errorf("origins shared a cache entry (loads = %d)", calls)
	}
}

// TestCacheEvictsClean tests LRU eviction of unpinned pages.
func TestCacheEvictsClean(t *testing.T) {
	c, _ := NewMemoryCache(16, nil)
	calls := 0
	for i := 0; i < 16; i++ {
		cp, err := c.Get(OriginData, int64(i), loader(PageID(i), &calls))
		if err != nil {
			t.Fatalf("Get(%d) error = %v", i, err)
		}
		c.Release(cp)
	}

	cp, err := c.Get(OriginData, 100, loader(100, &calls))
	if err != nil {
		t.Fatalf("Get() on a full cache error = %v", err)
	}
	c.Release(cp)

	// Page 0 was least recently used and must have been evicted.
	before := calls
	cp, _ = c.Get(OriginData, 0, loader(0, &calls))
	c.Release(cp)
	if calls != before+1 {
		t.Error("least recently used page was not evicted")
	}
}

// TestCacheExhausted tests that a cache full of pinned pages reports ResourceExhausted.
func TestCacheExhausted(t *testing.T) {
	c, _ := NewMemoryCache(16, nil)
	calls := 0
	var held []*CachedPage
	for i := 0; i < 16; i++ {
		cp, err := c.Get(OriginData, int64(i), loader(PageID(i), &calls))
		if err != nil {
			t.Fatalf("Get(%d) error = %v", i, err)
		}
		held = append(held, cp)
	}

	_, err := c.Get(OriginData, 99, loader(99, &calls))
	if !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("Get() error = %v, want ResourceExhausted", err)
	}

	// Pinned pages are untouched.
	for i, cp := range held {
		if cp.Page.Header.PageID != PageID(i) {
			t.Errorf("pinned page %d changed to %d", i, cp.Page.Header.PageID)
		}
		c.Release(cp)
	}

	if _, err := c.Get(OriginData, 99, loader(99, &calls)); err != nil {
		t.Errorf("Get() after release error = %v", err)
	}
}

// TestCacheInvalidate tests that invalidated pages are reloaded while holders keep theirs.
func TestCacheInvalidate(t *testing.T) {
	c, _ := NewMemoryCache(16, nil)
	calls := 0
	old, _ := c.Get(OriginData, 7, loader(7, &calls))

	c.Invalidate(OriginData, 7)
	fresh, _ := c.Get(OriginData, 7, loader(7, &calls))

	if calls != 2 {
		t.Errorf("load called %d times, want 2", calls)
	}
	if old == fresh {
		t.Error("Get() after Invalidate returned the stale buffer")
	}

	c.Release(old)
	c.Release(fresh)
	if s := c.Stats(); s.Clean != 1 {
		t.Errorf("Stats().Clean = %d, want 1", s.Clean)
	}
}

// TestCacheLoadError tests that load failures are passed through and not cached.
func TestCacheLoadError(t *testing.T) {
	c, _ := NewMemoryCache(16, nil)
	boom := errors.New("boom")

	_, err := c.Get(OriginData, 1, func() (*Page, error) { return nil, boom })
	if err != boom {
		t.Errorf("Get() error = %v, want %v", err, boom)
	}
	if s := c.Stats(); s.Pinned+s.Clean != 0 {
		t.Errorf("failed load left %+v in the cache", s)
	}
}
