// Package storage provides the core storage engine components for PageDB.
package storage

// PageStore resolves versioned page reads: the log index first, then the
// data area, both through the memory cache.
type PageStore struct {
	Disk    *DiskService
	WAL     *WAL
	Index   *LogIndex
	Cache   *MemoryCache
	Metrics *Metrics
}

// NewPageStore assembles a page store over disk.
func NewPageStore(disk *DiskService, cacheSize int, m *Metrics) (*PageStore, error) {
	if m == nil {
		m = NewMetrics()
	}
	wal, err := NewWAL(disk, m)
	if err != nil {
		return nil, err
	}
	cache, err := NewMemoryCache(cacheSize, m)
	if err != nil {
		return nil, err
	}
	return &PageStore{
		Disk:    disk,
		WAL:     wal,
		Index:   NewLogIndex(),
		Cache:   cache,
		Metrics: m,
	}, nil
}

// PageSize returns the page size.
func (s *PageStore) PageSize() int {
	return s.Disk.PageSize()
}

// Read returns the newest committed copy of id visible at readVersion,
// pinned in the cache. The caller releases it with s.Cache.Release.
func (s *PageStore) Read(id PageID, readVersion uint64) (*CachedPage, error) {
	s.Index.RLock()
	defer s.Index.RUnlock()

	if pos, ok := s.Index.LookupLocked(id, readVersion); ok {
		return s.Cache.Get(OriginLog, pos, func() (*Page, error) {
			p, err := s.WAL.ReadFrame(pos)
			if err != nil {
				return nil, err
			}
			if p.Header.PageID != id {
				return nil, CorruptPage("read log", id, ErrPageIDMismatch)
			}
			return p, nil
		})
	}
	return s.Cache.Get(OriginData, int64(id), func() (*Page, error) {
		return s.Disk.ReadPage(OriginData, int64(id))
	})
}

// ReadCopy returns a private copy of the newest committed version of id.
func (s *PageStore) ReadCopy(id PageID, readVersion uint64) (*Page, error) {
	cp, err := s.Read(id, readVersion)
	if err != nil {
		return nil, err
	}
	defer s.Cache.Release(cp)
	return cp.Page.Clone(), nil
}

// Commit appends a transaction run and publishes it as the next version.
// Callers serialize commits.
func (s *PageStore) Commit(txID uint32, pages []*Page) (uint64, error) {
	positions, err := s.WAL.AppendTransaction(txID, pages)
	if err != nil {
		return 0, err
	}
	ids := make([]PageID, len(pages))
	for i, p := range pages {
		ids[i] = p.Header.PageID
	}
	return s.Index.Publish(ids, positions), nil
}

// Close closes the underlying streams.
func (s *PageStore) Close() error {
	return s.Disk.Close()
}
