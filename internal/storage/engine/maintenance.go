package engine

import (
	"errors"
	"io"
	"time"

	"github.com/KilimcininKorOglu/pagedb/internal/storage"
)

// Pragma errors.
var (
	ErrInvalidTimeout   = errors.New("timeout must be positive")
	ErrInvalidLimitSize = errors.New("limit size is below the current file size")
)

// CollectionStats describes the pages of one collection.
type CollectionStats struct {
	Name       string
	Documents  int
	Indexes    int
	DataPages  int
	IndexPages int
	FreeBytes  int64
}

// Stats is a point-in-time description of the database.
type Stats struct {
	Path               string
	PageSize           int
	Encrypted          bool
	Collation          string
	DataSize           int64
	LogSize            int64
	LogFrames          int64
	LastPageID         storage.PageID
	FreePages          int
	Version            uint64
	ActiveTransactions int
	Cache              storage.CacheStats
	Collections        []CollectionStats
}

// Checkpoint copies the committed log into the data file. The log is
// emptied when no reader still needs it.
func (e *Engine) Checkpoint() (*storage.CheckpointResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, err := e.acquire("checkpoint")
	if err != nil {
		return nil, err
	}
	res, err := c.txm.Checkpoint()
	if err != nil {
		return nil, err
	}
	e.log.Debug("checkpoint", "pages", res.Pages, "truncated", res.Truncated)
	return res, nil
}

// Pragmas returns the persisted engine settings.
func (e *Engine) Pragmas() (storage.Pragmas, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, err := e.acquire("pragmas")
	if err != nil {
		return storage.Pragmas{}, err
	}
	return c.txm.Header().Pragmas, nil
}

// UpdatePragmas applies fn to the persisted settings and commits them. The
// collation cannot change here; Rebuild changes it.
func (e *Engine) UpdatePragmas(fn func(p *storage.Pragmas) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, err := e.acquire("update pragmas")
	if err != nil {
		return err
	}
	var next storage.Pragmas
	err = c.txm.UpdateHeader(func(h *storage.FileHeader) error {
		next = h.Pragmas
		if err := fn(&next); err != nil {
			return err
		}
		switch {
		case next.Collation != h.Pragmas.Collation:
			return storage.NewError(storage.CodeInvalidArgument, "update pragmas", ErrCollationChange)
		case next.Timeout <= 0:
			return storage.NewError(storage.CodeInvalidArgument, "update pragmas", ErrInvalidTimeout)
		case next.LimitSize < 0,
			next.LimitSize > 0 && next.LimitSize < (int64(h.LastPageID)+1)*int64(h.PageSize):
			return storage.NewError(storage.CodeInvalidArgument, "update pragmas", ErrInvalidLimitSize)
		}
		h.Pragmas = next
		return nil
	})
	if err != nil {
		return err
	}
	c.locks.SetTimeout(next.Timeout)
	c.txm.SetCheckpointSize(int(next.CheckpointSize))
	return nil
}

// UserVersion returns the application-defined schema version.
func (e *Engine) UserVersion() (int32, error) {
	p, err := e.Pragmas()
	return p.UserVersion, err
}

// SetUserVersion stores the application-defined schema version.
func (e *Engine) SetUserVersion(v int32) error {
	return e.UpdatePragmas(func(p *storage.Pragmas) error {
		p.UserVersion = v
		return nil
	})
}

// SetTimeout changes the persisted lock timeout.
func (e *Engine) SetTimeout(d time.Duration) error {
	return e.UpdatePragmas(func(p *storage.Pragmas) error {
		p.Timeout = d
		return nil
	})
}

// Stats walks the file and describes it.
func (e *Engine) Stats() (*Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, err := e.acquire("stats")
	if err != nil {
		return nil, err
	}

	h := c.txm.Header()
	st := &Stats{
		Path:               e.settings.Path,
		PageSize:           int(h.PageSize),
		Encrypted:          h.Encrypted,
		Collation:          h.Pragmas.Collation,
		LastPageID:         h.LastPageID,
		LogFrames:          c.store.WAL.Frames(),
		Version:            c.store.Index.Version(),
		ActiveTransactions: c.txm.Active(),
		Cache:              c.store.Cache.Stats(),
	}
	if st.DataSize, err = c.store.Disk.DataSize(); err != nil {
		return nil, storage.NewError(storage.CodeFaulted, "stats", err)
	}
	if st.LogSize, err = c.store.Disk.LogSize(); err != nil {
		return nil, storage.NewError(storage.CodeFaulted, "stats", err)
	}
	if st.FreePages, err = c.freePages(h); err != nil {
		return nil, err
	}

	err = c.run(func(x *Tx) error {
		names, err := x.ListCollections()
		if err != nil {
			return err
		}
		for _, name := range names {
			hd, err := c.catalog.Open(x.t, name, false)
			if err != nil {
				return err
			}
			docs, _, err := hd.Index.Count(hd.PrimaryKey())
			if err != nil {
				return err
			}
			as, err := hd.Alloc.Stats()
			if err != nil {
				return storage.WithCollection(err, name)
			}
			st.Collections = append(st.Collections, CollectionStats{
				Name:       name,
				Documents:  docs,
				Indexes:    len(hd.Indexes),
				DataPages:  as.DataPages,
				IndexPages: as.IndexPages,
				FreeBytes:  as.FreeBytes,
			})
			x.t.Safepoint()
		}
		return nil
	})
	return st, err
}

// freePages counts the Empty list.
func (c *core) freePages(h *storage.FileHeader) (int, error) {
	v := c.txm.View(0)
	defer v.Close()
	n := 0
	for id := h.FreeEmptyPageList; id != 0; n++ {
		if n > int(h.LastPageID) {
			return n, storage.CorruptPage("stats", id, errors.New("empty list has a cycle"))
		}
		p, err := v.ReadPage(id)
		if err != nil {
			return n, err
		}
		id = p.Header.NextPageID
	}
	return n, nil
}

// WriteMetrics writes the engine metrics in Prometheus text format.
func (e *Engine) WriteMetrics(w io.Writer) {
	e.metrics.WritePrometheus(w)
}

func (e *Engine) registerGauges() {
	e.metrics.Gauge("pagedb_log_pages", func() float64 {
		return float64(e.core.Load().store.WAL.Frames())
	})
	e.metrics.Gauge("pagedb_active_transactions", func() float64 {
		return float64(e.core.Load().txm.Active())
	})
	e.metrics.Gauge("pagedb_cache_pinned_pages", func() float64 {
		return float64(e.core.Load().store.Cache.Stats().Pinned)
	})
	e.metrics.Gauge("pagedb_data_pages", func() float64 {
		return float64(e.core.Load().txm.Header().LastPageID + 1)
	})
}
