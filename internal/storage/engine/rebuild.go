package engine

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/catalog"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/data"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/document"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/index"
)

// RebuildErrors is the collection salvage writes unreadable records to.
const RebuildErrors = "_rebuild_errors"

// rebuildBatch is the number of documents copied per transaction.
const rebuildBatch = 1000

// RebuildOptions controls Rebuild.
type RebuildOptions struct {
	// Collation replaces the collation when not nil. "" is binary.
	Collation *string

	// Password replaces the password when not nil. "" removes encryption.
	Password *string

	// Salvage copies documents by scanning every page instead of walking
	// the catalog and the _id indexes. Records that cannot be read are
	// written to the _rebuild_errors collection.
	Salvage bool
}

// Rebuild writes a compacted copy of the database and swaps it in. The
// previous file is kept at Settings.BackupPath. It returns the number of
// bytes reclaimed. No transaction may be active for longer than the lock
// timeout.
func (e *Engine) Rebuild(opts RebuildOptions) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	src, err := e.acquire("rebuild")
	if err != nil {
		return 0, err
	}
	if src.settings.ReadOnly {
		return 0, storage.NewError(storage.CodeNotSupported, "rebuild", storage.ErrReadOnly)
	}
	if err := src.locks.EnterExclusive(); err != nil {
		return 0, err
	}
	if _, err := src.txm.Checkpoint(); err != nil {
		src.locks.ExitExclusive()
		return 0, err
	}
	before, err := src.store.Disk.DataSize()
	if err != nil {
		src.locks.ExitExclusive()
		return 0, storage.NewError(storage.CodeFaulted, "rebuild", err)
	}

	c, err := e.rebuild(src, opts)
	if err != nil {
		src.locks.ExitExclusive()
		return 0, err
	}
	e.core.Store(c)
	after, err := c.store.Disk.DataSize()
	if err != nil {
		return 0, storage.NewError(storage.CodeFaulted, "rebuild", err)
	}
	e.log.Info("rebuild complete", "before", before, "after", after, "salvage", opts.Salvage)
	return before - after, nil
}

// rebuild copies src into a new file and returns the core that replaces
// it. src is closed on success and left open on failure.
func (e *Engine) rebuild(src *core, opts RebuildOptions) (*core, error) {
	target, final, err := e.rebuildSettings(src, opts)
	if err != nil {
		return nil, err
	}
	if !target.InMemory() {
		removeFiles(target.Path, target.LogPath())
	}

	dst, err := openCore(target, e.metrics, e.log)
	if err != nil {
		return nil, err
	}
	discard := func(err error) (*core, error) {
		dst.close()
		if !target.InMemory() {
			removeFiles(target.Path, target.LogPath())
		}
		return nil, err
	}
	if err := dst.loadCatalog(); err != nil {
		return discard(err)
	}
	userVersion := src.txm.Header().Pragmas.UserVersion
	if err := dst.txm.UpdateHeader(func(h *storage.FileHeader) error {
		h.Pragmas.UserVersion = userVersion
		return nil
	}); err != nil {
		return discard(err)
	}

	if opts.Salvage {
		err = salvage(src, dst)
	} else {
		err = copyCollections(src, dst)
		if storage.CodeOf(err) == storage.CodeCorruption && src.autoRebuild() {
			e.log.Warn("rebuild hit corruption, salvaging", "error", err)
			dst.close()
			if !target.InMemory() {
				removeFiles(target.Path, target.LogPath())
			}
			opts.Salvage = true
			return e.rebuild(src, opts)
		}
	}
	if err != nil {
		return discard(err)
	}

	if target.InMemory() {
		src.release()
		e.settings = final
		return dst, nil
	}
	if err := dst.close(); err != nil {
		removeFiles(target.Path, target.LogPath())
		return nil, err
	}
	if _, err := src.txm.Checkpoint(); err != nil {
		e.log.Warn("checkpoint before swap failed", "error", err)
	}
	src.release()

	backup := final
	backup.Path = final.BackupPath()
	removeFiles(backup.Path, backup.LogPath())
	for _, mv := range [][2]string{
		{final.Path, backup.Path},
		{final.LogPath(), backup.LogPath()},
		{target.Path, final.Path},
	} {
		if err := os.Rename(mv[0], mv[1]); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, storage.NewError(storage.CodeFaulted, "rebuild", err)
		}
	}
	removeFiles(target.LogPath())

	c, err := openCore(final, e.metrics, e.log)
	if err != nil {
		return nil, err
	}
	if err := c.loadCatalog(); err != nil {
		c.close()
		return nil, err
	}
	e.settings = final
	return c, nil
}

// rebuildSettings returns the settings the copy is created with and the
// settings the rebuilt file is opened with.
func (e *Engine) rebuildSettings(src *core, opts RebuildOptions) (target, final storage.Settings, err error) {
	h := src.txm.Header()
	final = src.settings
	final.Collation = h.Pragmas.Collation
	if opts.Collation != nil {
		if _, err := document.ParseCollation(*opts.Collation); err != nil {
			return target, final, storage.NewError(storage.CodeInvalidArgument, "rebuild", err)
		}
		final.Collation = *opts.Collation
	}
	if opts.Password != nil {
		final.Password = *opts.Password
	}
	final.Timeout = h.Pragmas.Timeout
	final.LimitSize = h.Pragmas.LimitSize
	final.CheckpointSize = int(h.Pragmas.CheckpointSize)
	final.AutoRebuild = h.Pragmas.AutoRebuild
	final.InitialSize = 0
	final.PageSize = int(h.PageSize)

	target = final
	if !final.InMemory() {
		target.Path = final.TempPath()
	}
	if err := target.Validate(); err != nil {
		return target, final, storage.NewError(storage.CodeInvalidArgument, "rebuild", err)
	}
	return target, final, nil
}

// release closes the file of a core whose locks are held by the caller.
func (c *core) release() {
	c.collation.Close()
	if err := c.store.Close(); err != nil {
		c.log.Warn("closing replaced file", "error", err)
	}
}

func removeFiles(paths ...string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

// batcher inserts documents into one collection of dst in transactions of
// rebuildBatch documents.
type batcher struct {
	dst  *core
	coll string
	docs []*document.Document
	// reject receives documents the copy refused, when set. Otherwise a
	// refused document fails the rebuild.
	reject func(doc *document.Document, err error)
}

func (b *batcher) add(doc *document.Document) error {
	b.docs = append(b.docs, doc)
	if len(b.docs) >= rebuildBatch {
		return b.flush()
	}
	return nil
}

func (b *batcher) flush() error {
	if len(b.docs) == 0 {
		return nil
	}
	err := b.dst.run(func(x *Tx) error {
		for _, doc := range b.docs {
			_, err := x.Insert(b.coll, doc)
			if err == nil {
				continue
			}
			code := storage.CodeOf(err)
			if b.reject == nil || (code != storage.CodeDuplicateKey && code != storage.CodeInvalidArgument) {
				return err
			}
			b.reject(doc, err)
		}
		return nil
	})
	b.docs = b.docs[:0]
	return err
}

// copyCollections copies every collection through the catalog, creating
// the indexes first so key conflicts under a new collation fail the copy.
func copyCollections(src, dst *core) error {
	for _, col := range src.catalog.Collections() {
		if err := copyCollection(src, dst, col); err != nil {
			return storage.WithCollection(err, col.Name)
		}
	}
	return nil
}

func copyCollection(src, dst *core, col *catalog.Collection) error {
	v := src.txm.View(col.ID)
	defer v.Close()
	p, err := v.ReadPage(col.PageID)
	if err != nil {
		return err
	}
	if col, err = catalog.DecodeCollection(p); err != nil {
		return err
	}

	err = dst.run(func(x *Tx) error {
		if err := x.CreateCollection(col.Name); err != nil {
			return err
		}
		for _, def := range col.Indexes {
			if def.Name == index.PrimaryKey {
				continue
			}
			if _, err := x.EnsureIndex(col.Name, def.Name, def.Expression, def.Unique); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	h := src.catalog.Bind(col, v)
	it := h.Index.Scan(h.PrimaryKey(), index.Ascending)
	b := &batcher{dst: dst, coll: col.Name}
	for {
		n, err := it.Next()
		if err != nil {
			return err
		}
		if n == nil {
			break
		}
		doc, err := h.Document(n.Data)
		if err != nil {
			return err
		}
		if err := b.add(doc); err != nil {
			return err
		}
	}
	return b.flush()
}

// salvaged is what a page scan found of one collection.
type salvaged struct {
	col   *catalog.Collection
	pages []storage.PageID
}

// salvage copies every readable document found on a Data page. Collection
// pages provide names and index definitions when they are readable.
// Everything that could not be copied is described in RebuildErrors.
func salvage(src, dst *core) error {
	var problems []*document.Document
	note := func(coll string, page storage.PageID, err error) {
		problems = append(problems, document.New().
			Set("collection", coll).
			Set("page", int64(page)).
			Set("error", err.Error()).
			Set("created", time.Now().UTC()))
	}

	found := make(map[uint32]*salvaged)
	get := func(id uint32) *salvaged {
		s, ok := found[id]
		if !ok {
			s = &salvaged{}
			found[id] = s
		}
		return s
	}
	h := src.txm.Header()
	v := src.txm.View(catalog.ID)
	for id := storage.PageID(1); id <= h.LastPageID; id++ {
		p, err := v.ReadPage(id)
		if err != nil {
			note("", id, err)
			continue
		}
		owner := p.Header.CollectionID
		if owner == catalog.ID {
			continue
		}
		switch p.Header.PageType {
		case storage.PageTypeCollection:
			col, err := catalog.DecodeCollection(p)
			if err != nil {
				note("", id, err)
				continue
			}
			get(owner).col = col
		case storage.PageTypeData:
			s := get(owner)
			s.pages = append(s.pages, id)
		}
	}
	v.Close()

	ids := make([]uint32, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		s := found[id]
		fallback := fmt.Sprintf("collection_%d", id)
		name := fallback
		if s.col != nil && catalog.CheckName(s.col.Name) == nil {
			name = s.col.Name
		}
		err := dst.run(func(x *Tx) error { return x.CreateCollection(name) })
		if errors.Is(err, catalog.ErrCollectionExists) && name != fallback {
			name = fallback
			err = dst.run(func(x *Tx) error { return x.CreateCollection(name) })
		}
		if err != nil {
			return err
		}

		cv := src.txm.View(id)
		ds := data.New(cv, nil)
		b := &batcher{dst: dst, coll: name}
		var page storage.PageID
		b.reject = func(_ *document.Document, err error) { note(name, page, err) }
		for _, page = range s.pages {
			p, err := cv.ReadPage(page)
			if err != nil {
				note(name, page, err)
				continue
			}
			for _, addr := range data.Heads(p) {
				raw, err := ds.Read(addr)
				if err != nil {
					note(name, page, err)
					continue
				}
				doc, err := document.Decode(raw)
				if err != nil {
					note(name, page, err)
					continue
				}
				if err := b.add(doc); err != nil {
					cv.Close()
					return err
				}
			}
		}
		err = b.flush()
		cv.Close()
		if err != nil {
			return err
		}

		if s.col == nil {
			continue
		}
		for _, def := range s.col.Indexes {
			if def.Name == index.PrimaryKey {
				continue
			}
			err := dst.run(func(x *Tx) error {
				_, err := x.EnsureIndex(name, def.Name, def.Expression, def.Unique)
				return err
			})
			if storage.CodeOf(err) == storage.CodeDuplicateKey {
				note(name, 0, err)
			} else if err != nil {
				return err
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	src.log.Warn("salvage left records behind", "count", len(problems))
	b := &batcher{dst: dst, coll: RebuildErrors}
	for _, doc := range problems {
		if err := b.add(doc); err != nil {
			return err
		}
	}
	return b.flush()
}
