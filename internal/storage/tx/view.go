package tx

import (
	"errors"

	"github.com/KilimcininKorOglu/pagedb/internal/storage"
)

// ErrViewReadOnly is returned by the write methods of a View.
var ErrViewReadOnly = errors.New("view is read-only")

// View is a read-only page view at the latest committed version that lives
// outside any transaction. It does not take the shared transaction lock, so
// it can be used while the header lock is held.
type View struct {
	store        *storage.PageStore
	collectionID uint32
	version      uint64
	pins         []*storage.CachedPage
	closed       bool
}

var _ storage.Pager = (*View)(nil)

// View opens a read-only view of collectionID. Close releases it.
func (m *Manager) View(collectionID uint32) *View {
	return &View{
		store:        m.store,
		collectionID: collectionID,
		version:      m.store.Index.Acquire(),
	}
}

// Version returns the committed version the view reads.
func (v *View) Version() uint64 { return v.version }

// PageSize returns the page size.
func (v *View) PageSize() int { return v.store.PageSize() }

// CollectionID returns the collection the view belongs to.
func (v *View) CollectionID() uint32 { return v.collectionID }

// ReadPage returns the committed copy of id at the view version.
func (v *View) ReadPage(id storage.PageID) (*storage.Page, error) {
	if len(v.pins) >= maxPins {
		v.release()
	}
	cp, err := v.store.Read(id, v.version)
	if err != nil {
		return nil, err
	}
	v.pins = append(v.pins, cp)
	return cp.Page, nil
}

// WritablePage fails: views are read-only.
func (v *View) WritablePage(storage.PageID) (*storage.Page, error) {
	return nil, storage.NewError(storage.CodeNotSupported, "write page", ErrViewReadOnly)
}

// NewPage fails: views are read-only.
func (v *View) NewPage(storage.PageType) (*storage.Page, error) {
	return nil, storage.NewError(storage.CodeNotSupported, "new page", ErrViewReadOnly)
}

// FreePage fails: views are read-only.
func (v *View) FreePage(storage.PageID) error {
	return storage.NewError(storage.CodeNotSupported, "free page", ErrViewReadOnly)
}

func (v *View) release() {
	for _, cp := range v.pins {
		v.store.Cache.Release(cp)
	}
	v.pins = v.pins[:0]
}

// Close releases the view. It is safe to call more than once.
func (v *View) Close() {
	if v.closed {
		return
	}
	v.closed = true
	v.release()
	v.store.Index.Release(v.version)
}
