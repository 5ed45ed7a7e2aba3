package tx

import (
	"github.com/KilimcininKorOglu/pagedb/internal/storage"
)

// Snapshot is a transaction's view of one collection. It implements
// storage.Pager.
type Snapshot struct {
	tx           *Transaction
	collectionID uint32
	version      uint64
	write        bool
	owned        bool
}

var _ storage.Pager = (*Snapshot)(nil)

// CollectionID returns the collection the snapshot belongs to.
func (s *Snapshot) CollectionID() uint32 {
	return s.collectionID
}

// Version returns the committed version the snapshot reads.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Writable reports whether the snapshot holds the collection write lock.
func (s *Snapshot) Writable() bool {
	return s.write
}

// Transaction returns the owning transaction.
func (s *Snapshot) Transaction() *Transaction {
	return s.tx
}

// PageSize returns the page size.
func (s *Snapshot) PageSize() int {
	return s.tx.m.store.PageSize()
}

func (s *Snapshot) check(op string) error {
	if s.tx.state != TxActive {
		return storage.NewError(storage.CodeInvalidArgument, op, ErrTxNotActive)
	}
	return nil
}

func (s *Snapshot) checkWrite(op string) error {
	if err := s.check(op); err != nil {
		return err
	}
	if !s.write {
		return storage.NewError(storage.CodeNotSupported, op, ErrReadSnapshot)
	}
	return nil
}

// ReadPage returns the transaction's copy of id when it changed the page,
// otherwise the committed copy at the snapshot version.
func (s *Snapshot) ReadPage(id storage.PageID) (*storage.Page, error) {
	if err := s.check("read page"); err != nil {
		return nil, err
	}
	t := s.tx
	if p, ok := t.dirty[id]; ok {
		return p, nil
	}
	if _, ok := t.freed[id]; ok {
		return nil, storage.CorruptPage("read page", id, ErrPageFreed)
	}
	if len(t.pins) >= maxPins {
		t.Safepoint()
	}
	cp, err := t.m.store.Read(id, s.version)
	if err != nil {
		return nil, err
	}
	t.pins = append(t.pins, cp)
	return cp.Page, nil
}

// WritablePage returns a private copy of id that is written at commit.
func (s *Snapshot) WritablePage(id storage.PageID) (*storage.Page, error) {
	if err := s.checkWrite("write page"); err != nil {
		return nil, err
	}
	t := s.tx
	if p, ok := t.dirty[id]; ok {
		return p, nil
	}
	if _, ok := t.freed[id]; ok {
		return nil, storage.CorruptPage("write page", id, ErrPageFreed)
	}
	if id == storage.HeaderPageID {
		return nil, storage.NewError(storage.CodeInvalidArgument, "write page", ErrHeaderPage)
	}
	p, err := t.m.store.ReadCopy(id, s.version)
	if err != nil {
		return nil, err
	}
	t.dirty[id] = p
	return p, nil
}

// NewPage allocates a page for the snapshot's collection.
func (s *Snapshot) NewPage(pt storage.PageType) (*storage.Page, error) {
	if err := s.checkWrite("new page"); err != nil {
		return nil, err
	}
	p, err := s.tx.m.allocate(s.collectionID, pt)
	if err != nil {
		return nil, err
	}
	s.tx.dirty[p.Header.PageID] = p
	s.tx.allocated = append(s.tx.allocated, p.Header.PageID)
	return p, nil
}

// FreePage drops the transaction's copy of id and links the page into the
// Empty list at commit.
func (s *Snapshot) FreePage(id storage.PageID) error {
	if err := s.checkWrite("free page"); err != nil {
		return err
	}
	if id == storage.HeaderPageID {
		return storage.NewError(storage.CodeInvalidArgument, "free page", ErrHeaderPage)
	}
	delete(s.tx.dirty, id)
	s.tx.freed[id] = struct{}{}
	return nil
}
