package tx

import (
	"sort"
	"time"

	"github.com/KilimcininKorOglu/pagedb/internal/storage"
)

// TxState represents the state of a transaction.
type TxState int

const (
	// TxActive indicates the transaction is in progress.
	TxActive TxState = iota
	// TxCommitted indicates the transaction was committed.
	TxCommitted
	// TxRolledBack indicates the transaction was rolled back.
	TxRolledBack
)

// String returns the string representation of a TxState.
func (s TxState) String() string {
	switch s {
	case TxActive:
		return "Active"
	case TxCommitted:
		return "Committed"
	case TxRolledBack:
		return "RolledBack"
	default:
		return "Unknown"
	}
}

// maxPins bounds the cache pages one transaction holds between safepoints.
const maxPins = 64

// Transaction is a unit of work over one or more collections. It is not
// safe for concurrent use.
type Transaction struct {
	m       *Manager
	id      uint32
	state   TxState
	started time.Time

	// version is the committed version read snapshots see, fixed at Begin.
	version  uint64
	released bool

	// snapshots holds one snapshot per collection touched.
	snapshots map[uint32]*Snapshot

	// dirty holds the private copies of every changed page.
	dirty map[storage.PageID]*storage.Page

	// freed lists pages to link into the Empty list at commit.
	freed map[storage.PageID]struct{}

	// allocated lists pages taken from the header during this transaction.
	allocated []storage.PageID

	// pins are cache pages handed out since the last safepoint.
	pins []*storage.CachedPage

	catalogChanged bool
}

// ID returns the transaction id.
func (t *Transaction) ID() uint32 {
	return t.id
}

// State returns the transaction state.
func (t *Transaction) State() TxState {
	return t.state
}

// IsActive reports whether the transaction still accepts work.
func (t *Transaction) IsActive() bool {
	return t.state == TxActive
}

// Version returns the committed version the transaction reads.
func (t *Transaction) Version() uint64 {
	return t.version
}

// Duration returns the time since Begin.
func (t *Transaction) Duration() time.Duration {
	return time.Since(t.started)
}

// DirtyPages returns the number of pages the transaction has changed.
func (t *Transaction) DirtyPages() int {
	return len(t.dirty) + len(t.freed)
}

// MarkCatalogChanged records that the transaction changed the catalog.
func (t *Transaction) MarkCatalogChanged() {
	t.catalogChanged = true
}

// CatalogChanged reports whether MarkCatalogChanged was called.
func (t *Transaction) CatalogChanged() bool {
	return t.catalogChanged
}

// Writes reports whether the transaction holds the write lock of a
// collection.
func (t *Transaction) Writes(collectionID uint32) bool {
	s, ok := t.snapshots[collectionID]
	return ok && s.write
}

// Snapshot returns the transaction's view of a collection, opening it on
// first use. Read snapshots see the version captured by Begin. A write
// snapshot takes the collection write lock and reads the latest committed
// version, which no other writer can change while the lock is held.
func (t *Transaction) Snapshot(collectionID uint32, write bool) (*Snapshot, error) {
	if t.state != TxActive {
		return nil, storage.NewError(storage.CodeInvalidArgument, "snapshot", ErrTxNotActive)
	}
	s, ok := t.snapshots[collectionID]
	if ok && (s.write || !write) {
		return s, nil
	}
	if write {
		if t.m.store.Disk.ReadOnly() {
			return nil, storage.NewError(storage.CodeNotSupported, "snapshot", storage.ErrReadOnly)
		}
		if err := t.m.locks.TryAcquireWrite(collectionID, t.m.locks.Timeout()); err != nil {
			return nil, err
		}
	}
	if s == nil {
		s = &Snapshot{tx: t, collectionID: collectionID, version: t.version}
		t.snapshots[collectionID] = s
	}
	if write {
		s.version = t.m.store.Index.Acquire()
		s.owned = true
		s.write = true
	}
	return s, nil
}

// Safepoint releases the cache pins taken by reads since the previous
// safepoint. Page pointers obtained before stay valid but may be evicted
// from the cache.
func (t *Transaction) Safepoint() {
	for _, cp := range t.pins {
		t.m.store.Cache.Release(cp)
	}
	t.pins = t.pins[:0]
}

// Commit makes the transaction's changes durable and visible.
//
// The commit protocol, under the header lock:
//  1. Link freed pages into the header's Empty list
//  2. Append the dirty pages and the header page to the log as one run
//  3. Publish the run as the next committed version
//  4. Checkpoint when the log outgrew the configured size
//
// Locks and snapshots are released afterwards.
func (t *Transaction) Commit() error {
	if t.state != TxActive {
		return storage.NewError(storage.CodeInvalidArgument, "commit", ErrTxNotActive)
	}
	t.Safepoint()

	if len(t.dirty) == 0 && len(t.freed) == 0 && len(t.allocated) == 0 {
		t.finish(TxCommitted)
		return nil
	}
	if err := t.m.Err(); err != nil {
		return err
	}

	start := time.Now()
	published, err := t.m.commit(t)
	if !published {
		return err
	}
	t.m.metrics.Commits.Inc()
	t.m.metrics.CommitDuration.UpdateDuration(start)
	t.finish(TxCommitted)
	return err
}

// Rollback discards the transaction's changes without writing to the log.
// Pages allocated by the transaction go back to the in-memory Empty list
// and become durable with the next commit. Rollback after Commit or
// Rollback does nothing.
func (t *Transaction) Rollback() error {
	if t.state != TxActive {
		return nil
	}
	t.Safepoint()
	if len(t.allocated) > 0 {
		t.m.returnPages(t.allocated)
	}
	t.m.metrics.Rollbacks.Inc()
	t.finish(TxRolledBack)
	return nil
}

// releaseReads unregisters the versions the transaction reads so a
// checkpoint running inside the commit is not held back by it.
func (t *Transaction) releaseReads() {
	if !t.released {
		t.m.store.Index.Release(t.version)
		t.released = true
	}
	for _, s := range t.snapshots {
		if s.owned {
			t.m.store.Index.Release(s.version)
			s.owned = false
		}
	}
}

func (t *Transaction) finish(state TxState) {
	t.releaseReads()
	for id, s := range t.snapshots {
		if s.write {
			t.m.locks.ReleaseWrite(id)
		}
	}
	t.snapshots = nil
	t.dirty = nil
	t.freed = nil
	t.allocated = nil
	t.state = state
	t.m.end(t)
}

// pages returns the dirty pages ordered by id.
func (t *Transaction) pages() []*storage.Page {
	out := make([]*storage.Page, 0, len(t.dirty))
	for _, p := range t.dirty {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Header.PageID < out[j].Header.PageID })
	return out
}
