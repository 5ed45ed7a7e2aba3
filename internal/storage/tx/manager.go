package tx

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/KilimcininKorOglu/pagedb/internal/logging"
	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/lock"
)

// Transaction manager errors.
var (
	ErrTxNotActive  = errors.New("transaction is not active")
	ErrReadSnapshot = errors.New("snapshot was opened read-only")
	ErrPageFreed    = errors.New("page was freed by this transaction")
	ErrHeaderPage   = errors.New("header page is managed by the transaction manager")
	ErrFileFull     = errors.New("data file reached its size limit")
)

// Config configures a Manager.
type Config struct {
	// CheckpointSize triggers a checkpoint after a commit once the log
	// holds at least this many frames. Zero disables it.
	CheckpointSize int

	// Logger receives commit and checkpoint events.
	Logger logging.Logger
}

// Manager creates transactions and serializes their commits. It owns the
// in-memory header: page allocation and the Empty list are updated on it
// under the header lock and made durable by the next committed run.
// Pages returned by rolled back transactions wait in returned until then.
type Manager struct {
	store   *storage.PageStore
	locks   *lock.Service
	metrics *storage.Metrics
	log     logging.Logger

	// hmu is the header lock. It also serializes commits and checkpoints.
	hmu    sync.Mutex
	header   *storage.FileHeader
	returned map[storage.PageID]*storage.Page

	checkpointSize int
	nextTxID       atomic.Uint32
	active         *xsync.MapOf[uint32, *Transaction]
	faulted        atomic.Pointer[storage.Error]
	catalogVersion atomic.Uint64
}

// NewManager creates a manager over store. header is the committed header,
// lastTxID the largest transaction id found by recovery.
func NewManager(store *storage.PageStore, locks *lock.Service, header *storage.FileHeader, lastTxID uint32, cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	m := &Manager{
		store:          store,
		locks:          locks,
		metrics:        store.Metrics,
		log:            cfg.Logger,
		header:         header.Clone(),
		returned:       make(map[storage.PageID]*storage.Page),
		checkpointSize: cfg.CheckpointSize,
		active:         xsync.NewMapOf[uint32, *Transaction](),
	}
	m.nextTxID.Store(lastTxID)
	return m
}

// CatalogVersion returns the version of the last commit that called
// MarkCatalogChanged, or zero.
func (m *Manager) CatalogVersion() uint64 {
	return m.catalogVersion.Load()
}

// Store returns the page store.
func (m *Manager) Store() *storage.PageStore {
	return m.store
}

// Locks returns the lock service.
func (m *Manager) Locks() *lock.Service {
	return m.locks
}

// Err returns the fault that stopped the manager, or nil.
func (m *Manager) Err() error {
	if e := m.faulted.Load(); e != nil {
		return e
	}
	return nil
}

// fault records a disk failure. Every later commit and Begin fails.
func (m *Manager) fault(op string, err error) error {
	e := &storage.Error{Code: storage.CodeFaulted, Op: op, Err: err}
	if m.faulted.CompareAndSwap(nil, e) {
		m.log.Error("engine faulted", "op", op, "error", err)
	}
	return m.Err()
}

// Begin starts a transaction reading the latest committed version. It
// blocks while an exclusive operation runs.
func (m *Manager) Begin() (*Transaction, error) {
	if err := m.Err(); err != nil {
		return nil, err
	}
	if err := m.locks.EnterTransaction(); err != nil {
		return nil, err
	}
	t := &Transaction{
		m:         m,
		id:        m.nextTxID.Add(1),
		state:     TxActive,
		started:   time.Now(),
		version:   m.store.Index.Acquire(),
		snapshots: make(map[uint32]*Snapshot),
		dirty:     make(map[storage.PageID]*storage.Page),
		freed:     make(map[storage.PageID]struct{}),
	}
	m.active.Store(t.id, t)
	return t, nil
}

// Run executes fn in a new transaction, committing when fn succeeds and
// rolling back otherwise.
func (m *Manager) Run(fn func(t *Transaction) error) error {
	t, err := m.Begin()
	if err != nil {
		return err
	}
	defer t.Rollback()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (m *Manager) end(t *Transaction) {
	m.active.Delete(t.id)
	m.locks.ExitTransaction()
}

// Active returns the number of open transactions.
func (m *Manager) Active() int {
	return m.active.Size()
}

// Header returns a copy of the current header, including allocations not
// yet committed.
func (m *Manager) Header() *storage.FileHeader {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	return m.header.Clone()
}

// ReserveCollectionID hands out the next collection id. It becomes durable
// with the next commit.
func (m *Manager) ReserveCollectionID() uint32 {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	id := m.header.NextCollectionID
	m.header.NextCollectionID++
	return id
}

// SetCatalogPageID records the catalog's Collection page. It becomes
// durable with the next commit.
func (m *Manager) SetCatalogPageID(id storage.PageID) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.header.CatalogPageID = id
}

// SetCheckpointSize changes the automatic checkpoint threshold.
func (m *Manager) SetCheckpointSize(frames int) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.checkpointSize = frames
}

// UpdateHeader applies fn to the header and commits it as a run of its own.
func (m *Manager) UpdateHeader(fn func(h *storage.FileHeader) error) error {
	if m.store.Disk.ReadOnly() {
		return storage.NewError(storage.CodeNotSupported, "update header", storage.ErrReadOnly)
	}
	if err := m.Err(); err != nil {
		return err
	}
	m.hmu.Lock()
	defer m.hmu.Unlock()

	h := m.header.Clone()
	if err := fn(h); err != nil {
		return err
	}
	hp, err := h.ToPage()
	if err != nil {
		return storage.NewError(storage.CodeInvalidArgument, "update header", err)
	}
	if _, err := m.store.Commit(0, append(m.takeReturned(), hp)); err != nil {
		return m.fault("update header", err)
	}
	m.header = h
	return nil
}

// allocate hands out a page, reusing the head of the Empty list when there
// is one and extending the file otherwise.
func (m *Manager) allocate(collectionID uint32, pt storage.PageType) (*storage.Page, error) {
	m.hmu.Lock()
	defer m.hmu.Unlock()

	h := m.header
	var p *storage.Page
	if id := h.FreeEmptyPageList; id != 0 {
		cur, ok := m.returned[id]
		if ok {
			delete(m.returned, id)
		} else {
			var err error
			if cur, err = m.store.ReadCopy(id, m.store.Index.Version()); err != nil {
				return nil, err
			}
		}
		if cur.Header.PageType != storage.PageTypeEmpty {
			return nil, storage.CorruptPage("allocate", id, errors.New("empty list links a page in use"))
		}
		h.FreeEmptyPageList = cur.Header.NextPageID
		p = cur
		p.Reset(pt)
	} else {
		next := h.LastPageID + 1
		if limit := h.Pragmas.LimitSize; limit > 0 && (int64(next)+1)*int64(h.PageSize) > limit {
			return nil, storage.NewError(storage.CodeResourceExhausted, "allocate", ErrFileFull)
		}
		h.LastPageID = next
		p = storage.NewPage(next, pt, int(h.PageSize))
	}
	p.Header.CollectionID = collectionID
	return p, nil
}

// emptyPage turns id into an Empty page at the head of the Empty list.
// Callers hold hmu.
func (m *Manager) emptyPage(id storage.PageID) *storage.Page {
	p := storage.NewPage(id, storage.PageTypeEmpty, int(m.header.PageSize))
	p.Header.NextPageID = m.header.FreeEmptyPageList
	m.header.FreeEmptyPageList = id
	return p
}

// commit writes t and reports whether its run was published. A failure
// after publishing, in the automatic checkpoint, still leaves t committed.
func (m *Manager) commit(t *Transaction) (bool, error) {
	m.hmu.Lock()
	defer m.hmu.Unlock()

	for id := range t.freed {
		t.dirty[id] = m.emptyPage(id)
	}
	pages := t.pages()
	hp, err := m.header.ToPage()
	if err != nil {
		return false, storage.NewError(storage.CodeInvalidArgument, "commit", err)
	}
	pages = append(pages, m.takeReturned()...)
	pages = append(pages, hp)

	version, err := m.store.Commit(t.id, pages)
	if err != nil {
		return false, m.fault("commit", err)
	}
	m.log.Debug("transaction committed", "tx", t.id, "pages", len(pages), "version", version)

	if t.catalogChanged {
		m.catalogVersion.Store(version)
	}
	t.releaseReads()
	if m.checkpointSize > 0 && m.store.WAL.Frames() >= int64(m.checkpointSize) {
		if _, err := m.checkpointLocked(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// returnPages links pages a rolled back transaction allocated back into
// the in-memory Empty list.
func (m *Manager) returnPages(ids []storage.PageID) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	for _, id := range ids {
		m.returned[id] = m.emptyPage(id)
	}
}

// Returned returns the number of pages waiting for a commit to make their
// return to the Empty list durable.
func (m *Manager) Returned() int {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	return len(m.returned)
}

// takeReturned hands the pending Empty pages to a run. Callers hold hmu.
func (m *Manager) takeReturned() []*storage.Page {
	if len(m.returned) == 0 {
		return nil
	}
	pages := make([]*storage.Page, 0, len(m.returned))
	for id, p := range m.returned {
		pages = append(pages, p)
		delete(m.returned, id)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Header.PageID < pages[j].Header.PageID })
	return pages
}

// Checkpoint merges the log into the data area. Pages returned by rolled
// back transactions are committed first.
func (m *Manager) Checkpoint() (*storage.CheckpointResult, error) {
	if err := m.Err(); err != nil {
		return nil, err
	}
	m.hmu.Lock()
	defer m.hmu.Unlock()
	if len(m.returned) > 0 && !m.store.Disk.ReadOnly() {
		hp, err := m.header.ToPage()
		if err != nil {
			return nil, storage.NewError(storage.CodeInvalidArgument, "checkpoint", err)
		}
		if _, err := m.store.Commit(0, append(m.takeReturned(), hp)); err != nil {
			return nil, m.fault("checkpoint", err)
		}
	}
	return m.checkpointLocked()
}

func (m *Manager) checkpointLocked() (*storage.CheckpointResult, error) {
	res, err := m.store.Checkpoint()
	if err != nil {
		if storage.CodeOf(err) == storage.CodeFaulted {
			return nil, m.fault("checkpoint", err)
		}
		return nil, err
	}
	m.log.Debug("checkpoint", "pages", res.Pages, "upto", res.Upto, "truncated", res.Truncated)
	return res, nil
}
