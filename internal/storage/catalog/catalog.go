package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/KilimcininKorOglu/pagedb/internal/logging"
	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/alloc"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/document"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/index"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/tx"
)

const (
	// Name is the reserved catalog collection.
	Name = "$catalog"
	// ID is the collection id of the catalog.
	ID uint32 = 0
	// MaxNameLength bounds collection and index names.
	MaxNameLength = 60
	// MaxIndexes bounds the indexes of one collection, _id included.
	MaxIndexes = 32
)

// Catalog errors.
var (
	ErrInvalidName        = errors.New("invalid name")
	ErrReservedName       = errors.New("name is reserved")
	ErrCollectionExists   = errors.New("collection already exists")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrIndexExists        = errors.New("index already exists with another definition")
	ErrPrimaryKeyIndex    = errors.New("the _id index cannot be dropped")
	ErrTooManyIndexes     = errors.New("too many indexes")
)

// mirror is an immutable picture of the catalog at one committed version.
type mirror struct {
	version uint64
	stale   bool
	byName  map[string]*Collection
}

// Catalog is the collection registry of one engine.
type Catalog struct {
	m         *tx.Manager
	collation *document.Collation
	log       logging.Logger
	root      storage.PageID
	state     atomic.Pointer[mirror]
}

// New returns a catalog whose Collection page is root. Call Bootstrap on a
// new file or Load on an existing one before use, and Commit to commit
// transactions that change the catalog.
func New(m *tx.Manager, root storage.PageID, collation *document.Collation, log logging.Logger) *Catalog {
	if log == nil {
		log = logging.NewNop()
	}
	c := &Catalog{m: m, collation: collation, log: log, root: root}
	c.state.Store(&mirror{stale: true, byName: map[string]*Collection{}})
	return c
}

// Commit commits t and, when t changed the catalog, reloads the mirror.
func (c *Catalog) Commit(t *tx.Transaction) error {
	err := t.Commit()
	if t.State() == tx.TxCommitted && t.CatalogChanged() {
		c.Refresh()
	}
	return err
}

// Refresh reloads the mirror, leaving it stale when that fails. Lookups
// then read the catalog pages.
func (c *Catalog) Refresh() {
	if err := c.Load(); err != nil {
		c.log.Error("catalog reload failed", "error", err)
		c.state.Store(&mirror{stale: true, byName: map[string]*Collection{}})
	}
}

// Collation returns the collation of user indexes.
func (c *Catalog) Collation() *document.Collation {
	return c.collation
}

// Bootstrap creates the catalog collection of a new file in t.
func (c *Catalog) Bootstrap(t *tx.Transaction) error {
	snap, err := t.Snapshot(ID, true)
	if err != nil {
		return err
	}
	h, err := c.create(snap, ID, Name)
	if err != nil {
		return err
	}
	c.root = h.PageID
	c.m.SetCatalogPageID(h.PageID)
	t.MarkCatalogChanged()
	return nil
}

// create lays out a new collection: its Collection page, allocation map
// and _id index.
func (c *Catalog) create(snap *tx.Snapshot, id uint32, name string) (*Handle, error) {
	page, err := snap.NewPage(storage.PageTypeCollection)
	if err != nil {
		return nil, err
	}
	am, err := alloc.Create(snap)
	if err != nil {
		return nil, err
	}
	col := &Collection{
		ID:        id,
		Name:      name,
		PageID:    page.Header.PageID,
		AllocPage: am.PageID(),
		Created:   time.Now().UTC(),
	}
	h := c.handle(col, snap)
	pk, err := index.NewDefinition(index.PrimaryKey, "$."+document.IDField, true)
	if err != nil {
		return nil, err
	}
	if err := h.Index.Create(pk); err != nil {
		return nil, err
	}
	col.Indexes = []*index.Definition{pk}
	return h, h.Save()
}

// handle opens col through pager. Catalog keys compare ordinally.
func (c *Catalog) handle(col *Collection, pager storage.Pager) *Handle {
	if col.ID == ID {
		return newHandle(col, pager, nil)
	}
	return newHandle(col, pager, c.collation)
}

// Bind opens col through pager outside any transaction. Readers holding
// their own view use it to walk a collection.
func (c *Catalog) Bind(col *Collection, pager storage.Pager) *Handle {
	return c.handle(col, pager)
}

// Load rebuilds the mirror from the latest committed version.
func (c *Catalog) Load() error {
	v := c.m.View(ID)
	defer v.Close()

	byName := make(map[string]*Collection)
	err := c.walk(v, func(name string, id uint32, page storage.PageID) error {
		cv := c.m.View(id)
		defer cv.Close()
		col, err := readCollection(cv, page, id)
		if err != nil {
			return storage.WithCollection(err, name)
		}
		byName[name] = col
		return nil
	})
	if err != nil {
		return err
	}
	next := &mirror{version: v.Version(), byName: byName}
	for {
		cur := c.state.Load()
		if !cur.stale && cur.version > next.version {
			break
		}
		if c.state.CompareAndSwap(cur, next) {
			break
		}
	}
	c.log.Debug("catalog loaded", "collections", len(byName), "version", v.Version())
	return nil
}

// walk calls fn for every catalog entry in name order.
func (c *Catalog) walk(pager storage.Pager, fn func(name string, id uint32, page storage.PageID) error) error {
	root, err := readCollection(pager, c.root, ID)
	if err != nil {
		return err
	}
	h := c.handle(root, pager)
	it := h.Index.Scan(h.PrimaryKey(), index.Ascending)
	for {
		n, err := it.Next()
		if err != nil {
			return err
		}
		if n == nil {
			return nil
		}
		doc, err := h.Document(n.Data)
		if err != nil {
			return err
		}
		id, page := entryOf(doc)
		if err := fn(n.Key.AsString(), id, page); err != nil {
			return err
		}
	}
}

func entryOf(doc *document.Document) (uint32, storage.PageID) {
	return uint32(doc.Value("id").AsInt64()), storage.PageID(doc.Value("page").AsInt64())
}

func entryDocument(col *Collection) *document.Document {
	return document.New().
		Set(document.IDField, col.Name).
		Set("id", int64(col.ID)).
		Set("page", int64(col.PageID)).
		Set("created", col.Created)
}

// Collections returns the latest committed collections in name order,
// the catalog itself excluded.
func (c *Catalog) Collections() []*Collection {
	st := c.state.Load()
	out := make([]*Collection, 0, len(st.byName))
	for name, col := range st.byName {
		if name != Name {
			out = append(out, col.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// catalogHandle opens the catalog collection inside t.
func (c *Catalog) catalogHandle(t *tx.Transaction, write bool) (*Handle, error) {
	snap, err := t.Snapshot(ID, write)
	if err != nil {
		return nil, err
	}
	root, err := readCollection(snap, c.root, ID)
	if err != nil {
		return nil, err
	}
	return c.handle(root, snap), nil
}

// mirrorFor returns the mirror when it matches what a reader at version
// sees: no catalog commit may lie between the two versions. Catalog
// writers publish their version before the catalog lock is released, so a
// free lock means CatalogVersion is current.
func (c *Catalog) mirrorFor(version uint64) *mirror {
	if c.m.Locks().IsWriteLocked(ID) {
		return nil
	}
	st := c.state.Load()
	if st.stale || st.version > version || st.version < c.m.CatalogVersion() {
		return nil
	}
	return st
}

// lookup resolves name as t sees it, from the mirror when it is current
// and from the catalog pages otherwise.
func (c *Catalog) lookup(t *tx.Transaction, name string) (uint32, storage.PageID, bool, error) {
	if name == Name {
		return ID, c.root, true, nil
	}
	snap, err := t.Snapshot(ID, false)
	if err != nil {
		return 0, 0, false, err
	}
	if st := c.mirrorFor(snap.Version()); st != nil && !snap.Writable() {
		col, ok := st.byName[name]
		if !ok {
			return 0, 0, false, nil
		}
		return col.ID, col.PageID, true, nil
	}
	ch, err := c.catalogHandle(t, false)
	if err != nil {
		return 0, 0, false, err
	}
	return find(ch, name)
}

// lookupLatest resolves name at the latest committed version, or through
// t's own catalog changes when it holds the catalog lock.
func (c *Catalog) lookupLatest(t *tx.Transaction, name string) (uint32, storage.PageID, bool, error) {
	if t.Writes(ID) {
		return c.lookup(t, name)
	}
	v := c.m.View(ID)
	defer v.Close()
	if st := c.mirrorFor(v.Version()); st != nil {
		col, ok := st.byName[name]
		if !ok {
			return 0, 0, false, nil
		}
		return col.ID, col.PageID, true, nil
	}
	root, err := readCollection(v, c.root, ID)
	if err != nil {
		return 0, 0, false, err
	}
	return find(c.handle(root, v), name)
}

// find reads the catalog entry of name through the catalog handle ch.
func find(ch *Handle, name string) (uint32, storage.PageID, bool, error) {
	n, err := ch.Index.Find(ch.PrimaryKey(), document.String(name))
	if err != nil || n == nil {
		return 0, 0, false, err
	}
	doc, err := ch.Document(n.Data)
	if err != nil {
		return 0, 0, false, err
	}
	id, page := entryOf(doc)
	return id, page, true, nil
}

func notFound(op, name string) error {
	return &storage.Error{Code: storage.CodeNotFound, Op: op, Collection: name, Err: ErrCollectionNotFound}
}

// Exists reports whether t sees collection name.
func (c *Catalog) Exists(t *tx.Transaction, name string) (bool, error) {
	_, _, ok, err := c.lookup(t, name)
	return ok, err
}

// Open returns collection name as t sees it. A write handle takes the
// collection write lock and opens the latest committed collection.
func (c *Catalog) Open(t *tx.Transaction, name string, write bool) (*Handle, error) {
	if write && name == Name {
		return nil, &storage.Error{Code: storage.CodeNotSupported, Op: "open collection", Collection: name, Err: ErrReservedName}
	}
	resolve := c.lookup
	if write {
		resolve = c.lookupLatest
	}
	id, page, ok, err := resolve(t, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("open collection", name)
	}
	snap, err := t.Snapshot(id, write)
	if err != nil {
		return nil, storage.WithCollection(err, name)
	}
	if write {
		// The entry may have moved while the lock was awaited.
		var again uint32
		if again, page, ok, err = c.lookupLatest(t, name); err != nil {
			return nil, err
		}
		if !ok || again != id {
			return nil, notFound("open collection", name)
		}
	}
	col, err := readCollection(snap, page, id)
	if err != nil {
		return nil, storage.WithCollection(err, name)
	}
	return c.handle(col, snap), nil
}

// List returns the names of the collections t sees, in order.
func (c *Catalog) List(t *tx.Transaction) ([]string, error) {
	ch, err := c.catalogHandle(t, false)
	if err != nil {
		return nil, err
	}
	var names []string
	err = c.walk(ch.Pager, func(name string, _ uint32, _ storage.PageID) error {
		if name != Name {
			names = append(names, name)
		}
		return nil
	})
	return names, err
}

// CheckName validates a collection or index name.
func CheckName(name string) error {
	if name == "" || len(name) > MaxNameLength {
		return storage.Errorf(storage.CodeInvalidArgument, "check name", "%w: %q", ErrInvalidName, name)
	}
	if name[0] == '$' {
		return storage.Errorf(storage.CodeInvalidArgument, "check name", "%w: %q", ErrReservedName, name)
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' && r != '.' {
			return storage.Errorf(storage.CodeInvalidArgument, "check name", "%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

// Create adds collection name in t.
func (c *Catalog) Create(t *tx.Transaction, name string) (*Handle, error) {
	if err := CheckName(name); err != nil {
		return nil, err
	}
	ch, err := c.catalogHandle(t, true)
	if err != nil {
		return nil, err
	}
	key := document.String(name)
	if n, err := ch.Index.Find(ch.PrimaryKey(), key); err != nil {
		return nil, err
	} else if n != nil {
		return nil, &storage.Error{Code: storage.CodeInvalidArgument, Op: "create collection", Collection: name, Err: ErrCollectionExists}
	}

	id := c.m.ReserveCollectionID()
	snap, err := t.Snapshot(id, true)
	if err != nil {
		return nil, err
	}
	h, err := c.create(snap, id, name)
	if err != nil {
		return nil, storage.WithCollection(err, name)
	}
	addr, err := ch.Data.Insert(document.Encode(entryDocument(h.Collection)))
	if err != nil {
		return nil, err
	}
	if err := ch.Index.Insert(ch.PrimaryKey(), key, addr); err != nil {
		return nil, err
	}
	t.MarkCatalogChanged()
	c.log.Debug("collection created", "collection", name, "id", id)
	return h, nil
}

// Drop removes collection name and frees all of its pages. It reports
// whether the collection existed.
func (c *Catalog) Drop(t *tx.Transaction, name string) (bool, error) {
	if name == Name {
		return false, &storage.Error{Code: storage.CodeNotSupported, Op: "drop collection", Collection: name, Err: ErrReservedName}
	}
	ch, err := c.catalogHandle(t, true)
	if err != nil {
		return false, err
	}
	key := document.String(name)
	n, err := ch.Index.Find(ch.PrimaryKey(), key)
	if err != nil || n == nil {
		return false, err
	}
	doc, err := ch.Document(n.Data)
	if err != nil {
		return false, err
	}
	id, page := entryOf(doc)
	snap, err := t.Snapshot(id, true)
	if err != nil {
		return false, storage.WithCollection(err, name)
	}
	col, err := readCollection(snap, page, id)
	if err != nil {
		return false, storage.WithCollection(err, name)
	}
	freed, err := alloc.Open(snap, col.AllocPage).FreeAll()
	if err != nil {
		return false, storage.WithCollection(err, name)
	}
	if err := snap.FreePage(col.PageID); err != nil {
		return false, err
	}
	if _, err := ch.Index.Delete(ch.PrimaryKey(), key, n.Data); err != nil {
		return false, err
	}
	if err := ch.Data.Delete(n.Data); err != nil {
		return false, err
	}
	t.MarkCatalogChanged()
	c.log.Debug("collection dropped", "collection", name, "pages", freed+1)
	return true, nil
}

// Rename renames collection from to to.
func (c *Catalog) Rename(t *tx.Transaction, from, to string) error {
	if from == Name {
		return &storage.Error{Code: storage.CodeNotSupported, Op: "rename collection", Collection: from, Err: ErrReservedName}
	}
	if err := CheckName(to); err != nil {
		return err
	}
	ch, err := c.catalogHandle(t, true)
	if err != nil {
		return err
	}
	pk := ch.PrimaryKey()
	n, err := ch.Index.Find(pk, document.String(from))
	if err != nil {
		return err
	}
	if n == nil {
		return notFound("rename collection", from)
	}
	if dup, err := ch.Index.Find(pk, document.String(to)); err != nil {
		return err
	} else if dup != nil {
		return &storage.Error{Code: storage.CodeInvalidArgument, Op: "rename collection", Collection: to, Err: ErrCollectionExists}
	}

	doc, err := ch.Document(n.Data)
	if err != nil {
		return err
	}
	id, page := entryOf(doc)
	// Nothing is changed until the collection write lock is held.
	snap, err := t.Snapshot(id, true)
	if err != nil {
		return storage.WithCollection(err, from)
	}
	col, err := readCollection(snap, page, id)
	if err != nil {
		return storage.WithCollection(err, from)
	}

	doc.Set(document.IDField, to)
	if err := ch.Data.Update(n.Data, document.Encode(doc)); err != nil {
		return err
	}
	if _, err := ch.Index.Delete(pk, document.String(from), n.Data); err != nil {
		return err
	}
	if err := ch.Index.Insert(pk, document.String(to), n.Data); err != nil {
		return err
	}
	col.Name = to
	if err := c.handle(col, snap).Save(); err != nil {
		return err
	}
	t.MarkCatalogChanged()
	return nil
}

// EnsureIndex creates index name on collection coll and fills it from the
// existing documents. It reports false when an identical index exists.
func (c *Catalog) EnsureIndex(t *tx.Transaction, coll, name, expr string, unique bool) (bool, error) {
	if err := CheckName(name); err != nil {
		return false, err
	}
	def, err := index.NewDefinition(name, expr, unique)
	if err != nil {
		return false, err
	}
	h, err := c.Open(t, coll, true)
	if err != nil {
		return false, err
	}
	if old := h.Definition(name); old != nil {
		if old.Expression == def.Expression && old.Unique == unique {
			return false, nil
		}
		return false, &storage.Error{Code: storage.CodeInvalidArgument, Op: "ensure index", Collection: coll,
			Err: fmt.Errorf("%w: %q", ErrIndexExists, name)}
	}
	if len(h.Indexes) >= MaxIndexes {
		return false, &storage.Error{Code: storage.CodeResourceExhausted, Op: "ensure index", Collection: coll, Err: ErrTooManyIndexes}
	}

	if err := h.Index.Create(def); err != nil {
		return false, err
	}
	it := h.Index.Scan(h.PrimaryKey(), index.Ascending)
	for {
		n, err := it.Next()
		if err != nil {
			return false, err
		}
		if n == nil {
			break
		}
		doc, err := h.Document(n.Data)
		if err != nil {
			return false, err
		}
		for _, k := range def.Keys(doc, c.collation) {
			if err := h.Index.Insert(def, k, n.Data); err != nil {
				return false, storage.WithCollection(err, coll)
			}
		}
	}
	h.Indexes = append(h.Indexes, def)
	if err := h.Save(); err != nil {
		return false, err
	}
	t.MarkCatalogChanged()
	c.log.Debug("index created", "collection", coll, "index", name, "expression", def.Expression)
	return true, nil
}

// DropIndex removes index name from collection coll and frees its nodes.
// It reports whether the index existed.
func (c *Catalog) DropIndex(t *tx.Transaction, coll, name string) (bool, error) {
	if name == index.PrimaryKey {
		return false, &storage.Error{Code: storage.CodeInvalidArgument, Op: "drop index", Collection: coll, Err: ErrPrimaryKeyIndex}
	}
	h, err := c.Open(t, coll, true)
	if err != nil {
		return false, err
	}
	def := h.Definition(name)
	if def == nil {
		return false, nil
	}
	if err := h.Index.Drop(def); err != nil {
		return false, err
	}
	kept := h.Indexes[:0]
	for _, d := range h.Indexes {
		if d.Name != name {
			kept = append(kept, d)
		}
	}
	h.Indexes = kept
	if err := h.Save(); err != nil {
		return false, err
	}
	t.MarkCatalogChanged()
	return true, nil
}
