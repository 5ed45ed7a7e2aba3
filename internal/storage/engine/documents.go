package engine

import (
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/catalog"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/data"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/document"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/index"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/query"
)

// writeHandle opens coll for writing, creating it when create is set.
func (x *Tx) writeHandle(coll string, create bool) (*catalog.Handle, error) {
	h, err := x.c.catalog.Open(x.t, coll, true)
	if err == nil || !create || !errors.Is(err, catalog.ErrCollectionNotFound) {
		return h, err
	}
	return x.c.catalog.Create(x.t, coll)
}

// readHandle opens coll for reading. A missing collection yields nil.
func (x *Tx) readHandle(coll string) (*catalog.Handle, error) {
	h, err := x.c.catalog.Open(x.t, coll, false)
	if errors.Is(err, catalog.ErrCollectionNotFound) {
		return nil, nil
	}
	return h, err
}

func missing(err error) bool {
	return errors.Is(err, catalog.ErrCollectionNotFound)
}

func invalid(op, coll string, err error) error {
	return &storage.Error{Code: storage.CodeInvalidArgument, Op: op, Collection: coll, Err: err}
}

func checkID(op, coll string, id document.Value) error {
	switch id.Type() {
	case document.TypeNull, document.TypeMinValue, document.TypeMaxValue, document.TypeArray:
		return invalid(op, coll, fmt.Errorf("%w: %s", ErrInvalidID, id.Type()))
	}
	return nil
}

func idValue(op, coll string, id any) (document.Value, error) {
	v, err := document.From(id)
	if err != nil {
		return v, invalid(op, coll, err)
	}
	return v, checkID(op, coll, v)
}

// indexKeys are the keys one document produces for one index.
type indexKeys struct {
	def  *index.Definition
	keys []document.Value
}

// keysOf computes and validates the index keys of doc.
func keysOf(h *catalog.Handle, doc *document.Document) ([]indexKeys, error) {
	out := make([]indexKeys, len(h.Indexes))
	for i, def := range h.Indexes {
		keys := def.Keys(doc, h.Index.Collation())
		for _, k := range keys {
			if _, err := index.CheckKey(k); err != nil {
				return nil, storage.WithCollection(err, h.Name)
			}
		}
		out[i] = indexKeys{def: def, keys: keys}
	}
	return out, nil
}

// checkUnique fails when a unique index already holds one of the keys for
// a document other than self.
func checkUnique(h *catalog.Handle, entries []indexKeys, self storage.Address) error {
	for _, e := range entries {
		if !e.def.Unique {
			continue
		}
		for _, k := range e.keys {
			n, err := h.Index.Find(e.def, k)
			if err != nil {
				return err
			}
			if n != nil && n.Data != self {
				return &storage.Error{Code: storage.CodeDuplicateKey, Op: "check unique", Collection: h.Name,
					Err: fmt.Errorf("index %q already holds key %s", e.def.Name, k)}
			}
		}
	}
	return nil
}

func encode(op, coll string, doc *document.Document) ([]byte, error) {
	raw := document.Encode(doc)
	if len(raw) > data.MaxDocumentSize {
		return nil, invalid(op, coll, fmt.Errorf("%w: %d bytes", data.ErrTooLarge, len(raw)))
	}
	return raw, nil
}

func contains(keys []document.Value, k document.Value, c *document.Collation) bool {
	for _, o := range keys {
		if document.Compare(o, k, c) == 0 {
			return true
		}
	}
	return false
}

// Insert stores doc in coll, creating the collection when it does not
// exist. A document without _id gets a new time-ordered UUID, set on doc.
// It returns the _id.
func (x *Tx) Insert(coll string, doc *document.Document) (document.Value, error) {
	if doc == nil {
		return document.Null(), invalid("insert", coll, ErrInvalidDocument)
	}
	if id, ok := doc.Get(document.IDField); !ok || id.IsNull() {
		doc.SetValue(document.IDField, document.NewID())
	}
	if err := checkID("insert", coll, doc.ID()); err != nil {
		return document.Null(), err
	}
	h, err := x.writeHandle(coll, true)
	if err != nil {
		return document.Null(), err
	}
	if err := x.insert(h, doc); err != nil {
		return document.Null(), err
	}
	return doc.ID(), nil
}

// InsertMany inserts docs in order and returns how many were stored.
func (x *Tx) InsertMany(coll string, docs []*document.Document) (int, error) {
	for i, doc := range docs {
		if _, err := x.Insert(coll, doc); err != nil {
			return i, err
		}
	}
	return len(docs), nil
}

func (x *Tx) insert(h *catalog.Handle, doc *document.Document) error {
	raw, err := encode("insert", h.Name, doc)
	if err != nil {
		return err
	}
	entries, err := keysOf(h, doc)
	if err != nil {
		return err
	}
	if err := checkUnique(h, entries, storage.EmptyAddress); err != nil {
		return err
	}

	addr, err := h.Data.Insert(raw)
	if err != nil {
		return x.abort(storage.WithCollection(err, h.Name))
	}
	for _, e := range entries {
		for _, k := range e.keys {
			if err := h.Index.Insert(e.def, k, addr); err != nil {
				return x.abort(storage.WithCollection(err, h.Name))
			}
		}
	}
	return nil
}

// Update replaces the document with doc's _id. It reports false when coll
// or the document does not exist.
func (x *Tx) Update(coll string, doc *document.Document) (bool, error) {
	if doc == nil {
		return false, invalid("update", coll, ErrInvalidDocument)
	}
	if err := checkID("update", coll, doc.ID()); err != nil {
		return false, err
	}
	h, err := x.writeHandle(coll, false)
	if err != nil {
		if missing(err) {
			return false, nil
		}
		return false, err
	}
	n, err := h.Index.Find(h.PrimaryKey(), doc.ID())
	if err != nil || n == nil {
		return false, err
	}
	old, err := h.Document(n.Data)
	if err != nil {
		return false, err
	}
	return true, x.replace(h, n.Data, old, doc)
}

func (x *Tx) replace(h *catalog.Handle, addr storage.Address, old, doc *document.Document) error {
	raw, err := encode("update", h.Name, doc)
	if err != nil {
		return err
	}
	next, err := keysOf(h, doc)
	if err != nil {
		return err
	}
	if err := checkUnique(h, next, addr); err != nil {
		return err
	}

	if err := h.Data.Update(addr, raw); err != nil {
		return x.abort(storage.WithCollection(err, h.Name))
	}
	c := h.Index.Collation()
	for _, e := range next {
		prev := e.def.Keys(old, c)
		for _, k := range prev {
			if contains(e.keys, k, c) {
				continue
			}
			if _, err := h.Index.Delete(e.def, k, addr); err != nil {
				return x.abort(storage.WithCollection(err, h.Name))
			}
		}
		for _, k := range e.keys {
			if contains(prev, k, c) {
				continue
			}
			if err := h.Index.Insert(e.def, k, addr); err != nil {
				return x.abort(storage.WithCollection(err, h.Name))
			}
		}
	}
	return nil
}

// Upsert updates the document with doc's _id or inserts doc when there is
// none. It reports whether doc was inserted.
func (x *Tx) Upsert(coll string, doc *document.Document) (bool, error) {
	if doc == nil {
		return false, invalid("upsert", coll, ErrInvalidDocument)
	}
	if id, ok := doc.Get(document.IDField); ok && !id.IsNull() {
		updated, err := x.Update(coll, doc)
		if err != nil || updated {
			return false, err
		}
	}
	_, err := x.Insert(coll, doc)
	return err == nil, err
}

// Delete removes the document with the given _id. It reports whether the
// document existed.
func (x *Tx) Delete(coll string, id any) (bool, error) {
	key, err := idValue("delete", coll, id)
	if err != nil {
		return false, err
	}
	h, err := x.writeHandle(coll, false)
	if err != nil {
		if missing(err) {
			return false, nil
		}
		return false, err
	}
	n, err := h.Index.Find(h.PrimaryKey(), key)
	if err != nil || n == nil {
		return false, err
	}
	doc, err := h.Document(n.Data)
	if err != nil {
		return false, err
	}
	return true, x.remove(h, n.Data, doc)
}

func (x *Tx) remove(h *catalog.Handle, addr storage.Address, doc *document.Document) error {
	c := h.Index.Collation()
	for _, def := range h.Indexes {
		for _, k := range def.Keys(doc, c) {
			if _, err := h.Index.Delete(def, k, addr); err != nil {
				return x.abort(storage.WithCollection(err, h.Name))
			}
		}
	}
	if err := h.Data.Delete(addr); err != nil {
		return x.abort(storage.WithCollection(err, h.Name))
	}
	return nil
}

// DeleteMany removes every document q selects and returns how many were
// removed. A nil q removes everything.
func (x *Tx) DeleteMany(coll string, q *query.Query) (int, error) {
	h, err := x.writeHandle(coll, false)
	if err != nil {
		if missing(err) {
			return 0, nil
		}
		return 0, err
	}
	matches, err := x.c.runner.Matches(h, q)
	if err != nil {
		return 0, err
	}
	for i, m := range matches {
		if err := x.remove(h, m.Addr, m.Doc); err != nil {
			return i, err
		}
	}
	return len(matches), nil
}

// FindByID returns the document with the given _id, or nil.
func (x *Tx) FindByID(coll string, id any) (*document.Document, error) {
	key, err := idValue("find", coll, id)
	if err != nil {
		return nil, err
	}
	h, err := x.readHandle(coll)
	if err != nil || h == nil {
		return nil, err
	}
	n, err := h.Index.Find(h.PrimaryKey(), key)
	if err != nil || n == nil {
		return nil, err
	}
	return h.Document(n.Data)
}

// Find runs q against coll. The cursor reads lazily from the transaction's
// snapshot and must be closed before the transaction ends.
func (x *Tx) Find(coll string, q *query.Query) (*query.Cursor, error) {
	h, err := x.readHandle(coll)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return query.Empty(), nil
	}
	return x.c.runner.Find(h, q)
}

// Count returns the number of documents q selects. A nil q counts every
// document.
func (x *Tx) Count(coll string, q *query.Query) (int, error) {
	h, err := x.readHandle(coll)
	if err != nil || h == nil {
		return 0, err
	}
	return x.c.runner.Count(h, q)
}

// Insert stores doc in coll in a transaction of its own.
func (e *Engine) Insert(coll string, doc *document.Document) (document.Value, error) {
	var id document.Value
	err := e.run("insert", func(x *Tx) error {
		var err error
		id, err = x.Insert(coll, doc)
		return err
	})
	return id, err
}

// InsertMany inserts docs atomically.
func (e *Engine) InsertMany(coll string, docs []*document.Document) (int, error) {
	var n int
	err := e.run("insert", func(x *Tx) error {
		var err error
		n, err = x.InsertMany(coll, docs)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Update replaces the document with doc's _id.
func (e *Engine) Update(coll string, doc *document.Document) (bool, error) {
	var ok bool
	err := e.run("update", func(x *Tx) error {
		var err error
		ok, err = x.Update(coll, doc)
		return err
	})
	return ok, err
}

// Upsert updates or inserts doc and reports whether it was inserted.
func (e *Engine) Upsert(coll string, doc *document.Document) (bool, error) {
	var inserted bool
	err := e.run("upsert", func(x *Tx) error {
		var err error
		inserted, err = x.Upsert(coll, doc)
		return err
	})
	return inserted, err
}

// Delete removes the document with the given _id.
func (e *Engine) Delete(coll string, id any) (bool, error) {
	var ok bool
	err := e.run("delete", func(x *Tx) error {
		var err error
		ok, err = x.Delete(coll, id)
		return err
	})
	return ok, err
}

// DeleteMany removes every document q selects.
func (e *Engine) DeleteMany(coll string, q *query.Query) (int, error) {
	var n int
	err := e.run("delete", func(x *Tx) error {
		var err error
		n, err = x.DeleteMany(coll, q)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// FindByID returns the document with the given _id, or nil.
func (e *Engine) FindByID(coll string, id any) (*document.Document, error) {
	var doc *document.Document
	err := e.run("find", func(x *Tx) error {
		var err error
		doc, err = x.FindByID(coll, id)
		return err
	})
	return doc, err
}

// Find runs q in a read transaction that lives until the cursor is closed.
func (e *Engine) Find(coll string, q *query.Query) (*query.Cursor, error) {
	x, err := e.Begin()
	if err != nil {
		return nil, err
	}
	cur, err := x.Find(coll, q)
	if err != nil {
		x.Rollback()
		return nil, err
	}
	cur.OnClose(x.Rollback)
	return cur, nil
}

// Count returns the number of documents q selects.
func (e *Engine) Count(coll string, q *query.Query) (int, error) {
	var n int
	err := e.run("count", func(x *Tx) error {
		var err error
		n, err = x.Count(coll, q)
		return err
	})
	return n, err
}
