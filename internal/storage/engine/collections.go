package engine

// IndexInfo describes one index of a collection.
type IndexInfo struct {
	Name       string
	Expression string
	Unique     bool
	// Keys is the number of index nodes, UniqueKeys the number of
	// distinct keys among them.
	Keys       int
	UniqueKeys int
}

// CreateCollection creates an empty collection.
func (x *Tx) CreateCollection(name string) error {
	_, err := x.c.catalog.Create(x.t, name)
	if err != nil && mutating(err) {
		return x.abort(err)
	}
	return err
}

// DropCollection removes a collection with its documents and indexes. It
// reports whether the collection existed.
func (x *Tx) DropCollection(name string) (bool, error) {
	ok, err := x.c.catalog.Drop(x.t, name)
	if err != nil && mutating(err) {
		return false, x.abort(err)
	}
	return ok, err
}

// RenameCollection renames a collection. A LockTimeout leaves the
// transaction unchanged so the rename can be retried.
func (x *Tx) RenameCollection(from, to string) error {
	err := x.c.catalog.Rename(x.t, from, to)
	if err != nil && mutating(err) {
		return x.abort(err)
	}
	return err
}

// ListCollections returns the collection names in order.
func (x *Tx) ListCollections() ([]string, error) {
	return x.c.catalog.List(x.t)
}

// CollectionExists reports whether a collection exists.
func (x *Tx) CollectionExists(name string) (bool, error) {
	return x.c.catalog.Exists(x.t, name)
}

// EnsureIndex creates index name over the path expr and fills it from the
// documents already stored, creating the collection when needed. It
// reports false when an identical index exists.
func (x *Tx) EnsureIndex(coll, name, expr string, unique bool) (bool, error) {
	ok, err := x.c.catalog.EnsureIndex(x.t, coll, name, expr, unique)
	if missing(err) {
		if _, err = x.c.catalog.Create(x.t, coll); err != nil {
			return false, err
		}
		ok, err = x.c.catalog.EnsureIndex(x.t, coll, name, expr, unique)
	}
	if err != nil && mutating(err) {
		return false, x.abort(err)
	}
	return ok, err
}

// DropIndex removes an index and reports whether it existed.
func (x *Tx) DropIndex(coll, name string) (bool, error) {
	ok, err := x.c.catalog.DropIndex(x.t, coll, name)
	if missing(err) {
		return false, nil
	}
	if err != nil && mutating(err) {
		return false, x.abort(err)
	}
	return ok, err
}

// ListIndexes describes the indexes of coll, _id first.
func (x *Tx) ListIndexes(coll string) ([]IndexInfo, error) {
	h, err := x.c.catalog.Open(x.t, coll, false)
	if err != nil {
		return nil, err
	}
	out := make([]IndexInfo, 0, len(h.Indexes))
	for _, def := range h.Indexes {
		keys, unique, err := h.Index.Count(def)
		if err != nil {
			return nil, err
		}
		out = append(out, IndexInfo{
			Name:       def.Name,
			Expression: def.Expression,
			Unique:     def.Unique,
			Keys:       keys,
			UniqueKeys: unique,
		})
	}
	return out, nil
}

// CreateCollection creates an empty collection.
func (e *Engine) CreateCollection(name string) error {
	return e.run("create collection", func(x *Tx) error {
		return x.CreateCollection(name)
	})
}

// DropCollection removes a collection and reports whether it existed.
func (e *Engine) DropCollection(name string) (bool, error) {
	var ok bool
	err := e.run("drop collection", func(x *Tx) error {
		var err error
		ok, err = x.DropCollection(name)
		return err
	})
	return ok, err
}

// RenameCollection renames a collection.
func (e *Engine) RenameCollection(from, to string) error {
	return e.run("rename collection", func(x *Tx) error {
		return x.RenameCollection(from, to)
	})
}

// ListCollections returns the collection names in order.
func (e *Engine) ListCollections() ([]string, error) {
	var names []string
	err := e.run("list collections", func(x *Tx) error {
		var err error
		names, err = x.ListCollections()
		return err
	})
	return names, err
}

// CollectionExists reports whether a collection exists.
func (e *Engine) CollectionExists(name string) (bool, error) {
	var ok bool
	err := e.run("collection exists", func(x *Tx) error {
		var err error
		ok, err = x.CollectionExists(name)
		return err
	})
	return ok, err
}

// EnsureIndex creates an index unless an identical one exists.
func (e *Engine) EnsureIndex(coll, name, expr string, unique bool) (bool, error) {
	var ok bool
	err := e.run("ensure index", func(x *Tx) error {
		var err error
		ok, err = x.EnsureIndex(coll, name, expr, unique)
		return err
	})
	return ok, err
}

// DropIndex removes an index and reports whether it existed.
func (e *Engine) DropIndex(coll, name string) (bool, error) {
	var ok bool
	err := e.run("drop index", func(x *Tx) error {
		var err error
		ok, err = x.DropIndex(coll, name)
		return err
	})
	return ok, err
}

// ListIndexes describes the indexes of coll.
func (e *Engine) ListIndexes(coll string) ([]IndexInfo, error) {
	var out []IndexInfo
	err := e.run("list indexes", func(x *Tx) error {
		var err error
		out, err = x.ListIndexes(coll)
		return err
	})
	return out, err
}
