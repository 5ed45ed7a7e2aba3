package query

import (
	"fmt"

	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/catalog"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/document"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/index"
)

// Runner executes queries against opened collections.
type Runner struct {
	// SortBufferSize is the number of documents sorted in memory before a
	// run is spilled. Default: DefaultSortBufferSize.
	SortBufferSize int

	// Temp creates spill streams. Default: in-memory streams.
	Temp func() (storage.Stream, error)
}

// Match is a selected document and its location.
type Match struct {
	Addr storage.Address
	Doc  *document.Document
}

// scan returns a generator over the documents q selects from h, in index
// order, with the filter applied and before paging.
func (r *Runner) scan(h *catalog.Handle, q *Query) (func() (*Match, error), error) {
	def := h.Definition(q.indexName())
	if def == nil {
		return nil, &storage.Error{Code: storage.CodeNotFound, Op: "query", Collection: h.Name,
			Err: fmt.Errorf("index %q does not exist", q.indexName())}
	}
	col := h.Index.Collation()
	order := q.order()
	start, stop := q.Lo, q.Hi
	if order == index.Descending {
		start, stop = q.Hi, q.Lo
	}

	var it *index.Iterator
	if start != nil {
		var err error
		if it, err = h.Index.Seek(def, start.Value, order); err != nil {
			return nil, err
		}
	} else {
		it = h.Index.Scan(def, order)
	}

	// A document has one node per distinct key, so only _id scans cannot
	// repeat a location.
	var seen map[storage.Address]struct{}
	if def.Name != index.PrimaryKey {
		seen = make(map[storage.Address]struct{})
	}
	done := false
	return func() (*Match, error) {
		for !done {
			n, err := it.Next()
			if err != nil {
				return nil, err
			}
			if n == nil {
				done = true
				break
			}
			if start != nil && start.Exclusive && document.Compare(n.Key, start.Value, col) == 0 {
				continue
			}
			if stop != nil {
				c := document.Compare(n.Key, stop.Value, col) * int(order)
				if c > 0 || (c == 0 && stop.Exclusive) {
					done = true
					break
				}
			}
			if seen != nil {
				if _, dup := seen[n.Data]; dup {
					continue
				}
				seen[n.Data] = struct{}{}
			}
			doc, err := h.Document(n.Data)
			if err != nil {
				return nil, storage.WithCollection(err, h.Name)
			}
			if q.Filter != nil && !q.Filter(doc) {
				continue
			}
			return &Match{Addr: n.Data, Doc: doc}, nil
		}
		return nil, nil
	}, nil
}

// Find runs q against h.
func (r *Runner) Find(h *catalog.Handle, q *Query) (*Cursor, error) {
	if q == nil {
		q = All()
	}
	if err := q.validate(); err != nil {
		return nil, err
	}
	next, err := r.scan(h, q)
	if err != nil {
		return nil, err
	}
	docs := func() (*document.Document, error) {
		m, err := next()
		if m == nil || err != nil {
			return nil, err
		}
		return m.Doc, nil
	}
	if q.OrderBy == "" {
		return newCursor(docs, nil, q.Skip, q.Limit), nil
	}

	path, err := document.ParsePath(q.OrderBy)
	if err != nil {
		return nil, storage.NewError(storage.CodeInvalidArgument, "query", err)
	}
	s := NewSorter(path, q.SortOrder, h.Index.Collation(), r.SortBufferSize, r.Temp)
	for {
		doc, err := docs()
		if err != nil {
			s.Close()
			return nil, err
		}
		if doc == nil {
			break
		}
		if err := s.Add(doc); err != nil {
			s.Close()
			return nil, err
		}
	}
	sorted, err := s.Iterate()
	if err != nil {
		s.Close()
		return nil, err
	}
	return newCursor(sorted, s.Close, q.Skip, q.Limit), nil
}

// Count returns the number of documents q selects.
func (r *Runner) Count(h *catalog.Handle, q *Query) (int, error) {
	if q == nil {
		q = All()
	}
	unsorted := *q
	unsorted.OrderBy = ""
	cur, err := r.Find(h, &unsorted)
	if err != nil {
		return 0, err
	}
	defer cur.Close()
	n := 0
	for cur.Next() {
		n++
	}
	return n, cur.Err()
}

// Matches returns every document q selects with its location, in index
// order. OrderBy is ignored. Callers changing the collection collect
// first and change afterwards.
func (r *Runner) Matches(h *catalog.Handle, q *Query) ([]Match, error) {
	if q == nil {
		q = All()
	}
	if err := q.validate(); err != nil {
		return nil, err
	}
	next, err := r.scan(h, q)
	if err != nil {
		return nil, err
	}
	var out []Match
	skip := q.Skip
	for q.Limit == 0 || len(out) < q.Limit {
		m, err := next()
		if err != nil {
			return nil, err
		}
		if m == nil {
			break
		}
		if skip > 0 {
			skip--
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}
