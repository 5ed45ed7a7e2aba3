package query

import (
	"github.com/KilimcininKorOglu/pagedb/internal/storage/document"
)

// Cursor is a lazy result set. Typical use:
//
//	for cur.Next() {
//		doc := cur.Document()
//	}
//	if err := cur.Err(); err != nil { ... }
//	cur.Close()
type Cursor struct {
	next  func() (*document.Document, error)
	close func() error

	skip     int
	limit    int
	returned int

	doc  *document.Document
	err  error
	done bool
}

func newCursor(next func() (*document.Document, error), closeFn func() error, skip, limit int) *Cursor {
	return &Cursor{next: next, close: closeFn, skip: skip, limit: limit}
}

// Empty returns a cursor with no documents.
func Empty() *Cursor {
	return newCursor(func() (*document.Document, error) { return nil, nil }, nil, 0, 0)
}

// OnClose chains fn after the cursor's own cleanup.
func (c *Cursor) OnClose(fn func() error) {
	prev := c.close
	c.close = func() error {
		var err error
		if prev != nil {
			err = prev()
		}
		if ferr := fn(); err == nil {
			err = ferr
		}
		return err
	}
}

// Next advances to the next document and reports whether there is one.
func (c *Cursor) Next() bool {
	if c.done {
		return false
	}
	for ; c.skip > 0; c.skip-- {
		doc, err := c.next()
		if err != nil || doc == nil {
			return c.finish(err)
		}
	}
	if c.limit > 0 && c.returned >= c.limit {
		return c.finish(nil)
	}
	doc, err := c.next()
	if err != nil || doc == nil {
		return c.finish(err)
	}
	c.doc = doc
	c.returned++
	return true
}

func (c *Cursor) finish(err error) bool {
	c.err = err
	c.doc = nil
	c.done = true
	return false
}

// Document returns the current document.
func (c *Cursor) Document() *document.Document {
	return c.doc
}

// Err returns the error that ended iteration, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Close releases the cursor. It is safe to call more than once.
func (c *Cursor) Close() error {
	c.done = true
	c.doc = nil
	if c.close == nil {
		return nil
	}
	err := c.close()
	c.close = nil
	return err
}

// All drains the cursor and closes it.
func (c *Cursor) All() ([]*document.Document, error) {
	defer c.Close()
	var out []*document.Document
	for c.Next() {
		out = append(out, c.Document())
	}
	return out, c.Err()
}
