// Package query runs range scans over collection indexes and returns lazy
// cursors. Ordering by a field other than the scanned index goes through an
// external merge sort that spills to a temporary stream.
package query

import (
	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/document"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/index"
)

// Bound is one end of an index range.
type Bound struct {
	Value     document.Value
	Exclusive bool
}

// Query selects documents of one collection.
type Query struct {
	// Index is the index scanned. Default: _id.
	Index string

	// Lo and Hi bound the scanned keys. Nil means unbounded.
	Lo, Hi *Bound

	// Order is the scan direction. Default: Ascending.
	Order index.Order

	// Filter drops documents it returns false for.
	Filter func(*document.Document) bool

	// OrderBy sorts the result by a path expression instead of index
	// order. SortOrder is its direction.
	OrderBy   string
	SortOrder index.Order

	// Skip and Limit page the result. Limit 0 means no limit.
	Skip  int
	Limit int
}

// All selects every document in _id order.
func All() *Query {
	return &Query{}
}

// EQ selects documents whose index key equals v.
func EQ(idx string, v any) *Query {
	val := document.MustFrom(v)
	return &Query{Index: idx, Lo: &Bound{Value: val}, Hi: &Bound{Value: val}}
}

// Between selects keys in [lo, hi].
func Between(idx string, lo, hi any) *Query {
	return &Query{Index: idx, Lo: &Bound{Value: document.MustFrom(lo)}, Hi: &Bound{Value: document.MustFrom(hi)}}
}

// GT selects keys greater than v.
func GT(idx string, v any) *Query {
	return &Query{Index: idx, Lo: &Bound{Value: document.MustFrom(v), Exclusive: true}}
}

// GTE selects keys greater than or equal to v.
func GTE(idx string, v any) *Query {
	return &Query{Index: idx, Lo: &Bound{Value: document.MustFrom(v)}}
}

// LT selects keys less than v.
func LT(idx string, v any) *Query {
	return &Query{Index: idx, Hi: &Bound{Value: document.MustFrom(v), Exclusive: true}}
}

// LTE selects keys less than or equal to v.
func LTE(idx string, v any) *Query {
	return &Query{Index: idx, Hi: &Bound{Value: document.MustFrom(v)}}
}

// Where sets the filter.
func (q *Query) Where(fn func(*document.Document) bool) *Query {
	q.Filter = fn
	return q
}

// Desc scans the index backwards.
func (q *Query) Desc() *Query {
	q.Order = index.Descending
	return q
}

// Sort orders the result by the value at path.
func (q *Query) Sort(path string, order index.Order) *Query {
	q.OrderBy = path
	q.SortOrder = order
	return q
}

// Page skips skip documents and returns at most limit.
func (q *Query) Page(skip, limit int) *Query {
	q.Skip = skip
	q.Limit = limit
	return q
}

func (q *Query) indexName() string {
	if q.Index == "" {
		return index.PrimaryKey
	}
	return q.Index
}

func (q *Query) order() index.Order {
	if q.Order == index.Descending {
		return index.Descending
	}
	return index.Ascending
}

func (q *Query) validate() error {
	if q.Skip < 0 || q.Limit < 0 {
		return storage.Errorf(storage.CodeInvalidArgument, "query", "negative skip or limit")
	}
	return nil
}
