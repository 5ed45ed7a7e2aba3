package index

import (
	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/document"
)

// PrimaryKey is the name of the index every collection has on _id.
const PrimaryKey = "_id"

// Definition describes one index of a collection.
type Definition struct {
	Name       string
	Expression string
	Unique     bool
	Head       storage.Address
	Tail       storage.Address

	path document.Path
}

// NewDefinition compiles expr into a definition without sentinels.
func NewDefinition(name, expr string, unique bool) (*Definition, error) {
	p, err := document.ParsePath(expr)
	if err != nil {
		return nil, storage.NewError(storage.CodeInvalidArgument, "index definition", err)
	}
	return &Definition{Name: name, Expression: p.String(), Unique: unique, path: p}, nil
}

// Path returns the compiled expression.
func (d *Definition) Path() document.Path {
	if d.path.IsZero() {
		d.path, _ = document.ParsePath(d.Expression)
	}
	return d.path
}

// Keys returns the distinct keys doc produces for this index. Arrays
// expand into one key per element; a missing field yields Null.
func (d *Definition) Keys(doc *document.Document, c *document.Collation) []document.Value {
	if d.Name == PrimaryKey {
		return []document.Value{doc.ID()}
	}
	return document.Distinct(d.Path().Values(doc), c)
}
