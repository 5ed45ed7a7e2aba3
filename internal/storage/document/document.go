package document

import (
	"fmt"
	"sort"
	"strings"
)

// IDField is the name of the primary key field.
const IDField = "_id"

// Document is an ordered set of named values. Field order is the order of
// first insertion and is preserved by the codec.
type Document struct {
	keys   []string
	values map[string]Value
}

// New returns an empty document.
func New() *Document {
	return &Document{values: make(map[string]Value)}
}

// FromMap builds a document from a map. Keys are added in sorted order,
// with _id first when present.
func FromMap(m map[string]interface{}) (*Document, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == IDField || keys[j] == IDField {
			return keys[i] == IDField
		}
		return keys[i] < keys[j]
	})
	d := New()
	for _, k := range keys {
		v, err := From(m[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		d.SetValue(k, v)
	}
	return d, nil
}

// Set converts x with MustFrom and stores it under key. It returns d so
// calls can be chained.
func (d *Document) Set(key string, x interface{}) *Document {
	d.SetValue(key, MustFrom(x))
	return d
}

// SetValue stores v under key.
func (d *Document) SetValue(key string, v Value) {
	if d.values == nil {
		d.values = make(map[string]Value)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

// Get returns the value under key.
func (d *Document) Get(key string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Value returns the value under key, or Null when missing.
func (d *Document) Value(key string) Value {
	v, _ := d.Get(key)
	return v
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Delete removes key and reports whether it was present.
func (d *Document) Delete(key string) bool {
	if _, ok := d.values[key]; !ok {
		return false
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the field names in order.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.keys...)
}

// Len returns the number of fields.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// ID returns the _id value, Null when missing.
func (d *Document) ID() Value {
	return d.Value(IDField)
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := &Document{keys: append([]string(nil), d.keys...), values: make(map[string]Value, len(d.values))}
	for k, v := range d.values {
		c.values[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v Value) Value {
	switch v.t {
	case TypeDocument:
		return Doc(v.d.Clone())
	case TypeArray:
		items := make([]Value, len(v.a))
		for i, item := range v.a {
			items[i] = cloneValue(item)
		}
		return Value{t: TypeArray, a: items}
	case TypeBinary, TypeUUID:
		return Value{t: v.t, b: append([]byte(nil), v.b...)}
	default:
		return v
	}
}

// Equal reports whether two documents hold the same fields in the same
// order with equal values under binary comparison.
func (d *Document) Equal(o *Document) bool {
	return compareDocuments(d, o, nil) == 0 && d.Len() == o.Len()
}

// String renders the document in a compact JSON-like form.
func (d *Document) String() string {
	if d == nil {
		return "null"
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(d.values[k].String())
	}
	b.WriteByte('}')
	return b.String()
}
