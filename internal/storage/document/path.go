package document

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath is returned for malformed path expressions.
var ErrInvalidPath = errors.New("document: invalid path expression")

type pathPart struct {
	name string
	all  bool
}

// Path is a compiled field path such as "$.address.city", "tags[*]" or
// "items[*].sku". A leading "$." is optional. "[*]" expands an array into
// each of its items.
type Path struct {
	raw   string
	parts []pathPart
}

// ParsePath compiles a path expression.
func ParsePath(expr string) (Path, error) {
	raw := strings.TrimSpace(expr)
	s := strings.TrimPrefix(strings.TrimPrefix(raw, "$"), ".")
	if s == "" {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, expr)
	}
	var p Path
	var canon strings.Builder
	canon.WriteString("$")
	for _, seg := range strings.Split(s, ".") {
		all := false
		if strings.HasSuffix(seg, "[*]") {
			all = true
			seg = strings.TrimSuffix(seg, "[*]")
		}
		if seg == "" || strings.ContainsAny(seg, "[]$ ") {
			return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, expr)
		}
		p.parts = append(p.parts, pathPart{name: seg, all: all})
		canon.WriteString("." + seg)
		if all {
			canon.WriteString("[*]")
		}
	}
	p.raw = canon.String()
	return p, nil
}

// MustParsePath is ParsePath that panics on error.
func MustParsePath(expr string) Path {
	p, err := ParsePath(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the expression in canonical form, e.g. "$.tags[*]".
func (p Path) String() string { return p.raw }

// IsZero reports whether p is the zero Path.
func (p Path) IsZero() bool { return len(p.parts) == 0 }

// IsMulti reports whether the path expands arrays explicitly.
func (p Path) IsMulti() bool {
	for _, part := range p.parts {
		if part.all {
			return true
		}
	}
	return false
}

// Value returns the first value the path resolves to in d, or Null.
func (p Path) Value(d *Document) Value {
	cur := Doc(d)
	for _, part := range p.parts {
		if cur.Type() != TypeDocument {
			return Null()
		}
		cur = cur.d.Value(part.name)
		if part.all {
			if cur.Type() != TypeArray || len(cur.a) == 0 {
				return Null()
			}
			cur = cur.a[0]
		}
	}
	return cur
}

// Values returns every value the path resolves to in d. Arrays reached at
// a "[*]" step or at the end of the path contribute each of their items, so
// a document with tags [1, 2, 3] yields three values for "tags". A path
// that resolves to nothing yields a single Null.
func (p Path) Values(d *Document) []Value {
	cur := []Value{Doc(d)}
	for _, part := range p.parts {
		next := make([]Value, 0, len(cur))
		for _, v := range cur {
			if v.Type() != TypeDocument {
				continue
			}
			f, ok := v.d.Get(part.name)
			if !ok {
				continue
			}
			if part.all && f.Type() == TypeArray {
				next = append(next, f.a...)
			} else {
				next = append(next, f)
			}
		}
		cur = next
	}
	out := make([]Value, 0, len(cur))
	for _, v := range cur {
		if v.Type() == TypeArray {
			out = append(out, v.a...)
		} else {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return []Value{Null()}
	}
	return out
}
