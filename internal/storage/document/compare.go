package document

import (
	"bytes"
	"cmp"
)

// Compare orders two values. Values of different types order by type, with
// all numeric types sharing one rank and comparing by numeric value. Strings
// compare under c; a nil collation compares ordinally.
func Compare(a, b Value, c *Collation) int {
	ta, tb := a.Type(), b.Type()
	if ra, rb := ta.rank(), tb.rank(); ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ta {
	case TypeMinValue, TypeMaxValue, TypeNull:
		return 0
	case TypeInt32, TypeInt64, TypeDouble:
		return compareNumbers(a, b)
	case TypeString:
		return c.CompareStrings(a.s, b.s)
	case TypeBoolean, TypeDateTime:
		return cmp.Compare(a.i, b.i)
	case TypeBinary, TypeUUID:
		return bytes.Compare(a.b, b.b)
	case TypeDocument:
		return compareDocuments(a.d, b.d, c)
	case TypeArray:
		n := min(len(a.a), len(b.a))
		for i := 0; i < n; i++ {
			if r := Compare(a.a[i], b.a[i], c); r != 0 {
				return r
			}
		}
		return cmp.Compare(len(a.a), len(b.a))
	}
	return 0
}

func compareNumbers(a, b Value) int {
	if a.t != TypeDouble && b.t != TypeDouble {
		return cmp.Compare(a.i, b.i)
	}
	return cmp.Compare(a.AsDouble(), b.AsDouble())
}

func compareDocuments(a, b *Document, c *Collation) int {
	n := min(a.Len(), b.Len())
	for i := 0; i < n; i++ {
		ka, kb := a.keys[i], b.keys[i]
		if r := c.CompareStrings(ka, kb); r != 0 {
			return r
		}
		if r := Compare(a.values[ka], b.values[kb], c); r != 0 {
			return r
		}
	}
	return cmp.Compare(a.Len(), b.Len())
}

// Equal reports whether a and b compare equal under c.
func Equal(a, b Value, c *Collation) bool {
	return Compare(a, b, c) == 0
}

// Distinct removes values that compare equal under c, keeping the first.
func Distinct(vals []Value, c *Collation) []Value {
	out := vals[:0:0]
	for _, v := range vals {
		dup := false
		for _, o := range out {
			if Compare(v, o, c) == 0 {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}
