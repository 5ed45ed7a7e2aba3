// Package document implements the PageDB document model: typed values,
// ordered documents, the binary codec, collation-aware comparison and the
// path expressions used by indexes.
package document

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Type is the type tag of a Value. The numeric order of the tags, with the
// three numeric types sharing one rank, is the cross-type sort order.
type Type byte

const (
	TypeMinValue Type = iota + 1
	TypeNull
	TypeInt32
	TypeInt64
	TypeDouble
	TypeString
	TypeDocument
	TypeArray
	TypeBinary
	TypeUUID
	TypeBoolean
	TypeDateTime
	TypeMaxValue
)

// String returns the string representation of a Type.
func (t Type) String() string {
	switch t {
	case TypeMinValue:
		return "MinValue"
	case TypeNull:
		return "Null"
	case TypeInt32:
		return "Int32"
	case TypeInt64:
		return "Int64"
	case TypeDouble:
		return "Double"
	case TypeString:
		return "String"
	case TypeDocument:
		return "Document"
	case TypeArray:
		return "Array"
	case TypeBinary:
		return "Binary"
	case TypeUUID:
		return "UUID"
	case TypeBoolean:
		return "Boolean"
	case TypeDateTime:
		return "DateTime"
	case TypeMaxValue:
		return "MaxValue"
	default:
		return "Unknown"
	}
}

// IsNumber reports whether t is one of the numeric types.
func (t Type) IsNumber() bool {
	return t == TypeInt32 || t == TypeInt64 || t == TypeDouble
}

func (t Type) rank() int {
	if t.IsNumber() {
		return int(TypeInt32)
	}
	return int(t)
}

// Value is an immutable typed value. The zero Value is Null.
type Value struct {
	t Type
	i int64
	f float64
	s string
	b []byte
	d *Document
	a []Value
}

// Null returns the null value.
func Null() Value { return Value{t: TypeNull} }

// MinValue returns the value that sorts before every other value.
func MinValue() Value { return Value{t: TypeMinValue} }

// MaxValue returns the value that sorts after every other value.
func MaxValue() Value { return Value{t: TypeMaxValue} }

// Int32 returns a 32-bit integer value.
func Int32(v int32) Value { return Value{t: TypeInt32, i: int64(v)} }

// Int64 returns a 64-bit integer value.
func Int64(v int64) Value { return Value{t: TypeInt64, i: v} }

// Double returns a floating point value.
func Double(v float64) Value { return Value{t: TypeDouble, f: v} }

// String returns a string value.
func String(v string) Value { return Value{t: TypeString, s: v} }

// Bool returns a boolean value.
func Bool(v bool) Value {
	if v {
		return Value{t: TypeBoolean, i: 1}
	}
	return Value{t: TypeBoolean}
}

// DateTime returns a date value with millisecond precision in UTC.
func DateTime(v time.Time) Value { return Value{t: TypeDateTime, i: v.UnixMilli()} }

// Binary returns a binary value holding a copy of v.
func Binary(v []byte) Value {
	return Value{t: TypeBinary, b: append([]byte(nil), v...)}
}

// UUID returns a UUID value.
func UUID(v uuid.UUID) Value {
	return Value{t: TypeUUID, b: append([]byte(nil), v[:]...)}
}

// NewID returns a fresh time-ordered UUID for use as a document _id.
func NewID() Value {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return UUID(id)
}

// Doc returns a document value. A nil document becomes Null.
func Doc(d *Document) Value {
	if d == nil {
		return Null()
	}
	return Value{t: TypeDocument, d: d}
}

// Array returns an array value.
func Array(items ...Value) Value {
	return Value{t: TypeArray, a: append([]Value(nil), items...)}
}

// Type returns the type of the value.
func (v Value) Type() Type {
	if v.t == 0 {
		return TypeNull
	}
	return v.t
}

// IsNull reports whether the value is Null.
func (v Value) IsNull() bool { return v.Type() == TypeNull }

// IsNumber reports whether the value is numeric.
func (v Value) IsNumber() bool { return v.t.IsNumber() }

// AsInt64 returns the value as an integer, converting doubles.
func (v Value) AsInt64() int64 {
	switch v.t {
	case TypeInt32, TypeInt64, TypeBoolean, TypeDateTime:
		return v.i
	case TypeDouble:
		return int64(v.f)
	default:
		return 0
	}
}

// AsDouble returns the value as a float, converting integers.
func (v Value) AsDouble() float64 {
	switch v.t {
	case TypeInt32, TypeInt64:
		return float64(v.i)
	case TypeDouble:
		return v.f
	default:
		return 0
	}
}

// AsString returns the string of a String value, or "".
func (v Value) AsString() string { return v.s }

// AsBool returns the boolean of a Boolean value.
func (v Value) AsBool() bool { return v.t == TypeBoolean && v.i == 1 }

// AsTime returns the time of a DateTime value.
func (v Value) AsTime() time.Time {
	if v.t != TypeDateTime {
		return time.Time{}
	}
	return time.UnixMilli(v.i).UTC()
}

// AsBinary returns the bytes of a Binary value. The slice must not be modified.
func (v Value) AsBinary() []byte {
	if v.t != TypeBinary {
		return nil
	}
	return v.b
}

// AsUUID returns the UUID of a UUID value.
func (v Value) AsUUID() uuid.UUID {
	var id uuid.UUID
	if v.t == TypeUUID {
		copy(id[:], v.b)
	}
	return id
}

// AsDocument returns the document of a Document value, or nil.
func (v Value) AsDocument() *Document { return v.d }

// AsArray returns the items of an Array value. The slice must not be modified.
func (v Value) AsArray() []Value { return v.a }

// Interface returns the value as a plain Go value.
func (v Value) Interface() interface{} {
	switch v.Type() {
	case TypeInt32:
		return int32(v.i)
	case TypeInt64:
		return v.i
	case TypeDouble:
		return v.f
	case TypeString:
		return v.s
	case TypeBoolean:
		return v.AsBool()
	case TypeDateTime:
		return v.AsTime()
	case TypeBinary:
		return v.b
	case TypeUUID:
		return v.AsUUID()
	case TypeDocument:
		return v.d
	case TypeArray:
		out := make([]interface{}, len(v.a))
		for i, item := range v.a {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// String returns a short human-readable rendering of the value.
func (v Value) String() string {
	switch v.Type() {
	case TypeMinValue:
		return "$minValue"
	case TypeMaxValue:
		return "$maxValue"
	case TypeNull:
		return "null"
	case TypeInt32, TypeInt64:
		return strconv.FormatInt(v.i, 10)
	case TypeDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeString:
		return strconv.Quote(v.s)
	case TypeBoolean:
		return strconv.FormatBool(v.AsBool())
	case TypeDateTime:
		return v.AsTime().Format(time.RFC3339Nano)
	case TypeBinary:
		return fmt.Sprintf("binary(%d)", len(v.b))
	case TypeUUID:
		return v.AsUUID().String()
	case TypeDocument:
		return v.d.String()
	case TypeArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.a {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(item.String())
		}
		buf.WriteByte(']')
		return buf.String()
	default:
		return "?"
	}
}

// From converts a Go value into a Value. It accepts Value, *Document,
// map[string]interface{}, slices, the integer and float kinds, string,
// bool, time.Time, []byte and uuid.UUID. Anything else is an error.
func From(x interface{}) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case *Document:
		return Doc(t), nil
	case map[string]interface{}:
		d, err := FromMap(t)
		if err != nil {
			return Value{}, err
		}
		return Doc(d), nil
	case []Value:
		return Array(t...), nil
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := From(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Array(items...), nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return Array(items...), nil
	case []int:
		items := make([]Value, len(t))
		for i, n := range t {
			items[i] = fromInt(int64(n))
		}
		return Array(items...), nil
	case int:
		return fromInt(int64(t)), nil
	case int8:
		return Int32(int32(t)), nil
	case int16:
		return Int32(int32(t)), nil
	case int32:
		return Int32(t), nil
	case int64:
		return Int64(t), nil
	case uint8:
		return Int32(int32(t)), nil
	case uint16:
		return Int32(int32(t)), nil
	case uint32:
		return Int64(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Double(float64(t)), nil
		}
		return Int64(int64(t)), nil
	case float32:
		return Double(float64(t)), nil
	case float64:
		return Double(t), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case time.Time:
		return DateTime(t), nil
	case []byte:
		return Binary(t), nil
	case uuid.UUID:
		return UUID(t), nil
	default:
		return Value{}, fmt.Errorf("document: unsupported value type %T", x)
	}
}

// MustFrom is From that panics on unsupported types. Intended for literals.
func MustFrom(x interface{}) Value {
	v, err := From(x)
	if err != nil {
		panic(err)
	}
	return v
}

func fromInt(n int64) Value {
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return Int32(int32(n))
	}
	return Int64(n)
}
