package document

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Codec errors.
var (
	ErrTruncated   = errors.New("document: truncated encoding")
	ErrUnknownType = errors.New("document: unknown value type")
	ErrTooDeep     = errors.New("document: nesting too deep")
)

// MaxDepth bounds document and array nesting.
const MaxDepth = 100

// Encode serializes a document.
//
// Format: uvarint field count, then per field a uvarint key length, the key
// bytes and the encoded value.
func Encode(d *Document) []byte {
	return AppendDocument(nil, d)
}

// AppendDocument appends the encoding of d to dst.
func AppendDocument(dst []byte, d *Document) []byte {
	dst = binary.AppendUvarint(dst, uint64(d.Len()))
	if d == nil {
		return dst
	}
	for _, k := range d.keys {
		dst = binary.AppendUvarint(dst, uint64(len(k)))
		dst = append(dst, k...)
		dst = AppendValue(dst, d.values[k])
	}
	return dst
}

// EncodeValue serializes a single value.
func EncodeValue(v Value) []byte {
	return AppendValue(nil, v)
}

// AppendValue appends the encoding of v: a type byte followed by its payload.
func AppendValue(dst []byte, v Value) []byte {
	t := v.Type()
	dst = append(dst, byte(t))
	switch t {
	case TypeInt32:
		dst = binary.LittleEndian.AppendUint32(dst, uint32(int32(v.i)))
	case TypeInt64, TypeDateTime:
		dst = binary.LittleEndian.AppendUint64(dst, uint64(v.i))
	case TypeDouble:
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(v.f))
	case TypeBoolean:
		dst = append(dst, byte(v.i))
	case TypeString:
		dst = binary.AppendUvarint(dst, uint64(len(v.s)))
		dst = append(dst, v.s...)
	case TypeBinary:
		dst = binary.AppendUvarint(dst, uint64(len(v.b)))
		dst = append(dst, v.b...)
	case TypeUUID:
		dst = append(dst, v.b[:16]...)
	case TypeDocument:
		dst = AppendDocument(dst, v.d)
	case TypeArray:
		dst = binary.AppendUvarint(dst, uint64(len(v.a)))
		for _, item := range v.a {
			dst = AppendValue(dst, item)
		}
	}
	return dst
}

// Decode parses a document produced by Encode.
func Decode(b []byte) (*Document, error) {
	r := &reader{buf: b}
	d, err := r.document(0)
	if err != nil {
		return nil, err
	}
	if r.pos != len(b) {
		return nil, fmt.Errorf("document: %d trailing bytes", len(b)-r.pos)
	}
	return d, nil
}

// DecodeValue parses one value from the start of b and returns it with the
// number of bytes consumed.
func DecodeValue(b []byte) (Value, int, error) {
	r := &reader{buf: b}
	v, err := r.value(0)
	if err != nil {
		return Value{}, 0, err
	}
	return v, r.pos, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) uvarint() (uint64, error) {
	n, size := binary.Uvarint(r.buf[r.pos:])
	if size <= 0 {
		return 0, ErrTruncated
	}
	r.pos += size
	return n, nil
}

func (r *reader) bytes(n uint64) ([]byte, error) {
	if n > uint64(len(r.buf)-r.pos) {
		return nil, ErrTruncated
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *reader) document(depth int) (*Document, error) {
	if depth > MaxDepth {
		return nil, ErrTooDeep
	}
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.buf)-r.pos) {
		return nil, ErrTruncated
	}
	d := &Document{keys: make([]string, 0, n), values: make(map[string]Value, n)}
	for i := uint64(0); i < n; i++ {
		kl, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		kb, err := r.bytes(kl)
		if err != nil {
			return nil, err
		}
		v, err := r.value(depth + 1)
		if err != nil {
			return nil, err
		}
		d.SetValue(string(kb), v)
	}
	return d, nil
}

func (r *reader) value(depth int) (Value, error) {
	tb, err := r.bytes(1)
	if err != nil {
		return Value{}, err
	}
	t := Type(tb[0])
	switch t {
	case TypeMinValue, TypeNull, TypeMaxValue:
		return Value{t: t}, nil
	case TypeInt32:
		b, err := r.bytes(4)
		if err != nil {
			return Value{}, err
		}
		return Int32(int32(binary.LittleEndian.Uint32(b))), nil
	case TypeInt64, TypeDateTime:
		b, err := r.bytes(8)
		if err != nil {
			return Value{}, err
		}
		return Value{t: t, i: int64(binary.LittleEndian.Uint64(b))}, nil
	case TypeDouble:
		b, err := r.bytes(8)
		if err != nil {
			return Value{}, err
		}
		return Double(math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
	case TypeBoolean:
		b, err := r.bytes(1)
		if err != nil {
			return Value{}, err
		}
		return Bool(b[0] != 0), nil
	case TypeString:
		n, err := r.uvarint()
		if err != nil {
			return Value{}, err
		}
		b, err := r.bytes(n)
		if err != nil {
			return Value{}, err
		}
		return String(string(b)), nil
	case TypeBinary:
		n, err := r.uvarint()
		if err != nil {
			return Value{}, err
		}
		b, err := r.bytes(n)
		if err != nil {
			return Value{}, err
		}
		return Binary(b), nil
	case TypeUUID:
		b, err := r.bytes(16)
		if err != nil {
			return Value{}, err
		}
		return Value{t: TypeUUID, b: append([]byte(nil), b...)}, nil
	case TypeDocument:
		d, err := r.document(depth + 1)
		if err != nil {
			return Value{}, err
		}
		return Doc(d), nil
	case TypeArray:
		if depth > MaxDepth {
			return Value{}, ErrTooDeep
		}
		n, err := r.uvarint()
		if err != nil {
			return Value{}, err
		}
		if n > uint64(len(r.buf)-r.pos) {
			return Value{}, ErrTruncated
		}
		items := make([]Value, n)
		for i := range items {
			if items[i], err = r.value(depth + 1); err != nil {
				return Value{}, err
			}
		}
		return Value{t: TypeArray, a: items}, nil
	default:
		return Value{}, fmt.Errorf("%w: %d", ErrUnknownType, tb[0])
	}
}
