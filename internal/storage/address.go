// Package storage provides the core storage engine components for PageDB.
package storage

import (
	"encoding/binary"
	"fmt"
)

// AddressSize is the encoded size of an Address.
const AddressSize = 6

// Address locates a record: a slot on a page.
type Address struct {
	Page PageID
	Slot uint16
}

// EmptyAddress is the zero Address. Page 0 is the header, so no record
// lives there.
var EmptyAddress = Address{}

// IsEmpty reports whether a is the empty address.
func (a Address) IsEmpty() bool {
	return a.Page == 0
}

// String returns "page:slot".
func (a Address) String() string {
	return fmt.Sprintf("%d:%d", a.Page, a.Slot)
}

// Put encodes a into b, which must hold AddressSize bytes.
func (a Address) Put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(a.Page))
	binary.LittleEndian.PutUint16(b[4:6], a.Slot)
}

// Append appends the encoding of a to dst.
func (a Address) Append(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(a.Page))
	return binary.LittleEndian.AppendUint16(dst, a.Slot)
}

// ReadAddress decodes an Address from b.
func ReadAddress(b []byte) Address {
	return Address{
		Page: PageID(binary.LittleEndian.Uint32(b[0:4])),
		Slot: binary.LittleEndian.Uint16(b[4:6]),
	}
}
