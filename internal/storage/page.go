// Package storage provides the core storage engine components for PageDB.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// DefaultPageSize is the default page size in bytes.
const DefaultPageSize = 8192

// MinPageSize and MaxPageSize bound the configurable page size. Offsets inside
// a page are stored as uint16, which caps the size at 32 KiB.
const (
	MinPageSize = 4096
	MaxPageSize = 32768
)

// PageHeaderSize is the size of the page header in bytes.
const PageHeaderSize = 32

// NoBucket marks a page that is not linked into any allocation list.
const NoBucket = 0xFF

// PageType represents the type of a page in the database.
type PageType uint8

const (
	// PageTypeEmpty indicates a free page reusable by any collection.
	PageTypeEmpty PageType = iota
	// PageTypeHeader is the file header, always page 0.
	PageTypeHeader
	// PageTypeCollection holds a collection's metadata and index definitions.
	PageTypeCollection
	// PageTypeData holds document blocks.
	PageTypeData
	// PageTypeIndex holds skip list nodes.
	PageTypeIndex
	// PageTypeAllocationMap holds a collection's free-space bucket lists.
	PageTypeAllocationMap
)

// String returns the string representation of a PageType.
func (pt PageType) String() string {
	switch pt {
	case PageTypeEmpty:
		return "Empty"
	case PageTypeHeader:
		return "Header"
	case PageTypeCollection:
		return "Collection"
	case PageTypeData:
		return "Data"
	case PageTypeIndex:
		return "Index"
	case PageTypeAllocationMap:
		return "AllocationMap"
	default:
		return "Unknown"
	}
}

// PageFlag represents flags for a page.
type PageFlag uint8

const (
	// PageFlagConfirmed marks the last log image of a committed transaction.
	PageFlagConfirmed PageFlag = 1 << iota
)

// PageID represents a unique identifier for a page. It is also the page's
// position in the data area.
type PageID uint32

// PageHeader represents the header of each page (first 32 bytes).
// Layout:
//   - Bytes 0-3:   PageID
//   - Byte 4:      PageType
//   - Byte 5:      Flags
//   - Bytes 6-7:   ItemCount
//   - Bytes 8-11:  CollectionID
//   - Bytes 12-15: TxID
//   - Bytes 16-19: PrevPageID
//   - Bytes 20-23: NextPageID
//   - Bytes 24-25: FreeBytes
//   - Byte 26:     Bucket
//   - Byte 27:     reserved
//   - Bytes 28-31: Checksum
type PageHeader struct {
	PageID       PageID
	PageType     PageType
	Flags        PageFlag
	ItemCount    uint16
	CollectionID uint32
	TxID         uint32
	PrevPageID   PageID
	NextPageID   PageID
	FreeBytes    uint16
	Bucket       uint8
	Checksum     uint32
}

// Page errors.
var (
	ErrInvalidPageSize = errors.New("invalid page size")
	ErrPageChecksum    = errors.New("page checksum mismatch")
	ErrPageIDMismatch  = errors.New("page id does not match its position")
)

// Page is a decoded page: header plus payload. The payload slice is
// pageSize-PageHeaderSize bytes long.
type Page struct {
	Header PageHeader
	Data   []byte
}

// NewPage creates a zeroed page of the given type for a page size.
func NewPage(id PageID, pageType PageType, pageSize int) *Page {
	p := &Page{
		Header: PageHeader{
			PageID:   id,
			PageType: pageType,
			Bucket:   NoBucket,
		},
		Data: make([]byte, pageSize-PageHeaderSize),
	}
	p.Header.FreeBytes = uint16(len(p.Data))
	return p
}

// ValidPageSize reports whether size can be used as a page size.
func ValidPageSize(size int) bool {
	if size < MinPageSize || size > MaxPageSize {
		return false
	}
	return size&(size-1) == 0
}

// Size returns the full on-disk size of the page.
func (p *Page) Size() int {
	return PageHeaderSize + len(p.Data)
}

// Clone returns a deep copy of the page.
func (p *Page) Clone() *Page {
	c := &Page{Header: p.Header, Data: make([]byte, len(p.Data))}
	copy(c.Data, p.Data)
	return c
}

// Reset turns the page into a fresh page of another type while keeping its ID.
func (p *Page) Reset(pageType PageType) {
	id := p.Header.PageID
	p.Header = PageHeader{PageID: id, PageType: pageType, Bucket: NoBucket}
	for i := range p.Data {
		p.Data[i] = 0
	}
	p.Header.FreeBytes = uint16(len(p.Data))
}

// Serialize encodes the page into buf, which must be exactly p.Size() bytes,
// and stamps the checksum.
func (p *Page) Serialize(buf []byte) error {
	if len(buf) != p.Size() {
		return ErrInvalidPageSize
	}
	h := &p.Header
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.PageID))
	buf[4] = byte(h.PageType)
	buf[5] = byte(h.Flags)
	binary.LittleEndian.PutUint16(buf[6:8], h.ItemCount)
	binary.LittleEndian.PutUint32(buf[8:12], h.CollectionID)
	binary.LittleEndian.PutUint32(buf[12:16], h.TxID)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.PrevPageID))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(h.NextPageID))
	binary.LittleEndian.PutUint16(buf[24:26], h.FreeBytes)
	buf[26] = h.Bucket
	buf[27] = 0
	binary.LittleEndian.PutUint32(buf[28:32], 0)
	copy(buf[PageHeaderSize:], p.Data)

	h.Checksum = pageChecksum(buf)
	binary.LittleEndian.PutUint32(buf[28:32], h.Checksum)
	return nil
}

// Bytes serializes the page into a new buffer.
func (p *Page) Bytes() []byte {
	buf := make([]byte, p.Size())
	_ = p.Serialize(buf)
	return buf
}

// DeserializePage decodes and validates a page image.
func DeserializePage(buf []byte) (*Page, error) {
	if !ValidPageSize(len(buf)) {
		return nil, ErrInvalidPageSize
	}
	stored := binary.LittleEndian.Uint32(buf[28:32])
	binary.LittleEndian.PutUint32(buf[28:32], 0)
	computed := pageChecksum(buf)
	binary.LittleEndian.PutUint32(buf[28:32], stored)
	if stored != computed {
		return nil, fmt.Errorf("%w: stored %08x computed %08x", ErrPageChecksum, stored, computed)
	}

	p := &Page{Data: make([]byte, len(buf)-PageHeaderSize)}
	h := &p.Header
	h.PageID = PageID(binary.LittleEndian.Uint32(buf[0:4]))
	h.PageType = PageType(buf[4])
	h.Flags = PageFlag(buf[5])
	h.ItemCount = binary.LittleEndian.Uint16(buf[6:8])
	h.CollectionID = binary.LittleEndian.Uint32(buf[8:12])
	h.TxID = binary.LittleEndian.Uint32(buf[12:16])
	h.PrevPageID = PageID(binary.LittleEndian.Uint32(buf[16:20]))
	h.NextPageID = PageID(binary.LittleEndian.Uint32(buf[20:24]))
	h.FreeBytes = binary.LittleEndian.Uint16(buf[24:26])
	h.Bucket = buf[26]
	h.Checksum = stored
	copy(p.Data, buf[PageHeaderSize:])
	return p, nil
}

// IsZeroPage reports whether buf was never written.
func IsZeroPage(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

func pageChecksum(buf []byte) uint32 {
	return uint32(xxhash.Sum64(buf))
}
