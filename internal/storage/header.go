// Package storage provides the core storage engine components for PageDB.
package storage

import (
	"encoding/binary"
	"errors"
	"time"
)

// File header constants.
const (
	// CurrentVersion is the current file format version.
	CurrentVersion uint16 = 1

	// HeaderPageID is the fixed position of the header page.
	HeaderPageID PageID = 0

	// SaltSize is the size of the encryption salt stored in the header.
	SaltSize = 16

	// KeyCheckSize is the size of the password verifier stored in the header.
	KeyCheckSize = 16

	// MaxCollationLength bounds the persisted collation name.
	MaxCollationLength = 64

	// headerProbeSize is enough bytes to read the magic and the page size
	// before the page size is known.
	headerProbeSize = PageHeaderSize + 16
)

// Magic identifies a PageDB file.
var Magic = [4]byte{'P', 'G', 'D', 'B'}

// Errors for file header operations.
var (
	ErrInvalidMagic       = errors.New("invalid magic number: not a PageDB file")
	ErrUnsupportedVersion = errors.New("unsupported file format version")
	ErrCollationTooLong   = errors.New("collation name too long")
)

// Pragmas are the engine settings persisted in the header.
type Pragmas struct {
	UserVersion    int32
	Collation      string
	Timeout        time.Duration
	LimitSize      int64
	CheckpointSize uint32
	AutoRebuild    bool
}

// FileHeader is the decoded header page (page 0).
// Payload layout:
//   - Bytes 0-3:     Magic ("PGDB")
//   - Bytes 4-5:     Version
//   - Bytes 6-7:     reserved
//   - Bytes 8-11:    PageSize
//   - Bytes 12-19:   CreationTime (unix nanoseconds)
//   - Bytes 20-23:   FreeEmptyPageList
//   - Bytes 24-27:   LastPageID
//   - Bytes 28-31:   CatalogPageID
//   - Bytes 32-35:   NextCollectionID
//   - Byte 36:       Encrypted
//   - Bytes 37-52:   Salt
//   - Bytes 53-68:   KeyCheck
//   - Bytes 69-72:   UserVersion
//   - Bytes 73-80:   Timeout (nanoseconds)
//   - Bytes 81-88:   LimitSize
//   - Bytes 89-92:   CheckpointSize
//   - Byte 93:       AutoRebuild
//   - Byte 94:       collation length
//   - Bytes 95-...:  collation
type FileHeader struct {
	Version           uint16
	PageSize          uint32
	CreationTime      time.Time
	FreeEmptyPageList PageID
	LastPageID        PageID
	CatalogPageID     PageID
	NextCollectionID  uint32
	Encrypted         bool
	Salt              [SaltSize]byte
	KeyCheck          [KeyCheckSize]byte
	Pragmas           Pragmas
}

// NewFileHeader creates a header for a freshly created file.
func NewFileHeader(pageSize int) *FileHeader {
	return &FileHeader{
		Version:          CurrentVersion,
		PageSize:         uint32(pageSize),
		CreationTime:     time.Now().UTC(),
		NextCollectionID: 1,
	}
}

// Clone returns a copy of the header.
func (h *FileHeader) Clone() *FileHeader {
	c := *h
	return &c
}

// ToPage encodes the header into a Header page.
func (h *FileHeader) ToPage() (*Page, error) {
	if len(h.Pragmas.Collation) > MaxCollationLength {
		return nil, ErrCollationTooLong
	}
	p := NewPage(HeaderPageID, PageTypeHeader, int(h.PageSize))
	d := p.Data
	copy(d[0:4], Magic[:])
	binary.LittleEndian.PutUint16(d[4:6], h.Version)
	binary.LittleEndian.PutUint32(d[8:12], h.PageSize)
	binary.LittleEndian.PutUint64(d[12:20], uint64(h.CreationTime.UnixNano()))
	binary.LittleEndian.PutUint32(d[20:24], uint32(h.FreeEmptyPageList))
	binary.LittleEndian.PutUint32(d[24:28], uint32(h.LastPageID))
	binary.LittleEndian.PutUint32(d[28:32], uint32(h.CatalogPageID))
	binary.LittleEndian.PutUint32(d[32:36], h.NextCollectionID)
	if h.Encrypted {
		d[36] = 1
	}
	copy(d[37:53], h.Salt[:])
	copy(d[53:69], h.KeyCheck[:])
	binary.LittleEndian.PutUint32(d[69:73], uint32(h.Pragmas.UserVersion))
	binary.LittleEndian.PutUint64(d[73:81], uint64(h.Pragmas.Timeout))
	binary.LittleEndian.PutUint64(d[81:89], uint64(h.Pragmas.LimitSize))
	binary.LittleEndian.PutUint32(d[89:93], h.Pragmas.CheckpointSize)
	if h.Pragmas.AutoRebuild {
		d[93] = 1
	}
	d[94] = byte(len(h.Pragmas.Collation))
	copy(d[95:], h.Pragmas.Collation)
	p.Header.FreeBytes = 0
	return p, nil
}

// HeaderFromPage decodes and validates a Header page.
func HeaderFromPage(p *Page) (*FileHeader, error) {
	d := p.Data
	if p.Header.PageType != PageTypeHeader || [4]byte(d[0:4]) != Magic {
		return nil, ErrInvalidMagic
	}
	h := &FileHeader{}
	h.Version = binary.LittleEndian.Uint16(d[4:6])
	if h.Version == 0 || h.Version > CurrentVersion {
		return nil, ErrUnsupportedVersion
	}
	h.PageSize = binary.LittleEndian.Uint32(d[8:12])
	if int(h.PageSize) != p.Size() {
		return nil, ErrInvalidPageSize
	}
	h.CreationTime = time.Unix(0, int64(binary.LittleEndian.Uint64(d[12:20]))).UTC()
	h.FreeEmptyPageList = PageID(binary.LittleEndian.Uint32(d[20:24]))
	h.LastPageID = PageID(binary.LittleEndian.Uint32(d[24:28]))
	h.CatalogPageID = PageID(binary.LittleEndian.Uint32(d[28:32]))
	h.NextCollectionID = binary.LittleEndian.Uint32(d[32:36])
	h.Encrypted = d[36] == 1
	copy(h.Salt[:], d[37:53])
	copy(h.KeyCheck[:], d[53:69])
	h.Pragmas.UserVersion = int32(binary.LittleEndian.Uint32(d[69:73]))
	h.Pragmas.Timeout = time.Duration(binary.LittleEndian.Uint64(d[73:81]))
	h.Pragmas.LimitSize = int64(binary.LittleEndian.Uint64(d[81:89]))
	h.Pragmas.CheckpointSize = binary.LittleEndian.Uint32(d[89:93])
	h.Pragmas.AutoRebuild = d[93] == 1
	n := int(d[94])
	if n > MaxCollationLength {
		return nil, ErrCollationTooLong
	}
	h.Pragmas.Collation = string(d[95 : 95+n])
	return h, nil
}

// ProbePageSize reads the page size out of the first bytes of a file.
func ProbePageSize(buf []byte) (int, error) {
	if len(buf) < headerProbeSize {
		return 0, ErrInvalidMagic
	}
	d := buf[PageHeaderSize:]
	if [4]byte(d[0:4]) != Magic {
		return 0, ErrInvalidMagic
	}
	size := int(binary.LittleEndian.Uint32(d[8:12]))
	if !ValidPageSize(size) {
		return 0, ErrInvalidPageSize
	}
	return size, nil
}
