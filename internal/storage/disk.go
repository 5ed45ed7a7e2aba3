// Package storage provides the core storage engine components for PageDB.
package storage

import (
	"errors"
	"fmt"
	"io"

	"github.com/KilimcininKorOglu/pagedb/internal/crypto"
)

// Origin tells whether a page position refers to the data area or the log.
type Origin uint8

const (
	// OriginData is the main data area; a position is a PageID.
	OriginData Origin = iota
	// OriginLog is the write-ahead log; a position is a frame index.
	OriginLog
)

// String returns the string representation of an Origin.
func (o Origin) String() string {
	if o == OriginLog {
		return "log"
	}
	return "data"
}

// logSectorBase separates log positions from data positions in the cipher
// tweak space.
const logSectorBase = uint64(1) << 40

// ErrReadOnly is returned for writes on a read-only disk.
var ErrReadOnly = errors.New("disk is read-only")

// DiskService performs page-granular I/O on the data and log streams,
// including encryption and checksum validation.
type DiskService struct {
	data     Stream
	log      Stream
	pageSize int
	cipher   *crypto.PageCipher
	readOnly bool
}

// NewDiskService wraps the two streams. cipher may be nil.
func NewDiskService(data, log Stream, pageSize int, cipher *crypto.PageCipher, readOnly bool) *DiskService {
	return &DiskService{
		data:     data,
		log:      log,
		pageSize: pageSize,
		cipher:   cipher,
		readOnly: readOnly,
	}
}

// PageSize returns the page size.
func (d *DiskService) PageSize() int {
	return d.pageSize
}

// ReadOnly reports whether writes are rejected.
func (d *DiskService) ReadOnly() bool {
	return d.readOnly
}

func (d *DiskService) stream(origin Origin) Stream {
	if origin == OriginLog {
		return d.log
	}
	return d.data
}

func (d *DiskService) sector(origin Origin, position int64) uint64 {
	if origin == OriginLog {
		return logSectorBase + uint64(position)
	}
	return uint64(position)
}

// encrypted reports whether a position is stored encrypted. Only the
// header page in the data area stays in plain text, so the salt can be read.
func (d *DiskService) encrypted(origin Origin, position int64) bool {
	return d.cipher != nil && !(origin == OriginData && position == 0)
}

// ReadRaw reads the raw image at position, decrypted but not validated.
func (d *DiskService) ReadRaw(origin Origin, position int64) ([]byte, error) {
	buf := make([]byte, d.pageSize)
	n, err := d.stream(origin).ReadAt(buf, position*int64(d.pageSize))
	if err != nil && !(errors.Is(err, io.EOF) && n == d.pageSize) {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if d.encrypted(origin, position) {
		if err := d.cipher.DecryptPage(buf, d.sector(origin, position)); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// ReadPage reads and validates the page at position.
func (d *DiskService) ReadPage(origin Origin, position int64) (*Page, error) {
	buf, err := d.ReadRaw(origin, position)
	if err != nil {
		return nil, CorruptPage("read "+origin.String(), PageID(position), err)
	}
	p, err := DeserializePage(buf)
	if err != nil {
		return nil, CorruptPage("read "+origin.String(), PageID(position), err)
	}
	if origin == OriginData && p.Header.PageID != PageID(position) {
		return nil, CorruptPage("read data", PageID(position),
			fmt.Errorf("%w: found %d", ErrPageIDMismatch, p.Header.PageID))
	}
	return p, nil
}

func (d *DiskService) encode(p *Page, origin Origin, position int64) ([]byte, error) {
	if p.Size() != d.pageSize {
		return nil, ErrInvalidPageSize
	}
	buf := make([]byte, d.pageSize)
	if err := p.Serialize(buf); err != nil {
		return nil, err
	}
	if d.encrypted(origin, position) {
		if err := d.cipher.EncryptPage(buf, d.sector(origin, position)); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// WriteDataPages writes pages at their own positions in the data area.
// The caller syncs.
func (d *DiskService) WriteDataPages(pages []*Page) error {
	if d.readOnly {
		return ErrReadOnly
	}
	for _, p := range pages {
		buf, err := d.encode(p, OriginData, int64(p.Header.PageID))
		if err != nil {
			return err
		}
		if _, err := d.data.WriteAt(buf, int64(p.Header.PageID)*int64(d.pageSize)); err != nil {
			return err
		}
	}
	return nil
}

// WriteLogPages writes pages as consecutive frames starting at position
// and syncs the log.
func (d *DiskService) WriteLogPages(position int64, pages []*Page) error {
	if d.readOnly {
		return ErrReadOnly
	}
	out := make([]byte, 0, len(pages)*d.pageSize)
	for i, p := range pages {
		buf, err := d.encode(p, OriginLog, position+int64(i))
		if err != nil {
			return err
		}
		out = append(out, buf...)
	}
	if _, err := d.log.WriteAt(out, position*int64(d.pageSize)); err != nil {
		return err
	}
	return d.log.Sync()
}

// SyncData flushes the data area.
func (d *DiskService) SyncData() error {
	if d.readOnly {
		return nil
	}
	return d.data.Sync()
}

// DataPages returns the number of whole pages in the data area.
func (d *DiskService) DataPages() (int64, error) {
	size, err := d.data.Size()
	if err != nil {
		return 0, err
	}
	return size / int64(d.pageSize), nil
}

// LogFrames returns the number of whole frames in the log.
func (d *DiskService) LogFrames() (int64, error) {
	size, err := d.log.Size()
	if err != nil {
		return 0, err
	}
	return size / int64(d.pageSize), nil
}

// DataSize returns the data area size in bytes.
func (d *DiskService) DataSize() (int64, error) {
	return d.data.Size()
}

// LogSize returns the log size in bytes.
func (d *DiskService) LogSize() (int64, error) {
	return d.log.Size()
}

// TruncateLog discards frames from position on.
func (d *DiskService) TruncateLog(position int64) error {
	if d.readOnly {
		return ErrReadOnly
	}
	if err := d.log.Truncate(position * int64(d.pageSize)); err != nil {
		return err
	}
	return d.log.Sync()
}

// TruncateData sets the data area size to pages pages.
func (d *DiskService) TruncateData(pages int64) error {
	if d.readOnly {
		return ErrReadOnly
	}
	return d.data.Truncate(pages * int64(d.pageSize))
}

// Close closes both streams.
func (d *DiskService) Close() error {
	err1 := d.log.Close()
	err2 := d.data.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
