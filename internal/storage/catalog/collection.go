package catalog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/alloc"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/data"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/document"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/index"
)

// ErrBadCollectionPage is the cause reported for an undecodable Collection
// page.
var ErrBadCollectionPage = errors.New("malformed collection page")

// Collection describes one collection.
type Collection struct {
	ID        uint32
	Name      string
	PageID    storage.PageID
	AllocPage storage.PageID
	Created   time.Time
	Indexes   []*index.Definition
}

// Definition returns the index named name, or nil.
func (c *Collection) Definition(name string) *index.Definition {
	for _, d := range c.Indexes {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// PrimaryKey returns the _id index.
func (c *Collection) PrimaryKey() *index.Definition {
	return c.Definition(index.PrimaryKey)
}

// Clone returns a copy sharing nothing with c.
func (c *Collection) Clone() *Collection {
	cp := *c
	cp.Indexes = make([]*index.Definition, len(c.Indexes))
	for i, d := range c.Indexes {
		dd := *d
		cp.Indexes[i] = &dd
	}
	return &cp
}

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

// encode lays out the Collection page payload:
//
//	name | id u32 | created i64 | alloc page u32 | index count
//	per index: name | expression | unique u8 | head | tail
func (c *Collection) encode() []byte {
	b := appendString(nil, c.Name)
	b = binary.LittleEndian.AppendUint32(b, c.ID)
	b = binary.LittleEndian.AppendUint64(b, uint64(c.Created.UnixNano()))
	b = binary.LittleEndian.AppendUint32(b, uint32(c.AllocPage))
	b = binary.AppendUvarint(b, uint64(len(c.Indexes)))
	for _, d := range c.Indexes {
		b = appendString(b, d.Name)
		b = appendString(b, d.Expression)
		if d.Unique {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
		b = d.Head.Append(b)
		b = d.Tail.Append(b)
	}
	return b
}

type pageReader struct {
	b   []byte
	err error
}

func (r *pageReader) take(n int) []byte {
	if r.err != nil || n < 0 || n > len(r.b) {
		r.err = ErrBadCollectionPage
		return make([]byte, max(n, 0))
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out
}

func (r *pageReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.b)
	if n <= 0 {
		r.err = ErrBadCollectionPage
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *pageReader) string() string {
	n := r.uvarint()
	if n > uint64(len(r.b)) {
		r.err = ErrBadCollectionPage
		return ""
	}
	return string(r.take(int(n)))
}

// DecodeCollection decodes a Collection page without checking its owner.
func DecodeCollection(p *storage.Page) (*Collection, error) {
	r := &pageReader{b: p.Data}
	c := &Collection{PageID: p.Header.PageID}
	c.Name = r.string()
	c.ID = binary.LittleEndian.Uint32(r.take(4))
	c.Created = time.Unix(0, int64(binary.LittleEndian.Uint64(r.take(8)))).UTC()
	c.AllocPage = storage.PageID(binary.LittleEndian.Uint32(r.take(4)))
	n := r.uvarint()
	if n > MaxIndexes {
		return nil, storage.CorruptPage("read collection", p.Header.PageID, ErrBadCollectionPage)
	}
	for i := uint64(0); i < n && r.err == nil; i++ {
		name := r.string()
		expr := r.string()
		unique := r.take(1)[0] == 1
		def, err := index.NewDefinition(name, expr, unique)
		if err != nil {
			return nil, storage.CorruptPage("read collection", p.Header.PageID, err)
		}
		def.Head = storage.ReadAddress(r.take(storage.AddressSize))
		def.Tail = storage.ReadAddress(r.take(storage.AddressSize))
		c.Indexes = append(c.Indexes, def)
	}
	if r.err != nil {
		return nil, storage.CorruptPage("read collection", p.Header.PageID, r.err)
	}
	return c, nil
}

// readCollection loads the Collection page id of collection collID.
func readCollection(pager storage.Pager, id storage.PageID, collID uint32) (*Collection, error) {
	p, err := pager.ReadPage(id)
	if err != nil {
		return nil, err
	}
	if p.Header.PageType != storage.PageTypeCollection || p.Header.CollectionID != collID {
		return nil, storage.CorruptPage("read collection", id,
			fmt.Errorf("%w: %s page of collection %d", ErrBadCollectionPage, p.Header.PageType, p.Header.CollectionID))
	}
	return DecodeCollection(p)
}

// Handle is a collection opened inside a transaction together with the
// services that work on it.
type Handle struct {
	*Collection
	Pager storage.Pager
	Alloc *alloc.Map
	Data  *data.Service
	Index *index.Service
}

func newHandle(c *Collection, pager storage.Pager, collation *document.Collation) *Handle {
	m := alloc.Open(pager, c.AllocPage)
	return &Handle{
		Collection: c,
		Pager:      pager,
		Alloc:      m,
		Data:       data.New(pager, m),
		Index:      index.New(pager, m, collation),
	}
}

// Save writes the collection description back to its page.
func (h *Handle) Save() error {
	enc := h.Collection.encode()
	p, err := h.Pager.WritablePage(h.PageID)
	if err != nil {
		return err
	}
	if len(enc) > len(p.Data) {
		return storage.Errorf(storage.CodeResourceExhausted, "save collection",
			"collection %q does not fit its page", h.Name)
	}
	clear(p.Data)
	copy(p.Data, enc)
	p.Header.FreeBytes = uint16(len(p.Data) - len(enc))
	return nil
}

// Document reads and decodes the document stored at addr.
func (h *Handle) Document(addr storage.Address) (*document.Document, error) {
	raw, err := h.Data.Read(addr)
	if err != nil {
		return nil, err
	}
	doc, err := document.Decode(raw)
	if err != nil {
		return nil, storage.CorruptPage("decode document", addr.Page, err)
	}
	return doc, nil
}
