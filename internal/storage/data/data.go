// Package data stores encoded documents as chains of blocks in slotted Data
// pages.
//
// A block is one slotted record:
//
//	flags(1) | next page(4) | next slot(2) | fragment
//
// The head block carries FlagHead and, when the document was compressed,
// FlagCompressed. The address of the head block is the document's location
// and never changes while the document lives.
package data

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/snappy"

	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/alloc"
)

// Block flags.
const (
	FlagHead       byte = 1 << 0
	FlagCompressed byte = 1 << 1
)

// BlockHeaderSize is the size of a block header.
const BlockHeaderSize = 1 + storage.AddressSize

// CompressThreshold is the encoded size above which documents are
// compressed when that makes them smaller.
const CompressThreshold = 1024

// MaxDocumentSize bounds an encoded document.
const MaxDocumentSize = 16 << 20

// Data service errors.
var (
	ErrNotHead      = errors.New("address is not the head of a document")
	ErrBrokenChain  = errors.New("document block chain is broken")
	ErrTooLarge     = errors.New("document exceeds the maximum size")
	ErrEmptyPayload = errors.New("document encoding is empty")
)

// Service reads and writes documents of one collection.
type Service struct {
	pager storage.Pager
	alloc *alloc.Map
}

// New returns a data service writing through pager and allocating pages
// from m.
func New(pager storage.Pager, m *alloc.Map) *Service {
	return &Service{pager: pager, alloc: m}
}

func (s *Service) maxFragment() int {
	return storage.MaxRecordSize(s.pager.PageSize()) - BlockHeaderSize
}

func encodePayload(raw []byte) ([]byte, byte, error) {
	if len(raw) == 0 {
		return nil, 0, ErrEmptyPayload
	}
	if len(raw) > MaxDocumentSize {
		return nil, 0, storage.Errorf(storage.CodeInvalidArgument, "encode document",
			"%w: %d bytes", ErrTooLarge, len(raw))
	}
	if len(raw) > CompressThreshold {
		if c := snappy.Encode(nil, raw); len(c) < len(raw) {
			return c, FlagHead | FlagCompressed, nil
		}
	}
	return raw, FlagHead, nil
}

func block(flags byte, next storage.Address, fragment []byte) []byte {
	b := make([]byte, 0, BlockHeaderSize+len(fragment))
	b = append(b, flags)
	b = next.Append(b)
	return append(b, fragment...)
}

// Insert stores raw and returns the address of its head block.
func (s *Service) Insert(raw []byte) (storage.Address, error) {
	payload, flags, err := encodePayload(raw)
	if err != nil {
		return storage.EmptyAddress, err
	}
	return s.writeChain(payload, flags)
}

// writeChain writes payload as a new chain, last fragment first so each
// block knows its successor. flags applies to the head block.
func (s *Service) writeChain(payload []byte, flags byte) (storage.Address, error) {
	limit := s.maxFragment()
	var chunks [][]byte
	for len(payload) > limit {
		chunks = append(chunks, payload[:limit])
		payload = payload[limit:]
	}
	chunks = append(chunks, payload)

	next := storage.EmptyAddress
	for i := len(chunks) - 1; i >= 0; i-- {
		f := byte(0)
		if i == 0 {
			f = flags
		}
		addr, err := s.insertBlock(block(f, next, chunks[i]))
		if err != nil {
			return storage.EmptyAddress, err
		}
		next = addr
	}
	return next, nil
}

func (s *Service) insertBlock(rec []byte) (storage.Address, error) {
	p, err := s.alloc.FindPage(alloc.KindData, len(rec))
	if err != nil {
		return storage.EmptyAddress, err
	}
	slot, err := storage.Slotted(p).Insert(rec)
	if err != nil {
		return storage.EmptyAddress, storage.CorruptPage("insert block", p.Header.PageID, err)
	}
	if err := s.alloc.Update(p); err != nil {
		return storage.EmptyAddress, err
	}
	return storage.Address{Page: p.Header.PageID, Slot: slot}, nil
}

// readBlock returns the flags, successor and fragment of the block at addr.
// The fragment aliases the page.
func (s *Service) readBlock(addr storage.Address) (byte, storage.Address, []byte, error) {
	p, err := s.pager.ReadPage(addr.Page)
	if err != nil {
		return 0, storage.EmptyAddress, nil, err
	}
	if p.Header.PageType != storage.PageTypeData || p.Header.CollectionID != s.pager.CollectionID() {
		return 0, storage.EmptyAddress, nil, storage.CorruptPage("read block", addr.Page,
			fmt.Errorf("%w: %s page of collection %d", ErrBrokenChain, p.Header.PageType, p.Header.CollectionID))
	}
	rec, err := storage.Slotted(p).Read(addr.Slot)
	if err != nil {
		return 0, storage.EmptyAddress, nil, storage.CorruptPage("read block", addr.Page, err)
	}
	if len(rec) < BlockHeaderSize {
		return 0, storage.EmptyAddress, nil, storage.CorruptPage("read block", addr.Page, ErrBrokenChain)
	}
	return rec[0], storage.ReadAddress(rec[1:]), rec[BlockHeaderSize:], nil
}

// chain returns the addresses of every block of the document at head.
func (s *Service) chain(head storage.Address) ([]storage.Address, error) {
	limit := MaxDocumentSize/s.maxFragment() + 2
	var out []storage.Address
	for addr := head; !addr.IsEmpty(); {
		if len(out) > limit {
			return nil, storage.CorruptPage("walk chain", addr.Page, ErrBrokenChain)
		}
		flags, next, _, err := s.readBlock(addr)
		if err != nil {
			return nil, err
		}
		if (len(out) == 0) != (flags&FlagHead != 0) {
			return nil, storage.CorruptPage("walk chain", addr.Page, ErrNotHead)
		}
		out = append(out, addr)
		addr = next
	}
	return out, nil
}

// Read returns the encoded document whose head block is at addr.
func (s *Service) Read(addr storage.Address) ([]byte, error) {
	limit := MaxDocumentSize/s.maxFragment() + 2
	var (
		buf     []byte
		headFlg byte
		n       int
	)
	for cur := addr; !cur.IsEmpty(); n++ {
		if n > limit {
			return nil, storage.CorruptPage("read document", cur.Page, ErrBrokenChain)
		}
		flags, next, frag, err := s.readBlock(cur)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			if flags&FlagHead == 0 {
				return nil, storage.CorruptPage("read document", cur.Page, ErrNotHead)
			}
			headFlg = flags
		} else if flags&FlagHead != 0 {
			return nil, storage.CorruptPage("read document", cur.Page, ErrBrokenChain)
		}
		buf = append(buf, frag...)
		cur = next
	}
	if headFlg&FlagCompressed != 0 {
		out, err := snappy.Decode(nil, buf)
		if err != nil {
			return nil, storage.CorruptPage("read document", addr.Page, fmt.Errorf("snappy decode: %w", err))
		}
		return out, nil
	}
	return buf, nil
}

// Update replaces the document at addr with raw. The head block stays at
// addr: it is rewritten in place with as much of the payload as its page
// can hold, and the rest goes to a fresh tail chain after the old tail
// blocks are freed.
func (s *Service) Update(addr storage.Address, raw []byte) error {
	payload, flags, err := encodePayload(raw)
	if err != nil {
		return err
	}
	blocks, err := s.chain(addr)
	if err != nil {
		return err
	}
	for _, b := range blocks[1:] {
		if err := s.deleteBlock(b); err != nil {
			return err
		}
	}

	p, err := s.pager.WritablePage(addr.Page)
	if err != nil {
		return err
	}
	sp := storage.Slotted(p)
	old, err := sp.Read(addr.Slot)
	if err != nil {
		return storage.CorruptPage("update document", addr.Page, err)
	}
	room := len(old) - BlockHeaderSize + int(p.Header.FreeBytes)
	if room > s.maxFragment() {
		room = s.maxFragment()
	}
	head, rest := payload, []byte(nil)
	if len(payload) > room {
		head, rest = payload[:room], payload[room:]
	}
	if err := sp.Update(addr.Slot, block(flags, storage.EmptyAddress, head)); err != nil {
		return storage.CorruptPage("update document", addr.Page, err)
	}
	if err := s.alloc.Update(p); err != nil {
		return err
	}
	if len(rest) == 0 {
		return nil
	}

	next, err := s.writeChain(rest, 0)
	if err != nil {
		return err
	}
	if p, err = s.pager.WritablePage(addr.Page); err != nil {
		return err
	}
	rec, err := storage.Slotted(p).Read(addr.Slot)
	if err != nil {
		return storage.CorruptPage("update document", addr.Page, err)
	}
	next.Put(rec[1:])
	return nil
}

// Delete frees every block of the document at addr.
func (s *Service) Delete(addr storage.Address) error {
	blocks, err := s.chain(addr)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		if err := s.deleteBlock(b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) deleteBlock(addr storage.Address) error {
	p, err := s.pager.WritablePage(addr.Page)
	if err != nil {
		return err
	}
	if err := storage.Slotted(p).Delete(addr.Slot); err != nil {
		return storage.CorruptPage("delete block", addr.Page, err)
	}
	return s.alloc.Update(p)
}

// Heads returns the head block addresses stored on a data page, in slot
// order. Salvage uses it to find documents without the indexes.
func Heads(p *storage.Page) []storage.Address {
	sp := storage.Slotted(p)
	var out []storage.Address
	for _, slot := range sp.Slots() {
		rec, err := sp.Read(slot)
		if err != nil || len(rec) < BlockHeaderSize || rec[0]&FlagHead == 0 {
			continue
		}
		out = append(out, storage.Address{Page: p.Header.PageID, Slot: slot})
	}
	return out
}
