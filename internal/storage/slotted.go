// Package storage provides the core storage engine components for PageDB.
package storage

import (
	"encoding/binary"
	"errors"
)

// Slotted pages divide the page payload into three regions:
//   - a 4-byte header: slotCount(2) + freeStart(2)
//   - records growing forward from the header
//   - a slot directory at the end growing backward, one (offset, length)
//     pair per slot
//
// A slot with offset 0 is free and is reused by the next insert. The page
// header tracks the live item count and the total free bytes, including
// holes left by deletes; holes are reclaimed by compacting in place.
const (
	slottedHeaderSize = 4
	slotEntrySize     = 4
)

// Slotted page errors.
var (
	ErrNoSpace     = errors.New("not enough free space on page")
	ErrSlotDeleted = errors.New("slot deleted")
	ErrBadSlotID   = errors.New("invalid slot id")
)

// SlottedPage is a view over a Data or Index page.
type SlottedPage struct{ p *Page }

// Slotted returns a slotted view of p.
func Slotted(p *Page) *SlottedPage {
	return &SlottedPage{p: p}
}

// MaxRecordSize returns the largest record an empty page of pageSize can hold.
func MaxRecordSize(pageSize int) int {
	return pageSize - PageHeaderSize - slottedHeaderSize - slotEntrySize
}

// Init resets the page to an empty slotted layout.
func (sp *SlottedPage) Init() {
	for i := range sp.p.Data {
		sp.p.Data[i] = 0
	}
	sp.setHeader(0, slottedHeaderSize)
	sp.p.Header.ItemCount = 0
	sp.p.Header.FreeBytes = uint16(len(sp.p.Data) - slottedHeaderSize)
}

func (sp *SlottedPage) header() (slotCount, freeStart uint16) {
	d := sp.p.Data
	slotCount = binary.LittleEndian.Uint16(d[0:2])
	freeStart = binary.LittleEndian.Uint16(d[2:4])
	if freeStart == 0 {
		freeStart = slottedHeaderSize
	}
	return
}

func (sp *SlottedPage) setHeader(slotCount, freeStart uint16) {
	binary.LittleEndian.PutUint16(sp.p.Data[0:2], slotCount)
	binary.LittleEndian.PutUint16(sp.p.Data[2:4], freeStart)
}

func (sp *SlottedPage) slotPos(i uint16) int {
	return len(sp.p.Data) - int(i+1)*slotEntrySize
}

func (sp *SlottedPage) getSlot(i uint16) (off, ln uint16, err error) {
	sc, _ := sp.header()
	if i >= sc {
		return 0, 0, ErrBadSlotID
	}
	pos := sp.slotPos(i)
	off = binary.LittleEndian.Uint16(sp.p.Data[pos : pos+2])
	ln = binary.LittleEndian.Uint16(sp.p.Data[pos+2 : pos+4])
	return off, ln, nil
}

func (sp *SlottedPage) setSlot(i, off, ln uint16) {
	pos := sp.slotPos(i)
	binary.LittleEndian.PutUint16(sp.p.Data[pos:pos+2], off)
	binary.LittleEndian.PutUint16(sp.p.Data[pos+2:pos+4], ln)
}

// FreeBytes returns the bytes available for a new record, counting the slot
// entry a new record may need.
func (sp *SlottedPage) FreeBytes() int {
	free := int(sp.p.Header.FreeBytes)
	if sp.freeSlot() < 0 {
		free -= slotEntrySize
	}
	if free < 0 {
		return 0
	}
	return free
}

func (sp *SlottedPage) freeSlot() int {
	sc, _ := sp.header()
	for i := uint16(0); i < sc; i++ {
		if off, _, _ := sp.getSlot(i); off == 0 {
			return int(i)
		}
	}
	return -1
}

func (sp *SlottedPage) contiguous() int {
	sc, fs := sp.header()
	return len(sp.p.Data) - int(sc)*slotEntrySize - int(fs)
}

// Insert stores rec in a free or new slot and returns the slot id.
func (sp *SlottedPage) Insert(rec []byte) (uint16, error) {
	if len(rec) == 0 || len(rec) > MaxRecordSize(sp.p.Size()) {
		return 0, ErrNoSpace
	}
	slot := sp.freeSlot()
	need := len(rec)
	if slot < 0 {
		need += slotEntrySize
	}
	if int(sp.p.Header.FreeBytes) < need {
		return 0, ErrNoSpace
	}
	if sp.contiguous() < need {
		sp.Compact()
	}

	sc, fs := sp.header()
	if slot < 0 {
		slot = int(sc)
		sc++
	}
	copy(sp.p.Data[fs:], rec)
	sp.setHeader(sc, fs+uint16(len(rec)))
	sp.setSlot(uint16(slot), fs, uint16(len(rec)))

	sp.p.Header.ItemCount++
	sp.p.Header.FreeBytes -= uint16(need)
	return uint16(slot), nil
}

// Read returns the bytes of slot i. The slice aliases the page.
func (sp *SlottedPage) Read(i uint16) ([]byte, error) {
	off, ln, err := sp.getSlot(i)
	if err != nil {
		return nil, err
	}
	if off == 0 {
		return nil, ErrSlotDeleted
	}
	return sp.p.Data[off : int(off)+int(ln)], nil
}

// Update replaces the record in slot i, moving it inside the page if it grew.
func (sp *SlottedPage) Update(i uint16, rec []byte) error {
	off, ln, err := sp.getSlot(i)
	if err != nil {
		return err
	}
	if off == 0 {
		return ErrSlotDeleted
	}
	if len(rec) <= int(ln) {
		copy(sp.p.Data[off:], rec)
		sp.setSlot(i, off, uint16(len(rec)))
		sp.p.Header.FreeBytes += ln - uint16(len(rec))
		return nil
	}
	if int(sp.p.Header.FreeBytes)+int(ln) < len(rec) {
		return ErrNoSpace
	}

	// Release the old bytes, then place the record at the end of the
	// record area.
	sp.setSlot(i, 0, 0)
	sp.p.Header.FreeBytes += ln
	if sp.contiguous() < len(rec) {
		sp.Compact()
	}
	sc, fs := sp.header()
	copy(sp.p.Data[fs:], rec)
	sp.setHeader(sc, fs+uint16(len(rec)))
	sp.setSlot(i, fs, uint16(len(rec)))
	sp.p.Header.FreeBytes -= uint16(len(rec))
	return nil
}

// Delete frees slot i. Trailing free slots are dropped from the directory.
func (sp *SlottedPage) Delete(i uint16) error {
	off, ln, err := sp.getSlot(i)
	if err != nil {
		return err
	}
	if off == 0 {
		return ErrSlotDeleted
	}
	sp.setSlot(i, 0, 0)
	sp.p.Header.ItemCount--
	sp.p.Header.FreeBytes += ln

	sc, fs := sp.header()
	for sc > 0 {
		if o, _, _ := sp.getSlot(sc - 1); o != 0 {
			break
		}
		sc--
		sp.p.Header.FreeBytes += slotEntrySize
	}
	if sp.p.Header.ItemCount == 0 {
		fs = slottedHeaderSize
	}
	sp.setHeader(sc, fs)
	return nil
}

// Slots returns the ids of all live slots in ascending order.
func (sp *SlottedPage) Slots() []uint16 {
	sc, _ := sp.header()
	out := make([]uint16, 0, sp.p.Header.ItemCount)
	for i := uint16(0); i < sc; i++ {
		if off, _, _ := sp.getSlot(i); off != 0 {
			out = append(out, i)
		}
	}
	return out
}

// Compact moves all live records to the front of the record area.
func (sp *SlottedPage) Compact() {
	sc, _ := sp.header()
	type rec struct {
		slot uint16
		data []byte
	}
	live := make([]rec, 0, sc)
	for i := uint16(0); i < sc; i++ {
		off, ln, _ := sp.getSlot(i)
		if off == 0 {
			continue
		}
		b := make([]byte, ln)
		copy(b, sp.p.Data[off:int(off)+int(ln)])
		live = append(live, rec{slot: i, data: b})
	}
	fs := uint16(slottedHeaderSize)
	for _, r := range live {
		copy(sp.p.Data[fs:], r.data)
		sp.setSlot(r.slot, fs, uint16(len(r.data)))
		fs += uint16(len(r.data))
	}
	end := sp.slotPos(sc - 1)
	if sc == 0 {
		end = len(sp.p.Data)
	}
	for j := int(fs); j < end; j++ {
		sp.p.Data[j] = 0
	}
	sp.setHeader(sc, fs)
}
