// Package alloc implements the per-collection allocation map: free-space
// buckets that let inserts find a page with room in constant time.
//
// Every Data and Index page of a collection sits in exactly one bucket
// list, chosen by its free space:
//
//	bucket 0: free >= 90% of the payload
//	bucket 1: free >= 60%
//	bucket 2: free >= 30%
//	bucket 3: some usable space
//	bucket 4: full
//
// Lists are doubly linked through the page header's PrevPageID and
// NextPageID; their heads live on the collection's AllocationMap page.
package alloc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/pagedb/internal/storage"
)

// Kind selects the data or the index lists.
type Kind int

const (
	// KindData lists Data pages.
	KindData Kind = iota
	// KindIndex lists Index pages.
	KindIndex
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	if k == KindIndex {
		return "index"
	}
	return "data"
}

// Buckets is the number of free-space buckets per kind.
const Buckets = 5

// FullBucket holds pages without usable space.
const FullBucket = Buckets - 1

// MinUsable is the free space below which a page counts as full.
const MinUsable = 64

// slotReserve covers the slot directory entry a new record may need.
const slotReserve = 4

// Allocation map errors.
var (
	ErrNotAllocationMap = errors.New("page is not an allocation map")
	ErrWrongKind        = errors.New("page kind has no allocation list")
	ErrListCycle        = errors.New("allocation list does not terminate")
)

// PageType returns the page type of a kind.
func (k Kind) PageType() storage.PageType {
	if k == KindIndex {
		return storage.PageTypeIndex
	}
	return storage.PageTypeData
}

func kindOf(pt storage.PageType) (Kind, error) {
	switch pt {
	case storage.PageTypeData:
		return KindData, nil
	case storage.PageTypeIndex:
		return KindIndex, nil
	default:
		return 0, ErrWrongKind
	}
}

// bound returns the free space every page of bucket b is guaranteed to have.
func bound(b int, usable int) int {
	switch b {
	case 0:
		return usable * 9 / 10
	case 1:
		return usable * 6 / 10
	case 2:
		return usable * 3 / 10
	case 3:
		return MinUsable
	default:
		return 0
	}
}

// BucketOf returns the bucket for a page with free bytes of usable.
func BucketOf(free, usable int) int {
	for b := 0; b < FullBucket; b++ {
		if free >= bound(b, usable) {
			return b
		}
	}
	return FullBucket
}

// Map is a view of one collection's AllocationMap page through a pager.
type Map struct {
	pager  storage.Pager
	pageID storage.PageID
}

// Create allocates a new, empty allocation map page.
func Create(pager storage.Pager) (*Map, error) {
	p, err := pager.NewPage(storage.PageTypeAllocationMap)
	if err != nil {
		return nil, err
	}
	p.Header.FreeBytes = 0
	return &Map{pager: pager, pageID: p.Header.PageID}, nil
}

// Open returns the map stored at pageID.
func Open(pager storage.Pager, pageID storage.PageID) *Map {
	return &Map{pager: pager, pageID: pageID}
}

// PageID returns the allocation map page id.
func (m *Map) PageID() storage.PageID {
	return m.pageID
}

func headOffset(k Kind, b int) int {
	return (int(k)*Buckets + b) * 4
}

func (m *Map) read() (*storage.Page, error) {
	p, err := m.pager.ReadPage(m.pageID)
	if err != nil {
		return nil, err
	}
	if p.Header.PageType != storage.PageTypeAllocationMap {
		return nil, storage.CorruptPage("allocation map", m.pageID, ErrNotAllocationMap)
	}
	return p, nil
}

// Head returns the first page of bucket b of kind k.
func (m *Map) Head(k Kind, b int) (storage.PageID, error) {
	p, err := m.read()
	if err != nil {
		return 0, err
	}
	return head(p, k, b), nil
}

func head(p *storage.Page, k Kind, b int) storage.PageID {
	off := headOffset(k, b)
	return storage.PageID(binary.LittleEndian.Uint32(p.Data[off : off+4]))
}

func (m *Map) setHead(k Kind, b int, id storage.PageID) error {
	p, err := m.pager.WritablePage(m.pageID)
	if err != nil {
		return err
	}
	off := headOffset(k, b)
	binary.LittleEndian.PutUint32(p.Data[off:off+4], uint32(id))
	return nil
}

// FindPage returns a writable page of kind k with at least need bytes free
// for a new record. It takes the head of the fullest bucket that
// guarantees the space, probing one head per bucket below that guarantee,
// and allocates a new page when no list has room.
func (m *Map) FindPage(k Kind, need int) (*storage.Page, error) {
	mp, err := m.read()
	if err != nil {
		return nil, err
	}
	usable := m.pager.PageSize() - storage.PageHeaderSize
	if need > storage.MaxRecordSize(m.pager.PageSize()) {
		return nil, storage.Errorf(storage.CodeInvalidArgument, "find page",
			"record of %d bytes does not fit a page", need)
	}

	for b := FullBucket - 1; b >= 0; b-- {
		id := head(mp, k, b)
		if id == 0 {
			continue
		}
		if bound(b, usable) < need+slotReserve {
			p, err := m.pager.ReadPage(id)
			if err != nil {
				return nil, err
			}
			if storage.Slotted(p).FreeBytes() < need {
				continue
			}
		}
		return m.pager.WritablePage(id)
	}

	p, err := m.pager.NewPage(k.PageType())
	if err != nil {
		return nil, err
	}
	storage.Slotted(p).Init()
	if err := m.link(p, k, BucketOf(int(p.Header.FreeBytes), usable)); err != nil {
		return nil, err
	}
	return p, nil
}

// Update moves a writable page to the bucket matching its free space. A
// page left without items is unlinked and freed.
func (m *Map) Update(p *storage.Page) error {
	k, err := kindOf(p.Header.PageType)
	if err != nil {
		return storage.CorruptPage("allocation update", p.Header.PageID, err)
	}
	if p.Header.ItemCount == 0 {
		if err := m.unlink(p, k); err != nil {
			return err
		}
		return m.pager.FreePage(p.Header.PageID)
	}
	usable := m.pager.PageSize() - storage.PageHeaderSize
	b := BucketOf(int(p.Header.FreeBytes), usable)
	if int(p.Header.Bucket) == b {
		return nil
	}
	if err := m.unlink(p, k); err != nil {
		return err
	}
	return m.link(p, k, b)
}

func (m *Map) link(p *storage.Page, k Kind, b int) error {
	mp, err := m.read()
	if err != nil {
		return err
	}
	first := head(mp, k, b)
	if first != 0 {
		n, err := m.pager.WritablePage(first)
		if err != nil {
			return err
		}
		n.Header.PrevPageID = p.Header.PageID
	}
	p.Header.PrevPageID = 0
	p.Header.NextPageID = first
	p.Header.Bucket = uint8(b)
	return m.setHead(k, b, p.Header.PageID)
}

func (m *Map) unlink(p *storage.Page, k Kind) error {
	b := int(p.Header.Bucket)
	if b >= Buckets {
		return nil
	}
	prev, next := p.Header.PrevPageID, p.Header.NextPageID
	if prev != 0 {
		pp, err := m.pager.WritablePage(prev)
		if err != nil {
			return err
		}
		pp.Header.NextPageID = next
	} else if err := m.setHead(k, b, next); err != nil {
		return err
	}
	if next != 0 {
		np, err := m.pager.WritablePage(next)
		if err != nil {
			return err
		}
		np.Header.PrevPageID = prev
	}
	p.Header.PrevPageID = 0
	p.Header.NextPageID = 0
	p.Header.Bucket = storage.NoBucket
	return nil
}

// Pages returns every page of kind k, bucket by bucket.
func (m *Map) Pages(k Kind) ([]storage.PageID, error) {
	mp, err := m.read()
	if err != nil {
		return nil, err
	}
	heads := make([]storage.PageID, Buckets)
	for b := range heads {
		heads[b] = head(mp, k, b)
	}

	var out []storage.PageID
	seen := make(map[storage.PageID]struct{})
	for b, id := range heads {
		for id != 0 {
			if _, dup := seen[id]; dup {
				return nil, storage.CorruptPage("allocation walk", id, fmt.Errorf("%w: %s bucket %d", ErrListCycle, k, b))
			}
			seen[id] = struct{}{}
			p, err := m.pager.ReadPage(id)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
			id = p.Header.NextPageID
		}
	}
	return out, nil
}

// AllPages returns the data pages, the index pages and the map page itself.
func (m *Map) AllPages() ([]storage.PageID, error) {
	data, err := m.Pages(KindData)
	if err != nil {
		return nil, err
	}
	index, err := m.Pages(KindIndex)
	if err != nil {
		return nil, err
	}
	out := append(data, index...)
	return append(out, m.pageID), nil
}

// FreeAll frees every page listed by AllPages.
func (m *Map) FreeAll() (int, error) {
	ids, err := m.AllPages()
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := m.pager.FreePage(id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// Stats summarizes a collection's pages.
type Stats struct {
	DataPages  int
	IndexPages int
	FreeBytes  int64
	Buckets    [2][Buckets]int
}

// Stats walks the lists and counts pages per bucket.
func (m *Map) Stats() (Stats, error) {
	var st Stats
	for _, k := range []Kind{KindData, KindIndex} {
		ids, err := m.Pages(k)
		if err != nil {
			return st, err
		}
		for _, id := range ids {
			p, err := m.pager.ReadPage(id)
			if err != nil {
				return st, err
			}
			st.FreeBytes += int64(p.Header.FreeBytes)
			if int(p.Header.Bucket) < Buckets {
				st.Buckets[k][p.Header.Bucket]++
			}
		}
		if k == KindData {
			st.DataPages = len(ids)
		} else {
			st.IndexPages = len(ids)
		}
	}
	return st, nil
}
