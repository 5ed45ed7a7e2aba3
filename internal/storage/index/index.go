package index

import (
	"fmt"
	"math/rand/v2"

	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/alloc"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/document"
)

// Service maintains the indexes of one collection.
type Service struct {
	pager     storage.Pager
	alloc     *alloc.Map
	collation *document.Collation
}

// New returns an index service writing through pager. Keys compare under
// collation; nil compares strings ordinally.
func New(pager storage.Pager, m *alloc.Map, collation *document.Collation) *Service {
	return &Service{pager: pager, alloc: m, collation: collation}
}

// Collation returns the key collation.
func (s *Service) Collation() *document.Collation {
	return s.collation
}

func randomLevel() int {
	level := 1
	for level < MaxLevel && rand.IntN(2) == 0 {
		level++
	}
	return level
}

// Create writes the sentinels of a new index and fills in def.Head and
// def.Tail.
func (s *Service) Create(def *Definition) error {
	minKey := document.EncodeValue(document.MinValue())
	maxKey := document.EncodeValue(document.MaxValue())
	empty := make([]storage.Address, MaxLevel)

	head, err := s.writeNode(encodeNode(MaxLevel, storage.EmptyAddress, empty, empty, minKey))
	if err != nil {
		return err
	}
	tail, err := s.writeNode(encodeNode(MaxLevel, storage.EmptyAddress, empty, empty, maxKey))
	if err != nil {
		return err
	}
	for l := 0; l < MaxLevel; l++ {
		if err := s.setLink(head, l, true, tail); err != nil {
			return err
		}
		if err := s.setLink(tail, l, false, head); err != nil {
			return err
		}
	}
	def.Head, def.Tail = head, tail
	return nil
}

func (s *Service) writeNode(rec []byte) (storage.Address, error) {
	p, err := s.alloc.FindPage(alloc.KindIndex, len(rec))
	if err != nil {
		return storage.EmptyAddress, err
	}
	slot, err := storage.Slotted(p).Insert(rec)
	if err != nil {
		return storage.EmptyAddress, storage.CorruptPage("write node", p.Header.PageID, err)
	}
	if err := s.alloc.Update(p); err != nil {
		return storage.EmptyAddress, err
	}
	return storage.Address{Page: p.Header.PageID, Slot: slot}, nil
}

// Node reads the node at addr.
func (s *Service) Node(addr storage.Address) (*Node, error) {
	p, err := s.pager.ReadPage(addr.Page)
	if err != nil {
		return nil, err
	}
	if p.Header.PageType != storage.PageTypeIndex || p.Header.CollectionID != s.pager.CollectionID() {
		return nil, storage.CorruptPage("read node", addr.Page,
			fmt.Errorf("%w: %s page of collection %d", ErrBadNode, p.Header.PageType, p.Header.CollectionID))
	}
	rec, err := storage.Slotted(p).Read(addr.Slot)
	if err != nil {
		return nil, storage.CorruptPage("read node", addr.Page, err)
	}
	n, err := decodeNode(addr, rec)
	if err != nil {
		return nil, storage.CorruptPage("read node", addr.Page, err)
	}
	return n, nil
}

func (s *Service) setLink(addr storage.Address, level int, next bool, target storage.Address) error {
	p, err := s.pager.WritablePage(addr.Page)
	if err != nil {
		return err
	}
	rec, err := storage.Slotted(p).Read(addr.Slot)
	if err != nil {
		return storage.CorruptPage("link node", addr.Page, err)
	}
	off := linkOffset(level, next)
	if off+storage.AddressSize > len(rec) || int(rec[0]) <= level {
		return storage.CorruptPage("link node", addr.Page, ErrBadNode)
	}
	target.Put(rec[off:])
	return nil
}

// compare orders node n against (key, data). The sentinels compare below and
// above everything.
func (s *Service) compare(def *Definition, n *Node, key document.Value, data storage.Address) int {
	switch n.Address {
	case def.Head:
		return -1
	case def.Tail:
		return 1
	}
	if c := document.Compare(n.Key, key, s.collation); c != 0 {
		return c
	}
	return compareAddress(n.Data, data)
}

// search returns, per level, the last node ordered before (key, data).
func (s *Service) search(def *Definition, key document.Value, data storage.Address) ([MaxLevel]*Node, error) {
	var preds [MaxLevel]*Node
	cur, err := s.Node(def.Head)
	if err != nil {
		return preds, err
	}
	for l := MaxLevel - 1; l >= 0; l-- {
		for {
			nextAddr := cur.Next[l]
			if nextAddr == def.Tail || nextAddr.IsEmpty() {
				break
			}
			next, err := s.Node(nextAddr)
			if err != nil {
				return preds, err
			}
			if s.compare(def, next, key, data) >= 0 {
				break
			}
			cur = next
		}
		preds[l] = cur
	}
	return preds, nil
}

// CheckKey validates a key before insertion.
func CheckKey(key document.Value) ([]byte, error) {
	switch key.Type() {
	case document.TypeMinValue, document.TypeMaxValue:
		return nil, storage.Errorf(storage.CodeInvalidArgument, "index key", "%s cannot be indexed", key.Type())
	}
	enc := document.EncodeValue(key)
	if len(enc) > MaxKeyLength {
		return nil, storage.Errorf(storage.CodeInvalidArgument, "index key",
			"%w: %d bytes, limit %d", ErrKeyTooLarge, len(enc), MaxKeyLength)
	}
	return enc, nil
}

// Insert adds a node for (key, data). A unique index that already holds
// key fails with DuplicateKey and is left unchanged.
func (s *Service) Insert(def *Definition, key document.Value, data storage.Address) error {
	enc, err := CheckKey(key)
	if err != nil {
		return err
	}
	if def.Unique {
		found, err := s.Find(def, key)
		if err != nil {
			return err
		}
		if found != nil {
			return &storage.Error{Code: storage.CodeDuplicateKey, Op: "index insert",
				Err: fmt.Errorf("index %q already holds key %s", def.Name, key)}
		}
	}

	preds, err := s.search(def, key, data)
	if err != nil {
		return err
	}
	level := randomLevel()
	prev := make([]storage.Address, level)
	next := make([]storage.Address, level)
	for l := 0; l < level; l++ {
		prev[l] = preds[l].Address
		next[l] = preds[l].Next[l]
	}
	addr, err := s.writeNode(encodeNode(level, data, prev, next, enc))
	if err != nil {
		return err
	}
	for l := 0; l < level; l++ {
		if err := s.setLink(prev[l], l, true, addr); err != nil {
			return err
		}
		if err := s.setLink(next[l], l, false, addr); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the node for (key, data) and reports whether it existed.
func (s *Service) Delete(def *Definition, key document.Value, data storage.Address) (bool, error) {
	preds, err := s.search(def, key, data)
	if err != nil {
		return false, err
	}
	addr := preds[0].Next[0]
	if addr == def.Tail {
		return false, nil
	}
	n, err := s.Node(addr)
	if err != nil {
		return false, err
	}
	if s.compare(def, n, key, data) != 0 {
		return false, nil
	}
	return true, s.unlink(n)
}

func (s *Service) unlink(n *Node) error {
	for l := 0; l < n.Level; l++ {
		if err := s.setLink(n.Prev[l], l, true, n.Next[l]); err != nil {
			return err
		}
		if err := s.setLink(n.Next[l], l, false, n.Prev[l]); err != nil {
			return err
		}
	}
	return s.freeNode(n.Address)
}

func (s *Service) freeNode(addr storage.Address) error {
	p, err := s.pager.WritablePage(addr.Page)
	if err != nil {
		return err
	}
	if err := storage.Slotted(p).Delete(addr.Slot); err != nil {
		return storage.CorruptPage("free node", addr.Page, err)
	}
	return s.alloc.Update(p)
}

// Find returns the first node holding key, or nil.
func (s *Service) Find(def *Definition, key document.Value) (*Node, error) {
	preds, err := s.search(def, key, storage.EmptyAddress)
	if err != nil {
		return nil, err
	}
	addr := preds[0].Next[0]
	if addr == def.Tail {
		return nil, nil
	}
	n, err := s.Node(addr)
	if err != nil {
		return nil, err
	}
	if document.Compare(n.Key, key, s.collation) != 0 {
		return nil, nil
	}
	return n, nil
}

// Count walks the index and returns the number of keys and of distinct keys.
func (s *Service) Count(def *Definition) (keys, unique int, err error) {
	it := s.Scan(def, Ascending)
	var last *Node
	for {
		n, err := it.Next()
		if err != nil {
			return 0, 0, err
		}
		if n == nil {
			return keys, unique, nil
		}
		keys++
		if last == nil || document.Compare(last.Key, n.Key, s.collation) != 0 {
			unique++
		}
		last = n
	}
}

// Drop frees every node of the index, sentinels included.
func (s *Service) Drop(def *Definition) error {
	var addrs []storage.Address
	for addr := def.Head; ; {
		addrs = append(addrs, addr)
		if addr == def.Tail {
			break
		}
		n, err := s.Node(addr)
		if err != nil {
			return err
		}
		addr = n.Next[0]
		if addr.IsEmpty() {
			return storage.CorruptPage("drop index", n.Address.Page, ErrBadNode)
		}
	}
	for _, addr := range addrs {
		if err := s.freeNode(addr); err != nil {
			return err
		}
	}
	return nil
}
