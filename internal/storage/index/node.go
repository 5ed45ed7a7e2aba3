package index

import (
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/document"
)

// MaxLevel is the maximum skip list height.
const MaxLevel = 32

// MaxKeyLength bounds the encoded size of an index key.
const MaxKeyLength = 1023

const (
	nodeHeaderSize = 1 + storage.AddressSize
	linkSize       = 2 * storage.AddressSize
)

// Node errors.
var (
	ErrBadNode     = errors.New("malformed index node")
	ErrKeyTooLarge = errors.New("index key too large")
)

// Node is a decoded skip list node.
type Node struct {
	// Address is where the node is stored.
	Address storage.Address
	// Level is the node height, 1..MaxLevel.
	Level int
	// Key is the indexed value.
	Key document.Value
	// Data is the head block address of the indexed document.
	Data storage.Address
	// Prev and Next hold one link per level.
	Prev []storage.Address
	Next []storage.Address
}

func nodeSize(level int, key []byte) int {
	return nodeHeaderSize + level*linkSize + len(key)
}

func encodeNode(level int, data storage.Address, prev, next []storage.Address, key []byte) []byte {
	b := make([]byte, 0, nodeSize(level, key))
	b = append(b, byte(level))
	b = data.Append(b)
	for l := 0; l < level; l++ {
		b = prev[l].Append(b)
		b = next[l].Append(b)
	}
	return append(b, key...)
}

func decodeNode(addr storage.Address, rec []byte) (*Node, error) {
	if len(rec) < nodeHeaderSize {
		return nil, ErrBadNode
	}
	level := int(rec[0])
	if level < 1 || level > MaxLevel || len(rec) < nodeSize(level, nil)+1 {
		return nil, fmt.Errorf("%w: level %d, %d bytes", ErrBadNode, level, len(rec))
	}
	n := &Node{
		Address: addr,
		Level:   level,
		Data:    storage.ReadAddress(rec[1:]),
		Prev:    make([]storage.Address, level),
		Next:    make([]storage.Address, level),
	}
	off := nodeHeaderSize
	for l := 0; l < level; l++ {
		n.Prev[l] = storage.ReadAddress(rec[off:])
		n.Next[l] = storage.ReadAddress(rec[off+storage.AddressSize:])
		off += linkSize
	}
	key, used, err := document.DecodeValue(rec[off:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadNode, err)
	}
	if off+used != len(rec) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadNode, len(rec)-off-used)
	}
	n.Key = key
	return n, nil
}

// linkOffset returns the offset of the prev (next=false) or next link of
// level l inside a node record.
func linkOffset(l int, next bool) int {
	off := nodeHeaderSize + l*linkSize
	if next {
		off += storage.AddressSize
	}
	return off
}

// compareAddress orders addresses by page, then slot.
func compareAddress(a, b storage.Address) int {
	switch {
	case a.Page < b.Page:
		return -1
	case a.Page > b.Page:
		return 1
	case a.Slot < b.Slot:
		return -1
	case a.Slot > b.Slot:
		return 1
	default:
		return 0
	}
}

// maxAddress sorts after every real address.
var maxAddress = storage.Address{Page: ^storage.PageID(0), Slot: ^uint16(0)}
