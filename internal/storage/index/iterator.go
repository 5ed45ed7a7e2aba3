package index

import (
	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/document"
)

// Order is a scan direction.
type Order int

const (
	// Ascending scans from the smallest key.
	Ascending Order = 1
	// Descending scans from the largest key.
	Descending Order = -1
)

// String returns the string representation of an Order.
func (o Order) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

// Iterator walks level 0 of an index in one direction. It remembers the
// last node returned, so a caller that changed the index in between can
// Restart from there.
type Iterator struct {
	s     *Service
	def   *Definition
	order Order

	next storage.Address
	last *Node
	done bool
}

// Scan returns an iterator over the whole index.
func (s *Service) Scan(def *Definition, order Order) *Iterator {
	return &Iterator{s: s, def: def, order: order}
}

// Seek returns an iterator positioned at key: on the first node >= key
// when ascending, on the last node <= key when descending.
func (s *Service) Seek(def *Definition, key document.Value, order Order) (*Iterator, error) {
	it := &Iterator{s: s, def: def, order: order}
	data := storage.EmptyAddress
	if order == Descending {
		data = maxAddress
	}
	preds, err := s.search(def, key, data)
	if err != nil {
		return nil, err
	}
	if order == Descending {
		it.next = preds[0].Address
		if it.next == def.Head {
			it.done = true
		}
	} else {
		it.next = preds[0].Next[0]
		if it.next == def.Tail {
			it.done = true
		}
	}
	return it, nil
}

// Next returns the next node, or nil at the end of the index.
func (it *Iterator) Next() (*Node, error) {
	if it.done {
		return nil, nil
	}
	if it.next.IsEmpty() {
		// Fresh full scan: step off the sentinel.
		start := it.def.Head
		if it.order == Descending {
			start = it.def.Tail
		}
		n, err := it.s.Node(start)
		if err != nil {
			return nil, err
		}
		it.next = it.step(n)
	}
	if it.next == it.def.Head || it.next == it.def.Tail {
		it.done = true
		return nil, nil
	}
	n, err := it.s.Node(it.next)
	if err != nil {
		return nil, err
	}
	it.last = n
	it.next = it.step(n)
	return n, nil
}

func (it *Iterator) step(n *Node) storage.Address {
	if it.order == Descending {
		return n.Prev[0]
	}
	return n.Next[0]
}

// Restart repositions the iterator just past the last node returned,
// searching by key and location. Use it after changing the index while
// iterating.
func (it *Iterator) Restart() error {
	if it.done || it.last == nil {
		return nil
	}
	preds, err := it.s.search(it.def, it.last.Key, it.last.Data)
	if err != nil {
		return err
	}
	if it.order == Descending {
		it.next = preds[0].Address
		if it.next == it.def.Head {
			it.done = true
		}
		return nil
	}
	// preds[0] precedes the last node; skip the node itself if it survived.
	addr := preds[0].Next[0]
	if addr != it.def.Tail {
		n, err := it.s.Node(addr)
		if err != nil {
			return err
		}
		if it.s.compare(it.def, n, it.last.Key, it.last.Data) == 0 {
			addr = n.Next[0]
		}
	}
	it.next = addr
	if it.next == it.def.Tail {
		it.done = true
	}
	return nil
}
