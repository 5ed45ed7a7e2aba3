package query

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/document"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/index"
)

// DefaultSortBufferSize is the number of documents sorted in memory before
// a run is spilled.
const DefaultSortBufferSize = 10000

const (
	spillChunk = 1 << 20
	readBuffer = 64 << 10
)

type sortItem struct {
	key document.Value
	seq uint64
	doc *document.Document
}

type run struct {
	off, size int64
}

// Sorter orders documents by the value at a path. Documents are buffered
// until the buffer is full, then sorted and written to a temporary stream
// as a run. Iterate merges the runs. Equal keys keep insertion order.
type Sorter struct {
	path      document.Path
	desc      bool
	collation *document.Collation
	buffer    int
	temp      func() (storage.Stream, error)

	items  []sortItem
	seq    uint64
	stream storage.Stream
	end    int64
	runs   []run
}

// NewSorter returns a sorter. temp creates the spill stream on first use;
// nil spills to memory.
func NewSorter(path document.Path, order index.Order, c *document.Collation, buffer int, temp func() (storage.Stream, error)) *Sorter {
	if buffer <= 0 {
		buffer = DefaultSortBufferSize
	}
	if temp == nil {
		temp = func() (storage.Stream, error) { return storage.NewMemoryStream(), nil }
	}
	return &Sorter{
		path:      path,
		desc:      order == index.Descending,
		collation: c,
		buffer:    buffer,
		temp:      temp,
	}
}

func (s *Sorter) less(a, b *sortItem) bool {
	c := document.Compare(a.key, b.key, s.collation)
	if s.desc {
		c = -c
	}
	if c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

// Add buffers doc, spilling a run when the buffer is full.
func (s *Sorter) Add(doc *document.Document) error {
	s.items = append(s.items, sortItem{key: s.path.Value(doc), seq: s.seq, doc: doc})
	s.seq++
	if len(s.items) >= s.buffer {
		return s.spill()
	}
	return nil
}

// Runs returns the number of runs spilled so far.
func (s *Sorter) Runs() int {
	return len(s.runs)
}

func (s *Sorter) sortItems() {
	sort.Slice(s.items, func(i, j int) bool { return s.less(&s.items[i], &s.items[j]) })
}

func (s *Sorter) spill() error {
	if len(s.items) == 0 {
		return nil
	}
	s.sortItems()
	if s.stream == nil {
		st, err := s.temp()
		if err != nil {
			return fmt.Errorf("sort: create spill stream: %w", err)
		}
		s.stream = st
	}

	start := s.end
	var buf []byte
	flush := func() error {
		if _, err := s.stream.WriteAt(buf, s.end); err != nil {
			return fmt.Errorf("sort: spill: %w", err)
		}
		s.end += int64(len(buf))
		buf = buf[:0]
		return nil
	}
	for i := range s.items {
		enc := document.Encode(s.items[i].doc)
		buf = binary.AppendUvarint(buf, s.items[i].seq)
		buf = binary.AppendUvarint(buf, uint64(len(enc)))
		buf = append(buf, enc...)
		if len(buf) >= spillChunk {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	s.runs = append(s.runs, run{off: start, size: s.end - start})
	clear(s.items)
	s.items = s.items[:0]
	return nil
}

// Iterate returns the documents in order. The sorter must not be used for
// Add afterwards.
func (s *Sorter) Iterate() (func() (*document.Document, error), error) {
	if len(s.runs) == 0 {
		s.sortItems()
		items := s.items
		return func() (*document.Document, error) {
			if len(items) == 0 {
				return nil, nil
			}
			doc := items[0].doc
			items = items[1:]
			return doc, nil
		}, nil
	}

	if err := s.spill(); err != nil {
		return nil, err
	}
	h := &mergeHeap{s: s}
	for _, r := range s.runs {
		rr := &runReader{
			r:    bufio.NewReaderSize(io.NewSectionReader(s.stream, r.off, r.size), readBuffer),
			path: s.path,
		}
		ok, err := rr.advance()
		if err != nil {
			return nil, err
		}
		if ok {
			h.readers = append(h.readers, rr)
		}
	}
	heap.Init(h)
	return func() (*document.Document, error) {
		if h.Len() == 0 {
			return nil, nil
		}
		top := h.readers[0]
		doc := top.head.doc
		ok, err := top.advance()
		if err != nil {
			return nil, err
		}
		if ok {
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
		return doc, nil
	}, nil
}

// Close releases the spill stream.
func (s *Sorter) Close() error {
	s.items = nil
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	if named, ok := s.stream.(interface{ Name() string }); ok {
		if rerr := os.Remove(named.Name()); rerr != nil && !os.IsNotExist(rerr) && err == nil {
			err = rerr
		}
	}
	s.stream = nil
	return err
}

type runReader struct {
	r    *bufio.Reader
	path document.Path
	head sortItem
}

// advance reads the next entry of the run into head.
func (rr *runReader) advance() (bool, error) {
	seq, err := binary.ReadUvarint(rr.r)
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sort: read run: %w", err)
	}
	n, err := binary.ReadUvarint(rr.r)
	if err != nil {
		return false, fmt.Errorf("sort: read run: %w", err)
	}
	enc := make([]byte, n)
	if _, err := io.ReadFull(rr.r, enc); err != nil {
		return false, fmt.Errorf("sort: read run: %w", err)
	}
	doc, err := document.Decode(enc)
	if err != nil {
		return false, fmt.Errorf("sort: decode run entry: %w", err)
	}
	rr.head = sortItem{key: rr.path.Value(doc), seq: seq, doc: doc}
	return true, nil
}

// mergeHeap orders run readers by their head entry.
type mergeHeap struct {
	s       *Sorter
	readers []*runReader
}

func (h *mergeHeap) Len() int { return len(h.readers) }
func (h *mergeHeap) Less(i, j int) bool {
	return h.s.less(&h.readers[i].head, &h.readers[j].head)
}
func (h *mergeHeap) Swap(i, j int) { h.readers[i], h.readers[j] = h.readers[j], h.readers[i] }
func (h *mergeHeap) Push(x any)    { h.readers = append(h.readers, x.(*runReader)) }
func (h *mergeHeap) Pop() any {
	old := h.readers
	n := len(old)
	x := old[n-1]
	h.readers = old[:n-1]
	return x
}
