// Package storage provides the core storage engine components for PageDB.
package storage

import (
	"errors"
	"sync"
)

// WAL errors.
var (
	ErrWALEmptyTransaction = errors.New("transaction has no pages to log")
	ErrWALNoHeader         = errors.New("transaction run must end with the header page")
)

// WAL is the write-ahead log. A committed transaction is a run of page images
// tagged with its TxID; the last image of the run is the header page and
// carries PageFlagConfirmed. A run without that flag is discarded by
// recovery.
type WAL struct {
	disk    *DiskService
	mu      sync.Mutex
	next    int64
	metrics *Metrics
}

// NewWAL opens the log on disk, appending after the frames already present.
func NewWAL(disk *DiskService, m *Metrics) (*WAL, error) {
	frames, err := disk.LogFrames()
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = NewMetrics()
	}
	return &WAL{disk: disk, next: frames, metrics: m}, nil
}

// AppendTransaction writes pages as one run with a single sync and returns the
// frame position of every page. pages must end with the header page, which
// becomes the commit marker.
func (w *WAL) AppendTransaction(txID uint32, pages []*Page) ([]int64, error) {
	if len(pages) == 0 {
		return nil, ErrWALEmptyTransaction
	}
	if pages[len(pages)-1].Header.PageType != PageTypeHeader {
		return nil, ErrWALNoHeader
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for i, p := range pages {
		p.Header.TxID = txID
		p.Header.Flags &^= PageFlagConfirmed
		if i == len(pages)-1 {
			p.Header.Flags |= PageFlagConfirmed
		}
	}

	start := w.next
	if err := w.disk.WriteLogPages(start, pages); err != nil {
		return nil, err
	}
	w.next += int64(len(pages))
	w.metrics.LogFrames.Add(len(pages))

	positions := make([]int64, len(pages))
	for i := range pages {
		positions[i] = start + int64(i)
	}
	return positions, nil
}

// Frames returns the number of frames in the log.
func (w *WAL) Frames() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next
}

// Truncate discards every frame at or after position.
func (w *WAL) Truncate(position int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.disk.TruncateLog(position); err != nil {
		return err
	}
	w.next = position
	return nil
}

// ReadFrame reads the page image at a log position.
func (w *WAL) ReadFrame(position int64) (*Page, error) {
	return w.disk.ReadPage(OriginLog, position)
}

// Scan calls fn for every frame in order. A frame that fails validation is
// passed with a nil page and the error. Scanning stops when fn returns false.
func (w *WAL) Scan(fn func(position int64, p *Page, err error) bool) {
	end := w.Frames()
	for pos := int64(0); pos < end; pos++ {
		p, err := w.disk.ReadPage(OriginLog, pos)
		if !fn(pos, p, err) {
			return
		}
	}
}
