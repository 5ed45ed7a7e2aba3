// Package storage provides the core storage engine components for PageDB.
package storage

import (
	"errors"
	"io"
	"os"
	"sync"
)

// ErrStreamClosed is returned by a stream after Close.
var ErrStreamClosed = errors.New("stream closed")

// Stream is the byte-addressable resource behind the data area and the log.
type Stream interface {
	io.ReaderAt
	io.WriterAt
	Size() (int64, error)
	Truncate(size int64) error
	Sync() error
	Close() error
}

// FileStream is a Stream over an operating system file.
type FileStream struct {
	f *os.File
}

// OpenFileStream opens or creates the file at path.
func OpenFileStream(path string, readOnly bool) (*FileStream, error) {
	flag := os.O_RDWR | os.O_CREATE
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, err
	}
	return &FileStream{f: f}, nil
}

// ReadAt implements io.ReaderAt.
func (s *FileStream) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// WriteAt implements io.WriterAt.
func (s *FileStream) WriteAt(p []byte, off int64) (int, error) {
	return s.f.WriteAt(p, off)
}

// Size returns the current file size.
func (s *FileStream) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Truncate changes the file size.
func (s *FileStream) Truncate(size int64) error {
	return s.f.Truncate(size)
}

// Sync flushes the file to stable storage.
func (s *FileStream) Sync() error {
	return s.f.Sync()
}

// Close closes the file.
func (s *FileStream) Close() error {
	return s.f.Close()
}

// Name returns the file path.
func (s *FileStream) Name() string {
	return s.f.Name()
}

// MemoryStream is a Stream over a growable byte slice.
type MemoryStream struct {
	mu     sync.RWMutex
	buf    []byte
	closed bool
}

// NewMemoryStream creates an empty in-memory stream.
func NewMemoryStream() *MemoryStream {
	return &MemoryStream{}
}

// NewMemoryStreamFrom creates an in-memory stream holding a copy of b.
func NewMemoryStreamFrom(b []byte) *MemoryStream {
	buf := make([]byte, len(b))
	copy(buf, b)
	return &MemoryStream{buf: buf}
}

// ReadAt implements io.ReaderAt.
func (m *MemoryStream) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStreamClosed
	}
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt, growing the buffer as needed.
func (m *MemoryStream) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStreamClosed
	}
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		if end > int64(cap(m.buf)) {
			grown := make([]byte, end, end*2)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	return copy(m.buf[off:], p), nil
}

// Size returns the buffer length.
func (m *MemoryStream) Size() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.buf)), nil
}

// Truncate changes the buffer length.
func (m *MemoryStream) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size <= int64(len(m.buf)) {
		m.buf = m.buf[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.buf)
	m.buf = grown
	return nil
}

// Sync is a no-op for memory streams.
func (m *MemoryStream) Sync() error {
	return nil
}

// Close marks the stream closed. The contents stay readable through Bytes.
func (m *MemoryStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Bytes returns a copy of the stream contents.
func (m *MemoryStream) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, len(m.buf))
	copy(out, m.buf)
	return out
}
