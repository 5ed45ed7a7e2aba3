// Package storage provides the core storage engine components for PageDB.
package storage

import (
	"errors"
	"testing"
	"time"
)

// TestFileHeaderRoundTrip tests encoding a header into page 0 and back.
func TestFileHeaderRoundTrip(t *testing.T) {
	h := NewFileHeader(DefaultPageSize)
	h.FreeEmptyPageList = 17
	h.LastPageID = 120
	h.CatalogPageID = 1
	h.NextCollectionID = 9
	h.Encrypted = true
	copy(h.Salt[:], "0123456789abcdef")
	copy(h.KeyCheck[:], "fedcba9876543210")
	h.Pragmas = Pragmas{
		UserVersion:    4,
		Collation:      "en-US/IgnoreCase",
		Timeout:        30 * time.Second,
		LimitSize:      1 << 30,
		CheckpointSize: 500,
		AutoRebuild:    true,
	}

	p, err := h.ToPage()
	if err != nil {
		t.Fatalf("ToPage() error = %v", err)
	}
	decoded, err := DeserializePage(p.Bytes())
	if err != nil {
		t.Fatalf("DeserializePage() error = %v", err)
	}
	got, err := HeaderFromPage(decoded)
	if err != nil {
		t.Fatalf("HeaderFromPage() error = %v", err)
	}

	if !got.CreationTime.Equal(h.CreationTime) {
		t.Errorf("CreationTime = %v, want %v", got.CreationTime, h.CreationTime)
	}
	got.CreationTime = h.CreationTime
	if *got != *h {
		t.Errorf("HeaderFromPage() = %+v, want %+v", got, h)
	}
}

// TestHeaderFromPageInvalid tests rejection of foreign or damaged headers.
func TestHeaderFromPageInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Page)
		want   error
	}{
		{"wrong type", func(p *Page) { p.Header.PageType = PageTypeData }, ErrInvalidMagic},
		{"wrong magic", func(p *Page) { p.Data[0] = 'X' }, ErrInvalidMagic},
		{"future version", func(p *Page) { p.Data[4] = 9 }, ErrUnsupportedVersion},
		{"zero version", func(p *Page) { p.Data[4] = 0 }, ErrUnsupportedVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := NewFileHeader(DefaultPageSize).ToPage()
			tt.mutate(p)
			if _, err := HeaderFromPage(p); !errors.Is(err, tt.want) {
				t.Errorf("HeaderFromPage() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// TestProbePageSize tests reading the page size before the page is decoded.
func TestProbePageSize(t *testing.T) {
	p, _ := NewFileHeader(16384).ToPage()
	buf := p.Bytes()

	size, err := ProbePageSize(buf[:headerProbeSize])
	if err != nil {
		t.Fatalf("ProbePageSize() error = %v", err)
	}
	if size != 16384 {
		t.Errorf("ProbePageSize() = %d, want 16384", size)
	}

	if _, err := ProbePageSize(make([]byte, headerProbeSize)); err != ErrInvalidMagic {
		t.Errorf("ProbePageSize(zero) error = %v, want %v", err, ErrInvalidMagic)
	}
}

// TestHeaderCollationTooLong tests the collation length bound.
func TestHeaderCollationTooLong(t *testing.T) {
	h := NewFileHeader(DefaultPageSize)
	h.Pragmas.Collation = string(make([]byte, MaxCollationLength+1))
	if _, err := h.ToPage(); err != ErrCollationTooLong {
		t.Errorf("ToPage() error = %v, want %v", err, ErrCollationTooLong)
	}
}
