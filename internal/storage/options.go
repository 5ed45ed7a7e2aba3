// Package storage provides the core storage engine components for PageDB.
package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/KilimcininKorOglu/pagedb/internal/logging"
)

// MinCacheSize is the smallest memory cache, in pages. Every open
// transaction and view may pin up to 64 pages.
const MinCacheSize = 256

// MemoryPath opens an in-memory database when used as Settings.Path.
const MemoryPath = ":memory:"

// Errors for settings validation.
var (
	ErrNoPath           = errors.New("settings: path is required")
	ErrInvalidCacheSize = errors.New("settings: cache size must be at least 256 pages")
	ErrInvalidLimitSize = errors.New("settings: limit size is smaller than the initial size")
	ErrInvalidTimeout   = errors.New("settings: timeout must be positive")
	ErrMemoryEncryption = errors.New("settings: in-memory databases cannot be encrypted")
	ErrReadOnlyInMemory = errors.New("settings: in-memory databases cannot be read-only")
)

// Settings configures Open.
type Settings struct {
	// Path is the data file path, or MemoryPath.
	Path string

	// PageSize is used when a file is created. Existing files keep theirs.
	// Default: 8192 bytes.
	PageSize int

	// Timeout bounds write-lock acquisition.
	// Default: 1 minute.
	Timeout time.Duration

	// ReadOnly opens the file without write access.
	ReadOnly bool

	// Password enables page encryption. Only page 0 stays readable.
	Password string

	// InitialSize preallocates the data file when it is created, in bytes.
	InitialSize int64

	// LimitSize caps the data file size in bytes. Zero means unlimited.
	LimitSize int64

	// AutoRebuild salvages a corrupt file at open instead of failing.
	AutoRebuild bool

	// Collation is used for string comparison when a file is created,
	// e.g. "en-US/IgnoreCase". Empty means binary ordering.
	Collation string

	// CacheSize is the memory cache capacity in pages.
	// Default: 1024 pages.
	CacheSize int

	// CheckpointSize triggers an automatic checkpoint once the log holds
	// this many pages. Zero disables automatic checkpoints.
	// Default: 1000 pages.
	CheckpointSize int

	// SortBufferSize is the number of documents sorted in memory before a
	// run is spilled to disk.
	// Default: 10000 documents.
	SortBufferSize int

	// Logger receives engine events. Default: a no-op logger.
	Logger logging.Logger
}

// DefaultSettings returns the default settings for path.
func DefaultSettings(path string) Settings {
	return Settings{
		Path:           path,
		PageSize:       DefaultPageSize,
		Timeout:        time.Minute,
		CacheSize:      1024,
		CheckpointSize: 1000,
		SortBufferSize: 10000,
		Logger:         logging.NewNop(),
	}
}

// Validate validates the settings, filling zero values with defaults.
func (s *Settings) Validate() error {
	if s.Path == "" {
		return ErrNoPath
	}
	if s.PageSize == 0 {
		s.PageSize = DefaultPageSize
	}
	if !ValidPageSize(s.PageSize) {
		return ErrInvalidPageSize
	}
	if s.Timeout == 0 {
		s.Timeout = time.Minute
	}
	if s.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if s.CacheSize == 0 {
		s.CacheSize = 1024
	}
	if s.CacheSize < MinCacheSize {
		return ErrInvalidCacheSize
	}
	if s.CheckpointSize < 0 {
		s.CheckpointSize = 0
	}
	if s.SortBufferSize <= 0 {
		s.SortBufferSize = 10000
	}
	if s.LimitSize > 0 && s.LimitSize < s.InitialSize {
		return ErrInvalidLimitSize
	}
	if len(s.Collation) > MaxCollationLength {
		return ErrCollationTooLong
	}
	if s.InMemory() {
		if s.Password != "" {
			return ErrMemoryEncryption
		}
		if s.ReadOnly {
			return ErrReadOnlyInMemory
		}
	}
	if s.Logger == nil {
		s.Logger = logging.NewNop()
	}
	return nil
}

// InMemory reports whether the settings select an in-memory database.
func (s Settings) InMemory() bool {
	return s.Path == MemoryPath
}

// LogPath returns the path of the log file that sits next to the data file:
// "data.db" logs to "data-log.db".
func (s Settings) LogPath() string {
	return siblingPath(s.Path, "-log")
}

// BackupPath returns the path rebuild keeps the previous file at.
func (s Settings) BackupPath() string {
	return siblingPath(s.Path, "-backup")
}

// TempPath returns the path rebuild writes the new file to.
func (s Settings) TempPath() string {
	return siblingPath(s.Path, "-rebuild")
}

func siblingPath(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}

// WithPageSize sets the page size.
func (s Settings) WithPageSize(size int) Settings {
	s.PageSize = size
	return s
}

// WithTimeout sets the lock timeout.
func (s Settings) WithTimeout(d time.Duration) Settings {
	s.Timeout = d
	return s
}

// WithReadOnly enables or disables read-only mode.
func (s Settings) WithReadOnly(readOnly bool) Settings {
	s.ReadOnly = readOnly
	return s
}

// WithPassword enables encryption with password.
func (s Settings) WithPassword(password string) Settings {
	s.Password = password
	return s
}

// WithLimitSize caps the data file size.
func (s Settings) WithLimitSize(size int64) Settings {
	s.LimitSize = size
	return s
}

// WithInitialSize preallocates the data file.
func (s Settings) WithInitialSize(size int64) Settings {
	s.InitialSize = size
	return s
}

// WithAutoRebuild enables or disables salvage at open.
func (s Settings) WithAutoRebuild(enabled bool) Settings {
	s.AutoRebuild = enabled
	return s
}

// WithCollation sets the collation for new files.
func (s Settings) WithCollation(collation string) Settings {
	s.Collation = collation
	return s
}

// WithCacheSize sets the cache capacity in pages.
func (s Settings) WithCacheSize(pages int) Settings {
	s.CacheSize = pages
	return s
}

// WithCheckpointSize sets the automatic checkpoint threshold in pages.
func (s Settings) WithCheckpointSize(pages int) Settings {
	s.CheckpointSize = pages
	return s
}

// WithLogger sets the logger.
func (s Settings) WithLogger(l logging.Logger) Settings {
	s.Logger = l
	return s
}
