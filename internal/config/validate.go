package config

import (
	"fmt"

	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/document"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(c *Config) []error {
	var errs []error
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.PageSize != 0 && !storage.ValidPageSize(c.PageSize) {
		add("page_size", "%d is not a power of two between %d and %d", c.PageSize, storage.MinPageSize, storage.MaxPageSize)
	}
	if c.CacheSize != 0 && c.CacheSize < storage.MinCacheSize {
		add("cache_size", "must be at least %d pages", storage.MinCacheSize)
	}
	if c.CheckpointSize < 0 {
		add("checkpoint_size", "must not be negative")
	}
	if c.Timeout < 0 {
		add("timeout", "must not be negative")
	}
	if c.LimitSize > 0 && c.LimitSize < c.InitialSize {
		add("limit_size", "is smaller than initial_size")
	}
	if c.Path == storage.MemoryPath {
		if c.Password != "" {
			add("password", "in-memory databases cannot be encrypted")
		}
		if c.ReadOnly {
			add("read_only", "in-memory databases cannot be read-only")
		}
	}
	if len(c.Collation) > storage.MaxCollationLength {
		add("collation", "longer than %d bytes", storage.MaxCollationLength)
	} else if coll, err := document.ParseCollation(c.Collation); err != nil {
		add("collation", "%v", err)
	} else {
		coll.Close()
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log_level", "unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		add("log_format", "unknown format %q", c.Logging.Format)
	}
	return errs
}
