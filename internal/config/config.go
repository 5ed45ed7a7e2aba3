package config

import (
	"io"
	"time"

	"github.com/KilimcininKorOglu/pagedb/internal/logging"
	"github.com/KilimcininKorOglu/pagedb/internal/storage"
)

// Config holds everything needed to open a database from the command line.
type Config struct {
	Path           string
	Password       string
	ReadOnly       bool
	PageSize       int
	CacheSize      int
	CheckpointSize int
	Timeout        time.Duration
	InitialSize    int64
	LimitSize      int64
	Collation      string
	AutoRebuild    bool

	Logging LogConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// DefaultConfig returns a Config with the engine defaults and no path.
func DefaultConfig() *Config {
	s := storage.DefaultSettings("")
	return &Config{
		PageSize:       s.PageSize,
		CacheSize:      s.CacheSize,
		CheckpointSize: s.CheckpointSize,
		Timeout:        s.Timeout,
		Logging: LogConfig{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Logger builds the logger described by the logging variables. The closer
// releases its output file.
func (c *Config) Logger() (logging.Logger, io.Closer) {
	return logging.New(logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	})
}

// Settings converts c into validated engine settings. The closer releases
// the logger output and must be called after the engine is closed.
func (c *Config) Settings() (storage.Settings, io.Closer, error) {
	s := storage.DefaultSettings(c.Path)
	s.Password = c.Password
	s.ReadOnly = c.ReadOnly
	s.PageSize = c.PageSize
	s.CacheSize = c.CacheSize
	s.CheckpointSize = c.CheckpointSize
	s.Timeout = c.Timeout
	s.InitialSize = c.InitialSize
	s.LimitSize = c.LimitSize
	s.Collation = c.Collation
	s.AutoRebuild = c.AutoRebuild
	if err := s.Validate(); err != nil {
		return storage.Settings{}, nil, err
	}
	var closer io.Closer
	s.Logger, closer = c.Logger()
	return s, closer, nil
}
