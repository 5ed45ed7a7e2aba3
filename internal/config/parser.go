package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/hcl"
)

// Parser errors.
var (
	ErrFileNotFound    = errors.New("configuration file not found")
	ErrUnknownVariable = errors.New("not a config variable")
	ErrInvalidValue    = errors.New("invalid value")
)

// variable is one settable name shared by the file, the environment and
// the flags.
type variable struct {
	name  string
	usage string
	set   func(c *Config, v interface{}) error
}

var variables = []variable{
	{"path", "database file, or :memory:", func(c *Config, v interface{}) (err error) {
		c.Path, err = toString(v)
		return
	}},
	{"password", "encryption password", func(c *Config, v interface{}) (err error) {
		c.Password, err = toString(v)
		return
	}},
	{"read_only", "open without write access", func(c *Config, v interface{}) (err error) {
		c.ReadOnly, err = toBool(v)
		return
	}},
	{"page_size", "page size in bytes for new files", func(c *Config, v interface{}) (err error) {
		c.PageSize, err = toInt(v)
		return
	}},
	{"cache_size", "memory cache capacity in pages", func(c *Config, v interface{}) (err error) {
		c.CacheSize, err = toInt(v)
		return
	}},
	{"checkpoint_size", "log pages that trigger a checkpoint, 0 to disable", func(c *Config, v interface{}) (err error) {
		c.CheckpointSize, err = toInt(v)
		return
	}},
	{"timeout", "lock timeout", func(c *Config, v interface{}) (err error) {
		c.Timeout, err = toDuration(v)
		return
	}},
	{"initial_size", "preallocated size of new files", func(c *Config, v interface{}) (err error) {
		c.InitialSize, err = toSize(v)
		return
	}},
	{"limit_size", "maximum data file size, 0 for unlimited", func(c *Config, v interface{}) (err error) {
		c.LimitSize, err = toSize(v)
		return
	}},
	{"collation", "string collation for new files", func(c *Config, v interface{}) (err error) {
		c.Collation, err = toString(v)
		return
	}},
	{"auto_rebuild", "salvage a corrupt file at open", func(c *Config, v interface{}) (err error) {
		c.AutoRebuild, err = toBool(v)
		return
	}},
	{"log_level", "debug, info, warn or error", func(c *Config, v interface{}) (err error) {
		c.Logging.Level, err = toString(v)
		return
	}},
	{"log_format", "text or json", func(c *Config, v interface{}) (err error) {
		c.Logging.Format, err = toString(v)
		return
	}},
	{"log_output", "stderr, stdout or a file path", func(c *Config, v interface{}) (err error) {
		c.Logging.Output, err = toString(v)
		return
	}},
}

func lookup(name string) (variable, bool) {
	for _, v := range variables {
		if v.name == name {
			return v, true
		}
	}
	return variable{}, false
}

// LoadConfig reads an HCL file over the defaults.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	if err := c.loadFile(path); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseConfig parses HCL data over the defaults.
func ParseConfig(data []byte) (*Config, error) {
	c := DefaultConfig()
	if err := c.load(data); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return err
	}
	if err := c.load(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (c *Config) load(data []byte) error {
	var vals map[string]interface{}
	if err := hcl.Decode(&vals, string(substituteEnvVars(data))); err != nil {
		return err
	}
	for name, val := range vals {
		v, ok := lookup(name)
		if !ok {
			return fmt.Errorf("%s: %w", name, ErrUnknownVariable)
		}
		if err := v.set(c, val); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR} and ${VAR:-default} with environment
// values.
func substituteEnvVars(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		content := string(match[2 : len(match)-1])
		if name, def, ok := strings.Cut(content, ":-"); ok {
			if val := os.Getenv(name); val != "" {
				return []byte(val)
			}
			return []byte(def)
		}
		return []byte(os.Getenv(content))
	})
}

func invalid(v interface{}, want string) error {
	return fmt.Errorf("%w: %v is not %s", ErrInvalidValue, v, want)
}

func toString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	case int, int64, float64, bool:
		return fmt.Sprint(t), nil
	}
	return "", invalid(v, "a string")
}

func toBool(v interface{}) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, invalid(v, "a boolean")
		}
		return b, nil
	}
	return false, invalid(v, "a boolean")
}

func toInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		if t != math.Trunc(t) {
			return 0, invalid(v, "an integer")
		}
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, invalid(v, "an integer")
		}
		return n, nil
	}
	return 0, invalid(v, "an integer")
}

func toInt(v interface{}) (int, error) {
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, invalid(v, "in range")
	}
	return int(n), nil
}

// toDuration accepts Go duration strings; bare numbers are seconds.
func toDuration(v interface{}) (time.Duration, error) {
	if d, ok := v.(time.Duration); ok {
		return d, nil
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
		v = s
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, invalid(v, "a duration")
	}
	return time.Duration(n) * time.Second, nil
}

// toSize accepts byte counts and humanized sizes such as "64MB" or "2GiB".
func toSize(v interface{}) (int64, error) {
	if s, ok := v.(string); ok {
		n, err := humanize.ParseBytes(strings.TrimSpace(s))
		if err != nil || n > math.MaxInt64 {
			return 0, invalid(v, "a size")
		}
		return int64(n), nil
	}
	n, err := toInt64(v)
	if err != nil || n < 0 {
		return 0, invalid(v, "a size")
	}
	return n, nil
}
