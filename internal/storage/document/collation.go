package document

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// BinaryCollation is the name of ordinal string comparison.
const BinaryCollation = "binary"

// Collation compares strings for one culture and set of options. A nil
// *Collation compares ordinally.
//
// Collation keys are memoized in a bounded cache so hot index keys are not
// re-weighted on every comparison.
type Collation struct {
	name string

	mu   sync.Mutex
	col  *collate.Collator
	buf  collate.Buffer
	keys *ristretto.Cache[string, []byte]
}

var collateOptions = map[string]collate.Option{
	"ignorecase":       collate.IgnoreCase,
	"ignorediacritics": collate.IgnoreDiacritics,
	"ignorewidth":      collate.IgnoreWidth,
	"loose":            collate.Loose,
	"numeric":          collate.Numeric,
	"force":            collate.Force,
}

// ParseCollation parses a collation name of the form "culture[/Option...]",
// for example "en-US/IgnoreCase". An empty name or "binary" yields nil.
func ParseCollation(name string) (*Collation, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, BinaryCollation) {
		return nil, nil
	}
	parts := strings.Split(name, "/")
	tag, err := language.Parse(parts[0])
	if err != nil {
		return nil, fmt.Errorf("collation %q: %w", name, err)
	}
	opts := make([]collate.Option, 0, len(parts)-1)
	for _, p := range parts[1:] {
		opt, ok := collateOptions[strings.ToLower(strings.TrimSpace(p))]
		if !ok {
			return nil, fmt.Errorf("collation %q: unknown option %q", name, p)
		}
		opts = append(opts, opt)
	}
	keys, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 100_000,
		MaxCost:     4 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Collation{
		name: name,
		col:  collate.New(tag, opts...),
		keys: keys,
	}, nil
}

// Name returns the collation name, "binary" for nil.
func (c *Collation) Name() string {
	if c == nil {
		return BinaryCollation
	}
	return c.name
}

// Key returns the sort key of s. Byte order of keys is collation order.
func (c *Collation) Key(s string) []byte {
	if c == nil {
		return []byte(s)
	}
	if k, ok := c.keys.Get(s); ok {
		return k
	}
	c.mu.Lock()
	k := append([]byte(nil), c.col.KeyFromString(&c.buf, s)...)
	c.buf.Reset()
	c.mu.Unlock()
	c.keys.Set(s, k, int64(len(s)+len(k)))
	return k
}

// CompareStrings compares two strings under the collation.
func (c *Collation) CompareStrings(a, b string) int {
	if c == nil {
		return strings.Compare(a, b)
	}
	if a == b {
		return 0
	}
	return bytes.Compare(c.Key(a), c.Key(b))
}

// Close releases the key cache.
func (c *Collation) Close() {
	if c != nil {
		c.keys.Close()
	}
}
