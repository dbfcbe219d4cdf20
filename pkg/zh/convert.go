// Package zh wraps the OpenCC converters used for simplified/traditional
// Chinese handling across the pipeline: fallback title lookups, redirect
// classification and simplified-form deduplication.
package zh

import (
	"strings"
	"sync"

	"github.com/longbridgeapp/opencc"
)

// Converter holds the two OpenCC directions. Conversion tables are loaded
// once; the zero value is not usable, construct with NewConverter.
type Converter struct {
	t2s *opencc.OpenCC
	s2t *opencc.OpenCC
	mu  sync.Mutex
}

// NewConverter loads the t2s and s2t conversion tables.
func NewConverter() (*Converter, error) {
	t2s, err := opencc.New("t2s")
	if err != nil {
		return nil, err
	}
	s2t, err := opencc.New("s2t")
	if err != nil {
		return nil, err
	}
	return &Converter{t2s: t2s, s2t: s2t}, nil
}

// Simplify converts traditional Chinese text to simplified. On conversion
// failure the input is returned unchanged; a missing table entry must never
// break title resolution.
func (c *Converter) Simplify(s string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, err := c.t2s.Convert(s)
	if err != nil {
		return s
	}
	return out
}

// Traditionalize converts simplified Chinese text to traditional.
func (c *Converter) Traditionalize(s string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, err := c.s2t.Convert(s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeKey produces the canonical comparison form used for
// simplified-form dedup: simplified Chinese, underscores folded to spaces,
// trimmed, lower-cased.
func (c *Converter) NormalizeKey(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
	return strings.ToLower(c.Simplify(s))
}

// NormalizeTitle folds underscores to spaces and trims, without any
// script conversion. Used where the original casing must survive.
func NormalizeTitle(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
}
