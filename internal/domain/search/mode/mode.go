// Package mode names the retrieval strategies a search backend can run.
package mode

import (
	"fmt"
	"strings"
)

// Mode is the retrieval strategy of the search backend.
type Mode string

const (
	// Hybrid runs vector and keyword search and fuses the rankings.
	Hybrid Mode = "hybrid"
	// Semantic ranks by embedding similarity only.
	Semantic Mode = "semantic"
	// Keyword ranks by BM25 only; no query embedding is computed.
	Keyword Mode = "keyword"
)

// Parse reads a mode name case-insensitively. Empty selects Hybrid.
func Parse(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if m == "" {
		return Hybrid, nil
	}
	if !m.IsValid() {
		return "", fmt.Errorf("unknown search mode %q (want hybrid, semantic or keyword)", s)
	}
	return m, nil
}

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	switch m {
	case Hybrid, Semantic, Keyword:
		return true
	}
	return false
}

// UsesVectors reports whether the mode needs a query embedding.
func (m Mode) UsesVectors() bool { return m != Keyword }

// UsesText reports whether the mode needs full-text search.
func (m Mode) UsesText() bool { return m != Semantic }
