package index

import (
	"strings"
	"unicode/utf8"
)

// Searcher finds pattern in text and returns the byte offset of the first
// match, or -1. Implementations back onto native search engines.
type Searcher interface {
	Search(pattern, text string) int
}

// SubstringSearcher is the built-in Searcher.
type SubstringSearcher struct {
	IgnoreCase bool
}

func (s SubstringSearcher) Search(pattern, text string) int {
	if pattern == "" {
		return 0
	}
	if !s.IgnoreCase {
		return strings.Index(text, pattern)
	}
	for i := 0; i+len(pattern) <= len(text); {
		if strings.EqualFold(text[i:i+len(pattern)], pattern) {
			return i
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return -1
}
