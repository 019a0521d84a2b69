package pattern

import (
	"errors"
	"strings"
)

// Set is an ordered list of compiled patterns.
type Set struct {
	patterns []*Pattern
}

// NewSet compiles every pattern. Blank entries are skipped; all compile errors
// are reported together.
func NewSet(raw ...string) (*Set, error) {
	s := &Set{patterns: make([]*Pattern, 0, len(raw))}
	var errs []error
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		p, err := Compile(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.patterns = append(s.patterns, p)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.patterns)
}

// MatchAny reports whether any pattern in the set matches.
func (s *Set) MatchAny(path string, isDir bool, cmp Comparer) bool {
	if s == nil {
		return false
	}
	for _, p := range s.patterns {
		if p.Match(path, isDir, cmp) {
			return true
		}
	}
	return false
}

// Rules classifies project-relative paths with ignore and include sets.
type Rules struct {
	Ignore   *Set
	Include  *Set
	Comparer Comparer
}

func NewRules(ignore, include []string, cmp Comparer) (*Rules, error) {
	ig, err := NewSet(ignore...)
	if err != nil {
		return nil, err
	}
	in, err := NewSet(include...)
	if err != nil {
		return nil, err
	}
	if cmp == nil {
		cmp = PlatformComparer()
	}
	return &Rules{Ignore: ig, Include: in, Comparer: cmp}, nil
}

// Ignored reports whether path or any of its ancestor directories matches an
// ignore pattern.
func (r *Rules) Ignored(path string, isDir bool) bool {
	if r == nil {
		return false
	}
	path = strings.Trim(normalizeSeparators(path), "/")
	if r.Ignore.MatchAny(path, isDir, r.Comparer) {
		return true
	}
	for i := len(path) - 1; i > 0; i-- {
		if path[i] == separator && r.Ignore.MatchAny(path[:i], true, r.Comparer) {
			return true
		}
	}
	return false
}

// Included reports whether path survives the ignore set and, for files, the
// include set. An empty include set admits every file.
func (r *Rules) Included(path string, isDir bool) bool {
	if r == nil {
		return true
	}
	if r.Ignored(path, isDir) {
		return false
	}
	if isDir || r.Include.Len() == 0 {
		return true
	}
	return r.Include.MatchAny(path, false, r.Comparer)
}
