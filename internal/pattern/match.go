package pattern

import (
	"strings"
	"unicode/utf8"
)

// Match reports whether path satisfies the pattern. path is relative to the
// root the pattern applies to; isDir marks a directory-context path. A nil
// comparer compares case-sensitively.
func (p *Pattern) Match(path string, isDir bool, cmp Comparer) bool {
	if cmp == nil {
		cmp = CaseSensitive
	}
	m := matcher{
		ops:   p.ops,
		path:  strings.Trim(normalizeSeparators(path), "/"),
		isDir: isDir,
		cmp:   cmp,
	}
	return m.run()
}

type cursor struct {
	op  int
	pos int
}

type matcher struct {
	ops   []Op
	path  string
	isDir bool
	cmp   Comparer
}

// run walks the operator chain with an explicit worklist. Only
// RelativeDirectory and RecursiveDir fork; every other operator advances the
// cursor deterministically or fails the branch.
func (m *matcher) run() bool {
	work := []cursor{{}}
	seen := make(map[cursor]struct{})
	for len(work) > 0 {
		c := work[len(work)-1]
		work = work[:len(work)-1]
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}

		matched, forks := m.step(c)
		if matched {
			return true
		}
		// Push in reverse so the nearest boundary is tried first.
		for i := len(forks) - 1; i >= 0; i-- {
			work = append(work, forks[i])
		}
	}
	return false
}

func (m *matcher) step(c cursor) (bool, []cursor) {
	pos := c.pos
	for i := c.op; i < len(m.ops); i++ {
		op := m.ops[i]
		switch op.Kind {
		case OpNoMatch:
			return false, nil
		case OpDirectoryOnly:
			if !m.isDir {
				return false, nil
			}
		case OpText:
			end, ok := m.prefixAt(pos, len(m.path), op.Text)
			if !ok {
				return false, nil
			}
			pos = end
		case OpAsterisk:
			next, ok := m.asterisk(i, pos)
			if !ok {
				return false, nil
			}
			pos = next
		case OpRelativeDirectory:
			forks := []cursor{{op: i + 1, pos: pos}}
			for j := pos; j < len(m.path); j++ {
				if m.path[j] == separator {
					forks = append(forks, cursor{op: i + 1, pos: j + 1})
				}
			}
			return false, forks
		case OpRecursiveDir:
			if i == len(m.ops)-1 {
				return false, nil
			}
			if pos >= len(m.path) || m.path[pos] != separator {
				return false, nil
			}
			// At least one non-empty directory segment must sit between the
			// text before and the text after the recursive operator.
			var forks []cursor
			for j := pos + 2; j < len(m.path); j++ {
				if m.path[j] == separator {
					forks = append(forks, cursor{op: i + 1, pos: j + 1})
				}
			}
			return false, forks
		default:
			return false, nil
		}
	}
	return pos == len(m.path), nil
}

// asterisk returns where the cursor lands after an Asterisk at ops[i]. The
// run never crosses a separator and is chosen by direct scan from the
// operator that follows.
func (m *matcher) asterisk(i, pos int) (int, bool) {
	segEnd := len(m.path)
	if j := strings.IndexByte(m.path[pos:], separator); j >= 0 {
		segEnd = pos + j
	}
	if i+1 >= len(m.ops) || m.ops[i+1].Kind != OpText {
		return segEnd, true
	}

	text := m.ops[i+1].Text
	if j := strings.IndexByte(text, separator); j >= 0 {
		// The literal crosses into the next segment, so its head must close
		// the current one.
		return m.suffixAt(pos, segEnd, text[:j])
	}
	if i+2 < len(m.ops) && m.ops[i+2].Kind == OpAsterisk {
		for k := pos; k < segEnd; {
			if _, ok := m.prefixAt(k, segEnd, text); ok {
				return k, true
			}
			_, n := utf8.DecodeRuneInString(m.path[k:segEnd])
			k += n
		}
		return 0, false
	}
	return m.suffixAt(pos, segEnd, text)
}

// prefixAt matches text against path[pos:limit] from the front and returns
// the path offset just past the match. Runes are compared one at a time
// since a case fold may change byte width (Kelvin sign and "k").
func (m *matcher) prefixAt(pos, limit int, text string) (int, bool) {
	i := pos
	for j := 0; j < len(text); {
		if i >= limit {
			return 0, false
		}
		_, tn := utf8.DecodeRuneInString(text[j:])
		_, pn := utf8.DecodeRuneInString(m.path[i:limit])
		if !m.cmp.Equal(m.path[i:i+pn], text[j:j+tn]) {
			return 0, false
		}
		i += pn
		j += tn
	}
	return i, true
}

// suffixAt matches text against the end of path[pos:segEnd] and returns the
// path offset where the match starts.
func (m *matcher) suffixAt(pos, segEnd int, text string) (int, bool) {
	i := segEnd
	for j := len(text); j > 0; {
		if i <= pos {
			return 0, false
		}
		_, tn := utf8.DecodeLastRuneInString(text[:j])
		_, pn := utf8.DecodeLastRuneInString(m.path[pos:i])
		if !m.cmp.Equal(m.path[i-pn:i], text[j-tn:j]) {
			return 0, false
		}
		i -= pn
		j -= tn
	}
	return i, true
}
