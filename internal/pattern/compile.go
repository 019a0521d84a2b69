package pattern

import "strings"

// OpKind identifies one operator in a compiled pattern.
type OpKind uint8

const (
	OpText OpKind = iota + 1
	OpAsterisk
	OpRecursiveDir
	OpDirectoryOnly
	OpRelativeDirectory
	OpNoMatch
)

func (k OpKind) String() string {
	switch k {
	case OpText:
		return "text"
	case OpAsterisk:
		return "asterisk"
	case OpRecursiveDir:
		return "recursive_dir"
	case OpDirectoryOnly:
		return "directory_only"
	case OpRelativeDirectory:
		return "relative_directory"
	case OpNoMatch:
		return "no_match"
	default:
		return "unknown"
	}
}

// Op is one compiled operator. Text is set only for OpText.
type Op struct {
	Kind OpKind
	Text string
}

// Pattern is an immutable compiled glob.
type Pattern struct {
	source string
	ops    []Op
}

const (
	separator    = '/'
	recursiveSeg = "**"
)

// Compile parses one glob string into its operator sequence.
func Compile(raw string) (*Pattern, error) {
	if i := strings.IndexByte(raw, 0); i >= 0 {
		return nil, &CompileError{Pattern: raw, Offset: i, Reason: "NUL byte"}
	}
	s := normalizeSeparators(raw)
	if i := misplacedRecursive(s); i >= 0 {
		return nil, &CompileError{Pattern: raw, Offset: i, Reason: `"**" must be a whole path segment`}
	}

	ops := make([]Op, 0, 4)
	if strings.HasSuffix(s, "/") {
		ops = append(ops, Op{Kind: OpDirectoryOnly})
		s = strings.TrimRight(s, "/")
	}

	anchored := false
	if strings.HasPrefix(s, "/") {
		anchored = true
		s = strings.TrimLeft(s, "/")
	}
	for strings.HasPrefix(s, recursiveSeg+"/") {
		anchored = false
		s = strings.TrimLeft(s[len(recursiveSeg):], "/")
	}
	if s == recursiveSeg {
		s = ""
	}

	if s == "" {
		return &Pattern{source: raw, ops: []Op{{Kind: OpNoMatch}}}, nil
	}
	if !anchored {
		ops = append(ops, Op{Kind: OpRelativeDirectory})
	}

	parts := strings.Split(s, "/"+recursiveSeg+"/")
	for i, part := range parts {
		if i > 0 {
			for strings.HasPrefix(part, recursiveSeg+"/") {
				part = part[len(recursiveSeg)+1:]
			}
			if ops[len(ops)-1].Kind != OpRecursiveDir {
				ops = append(ops, Op{Kind: OpRecursiveDir})
			}
		}
		trailing := false
		if i == len(parts)-1 {
			switch {
			case i > 0 && part == recursiveSeg:
				part = ""
				trailing = true
			case strings.HasSuffix(part, "/"+recursiveSeg):
				part = strings.TrimSuffix(part, "/"+recursiveSeg)
				trailing = true
			}
		}
		ops = appendSegmentOps(ops, part)
		if trailing && ops[len(ops)-1].Kind != OpRecursiveDir {
			ops = append(ops, Op{Kind: OpRecursiveDir})
		}
	}
	return &Pattern{source: raw, ops: ops}, nil
}

// misplacedRecursive returns the offset of the first "**" that is not a whole
// path segment, or -1.
func misplacedRecursive(s string) int {
	for i := 0; i+1 < len(s); i++ {
		if s[i] != '*' || s[i+1] != '*' {
			continue
		}
		startOK := i == 0 || s[i-1] == separator
		endOK := i+2 == len(s) || s[i+2] == separator
		if !startOK || !endOK {
			return i
		}
		i++
	}
	return -1
}

// MustCompile is Compile for patterns known at build time.
func MustCompile(raw string) *Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func appendSegmentOps(ops []Op, part string) []Op {
	var text strings.Builder
	for i := 0; i < len(part); i++ {
		c := part[i]
		if c != '*' {
			text.WriteByte(c)
			continue
		}
		if text.Len() > 0 {
			ops = append(ops, Op{Kind: OpText, Text: text.String()})
			text.Reset()
		}
		ops = append(ops, Op{Kind: OpAsterisk})
	}
	if text.Len() > 0 {
		ops = append(ops, Op{Kind: OpText, Text: text.String()})
	}
	return ops
}

func normalizeSeparators(s string) string {
	return strings.ReplaceAll(s, `\`, "/")
}

// Source returns the pattern string as given to Compile.
func (p *Pattern) Source() string {
	return p.source
}

// Ops returns a copy of the compiled operator sequence.
func (p *Pattern) Ops() []Op {
	out := make([]Op, len(p.ops))
	copy(out, p.ops)
	return out
}

func (p *Pattern) String() string {
	var b strings.Builder
	for i, op := range p.ops {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(op.Kind.String())
		if op.Kind == OpText {
			b.WriteString("(" + op.Text + ")")
		}
	}
	return b.String()
}
