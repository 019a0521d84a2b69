package pattern

import (
	"runtime"
	"strings"
)

// Comparer decides whether two path fragments are equal. Match passes it
// single runes.
type Comparer interface {
	Equal(a, b string) bool
}

var (
	CaseSensitive   Comparer = caseSensitive{}
	CaseInsensitive Comparer = caseInsensitive{}
)

type caseSensitive struct{}

func (caseSensitive) Equal(a, b string) bool {
	return a == b
}

type caseInsensitive struct{}

func (caseInsensitive) Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}

// PlatformComparer returns the comparer matching the host filesystem's
// default case rules.
func PlatformComparer() Comparer {
	switch runtime.GOOS {
	case "windows", "darwin":
		return CaseInsensitive
	default:
		return CaseSensitive
	}
}
