package pattern

import (
	"errors"
	"fmt"
)

var ErrCompile = errors.New("pattern: compile failed")

// CompileError reports a malformed glob detected while compiling.
type CompileError struct {
	Pattern string
	Offset  int
	Reason  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("pattern: compile %q at offset %d: %s", e.Pattern, e.Offset, e.Reason)
}

func (e *CompileError) Unwrap() error {
	return ErrCompile
}
