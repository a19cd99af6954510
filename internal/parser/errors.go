package parser

import (
	"fmt"

	"github.com/robbyt/go-aeval/internal/ast"
)

// Error is a syntax error at a position of the snippet.
type Error struct {
	Pos ast.Pos
	Msg string
}

func newError(p ast.Pos, format string, args ...any) *Error {
	return &Error{Pos: p, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}
