package engine

import (
	"fmt"
	"time"

	"go.starlark.net/starlark"

	"github.com/robbyt/go-aeval/internal/ast"
)

// Unit is a compiled snippet: its rewritten statements wrapped as a
// callable taking the caller's locals as keyword-only parameters.
type Unit struct {
	// Name is the callable's name, unique against the scope it was
	// compiled for.
	Name     string
	Filename string
	Source   string

	// Params are the local names, sorted.
	Params []string

	// Async is set when the snippet awaits at top level.
	Async bool

	body []ast.Stmt
}

func (u *Unit) String() string {
	return fmt.Sprintf("engine.Unit{Name: %s, Filename: %s, Async: %t}", u.Name, u.Filename, u.Async)
}

// Outcome is the result of a successful Execute.
type Outcome struct {
	Value starlark.Value

	// Empty is set when the snippet produced no value; Value is None then.
	Empty bool

	// Globals and Locals are the scopes after execution.
	Globals starlark.StringDict
	Locals  starlark.StringDict

	Async    bool
	ExecTime time.Duration
}
