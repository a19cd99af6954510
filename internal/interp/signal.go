package interp

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/robbyt/go-aeval/internal/ast"
)

// ExitSignal is what a unit returns when its exit statement runs. It is a
// normal return value, never an error, so that handlers in the snippet
// cannot intercept it.
type ExitSignal struct {
	Value   starlark.Value
	Empty   bool
	Globals starlark.StringDict
	Locals  starlark.StringDict
}

var _ starlark.Value = (*ExitSignal)(nil)

func (s *ExitSignal) String() string       { return "<exit>" }
func (s *ExitSignal) Type() string         { return "exit_signal" }
func (s *ExitSignal) Freeze()              {}
func (s *ExitSignal) Truth() starlark.Bool { return starlark.True }

func (s *ExitSignal) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", s.Type())
}

// TraceFrame is one traceback entry. Columns are 1-based; zero means
// unknown.
type TraceFrame struct {
	File string
	Name string
	Line int

	// Col through EndCol (exclusive) on Line..EndLine is the expression
	// that was running.
	Col     int
	EndLine int
	EndCol  int

	// Caret is the column of the failing operation on Line.
	Caret int

	// Unit marks the frame of a snippet's top level.
	Unit bool

	// Internal marks a frame of the evaluator itself.
	Internal bool

	frame *Frame
}

func (tf *TraceFrame) point(p ast.Pos) {
	if p.Line == tf.Line {
		tf.Caret = p.Col
		return
	}
	tf.Line, tf.Col, tf.EndLine, tf.EndCol, tf.Caret = p.Line, 0, 0, 0, p.Col
}

// FrameKey identifies frames of one function in one file.
type FrameKey struct {
	File string
	Name string
}

// Key returns the frame's file and function name.
func (tf TraceFrame) Key() FrameKey {
	return FrameKey{File: tf.File, Name: tf.Name}
}

func (tf TraceFrame) String() string {
	return fmt.Sprintf("%s:%d in %s", tf.File, tf.Line, tf.Name)
}

const builtinFile = "<builtin>"

// starlarkFrame converts a Starlark call frame below an expression, such as
// a lambda, into a trace frame. Builtin frames are dropped.
func starlarkFrame(cf starlark.CallFrame) (TraceFrame, bool) {
	file := cf.Pos.Filename()
	if file == builtinFile || file == "" {
		return TraceFrame{}, false
	}
	name := cf.Name
	if name == "lambda" {
		name = "<lambda>"
	}
	return TraceFrame{File: file, Name: name, Line: int(cf.Pos.Line)}, true
}
