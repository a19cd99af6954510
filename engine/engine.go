// Package engine compiles snippets into units and executes them. A unit is
// the rewritten snippet wrapped as a callable whose keyword-only parameters
// are the caller's local names; executing it always ends in an exit signal
// or a raised exception.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"go.starlark.net/starlark"

	"github.com/robbyt/go-aeval/internal/interp"
	"github.com/robbyt/go-aeval/internal/parser"
	"github.com/robbyt/go-aeval/internal/rewrite"
)

// InternalFile is the file name the engine's own frames carry on traces.
const InternalFile = "github.com/robbyt/go-aeval/engine"

const unitName = "amain"

// InternalFrames returns the frames the engine adds to traces.
func InternalFrames() []interp.FrameKey {
	return []interp.FrameKey{
		{File: InternalFile, Name: "Compile"},
		{File: InternalFile, Name: "Execute"},
	}
}

// Engine compiles and executes snippets. It holds no per-snippet state and
// is safe for concurrent use.
type Engine struct {
	builtins starlark.StringDict
	importer interp.Importer
	stdout   io.Writer

	logHandler slog.Handler
	logger     *slog.Logger
}

// New creates an Engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{}
	e.applyDefaults()

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("error applying engine option: %w", err)
		}
	}

	if err := e.validate(); err != nil {
		return nil, fmt.Errorf("invalid engine configuration: %w", err)
	}

	e.setupLogger()
	return e, nil
}

func (e *Engine) String() string {
	return "engine.Engine"
}

// Compile parses and rewrites source. globals and locals are the scope the
// unit will run with; they decide its name and parameters. Syntax errors are
// returned as SyntaxError exceptions.
func (e *Engine) Compile(
	ctx context.Context,
	filename, source string,
	globals, locals starlark.StringDict,
) (*Unit, error) {
	logger := e.logger.WithGroup("Compile")

	body, err := parser.Parse(filename, source)
	if err != nil {
		logger.DebugContext(ctx, "Snippet failed to parse", "filename", filename, "error", err)
		return nil, syntaxError(filename, source, err)
	}
	body = rewrite.Module(body)

	params := slices.Sorted(maps.Keys(locals))
	unit := &Unit{
		Name:     uniqueName(unitName, globals, locals),
		Filename: filename,
		Source:   source,
		Params:   params,
		Async:    rewrite.IsAsync(body),
		body:     body,
	}
	logger.DebugContext(ctx, "Snippet compiled", "unit", unit, "params", len(params))
	return unit, nil
}

// uniqueName prefixes base with underscores until no scope binds it.
func uniqueName(base string, scopes ...starlark.StringDict) string {
	name := base
	for {
		taken := false
		for _, s := range scopes {
			if _, ok := s[name]; ok {
				taken = true
				break
			}
		}
		if !taken {
			return name
		}
		name = "_" + name
	}
}

func syntaxError(filename, source string, err error) *interp.Exception {
	var perr *parser.Error
	if !errors.As(err, &perr) {
		exc := interp.NewSyntaxError(err.Error(), filename, 0, 0, "")
		return exc.WithError(err)
	}
	line, col := perr.Pos.Line, perr.Pos.Col
	exc := interp.NewSyntaxError(perr.Msg, filename, line, col, sourceLine(source, line))
	exc.Traceback = []interp.TraceFrame{
		{File: InternalFile, Name: "Compile", Internal: true},
		{File: filename, Name: "<module>", Line: line, Unit: true},
	}
	return exc.WithError(err)
}

// sourceLine returns line n (1-based) of source without its newline.
func sourceLine(source string, n int) string {
	if n <= 0 {
		return ""
	}
	lines := strings.Split(source, "\n")
	if n > len(lines) {
		return ""
	}
	return strings.TrimRight(lines[n-1], "\r")
}

// Execute runs unit with the given scope. globals is copied; the unit's
// writes to it are reported in the outcome. Cancelling ctx cancels the
// evaluation at the next Starlark step or await.
func (e *Engine) Execute(
	ctx context.Context,
	unit *Unit,
	globals, locals starlark.StringDict,
) (*Outcome, error) {
	if unit == nil {
		return nil, ErrUnitNil
	}
	logger := e.logger.WithGroup("Execute").With("filename", unit.Filename)
	start := time.Now()

	thread := &starlark.Thread{
		Name: unit.Filename,
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Fprintln(e.stdout, msg)
			logger.DebugContext(ctx, "print", "msg", msg)
		},
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	env := acquire(ctx, thread, e.builtins, e.importer, logger)
	defer env.Release()

	scope := make(starlark.StringDict, len(globals))
	maps.Copy(scope, globals)
	fn := env.callable(unit, scope)

	kwargs := make([]starlark.Tuple, 0, len(unit.Params))
	for _, name := range unit.Params {
		kwargs = append(kwargs, starlark.Tuple{starlark.String(name), locals[name]})
	}

	v, err := starlark.Call(thread, fn, nil, kwargs)
	if err == nil && unit.Async {
		if co, ok := v.(interp.Awaitable); ok {
			v, err = co.Await(ctx, thread)
		}
	}
	if err != nil {
		exc, ok := interp.AsException(err)
		if !ok {
			exc = interp.NewException(interp.RuntimeError, "%s", err).WithError(err)
		}
		exc.Unwind(interp.TraceFrame{File: InternalFile, Name: "Execute", Internal: true})
		logger.DebugContext(ctx, "Execution raised", "exception", exc.Class.Name())
		return nil, exc
	}

	outcome := &Outcome{
		Value:    starlark.None,
		Empty:    true,
		Globals:  scope,
		Locals:   locals,
		Async:    unit.Async,
		ExecTime: time.Since(start),
	}
	if sig, ok := v.(*interp.ExitSignal); ok {
		outcome.Value, outcome.Empty = sig.Value, sig.Empty
		outcome.Globals, outcome.Locals = sig.Globals, sig.Locals
	}
	logger.DebugContext(ctx, "Execution complete", "empty", outcome.Empty, "execTime", outcome.ExecTime)
	return outcome, nil
}
