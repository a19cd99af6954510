// Package interp executes rewritten snippet statements. Control flow is
// interpreted here; every expression is evaluated by Starlark against an
// environment assembled from the active frames.
package interp

import (
	"context"
	"log/slog"
	"maps"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/robbyt/go-aeval/internal/ast"
)

// FileOptions is the Starlark dialect used for every expression.
var FileOptions = &syntax.FileOptions{
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

const threadKey = "aeval.interp"

// Importer resolves the module named by an import statement.
type Importer interface {
	Import(ctx context.Context, thread *starlark.Thread, name string) (starlark.Value, error)
}

// Config holds what an interpreter needs besides its thread.
type Config struct {
	// Builtins are visible beneath every frame's globals.
	Builtins starlark.StringDict
	Importer Importer
	Logger   *slog.Logger
}

// Interp runs statements on one Starlark thread. It is installed as a
// thread local so that functions and awaitables reached through Starlark
// calls find it again.
type Interp struct {
	ctx    context.Context
	thread *starlark.Thread
	cfg    Config
	logger *slog.Logger
	stack  []*Frame
	prev   any
}

// New installs an interpreter on thread. Release restores whatever was
// installed before.
func New(ctx context.Context, thread *starlark.Thread, cfg Config) *Interp {
	if cfg.Builtins == nil {
		cfg.Builtins = Builtins()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	in := &Interp{
		ctx:    ctx,
		thread: thread,
		cfg:    cfg,
		logger: logger.WithGroup("interp"),
		prev:   thread.Local(threadKey),
	}
	thread.SetLocal(threadKey, in)
	return in
}

// Release uninstalls the interpreter from its thread.
func (in *Interp) Release() {
	in.thread.SetLocal(threadKey, in.prev)
}

// Thread returns the Starlark thread the interpreter runs on.
func (in *Interp) Thread() *starlark.Thread {
	return in.thread
}

// FromThread returns the interpreter installed on thread.
func FromThread(thread *starlark.Thread) (*Interp, bool) {
	in, ok := thread.Local(threadKey).(*Interp)
	return in, ok
}

// Context returns the context of the evaluation running on thread.
func Context(thread *starlark.Thread) context.Context {
	if in, ok := FromThread(thread); ok && in.ctx != nil {
		return in.ctx
	}
	return context.Background()
}

// interpFor returns the interpreter of thread, installing a fresh one when
// a host calls a snippet function on a thread of its own.
func interpFor(thread *starlark.Thread, cfg Config) (*Interp, func()) {
	if in, ok := FromThread(thread); ok {
		return in, func() {}
	}
	in := New(context.Background(), thread, cfg)
	return in, in.Release
}

// NewUnit creates the function wrapping a snippet. Every name in params is
// a keyword-only parameter.
func (in *Interp) NewUnit(
	name, file string,
	params []string,
	body []ast.Stmt,
	async bool,
	globals starlark.StringDict,
) *Function {
	ps := make([]ast.Param, len(params))
	for i, p := range params {
		ps[i] = ast.Param{Name: p, Kind: ast.ParamKeywordOnly}
	}
	return &Function{
		name:     name,
		file:     file,
		params:   ps,
		defaults: make([]starlark.Value, len(ps)),
		body:     body,
		scope:    ast.Analyze(params, body),
		globals:  globals,
		async:    async,
		unit:     true,
		cfg:      in.cfg,
	}
}

// Frame is one active function call.
type Frame struct {
	fn      *Function
	name    string
	file    string
	unit    bool
	vars    starlark.StringDict
	globals starlark.StringDict
	scope   *ast.Scope
	parent  *Frame

	pos   ast.Pos
	expr  *ast.Expr
	caret ast.Pos

	handling []*Exception
}

func (fr *Frame) trace() TraceFrame {
	tf := TraceFrame{File: fr.file, Name: fr.name, Line: fr.pos.Line, Unit: fr.unit, frame: fr}
	if e := fr.expr; e != nil && e.Start.IsValid() {
		tf.Line, tf.Col = e.Start.Line, e.Start.Col
		tf.EndLine, tf.EndCol = e.End.Line, e.End.Col
	}
	if fr.caret.IsValid() {
		tf.point(fr.caret)
	}
	return tf
}

// env assembles the names visible to an expression in fr. Locals that are
// not bound yet are hidden so that reading them fails.
func (fr *Frame) env(builtins starlark.StringDict) starlark.StringDict {
	env := make(starlark.StringDict, len(builtins)+len(fr.globals)+len(fr.vars))
	maps.Copy(env, builtins)
	maps.Copy(env, fr.globals)
	var chain []*Frame
	for p := fr.parent; p != nil; p = p.parent {
		chain = append(chain, p)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		maps.Copy(env, chain[i].vars)
	}
	for name := range fr.scope.Locals {
		if _, ok := fr.vars[name]; !ok {
			delete(env, name)
		}
	}
	maps.Copy(env, fr.vars)
	for name := range fr.scope.Globals {
		if v, ok := fr.globals[name]; ok {
			env[name] = v
		} else {
			delete(env, name)
		}
	}
	return env
}

func (in *Interp) set(fr *Frame, name string, v starlark.Value) error {
	switch {
	case fr.scope.Globals[name]:
		fr.globals[name] = v
	case fr.scope.Nonlocals[name]:
		for p := fr.parent; p != nil; p = p.parent {
			if p.scope.IsLocal(name) {
				p.vars[name] = v
				return nil
			}
		}
		return in.throw(NameError, "no binding for nonlocal '%s' found", name)
	default:
		fr.vars[name] = v
	}
	return nil
}

func (in *Interp) unset(fr *Frame, name string) error {
	vars := fr.vars
	switch {
	case fr.scope.Globals[name]:
		vars = fr.globals
	case fr.scope.Nonlocals[name]:
		vars = nil
		for p := fr.parent; p != nil; p = p.parent {
			if p.scope.IsLocal(name) {
				vars = p.vars
				break
			}
		}
	}
	if _, ok := vars[name]; !ok {
		if fr.scope.IsLocal(name) {
			return in.throw(UnboundLocalError,
				"cannot access local variable '%s' where it is not associated with a value", name)
		}
		return in.throw(NameError, "name '%s' is not defined", name)
	}
	delete(vars, name)
	return nil
}

// current returns the innermost active frame.
func (in *Interp) current() *Frame {
	if n := len(in.stack); n > 0 {
		return in.stack[n-1]
	}
	return nil
}

func (in *Interp) snapshot() []TraceFrame {
	out := make([]TraceFrame, 0, len(in.stack))
	for _, fr := range in.stack {
		out = append(out, fr.trace())
	}
	return out
}

// eval evaluates e in fr.
func (in *Interp) eval(fr *Frame, e *ast.Expr) (starlark.Value, error) {
	return in.evalNode(fr, e, e.X)
}

// evalNode evaluates x, a node of e, in fr.
func (in *Interp) evalNode(fr *Frame, e *ast.Expr, x syntax.Expr) (starlark.Value, error) {
	fr.expr, fr.caret = e, ast.Pos{}
	depth := in.thread.CallStackDepth()
	v, err := starlark.EvalExprOptions(FileOptions, in.thread, x, fr.env(in.cfg.Builtins))
	if err != nil {
		return nil, in.exceptionFrom(fr, e, depth, err)
	}
	return v, nil
}

// call invokes fn on behalf of the expression e.
func (in *Interp) call(
	fr *Frame,
	e *ast.Expr,
	fn starlark.Value,
	args starlark.Tuple,
) (starlark.Value, error) {
	depth := in.thread.CallStackDepth()
	v, err := starlark.Call(in.thread, fn, args, nil)
	if err != nil {
		return nil, in.exceptionFrom(fr, e, depth, err)
	}
	return v, nil
}

// checkContext fails once the evaluation context is done.
func (in *Interp) checkContext() error {
	if in.ctx == nil {
		return nil
	}
	if err := in.ctx.Err(); err != nil {
		return in.raise(contextException(err))
	}
	return nil
}
