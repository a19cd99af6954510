package interp

import (
	"context"

	"go.starlark.net/starlark"

	"github.com/robbyt/go-aeval/internal/ast"
)

// Function is a def from a snippet, or the unit wrapping a snippet itself.
type Function struct {
	name     string
	file     string
	params   []ast.Param
	defaults []starlark.Value
	body     []ast.Stmt
	scope    *ast.Scope
	closure  *Frame
	globals  starlark.StringDict
	async    bool
	unit     bool
	cfg      Config
}

var _ starlark.Callable = (*Function)(nil)

func (fn *Function) Name() string         { return fn.name }
func (fn *Function) Type() string         { return "function" }
func (fn *Function) Freeze()              {}
func (fn *Function) Truth() starlark.Bool { return starlark.True }

func (fn *Function) String() string {
	return "<function " + fn.name + ">"
}

func (fn *Function) Hash() (uint32, error) {
	return starlark.String(fn.file + ":" + fn.name).Hash()
}

// Async reports whether calling the function produces a coroutine.
func (fn *Function) Async() bool {
	return fn.async
}

func (fn *Function) CallInternal(
	thread *starlark.Thread,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	in, release := interpFor(thread, fn.cfg)
	defer release()
	vars, err := fn.bind(args, kwargs)
	if err != nil {
		return nil, err
	}
	fr := &Frame{
		fn:      fn,
		name:    fn.name,
		file:    fn.file,
		unit:    fn.unit,
		vars:    vars,
		globals: fn.globals,
		scope:   fn.scope,
		parent:  fn.closure,
	}
	if fn.async {
		return &Coroutine{fn: fn, fr: fr}, nil
	}
	return in.run(fn, fr)
}

func (in *Interp) run(fn *Function, fr *Frame) (starlark.Value, error) {
	in.stack = append(in.stack, fr)
	defer func() { in.stack = in.stack[:len(in.stack)-1] }()
	fl, err := in.execBlock(fr, fn.body)
	if err != nil {
		return nil, err
	}
	switch fl.kind {
	case flowReturn:
		return fl.value, nil
	case flowExit:
		return fl.exit, nil
	}
	return starlark.None, nil
}

// bind matches call arguments to parameters the way Python does.
func (fn *Function) bind(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.StringDict, error) {
	vars := make(starlark.StringDict, len(fn.params))
	varArgs, varKw := -1, -1
	var positional []int
	for i, p := range fn.params {
		switch p.Kind {
		case ast.ParamPositional:
			positional = append(positional, i)
		case ast.ParamVarArgs:
			varArgs = i
		case ast.ParamVarKeywords:
			varKw = i
		}
	}

	if len(args) > len(positional) && varArgs < 0 {
		return nil, NewException(TypeError, "%s() takes %d positional arguments but %d were given",
			fn.name, len(positional), len(args))
	}
	for i, v := range args {
		if i < len(positional) {
			vars[fn.params[positional[i]].Name] = v
		}
	}
	if varArgs >= 0 {
		var extra starlark.Tuple
		if len(args) > len(positional) {
			extra = append(extra, args[len(positional):]...)
		}
		if extra == nil {
			extra = starlark.Tuple{}
		}
		vars[fn.params[varArgs].Name] = extra
	}

	var kw *starlark.Dict
	if varKw >= 0 {
		kw = starlark.NewDict(0)
		vars[fn.params[varKw].Name] = kw
	}
	for _, pair := range kwargs {
		name := string(pair[0].(starlark.String))
		idx := -1
		for i, p := range fn.params {
			if p.Name == name && (p.Kind == ast.ParamPositional || p.Kind == ast.ParamKeywordOnly) {
				idx = i
				break
			}
		}
		if idx < 0 {
			if kw == nil {
				return nil, NewException(TypeError, "%s() got an unexpected keyword argument '%s'", fn.name, name)
			}
			if err := kw.SetKey(pair[0], pair[1]); err != nil {
				return nil, err
			}
			continue
		}
		if _, dup := vars[name]; dup {
			return nil, NewException(TypeError, "%s() got multiple values for argument '%s'", fn.name, name)
		}
		vars[name] = pair[1]
	}

	for i, p := range fn.params {
		if p.Kind == ast.ParamVarArgs || p.Kind == ast.ParamVarKeywords {
			continue
		}
		if _, ok := vars[p.Name]; ok {
			continue
		}
		if d := fn.defaults[i]; d != nil {
			vars[p.Name] = d
			continue
		}
		if p.Kind == ast.ParamKeywordOnly {
			return nil, NewException(TypeError, "%s() missing required keyword-only argument: '%s'", fn.name, p.Name)
		}
		return nil, NewException(TypeError, "%s() missing required positional argument: '%s'", fn.name, p.Name)
	}
	return vars, nil
}

// define creates the function for a def statement executed in fr.
func (in *Interp) define(fr *Frame, d *ast.DefStmt) (*Function, error) {
	defaults := make([]starlark.Value, len(d.Params))
	for i, p := range d.Params {
		if p.Default == nil {
			continue
		}
		v, err := in.eval(fr, p.Default)
		if err != nil {
			return nil, err
		}
		defaults[i] = v
	}
	scope := d.Scope
	if scope == nil {
		names := make([]string, len(d.Params))
		for i, p := range d.Params {
			names[i] = p.Name
		}
		scope = ast.Analyze(names, d.Body)
	}
	return &Function{
		name:     d.Name,
		file:     fr.file,
		params:   d.Params,
		defaults: defaults,
		body:     d.Body,
		scope:    scope,
		closure:  fr,
		globals:  fr.globals,
		async:    d.Async,
		cfg:      in.cfg,
	}, nil
}

// Awaitable is a value that can appear after await.
type Awaitable interface {
	starlark.Value
	Await(ctx context.Context, thread *starlark.Thread) (starlark.Value, error)
}

// Coroutine is the result of calling an async function. Its body runs when
// it is awaited.
type Coroutine struct {
	fn      *Function
	fr      *Frame
	awaited bool
}

var _ Awaitable = (*Coroutine)(nil)

func (c *Coroutine) String() string       { return "<coroutine object " + c.fn.name + ">" }
func (c *Coroutine) Type() string         { return "coroutine" }
func (c *Coroutine) Freeze()              {}
func (c *Coroutine) Truth() starlark.Bool { return starlark.True }

func (c *Coroutine) Hash() (uint32, error) {
	return starlark.String(c.String()).Hash()
}

func (c *Coroutine) Await(ctx context.Context, thread *starlark.Thread) (starlark.Value, error) {
	if c.awaited {
		return nil, NewException(RuntimeError, "cannot reuse already awaited coroutine")
	}
	c.awaited = true
	if err := ctx.Err(); err != nil {
		return nil, contextException(err)
	}
	in, release := interpFor(thread, c.fn.cfg)
	defer release()
	return in.run(c.fn, c.fr)
}
