package interp

import (
	"fmt"
	"maps"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/robbyt/go-aeval/internal/ast"
)

type flowKind uint8

const (
	flowNormal flowKind = iota
	flowReturn
	flowBreak
	flowContinue
	flowExit
)

// flow is how a statement finished when it did not raise.
type flow struct {
	kind  flowKind
	value starlark.Value
	exit  *ExitSignal
}

var normal = flow{}

func (in *Interp) execBlock(fr *Frame, body []ast.Stmt) (flow, error) {
	for _, s := range body {
		fl, err := in.exec(fr, s)
		if err != nil || fl.kind != flowNormal {
			return fl, err
		}
	}
	return normal, nil
}

func (in *Interp) exec(fr *Frame, s ast.Stmt) (flow, error) {
	fr.pos, _ = s.Span()
	fr.expr, fr.caret = nil, ast.Pos{}

	switch s.Kind() {
	case ast.KindExpr:
		_, err := in.eval(fr, s.(*ast.ExprStmt).X)
		return normal, err

	case ast.KindAssign:
		a := s.(*ast.AssignStmt)
		v, err := in.eval(fr, a.Value)
		if err != nil {
			return normal, err
		}
		for _, t := range a.Targets {
			if err := in.assign(fr, t, t.X, v); err != nil {
				return normal, err
			}
		}
		return normal, nil

	case ast.KindAugAssign:
		return normal, in.augAssign(fr, s.(*ast.AugAssignStmt))

	case ast.KindAnnAssign:
		a := s.(*ast.AnnAssignStmt)
		if a.Value == nil {
			return normal, nil
		}
		v, err := in.eval(fr, a.Value)
		if err != nil {
			return normal, err
		}
		return normal, in.assign(fr, a.Target, a.Target.X, v)

	case ast.KindTypeAlias:
		t := s.(*ast.TypeAliasStmt)
		v, err := in.eval(fr, t.Value)
		if err != nil {
			return normal, err
		}
		return normal, in.assign(fr, t.Name, t.Name.X, v)

	case ast.KindImport:
		return normal, in.execImport(fr, s.(*ast.ImportStmt))

	case ast.KindImportFrom:
		return normal, in.execImportFrom(fr, s.(*ast.ImportFromStmt))

	case ast.KindIf:
		x := s.(*ast.IfStmt)
		cond, err := in.eval(fr, x.Cond)
		if err != nil {
			return normal, err
		}
		if cond.Truth() {
			return in.execBlock(fr, x.Body)
		}
		return in.execBlock(fr, x.Else)

	case ast.KindWhile:
		return in.execWhile(fr, s.(*ast.WhileStmt))

	case ast.KindFor:
		return in.execFor(fr, s.(*ast.ForStmt))

	case ast.KindWith:
		return in.execWith(fr, s.(*ast.WithStmt), 0)

	case ast.KindTry:
		return in.execTry(fr, s.(*ast.TryStmt))

	case ast.KindMatch:
		return in.execMatch(fr, s.(*ast.MatchStmt))

	case ast.KindDef:
		return normal, in.execDef(fr, s.(*ast.DefStmt))

	case ast.KindReturn:
		r := s.(*ast.ReturnStmt)
		if r.Value == nil {
			return flow{kind: flowReturn, value: starlark.None}, nil
		}
		v, err := in.eval(fr, r.Value)
		if err != nil {
			return normal, err
		}
		return flow{kind: flowReturn, value: v}, nil

	case ast.KindRaise:
		return normal, in.execRaise(fr, s.(*ast.RaiseStmt))

	case ast.KindDel:
		for _, t := range s.(*ast.DelStmt).Targets {
			if err := in.delete(fr, t, t.X); err != nil {
				return normal, err
			}
		}
		return normal, nil

	case ast.KindAssert:
		a := s.(*ast.AssertStmt)
		v, err := in.eval(fr, a.Test)
		if err != nil || v.Truth() {
			return normal, err
		}
		exc := &Exception{Class: AssertionError}
		if a.Msg != nil {
			msg, err := in.eval(fr, a.Msg)
			if err != nil {
				return normal, err
			}
			exc.Args = starlark.Tuple{msg}
		}
		fr.expr = a.Test
		return normal, in.raise(exc)

	case ast.KindGlobal, ast.KindNonlocal, ast.KindPass:
		return normal, nil

	case ast.KindBreak:
		return flow{kind: flowBreak}, nil

	case ast.KindContinue:
		return flow{kind: flowContinue}, nil

	case ast.KindExit:
		return in.execExit(fr, s.(*ast.ExitStmt))
	}
	panic(fmt.Sprintf("interp: unhandled statement kind %s", s.Kind()))
}

func (in *Interp) execExit(fr *Frame, x *ast.ExitStmt) (flow, error) {
	if x.Setup != nil {
		fl, err := in.exec(fr, x.Setup)
		if err != nil || fl.kind != flowNormal {
			return fl, err
		}
	}
	sig := &ExitSignal{Value: starlark.None, Empty: true}
	if x.Value != nil {
		v, err := in.eval(fr, x.Value)
		switch {
		case err == nil:
			sig.Value, sig.Empty = v, false
		case x.Optional && isNameError(err):
		default:
			return normal, err
		}
	}
	sig.Globals = fr.globals
	sig.Locals = maps.Clone(fr.vars)
	return flow{kind: flowExit, exit: sig}, nil
}

func isNameError(err error) bool {
	exc, ok := AsException(err)
	return ok && exc.Is(NameError)
}

func (in *Interp) execWhile(fr *Frame, x *ast.WhileStmt) (flow, error) {
	for {
		if err := in.checkContext(); err != nil {
			return normal, err
		}
		cond, err := in.eval(fr, x.Cond)
		if err != nil {
			return normal, err
		}
		if !cond.Truth() {
			break
		}
		fl, err := in.execBlock(fr, x.Body)
		if err != nil {
			return normal, err
		}
		switch fl.kind {
		case flowBreak:
			return normal, nil
		case flowReturn, flowExit:
			return fl, nil
		}
	}
	return in.execBlock(fr, x.Else)
}

func (in *Interp) execFor(fr *Frame, x *ast.ForStmt) (flow, error) {
	iterable, err := in.eval(fr, x.Iter)
	if err != nil {
		return normal, err
	}
	var next func() (starlark.Value, bool, error)
	if x.Async {
		ai, ok := iterable.(AsyncIterator)
		if !ok {
			return normal, in.throw(TypeError,
				"'async for' requires an object with __aiter__ method, got %s", iterable.Type())
		}
		next = func() (starlark.Value, bool, error) {
			v, ok, err := ai.Next(in.ctx, in.thread)
			if err != nil {
				return nil, false, in.wrap(fr, err)
			}
			return v, ok, nil
		}
	} else {
		it := starlark.Iterate(iterable)
		if it == nil {
			return normal, in.throw(TypeError, "'%s' object is not iterable", iterable.Type())
		}
		defer it.Done()
		next = func() (starlark.Value, bool, error) {
			var v starlark.Value
			ok := it.Next(&v)
			return v, ok, nil
		}
	}

	for {
		if err := in.checkContext(); err != nil {
			return normal, err
		}
		fr.pos, fr.expr, fr.caret = x.Start, x.Iter, ast.Pos{}
		v, ok, err := next()
		if err != nil {
			return normal, err
		}
		if !ok {
			break
		}
		if err := in.assign(fr, x.Target, x.Target.X, v); err != nil {
			return normal, err
		}
		fl, err := in.execBlock(fr, x.Body)
		if err != nil {
			return normal, err
		}
		switch fl.kind {
		case flowBreak:
			return normal, nil
		case flowReturn, flowExit:
			return fl, nil
		}
	}
	return in.execBlock(fr, x.Else)
}

func (in *Interp) execWith(fr *Frame, x *ast.WithStmt, i int) (flow, error) {
	if i == len(x.Items) {
		return in.execBlock(fr, x.Body)
	}
	item := x.Items[i]
	v, err := in.eval(fr, item.Context)
	if err != nil {
		return normal, err
	}
	mgr, ok := v.(ContextManager)
	if !ok {
		return normal, in.throw(TypeError,
			"'%s' object does not support the context manager protocol", v.Type())
	}
	entered, err := mgr.Enter(in.ctx, in.thread)
	if err != nil {
		return normal, in.wrap(fr, err)
	}

	var fl flow
	if item.Target != nil {
		err = in.assign(fr, item.Target, item.Target.X, entered)
	}
	if err == nil {
		fl, err = in.execWith(fr, x, i+1)
	}

	var exc *Exception
	if err != nil {
		exc, _ = AsException(err)
	}
	suppress, xerr := mgr.Exit(in.ctx, in.thread, exc)
	if xerr != nil {
		return normal, in.wrap(fr, xerr)
	}
	if exc != nil && suppress {
		return normal, nil
	}
	return fl, err
}

func (in *Interp) execTry(fr *Frame, x *ast.TryStmt) (flow, error) {
	fl, err := in.execBlock(fr, x.Body)
	if err != nil {
		fl, err = in.handle(fr, x, err)
	} else if fl.kind == flowNormal {
		fl, err = in.execBlock(fr, x.Else)
	}
	if len(x.Finally) == 0 {
		return fl, err
	}

	pending, _ := AsException(err)
	if pending != nil {
		fr.handling = append(fr.handling, pending)
	}
	ffl, ferr := in.execBlock(fr, x.Finally)
	if pending != nil {
		fr.handling = fr.handling[:len(fr.handling)-1]
	}
	if ferr != nil || ffl.kind != flowNormal {
		return ffl, ferr
	}
	return fl, err
}

// handle runs the first handler matching the exception raised by a try
// body. The error is returned unchanged when no handler matches.
func (in *Interp) handle(fr *Frame, x *ast.TryStmt, err error) (flow, error) {
	exc, ok := AsException(err)
	if !ok {
		return normal, err
	}
	for _, h := range x.Handlers {
		if h.Type != nil {
			t, terr := in.eval(fr, h.Type)
			if terr != nil {
				return normal, terr
			}
			match, merr := in.matchesHandler(exc, t)
			if merr != nil {
				return normal, merr
			}
			if !match {
				continue
			}
		}
		if h.Name != "" {
			if err := in.set(fr, h.Name, exc); err != nil {
				return normal, err
			}
		}
		fr.handling = append(fr.handling, exc)
		fl, herr := in.execBlock(fr, h.Body)
		fr.handling = fr.handling[:len(fr.handling)-1]
		if h.Name != "" {
			delete(fr.vars, h.Name)
		}
		if herr != nil {
			if next, ok := AsException(herr); ok && next != exc && next.Context == nil {
				next.Context = exc
			}
		}
		return fl, herr
	}
	return normal, err
}

func (in *Interp) matchesHandler(exc *Exception, t starlark.Value) (bool, error) {
	switch t := t.(type) {
	case *ExceptionClass:
		return exc.Is(t), nil
	case starlark.Tuple:
		for _, elem := range t {
			ok, err := in.matchesHandler(exc, elem)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
	return false, in.throw(TypeError, "catching classes that do not inherit from BaseException is not allowed")
}

func (in *Interp) execRaise(fr *Frame, x *ast.RaiseStmt) error {
	var active *Exception
	if n := len(fr.handling); n > 0 {
		active = fr.handling[n-1]
	}
	if x.Exc == nil {
		if active != nil {
			return active
		}
		return in.throw(RuntimeError, "No active exception to reraise")
	}
	v, err := in.eval(fr, x.Exc)
	if err != nil {
		return err
	}
	exc, err := in.instantiate(v, "exceptions must derive from BaseException")
	if err != nil {
		return err
	}
	if x.Cause != nil {
		cv, err := in.eval(fr, x.Cause)
		if err != nil {
			return err
		}
		exc.SuppressContext = true
		if cv == starlark.None {
			exc.Cause = nil
		} else {
			cause, err := in.instantiate(cv, "exception causes must derive from BaseException")
			if err != nil {
				return err
			}
			exc.Cause = cause
		}
		fr.expr = x.Exc
	}
	if active != nil && active != exc && exc.Context == nil {
		exc.Context = active
	}
	return in.raise(exc)
}

// instantiate turns the operand of raise into an exception instance.
func (in *Interp) instantiate(v starlark.Value, msg string) (*Exception, error) {
	switch v := v.(type) {
	case *Exception:
		return v, nil
	case *ExceptionClass:
		return &Exception{Class: v}, nil
	}
	return nil, in.throw(TypeError, "%s", msg)
}

func (in *Interp) execDef(fr *Frame, d *ast.DefStmt) error {
	decorators := make([]starlark.Value, len(d.Decorators))
	for i, e := range d.Decorators {
		v, err := in.eval(fr, e)
		if err != nil {
			return err
		}
		decorators[i] = v
	}
	fn, err := in.define(fr, d)
	if err != nil {
		return err
	}
	var v starlark.Value = fn
	for i := len(decorators) - 1; i >= 0; i-- {
		fr.expr = d.Decorators[i]
		v, err = in.call(fr, d.Decorators[i], decorators[i], starlark.Tuple{v})
		if err != nil {
			return err
		}
	}
	return in.set(fr, d.Name, v)
}

func (in *Interp) execImport(fr *Frame, x *ast.ImportStmt) error {
	for _, a := range x.Names {
		mod, err := in.importModule(fr, a.Name)
		if err != nil {
			return err
		}
		if a.AsName == "" {
			mod = nestModule(a.Name, mod)
		}
		if err := in.set(fr, a.Bound(), mod); err != nil {
			return err
		}
	}
	return nil
}

// nestModule wraps the module a.b.c so that binding a exposes it as a.b.c.
func nestModule(name string, mod starlark.Value) starlark.Value {
	parts := strings.Split(name, ".")
	for i := len(parts) - 1; i > 0; i-- {
		mod = &starlarkstruct.Module{
			Name:    strings.Join(parts[:i], "."),
			Members: starlark.StringDict{parts[i]: mod},
		}
	}
	return mod
}

func (in *Interp) execImportFrom(fr *Frame, x *ast.ImportFromStmt) error {
	mod, err := in.importModule(fr, x.Module)
	if err != nil {
		return err
	}
	attrs, _ := mod.(starlark.HasAttrs)
	if x.Star {
		if attrs == nil {
			return nil
		}
		for _, name := range attrs.AttrNames() {
			if strings.HasPrefix(name, "_") {
				continue
			}
			v, err := attrs.Attr(name)
			if err != nil {
				return in.wrap(fr, err)
			}
			if err := in.set(fr, name, v); err != nil {
				return err
			}
		}
		return nil
	}
	for _, a := range x.Names {
		var v starlark.Value
		if attrs != nil {
			if v, err = attrs.Attr(a.Name); err != nil {
				return in.wrap(fr, err)
			}
		}
		if v == nil {
			return in.throw(ImportError, "cannot import name '%s' from '%s'", a.Name, x.Module)
		}
		if err := in.set(fr, a.Bound(), v); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interp) importModule(fr *Frame, name string) (starlark.Value, error) {
	if in.cfg.Importer == nil {
		return nil, in.throw(ModuleNotFoundError, "No module named '%s'", name)
	}
	mod, err := in.cfg.Importer.Import(in.ctx, in.thread, name)
	if err != nil {
		if exc, ok := AsException(err); ok {
			return nil, in.raise(exc)
		}
		exc := NewException(ImportError, "cannot import '%s': %s", name, err)
		exc.err = err
		return nil, in.raise(exc)
	}
	in.logger.Debug("Module imported", "name", name)
	return mod, nil
}
