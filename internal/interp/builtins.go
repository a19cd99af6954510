package interp

import (
	"math"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/robbyt/go-aeval/internal/parser"
)

// Builtins returns the names every snippet sees in addition to the Starlark
// universe: the exception classes, a few Python builtins Starlark lacks and
// the async helpers.
func Builtins() starlark.StringDict {
	d := starlark.StringDict{
		"abs":         starlark.NewBuiltin("abs", abs),
		"sum":         starlark.NewBuiltin("sum", sum),
		"isinstance":  starlark.NewBuiltin("isinstance", isinstance),
		"globals":     starlark.NewBuiltin("globals", globals),
		"locals":      starlark.NewBuiltin("locals", locals),
		"sleep":       starlark.NewBuiltin("sleep", sleep),
		"gather":      starlark.NewBuiltin("gather", gather),
		"aiter":       starlark.NewBuiltin("aiter", aiter),
		"suppress":    starlark.NewBuiltin("suppress", suppress),
		"nullcontext": starlark.NewBuiltin("nullcontext", nullcontext),

		parser.AwaitBuiltin: starlark.NewBuiltin(parser.AwaitBuiltin, await),
	}
	for _, c := range builtinClasses {
		d[c.name] = c
	}
	return d
}

func abs(
	_ *starlark.Thread,
	b *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	switch x := x.(type) {
	case starlark.Int:
		if x.Sign() < 0 {
			return starlark.Unary(syntax.MINUS, x)
		}
		return x, nil
	case starlark.Float:
		return starlark.Float(math.Abs(float64(x))), nil
	}
	return nil, NewException(TypeError, "bad operand type for abs(): '%s'", x.Type())
}

func sum(
	_ *starlark.Thread,
	b *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var iterable starlark.Iterable
	var acc starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &acc); err != nil {
		return nil, err
	}
	it := iterable.Iterate()
	defer it.Done()
	var x starlark.Value
	for it.Next(&x) {
		v, err := starlark.Binary(syntax.PLUS, acc, x)
		if err != nil {
			return nil, err
		}
		acc = v
	}
	return acc, nil
}

func isinstance(
	_ *starlark.Thread,
	b *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var obj, classinfo starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &obj, &classinfo); err != nil {
		return nil, err
	}
	ok, err := instanceOf(obj, classinfo)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(ok), nil
}

func instanceOf(obj, classinfo starlark.Value) (bool, error) {
	switch c := classinfo.(type) {
	case *ExceptionClass:
		exc, ok := obj.(*Exception)
		return ok && exc.Is(c), nil
	case starlark.Tuple:
		for _, elem := range c {
			ok, err := instanceOf(obj, elem)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	case *starlark.Builtin:
		name := c.Name()
		if name == "int" && obj.Type() == "bool" {
			return true, nil
		}
		return obj.Type() == name, nil
	}
	return false, NewException(TypeError, "isinstance() arg 2 must be a type or tuple of types")
}

func globals(
	thread *starlark.Thread,
	b *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	in, ok := FromThread(thread)
	if !ok || in.current() == nil {
		return starlark.NewDict(0), nil
	}
	return toDict(in.current().globals)
}

func locals(
	thread *starlark.Thread,
	b *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	in, ok := FromThread(thread)
	if !ok || in.current() == nil {
		return starlark.NewDict(0), nil
	}
	return toDict(in.current().vars)
}

func toDict(vars starlark.StringDict) (*starlark.Dict, error) {
	d := starlark.NewDict(len(vars))
	for _, name := range vars.Keys() {
		if err := d.SetKey(starlark.String(name), vars[name]); err != nil {
			return nil, err
		}
	}
	return d, nil
}
