package interp

import (
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/robbyt/go-aeval/internal/ast"
)

// assign stores v into the target x, a node of e.
func (in *Interp) assign(fr *Frame, e *ast.Expr, x syntax.Expr, v starlark.Value) error {
	switch x := x.(type) {
	case *syntax.Ident:
		return in.set(fr, x.Name, v)

	case *syntax.ParenExpr:
		return in.assign(fr, e, x.X, v)

	case *syntax.TupleExpr:
		return in.unpack(fr, e, x.List, v)

	case *syntax.ListExpr:
		return in.unpack(fr, e, x.List, v)

	case *syntax.IndexExpr:
		obj, err := in.evalNode(fr, e, x.X)
		if err != nil {
			return err
		}
		key, err := in.evalNode(fr, e, x.Y)
		if err != nil {
			return err
		}
		fr.expr = e
		return in.setIndex(fr, obj, key, v)

	case *syntax.DotExpr:
		obj, err := in.evalNode(fr, e, x.X)
		if err != nil {
			return err
		}
		fr.expr = e
		setter, ok := obj.(starlark.HasSetField)
		if !ok {
			return in.throw(AttributeError, "'%s' object has no attribute '%s'", obj.Type(), x.Name.Name)
		}
		if err := setter.SetField(x.Name.Name, v); err != nil {
			return in.wrap(fr, err)
		}
		return nil
	}
	fr.expr = e
	return in.throw(TypeError, "cannot assign to %T", x)
}

func (in *Interp) setIndex(fr *Frame, obj, key, v starlark.Value) error {
	switch c := obj.(type) {
	case starlark.HasSetKey:
		if err := c.SetKey(key, v); err != nil {
			return in.wrap(fr, err)
		}
		return nil
	case starlark.HasSetIndex:
		i, err := in.index(c.Len(), key, "list assignment index out of range")
		if err != nil {
			return err
		}
		if err := c.SetIndex(i, v); err != nil {
			return in.wrap(fr, err)
		}
		return nil
	}
	return in.throw(TypeError, "'%s' object does not support item assignment", obj.Type())
}

// index normalizes a possibly negative index against a sequence length.
func (in *Interp) index(n int, key starlark.Value, outOfRange string) (int, error) {
	i, err := starlark.AsInt32(key)
	if err != nil {
		return 0, in.throw(TypeError, "indices must be integers, not %s", key.Type())
	}
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, in.throw(IndexError, "%s", outOfRange)
	}
	return i, nil
}

func (in *Interp) unpack(fr *Frame, e *ast.Expr, targets []syntax.Expr, v starlark.Value) error {
	items, err := in.items(v)
	if err != nil {
		return err
	}
	switch {
	case len(items) > len(targets):
		return in.throw(ValueError, "too many values to unpack (expected %d)", len(targets))
	case len(items) < len(targets):
		return in.throw(ValueError, "not enough values to unpack (expected %d, got %d)", len(targets), len(items))
	}
	for i, t := range targets {
		if err := in.assign(fr, e, t, items[i]); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interp) items(v starlark.Value) ([]starlark.Value, error) {
	if t, ok := v.(starlark.Tuple); ok {
		return t, nil
	}
	it := starlark.Iterate(v)
	if it == nil {
		return nil, in.throw(TypeError, "cannot unpack non-iterable %s object", v.Type())
	}
	defer it.Done()
	var out []starlark.Value
	var x starlark.Value
	for it.Next(&x) {
		out = append(out, x)
	}
	return out, nil
}

func (in *Interp) augAssign(fr *Frame, a *ast.AugAssignStmt) error {
	cur, err := in.eval(fr, a.Target)
	if err != nil {
		return err
	}
	rhs, err := in.eval(fr, a.Value)
	if err != nil {
		return err
	}
	fr.expr = a.Value
	var v starlark.Value
	if list, ok := cur.(*starlark.List); ok && a.Op == "+" {
		items, err := in.items(rhs)
		if err != nil {
			return err
		}
		for _, x := range items {
			if err := list.Append(x); err != nil {
				return in.wrap(fr, err)
			}
		}
		v = list
	} else {
		op, ok := ast.BinaryOp(a.Op)
		if !ok {
			return in.throw(TypeError, "unsupported operator '%s='", a.Op)
		}
		if v, err = starlark.Binary(op, cur, rhs); err != nil {
			return in.wrap(fr, err)
		}
	}
	return in.assign(fr, a.Target, a.Target.X, v)
}

// delete removes the binding named by x, a node of e.
func (in *Interp) delete(fr *Frame, e *ast.Expr, x syntax.Expr) error {
	fr.expr = e
	switch x := x.(type) {
	case *syntax.Ident:
		return in.unset(fr, x.Name)

	case *syntax.ParenExpr:
		return in.delete(fr, e, x.X)

	case *syntax.TupleExpr:
		for _, t := range x.List {
			if err := in.delete(fr, e, t); err != nil {
				return err
			}
		}
		return nil

	case *syntax.ListExpr:
		for _, t := range x.List {
			if err := in.delete(fr, e, t); err != nil {
				return err
			}
		}
		return nil

	case *syntax.IndexExpr:
		obj, err := in.evalNode(fr, e, x.X)
		if err != nil {
			return err
		}
		key, err := in.evalNode(fr, e, x.Y)
		if err != nil {
			return err
		}
		switch c := obj.(type) {
		case *starlark.Dict:
			_, found, err := c.Delete(key)
			if err != nil {
				return in.wrap(fr, err)
			}
			if !found {
				return in.raise(&Exception{Class: KeyError, Args: starlark.Tuple{key}})
			}
			return nil
		case *starlark.List:
			i, err := in.index(c.Len(), key, "list assignment index out of range")
			if err != nil {
				return err
			}
			pop, err := c.Attr("pop")
			if err != nil {
				return in.wrap(fr, err)
			}
			_, err = in.call(fr, e, pop, starlark.Tuple{starlark.MakeInt(i)})
			return err
		}
		return in.throw(TypeError, "'%s' object does not support item deletion", obj.Type())
	}
	return in.throw(TypeError, "cannot delete %T", x)
}
