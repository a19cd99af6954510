package interp

import (
	"go.starlark.net/starlark"

	"github.com/robbyt/go-aeval/internal/ast"
)

func (in *Interp) execMatch(fr *Frame, x *ast.MatchStmt) (flow, error) {
	subject, err := in.eval(fr, x.Subject)
	if err != nil {
		return normal, err
	}
	for _, c := range x.Cases {
		binds := make(map[string]starlark.Value)
		ok, err := in.match(fr, c.Pattern, subject, binds)
		if err != nil {
			return normal, err
		}
		if !ok {
			continue
		}
		for name, v := range binds {
			if err := in.set(fr, name, v); err != nil {
				return normal, err
			}
		}
		if c.Guard != nil {
			g, err := in.eval(fr, c.Guard)
			if err != nil {
				return normal, err
			}
			if !g.Truth() {
				continue
			}
		}
		return in.execBlock(fr, c.Body)
	}
	return normal, nil
}

// match reports whether subject matches p, collecting captures in binds.
func (in *Interp) match(fr *Frame, p ast.Pattern, subject starlark.Value, binds map[string]starlark.Value) (bool, error) {
	switch p := p.(type) {
	case *ast.WildcardPattern:
		return true, nil

	case *ast.CapturePattern:
		binds[p.Name] = subject
		return true, nil

	case *ast.ValuePattern:
		v, err := in.eval(fr, p.Value)
		if err != nil {
			return false, err
		}
		eq, err := starlark.Equal(subject, v)
		if err != nil {
			return false, in.wrap(fr, err)
		}
		return eq, nil

	case *ast.AsPattern:
		ok, err := in.match(fr, p.Pattern, subject, binds)
		if ok {
			binds[p.Name] = subject
		}
		return ok, err

	case *ast.OrPattern:
		for _, alt := range p.Alts {
			sub := make(map[string]starlark.Value)
			ok, err := in.match(fr, alt, subject, sub)
			if err != nil {
				return false, err
			}
			if ok {
				for k, v := range sub {
					binds[k] = v
				}
				return true, nil
			}
		}
		return false, nil

	case *ast.SequencePattern:
		return in.matchSequence(fr, p, subject, binds)

	case *ast.MappingPattern:
		return in.matchMapping(fr, p, subject, binds)
	}
	return false, in.throw(TypeError, "unsupported pattern %T", p)
}

func (in *Interp) matchSequence(
	fr *Frame,
	p *ast.SequencePattern,
	subject starlark.Value,
	binds map[string]starlark.Value,
) (bool, error) {
	var items []starlark.Value
	switch s := subject.(type) {
	case starlark.Tuple:
		items = s
	case *starlark.List:
		items = make([]starlark.Value, s.Len())
		for i := range items {
			items[i] = s.Index(i)
		}
	default:
		return false, nil
	}

	star := -1
	for i, e := range p.Elems {
		if _, ok := e.(*ast.StarPattern); ok {
			star = i
		}
	}
	if star < 0 {
		if len(items) != len(p.Elems) {
			return false, nil
		}
		return in.matchAll(fr, p.Elems, items, binds)
	}

	after := len(p.Elems) - star - 1
	if len(items) < star+after {
		return false, nil
	}
	ok, err := in.matchAll(fr, p.Elems[:star], items[:star], binds)
	if err != nil || !ok {
		return false, err
	}
	rest := len(items) - after
	ok, err = in.matchAll(fr, p.Elems[star+1:], items[rest:], binds)
	if err != nil || !ok {
		return false, err
	}
	if name := p.Elems[star].(*ast.StarPattern).Name; name != "" {
		binds[name] = starlark.NewList(append([]starlark.Value(nil), items[star:rest]...))
	}
	return true, nil
}

func (in *Interp) matchAll(fr *Frame, pats []ast.Pattern, items []starlark.Value, binds map[string]starlark.Value) (bool, error) {
	for i, sub := range pats {
		ok, err := in.match(fr, sub, items[i], binds)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (in *Interp) matchMapping(
	fr *Frame,
	p *ast.MappingPattern,
	subject starlark.Value,
	binds map[string]starlark.Value,
) (bool, error) {
	m, ok := subject.(starlark.IterableMapping)
	if !ok {
		return false, nil
	}
	used := make([]starlark.Value, 0, len(p.Keys))
	for i, ke := range p.Keys {
		k, err := in.eval(fr, ke)
		if err != nil {
			return false, err
		}
		v, found, err := m.Get(k)
		if err != nil {
			return false, in.wrap(fr, err)
		}
		if !found {
			return false, nil
		}
		ok, err := in.match(fr, p.Values[i], v, binds)
		if err != nil || !ok {
			return false, err
		}
		used = append(used, k)
	}
	if p.Rest == "" {
		return true, nil
	}
	rest := starlark.NewDict(0)
	for _, item := range m.Items() {
		skip := false
		for _, k := range used {
			if eq, _ := starlark.Equal(item[0], k); eq {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if err := rest.SetKey(item[0], item[1]); err != nil {
			return false, in.wrap(fr, err)
		}
	}
	binds[p.Rest] = rest
	return true, nil
}
