package ast

import "go.starlark.net/syntax"

// Blocks returns the statement lists nested directly in s, including the
// body of a def.
func Blocks(s Stmt) [][]Stmt {
	switch s := s.(type) {
	case *IfStmt:
		return [][]Stmt{s.Body, s.Else}
	case *ForStmt:
		return [][]Stmt{s.Body, s.Else}
	case *WhileStmt:
		return [][]Stmt{s.Body, s.Else}
	case *WithStmt:
		return [][]Stmt{s.Body}
	case *TryStmt:
		blocks := [][]Stmt{s.Body}
		for _, h := range s.Handlers {
			blocks = append(blocks, h.Body)
		}
		return append(blocks, s.Else, s.Finally)
	case *MatchStmt:
		blocks := make([][]Stmt, 0, len(s.Cases))
		for _, c := range s.Cases {
			blocks = append(blocks, c.Body)
		}
		return blocks
	case *DefStmt:
		return [][]Stmt{s.Body}
	case *ExitStmt:
		if s.Setup != nil {
			return [][]Stmt{{s.Setup}}
		}
	}
	return nil
}

// Walk calls fn for every statement in body in source order. When fn returns
// false the statements nested in that statement are skipped.
func Walk(body []Stmt, fn func(Stmt) bool) {
	for _, s := range body {
		if !fn(s) {
			continue
		}
		for _, b := range Blocks(s) {
			Walk(b, fn)
		}
	}
}

// Scope is the static name resolution of a function body.
type Scope struct {
	Locals    map[string]bool
	Globals   map[string]bool
	Nonlocals map[string]bool
}

// IsLocal reports whether name is bound in the function's own frame.
func (sc *Scope) IsLocal(name string) bool {
	return sc != nil && sc.Locals[name]
}

// Analyze computes the scope of a function with the given parameter names
// and body. Nested defs contribute only their own name.
func Analyze(params []string, body []Stmt) *Scope {
	sc := &Scope{
		Locals:    make(map[string]bool),
		Globals:   make(map[string]bool),
		Nonlocals: make(map[string]bool),
	}
	for _, p := range params {
		sc.Locals[p] = true
	}
	bind := func(names ...string) {
		for _, n := range names {
			sc.Locals[n] = true
		}
	}
	Walk(body, func(s Stmt) bool {
		switch s := s.(type) {
		case *AssignStmt:
			for _, t := range s.Targets {
				bind(TargetNames(t.X)...)
			}
		case *AugAssignStmt:
			bind(TargetNames(s.Target.X)...)
		case *AnnAssignStmt:
			bind(TargetNames(s.Target.X)...)
		case *TypeAliasStmt:
			bind(TargetNames(s.Name.X)...)
		case *ImportStmt:
			for _, a := range s.Names {
				bind(a.Bound())
			}
		case *ImportFromStmt:
			for _, a := range s.Names {
				bind(a.Bound())
			}
		case *ForStmt:
			bind(TargetNames(s.Target.X)...)
		case *WithStmt:
			for _, item := range s.Items {
				if item.Target != nil {
					bind(TargetNames(item.Target.X)...)
				}
			}
		case *TryStmt:
			for _, h := range s.Handlers {
				if h.Name != "" {
					bind(h.Name)
				}
			}
		case *MatchStmt:
			for _, c := range s.Cases {
				bind(PatternNames(c.Pattern)...)
			}
		case *DelStmt:
			for _, t := range s.Targets {
				bind(TargetNames(t.X)...)
			}
		case *DefStmt:
			bind(s.Name)
			return false
		case *GlobalStmt:
			for _, n := range s.Names {
				sc.Globals[n] = true
			}
		case *NonlocalStmt:
			for _, n := range s.Names {
				sc.Nonlocals[n] = true
			}
		}
		return true
	})
	for n := range sc.Globals {
		delete(sc.Locals, n)
	}
	for n := range sc.Nonlocals {
		delete(sc.Locals, n)
	}
	return sc
}

// TargetNames returns the identifiers an assignment target binds.
func TargetNames(x syntax.Expr) []string {
	switch x := x.(type) {
	case *syntax.Ident:
		return []string{x.Name}
	case *syntax.ParenExpr:
		return TargetNames(x.X)
	case *syntax.TupleExpr:
		return listNames(x.List)
	case *syntax.ListExpr:
		return listNames(x.List)
	}
	return nil
}

func listNames(list []syntax.Expr) []string {
	var names []string
	for _, x := range list {
		names = append(names, TargetNames(x)...)
	}
	return names
}

// Exprs returns the expressions owned directly by s, excluding those of
// nested statement blocks and def bodies.
func Exprs(s Stmt) []*Expr {
	var out []*Expr
	add := func(es ...*Expr) {
		for _, e := range es {
			if e != nil {
				out = append(out, e)
			}
		}
	}
	switch s := s.(type) {
	case *ExprStmt:
		add(s.X)
	case *AssignStmt:
		add(s.Targets...)
		add(s.Value)
	case *AugAssignStmt:
		add(s.Target, s.Value)
	case *AnnAssignStmt:
		add(s.Target, s.Value)
	case *TypeAliasStmt:
		add(s.Name, s.Value)
	case *IfStmt:
		add(s.Cond)
	case *ForStmt:
		add(s.Target, s.Iter)
	case *WhileStmt:
		add(s.Cond)
	case *WithStmt:
		for _, item := range s.Items {
			add(item.Context, item.Target)
		}
	case *TryStmt:
		for _, h := range s.Handlers {
			add(h.Type)
		}
	case *MatchStmt:
		add(s.Subject)
		for _, c := range s.Cases {
			add(c.Guard)
		}
	case *DefStmt:
		add(s.Decorators...)
		for _, prm := range s.Params {
			add(prm.Default)
		}
	case *ReturnStmt:
		add(s.Value)
	case *RaiseStmt:
		add(s.Exc, s.Cause)
	case *DelStmt:
		add(s.Targets...)
	case *AssertStmt:
		add(s.Test, s.Msg)
	case *ExitStmt:
		add(s.Value)
	}
	return out
}
