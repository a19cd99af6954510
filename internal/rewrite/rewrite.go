// Package rewrite transforms a parsed snippet so that running it ends in
// exactly one exit statement carrying the value of its last meaningful
// construct. Def bodies are never entered.
package rewrite

import (
	"fmt"

	"go.starlark.net/syntax"

	"github.com/robbyt/go-aeval/internal/ast"
)

// Module rewrites the top-level body of a snippet. Every return outside a
// def becomes an exit, the terminal statement is transformed to exit with
// its value, and an empty exit is appended as the fallback.
func Module(body []ast.Stmt) []ast.Stmt {
	patchReturns(body)
	if n := len(body); n > 0 {
		body[n-1] = Terminal(body[n-1])
	}
	end := ast.Pos{Line: 1, Col: 1}
	if n := len(body); n > 0 {
		_, end = body[n-1].Span()
	}
	return append(body, &ast.ExitStmt{Node: ast.Node{Start: end, End: end}})
}

// Terminal transforms a statement in terminal position. Compound statements
// recurse into the last statement of the branches that can end execution.
func Terminal(s ast.Stmt) ast.Stmt {
	switch s.Kind() {
	case ast.KindExpr:
		x := s.(*ast.ExprStmt)
		return &ast.ExitStmt{Node: x.Node, Value: x.X}

	case ast.KindAssign:
		return exitAssign(s.(*ast.AssignStmt))

	case ast.KindAugAssign:
		a := s.(*ast.AugAssignStmt)
		op, ok := ast.BinaryOp(a.Op)
		if !ok {
			return s
		}
		bin := &syntax.BinaryExpr{X: ast.CloneLoad(a.Target.X), Op: op, Y: a.Value.X}
		value := ast.Synthesize(bin, a.Target.Start, a.Value.End)
		return exitAssign(&ast.AssignStmt{Node: a.Node, Targets: []*ast.Expr{a.Target}, Value: value})

	case ast.KindAnnAssign:
		a := s.(*ast.AnnAssignStmt)
		if a.Value == nil {
			return s
		}
		return exitAssign(&ast.AssignStmt{Node: a.Node, Targets: []*ast.Expr{a.Target}, Value: a.Value})

	case ast.KindTypeAlias:
		t := s.(*ast.TypeAliasStmt)
		return exitAssign(&ast.AssignStmt{Node: t.Node, Targets: []*ast.Expr{t.Name}, Value: t.Value})

	case ast.KindImport:
		imp := s.(*ast.ImportStmt)
		return exitNames(s, imp.Node, imp.Names)

	case ast.KindImportFrom:
		imp := s.(*ast.ImportFromStmt)
		if imp.Star {
			return s
		}
		return exitNames(s, imp.Node, imp.Names)

	case ast.KindIf:
		x := s.(*ast.IfStmt)
		terminalLast(x.Body)
		terminalLast(x.Else)
		return s

	case ast.KindFor:
		x := s.(*ast.ForStmt)
		if len(x.Else) > 0 {
			terminalLast(x.Else)
			return s
		}
		x.Else = []ast.Stmt{&ast.ExitStmt{
			Node:     ast.Node{Start: x.Target.Start, End: x.Target.End},
			Value:    x.Target.WithX(ast.CloneLoad(x.Target.X)),
			Optional: true,
		}}
		return s

	case ast.KindWhile:
		terminalLast(s.(*ast.WhileStmt).Else)
		return s

	case ast.KindWith:
		terminalLast(s.(*ast.WithStmt).Body)
		return s

	case ast.KindTry:
		x := s.(*ast.TryStmt)
		switch {
		case len(x.Finally) > 0:
			terminalLast(x.Finally)
		case len(x.Else) > 0:
			terminalLast(x.Else)
		default:
			terminalLast(x.Body)
			for _, h := range x.Handlers {
				terminalLast(h.Body)
			}
		}
		return s

	case ast.KindMatch:
		for _, c := range s.(*ast.MatchStmt).Cases {
			terminalLast(c.Body)
		}
		return s

	case ast.KindDef, ast.KindReturn, ast.KindRaise, ast.KindDel, ast.KindAssert,
		ast.KindGlobal, ast.KindNonlocal, ast.KindPass, ast.KindBreak, ast.KindContinue,
		ast.KindExit:
		return s
	}
	panic(fmt.Sprintf("rewrite: unhandled statement kind %s", s.Kind()))
}

func terminalLast(block []ast.Stmt) {
	if n := len(block); n > 0 {
		block[n-1] = Terminal(block[n-1])
	}
}

// exitAssign keeps the assignment as setup and exits with its targets read
// back: the target itself, or a tuple of all targets in order.
func exitAssign(a *ast.AssignStmt) ast.Stmt {
	var value *ast.Expr
	if len(a.Targets) == 1 {
		t := a.Targets[0]
		value = t.WithX(ast.CloneLoad(t.X))
	} else {
		list := make([]syntax.Expr, len(a.Targets))
		for i, t := range a.Targets {
			list[i] = ast.CloneLoad(t.X)
		}
		last := a.Targets[len(a.Targets)-1]
		value = ast.Synthesize(&syntax.TupleExpr{List: list}, a.Targets[0].Start, last.End)
	}
	return &ast.ExitStmt{Node: a.Node, Setup: a, Value: value}
}

func exitNames(s ast.Stmt, node ast.Node, names []ast.Alias) ast.Stmt {
	list := make([]syntax.Expr, len(names))
	for i, a := range names {
		list[i] = &syntax.Ident{Name: a.Bound()}
	}
	var x syntax.Expr = &syntax.TupleExpr{List: list}
	if len(list) == 1 {
		x = list[0]
	}
	return &ast.ExitStmt{Node: node, Setup: s, Value: ast.Synthesize(x, node.Start, node.End)}
}

// patchReturns replaces every return outside a def with an exit carrying
// the returned value.
func patchReturns(block []ast.Stmt) {
	for i, s := range block {
		switch s.Kind() {
		case ast.KindReturn:
			r := s.(*ast.ReturnStmt)
			block[i] = &ast.ExitStmt{Node: r.Node, Value: r.Value}
		case ast.KindDef:
		default:
			for _, b := range ast.Blocks(s) {
				patchReturns(b)
			}
		}
	}
}

// IsAsync reports whether the top level of body, outside defs, awaits or
// uses async for or async with.
func IsAsync(body []ast.Stmt) bool {
	async := false
	ast.Walk(body, func(s ast.Stmt) bool {
		if async {
			return false
		}
		switch s := s.(type) {
		case *ast.DefStmt:
			for _, e := range ast.Exprs(s) {
				async = async || e.Await
			}
			return false
		case *ast.ForStmt:
			async = async || s.Async
		case *ast.WithStmt:
			async = async || s.Async
		}
		for _, e := range ast.Exprs(s) {
			async = async || e.Await
		}
		return !async
	})
	return async
}
