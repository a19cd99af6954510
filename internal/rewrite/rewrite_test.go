package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/syntax"

	"github.com/robbyt/go-aeval/internal/ast"
	"github.com/robbyt/go-aeval/internal/parser"
)

func parse(t *testing.T, src string) []ast.Stmt {
	t.Helper()
	body, err := parser.Parse("<rewrite test>", src)
	require.NoError(t, err)
	return body
}

func requireExit(t *testing.T, s ast.Stmt) *ast.ExitStmt {
	t.Helper()
	exit, ok := s.(*ast.ExitStmt)
	require.True(t, ok, "want exit, got %s", s.Kind())
	return exit
}

func identNames(t *testing.T, x syntax.Expr) []string {
	t.Helper()
	switch x := x.(type) {
	case *syntax.Ident:
		return []string{x.Name}
	case *syntax.TupleExpr:
		var names []string
		for _, e := range x.List {
			names = append(names, identNames(t, e)...)
		}
		return names
	}
	require.Failf(t, "unexpected expression", "%T", x)
	return nil
}

func TestModuleAppendsFallbackExit(t *testing.T) {
	t.Parallel()

	body := Module(parse(t, "x = 1\npass"))
	require.Len(t, body, 3)
	assert.Equal(t, ast.KindPass, body[1].Kind())

	exit := requireExit(t, body[2])
	assert.Nil(t, exit.Value)
	assert.Nil(t, exit.Setup)
}

func TestTerminalExpressions(t *testing.T) {
	t.Parallel()

	t.Run("expression", func(t *testing.T) {
		body := Module(parse(t, "1 + 1"))
		exit := requireExit(t, body[0])
		assert.IsType(t, &syntax.BinaryExpr{}, exit.Value.X)
	})

	t.Run("assignment reads its target back", func(t *testing.T) {
		body := Module(parse(t, "x = 5"))
		exit := requireExit(t, body[0])
		require.NotNil(t, exit.Setup)
		assert.Equal(t, ast.KindAssign, exit.Setup.Kind())
		assert.Equal(t, []string{"x"}, identNames(t, exit.Value.X))
	})

	t.Run("chained assignment yields every target", func(t *testing.T) {
		body := Module(parse(t, "a = b = 7"))
		exit := requireExit(t, body[0])
		assert.IsType(t, &syntax.TupleExpr{}, exit.Value.X)
		assert.Equal(t, []string{"a", "b"}, identNames(t, exit.Value.X))
	})

	t.Run("unpacking target is read back", func(t *testing.T) {
		body := Module(parse(t, "a, b = 1, 2"))
		exit := requireExit(t, body[0])
		assert.Equal(t, []string{"a", "b"}, identNames(t, exit.Value.X))
	})

	t.Run("augmented assignment", func(t *testing.T) {
		body := Module(parse(t, "n += 1"))
		exit := requireExit(t, body[0])
		setup, ok := exit.Setup.(*ast.AssignStmt)
		require.True(t, ok)
		assert.IsType(t, &syntax.BinaryExpr{}, setup.Value.X)
		assert.Equal(t, []string{"n"}, identNames(t, exit.Value.X))
	})

	t.Run("annotation without value is kept", func(t *testing.T) {
		body := Module(parse(t, "x: int"))
		assert.Equal(t, ast.KindAnnAssign, body[0].Kind())
	})

	t.Run("imports yield the bound names", func(t *testing.T) {
		body := Module(parse(t, "from json import encode as e, decode"))
		exit := requireExit(t, body[0])
		assert.Equal(t, []string{"e", "decode"}, identNames(t, exit.Value.X))

		body = Module(parse(t, "import json"))
		exit = requireExit(t, body[0])
		assert.Equal(t, []string{"json"}, identNames(t, exit.Value.X))
	})
}

func TestTerminalCompound(t *testing.T) {
	t.Parallel()

	t.Run("if branches", func(t *testing.T) {
		body := Module(parse(t, "if x:\n    1\nelse:\n    y = 2"))
		ifStmt, ok := body[0].(*ast.IfStmt)
		require.True(t, ok)
		requireExit(t, ifStmt.Body[0])
		requireExit(t, ifStmt.Else[0])
	})

	t.Run("for without else exits with the target", func(t *testing.T) {
		body := Module(parse(t, "for i in [1, 2, 3]:\n    pass"))
		forStmt, ok := body[0].(*ast.ForStmt)
		require.True(t, ok)
		assert.Equal(t, ast.KindPass, forStmt.Body[0].Kind(), "loop body is not the terminal")
		require.Len(t, forStmt.Else, 1)
		exit := requireExit(t, forStmt.Else[0])
		assert.True(t, exit.Optional)
		assert.Equal(t, []string{"i"}, identNames(t, exit.Value.X))
	})

	t.Run("for with else", func(t *testing.T) {
		body := Module(parse(t, "for i in r:\n    pass\nelse:\n    'done'"))
		forStmt := body[0].(*ast.ForStmt)
		exit := requireExit(t, forStmt.Else[0])
		assert.False(t, exit.Optional)
	})

	t.Run("try picks finally first", func(t *testing.T) {
		body := Module(parse(t, "try:\n    1\nexcept ValueError:\n    2\nfinally:\n    3"))
		tryStmt := body[0].(*ast.TryStmt)
		assert.Equal(t, ast.KindExpr, tryStmt.Body[0].Kind())
		assert.Equal(t, ast.KindExpr, tryStmt.Handlers[0].Body[0].Kind())
		requireExit(t, tryStmt.Finally[0])
	})

	t.Run("try body and handlers", func(t *testing.T) {
		body := Module(parse(t, "try:\n    1\nexcept ValueError:\n    2"))
		tryStmt := body[0].(*ast.TryStmt)
		requireExit(t, tryStmt.Body[0])
		requireExit(t, tryStmt.Handlers[0].Body[0])
	})

	t.Run("with body", func(t *testing.T) {
		body := Module(parse(t, "with nullcontext(1) as v:\n    v"))
		withStmt := body[0].(*ast.WithStmt)
		requireExit(t, withStmt.Body[0])
	})

	t.Run("def is not entered", func(t *testing.T) {
		body := Module(parse(t, "def f():\n    return 1"))
		def, ok := body[0].(*ast.DefStmt)
		require.True(t, ok)
		assert.Equal(t, ast.KindReturn, def.Body[0].Kind())
		requireExit(t, body[1])
	})
}

func TestTopLevelReturns(t *testing.T) {
	t.Parallel()

	body := Module(parse(t, "for i in r:\n    if i:\n        return i\ni"))
	forStmt := body[0].(*ast.ForStmt)
	ifStmt := forStmt.Body[0].(*ast.IfStmt)
	exit := requireExit(t, ifStmt.Body[0])
	assert.Equal(t, []string{"i"}, identNames(t, exit.Value.X))
}

func TestTerminalHandlesEveryKind(t *testing.T) {
	t.Parallel()

	srcs := []string{
		"del x", "assert x", "global g", "raise ValueError()", "pass",
		"while x:\n    break", "match x:\n    case 1:\n        2",
	}
	for _, src := range srcs {
		assert.NotPanics(t, func() { Module(parse(t, src)) }, src)
	}
}

func TestIsAsync(t *testing.T) {
	t.Parallel()

	tests := []struct {
		src  string
		want bool
	}{
		{src: "1 + 1", want: false},
		{src: "await sleep(0)", want: true},
		{src: "x = [await sleep(0)]", want: true},
		{src: "if x:\n    await sleep(0)", want: true},
		{src: "async def f():\n    await sleep(0)", want: false},
		{src: "async for x in aiter([1]):\n    pass", want: true},
		{src: "async with nullcontext() as c:\n    pass", want: true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsAsync(Module(parse(t, tt.src))), tt.src)
	}
}
