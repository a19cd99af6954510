package parser

import (
	"errors"
	"sort"
	"strings"
	"unicode/utf8"

	"go.starlark.net/syntax"

	"github.com/robbyt/go-aeval/internal/ast"
)

// AwaitBuiltin is the name await expressions are rewritten to call.
const AwaitBuiltin = "__await__"

var exprOptions = &syntax.FileOptions{}

type edit struct {
	off, end int
	text     string
}

// parseRange parses toks[from:to] as one expression. Token-level rewrites
// (await, identity operators, line continuations) are applied first and the
// resulting positions are mapped back to the snippet.
func (p *parser) parseRange(from, to int) (*ast.Expr, error) {
	if from >= to {
		return nil, p.errorAt(p.toks[from], "invalid syntax")
	}
	first, last := p.toks[from], p.toks[to-1]
	base := first.off
	source := p.src[first.off:last.endOff]
	buf := []byte(source)

	var edits []edit
	hasAwait := false
	for j := from; j < to; j++ {
		t := p.toks[j]
		if j > from {
			for k := p.toks[j-1].endOff; k < t.off; k++ {
				if p.src[k] == '\\' {
					buf[k-base] = ' '
				}
			}
		}
		if t.kind != tokName {
			continue
		}
		switch t.text {
		case "await":
			if !p.fn().async {
				return nil, p.errorAt(t, "'await' outside async function")
			}
			end, err := p.primaryEnd(j+1, to)
			if err != nil {
				return nil, err
			}
			operand := p.toks[j+1]
			closeAt := p.toks[end].endOff - base
			edits = append(edits,
				edit{off: t.off - base, end: operand.off - base, text: AwaitBuiltin + "("},
				edit{off: closeAt, end: closeAt, text: ")"},
			)
			hasAwait = true
		case "is":
			if j+1 < to && p.toks[j+1].isName("not") {
				not := p.toks[j+1]
				fill(buf[t.off-base:not.endOff-base], "!=")
				j++
			} else {
				fill(buf[t.off-base:t.endOff-base], "==")
			}
		case "yield":
			return nil, p.errorAt(t, "'yield' is not supported")
		}
	}

	text, segments := applyEdits(buf, edits)

	src := "(" + strings.Repeat("\n", first.pos.Line-1) + text + ")"
	bias := 0
	if first.pos.Line == 1 {
		bias = 1
	}
	x, err := exprOptions.ParseExpr(p.filename, src, 0)
	if paren, ok := x.(*syntax.ParenExpr); ok {
		x = paren.X
	}
	e := ast.NewExpr(x, text, source, first.pos, last.end, segments, bias)
	if err != nil {
		var serr syntax.Error
		if errors.As(err, &serr) {
			if atClosingParen(src, serr.Pos) {
				return nil, &Error{Pos: last.end, Msg: "invalid syntax"}
			}
			return nil, &Error{Pos: e.Locate(serr.Pos), Msg: serr.Msg}
		}
		return nil, &Error{Pos: first.pos, Msg: err.Error()}
	}
	e.Await = hasAwait
	return e, nil
}

// atClosingParen reports whether pos is the paren wrapped around src, which
// the snippet never contained.
func atClosingParen(src string, pos syntax.Position) bool {
	lastLine := src[strings.LastIndexByte(src, '\n')+1:]
	line := int32(strings.Count(src, "\n") + 1)
	return pos.Line == line && pos.Col == int32(utf8.RuneCountInString(lastLine))
}

// fill overwrites dst with s padded by spaces, keeping the length.
func fill(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = ' '
	}
}

func applyEdits(buf []byte, edits []edit) (string, []ast.Segment) {
	if len(edits) == 0 {
		return string(buf), nil
	}
	sort.SliceStable(edits, func(a, b int) bool {
		if edits[a].off != edits[b].off {
			return edits[a].off < edits[b].off
		}
		return edits[a].end == edits[a].off && edits[b].end != edits[b].off
	})
	var sb strings.Builder
	var segments []ast.Segment
	cur := 0
	for _, ed := range edits {
		if ed.off > cur {
			segments = append(segments, ast.Segment{New: sb.Len(), Old: cur, Len: ed.off - cur})
			sb.Write(buf[cur:ed.off])
			cur = ed.off
		}
		sb.WriteString(ed.text)
		if ed.end > cur {
			cur = ed.end
		}
	}
	if cur < len(buf) {
		segments = append(segments, ast.Segment{New: sb.Len(), Old: cur, Len: len(buf) - cur})
		sb.Write(buf[cur:])
	}
	return sb.String(), segments
}

// primaryEnd returns the index of the last token of the primary expression
// starting at toks[j]: an atom followed by attribute, call and index
// trailers.
func (p *parser) primaryEnd(j, limit int) (int, error) {
	if j >= limit {
		return 0, p.errorAt(p.toks[j], "invalid syntax")
	}
	t := p.toks[j]
	switch {
	case t.isName("await"):
		return p.primaryEnd(j+1, limit)
	case t.kind == tokName && !isKeyword(t.text), t.kind == tokNumber:
	case t.isName("None"), t.isName("True"), t.isName("False"):
	case t.kind == tokString:
		for j+1 < limit && p.toks[j+1].kind == tokString {
			j++
		}
	case t.isOp("("), t.isOp("["), t.isOp("{"):
		j = p.matching(j)
	default:
		return 0, p.errorAt(t, "invalid syntax")
	}
	for j+1 < limit {
		n := p.toks[j+1]
		switch {
		case n.isOp(".") && j+2 < limit && p.toks[j+2].kind == tokName:
			j += 2
		case n.isOp("("), n.isOp("["):
			j = p.matching(j + 1)
		default:
			return j, nil
		}
	}
	return j, nil
}

// matching returns the index of the bracket closing toks[j].
func (p *parser) matching(j int) int {
	depth := 0
	for k := j; k < len(p.toks); k++ {
		t := p.toks[k]
		if t.kind != tokOp {
			continue
		}
		switch t.text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
			if depth == 0 {
				return k
			}
		}
	}
	return len(p.toks) - 1
}

// validTarget reports whether x can be assigned to.
func validTarget(x syntax.Expr, allowUnpack bool) bool {
	switch x := x.(type) {
	case *syntax.Ident:
		return !isKeyword(x.Name)
	case *syntax.IndexExpr, *syntax.SliceExpr, *syntax.DotExpr:
		return true
	case *syntax.ParenExpr:
		return validTarget(x.X, allowUnpack)
	case *syntax.TupleExpr:
		return allowUnpack && validList(x.List)
	case *syntax.ListExpr:
		return allowUnpack && validList(x.List)
	}
	return false
}

func validList(list []syntax.Expr) bool {
	for _, x := range list {
		if !validTarget(x, true) {
			return false
		}
	}
	return true
}
