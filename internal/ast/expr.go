package ast

import (
	"sort"
	"unicode/utf8"

	"go.starlark.net/syntax"
)

// Segment is a run of expression text copied unchanged from the source:
// Text[New:New+Len] == Source[Old:Old+Len].
type Segment struct {
	New, Old, Len int
}

// Expr anchors a Starlark expression tree to the snippet. Text is what the
// expression parser saw (after token rewrites); Source is the original slice
// of the snippet starting at Start.
type Expr struct {
	X      syntax.Expr
	Text   string
	Source string
	Start  Pos
	End    Pos

	// Await is set when the expression contains an await.
	Await bool

	segments  []Segment
	textLines []int
	srcLines  []int
	firstBias int
	synthetic bool
}

// NewExpr builds an anchored expression. segments may be nil when Text and
// Source are identical. firstBias is the number of columns the expression
// parser saw before Text on its first line.
func NewExpr(x syntax.Expr, text, source string, start, end Pos, segments []Segment, firstBias int) *Expr {
	return &Expr{
		X:         x,
		Text:      text,
		Source:    source,
		Start:     start,
		End:       end,
		segments:  segments,
		textLines: lineStarts(text),
		srcLines:  lineStarts(source),
		firstBias: firstBias,
	}
}

// Synthesize wraps a tree built by a rewrite. Positions inside it are not
// mapped back; Locate reports the expression start.
func Synthesize(x syntax.Expr, start, end Pos) *Expr {
	return &Expr{X: x, Start: start, End: end, synthetic: true}
}

// Synthetic reports whether the expression was built by a rewrite.
func (e *Expr) Synthetic() bool {
	return e.synthetic
}

// Locate maps a position reported by the Starlark parser or runtime for a
// node of this expression back to the snippet.
func (e *Expr) Locate(p syntax.Position) Pos {
	if e == nil {
		return Pos{}
	}
	if e.synthetic || p.Line <= 0 {
		return e.Start
	}
	k := int(p.Line) - e.Start.Line
	if k < 0 || k >= len(e.textLines) {
		return e.Start
	}
	col := int(p.Col) - 1
	if k == 0 {
		col -= e.firstBias
	}
	if col < 0 {
		col = 0
	}
	off := advanceRunes(e.Text, e.textLines[k], col)
	return e.sourcePos(e.toSource(off))
}

// toSource maps an offset in Text to an offset in Source. Offsets inside
// inserted text map to the start of the replaced source range.
func (e *Expr) toSource(off int) int {
	if e.segments == nil {
		return off
	}
	for i, s := range e.segments {
		if off < s.New {
			if i == 0 {
				return 0
			}
			prev := e.segments[i-1]
			return prev.Old + prev.Len
		}
		if off < s.New+s.Len {
			return s.Old + off - s.New
		}
	}
	if n := len(e.segments); n > 0 {
		last := e.segments[n-1]
		return last.Old + last.Len
	}
	return off
}

func (e *Expr) sourcePos(off int) Pos {
	if off > len(e.Source) {
		off = len(e.Source)
	}
	j := sort.Search(len(e.srcLines), func(i int) bool { return e.srcLines[i] > off }) - 1
	if j < 0 {
		j = 0
	}
	col := utf8.RuneCountInString(e.Source[e.srcLines[j]:off])
	if j == 0 {
		return Pos{Line: e.Start.Line, Col: e.Start.Col + col}
	}
	return Pos{Line: e.Start.Line + j, Col: col + 1}
}

func lineStarts(s string) []int {
	starts := []int{0}
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func advanceRunes(s string, off, n int) int {
	for ; n > 0 && off < len(s); n-- {
		if s[off] == '\n' {
			break
		}
		_, size := utf8.DecodeRuneInString(s[off:])
		off += size
	}
	return off
}

// CloneLoad copies a target expression so it can be evaluated as a plain
// read. Identifiers, tuples, lists, parens, index, slice and attribute
// expressions are copied recursively; other nodes are shared.
func CloneLoad(x syntax.Expr) syntax.Expr {
	switch x := x.(type) {
	case *syntax.Ident:
		return &syntax.Ident{NamePos: x.NamePos, Name: x.Name}
	case *syntax.ParenExpr:
		return &syntax.ParenExpr{Lparen: x.Lparen, X: CloneLoad(x.X), Rparen: x.Rparen}
	case *syntax.TupleExpr:
		return &syntax.TupleExpr{Lparen: x.Lparen, List: cloneList(x.List), Rparen: x.Rparen}
	case *syntax.ListExpr:
		return &syntax.ListExpr{Lbrack: x.Lbrack, List: cloneList(x.List), Rbrack: x.Rbrack}
	case *syntax.IndexExpr:
		return &syntax.IndexExpr{X: CloneLoad(x.X), Lbrack: x.Lbrack, Y: CloneLoad(x.Y), Rbrack: x.Rbrack}
	case *syntax.SliceExpr:
		return &syntax.SliceExpr{
			X:      CloneLoad(x.X),
			Lbrack: x.Lbrack,
			Lo:     cloneOptional(x.Lo),
			Hi:     cloneOptional(x.Hi),
			Step:   cloneOptional(x.Step),
			Rbrack: x.Rbrack,
		}
	case *syntax.DotExpr:
		return &syntax.DotExpr{
			X:       CloneLoad(x.X),
			Dot:     x.Dot,
			NamePos: x.NamePos,
			Name:    &syntax.Ident{NamePos: x.Name.NamePos, Name: x.Name.Name},
		}
	default:
		return x
	}
}

func cloneList(list []syntax.Expr) []syntax.Expr {
	out := make([]syntax.Expr, len(list))
	for i, x := range list {
		out[i] = CloneLoad(x)
	}
	return out
}

func cloneOptional(x syntax.Expr) syntax.Expr {
	if x == nil {
		return nil
	}
	return CloneLoad(x)
}

// WithX returns a copy of e holding x, keeping e's position mapping. x must
// be built from nodes of e.
func (e *Expr) WithX(x syntax.Expr) *Expr {
	c := *e
	c.X = x
	return &c
}

var binaryOps = map[string]syntax.Token{
	"+":  syntax.PLUS,
	"-":  syntax.MINUS,
	"*":  syntax.STAR,
	"/":  syntax.SLASH,
	"//": syntax.SLASHSLASH,
	"%":  syntax.PERCENT,
	"&":  syntax.AMP,
	"|":  syntax.PIPE,
	"^":  syntax.CIRCUMFLEX,
	"<<": syntax.LTLT,
	">>": syntax.GTGT,
}

// BinaryOp returns the Starlark token of a binary operator such as "+" or
// "//". ok is false for operators Starlark does not support.
func BinaryOp(op string) (tok syntax.Token, ok bool) {
	tok, ok = binaryOps[op]
	return tok, ok
}
