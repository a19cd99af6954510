package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/robbyt/go-aeval/internal/ast"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokNewline
	tokIndent
	tokDedent
	tokName
	tokNumber
	tokString
	tokOp
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokNewline:
		return "newline"
	case tokIndent:
		return "indent"
	case tokDedent:
		return "dedent"
	case tokName:
		return "name"
	case tokNumber:
		return "number"
	case tokString:
		return "string"
	default:
		return "operator"
	}
}

type token struct {
	kind   tokenKind
	text   string
	pos    ast.Pos
	end    ast.Pos
	off    int
	endOff int
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

func (t token) isOp(text string) bool {
	return t.is(tokOp, text)
}

func (t token) isName(text string) bool {
	return t.is(tokName, text)
}

// operators, longest first.
var operators = []string{
	"**=", "//=", ">>=", "<<=", "...",
	"->", "**", "//", "<<", ">>", "<=", ">=", "==", "!=",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "@=", ":=",
	"+", "-", "*", "/", "%", "&", "|", "^", "~", "<", ">",
	"(", ")", "[", "]", "{", "}", ",", ":", ".", ";", "@", "=",
}

type lexer struct {
	src      string
	off      int
	line     int
	col      int
	depth    int
	brackets []token
	indents  []int
	toks     []token
}

func tokenize(src string) ([]token, error) {
	lx := &lexer{src: src, line: 1, col: 1, indents: []int{0}}
	if err := lx.run(); err != nil {
		return nil, err
	}
	return lx.toks, nil
}

func (lx *lexer) pos() ast.Pos {
	return ast.Pos{Line: lx.line, Col: lx.col}
}

func (lx *lexer) peek(n int) byte {
	if lx.off+n < len(lx.src) {
		return lx.src[lx.off+n]
	}
	return 0
}

// advance consumes n bytes, keeping line and column current.
func (lx *lexer) advance(n int) {
	end := lx.off + n
	for lx.off < end {
		r, size := utf8.DecodeRuneInString(lx.src[lx.off:])
		lx.off += size
		if r == '\n' {
			lx.line++
			lx.col = 1
		} else {
			lx.col++
		}
	}
}

func (lx *lexer) emit(kind tokenKind, start ast.Pos, startOff int) {
	lx.toks = append(lx.toks, token{
		kind:   kind,
		text:   lx.src[startOff:lx.off],
		pos:    start,
		end:    lx.pos(),
		off:    startOff,
		endOff: lx.off,
	})
}

func (lx *lexer) emitEmpty(kind tokenKind) {
	p := lx.pos()
	lx.toks = append(lx.toks, token{kind: kind, pos: p, end: p, off: lx.off, endOff: lx.off})
}

func (lx *lexer) errorf(p ast.Pos, format string, args ...any) error {
	return newError(p, format, args...)
}

func (lx *lexer) lastKind() tokenKind {
	if len(lx.toks) == 0 {
		return tokNewline
	}
	return lx.toks[len(lx.toks)-1].kind
}

func (lx *lexer) run() error {
	atLineStart := true
	for {
		if atLineStart && lx.depth == 0 {
			width := 0
		indent:
			for lx.off < len(lx.src) {
				switch lx.src[lx.off] {
				case ' ':
					width++
				case '\t':
					width = (width/8 + 1) * 8
				case '\f':
					width = 0
				default:
					break indent
				}
				lx.advance(1)
			}
			if lx.off >= len(lx.src) {
				break
			}
			c := lx.src[lx.off]
			if c == '#' || c == '\n' || c == '\r' {
				lx.skipLine()
				continue
			}
			atLineStart = false
			if err := lx.indent(width); err != nil {
				return err
			}
		}

		for lx.off < len(lx.src) && (lx.src[lx.off] == ' ' || lx.src[lx.off] == '\t' || lx.src[lx.off] == '\f') {
			lx.advance(1)
		}
		if lx.off >= len(lx.src) {
			break
		}

		c := lx.src[lx.off]
		switch {
		case c == '#':
			for lx.off < len(lx.src) && lx.src[lx.off] != '\n' {
				lx.advance(1)
			}
		case c == '\\' && (lx.peek(1) == '\n' || (lx.peek(1) == '\r' && lx.peek(2) == '\n')):
			lx.advance(1)
			if lx.src[lx.off] == '\r' {
				lx.advance(1)
			}
			lx.advance(1)
			if lx.off >= len(lx.src) {
				return lx.errorf(lx.pos(), "unexpected EOF while parsing")
			}
		case c == '\n' || c == '\r':
			if lx.depth == 0 {
				if k := lx.lastKind(); k != tokNewline && k != tokIndent && k != tokDedent {
					lx.emitEmpty(tokNewline)
				}
				atLineStart = true
			}
			if c == '\r' && lx.peek(1) == '\n' {
				lx.advance(1)
			}
			lx.advance(1)
		case c == '"' || c == '\'':
			if err := lx.scanString(lx.off, lx.pos()); err != nil {
				return err
			}
		case isDigit(c) || (c == '.' && isDigit(lx.peek(1))):
			lx.scanNumber()
		case c == '_' || c >= utf8.RuneSelf || isLetter(c):
			if err := lx.scanName(); err != nil {
				return err
			}
		default:
			if err := lx.scanOperator(); err != nil {
				return err
			}
		}
	}

	if lx.depth > 0 {
		open := lx.brackets[len(lx.brackets)-1]
		return lx.errorf(open.pos, "'%s' was never closed", open.text)
	}
	if k := lx.lastKind(); k != tokNewline && k != tokIndent && k != tokDedent {
		lx.emitEmpty(tokNewline)
	}
	for len(lx.indents) > 1 {
		lx.indents = lx.indents[:len(lx.indents)-1]
		lx.emitEmpty(tokDedent)
	}
	lx.emitEmpty(tokEOF)
	return nil
}

func (lx *lexer) skipLine() {
	for lx.off < len(lx.src) && lx.src[lx.off] != '\n' {
		lx.advance(1)
	}
	if lx.off < len(lx.src) {
		lx.advance(1)
	}
}

// indent emits the indent or dedent tokens for a logical line of the given
// width. The first logical line sets the base level, so a snippet indented
// as a whole parses as if it were not.
func (lx *lexer) indent(width int) error {
	if len(lx.toks) == 0 {
		lx.indents[0] = width
		return nil
	}
	top := lx.indents[len(lx.indents)-1]
	switch {
	case width > top:
		lx.indents = append(lx.indents, width)
		lx.emitEmpty(tokIndent)
	case width < top:
		for len(lx.indents) > 1 && width < lx.indents[len(lx.indents)-1] {
			lx.indents = lx.indents[:len(lx.indents)-1]
			lx.emitEmpty(tokDedent)
		}
		if width != lx.indents[len(lx.indents)-1] {
			return lx.errorf(lx.pos(), "unindent does not match any outer indentation level")
		}
	}
	return nil
}

func (lx *lexer) scanName() error {
	start, startOff := lx.pos(), lx.off
	for lx.off < len(lx.src) {
		r, size := utf8.DecodeRuneInString(lx.src[lx.off:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		lx.advance(size)
	}
	if lx.off == startOff {
		r, _ := utf8.DecodeRuneInString(lx.src[lx.off:])
		return lx.errorf(start, "invalid character '%c' (U+%04X)", r, r)
	}
	if lx.off < len(lx.src) && (lx.src[lx.off] == '"' || lx.src[lx.off] == '\'') && isStringPrefix(lx.src[startOff:lx.off]) {
		return lx.scanString(startOff, start)
	}
	lx.emit(tokName, start, startOff)
	return nil
}

func isStringPrefix(s string) bool {
	switch strings.ToLower(s) {
	case "r", "b", "u", "f", "rb", "br", "fr", "rf":
		return true
	}
	return false
}

// scanString scans a string literal whose opening quote is at lx.off; the
// token starts at startOff so that any prefix is included.
func (lx *lexer) scanString(startOff int, start ast.Pos) error {
	q := lx.src[lx.off]
	triple := lx.peek(1) == q && lx.peek(2) == q
	if triple {
		lx.advance(3)
	} else {
		lx.advance(1)
	}
	for {
		if lx.off >= len(lx.src) {
			if triple {
				return lx.errorf(start, "unterminated triple-quoted string literal")
			}
			return lx.errorf(start, "unterminated string literal")
		}
		c := lx.src[lx.off]
		switch {
		case c == '\\':
			lx.advance(1)
			if lx.off < len(lx.src) {
				if lx.src[lx.off] == '\r' && lx.peek(1) == '\n' {
					lx.advance(1)
				}
				lx.advance(1)
			}
		case c == q:
			if !triple {
				lx.advance(1)
				lx.emit(tokString, start, startOff)
				return nil
			}
			if lx.peek(1) == q && lx.peek(2) == q {
				lx.advance(3)
				lx.emit(tokString, start, startOff)
				return nil
			}
			lx.advance(1)
		case (c == '\n' || c == '\r') && !triple:
			return lx.errorf(start, "unterminated string literal")
		default:
			lx.advance(1)
		}
	}
}

func (lx *lexer) scanNumber() {
	start, startOff := lx.pos(), lx.off
	hex := lx.src[lx.off] == '0' && (lx.peek(1) == 'x' || lx.peek(1) == 'X')
	for lx.off < len(lx.src) {
		c := lx.src[lx.off]
		if isDigit(c) || isLetter(c) || c == '_' || c == '.' {
			lx.advance(1)
			continue
		}
		if (c == '+' || c == '-') && !hex && lx.off > startOff {
			prev := lx.src[lx.off-1]
			if prev == 'e' || prev == 'E' {
				lx.advance(1)
				continue
			}
		}
		break
	}
	lx.emit(tokNumber, start, startOff)
}

func (lx *lexer) scanOperator() error {
	start, startOff := lx.pos(), lx.off
	for _, op := range operators {
		if strings.HasPrefix(lx.src[lx.off:], op) {
			lx.advance(len(op))
			lx.emit(tokOp, start, startOff)
			tok := lx.toks[len(lx.toks)-1]
			switch op {
			case "(", "[", "{":
				lx.depth++
				lx.brackets = append(lx.brackets, tok)
			case ")", "]", "}":
				if lx.depth == 0 {
					return lx.errorf(start, "unmatched '%s'", op)
				}
				open := lx.brackets[len(lx.brackets)-1]
				if closing[open.text] != op {
					return lx.errorf(start, "closing parenthesis '%s' does not match opening parenthesis '%s'", op, open.text)
				}
				lx.depth--
				lx.brackets = lx.brackets[:len(lx.brackets)-1]
			}
			return nil
		}
	}
	r, _ := utf8.DecodeRuneInString(lx.src[lx.off:])
	return lx.errorf(start, "invalid character '%c' (U+%04X)", r, r)
}

var closing = map[string]string{"(": ")", "[": "]", "{": "}"}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

func isLetter(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}
