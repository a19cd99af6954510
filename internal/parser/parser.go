// Package parser turns snippet source into statement trees. Layout follows
// indentation rules; each expression is handed to the Starlark expression
// parser and anchored back to the snippet.
//
// Starlark has no identity operator, so `is` and `is not` are evaluated as
// `==` and `!=`. `x is None` behaves as expected, but two equal lists
// compare as identical: `[] is []` is True.
package parser

import (
	"strings"

	"github.com/robbyt/go-aeval/internal/ast"
)

var keywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true, "assert": true,
	"async": true, "await": true, "break": true, "class": true, "continue": true,
	"def": true, "del": true, "elif": true, "else": true, "except": true, "finally": true,
	"for": true, "from": true, "global": true, "if": true, "import": true, "in": true,
	"is": true, "lambda": true, "nonlocal": true, "not": true, "or": true, "pass": true,
	"raise": true, "return": true, "try": true, "while": true, "with": true, "yield": true,
}

func isKeyword(s string) bool {
	return keywords[s]
}

var augOps = map[string]bool{
	"+=": true, "-=": true, "*=": true, "/=": true, "//=": true, "%=": true,
	"&=": true, "|=": true, "^=": true, "<<=": true, ">>=": true,
}

type funcState struct {
	async bool
	top   bool
	loops int
}

type parser struct {
	filename string
	src      string
	toks     []token
	i        int
	funcs    []funcState
}

// Parse parses a snippet. filename is recorded in the positions of every
// expression tree so runtime frames can be attributed to the snippet.
// Top-level await and return are accepted.
func Parse(filename, src string) ([]ast.Stmt, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{
		filename: filename,
		src:      src,
		toks:     toks,
		funcs:    []funcState{{async: true, top: true}},
	}
	return p.parseModule()
}

func (p *parser) cur() token {
	return p.toks[p.i]
}

func (p *parser) peek(n int) token {
	if p.i+n < len(p.toks) {
		return p.toks[p.i+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if p.i < len(p.toks)-1 {
		p.i++
	}
	return t
}

func (p *parser) fn() *funcState {
	return &p.funcs[len(p.funcs)-1]
}

func (p *parser) errorAt(t token, format string, args ...any) error {
	return newError(t.pos, format, args...)
}

func (p *parser) unexpected() error {
	t := p.cur()
	switch t.kind {
	case tokIndent:
		return p.errorAt(t, "unexpected indent")
	case tokEOF:
		return p.errorAt(t, "unexpected EOF while parsing")
	}
	return p.errorAt(t, "invalid syntax")
}

func (p *parser) expectOp(op string) (token, error) {
	if !p.cur().isOp(op) {
		if op == ":" {
			return token{}, p.errorAt(p.cur(), "expected ':'")
		}
		return token{}, p.unexpected()
	}
	return p.next(), nil
}

func (p *parser) expectIdent() (token, error) {
	t := p.cur()
	if t.kind != tokName || isKeyword(t.text) {
		return token{}, p.unexpected()
	}
	return p.next(), nil
}

func (p *parser) expectNewline() error {
	if p.cur().kind != tokNewline {
		return p.unexpected()
	}
	p.next()
	return nil
}

func (p *parser) prevEnd() ast.Pos {
	for j := p.i - 1; j >= 0; j-- {
		switch p.toks[j].kind {
		case tokNewline, tokIndent, tokDedent:
			continue
		}
		return p.toks[j].end
	}
	return ast.Pos{Line: 1, Col: 1}
}

func (p *parser) parseModule() ([]ast.Stmt, error) {
	var body []ast.Stmt
	for p.cur().kind != tokEOF {
		if p.cur().kind == tokNewline {
			p.next()
			continue
		}
		stmts, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		body = append(body, stmts...)
	}
	return body, nil
}

func one(s ast.Stmt, err error) ([]ast.Stmt, error) {
	if err != nil {
		return nil, err
	}
	return []ast.Stmt{s}, nil
}

func (p *parser) parseStatement() ([]ast.Stmt, error) {
	t := p.cur()
	switch t.kind {
	case tokIndent, tokDedent, tokEOF:
		return nil, p.unexpected()
	case tokOp:
		if t.text == "@" {
			return one(p.parseDecorated())
		}
	case tokName:
		switch t.text {
		case "if":
			return one(p.parseIf())
		case "while":
			return one(p.parseWhile())
		case "for":
			return one(p.parseFor(t, false))
		case "try":
			return one(p.parseTry())
		case "with":
			return one(p.parseWith(t, false))
		case "def":
			return one(p.parseDef(t, nil, false))
		case "async":
			return one(p.parseAsync())
		case "class":
			return nil, p.errorAt(t, "class definitions are not supported")
		case "elif", "else", "except", "finally":
			return nil, p.errorAt(t, "invalid syntax")
		case "match":
			if p.isMatchStatement() {
				return one(p.parseMatch())
			}
		}
	}
	return p.parseSimpleStatements()
}

func (p *parser) parseAsync() (ast.Stmt, error) {
	start := p.next()
	t := p.cur()
	if t.isName("def") {
		return p.parseDef(start, nil, true)
	}
	if !p.fn().async {
		return nil, p.errorAt(start, "'async %s' outside async function", t.text)
	}
	switch {
	case t.isName("for"):
		return p.parseFor(start, true)
	case t.isName("with"):
		return p.parseWith(start, true)
	}
	return nil, p.unexpected()
}

// isMatchStatement distinguishes the soft keyword from a name: a match
// statement's logical line ends with ':' and is followed by an indent.
func (p *parser) isMatchStatement() bool {
	n := p.peek(1)
	if n.kind == tokNewline || n.kind == tokEOF {
		return false
	}
	if n.kind == tokOp {
		switch n.text {
		case "=", ".", ":", ",", ")", "]", "}":
			return false
		}
		if augOps[n.text] {
			return false
		}
	}
	j := p.i
	for p.toks[j].kind != tokNewline && p.toks[j].kind != tokEOF {
		j++
	}
	return j > p.i && p.toks[j-1].isOp(":") && j+1 < len(p.toks) && p.toks[j+1].kind == tokIndent
}

func (p *parser) parseSimpleStatements() ([]ast.Stmt, error) {
	var out []ast.Stmt
	for {
		s, err := p.parseSmall()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		if !p.cur().isOp(";") {
			break
		}
		p.next()
		if p.cur().kind == tokNewline {
			break
		}
	}
	if err := p.expectNewline(); err != nil {
		return nil, err
	}
	return out, nil
}

// smallEnd returns the index of the token ending the simple statement
// starting at p.i.
func (p *parser) smallEnd() int {
	return p.scanUntil(func(t token) bool { return t.isOp(";") })
}

// scanUntil returns the index of the first token at bracket depth zero that
// satisfies stop, or of the end of the logical line. A ':' closing a lambda
// parameter list never stops the scan.
func (p *parser) scanUntil(stop func(t token) bool) int {
	depth, lambdas := 0, 0
	for j := p.i; ; j++ {
		t := p.toks[j]
		switch t.kind {
		case tokNewline, tokEOF, tokIndent, tokDedent:
			return j
		}
		if depth == 0 {
			if t.isName("lambda") {
				lambdas++
				continue
			}
			if t.isOp(":") && lambdas > 0 {
				lambdas--
				continue
			}
			if stop(t) {
				return j
			}
		}
		if t.kind == tokOp {
			switch t.text {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			}
		}
	}
}

func (p *parser) parseExprUntil(stop func(t token) bool) (*ast.Expr, error) {
	end := p.scanUntil(stop)
	e, err := p.parseRange(p.i, end)
	if err != nil {
		return nil, err
	}
	p.i = end
	return e, nil
}

func isColon(t token) bool {
	return t.isOp(":")
}

func never(token) bool {
	return false
}

func opOrName(ops []string, names []string) func(t token) bool {
	return func(t token) bool {
		for _, op := range ops {
			if t.isOp(op) {
				return true
			}
		}
		for _, n := range names {
			if t.isName(n) {
				return true
			}
		}
		return false
	}
}

// splitCommas splits toks[from:to] at depth-zero commas. A trailing comma
// yields no empty part.
func (p *parser) splitCommas(from, to int) [][2]int {
	var parts [][2]int
	depth, start := 0, from
	for j := from; j < to; j++ {
		t := p.toks[j]
		if t.kind != tokOp {
			continue
		}
		switch t.text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
		case ",":
			if depth == 0 {
				parts = append(parts, [2]int{start, j})
				start = j + 1
			}
		}
	}
	if start < to {
		parts = append(parts, [2]int{start, to})
	}
	return parts
}

func (p *parser) parseSmall() (ast.Stmt, error) {
	t := p.cur()
	if t.kind == tokName {
		switch t.text {
		case "pass":
			p.next()
			return &ast.PassStmt{Node: ast.Node{Start: t.pos, End: t.end}}, nil
		case "break":
			if p.fn().loops == 0 {
				return nil, p.errorAt(t, "'break' outside loop")
			}
			p.next()
			return &ast.BreakStmt{Node: ast.Node{Start: t.pos, End: t.end}}, nil
		case "continue":
			if p.fn().loops == 0 {
				return nil, p.errorAt(t, "'continue' not properly in loop")
			}
			p.next()
			return &ast.ContinueStmt{Node: ast.Node{Start: t.pos, End: t.end}}, nil
		case "return":
			return p.parseReturn()
		case "raise":
			return p.parseRaise()
		case "global", "nonlocal":
			return p.parseDeclaration()
		case "del":
			return p.parseDel()
		case "assert":
			return p.parseAssert()
		case "import":
			return p.parseImport()
		case "from":
			return p.parseFromImport()
		case "type":
			if n := p.peek(1); n.kind == tokName && !isKeyword(n.text) {
				if p.peek(2).isOp("=") {
					return p.parseTypeAlias()
				}
				if p.peek(2).isOp("[") {
					return nil, p.errorAt(p.peek(2), "type parameters are not supported")
				}
			}
		case "yield":
			return nil, p.errorAt(t, "'yield' is not supported")
		case "lambda", "not", "await", "None", "True", "False":
		default:
			if isKeyword(t.text) {
				return nil, p.errorAt(t, "invalid syntax")
			}
		}
	}
	return p.parseExprOrAssign()
}

func (p *parser) parseExprOrAssign() (ast.Stmt, error) {
	start, end := p.i, p.smallEnd()
	var eqs []int
	aug, colon := -1, -1
	depth, lambdas := 0, 0
	for j := start; j < end; j++ {
		t := p.toks[j]
		switch {
		case t.isName("lambda"):
			if depth == 0 {
				lambdas++
			}
		case t.kind != tokOp:
		case t.text == "(" || t.text == "[" || t.text == "{":
			depth++
		case t.text == ")" || t.text == "]" || t.text == "}":
			depth--
		case depth > 0:
		case t.text == ":":
			if lambdas > 0 {
				lambdas--
			} else if colon < 0 && aug < 0 && len(eqs) == 0 {
				colon = j
			}
		case t.text == "=":
			if lambdas == 0 {
				eqs = append(eqs, j)
			}
		case augOps[t.text]:
			if aug < 0 && len(eqs) == 0 && colon < 0 {
				aug = j
			}
		}
	}

	if end == start {
		return nil, p.unexpected()
	}
	node := ast.Node{Start: p.toks[start].pos, End: p.toks[end-1].end}

	switch {
	case aug >= 0:
		target, err := p.parseTarget(start, aug, false)
		if err != nil {
			return nil, err
		}
		value, err := p.parseRange(aug+1, end)
		if err != nil {
			return nil, err
		}
		p.i = end
		op := strings.TrimSuffix(p.toks[aug].text, "=")
		return &ast.AugAssignStmt{Node: node, Target: target, Op: op, Value: value}, nil

	case colon >= 0:
		target, err := p.parseTarget(start, colon, false)
		if err != nil {
			return nil, err
		}
		annEnd := end
		if len(eqs) > 0 {
			annEnd = eqs[0]
		}
		ann, err := p.parseRange(colon+1, annEnd)
		if err != nil {
			return nil, err
		}
		s := &ast.AnnAssignStmt{Node: node, Target: target, Annotation: ann}
		if len(eqs) > 0 {
			if len(eqs) > 1 {
				return nil, p.errorAt(p.toks[eqs[1]], "invalid syntax")
			}
			if s.Value, err = p.parseRange(eqs[0]+1, end); err != nil {
				return nil, err
			}
		}
		p.i = end
		return s, nil

	case len(eqs) > 0:
		s := &ast.AssignStmt{Node: node}
		from := start
		for _, eq := range eqs {
			target, err := p.parseTarget(from, eq, true)
			if err != nil {
				return nil, err
			}
			s.Targets = append(s.Targets, target)
			from = eq + 1
		}
		value, err := p.parseRange(from, end)
		if err != nil {
			return nil, err
		}
		s.Value = value
		p.i = end
		return s, nil
	}

	x, err := p.parseRange(start, end)
	if err != nil {
		return nil, err
	}
	p.i = end
	return &ast.ExprStmt{Node: node, X: x}, nil
}

func (p *parser) parseTarget(from, to int, allowUnpack bool) (*ast.Expr, error) {
	if from >= to {
		return nil, p.errorAt(p.toks[from], "invalid syntax")
	}
	e, err := p.parseRange(from, to)
	if err != nil {
		return nil, err
	}
	if e.Await || !validTarget(e.X, allowUnpack) {
		if allowUnpack {
			return nil, p.errorAt(p.toks[from], "cannot assign to expression")
		}
		return nil, p.errorAt(p.toks[from], "illegal target for annotation or augmented assignment")
	}
	return e, nil
}

func (p *parser) parseReturn() (ast.Stmt, error) {
	t := p.next()
	s := &ast.ReturnStmt{Node: ast.Node{Start: t.pos, End: t.end}}
	end := p.smallEnd()
	if end > p.i {
		v, err := p.parseRange(p.i, end)
		if err != nil {
			return nil, err
		}
		s.Value = v
		s.End = v.End
		p.i = end
	}
	return s, nil
}

func (p *parser) parseRaise() (ast.Stmt, error) {
	t := p.next()
	s := &ast.RaiseStmt{Node: ast.Node{Start: t.pos, End: t.end}}
	if end := p.smallEnd(); end == p.i {
		return s, nil
	}
	exc, err := p.parseExprUntil(opOrName([]string{";"}, []string{"from"}))
	if err != nil {
		return nil, err
	}
	s.Exc, s.End = exc, exc.End
	if p.cur().isName("from") {
		p.next()
		end := p.smallEnd()
		cause, err := p.parseRange(p.i, end)
		if err != nil {
			return nil, err
		}
		s.Cause, s.End = cause, cause.End
		p.i = end
	}
	return s, nil
}

func (p *parser) parseDeclaration() (ast.Stmt, error) {
	t := p.next()
	if t.text == "nonlocal" && p.fn().top {
		return nil, p.errorAt(t, "nonlocal declaration not allowed at module level")
	}
	var names []string
	end := t.end
	for {
		n, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		names = append(names, n.text)
		end = n.end
		if !p.cur().isOp(",") {
			break
		}
		p.next()
	}
	node := ast.Node{Start: t.pos, End: end}
	if t.text == "global" {
		return &ast.GlobalStmt{Node: node, Names: names}, nil
	}
	return &ast.NonlocalStmt{Node: node, Names: names}, nil
}

func (p *parser) parseDel() (ast.Stmt, error) {
	t := p.next()
	end := p.smallEnd()
	parts := p.splitCommas(p.i, end)
	if len(parts) == 0 {
		return nil, p.unexpected()
	}
	s := &ast.DelStmt{Node: ast.Node{Start: t.pos, End: p.toks[end-1].end}}
	for _, part := range parts {
		target, err := p.parseRange(part[0], part[1])
		if err != nil {
			return nil, err
		}
		if !validTarget(target.X, true) {
			return nil, p.errorAt(p.toks[part[0]], "cannot delete expression")
		}
		s.Targets = append(s.Targets, target)
	}
	p.i = end
	return s, nil
}

func (p *parser) parseAssert() (ast.Stmt, error) {
	t := p.next()
	end := p.smallEnd()
	parts := p.splitCommas(p.i, end)
	if len(parts) == 0 || len(parts) > 2 {
		return nil, p.unexpected()
	}
	s := &ast.AssertStmt{Node: ast.Node{Start: t.pos, End: p.toks[end-1].end}}
	var err error
	if s.Test, err = p.parseRange(parts[0][0], parts[0][1]); err != nil {
		return nil, err
	}
	if len(parts) == 2 {
		if s.Msg, err = p.parseRange(parts[1][0], parts[1][1]); err != nil {
			return nil, err
		}
	}
	p.i = end
	return s, nil
}

// parseDottedName parses `a.b.c`.
func (p *parser) parseDottedName() (string, token, error) {
	first, err := p.expectIdent()
	if err != nil {
		return "", token{}, err
	}
	name, last := first.text, first
	for p.cur().isOp(".") {
		p.next()
		n, err := p.expectIdent()
		if err != nil {
			return "", token{}, err
		}
		name += "." + n.text
		last = n
	}
	return name, last, nil
}

func (p *parser) parseAlias(dotted bool) (ast.Alias, token, error) {
	start := p.cur()
	var (
		a    ast.Alias
		last token
		err  error
	)
	if dotted {
		a.Name, last, err = p.parseDottedName()
	} else {
		last, err = p.expectIdent()
		a.Name = last.text
	}
	if err != nil {
		return a, last, err
	}
	a.Pos = start.pos
	if p.cur().isName("as") {
		p.next()
		as, err := p.expectIdent()
		if err != nil {
			return a, last, err
		}
		a.AsName, last = as.text, as
	}
	return a, last, nil
}

func (p *parser) parseImport() (ast.Stmt, error) {
	t := p.next()
	s := &ast.ImportStmt{Node: ast.Node{Start: t.pos}}
	for {
		a, last, err := p.parseAlias(true)
		if err != nil {
			return nil, err
		}
		s.Names = append(s.Names, a)
		s.End = last.end
		if !p.cur().isOp(",") {
			return s, nil
		}
		p.next()
	}
}

func (p *parser) parseFromImport() (ast.Stmt, error) {
	t := p.next()
	if p.cur().isOp(".") || p.cur().isOp("...") {
		return nil, p.errorAt(p.cur(), "relative imports are not supported")
	}
	module, _, err := p.parseDottedName()
	if err != nil {
		return nil, err
	}
	if !p.cur().isName("import") {
		return nil, p.unexpected()
	}
	p.next()
	s := &ast.ImportFromStmt{Node: ast.Node{Start: t.pos}, Module: module}
	if p.cur().isOp("*") {
		s.Star, s.End = true, p.next().end
		return s, nil
	}
	paren := p.cur().isOp("(")
	if paren {
		p.next()
	}
	for {
		a, last, err := p.parseAlias(false)
		if err != nil {
			return nil, err
		}
		s.Names = append(s.Names, a)
		s.End = last.end
		if !p.cur().isOp(",") {
			break
		}
		p.next()
		if paren && p.cur().isOp(")") {
			break
		}
	}
	if paren {
		closeTok, err := p.expectOp(")")
		if err != nil {
			return nil, err
		}
		s.End = closeTok.end
	}
	return s, nil
}

func (p *parser) parseTypeAlias() (ast.Stmt, error) {
	t := p.next()
	name, err := p.parseRange(p.i, p.i+1)
	if err != nil {
		return nil, err
	}
	p.next()
	if _, err := p.expectOp("="); err != nil {
		return nil, err
	}
	end := p.smallEnd()
	value, err := p.parseRange(p.i, end)
	if err != nil {
		return nil, err
	}
	p.i = end
	return &ast.TypeAliasStmt{Node: ast.Node{Start: t.pos, End: value.End}, Name: name, Value: value}, nil
}

// parseBlock parses `: simple_stmts` or `: NEWLINE INDENT stmts DEDENT`.
func (p *parser) parseBlock() ([]ast.Stmt, error) {
	if _, err := p.expectOp(":"); err != nil {
		return nil, err
	}
	if p.cur().kind != tokNewline {
		return p.parseSimpleStatements()
	}
	p.next()
	if p.cur().kind != tokIndent {
		return nil, p.errorAt(p.cur(), "expected an indented block")
	}
	p.next()
	var body []ast.Stmt
	for p.cur().kind != tokDedent && p.cur().kind != tokEOF {
		stmts, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		body = append(body, stmts...)
	}
	if p.cur().kind == tokDedent {
		p.next()
	}
	return body, nil
}

func (p *parser) loopBlock() ([]ast.Stmt, error) {
	p.fn().loops++
	defer func() { p.fn().loops-- }()
	return p.parseBlock()
}

func (p *parser) parseIf() (ast.Stmt, error) {
	t := p.next()
	cond, err := p.parseExprUntil(isColon)
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	s := &ast.IfStmt{Cond: cond, Body: body}
	switch {
	case p.cur().isName("elif"):
		nested, err := p.parseIf()
		if err != nil {
			return nil, err
		}
		s.Else = []ast.Stmt{nested}
	case p.cur().isName("else"):
		p.next()
		if s.Else, err = p.parseBlock(); err != nil {
			return nil, err
		}
	}
	s.Node = ast.Node{Start: t.pos, End: p.prevEnd()}
	return s, nil
}

func (p *parser) parseWhile() (ast.Stmt, error) {
	t := p.next()
	cond, err := p.parseExprUntil(isColon)
	if err != nil {
		return nil, err
	}
	body, err := p.loopBlock()
	if err != nil {
		return nil, err
	}
	s := &ast.WhileStmt{Cond: cond, Body: body}
	if p.cur().isName("else") {
		p.next()
		if s.Else, err = p.parseBlock(); err != nil {
			return nil, err
		}
	}
	s.Node = ast.Node{Start: t.pos, End: p.prevEnd()}
	return s, nil
}

func (p *parser) parseFor(start token, async bool) (ast.Stmt, error) {
	p.next()
	targetStart := p.i
	end := p.scanUntil(func(t token) bool { return t.isName("in") })
	target, err := p.parseTarget(targetStart, end, true)
	if err != nil {
		return nil, err
	}
	p.i = end
	if !p.cur().isName("in") {
		return nil, p.unexpected()
	}
	p.next()
	iter, err := p.parseExprUntil(isColon)
	if err != nil {
		return nil, err
	}
	body, err := p.loopBlock()
	if err != nil {
		return nil, err
	}
	s := &ast.ForStmt{Target: target, Iter: iter, Body: body, Async: async}
	if p.cur().isName("else") {
		p.next()
		if s.Else, err = p.parseBlock(); err != nil {
			return nil, err
		}
	}
	s.Node = ast.Node{Start: start.pos, End: p.prevEnd()}
	return s, nil
}

func (p *parser) parseWith(start token, async bool) (ast.Stmt, error) {
	p.next()
	s := &ast.WithStmt{Async: async}
	for {
		ctx, err := p.parseExprUntil(opOrName([]string{",", ":"}, []string{"as"}))
		if err != nil {
			return nil, err
		}
		item := ast.WithItem{Context: ctx}
		if p.cur().isName("as") {
			p.next()
			from := p.i
			end := p.scanUntil(opOrName([]string{",", ":"}, nil))
			if item.Target, err = p.parseTarget(from, end, true); err != nil {
				return nil, err
			}
			p.i = end
		}
		s.Items = append(s.Items, item)
		if !p.cur().isOp(",") {
			break
		}
		p.next()
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	s.Body = body
	s.Node = ast.Node{Start: start.pos, End: p.prevEnd()}
	return s, nil
}

func (p *parser) parseTry() (ast.Stmt, error) {
	t := p.next()
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	s := &ast.TryStmt{Body: body}
	for p.cur().isName("except") {
		ht := p.next()
		if p.cur().isOp("*") {
			return nil, p.errorAt(p.cur(), "except* is not supported")
		}
		if n := len(s.Handlers); n > 0 && s.Handlers[n-1].Type == nil {
			return nil, p.errorAt(ht, "default 'except:' must be last")
		}
		h := &ast.Handler{Start: ht.pos}
		if !p.cur().isOp(":") {
			if h.Type, err = p.parseExprUntil(opOrName([]string{":"}, []string{"as"})); err != nil {
				return nil, err
			}
			if p.cur().isName("as") {
				p.next()
				name, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				h.Name = name.text
			}
		}
		if h.Body, err = p.parseBlock(); err != nil {
			return nil, err
		}
		s.Handlers = append(s.Handlers, h)
	}
	if p.cur().isName("else") {
		if len(s.Handlers) == 0 {
			return nil, p.errorAt(p.cur(), "expected 'except' or 'finally' block")
		}
		p.next()
		if s.Else, err = p.parseBlock(); err != nil {
			return nil, err
		}
	}
	if p.cur().isName("finally") {
		p.next()
		if s.Finally, err = p.parseBlock(); err != nil {
			return nil, err
		}
	}
	if len(s.Handlers) == 0 && s.Finally == nil {
		return nil, p.errorAt(p.cur(), "expected 'except' or 'finally' block")
	}
	s.Node = ast.Node{Start: t.pos, End: p.prevEnd()}
	return s, nil
}

func (p *parser) parseDecorated() (ast.Stmt, error) {
	start := p.cur()
	var decorators []*ast.Expr
	for p.cur().isOp("@") {
		p.next()
		d, err := p.parseExprUntil(never)
		if err != nil {
			return nil, err
		}
		if err := p.expectNewline(); err != nil {
			return nil, err
		}
		decorators = append(decorators, d)
	}
	switch {
	case p.cur().isName("def"):
		return p.parseDef(start, decorators, false)
	case p.cur().isName("async") && p.peek(1).isName("def"):
		p.next()
		return p.parseDef(start, decorators, true)
	case p.cur().isName("class"):
		return nil, p.errorAt(p.cur(), "class definitions are not supported")
	}
	return nil, p.unexpected()
}

func (p *parser) parseDef(start token, decorators []*ast.Expr, async bool) (ast.Stmt, error) {
	p.next()
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectOp("("); err != nil {
		return nil, err
	}
	params, err := p.parseParams()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectOp(")"); err != nil {
		return nil, err
	}
	if p.cur().isOp("->") {
		p.next()
		p.i = p.scanUntil(isColon)
	}

	p.funcs = append(p.funcs, funcState{async: async})
	body, err := p.parseBlock()
	p.funcs = p.funcs[:len(p.funcs)-1]
	if err != nil {
		return nil, err
	}

	names := make([]string, len(params))
	for i, prm := range params {
		names[i] = prm.Name
	}
	return &ast.DefStmt{
		Node:       ast.Node{Start: start.pos, End: p.prevEnd()},
		Name:       name.text,
		Params:     params,
		Body:       body,
		Decorators: decorators,
		Async:      async,
		Scope:      ast.Analyze(names, body),
	}, nil
}

func (p *parser) parseParams() ([]ast.Param, error) {
	var params []ast.Param
	seen := make(map[string]bool)
	star := false
	add := func(t token, kind ast.ParamKind) error {
		if seen[t.text] {
			return p.errorAt(t, "duplicate argument '%s' in function definition", t.text)
		}
		seen[t.text] = true
		params = append(params, ast.Param{Name: t.text, Kind: kind})
		p.skipAnnotation()
		return nil
	}
	for !p.cur().isOp(")") {
		t := p.cur()
		switch {
		case t.isOp("/"):
			p.next()
		case t.isOp("**"):
			p.next()
			n, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			if err := add(n, ast.ParamVarKeywords); err != nil {
				return nil, err
			}
		case t.isOp("*"):
			p.next()
			star = true
			if p.cur().kind == tokName {
				n, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				if err := add(n, ast.ParamVarArgs); err != nil {
					return nil, err
				}
			}
		default:
			n, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			kind := ast.ParamPositional
			if star {
				kind = ast.ParamKeywordOnly
			}
			if err := add(n, kind); err != nil {
				return nil, err
			}
			if p.cur().isOp("=") {
				p.next()
				d, err := p.parseExprUntil(opOrName([]string{",", ")"}, nil))
				if err != nil {
					return nil, err
				}
				params[len(params)-1].Default = d
			} else if kind == ast.ParamPositional && hasDefault(params[:len(params)-1]) {
				return nil, p.errorAt(n, "non-default argument follows default argument")
			}
		}
		if p.cur().isOp(",") {
			p.next()
			continue
		}
		if !p.cur().isOp(")") {
			return nil, p.unexpected()
		}
	}
	return params, nil
}

func hasDefault(params []ast.Param) bool {
	for _, prm := range params {
		if prm.Kind == ast.ParamPositional && prm.Default != nil {
			return true
		}
	}
	return false
}

func (p *parser) skipAnnotation() {
	if p.cur().isOp(":") {
		p.next()
		p.i = p.scanUntil(opOrName([]string{",", "=", ")"}, nil))
	}
}

func (p *parser) parseMatch() (ast.Stmt, error) {
	t := p.next()
	subject, err := p.parseExprUntil(isColon)
	if err != nil {
		return nil, err
	}
	if _, err := p.expectOp(":"); err != nil {
		return nil, err
	}
	if err := p.expectNewline(); err != nil {
		return nil, err
	}
	if p.cur().kind != tokIndent {
		return nil, p.errorAt(p.cur(), "expected an indented block")
	}
	p.next()
	s := &ast.MatchStmt{Subject: subject}
	for p.cur().isName("case") {
		ct := p.next()
		pattern, err := p.parsePatternTop()
		if err != nil {
			return nil, err
		}
		c := &ast.MatchCase{Start: ct.pos, Pattern: pattern}
		if p.cur().isName("if") {
			p.next()
			if c.Guard, err = p.parseExprUntil(isColon); err != nil {
				return nil, err
			}
		}
		if c.Body, err = p.parseBlock(); err != nil {
			return nil, err
		}
		s.Cases = append(s.Cases, c)
	}
	if len(s.Cases) == 0 {
		return nil, p.errorAt(p.cur(), "expected 'case' block")
	}
	if p.cur().kind != tokDedent {
		return nil, p.unexpected()
	}
	p.next()
	s.Node = ast.Node{Start: t.pos, End: p.prevEnd()}
	return s, nil
}
