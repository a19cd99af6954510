package parser

import "github.com/robbyt/go-aeval/internal/ast"

// parsePatternTop parses the pattern of a case clause, where an unparenthesized
// comma list is a sequence pattern.
func (p *parser) parsePatternTop() (ast.Pattern, error) {
	first, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	if !p.cur().isOp(",") {
		return first, nil
	}
	elems := []ast.Pattern{first}
	for p.cur().isOp(",") {
		p.next()
		if p.cur().isOp(":") || p.cur().isName("if") {
			break
		}
		e, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	return &ast.SequencePattern{Elems: elems}, nil
}

func (p *parser) parsePattern() (ast.Pattern, error) {
	pat, err := p.parseOrPattern()
	if err != nil {
		return nil, err
	}
	if p.cur().isName("as") {
		p.next()
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if name.text == "_" {
			return nil, p.errorAt(name, "cannot use '_' as a target")
		}
		pat = &ast.AsPattern{Pattern: pat, Name: name.text}
	}
	return pat, nil
}

func (p *parser) parseOrPattern() (ast.Pattern, error) {
	first, err := p.parseClosedPattern()
	if err != nil {
		return nil, err
	}
	if !p.cur().isOp("|") {
		return first, nil
	}
	alts := []ast.Pattern{first}
	for p.cur().isOp("|") {
		p.next()
		alt, err := p.parseClosedPattern()
		if err != nil {
			return nil, err
		}
		alts = append(alts, alt)
	}
	return &ast.OrPattern{Alts: alts}, nil
}

func (p *parser) parseClosedPattern() (ast.Pattern, error) {
	t := p.cur()
	switch {
	case t.isOp("*"):
		p.next()
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if name.text == "_" {
			return &ast.StarPattern{}, nil
		}
		return &ast.StarPattern{Name: name.text}, nil

	case t.isOp("("):
		p.next()
		if p.cur().isOp(")") {
			p.next()
			return &ast.SequencePattern{}, nil
		}
		inner, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		if p.cur().isOp(")") {
			p.next()
			return inner, nil
		}
		elems, err := p.parseSequenceRest([]ast.Pattern{inner}, ")")
		if err != nil {
			return nil, err
		}
		return &ast.SequencePattern{Elems: elems}, nil

	case t.isOp("["):
		p.next()
		elems, err := p.parseSequenceRest(nil, "]")
		if err != nil {
			return nil, err
		}
		return &ast.SequencePattern{Elems: elems}, nil

	case t.isOp("{"):
		return p.parseMappingPattern()

	case t.isName("_"):
		p.next()
		return &ast.WildcardPattern{}, nil

	case t.isName("None"), t.isName("True"), t.isName("False"):
		return p.valuePattern(p.i, p.i+1)

	case t.kind == tokName && !isKeyword(t.text):
		j := p.i + 1
		for p.toks[j].isOp(".") && p.toks[j+1].kind == tokName {
			j += 2
		}
		if p.toks[j].isOp("(") {
			return nil, p.errorAt(t, "class patterns are not supported")
		}
		if j == p.i+1 {
			p.next()
			return &ast.CapturePattern{Name: t.text}, nil
		}
		return p.valuePattern(p.i, j)

	case t.kind == tokString:
		j := p.i + 1
		for p.toks[j].kind == tokString {
			j++
		}
		return p.valuePattern(p.i, j)

	case t.kind == tokNumber, t.isOp("-"):
		j := p.i
		if p.toks[j].isOp("-") {
			j++
		}
		if p.toks[j].kind != tokNumber {
			return nil, p.errorAt(p.toks[j], "invalid pattern")
		}
		j++
		if (p.toks[j].isOp("+") || p.toks[j].isOp("-")) && p.toks[j+1].kind == tokNumber {
			j += 2
		}
		return p.valuePattern(p.i, j)
	}
	return nil, p.errorAt(t, "invalid pattern")
}

// parseSequenceRest parses comma-separated patterns up to the closing
// bracket, after the opening bracket and any already parsed elements.
func (p *parser) parseSequenceRest(elems []ast.Pattern, closeOp string) ([]ast.Pattern, error) {
	if len(elems) > 0 && p.cur().isOp(",") {
		p.next()
	}
	for !p.cur().isOp(closeOp) {
		e, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
		if !p.cur().isOp(",") {
			break
		}
		p.next()
	}
	if _, err := p.expectOp(closeOp); err != nil {
		return nil, err
	}
	stars := 0
	for _, e := range elems {
		if _, ok := e.(*ast.StarPattern); ok {
			stars++
		}
	}
	if stars > 1 {
		return nil, p.errorAt(p.toks[p.i-1], "multiple starred names in sequence pattern")
	}
	return elems, nil
}

func (p *parser) parseMappingPattern() (ast.Pattern, error) {
	p.next()
	m := &ast.MappingPattern{}
	for !p.cur().isOp("}") {
		if p.cur().isOp("**") {
			p.next()
			name, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			m.Rest = name.text
		} else {
			key, err := p.parseExprUntil(isColon)
			if err != nil {
				return nil, err
			}
			if _, err := p.expectOp(":"); err != nil {
				return nil, err
			}
			value, err := p.parsePattern()
			if err != nil {
				return nil, err
			}
			m.Keys = append(m.Keys, key)
			m.Values = append(m.Values, value)
		}
		if !p.cur().isOp(",") {
			break
		}
		p.next()
	}
	if _, err := p.expectOp("}"); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *parser) valuePattern(from, to int) (ast.Pattern, error) {
	e, err := p.parseRange(from, to)
	if err != nil {
		return nil, err
	}
	p.i = to
	return &ast.ValuePattern{Value: e}, nil
}
