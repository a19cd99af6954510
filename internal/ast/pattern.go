package ast

// Pattern is a match-case pattern.
type Pattern interface {
	patternNode()
}

// WildcardPattern is `_`.
type WildcardPattern struct{}

// CapturePattern binds the subject to Name.
type CapturePattern struct {
	Name string
}

// ValuePattern compares the subject with a literal or dotted name.
type ValuePattern struct {
	Value *Expr
}

// StarPattern is `*name` inside a sequence pattern; Name is empty for `*_`.
type StarPattern struct {
	Name string
}

// SequencePattern is `[p1, p2, *rest]` or `(p1, p2)`.
type SequencePattern struct {
	Elems []Pattern
}

// MappingPattern is `{k1: p1, **rest}`.
type MappingPattern struct {
	Keys   []*Expr
	Values []Pattern
	Rest   string
}

// OrPattern is `p1 | p2`.
type OrPattern struct {
	Alts []Pattern
}

// AsPattern is `p as name`.
type AsPattern struct {
	Pattern Pattern
	Name    string
}

func (*WildcardPattern) patternNode() {}
func (*CapturePattern) patternNode()  {}
func (*ValuePattern) patternNode()    {}
func (*StarPattern) patternNode()     {}
func (*SequencePattern) patternNode() {}
func (*MappingPattern) patternNode()  {}
func (*OrPattern) patternNode()       {}
func (*AsPattern) patternNode()       {}

// PatternNames returns the names a pattern binds, in source order.
func PatternNames(p Pattern) []string {
	var names []string
	var walk func(Pattern)
	walk = func(p Pattern) {
		switch p := p.(type) {
		case *CapturePattern:
			names = append(names, p.Name)
		case *StarPattern:
			if p.Name != "" {
				names = append(names, p.Name)
			}
		case *SequencePattern:
			for _, e := range p.Elems {
				walk(e)
			}
		case *MappingPattern:
			for _, v := range p.Values {
				walk(v)
			}
			if p.Rest != "" {
				names = append(names, p.Rest)
			}
		case *OrPattern:
			if len(p.Alts) > 0 {
				walk(p.Alts[0])
			}
		case *AsPattern:
			walk(p.Pattern)
			names = append(names, p.Name)
		}
	}
	walk(p)
	return names
}
