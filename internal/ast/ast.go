// Package ast defines the statement tree of a snippet. Expressions inside
// statements are Starlark expression trees anchored to the snippet through Expr.
package ast

import "fmt"

// Pos is a 1-based line and column in the snippet source.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// IsValid reports whether the position was set.
func (p Pos) IsValid() bool {
	return p.Line > 0
}

// Kind enumerates every statement variant. Dispatch over statements is a
// switch on Kind with one case per constant.
type Kind uint8

const (
	KindExpr Kind = iota
	KindAssign
	KindAugAssign
	KindAnnAssign
	KindImport
	KindImportFrom
	KindTypeAlias
	KindIf
	KindFor
	KindWhile
	KindWith
	KindTry
	KindMatch
	KindDef
	KindReturn
	KindRaise
	KindDel
	KindAssert
	KindGlobal
	KindNonlocal
	KindPass
	KindBreak
	KindContinue
	KindExit
)

var kindNames = [...]string{
	KindExpr:       "Expr",
	KindAssign:     "Assign",
	KindAugAssign:  "AugAssign",
	KindAnnAssign:  "AnnAssign",
	KindImport:     "Import",
	KindImportFrom: "ImportFrom",
	KindTypeAlias:  "TypeAlias",
	KindIf:         "If",
	KindFor:        "For",
	KindWhile:      "While",
	KindWith:       "With",
	KindTry:        "Try",
	KindMatch:      "Match",
	KindDef:        "Def",
	KindReturn:     "Return",
	KindRaise:      "Raise",
	KindDel:        "Del",
	KindAssert:     "Assert",
	KindGlobal:     "Global",
	KindNonlocal:   "Nonlocal",
	KindPass:       "Pass",
	KindBreak:      "Break",
	KindContinue:   "Continue",
	KindExit:       "Exit",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Stmt is a statement node.
type Stmt interface {
	Kind() Kind
	Span() (start, end Pos)
}

// Node carries the source span shared by every statement.
type Node struct {
	Start Pos
	End   Pos
}

func (n *Node) Span() (Pos, Pos) { return n.Start, n.End }

type ExprStmt struct {
	Node
	X *Expr
}

// AssignStmt is `t1 = t2 = ... = value`.
type AssignStmt struct {
	Node
	Targets []*Expr
	Value   *Expr
}

// AugAssignStmt is `target op= value`; Op is the binary operator token.
type AugAssignStmt struct {
	Node
	Target *Expr
	Op     string
	Value  *Expr
}

// AnnAssignStmt is `target: annotation [= value]`.
type AnnAssignStmt struct {
	Node
	Target     *Expr
	Annotation *Expr
	Value      *Expr
}

// Alias is one imported name. AsName is empty when no `as` clause was given.
type Alias struct {
	Name   string
	AsName string
	Pos    Pos
}

// Bound returns the name the alias binds: the `as` name, or for a dotted
// module name its first component.
func (a Alias) Bound() string {
	if a.AsName != "" {
		return a.AsName
	}
	for i := 0; i < len(a.Name); i++ {
		if a.Name[i] == '.' {
			return a.Name[:i]
		}
	}
	return a.Name
}

type ImportStmt struct {
	Node
	Names []Alias
}

// ImportFromStmt is `from module import names`; Star is set for `import *`.
type ImportFromStmt struct {
	Node
	Module string
	Names  []Alias
	Star   bool
}

// TypeAliasStmt is `type Name = value`.
type TypeAliasStmt struct {
	Node
	Name  *Expr
	Value *Expr
}

// IfStmt covers if/elif/else; an elif chain is a nested IfStmt as the only
// statement of Else.
type IfStmt struct {
	Node
	Cond *Expr
	Body []Stmt
	Else []Stmt
}

type ForStmt struct {
	Node
	Target *Expr
	Iter   *Expr
	Body   []Stmt
	Else   []Stmt
	Async  bool
}

type WhileStmt struct {
	Node
	Cond *Expr
	Body []Stmt
	Else []Stmt
}

// WithItem is one `context [as target]` clause.
type WithItem struct {
	Context *Expr
	Target  *Expr
}

type WithStmt struct {
	Node
	Items []WithItem
	Body  []Stmt
	Async bool
}

// Handler is one except clause. A nil Type catches everything.
type Handler struct {
	Start Pos
	Type  *Expr
	Name  string
	Body  []Stmt
}

type TryStmt struct {
	Node
	Body     []Stmt
	Handlers []*Handler
	Else     []Stmt
	Finally  []Stmt
}

// MatchCase is one `case pattern [if guard]:` arm.
type MatchCase struct {
	Start   Pos
	Pattern Pattern
	Guard   *Expr
	Body    []Stmt
}

type MatchStmt struct {
	Node
	Subject *Expr
	Cases   []*MatchCase
}

// ParamKind distinguishes the parameter forms of a def.
type ParamKind uint8

const (
	ParamPositional ParamKind = iota
	ParamVarArgs
	ParamKeywordOnly
	ParamVarKeywords
)

type Param struct {
	Name    string
	Kind    ParamKind
	Default *Expr
}

// DefStmt is a function definition. Scope is filled by the parser from the
// body's bindings and declarations.
type DefStmt struct {
	Node
	Name       string
	Params     []Param
	Body       []Stmt
	Decorators []*Expr
	Async      bool
	Scope      *Scope
}

type ReturnStmt struct {
	Node
	Value *Expr
}

// RaiseStmt is `raise [Exc [from Cause]]`.
type RaiseStmt struct {
	Node
	Exc   *Expr
	Cause *Expr
}

type DelStmt struct {
	Node
	Targets []*Expr
}

type AssertStmt struct {
	Node
	Test *Expr
	Msg  *Expr
}

type GlobalStmt struct {
	Node
	Names []string
}

type NonlocalStmt struct {
	Node
	Names []string
}

type PassStmt struct{ Node }

type BreakStmt struct{ Node }

type ContinueStmt struct{ Node }

// ExitStmt terminates the snippet with a value. Setup runs first when set.
// A nil Value produces the empty result. When Optional is set, a NameError
// while evaluating Value also produces the empty result.
type ExitStmt struct {
	Node
	Setup    Stmt
	Value    *Expr
	Optional bool
}

func (*ExprStmt) Kind() Kind       { return KindExpr }
func (*AssignStmt) Kind() Kind     { return KindAssign }
func (*AugAssignStmt) Kind() Kind  { return KindAugAssign }
func (*AnnAssignStmt) Kind() Kind  { return KindAnnAssign }
func (*ImportStmt) Kind() Kind     { return KindImport }
func (*ImportFromStmt) Kind() Kind { return KindImportFrom }
func (*TypeAliasStmt) Kind() Kind  { return KindTypeAlias }
func (*IfStmt) Kind() Kind         { return KindIf }
func (*ForStmt) Kind() Kind        { return KindFor }
func (*WhileStmt) Kind() Kind      { return KindWhile }
func (*WithStmt) Kind() Kind       { return KindWith }
func (*TryStmt) Kind() Kind        { return KindTry }
func (*MatchStmt) Kind() Kind      { return KindMatch }
func (*DefStmt) Kind() Kind        { return KindDef }
func (*ReturnStmt) Kind() Kind     { return KindReturn }
func (*RaiseStmt) Kind() Kind      { return KindRaise }
func (*DelStmt) Kind() Kind        { return KindDel }
func (*AssertStmt) Kind() Kind     { return KindAssert }
func (*GlobalStmt) Kind() Kind     { return KindGlobal }
func (*NonlocalStmt) Kind() Kind   { return KindNonlocal }
func (*PassStmt) Kind() Kind       { return KindPass }
func (*BreakStmt) Kind() Kind      { return KindBreak }
func (*ContinueStmt) Kind() Kind   { return KindContinue }
func (*ExitStmt) Kind() Kind       { return KindExit }
