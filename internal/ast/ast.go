package ast

// Module is one parsed .jasm file.
type Module struct {
	Path    string
	Classes []*ClassDecl
}

type ClassDecl struct {
	Name     string
	Value    bool
	Extends  string
	Unloaded bool
	// State is the initialization state keyword, or "" for initialized.
	State   string
	Fields  []*FieldDecl
	Methods []*MethodDecl
	Span    Span
}

func (c *ClassDecl) GetSpan() Span { return c.Span }

// Modifiers a field declaration may carry.
const (
	ModStatic      = "static"
	ModFinal       = "final"
	ModVolatile    = "volatile"
	ModStable      = "stable"
	ModFlattenable = "flattenable"
	ModFlattened   = "flattened"
	ModCallSite    = "callsite"
)

type FieldDecl struct {
	Name      string
	Type      TypeExpr
	Modifiers []string
	// Init is the declared constant, or nil.
	Init *Literal
	Span Span
}

func (f *FieldDecl) GetSpan() Span { return f.Span }

func (f *FieldDecl) Has(mod string) bool {
	for _, m := range f.Modifiers {
		if m == mod {
			return true
		}
	}
	return false
}

type LiteralKind int

const (
	LitInt LiteralKind = iota
	LitFloat
	LitNull
	// LitNew is a fresh constant object of the field's class.
	LitNew
)

type Literal struct {
	Kind  LiteralKind
	Int   int64
	Float float64
	Span  Span
}

type MethodDecl struct {
	Name   string
	Static bool
	Params []TypeExpr
	Ret    TypeExpr
	Body   []Instr
	Span   Span
}

func (m *MethodDecl) GetSpan() Span { return m.Span }

// Instr is one instruction as written. Operands are kept unresolved; the
// checker turns them into bytecode.
type Instr struct {
	Mnemonic string
	Int      int64
	Float    float64
	Class    string
	Name     string
	Kind     string
	Span     Span
}

// TypeExpr is a type name with optional array dimensions, e.g. "long[][]".
type TypeExpr struct {
	Name string
	Dims int
	Span Span
}

func (t TypeExpr) String() string {
	s := t.Name
	for i := 0; i < t.Dims; i++ {
		s += "[]"
	}
	return s
}

type Span struct {
	Start Position
	End   Position
}

type Position struct {
	Line int
	Col  int
}
