// Package bytecode defines the instruction set accepted by the lowering driver.
// Only the field-access and array-allocation families are lowered in full; the
// remaining opcodes exist to feed them operands.
package bytecode

import (
	"fmt"
	"strconv"
)

type Op int

const (
	Nop Op = iota
	AConstNull
	IConst
	LConst
	FConst
	DConst
	Load
	Store
	Dup
	Pop
	Swap
	New
	GetField
	PutField
	GetStatic
	PutStatic
	NewArray
	ANewArray
	MultiANewArray
	DefaultValue
	WithField
	Return
)

var mnemonics = [...]string{
	Nop:            "nop",
	AConstNull:     "aconst_null",
	IConst:         "iconst",
	LConst:         "lconst",
	FConst:         "fconst",
	DConst:         "dconst",
	Load:           "load",
	Store:          "store",
	Dup:            "dup",
	Pop:            "pop",
	Swap:           "swap",
	New:            "new",
	GetField:       "getfield",
	PutField:       "putfield",
	GetStatic:      "getstatic",
	PutStatic:      "putstatic",
	NewArray:       "newarray",
	ANewArray:      "anewarray",
	MultiANewArray: "multianewarray",
	DefaultValue:   "defaultvalue",
	WithField:      "withfield",
	Return:         "return",
}

var byMnemonic = func() map[string]Op {
	m := make(map[string]Op, len(mnemonics))
	for op, name := range mnemonics {
		m[name] = Op(op)
	}
	return m
}()

func (op Op) String() string {
	if int(op) < len(mnemonics) {
		return mnemonics[op]
	}
	return fmt.Sprintf("op%d", int(op))
}

func Lookup(mnemonic string) (Op, bool) {
	op, ok := byMnemonic[mnemonic]
	return op, ok
}

// Operand describes what follows a mnemonic in assembly text.
type Operand int

const (
	OperandNone Operand = iota
	OperandInt
	OperandFloat
	OperandLocal      // <kind> <index>
	OperandClass      // <type>
	OperandField      // <Class>.<field>
	OperandPrimitive  // <primitive type>
	OperandClassDims  // <array type> <dims>
)

func (op Op) Operand() Operand {
	switch op {
	case IConst, LConst:
		return OperandInt
	case FConst, DConst:
		return OperandFloat
	case Load, Store:
		return OperandLocal
	case New, ANewArray, DefaultValue:
		return OperandClass
	case GetField, PutField, GetStatic, PutStatic, WithField:
		return OperandField
	case NewArray:
		return OperandPrimitive
	case MultiANewArray:
		return OperandClassDims
	}
	return OperandNone
}

// IsFieldAccess reports whether op belongs to the field-access family.
func (op Op) IsFieldAccess() bool {
	return op == GetField || op == PutField || op == GetStatic || op == PutStatic
}

// IsArrayAllocation reports whether op belongs to the array-allocation family.
func (op Op) IsArrayAllocation() bool {
	return op == NewArray || op == ANewArray || op == MultiANewArray
}

type Instr struct {
	Op    Op
	Int   int64
	Float float64
	Class string
	Name  string
	Kind  string
	Line  int
	Col   int
}

func (in Instr) String() string {
	switch in.Op.Operand() {
	case OperandInt:
		return fmt.Sprintf("%s %d", in.Op, in.Int)
	case OperandFloat:
		return fmt.Sprintf("%s %s", in.Op, strconv.FormatFloat(in.Float, 'g', -1, 64))
	case OperandLocal:
		return fmt.Sprintf("%s %s %d", in.Op, in.Kind, in.Int)
	case OperandClass:
		return fmt.Sprintf("%s %s", in.Op, in.Class)
	case OperandField:
		return fmt.Sprintf("%s %s.%s", in.Op, in.Class, in.Name)
	case OperandPrimitive:
		return fmt.Sprintf("%s %s", in.Op, in.Kind)
	case OperandClassDims:
		return fmt.Sprintf("%s %s %d", in.Op, in.Class, in.Int)
	}
	return in.Op.String()
}
