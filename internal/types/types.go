package types

import (
	"fmt"
	"math"
	"strings"

	"opto/internal/ci"
)

type Kind int

const (
	KindTop Kind = iota
	KindBottom
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindInstPtr
	KindAryPtr
	KindKlassPtr
	KindValue
	KindRawPtr
	KindEffect
)

// PtrKind is the nullness of a pointer type.
type PtrKind int

const (
	PtrMaybeNull PtrKind = iota
	PtrNotNull
	PtrNull
)

type Range struct {
	Lo, Hi int64
}

func (r Range) IsCon() bool { return r.Lo == r.Hi }

func (r Range) Intersect(o Range) Range {
	lo, hi := r.Lo, r.Hi
	if o.Lo > lo {
		lo = o.Lo
	}
	if o.Hi < hi {
		hi = o.Hi
	}
	return Range{Lo: lo, Hi: hi}
}

var arraySizeRange = Range{Lo: 0, Hi: ci.MaxArrayLength}

// Type is an element of the IR type lattice. Types are plain values; two types
// are the same lattice element exactly when they compare equal.
type Type struct {
	Kind  Kind
	Range Range // Int and Long
	F     float64
	FCon  bool // Float and Double
	Ptr   PtrKind
	Klass *ci.Klass // nil on an instance pointer means any object
	Exact bool
	Const *ci.Object
	Size  Range // AryPtr
}

func (t Type) Equals(o Type) bool {
	if t.Kind == KindFloat || t.Kind == KindDouble {
		if t.Kind != o.Kind || t.FCon != o.FCon {
			return false
		}
		return !t.FCon || math.Float64bits(t.F) == math.Float64bits(o.F)
	}
	return t == o
}

var (
	topType    = Type{Kind: KindTop}
	bottomType = Type{Kind: KindBottom}
	effectType = Type{Kind: KindEffect}
	rawPtrType = Type{Kind: KindRawPtr}
)

func Top() Type    { return topType }
func Bottom() Type { return bottomType }
func Effect() Type { return effectType }
func RawPtr() Type { return rawPtrType }

func Int(lo, hi int64) Type  { return Type{Kind: KindInt, Range: Range{Lo: lo, Hi: hi}} }
func IntCon(v int64) Type    { return Int(v, v) }
func IntFull() Type          { return Int(math.MinInt32, math.MaxInt32) }
func Long(lo, hi int64) Type { return Type{Kind: KindLong, Range: Range{Lo: lo, Hi: hi}} }
func LongCon(v int64) Type   { return Long(v, v) }
func LongFull() Type         { return Long(math.MinInt64, math.MaxInt64) }
func FloatFull() Type        { return Type{Kind: KindFloat} }
func DoubleFull() Type       { return Type{Kind: KindDouble} }

func FloatCon(f float64) Type {
	return Type{Kind: KindFloat, F: float64(float32(f)), FCon: true}
}

func DoubleCon(f float64) Type { return Type{Kind: KindDouble, F: f, FCon: true} }

// NullPtr is the type of the null constant.
func NullPtr() Type { return Type{Kind: KindInstPtr, Ptr: PtrNull} }

// InstBottom is an object of unknown class that may be null.
func InstBottom() Type { return Type{Kind: KindInstPtr} }

func InstPtr(k *ci.Klass, ptr PtrKind) Type {
	return Type{Kind: KindInstPtr, Klass: k, Ptr: ptr}
}

func AryPtr(k *ci.Klass, ptr PtrKind) Type {
	return Type{Kind: KindAryPtr, Klass: k, Ptr: ptr, Size: arraySizeRange}
}

// FromKlass is the (possibly null, inexact) pointer type for instances of k.
func FromKlass(k *ci.Klass) Type {
	if k == nil {
		return InstBottom()
	}
	if k.IsArray() {
		return AryPtr(k, PtrMaybeNull)
	}
	return InstPtr(k, PtrMaybeNull)
}

// FromConstant is the singleton type of a known object, or the null type.
func FromConstant(o *ci.Object) Type {
	if o == nil {
		return NullPtr()
	}
	t := FromKlass(o.Klass)
	t.Ptr = PtrNotNull
	t.Exact = true
	t.Const = o
	return t
}

func KlassCon(k *ci.Klass) Type {
	return Type{Kind: KindKlassPtr, Klass: k, Exact: true, Ptr: PtrNotNull}
}

// Value is the type of an inline composite held in registers.
func Value(k *ci.Klass) Type { return Type{Kind: KindValue, Klass: k, Ptr: PtrNotNull} }

// Basic is the widest type a value of bt may have.
func Basic(bt ci.BasicType) Type {
	switch bt {
	case ci.TBoolean:
		return Int(0, 1)
	case ci.TByte:
		return Int(math.MinInt8, math.MaxInt8)
	case ci.TChar:
		return Int(0, math.MaxUint16)
	case ci.TShort:
		return Int(math.MinInt16, math.MaxInt16)
	case ci.TInt:
		return IntFull()
	case ci.TLong:
		return LongFull()
	case ci.TFloat:
		return FloatFull()
	case ci.TDouble:
		return DoubleFull()
	case ci.TObject, ci.TArray, ci.TValueTypePtr:
		return InstBottom()
	case ci.TAddress:
		return RawPtr()
	}
	return Top()
}

// FromConstantValue is the singleton type of a folded field value.
func FromConstantValue(c ci.Constant) Type {
	switch c.BasicType {
	case ci.TBoolean, ci.TByte, ci.TChar, ci.TShort, ci.TInt:
		return IntCon(c.Int)
	case ci.TLong:
		return LongCon(c.Int)
	case ci.TFloat:
		return FloatCon(c.Float)
	case ci.TDouble:
		return DoubleCon(c.Float)
	}
	return FromConstant(c.Object)
}

func (t Type) IsPtr() bool {
	return t.Kind == KindInstPtr || t.Kind == KindAryPtr || t.Kind == KindKlassPtr
}

func (t Type) IsNull() bool    { return t.IsPtr() && t.Ptr == PtrNull }
func (t Type) IsNotNull() bool { return (t.IsPtr() || t.Kind == KindValue) && t.Ptr == PtrNotNull }

// IsCon reports whether t describes exactly one value.
func (t Type) IsCon() bool {
	switch t.Kind {
	case KindInt, KindLong:
		return t.Range.IsCon()
	case KindFloat, KindDouble:
		return t.FCon
	case KindInstPtr, KindAryPtr:
		return t.Ptr == PtrNull || t.Const != nil
	case KindKlassPtr:
		return true
	}
	return false
}

// IntCon returns the value of a constant int type.
func (t Type) IntCon() (int64, bool) {
	if t.Kind == KindInt && t.Range.IsCon() {
		return t.Range.Lo, true
	}
	return 0, false
}

// CastToPtrType narrows the nullness of a pointer type.
func (t Type) CastToPtrType(ptr PtrKind) Type {
	if !t.IsPtr() {
		return t
	}
	t.Ptr = ptr
	if ptr == PtrNull {
		t.Const = nil
		t.Exact = false
	}
	return t
}

func (t Type) CastToExactness(exact bool) Type {
	if !t.IsPtr() {
		return t
	}
	t.Exact = exact
	return t
}

// CastToSize narrows an array type's length to the given int type.
func (t Type) CastToSize(length Type) Type {
	if t.Kind != KindAryPtr || length.Kind != KindInt {
		return t
	}
	t.Size = t.Size.Intersect(length.Range)
	return t
}

func (t Type) JoinNotNull() Type {
	if t.IsPtr() && t.Ptr == PtrMaybeNull {
		t.Ptr = PtrNotNull
	}
	return t
}

// HasKnownSize reports whether an array type carries an exact length.
func (t Type) HasKnownSize() bool {
	return t.Kind == KindAryPtr && t.Size.IsCon()
}

// Width is the number of stack slots a value of t occupies.
func (t Type) Width() int {
	if t.Kind == KindLong || t.Kind == KindDouble {
		return 2
	}
	return 1
}

func (t Type) String() string {
	switch t.Kind {
	case KindTop:
		return "top"
	case KindBottom:
		return "bottom"
	case KindEffect:
		return "effect"
	case KindRawPtr:
		return "rawptr"
	case KindInt, KindLong:
		name := "int"
		full := IntFull().Range
		if t.Kind == KindLong {
			name = "long"
			full = LongFull().Range
		}
		switch {
		case t.Range.IsCon():
			return fmt.Sprintf("%s:%d", name, t.Range.Lo)
		case t.Range == full:
			return name
		}
		return fmt.Sprintf("%s:%d..%d", name, t.Range.Lo, t.Range.Hi)
	case KindFloat, KindDouble:
		name := "float"
		if t.Kind == KindDouble {
			name = "double"
		}
		if t.FCon {
			return fmt.Sprintf("%s:%g", name, t.F)
		}
		return name
	case KindKlassPtr:
		return "klass:" + t.Klass.Name
	case KindValue:
		return "value:" + t.Klass.Name
	}
	if t.Ptr == PtrNull {
		return "null"
	}
	var sb strings.Builder
	if t.Klass == nil {
		sb.WriteString("object")
	} else {
		sb.WriteString(t.Klass.Name)
	}
	if t.Exact {
		sb.WriteString(":exact")
	}
	if t.Ptr == PtrNotNull {
		sb.WriteString(":notnull")
	}
	if t.Kind == KindAryPtr && t.Size != arraySizeRange {
		if t.Size.IsCon() {
			fmt.Fprintf(&sb, ":size=%d", t.Size.Lo)
		} else {
			fmt.Fprintf(&sb, ":size=%d..%d", t.Size.Lo, t.Size.Hi)
		}
	}
	if t.Const != nil {
		sb.WriteString(":con=")
		sb.WriteString(t.Const.String())
	}
	return sb.String()
}
