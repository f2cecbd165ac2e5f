// Package ci is the compiler's view of class metadata: klasses, fields, methods
// and the few heap objects whose contents are known at compile time.
package ci

import (
	"fmt"
	"sort"
	"strings"

	"opto/internal/bytecode"
)

type BasicType int

const (
	TIllegal BasicType = iota
	TBoolean
	TChar
	TFloat
	TDouble
	TByte
	TShort
	TInt
	TLong
	TObject
	TArray
	TValueType
	TValueTypePtr
	TVoid
	TAddress
)

var basicTypeNames = map[BasicType]string{
	TIllegal:      "illegal",
	TBoolean:      "boolean",
	TChar:         "char",
	TFloat:        "float",
	TDouble:       "double",
	TByte:         "byte",
	TShort:        "short",
	TInt:          "int",
	TLong:         "long",
	TObject:       "object",
	TArray:        "array",
	TValueType:    "valuetype",
	TValueTypePtr: "valuetypeptr",
	TVoid:         "void",
	TAddress:      "address",
}

func (bt BasicType) String() string {
	if s, ok := basicTypeNames[bt]; ok {
		return s
	}
	return fmt.Sprintf("bt%d", int(bt))
}

// ParseBasicType maps a primitive type keyword to its basic type.
func ParseBasicType(name string) (BasicType, bool) {
	switch name {
	case "boolean":
		return TBoolean, true
	case "char":
		return TChar, true
	case "float":
		return TFloat, true
	case "double":
		return TDouble, true
	case "byte":
		return TByte, true
	case "short":
		return TShort, true
	case "int":
		return TInt, true
	case "long":
		return TLong, true
	case "void":
		return TVoid, true
	}
	return TIllegal, false
}

// Size is the number of operand stack slots a value of this type occupies.
func (bt BasicType) Size() int {
	switch bt {
	case TLong, TDouble:
		return 2
	case TVoid, TIllegal:
		return 0
	default:
		return 1
	}
}

// Bytes is the storage size of a value of this type in a heap object.
func (bt BasicType) Bytes() int {
	switch bt {
	case TBoolean, TByte:
		return 1
	case TChar, TShort:
		return 2
	case TInt, TFloat:
		return 4
	case TLong, TDouble:
		return 8
	case TObject, TArray, TValueType, TValueTypePtr, TAddress:
		return HeapOopSize
	default:
		return 0
	}
}

func (bt BasicType) IsReference() bool {
	return bt == TObject || bt == TArray || bt == TValueType || bt == TValueTypePtr
}

func (bt BasicType) IsSubword() bool {
	return bt == TBoolean || bt == TByte || bt == TChar || bt == TShort
}

// Heap layout shared by the lowering and the wasm backend.
const (
	HeapOopSize        = 4
	LogBytesPerHeapOop = 2
	InstanceHeaderSize = 8
	ArrayLengthOffset  = 8
	ArrayBaseOffset    = 16
	MaxArrayLength     = 1<<28 - 1
)

type InitState int

const (
	StateLinked InitState = iota
	StateBeingInitialized
	StateFullyInitialized
)

func (s InitState) String() string {
	switch s {
	case StateLinked:
		return "linked"
	case StateBeingInitialized:
		return "being_initialized"
	case StateFullyInitialized:
		return "initialized"
	}
	return "unknown"
}

const (
	ClassInitializerName  = "<clinit>"
	ObjectInitializerName = "<init>"
)

type Klass struct {
	ID     int
	Name   string
	Super  *Klass
	Loaded bool
	State  InitState
	Value  bool

	// Array klasses only.
	Elem     *Klass
	ElemType BasicType
	Dims     int

	Fields       []*Field
	InstanceSize int
	StaticSize   int
	Mirror       *Object
}

func (k *Klass) String() string { return k.Name }

func (k *Klass) IsArray() bool { return k.Dims > 0 }

// IsInitialized reports whether static state may be used freely. Array klasses
// are always initialized.
func (k *Klass) IsInitialized() bool {
	return k.IsArray() || k.State == StateFullyInitialized
}

func (k *Klass) IsSubclassOf(o *Klass) bool {
	for c := k; c != nil; c = c.Super {
		if c == o {
			return true
		}
	}
	return false
}

// ElementKlass is the klass of the innermost element of an object array, or nil
// for arrays of primitives.
func (k *Klass) ElementKlass() *Klass {
	c := k
	for c != nil && c.IsArray() {
		c = c.Elem
	}
	return c
}

// FirstFieldOffset is where the payload of an inline composite starts when it is
// laid out as a standalone object.
func (k *Klass) FirstFieldOffset() int { return InstanceHeaderSize }

// PayloadSize is the number of bytes a flattened instance of k occupies inline.
func (k *Klass) PayloadSize() int { return k.InstanceSize - k.FirstFieldOffset() }

// InstanceFields returns the non-static fields including inherited ones, in
// offset order.
func (k *Klass) InstanceFields() []*Field {
	var out []*Field
	for c := k; c != nil; c = c.Super {
		for _, f := range c.Fields {
			if !f.Static {
				out = append(out, f)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

func (k *Klass) StaticFields() []*Field {
	var out []*Field
	for _, f := range k.Fields {
		if f.Static {
			out = append(out, f)
		}
	}
	return out
}

func (k *Klass) FieldByOffset(offset int) *Field {
	for _, f := range k.InstanceFields() {
		if f.Offset == offset {
			return f
		}
	}
	return nil
}

func (k *Klass) lookupField(name string) *Field {
	for c := k; c != nil; c = c.Super {
		for _, f := range c.Fields {
			if f.Name == name {
				return f
			}
		}
	}
	return nil
}

type Field struct {
	Holder    *Klass
	Name      string
	Offset    int
	BasicType BasicType
	Type      *Klass // nil for primitives

	Static         bool
	Volatile       bool
	Final          bool
	Stable         bool
	Flattened      bool
	Flattenable    bool
	CallSiteTarget bool

	// Constant is the compile-time known value of a constant field.
	Constant *Constant
}

func (f *Field) String() string { return f.Holder.Name + "." + f.Name }

// LayoutType is the basic type used to access the field's storage.
func (f *Field) LayoutType() BasicType {
	switch {
	case f.Type != nil && f.Type.Value:
		return TValueType
	case f.BasicType == TArray:
		return TObject
	}
	return f.BasicType
}

func (f *Field) IsConstant() bool { return f.Final || f.Stable }

func (f *Field) IsStaticConstant() bool {
	return f.Static && f.Final && f.Constant != nil
}

// TypeLoaded reports whether the declared type of a reference field is loaded.
func (f *Field) TypeLoaded() bool {
	return f.Type == nil || f.Type.Loaded
}

// StorageBytes is the number of bytes the field occupies in its container.
func (f *Field) StorageBytes() int {
	if f.Flattened {
		return f.Type.PayloadSize()
	}
	return f.LayoutType().Bytes()
}

type Sig struct {
	BasicType BasicType
	Klass     *Klass
}

func (s Sig) String() string {
	if s.Klass != nil {
		return s.Klass.Name
	}
	return s.BasicType.String()
}

type Method struct {
	Holder    *Klass
	Name      string
	Static    bool
	Params    []Sig
	Ret       Sig
	MaxLocals int
	Code      []bytecode.Instr
}

func (m *Method) String() string { return m.Holder.Name + "." + m.Name }

func (m *Method) IsClassInitializer() bool {
	return m.Static && m.Name == ClassInitializerName
}

func (m *Method) IsObjectInitializer() bool {
	return !m.Static && m.Name == ObjectInitializerName
}

// ArgSlots is the number of local slots taken by the receiver and parameters.
func (m *Method) ArgSlots() int {
	n := 0
	if !m.Static {
		n++
	}
	for _, p := range m.Params {
		n += p.BasicType.Size()
	}
	return n
}

// Object is a heap object whose identity and (some) contents are known to the
// compiler: class mirrors and constant oops.
type Object struct {
	ID     int
	Klass  *Klass
	Mirror bool
	values map[*Field]Constant
}

func (o *Object) String() string {
	if o.Mirror {
		return fmt.Sprintf("mirror(%s)", o.Klass.Name)
	}
	return fmt.Sprintf("obj%d(%s)", o.ID, o.Klass.Name)
}

func (o *Object) FieldValue(f *Field) (Constant, bool) {
	c, ok := o.values[f]
	return c, ok
}

func (o *Object) SetFieldValue(f *Field, c Constant) {
	if o.values == nil {
		o.values = map[*Field]Constant{}
	}
	o.values[f] = c
}

type Constant struct {
	BasicType BasicType
	Int       int64
	Float     float64
	Object    *Object
}

func NullConstant() Constant { return Constant{BasicType: TObject} }

func (c Constant) IsNull() bool { return c.BasicType.IsReference() && c.Object == nil }

// IsDefault reports whether c is the zero value of its type. Stable fields only
// fold non-default values.
func (c Constant) IsDefault() bool {
	switch {
	case c.BasicType.IsReference():
		return c.Object == nil
	case c.BasicType == TFloat || c.BasicType == TDouble:
		return c.Float == 0
	default:
		return c.Int == 0
	}
}

func (c Constant) String() string {
	switch {
	case c.BasicType.IsReference():
		if c.Object == nil {
			return "null"
		}
		return c.Object.String()
	case c.BasicType == TFloat || c.BasicType == TDouble:
		return fmt.Sprintf("%g", c.Float)
	default:
		return fmt.Sprintf("%d", c.Int)
	}
}

type Env struct {
	klasses []*Klass
	byName  map[string]*Klass
	arrays  map[*Klass]*Klass
	prims   map[BasicType]*Klass
	methods map[string]*Method
	order   []*Method
	objects int
}

func NewEnv() *Env {
	return &Env{
		byName:  map[string]*Klass{},
		arrays:  map[*Klass]*Klass{},
		prims:   map[BasicType]*Klass{},
		methods: map[string]*Method{},
	}
}

func (e *Env) DefineKlass(name string) (*Klass, error) {
	if _, ok := e.byName[name]; ok {
		return nil, fmt.Errorf("duplicate class %s", name)
	}
	k := &Klass{Name: name, Loaded: true, State: StateFullyInitialized}
	e.register(k)
	k.Mirror = e.newObject(k)
	k.Mirror.Mirror = true
	return k, nil
}

func (e *Env) register(k *Klass) {
	e.klasses = append(e.klasses, k)
	k.ID = len(e.klasses)
	e.byName[k.Name] = k
}

func (e *Env) Klass(name string) *Klass { return e.byName[name] }

// KlassByID returns the klass with the given id, or nil.
func (e *Env) KlassByID(id int) *Klass {
	if id <= 0 || id > len(e.klasses) {
		return nil
	}
	return e.klasses[id-1]
}

// Klasses returns every klass known so far, including array klasses created on
// demand, in id order.
func (e *Env) Klasses() []*Klass {
	out := make([]*Klass, len(e.klasses))
	copy(out, e.klasses)
	return out
}

// ArrayOf returns the object-array klass whose elements are elem. The array
// klass is loaded exactly when its element klass is.
func (e *Env) ArrayOf(elem *Klass) *Klass {
	if ak, ok := e.arrays[elem]; ok {
		return ak
	}
	ak := &Klass{
		Name:     elem.Name + "[]",
		Loaded:   elem.Loaded,
		State:    StateFullyInitialized,
		Elem:     elem,
		ElemType: TObject,
		Dims:     elem.Dims + 1,
	}
	e.register(ak)
	e.arrays[elem] = ak
	return ak
}

func (e *Env) TypeArrayOf(bt BasicType) *Klass {
	if ak, ok := e.prims[bt]; ok {
		return ak
	}
	ak := &Klass{
		Name:     bt.String() + "[]",
		Loaded:   true,
		State:    StateFullyInitialized,
		ElemType: bt,
		Dims:     1,
	}
	e.register(ak)
	e.prims[bt] = ak
	return ak
}

// ResolveType resolves a source type name such as "int", "Point" or "long[][]".
func (e *Env) ResolveType(name string) (Sig, error) {
	dims := 0
	for strings.HasSuffix(name, "[]") {
		name = strings.TrimSuffix(name, "[]")
		dims++
	}
	var k *Klass
	if bt, ok := ParseBasicType(name); ok {
		if dims == 0 {
			return Sig{BasicType: bt}, nil
		}
		if bt == TVoid {
			return Sig{}, fmt.Errorf("array of void")
		}
		k = e.TypeArrayOf(bt)
		dims--
	} else {
		k = e.Klass(name)
		if k == nil {
			return Sig{}, fmt.Errorf("unknown class %s", name)
		}
	}
	for ; dims > 0; dims-- {
		k = e.ArrayOf(k)
	}
	if k.IsArray() {
		return Sig{BasicType: TArray, Klass: k}, nil
	}
	return Sig{BasicType: TObject, Klass: k}, nil
}

func (e *Env) NewObject(k *Klass) *Object { return e.newObject(k) }

func (e *Env) newObject(k *Klass) *Object {
	e.objects++
	return &Object{ID: e.objects, Klass: k}
}

// LookupField finds a field by name in holder or its supers, regardless of
// whether it is static.
func (e *Env) LookupField(holder, name string) (*Field, error) {
	k := e.Klass(holder)
	if k == nil {
		return nil, fmt.Errorf("unknown class %s", holder)
	}
	f := k.lookupField(name)
	if f == nil {
		return nil, fmt.Errorf("unknown field %s.%s", holder, name)
	}
	return f, nil
}

func (e *Env) AddMethod(m *Method) error {
	key := m.String()
	if _, ok := e.methods[key]; ok {
		return fmt.Errorf("duplicate method %s", key)
	}
	e.methods[key] = m
	e.order = append(e.order, m)
	return nil
}

func (e *Env) Method(qualified string) *Method { return e.methods[qualified] }

func (e *Env) Methods() []*Method {
	out := make([]*Method, len(e.order))
	copy(out, e.order)
	return out
}

// LocalKind maps the kind operand of load and store to a basic type.
func LocalKind(kind string) (BasicType, bool) {
	switch kind {
	case "int":
		return TInt, true
	case "long":
		return TLong, true
	case "float":
		return TFloat, true
	case "double":
		return TDouble, true
	case "ref":
		return TObject, true
	}
	return TIllegal, false
}
