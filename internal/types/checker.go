package types

import (
	"fmt"

	"opto/internal/ast"
	"opto/internal/bytecode"
	"opto/internal/ci"
)

// Checker resolves parsed modules into class metadata. It declares every
// class, lays out fields, fills in static initial values and translates method
// bodies into verified bytecode.
type Checker struct {
	Modules []*ast.Module
	Env     *ci.Env
	Errors  []error

	decls   map[*ci.Klass]*ast.ClassDecl
	paths   map[*ci.Klass]string
	fields  map[*ci.Field]*ast.FieldDecl
	methods []pendingMethod
}

type pendingMethod struct {
	path string
	decl *ast.MethodDecl
	m    *ci.Method
}

func NewChecker() *Checker {
	return &Checker{
		Env:    ci.NewEnv(),
		decls:  map[*ci.Klass]*ast.ClassDecl{},
		paths:  map[*ci.Klass]string{},
		fields: map[*ci.Field]*ast.FieldDecl{},
	}
}

func (c *Checker) AddModule(mod *ast.Module) {
	c.Modules = append(c.Modules, mod)
}

func (c *Checker) Check() bool {
	var order []*ci.Klass
	for _, mod := range c.Modules {
		for _, decl := range mod.Classes {
			if k := c.declareClass(mod.Path, decl); k != nil {
				order = append(order, k)
			}
		}
	}
	for _, k := range order {
		c.resolveSuper(k)
	}
	for _, k := range order {
		c.declareFields(k)
	}
	c.layout(order)
	if len(c.Errors) > 0 {
		return false
	}
	for _, k := range order {
		c.initStatics(k)
	}
	for _, k := range order {
		c.declareMethods(k)
	}
	for _, pm := range c.methods {
		c.checkMethod(pm)
	}
	return len(c.Errors) == 0
}

func (c *Checker) errorf(path string, span ast.Span, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.Errors = append(c.Errors, fmt.Errorf("%s:%d:%d: %s", path, span.Start.Line, span.Start.Col, msg))
}

func (c *Checker) declareClass(path string, decl *ast.ClassDecl) *ci.Klass {
	k, err := c.Env.DefineKlass(decl.Name)
	if err != nil {
		c.errorf(path, decl.Span, "%v", err)
		return nil
	}
	k.Value = decl.Value
	k.Loaded = !decl.Unloaded
	switch decl.State {
	case "", "initialized":
		k.State = ci.StateFullyInitialized
	case "linked":
		k.State = ci.StateLinked
	case "being_initialized":
		k.State = ci.StateBeingInitialized
	default:
		c.errorf(path, decl.Span, "unknown class state %q", decl.State)
	}
	c.decls[k] = decl
	c.paths[k] = path
	return k
}

func (c *Checker) resolveSuper(k *ci.Klass) {
	decl, path := c.decls[k], c.paths[k]
	if decl.Extends == "" {
		return
	}
	super := c.Env.Klass(decl.Extends)
	switch {
	case super == nil:
		c.errorf(path, decl.Span, "unknown class %s", decl.Extends)
		return
	case k.Value:
		c.errorf(path, decl.Span, "value class %s cannot extend %s", k.Name, super.Name)
		return
	case super.Value:
		c.errorf(path, decl.Span, "%s cannot extend value class %s", k.Name, super.Name)
		return
	}
	for s := super; s != nil; s = s.Super {
		if s == k {
			c.errorf(path, decl.Span, "class %s extends itself", k.Name)
			return
		}
	}
	k.Super = super
}

func (c *Checker) declareFields(k *ci.Klass) {
	decl, path := c.decls[k], c.paths[k]
	seen := map[string]bool{}
	for _, fd := range decl.Fields {
		if seen[fd.Name] {
			c.errorf(path, fd.Span, "duplicate field %s.%s", k.Name, fd.Name)
			continue
		}
		seen[fd.Name] = true
		sig, err := c.Env.ResolveType(fd.Type.String())
		if err != nil {
			c.errorf(path, fd.Type.Span, "%v", err)
			continue
		}
		if sig.BasicType == ci.TVoid {
			c.errorf(path, fd.Type.Span, "field %s cannot be void", fd.Name)
			continue
		}
		f := &ci.Field{
			Holder:         k,
			Name:           fd.Name,
			BasicType:      sig.BasicType,
			Type:           sig.Klass,
			Static:         fd.Has(ast.ModStatic),
			Volatile:       fd.Has(ast.ModVolatile),
			Final:          fd.Has(ast.ModFinal),
			Stable:         fd.Has(ast.ModStable),
			Flattenable:    fd.Has(ast.ModFlattenable) || fd.Has(ast.ModFlattened),
			Flattened:      fd.Has(ast.ModFlattened),
			CallSiteTarget: fd.Has(ast.ModCallSite),
		}
		// Instance fields of value classes are immutable.
		if k.Value && !f.Static {
			f.Final = true
		}
		if f.Flattenable && (f.Type == nil || !f.Type.Value) {
			c.errorf(path, fd.Span, "%s: only value class fields can be flattenable", f)
			continue
		}
		if f.Flattened && f.Static {
			c.errorf(path, fd.Span, "%s: static fields cannot be flattened", f)
			continue
		}
		if f.Flattened && !f.Type.Loaded {
			c.errorf(path, fd.Span, "%s: cannot flatten unloaded class %s", f, f.Type.Name)
			continue
		}
		if fd.Init != nil && !f.Static {
			c.errorf(path, fd.Span, "%s: only static fields can have an initial value", f)
			continue
		}
		k.Fields = append(k.Fields, f)
		c.fields[f] = fd
	}
}

// layout lays out klasses after their supers and the value classes they
// flatten.
func (c *Checker) layout(order []*ci.Klass) {
	const (
		pending = iota
		active
		done
	)
	state := map[*ci.Klass]int{}
	var visit func(k *ci.Klass) bool
	visit = func(k *ci.Klass) bool {
		switch state[k] {
		case done:
			return true
		case active:
			c.errorf(c.paths[k], c.decls[k].Span, "class %s contains itself", k.Name)
			return false
		}
		state[k] = active
		deps := []*ci.Klass{}
		if k.Super != nil {
			deps = append(deps, k.Super)
		}
		for _, f := range k.Fields {
			if f.Flattened {
				deps = append(deps, f.Type)
			}
		}
		for _, d := range deps {
			if !visit(d) {
				return false
			}
		}
		if err := ci.Layout(k); err != nil {
			c.errorf(c.paths[k], c.decls[k].Span, "%v", err)
			return false
		}
		state[k] = done
		return true
	}
	for _, k := range order {
		visit(k)
	}
}

// initStatics records the initial value of every static field in the mirror.
// Flattenable statics start out as the default instance of their class.
func (c *Checker) initStatics(k *ci.Klass) {
	for _, f := range k.StaticFields() {
		fd := c.fields[f]
		var v ci.Constant
		switch {
		case fd.Init != nil:
			cv, ok := c.literal(c.paths[k], fd, f)
			if !ok {
				continue
			}
			v = cv
		case f.Flattenable && f.Type.Loaded:
			v = ci.Constant{BasicType: f.BasicType, Object: c.newConstantObject(f.Type)}
		default:
			v = ci.Constant{BasicType: f.BasicType}
		}
		k.Mirror.SetFieldValue(f, v)
		if f.Final && fd.Init != nil {
			cv := v
			f.Constant = &cv
		}
	}
}

func (c *Checker) literal(path string, fd *ast.FieldDecl, f *ci.Field) (ci.Constant, bool) {
	lit := fd.Init
	bt := f.BasicType
	switch {
	case bt == ci.TFloat || bt == ci.TDouble:
		switch lit.Kind {
		case ast.LitInt:
			return ci.Constant{BasicType: bt, Float: float64(lit.Int)}, true
		case ast.LitFloat:
			return ci.Constant{BasicType: bt, Float: lit.Float}, true
		}
	case bt.IsReference():
		switch lit.Kind {
		case ast.LitNull:
			if f.Flattenable {
				c.errorf(path, lit.Span, "%s: flattenable field cannot be null", f)
				return ci.Constant{}, false
			}
			return ci.Constant{BasicType: bt}, true
		case ast.LitNew:
			if f.Type.IsArray() || !f.Type.Loaded {
				c.errorf(path, lit.Span, "%s: cannot create a constant %s", f, f.Type.Name)
				return ci.Constant{}, false
			}
			return ci.Constant{BasicType: bt, Object: c.newConstantObject(f.Type)}, true
		}
	default:
		if lit.Kind == ast.LitInt {
			return ci.Constant{BasicType: bt, Int: lit.Int}, true
		}
	}
	c.errorf(path, lit.Span, "%s: constant does not match type %s", f, fd.Type)
	return ci.Constant{}, false
}

// newConstantObject creates a zeroed instance whose scalar and plain
// reference fields are known to the compiler.
func (c *Checker) newConstantObject(k *ci.Klass) *ci.Object {
	o := c.Env.NewObject(k)
	for _, f := range k.InstanceFields() {
		if f.Flattened || f.LayoutType() == ci.TValueType {
			continue
		}
		o.SetFieldValue(f, ci.Constant{BasicType: f.BasicType})
	}
	return o
}

func (c *Checker) declareMethods(k *ci.Klass) {
	decl, path := c.decls[k], c.paths[k]
	for _, md := range decl.Methods {
		m := &ci.Method{Holder: k, Name: md.Name, Static: md.Static}
		ok := true
		for _, p := range md.Params {
			sig, err := c.resolveSig(p)
			if err != nil || sig.BasicType == ci.TVoid {
				c.errorf(path, p.Span, "bad parameter type %s", p)
				ok = false
				continue
			}
			m.Params = append(m.Params, sig)
		}
		ret, err := c.resolveSig(md.Ret)
		if err != nil {
			c.errorf(path, md.Ret.Span, "%v", err)
			ok = false
		}
		m.Ret = ret
		switch {
		case md.Name == ci.ObjectInitializerName && md.Static:
			c.errorf(path, md.Span, "%s must not be static", md.Name)
			ok = false
		case md.Name == ci.ClassInitializerName && !md.Static:
			c.errorf(path, md.Span, "%s must be static", md.Name)
			ok = false
		}
		if !ok {
			continue
		}
		if err := c.Env.AddMethod(m); err != nil {
			c.errorf(path, md.Span, "%v", err)
			continue
		}
		c.methods = append(c.methods, pendingMethod{path: path, decl: md, m: m})
	}
}

func (c *Checker) resolveSig(t ast.TypeExpr) (ci.Sig, error) {
	return c.Env.ResolveType(t.String())
}

// stackKind collapses a basic type to the kind the verifier tracks.
func stackKind(bt ci.BasicType) ci.BasicType {
	switch {
	case bt.IsReference():
		return ci.TObject
	case bt.IsSubword():
		return ci.TInt
	}
	return bt
}

func kindName(bt ci.BasicType) string {
	if bt == ci.TObject {
		return "ref"
	}
	return bt.String()
}

// verifier simulates the operand stack and locals of straight-line code.
type verifier struct {
	c      *Checker
	path   string
	stack  []ci.BasicType
	locals []ci.BasicType
	failed bool
}

func (v *verifier) fail(span ast.Span, format string, args ...any) {
	if !v.failed {
		v.c.errorf(v.path, span, format, args...)
	}
	v.failed = true
}

func (v *verifier) push(bt ci.BasicType) { v.stack = append(v.stack, stackKind(bt)) }

func (v *verifier) pop(span ast.Span, want ci.BasicType) {
	want = stackKind(want)
	if len(v.stack) == 0 {
		v.fail(span, "stack underflow")
		return
	}
	got := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	if want != ci.TIllegal && got != want {
		v.fail(span, "expected %s on the stack, found %s", kindName(want), kindName(got))
	}
}

// popNarrow pops a single-slot value of any kind.
func (v *verifier) popNarrow(span ast.Span) ci.BasicType {
	if len(v.stack) == 0 {
		v.fail(span, "stack underflow")
		return ci.TIllegal
	}
	got := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	if got.Size() != 1 {
		v.fail(span, "%s value cannot be moved as a single slot", kindName(got))
	}
	return got
}

func (v *verifier) setLocal(span ast.Span, idx int, bt ci.BasicType) {
	for len(v.locals) < idx+bt.Size() {
		v.locals = append(v.locals, ci.TIllegal)
	}
	v.locals[idx] = bt
	if bt.Size() == 2 {
		v.locals[idx+1] = ci.TVoid
	}
}

func (v *verifier) local(span ast.Span, idx int, bt ci.BasicType) {
	if idx < 0 || idx >= len(v.locals) || v.locals[idx] != bt || (bt.Size() == 2 && (idx+1 >= len(v.locals) || v.locals[idx+1] != ci.TVoid)) {
		v.fail(span, "local %d does not hold a %s", idx, kindName(bt))
	}
}

func (c *Checker) checkMethod(pm pendingMethod) {
	m, md := pm.m, pm.decl
	v := &verifier{c: c, path: pm.path}
	slot := 0
	if !m.Static {
		v.setLocal(md.Span, 0, ci.TObject)
		slot = 1
	}
	for _, p := range m.Params {
		v.setLocal(md.Span, slot, stackKind(p.BasicType))
		slot += p.BasicType.Size()
	}
	maxLocals := slot
	returned := false
	for _, ai := range md.Body {
		if returned {
			v.fail(ai.Span, "unreachable instruction after return")
			break
		}
		in, ok := c.translate(pm.path, ai)
		if !ok {
			v.failed = true
			continue
		}
		if in.Op == bytecode.Load || in.Op == bytecode.Store {
			bt, _ := ci.LocalKind(in.Kind)
			if n := int(in.Int) + bt.Size(); n > maxLocals {
				maxLocals = n
			}
		}
		c.step(v, m, ai.Span, in)
		m.Code = append(m.Code, in)
		returned = in.Op == bytecode.Return
	}
	if !returned && !v.failed {
		v.fail(md.Span, "%s: missing return", m)
	}
	m.MaxLocals = maxLocals
}

// translate resolves the operands of one instruction.
func (c *Checker) translate(path string, ai ast.Instr) (bytecode.Instr, bool) {
	op, ok := bytecode.Lookup(ai.Mnemonic)
	if !ok {
		c.errorf(path, ai.Span, "unknown instruction %q", ai.Mnemonic)
		return bytecode.Instr{}, false
	}
	in := bytecode.Instr{
		Op:    op,
		Int:   ai.Int,
		Float: ai.Float,
		Class: ai.Class,
		Name:  ai.Name,
		Kind:  ai.Kind,
		Line:  ai.Span.Start.Line,
		Col:   ai.Span.Start.Col,
	}
	switch op.Operand() {
	case bytecode.OperandLocal:
		if _, ok := ci.LocalKind(in.Kind); !ok {
			c.errorf(path, ai.Span, "bad local kind %q", in.Kind)
			return in, false
		}
		if in.Int < 0 {
			c.errorf(path, ai.Span, "negative local index %d", in.Int)
			return in, false
		}
	case bytecode.OperandPrimitive:
		if bt, ok := ci.ParseBasicType(in.Kind); !ok || bt == ci.TVoid {
			c.errorf(path, ai.Span, "bad array element type %q", in.Kind)
			return in, false
		}
	case bytecode.OperandClass, bytecode.OperandClassDims:
		if _, err := c.Env.ResolveType(in.Class); err != nil {
			c.errorf(path, ai.Span, "%v", err)
			return in, false
		}
	case bytecode.OperandField:
		if _, err := c.Env.LookupField(in.Class, in.Name); err != nil {
			c.errorf(path, ai.Span, "%v", err)
			return in, false
		}
	}
	return in, true
}

func (c *Checker) step(v *verifier, m *ci.Method, span ast.Span, in bytecode.Instr) {
	switch in.Op {
	case bytecode.Nop:
	case bytecode.AConstNull:
		v.push(ci.TObject)
	case bytecode.IConst:
		v.push(ci.TInt)
	case bytecode.LConst:
		v.push(ci.TLong)
	case bytecode.FConst:
		v.push(ci.TFloat)
	case bytecode.DConst:
		v.push(ci.TDouble)
	case bytecode.Load:
		bt, _ := ci.LocalKind(in.Kind)
		v.local(span, int(in.Int), bt)
		v.push(bt)
	case bytecode.Store:
		bt, _ := ci.LocalKind(in.Kind)
		v.pop(span, bt)
		v.setLocal(span, int(in.Int), bt)
	case bytecode.Dup:
		bt := v.popNarrow(span)
		v.push(bt)
		v.push(bt)
	case bytecode.Pop:
		v.popNarrow(span)
	case bytecode.Swap:
		a := v.popNarrow(span)
		b := v.popNarrow(span)
		v.push(a)
		v.push(b)
	case bytecode.New:
		sig, _ := c.Env.ResolveType(in.Class)
		if sig.Klass == nil || sig.Klass.IsArray() || sig.Klass.Value {
			v.fail(span, "new cannot create %s", in.Class)
		}
		v.push(ci.TObject)
	case bytecode.GetField, bytecode.GetStatic:
		f, _ := c.Env.LookupField(in.Class, in.Name)
		if in.Op == bytecode.GetField {
			v.pop(span, ci.TObject)
		}
		v.push(f.LayoutType())
	case bytecode.PutField, bytecode.PutStatic:
		f, _ := c.Env.LookupField(in.Class, in.Name)
		if f.Holder.Value && !f.Static {
			v.fail(span, "%s: value class fields are changed with withfield", f)
		}
		v.pop(span, f.LayoutType())
		if in.Op == bytecode.PutField {
			v.pop(span, ci.TObject)
		}
	case bytecode.NewArray, bytecode.ANewArray:
		if in.Op == bytecode.ANewArray {
			if sig, _ := c.Env.ResolveType(in.Class); sig.Klass == nil {
				v.fail(span, "anewarray needs a class, not %s", in.Class)
			}
		}
		v.pop(span, ci.TInt)
		v.push(ci.TObject)
	case bytecode.MultiANewArray:
		sig, _ := c.Env.ResolveType(in.Class)
		if sig.Klass == nil || !sig.Klass.IsArray() || in.Int < 1 || int(in.Int) > sig.Klass.Dims {
			v.fail(span, "%s cannot be created with %d dimensions", in.Class, in.Int)
			return
		}
		for i := int64(0); i < in.Int; i++ {
			v.pop(span, ci.TInt)
		}
		v.push(ci.TObject)
	case bytecode.DefaultValue:
		sig, _ := c.Env.ResolveType(in.Class)
		if sig.Klass == nil || !sig.Klass.Value {
			v.fail(span, "%s is not a value class", in.Class)
		}
		v.push(ci.TObject)
	case bytecode.WithField:
		f, _ := c.Env.LookupField(in.Class, in.Name)
		if !f.Holder.Value || f.Static {
			v.fail(span, "withfield needs an instance field of a value class, not %s", f)
		}
		v.pop(span, f.LayoutType())
		v.pop(span, ci.TObject)
		v.push(ci.TObject)
	case bytecode.Return:
		if bt := m.Ret.BasicType; bt != ci.TVoid {
			v.pop(span, bt)
		}
	}
}
