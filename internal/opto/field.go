package opto

import (
	"fmt"

	"opto/internal/ci"
	"opto/internal/complog"
	"opto/internal/graph"
	"opto/internal/types"
)

// FieldRep is how a field's storage is accessed. It is one of Scalar,
// Reference or Flattened.
type FieldRep interface {
	fieldRep()
}

// Scalar is a primitive field accessed with a single load or store.
type Scalar struct {
	BasicType ci.BasicType
}

// Reference is a field holding a pointer. Non-flattenable composite fields
// may hold null and are accessed as plain references.
type Reference struct {
	BasicType ci.BasicType
}

// Flattened is a composite stored inline in its container.
type Flattened struct {
	Klass *ci.Klass
}

func (Scalar) fieldRep()    {}
func (Reference) fieldRep() {}
func (Flattened) fieldRep() {}

func RepOf(f *ci.Field) FieldRep {
	bt := f.LayoutType()
	switch {
	case f.Flattened:
		return Flattened{Klass: f.Type}
	case bt == ci.TValueType && !f.Flattenable:
		return Reference{BasicType: ci.TValueTypePtr}
	case bt.IsReference():
		return Reference{BasicType: bt}
	}
	return Scalar{BasicType: bt}
}

// staticFieldOKInClinit reports whether the current method may touch static
// state of an uninitialized holder: the holder's own class initializer, or a
// constructor of the holder or a subclass.
func (p *Parser) staticFieldOKInClinit(holder *ci.Klass) bool {
	m := p.method
	if m.Static {
		return m.Holder == holder && m.Name == ci.ClassInitializerName
	}
	return m.Holder.IsSubclassOf(holder) && m.Name == ci.ObjectInitializerName
}

// DoFieldAccess lowers getfield, putfield, getstatic and putstatic of field.
// isField is the instance/static kind the bytecode claims.
func (p *Parser) DoFieldAccess(isGet, isField bool, field *ci.Field) {
	holder := field.Holder

	if isField && isGet && !field.Static && holder.Value && p.isValueType(p.JVMS.Peek(0)) {
		vt := p.JVMS.Pop()
		p.pushNode(field.LayoutType(), p.fieldValueByOffset(vt, field.Offset))
		return
	}

	if isField == field.Static {
		p.UncommonTrap(graph.ReasonUnhandled, graph.ActionNone, nil, "")
		return
	}

	if !isField && !holder.IsInitialized() && !p.staticFieldOKInClinit(holder) {
		p.UncommonTrap(graph.ReasonUninitialized, graph.ActionReinterpret, nil, "!static_field_ok_in_clinit")
		return
	}

	if !isGet && field.CallSiteTarget {
		p.UncommonTrap(graph.ReasonUnhandled, graph.ActionReinterpret, nil, "put to call site target field")
		return
	}

	if !isField {
		obj := p.MakeCon(types.FromConstant(holder.Mirror))
		if isGet {
			p.doGet(obj, field)
		} else {
			p.doPut(obj, field, false)
		}
		return
	}

	depth := 0
	if !isGet {
		depth = field.LayoutType().Size()
	}
	obj := p.NullCheck(p.JVMS.Peek(depth))
	if p.Stopped() {
		return
	}
	if isGet {
		p.JVMS.Pop()
		p.doGet(obj, field)
		return
	}
	p.doPut(obj, field, true)
	if p.Stopped() {
		return
	}
	p.JVMS.Pop()
}

func (p *Parser) doGet(obj graph.NodeID, field *ci.Field) {
	bt := field.LayoutType()

	if field.IsConstant() && (!bt.IsReference() || field.TypeLoaded()) {
		if c, ok := p.folder.FoldField(field, p.G.Type(obj)); ok {
			p.pushNode(bt, p.MakeCon(types.FromConstantValue(c)))
			return
		}
	}

	offset := field.Offset
	adr := p.BasicPlusAdr(obj, int64(offset))

	var t types.Type
	mustAssertNull := false
	switch {
	case !bt.IsReference():
		t = types.Basic(bt)
	case !field.TypeLoaded():
		t = types.InstBottom()
		mustAssertNull = true
	case field.IsStaticConstant():
		t = types.FromConstantValue(*field.Constant)
	default:
		t = types.FromKlass(field.Type)
		if bt == ci.TValueType && field.Static {
			if v, ok := field.Holder.Mirror.FieldValue(field); ok && !v.IsNull() {
				t = t.JoinNotNull()
			}
		}
	}

	if p.Opts.SupportIRIW && field.Volatile {
		p.InsertMemBar(graph.BarrierVolatile, graph.None)
	}

	mo := graph.Unordered
	if field.Volatile {
		mo = graph.Acquire
	}
	atomic := field.Volatile || p.Opts.AlwaysAtomicAccesses

	var ld graph.NodeID
	switch rep := RepOf(field).(type) {
	case Flattened:
		ld = p.loadFlattened(rep.Klass, obj, offset)
	case Reference:
		ld = p.MakeLoad(adr, t, rep.BasicType, mo, atomic)
	case Scalar:
		ld = p.MakeLoad(adr, t, rep.BasicType, mo, atomic)
	}
	p.pushNode(bt, ld)

	if mustAssertNull {
		if p.Opts.PrintOpto && p.Opts.Verbose {
			fmt.Fprintf(p.trace, "%s asserting nullness of field at bci: %d\n", p.method, p.JVMS.Bci)
		}
		p.Log.Elem("assert_null", complog.A("reason", "field"), complog.A("klass", p.Log.Identify(field.Type)))
		cur := p.JVMS.Bci
		p.JVMS.Bci = p.JVMS.NextBci
		p.NullAssert(p.JVMS.Peek(0))
		p.JVMS.Bci = cur
		if p.Stopped() {
			return
		}
	}

	if field.Volatile {
		p.InsertMemBar(graph.BarrierAcquire, ld)
	}
}

func (p *Parser) doPut(obj graph.NodeID, field *ci.Field, isField bool) {
	isVol := field.Volatile
	if isVol {
		p.InsertMemBar(graph.BarrierRelease, graph.None)
	}

	offset := field.Offset
	adr := p.BasicPlusAdr(obj, int64(offset))
	bt := field.LayoutType()
	val := p.popNode(bt)
	if bt == ci.TDouble {
		val = p.DstoreRounding(val)
	}

	mo := graph.ReleaseIfReference(bt)
	if isVol {
		mo = graph.Release
	}

	switch rep := RepOf(field).(type) {
	case Scalar:
		p.StoreToMemory(adr, val, rep.BasicType, mo, isVol || p.Opts.AlwaysAtomicAccesses)
	default:
		if field.Flattenable && !p.isValueType(val) {
			if t := p.G.Type(val); p.Opts.DebugAssertions && !t.IsNull() {
				panic(fmt.Sprintf("%s: flattenable store of %s", field, t))
			}
			p.JVMS.Push(p.Null())
			p.UncommonTrap(graph.ReasonNullCheck, graph.ActionNone, nil, "")
			return
		}
		if _, ok := rep.(Flattened); ok {
			p.storeFlattened(val, obj, offset)
		} else {
			p.StoreOopToObject(obj, adr, val, bt, mo)
		}
	}

	if isVol {
		if !p.Opts.SupportIRIW {
			p.InsertMemBar(graph.BarrierVolatile, graph.None)
		}
		if isField {
			p.Ctx.WroteVolatile = true
		}
	}

	if isField {
		p.Ctx.WroteFields = true
	}

	if isField && (field.Final || field.Stable) {
		if field.Final {
			p.Ctx.WroteFinal = true
		}
		if field.Stable {
			p.Ctx.WroteStable = true
		}
		if field.Final && p.IdealAllocation(obj) {
			p.Ctx.AllocWithFinal = obj
		}
	}
}
