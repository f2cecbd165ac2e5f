package opto

import (
	"math"
	"strings"
	"testing"

	"opto/internal/bytecode"
	"opto/internal/ci"
	"opto/internal/complog"
	"opto/internal/config"
	"opto/internal/graph"
	"opto/internal/types"
)

func TestGetAfterPutObservesStoredValue(t *testing.T) {
	tests := []struct {
		name  string
		field *ci.Field
		kind  string
		sig   ci.Sig
	}{
		{"int", intField("x"), "int", intSig},
		{"long", &ci.Field{Name: "x", BasicType: ci.TLong}, "long", longSig},
		{"float", &ci.Field{Name: "x", BasicType: ci.TFloat}, "float", ci.Sig{BasicType: ci.TFloat}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t)
			k := w.klass("P", nil, tt.field)
			m := w.method(k, "set", false, []ci.Sig{tt.sig}, tt.sig,
				load("ref", 0),
				load(tt.kind, 1),
				access(bytecode.PutField, tt.field),
				load("ref", 0),
				access(bytecode.GetField, tt.field),
				op(bytecode.Return),
			)
			g := w.parse(m)
			if got, want := returned(t, g).ID, parmOf(g, 1); got != want {
				t.Fatalf("get after put returned n%d, want the stored parameter n%d", got, want)
			}
			if g.Count(graph.OpLoad) != 0 {
				t.Fatalf("load should have been replaced by the stored value")
			}
		})
	}
}

func TestDoubleStoreLoadIsRounded(t *testing.T) {
	w := newWorld(t)
	f := &ci.Field{Name: "d", BasicType: ci.TDouble}
	k := w.klass("D", nil, f)
	m := w.method(k, "roundTrip", false, []ci.Sig{doubleSig}, doubleSig,
		load("ref", 0),
		load("double", 1),
		access(bytecode.PutField, f),
		load("ref", 0),
		access(bytecode.GetField, f),
		op(bytecode.Return),
	)
	g := w.parse(m)
	got := returned(t, g)
	if got.Op != graph.OpRoundDouble || got.In[0] != parmOf(g, 1) {
		t.Fatalf("expected RoundDouble of the parameter, got %s", got)
	}

	nan := math.Float64frombits(0x7ff0000000000123)
	m = w.method(k, "roundNaN", false, nil, doubleSig,
		load("ref", 0),
		bytecode.Instr{Op: bytecode.DConst, Float: nan},
		access(bytecode.PutField, f),
		load("ref", 0),
		access(bytecode.GetField, f),
		op(bytecode.Return),
	)
	g = w.parse(m)
	ct := returned(t, g).Type
	if !ct.FCon || math.Float64bits(ct.F) != graph.CanonicalNaN {
		t.Fatalf("stored NaN read back as %v", ct)
	}
}

type accessCase struct {
	get      bool
	volatile bool
	ref      bool
}

func (c accessCase) String() string {
	var parts []string
	if c.get {
		parts = append(parts, "get")
	} else {
		parts = append(parts, "put")
	}
	if c.volatile {
		parts = append(parts, "volatile")
	}
	if c.ref {
		parts = append(parts, "ref")
	} else {
		parts = append(parts, "int")
	}
	return strings.Join(parts, "_")
}

func lowerAccess(t *testing.T, c accessCase, opts config.Options) *graph.Graph {
	w := newWorld(t)
	elem := w.klass("Elem", nil)
	f := intField("f")
	sig, kind := intSig, "int"
	if c.ref {
		f = refField("f", elem)
		sig, kind = refSig(elem), "ref"
	}
	f.Volatile = c.volatile
	k := w.klass("V", nil, f)
	var m *ci.Method
	if c.get {
		m = w.method(k, "get", false, nil, sig,
			load("ref", 0),
			access(bytecode.GetField, f),
			op(bytecode.Return),
		)
	} else {
		m = w.method(k, "put", false, []ci.Sig{sig}, voidSig,
			load("ref", 0),
			load(kind, 1),
			access(bytecode.PutField, f),
			op(bytecode.Return),
		)
	}
	return w.parser(m, opts).G
}

func TestMemoryOrdering(t *testing.T) {
	for _, get := range []bool{true, false} {
		for _, vol := range []bool{true, false} {
			for _, ref := range []bool{true, false} {
				c := accessCase{get: get, volatile: vol, ref: ref}
				t.Run(c.String(), func(t *testing.T) {
					g := lowerAccess(t, c, config.Default())
					if c.get {
						checkGet(t, g, c)
					} else {
						checkPut(t, g, c)
					}
				})
			}
		}
	}
}

func checkGet(t *testing.T, g *graph.Graph, c accessCase) {
	loads := g.Find(graph.OpLoad)
	if len(loads) != 1 {
		t.Fatalf("expected one load, got %d", len(loads))
	}
	ld := loads[0]
	bars := g.Find(graph.OpMemBar)
	if !c.volatile {
		if ld.Aux.Order != graph.Unordered || ld.Aux.Atomic {
			t.Fatalf("plain load is %s atomic=%t", ld.Aux.Order, ld.Aux.Atomic)
		}
		if len(bars) != 0 {
			t.Fatalf("plain load has %d barriers", len(bars))
		}
		return
	}
	if ld.Aux.Order != graph.Acquire || !ld.Aux.Atomic {
		t.Fatalf("volatile load is %s atomic=%t", ld.Aux.Order, ld.Aux.Atomic)
	}
	if len(bars) != 1 || bars[0].Aux.Barrier != graph.BarrierAcquire {
		t.Fatalf("expected a single acquire barrier, got %v", bars)
	}
	if len(bars[0].In) != 2 || bars[0].In[1] != ld.ID {
		t.Fatalf("acquire barrier does not depend on the load: %s", bars[0])
	}
}

func checkPut(t *testing.T, g *graph.Graph, c accessCase) {
	stores := g.Find(graph.OpStore)
	if len(stores) != 1 {
		t.Fatalf("expected one store, got %d", len(stores))
	}
	st := stores[0]
	want := graph.Unordered
	if c.volatile || c.ref {
		want = graph.Release
	}
	if st.Aux.Order != want {
		t.Fatalf("store order = %s, want %s", st.Aux.Order, want)
	}
	ops := chainOps(g)
	if !c.volatile {
		if !sameOps(ops, []graph.Op{graph.OpStore, graph.OpReturn}) {
			t.Fatalf("plain store chain = %v", ops)
		}
		return
	}
	if !sameOps(ops, []graph.Op{graph.OpMemBar, graph.OpStore, graph.OpMemBar, graph.OpReturn}) {
		t.Fatalf("volatile store chain = %v", ops)
	}
	chain := g.EffectChain(g.Exits[0])
	if chain[0].Aux.Barrier != graph.BarrierRelease || chain[2].Aux.Barrier != graph.BarrierVolatile {
		t.Fatalf("unexpected barriers %s, %s", chain[0], chain[2])
	}
	adr := g.Node(st.In[1])
	if adr.Op != graph.OpAddP || adr.ID < chain[0].ID {
		t.Fatalf("address %s computed before the release barrier %s", adr, chain[0])
	}
}

func TestVolatileAccessWithIRIWSupport(t *testing.T) {
	opts := config.Default()
	opts.SupportIRIW = true

	g := lowerAccess(t, accessCase{get: true, volatile: true}, opts)
	if ops := chainOps(g); !sameOps(ops, []graph.Op{graph.OpMemBar, graph.OpMemBar, graph.OpReturn}) {
		t.Fatalf("volatile get chain = %v", ops)
	}
	if b := g.EffectChain(g.Exits[0])[0]; b.Aux.Barrier != graph.BarrierVolatile {
		t.Fatalf("expected a leading volatile barrier, got %s", b)
	}

	g = lowerAccess(t, accessCase{get: false, volatile: true}, opts)
	if ops := chainOps(g); !sameOps(ops, []graph.Op{graph.OpMemBar, graph.OpStore, graph.OpReturn}) {
		t.Fatalf("volatile put chain = %v", ops)
	}
}

func TestAlwaysAtomicAccesses(t *testing.T) {
	opts := config.Default()
	opts.AlwaysAtomicAccesses = true
	g := lowerAccess(t, accessCase{get: true}, opts)
	if ld := g.Find(graph.OpLoad)[0]; !ld.Aux.Atomic || ld.Aux.Order != graph.Unordered {
		t.Fatalf("expected an atomic unordered load, got %s", ld)
	}
}

func staticWorld(t *testing.T) (*world, *ci.Klass, *ci.Field) {
	w := newWorld(t)
	f := &ci.Field{Name: "count", BasicType: ci.TInt, Static: true}
	k := w.klass("Counter", nil, f)
	k.State = ci.StateBeingInitialized
	return w, k, f
}

func staticCode(get bool, f *ci.Field) (ci.Sig, []bytecode.Instr) {
	if get {
		return intSig, []bytecode.Instr{access(bytecode.GetStatic, f), op(bytecode.Return)}
	}
	return voidSig, []bytecode.Instr{iconst(1), access(bytecode.PutStatic, f), op(bytecode.Return)}
}

func TestStaticAccessBeforeInitializationTraps(t *testing.T) {
	for _, get := range []bool{true, false} {
		for _, state := range []ci.InitState{ci.StateLinked, ci.StateBeingInitialized} {
			w, k, f := staticWorld(t)
			k.State = state
			other := w.klass("Other", nil)
			sub := w.klass("Sub", k)
			ret, code := staticCode(get, f)
			methods := []*ci.Method{
				w.method(other, "peek", true, nil, ret, code...),
				w.method(k, "helper", true, nil, ret, code...),
				w.method(other, ci.ObjectInitializerName, false, nil, ret, code...),
				w.method(other, ci.ClassInitializerName, true, nil, ret, code...),
				w.method(sub, "run", false, nil, ret, code...),
				w.method(sub, ci.ClassInitializerName, true, nil, ret, code...),
			}
			for _, m := range methods {
				g := w.parse(m)
				trap := trapOf(t, g)
				if trap.Reason != graph.ReasonUninitialized || trap.Action != graph.ActionReinterpret {
					t.Fatalf("%s (get=%t, %s): trap %s", m, get, state, trap)
				}
				if g.Count(graph.OpLoad)+g.Count(graph.OpStore) != 0 {
					t.Fatalf("%s: memory access emitted before the trap", m)
				}
			}
		}
	}
}

func TestStaticAccessFromInitializerOrConstructor(t *testing.T) {
	for _, get := range []bool{true, false} {
		for _, state := range []ci.InitState{ci.StateLinked, ci.StateBeingInitialized, ci.StateFullyInitialized} {
			w, k, f := staticWorld(t)
			k.State = state
			sub := w.klass("Sub", k)
			ret, code := staticCode(get, f)
			methods := []*ci.Method{
				w.method(k, ci.ClassInitializerName, true, nil, ret, code...),
				w.method(k, ci.ObjectInitializerName, false, nil, ret, code...),
				w.method(sub, ci.ObjectInitializerName, false, nil, ret, code...),
			}
			for _, m := range methods {
				g := w.parse(m)
				if n := exitOf(t, g); n.Op != graph.OpReturn {
					t.Fatalf("%s (get=%t, %s): path ends in %s", m, get, state, n)
				}
				want := graph.OpStore
				if get {
					want = graph.OpLoad
				}
				if g.Count(want) != 1 {
					t.Fatalf("%s: expected one %s", m, want)
				}
			}
		}
	}
}

func TestKindMismatchTraps(t *testing.T) {
	w := newWorld(t)
	inst := intField("i")
	stat := &ci.Field{Name: "s", BasicType: ci.TInt, Static: true}
	k := w.klass("K", nil, inst, stat)

	g := w.parse(w.method(k, "a", true, nil, intSig, access(bytecode.GetStatic, inst), op(bytecode.Return)))
	if trap := trapOf(t, g); trap.Reason != graph.ReasonUnhandled || trap.Action != graph.ActionNone {
		t.Fatalf("getstatic of instance field: %s", trap)
	}
	g = w.parse(w.method(k, "b", false, nil, intSig, load("ref", 0), access(bytecode.GetField, stat), op(bytecode.Return)))
	if trap := trapOf(t, g); trap.Reason != graph.ReasonUnhandled {
		t.Fatalf("getfield of static field: %s", trap)
	}
}

func TestPutToCallSiteTargetTraps(t *testing.T) {
	w := newWorld(t)
	f := intField("target")
	f.CallSiteTarget = true
	k := w.klass("CallSite", nil, f)
	g := w.parse(w.method(k, "set", false, nil, voidSig,
		load("ref", 0), iconst(1), access(bytecode.PutField, f), op(bytecode.Return)))
	trap := trapOf(t, g)
	if trap.Reason != graph.ReasonUnhandled || trap.Action != graph.ActionReinterpret || trap.Comment != "put to call site target field" {
		t.Fatalf("unexpected trap %s", trap)
	}
}

func TestStaticConstantsFold(t *testing.T) {
	w := newWorld(t)
	limit := &ci.Field{Name: "LIMIT", BasicType: ci.TInt, Static: true, Final: true, Constant: &ci.Constant{BasicType: ci.TInt, Int: 42}}
	cache := &ci.Field{Name: "cache", BasicType: ci.TInt, Static: true, Stable: true}
	k := w.klass("Cfg", nil, limit, cache)

	g := w.parse(w.method(k, "limit", true, nil, intSig, access(bytecode.GetStatic, limit), op(bytecode.Return)))
	if got := returned(t, g).Type; !got.Equals(types.IntCon(42)) {
		t.Fatalf("LIMIT folded to %s", got)
	}
	if g.Count(graph.OpLoad) != 0 {
		t.Fatalf("folded constant still loads")
	}

	k.Mirror.SetFieldValue(cache, ci.Constant{BasicType: ci.TInt})
	g = w.parse(w.method(k, "cache0", true, nil, intSig, access(bytecode.GetStatic, cache), op(bytecode.Return)))
	if g.Count(graph.OpLoad) != 1 {
		t.Fatalf("stable field holding its default value was folded")
	}

	k.Mirror.SetFieldValue(cache, ci.Constant{BasicType: ci.TInt, Int: 7})
	g = w.parse(w.method(k, "cache7", true, nil, intSig, access(bytecode.GetStatic, cache), op(bytecode.Return)))
	if got := returned(t, g).Type; !got.Equals(types.IntCon(7)) {
		t.Fatalf("stable field folded to %s", got)
	}
}

type noFolding struct{}

func (noFolding) FoldField(*ci.Field, types.Type) (ci.Constant, bool) { return ci.Constant{}, false }

func TestConstantFolderIsPluggable(t *testing.T) {
	w := newWorld(t)
	limit := &ci.Field{Name: "LIMIT", BasicType: ci.TInt, Static: true, Final: true, Constant: &ci.Constant{BasicType: ci.TInt, Int: 42}}
	target := w.klass("Target", nil)
	obj := w.env.NewObject(target)
	inst := &ci.Field{Name: "INSTANCE", BasicType: ci.TObject, Type: target, Static: true, Final: true, Constant: &ci.Constant{BasicType: ci.TObject, Object: obj}}
	k := w.klass("Cfg", nil, limit, inst)

	g := w.parse(w.method(k, "limit", true, nil, intSig, access(bytecode.GetStatic, limit), op(bytecode.Return)),
		WithFolder(noFolding{}))
	if ld := returned(t, g); ld.Op != graph.OpLoad || !ld.Type.Equals(types.IntFull()) {
		t.Fatalf("expected a plain int load, got %s %s", ld, ld.Type)
	}

	g = w.parse(w.method(k, "instance", true, nil, refSig(target), access(bytecode.GetStatic, inst), op(bytecode.Return)),
		WithFolder(noFolding{}))
	ld := returned(t, g)
	if ld.Op != graph.OpLoad || ld.Type.Const != obj || !ld.Type.IsNotNull() {
		t.Fatalf("expected a load typed as the static constant, got %s %s", ld, ld.Type)
	}
}

func TestUnloadedFieldTypeAssertsNullAtNextBci(t *testing.T) {
	w := newWorld(t)
	ghost := w.klass("Ghost", nil)
	ghost.Loaded = false
	f := refField("g", ghost)
	f.Final = true
	k := w.klass("Haunted", nil, f)
	log := complog.New("Haunted.get")
	g := w.parse(w.method(k, "get", false, nil, refSig(ghost),
		load("ref", 0),
		access(bytecode.GetField, f),
		op(bytecode.Return),
	), WithLog(log))

	got := returned(t, g)
	if got.Op != graph.OpNullAssert {
		t.Fatalf("expected the null assertion to replace the loaded value, got %s", got)
	}
	if got.Aux.Bci != 2 || got.Aux.Trap.Bci != 2 {
		t.Fatalf("null assertion at bci %d, want the next bci 2", got.Aux.Bci)
	}
	if got.Aux.Trap.Reason != graph.ReasonNullAssert || got.Aux.Trap.Action != graph.ActionMakeNotEntrant {
		t.Fatalf("unexpected trap info %s", got.Aux.Trap)
	}
	if !got.Type.IsNull() {
		t.Fatalf("asserted value has type %s", got.Type)
	}
	ld := g.Node(got.In[1])
	if ld.Op != graph.OpLoad || ld.Type != types.InstBottom() {
		t.Fatalf("expected an untyped load, got %s %s", ld, ld.Type)
	}
	events := log.Find("assert_null")
	if len(events) != 1 || events[0].Attr("reason") != "field" {
		t.Fatalf("assert_null not logged: %v", log.Events())
	}
	if len(log.Find("klass")) != 1 {
		t.Fatalf("unloaded klass not identified in the log")
	}
}

func TestNullReceiver(t *testing.T) {
	w := newWorld(t)
	f := intField("x")
	k := w.klass("R", nil, f)

	g := w.parse(w.method(k, "npe", true, nil, intSig,
		op(bytecode.AConstNull), access(bytecode.GetField, f), op(bytecode.Return)))
	if trap := trapOf(t, g); trap.Reason != graph.ReasonNullCheck {
		t.Fatalf("getfield on null: %s", trap)
	}

	g = w.parse(w.method(k, "twice", true, []ci.Sig{refSig(k)}, intSig,
		load("ref", 0), iconst(5), access(bytecode.PutField, f),
		load("ref", 0), access(bytecode.GetField, f),
		op(bytecode.Return)))
	if n := g.Count(graph.OpNullCheck); n != 1 {
		t.Fatalf("expected one null check, got %d", n)
	}
	if got := returned(t, g); !got.Type.Equals(types.IntCon(5)) {
		t.Fatalf("get after put through a checked receiver returned %s", got)
	}
	nc := g.Find(graph.OpNullCheck)[0]
	if !nc.Aux.Throws || !nc.Type.IsNotNull() {
		t.Fatalf("null check %s has type %s", nc, nc.Type)
	}
}

func TestFinalFieldStoresAreTracked(t *testing.T) {
	w := newWorld(t)
	f := intField("v")
	f.Final = true
	k := w.klass("Box", nil, f)

	p := w.parser(w.method(k, "make", true, nil, refSig(k),
		class(bytecode.New, "Box"),
		op(bytecode.Dup),
		iconst(1),
		access(bytecode.PutField, f),
		op(bytecode.Return),
	), config.Default())
	if !p.Ctx.WroteFinal || !p.Ctx.WroteFields {
		t.Fatalf("unexpected path context %+v", p.Ctx)
	}
	if a := p.G.Node(p.Ctx.AllocWithFinal); a == nil || a.Op != graph.OpAllocate {
		t.Fatalf("allocation with final field not recorded: %+v", p.Ctx)
	}
	if p.G.Count(graph.OpMemBar) != 0 {
		t.Fatalf("ordinary method got a constructor barrier")
	}

	g := w.parse(w.method(k, ci.ObjectInitializerName, false, nil, voidSig,
		load("ref", 0), iconst(1), access(bytecode.PutField, f), op(bytecode.Return)))
	if ops := chainOps(g); !sameOps(ops, []graph.Op{graph.OpStore, graph.OpMemBar, graph.OpReturn}) {
		t.Fatalf("constructor chain = %v", ops)
	}
	if b := g.Find(graph.OpMemBar)[0]; b.Aux.Barrier != graph.BarrierRelease {
		t.Fatalf("constructor exit barrier is %s", b.Aux.Barrier)
	}
}

func TestStableStoreGetsExitBarrier(t *testing.T) {
	w := newWorld(t)
	f := intField("memo")
	f.Stable = true
	k := w.klass("Memo", nil, f)
	p := w.parser(w.method(k, "set", false, nil, voidSig,
		load("ref", 0), iconst(3), access(bytecode.PutField, f), op(bytecode.Return)), config.Default())
	if !p.Ctx.WroteStable || p.Ctx.WroteFinal {
		t.Fatalf("unexpected path context %+v", p.Ctx)
	}
	if p.G.Count(graph.OpMemBar) != 1 {
		t.Fatalf("expected a release barrier before return")
	}
}

func TestVolatileInstanceStoreIsRecorded(t *testing.T) {
	w := newWorld(t)
	inst := intField("v")
	inst.Volatile = true
	stat := &ci.Field{Name: "s", BasicType: ci.TInt, Static: true, Volatile: true}
	k := w.klass("Flags", nil, inst, stat)

	p := w.parser(w.method(k, "a", false, nil, voidSig,
		load("ref", 0), iconst(1), access(bytecode.PutField, inst), op(bytecode.Return)), config.Default())
	if !p.Ctx.WroteVolatile {
		t.Fatalf("volatile instance store not recorded")
	}
	p = w.parser(w.method(k, "b", true, nil, voidSig,
		iconst(1), access(bytecode.PutStatic, stat), op(bytecode.Return)), config.Default())
	if p.Ctx.WroteVolatile || p.Ctx.WroteFields {
		t.Fatalf("static store recorded as field write: %+v", p.Ctx)
	}
}

func pointWorld(t *testing.T) (*world, *ci.Klass, *ci.Klass) {
	w := newWorld(t)
	point := w.valueKlass("Point", intField("x"), intField("y"))
	a := &ci.Field{Name: "a", BasicType: ci.TObject, Type: point, Flattened: true, Flattenable: true}
	line := w.klass("Line", nil, a)
	return w, point, line
}

func TestFlattenedFieldAccess(t *testing.T) {
	w, point, line := pointWorld(t)
	a, _ := w.env.LookupField("Line", "a")
	x, _ := w.env.LookupField("Point", "x")

	g := w.parse(w.method(line, "setX", false, []ci.Sig{intSig}, intSig,
		load("ref", 0),
		class(bytecode.DefaultValue, "Point"),
		load("int", 1),
		access(bytecode.WithField, x),
		access(bytecode.PutField, a),
		load("ref", 0),
		access(bytecode.GetField, a),
		access(bytecode.GetField, x),
		op(bytecode.Return),
	))

	stores := g.Find(graph.OpStore)
	if len(stores) != 2 {
		t.Fatalf("flattened store wrote %d fields, want 2", len(stores))
	}
	for i, st := range stores {
		off := g.Node(st.In[1]).Aux.Offset
		if want := int64(a.Offset + 4*i); off != want {
			t.Fatalf("store %d at offset %d, want %d", i, off, want)
		}
	}
	if stores[0].In[2] != parmOf(g, 1) {
		t.Fatalf("x was not stored from the parameter")
	}
	got := returned(t, g)
	if got.Op != graph.OpLoad || g.Node(got.In[1]).Aux.Offset != int64(a.Offset) {
		t.Fatalf("expected a load of Line.a.x, got %s", got)
	}
	if g.Count(graph.OpAllocate) != 0 {
		t.Fatalf("flattened access should not buffer %s", point)
	}
}

func TestValueFieldShortcut(t *testing.T) {
	w, point, _ := pointWorld(t)
	x, _ := w.env.LookupField("Point", "x")
	g := w.parse(w.method(point, "make", true, nil, intSig,
		class(bytecode.DefaultValue, "Point"),
		iconst(7),
		access(bytecode.WithField, x),
		access(bytecode.GetField, x),
		op(bytecode.Return),
	))
	if got := returned(t, g); !got.Type.Equals(types.IntCon(7)) {
		t.Fatalf("field of a composite = %s", got.Type)
	}
	if g.Count(graph.OpLoad) != 0 {
		t.Fatalf("field of a composite should not touch memory")
	}
}

func TestGetFieldOfStaticValueFieldTraps(t *testing.T) {
	w := newWorld(t)
	x := intField("x")
	s := &ci.Field{Name: "s", BasicType: ci.TInt, Static: true}
	v := w.valueKlass("V", x, s)
	if x.Offset != s.Offset {
		t.Fatalf("expected x and s to share offset %d, got %d", x.Offset, s.Offset)
	}
	g := w.parse(w.method(v, "read", true, nil, intSig,
		class(bytecode.DefaultValue, "V"),
		iconst(7),
		access(bytecode.WithField, x),
		access(bytecode.GetField, s),
		op(bytecode.Return),
	))
	if trap := trapOf(t, g); trap.Reason != graph.ReasonUnhandled || trap.Action != graph.ActionNone {
		t.Fatalf("getfield of a static field on a composite: %s", trap)
	}
	if g.Count(graph.OpReturn) != 0 {
		t.Fatalf("path should end in the trap")
	}
}

func TestFlattenableStoreOfNullTraps(t *testing.T) {
	w, _, line := pointWorld(t)
	a, _ := w.env.LookupField("Line", "a")
	p := w.parser(w.method(line, "clear", false, nil, voidSig,
		load("ref", 0),
		op(bytecode.AConstNull),
		access(bytecode.PutField, a),
		op(bytecode.Return),
	), config.Default())
	trap := trapOf(t, p.G)
	if trap.Reason != graph.ReasonNullCheck || trap.Action != graph.ActionNone {
		t.Fatalf("unexpected trap %s", trap)
	}
	if !p.G.Type(p.JVMS.Peek(0)).IsNull() {
		t.Fatalf("null should be on the stack at the trap")
	}
	if p.G.Count(graph.OpStore) != 0 {
		t.Fatalf("store emitted before the trap")
	}
}

func TestFlattenableStoreOfNonNullIsAssertedInDebugMode(t *testing.T) {
	w, point, line := pointWorld(t)
	a, _ := w.env.LookupField("Line", "a")
	m := w.method(line, "set", false, []ci.Sig{refSig(point)}, voidSig,
		load("ref", 0),
		load("ref", 1),
		access(bytecode.PutField, a),
		op(bytecode.Return),
	)
	g := w.parse(m)
	if trap := trapOf(t, g); trap.Reason != graph.ReasonNullCheck {
		t.Fatalf("unexpected trap %s", trap)
	}

	opts := config.Default()
	opts.DebugAssertions = true
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic for a non-null flattenable store")
		}
	}()
	NewParser(w.env, m, opts).Run()
}

func TestBufferedStoreOfComposite(t *testing.T) {
	w := newWorld(t)
	point := w.valueKlass("Point", intField("x"), intField("y"))
	b := &ci.Field{Name: "b", BasicType: ci.TObject, Type: point, Flattenable: true}
	box := w.klass("PBox", nil, b)
	g := w.parse(w.method(box, "set", false, nil, voidSig,
		load("ref", 0),
		class(bytecode.DefaultValue, "Point"),
		access(bytecode.PutField, b),
		op(bytecode.Return),
	))
	if g.Count(graph.OpAllocate) != 1 {
		t.Fatalf("composite stored into a reference slot should be buffered")
	}
	stores := g.Find(graph.OpStore)
	if len(stores) != 3 {
		t.Fatalf("expected two payload stores and the reference store, got %d", len(stores))
	}
	if last := stores[2]; last.Aux.Order != graph.Release || g.Node(last.In[2]).Op != graph.OpAllocate {
		t.Fatalf("reference store %s", last)
	}
}

func TestNonFlattenableValueFieldLoadsPointer(t *testing.T) {
	w := newWorld(t)
	point := w.valueKlass("Point", intField("x"))
	f := &ci.Field{Name: "p", BasicType: ci.TObject, Type: point}
	k := w.klass("Holder", nil, f)
	g := w.parse(w.method(k, "get", false, nil, refSig(point),
		load("ref", 0), access(bytecode.GetField, f), op(bytecode.Return)))
	ld := returned(t, g)
	if ld.Op != graph.OpLoad || ld.Aux.BasicType != ci.TValueTypePtr || ld.Type.IsNotNull() {
		t.Fatalf("expected a nullable pointer load, got %s %s", ld, ld.Type)
	}
}

func TestRepOf(t *testing.T) {
	point := &ci.Klass{Name: "Point", Value: true, InstanceSize: 16}
	tests := []struct {
		f    *ci.Field
		want FieldRep
	}{
		{intField("i"), Scalar{BasicType: ci.TInt}},
		{&ci.Field{BasicType: ci.TDouble}, Scalar{BasicType: ci.TDouble}},
		{refField("r", &ci.Klass{Name: "Obj"}), Reference{BasicType: ci.TObject}},
		{&ci.Field{BasicType: ci.TObject, Type: point}, Reference{BasicType: ci.TValueTypePtr}},
		{&ci.Field{BasicType: ci.TObject, Type: point, Flattenable: true}, Reference{BasicType: ci.TValueType}},
		{&ci.Field{BasicType: ci.TObject, Type: point, Flattenable: true, Flattened: true}, Flattened{Klass: point}},
	}
	for i, tt := range tests {
		if got := RepOf(tt.f); got != tt.want {
			t.Fatalf("case %d: RepOf = %#v, want %#v", i, got, tt.want)
		}
	}
}
