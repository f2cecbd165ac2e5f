package opto

import (
	"fmt"

	"opto/internal/ci"
	"opto/internal/complog"
	"opto/internal/config"
	"opto/internal/graph"
	"opto/internal/types"
)

// GraphKit holds the state shared by every bytecode handler: the graph under
// construction, the abstract interpreter state and the control path.
type GraphKit struct {
	G    *graph.Graph
	Env  *ci.Env
	Opts config.Options
	Log  *complog.Log
	JVMS *JVMState
	Ctx  PathContext

	path Path
}

func (k *GraphKit) Stopped() bool { return !k.path.Live() }

// Effect is the most recent effectful node on the live path.
func (k *GraphKit) Effect() graph.NodeID { return k.path.effect }

func (k *GraphKit) Path() Path { return k.path }

func (k *GraphKit) assertLive(what graph.Op) {
	if k.Stopped() {
		panic(fmt.Sprintf("bci %d: %s appended to a path terminated by n%d", k.JVMS.Bci, what, k.path.exit))
	}
}

// transform adds a node without an effect input.
func (k *GraphKit) transform(n graph.Node) graph.NodeID {
	k.assertLive(n.Op)
	return k.G.Add(n)
}

// effectful adds a node after the current effect and makes it the new effect.
func (k *GraphKit) effectful(op graph.Op, t types.Type, aux graph.Aux, ins ...graph.NodeID) graph.NodeID {
	k.assertLive(op)
	in := make([]graph.NodeID, 0, len(ins)+1)
	in = append(in, k.path.effect)
	in = append(in, ins...)
	id := k.G.Add(graph.Node{Op: op, In: in, Type: t, Aux: aux})
	if op.Terminal() {
		k.path.exit = id
	} else {
		k.path.effect = id
	}
	return id
}

func (k *GraphKit) MakeCon(t types.Type) graph.NodeID {
	return k.transform(graph.Node{Op: graph.OpCon, Type: t})
}

func (k *GraphKit) IntCon(v int64) graph.NodeID { return k.MakeCon(types.IntCon(v)) }

func (k *GraphKit) Null() graph.NodeID { return k.MakeCon(types.NullPtr()) }

func (k *GraphKit) KlassCon(c *ci.Klass) graph.NodeID { return k.MakeCon(types.KlassCon(c)) }

// Zerocon is the default value of bt.
func (k *GraphKit) Zerocon(bt ci.BasicType) graph.NodeID {
	switch bt {
	case ci.TLong:
		return k.MakeCon(types.LongCon(0))
	case ci.TFloat:
		return k.MakeCon(types.FloatCon(0))
	case ci.TDouble:
		return k.MakeCon(types.DoubleCon(0))
	}
	if bt.IsReference() {
		return k.Null()
	}
	return k.IntCon(0)
}

func (k *GraphKit) pushNode(bt ci.BasicType, n graph.NodeID) {
	if bt.Size() == 2 {
		k.JVMS.PushPair(n)
	} else {
		k.JVMS.Push(n)
	}
}

func (k *GraphKit) popNode(bt ci.BasicType) graph.NodeID {
	if bt.Size() == 2 {
		return k.JVMS.PopPair()
	}
	return k.JVMS.Pop()
}

func (k *GraphKit) BasicPlusAdr(base graph.NodeID, offset int64) graph.NodeID {
	return k.transform(graph.Node{
		Op:   graph.OpAddP,
		In:   []graph.NodeID{base},
		Type: types.RawPtr(),
		Aux:  graph.Aux{Offset: offset},
	})
}

func (k *GraphKit) MakeLoad(adr graph.NodeID, t types.Type, bt ci.BasicType, mo graph.MemOrder, atomic bool) graph.NodeID {
	return k.transform(graph.Node{
		Op:   graph.OpLoad,
		In:   []graph.NodeID{k.path.effect, adr},
		Type: t,
		Aux:  graph.Aux{BasicType: bt, Order: mo, Atomic: atomic},
	})
}

func (k *GraphKit) StoreToMemory(adr, val graph.NodeID, bt ci.BasicType, mo graph.MemOrder, atomic bool) graph.NodeID {
	return k.effectful(graph.OpStore, types.Effect(), graph.Aux{BasicType: bt, Order: mo, Atomic: atomic}, adr, val)
}

// StoreOopToObject stores a reference into a field of obj. Composite values
// are buffered on the heap first.
func (k *GraphKit) StoreOopToObject(obj, adr, val graph.NodeID, bt ci.BasicType, mo graph.MemOrder) graph.NodeID {
	if k.isValueType(val) {
		val = k.bufferValue(val)
	}
	return k.StoreToMemory(adr, val, bt, mo, false)
}

func (k *GraphKit) StoreOopToArray(array, adr, val graph.NodeID, mo graph.MemOrder) graph.NodeID {
	return k.StoreOopToObject(array, adr, val, ci.TObject, mo)
}

// InsertMemBar appends a barrier. A precedent ties the barrier to the node it
// orders, typically a volatile load.
func (k *GraphKit) InsertMemBar(kind graph.BarrierKind, precedent graph.NodeID) graph.NodeID {
	var ins []graph.NodeID
	if precedent != graph.None {
		ins = append(ins, precedent)
	}
	return k.effectful(graph.OpMemBar, types.Effect(), graph.Aux{Barrier: kind}, ins...)
}

// DstoreRounding rounds a double to its canonical stored form.
func (k *GraphKit) DstoreRounding(val graph.NodeID) graph.NodeID {
	return k.transform(graph.Node{Op: graph.OpRoundDouble, In: []graph.NodeID{val}, Type: types.DoubleFull()})
}

func (k *GraphKit) CheckCastPP(val graph.NodeID, t types.Type) graph.NodeID {
	return k.transform(graph.Node{Op: graph.OpCheckCastPP, In: []graph.NodeID{val}, Type: t})
}

// NullCheck returns value cast to not-null. A value known to be null traps and
// stops the path; a value of an unloaded class traps as unloaded. Otherwise a
// NullCheck node with an exceptional edge replaces value in the JVM state.
func (k *GraphKit) NullCheck(value graph.NodeID) graph.NodeID {
	t := k.G.Type(value)
	if t.IsPtr() && t.Klass != nil && !t.Klass.Loaded {
		k.UncommonTrap(graph.ReasonUnloaded, graph.ActionReinterpret, t.Klass, "!loaded")
		return graph.None
	}
	switch {
	case t.IsNotNull():
		return value
	case t.IsNull():
		k.UncommonTrap(graph.ReasonNullCheck, graph.ActionMaybeRecompile, nil, "")
		return graph.None
	}
	cast := k.effectful(graph.OpNullCheck, t.JoinNotNull(), graph.Aux{Bci: k.JVMS.Bci, Throws: true}, value)
	k.JVMS.Replace(value, cast)
	return cast
}

// NullAssert narrows value to null. Compiled code deoptimizes if the value
// turns out to be non-null; a value already known to be non-null traps now.
func (k *GraphKit) NullAssert(value graph.NodeID) graph.NodeID {
	t := k.G.Type(value)
	switch {
	case t.IsNull():
		return value
	case t.IsNotNull():
		k.UncommonTrap(graph.ReasonNullAssert, graph.ActionMakeNotEntrant, nil, "assert_null")
		return graph.None
	}
	trap := &graph.TrapInfo{
		Reason: graph.ReasonNullAssert,
		Action: graph.ActionMakeNotEntrant,
		Bci:    k.JVMS.Bci,
	}
	cast := k.effectful(graph.OpNullAssert, types.NullPtr(), graph.Aux{Bci: k.JVMS.Bci, Trap: trap}, value)
	k.JVMS.Replace(value, cast)
	return cast
}

// UncommonTrap ends the path with a deoptimization.
func (k *GraphKit) UncommonTrap(reason graph.Reason, action graph.Action, klass *ci.Klass, comment string) {
	info := &graph.TrapInfo{
		Reason:  reason,
		Action:  action,
		Klass:   klass,
		Comment: comment,
		Bci:     k.JVMS.Bci,
	}
	attrs := []complog.Attr{
		complog.A("bci", info.Bci),
		complog.A("reason", reason),
		complog.A("action", action),
	}
	if klass != nil {
		attrs = append(attrs, complog.A("klass", k.Log.Identify(klass)))
	}
	if comment != "" {
		attrs = append(attrs, complog.A("comment", comment))
	}
	k.Log.Elem("uncommon_trap", attrs...)
	k.effectful(graph.OpUncommonTrap, types.Effect(), graph.Aux{Trap: info, Bci: info.Bci})
}

func (k *GraphKit) NewInstance(c *ci.Klass) graph.NodeID {
	t := types.InstPtr(c, types.PtrNotNull).CastToExactness(true)
	return k.effectful(graph.OpAllocate, t, graph.Aux{Klass: c}, k.KlassCon(c))
}

// NewArray allocates an array of array klass ak. A negative length raises an
// exception on the allocation's exceptional edge.
func (k *GraphKit) NewArray(ak *ci.Klass, length graph.NodeID) graph.NodeID {
	t := types.AryPtr(ak, types.PtrNotNull).CastToExactness(true)
	if lt, ok := k.G.FindIntType(length); ok {
		t = t.CastToSize(lt)
	}
	return k.effectful(graph.OpAllocateArray, t, graph.Aux{Klass: ak, Bci: k.JVMS.Bci, Throws: true}, k.KlassCon(ak), length)
}

// MakeRuntimeCall calls a runtime entry point. The call may throw; exceptions
// report the current bci.
func (k *GraphKit) MakeRuntimeCall(entry string, t types.Type, args ...graph.NodeID) graph.NodeID {
	return k.effectful(graph.OpCallRuntime, t, graph.Aux{Entry: entry, Bci: k.JVMS.Bci, Throws: true}, args...)
}

// IdealAllocation reports whether n is the result of an allocation on this
// path.
func (k *GraphKit) IdealAllocation(n graph.NodeID) bool {
	node := k.G.Node(n)
	if node == nil {
		return false
	}
	if node.Op == graph.OpCheckCastPP {
		return k.IdealAllocation(node.In[0])
	}
	return node.Op == graph.OpAllocate || node.Op == graph.OpAllocateArray
}
