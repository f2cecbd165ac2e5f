package opto

import (
	"fmt"

	"opto/internal/ci"
	"opto/internal/complog"
	"opto/internal/graph"
	"opto/internal/types"
)

// Runtime entry points for multianewarray calls.
const (
	MultiANewArray2 = "multianewarray2"
	MultiANewArray3 = "multianewarray3"
	MultiANewArray4 = "multianewarray4"
	MultiANewArray5 = "multianewarray5"
	MultiANewArrayN = "multianewarrayN"
)

// multiANewArrayEntry returns the rank-specialized entry point, if any.
func multiANewArrayEntry(rank int) (string, bool) {
	switch rank {
	case 2:
		return MultiANewArray2, true
	case 3:
		return MultiANewArray3, true
	case 4:
		return MultiANewArray4, true
	case 5:
		return MultiANewArray5, true
	}
	return "", false
}

// DoNewArray lowers anewarray: a one-dimensional array of references to elem.
func (p *Parser) DoNewArray(elem *ci.Klass) {
	ak := p.Env.ArrayOf(elem)
	if !ak.Loaded {
		// Array creation needs the element klass to exist, not to be initialized.
		p.UncommonTrap(graph.ReasonUnloaded, graph.ActionReinterpret, ak, "")
		return
	}
	if e := ak.Elem; e != nil && e.Value && !e.IsInitialized() {
		p.UncommonTrap(graph.ReasonUninitialized, graph.ActionReinterpret, nil, "")
		return
	}

	p.KillDeadLocals()

	count := p.JVMS.Pop()
	p.JVMS.Push(p.NewArray(ak, count))
}

// DoNewPrimArray lowers newarray of a primitive element type.
func (p *Parser) DoNewPrimArray(bt ci.BasicType) {
	p.KillDeadLocals()

	count := p.JVMS.Pop()
	p.JVMS.Push(p.NewArray(p.Env.TypeArrayOf(bt), count))
}

// expandMultiANewArray allocates the outer array and, for every constant index
// of the outer length, the nested sub-arrays. The stores need no ordering: the
// outer array is not reachable until the whole nest is built.
func (p *Parser) expandMultiANewArray(ak *ci.Klass, lengths []graph.NodeID) graph.NodeID {
	array := p.NewArray(ak, lengths[0])
	if len(lengths) == 1 {
		return array
	}
	n := p.G.FindIntCon(lengths[0], -1)
	if n < 0 {
		panic(fmt.Sprintf("%s: non-constant multianewarray dimension n%d", ak, lengths[0]))
	}
	sub := ak.Elem
	for i := int64(0); i < n; i++ {
		elem := p.expandMultiANewArray(sub, lengths[1:])
		adr := p.BasicPlusAdr(array, ci.ArrayElementOffset(ci.TObject, i))
		p.StoreOopToArray(array, adr, elem, graph.Unordered)
	}
	return array
}

// ExpandCount is the number of array allocations an expansion of lengths would
// perform, or 0 when the nest does not qualify under limit.
func ExpandCount(lengths []int64, limit int) int {
	count, fanout := int64(1), int64(1)
	for j := 0; j < len(lengths)-1; j++ {
		dim := lengths[j]
		fanout *= dim
		count += fanout
		if dim <= 0 || dim > int64(limit) || count > int64(limit) {
			return 0
		}
	}
	return int(count)
}

// DoMultiANewArray lowers multianewarray of array klass ak with rank dimensions.
func (p *Parser) DoMultiANewArray(ak *ci.Klass, rank int) {
	if !ak.Loaded {
		p.UncommonTrap(graph.ReasonUnloaded, graph.ActionReinterpret, ak, "")
		return
	}
	// Array klasses are always initialized.

	p.KillDeadLocals()

	lengths := make([]graph.NodeID, rank)
	for j := rank - 1; j >= 0; j-- {
		lengths[j] = p.JVMS.Pop()
	}

	limit := p.Opts.ExpandLimit()
	cons := make([]int64, rank)
	for j, l := range lengths {
		cons[j] = p.G.FindIntCon(l, -1)
	}
	count := ExpandCount(cons, limit)
	expand := rank == 1 || (1 <= count && count <= limit)
	p.Log.Elem("multianewarray",
		complog.A("klass", p.Log.Identify(ak)),
		complog.A("dims", rank),
		complog.A("count", count),
		complog.A("expand", expand))

	if expand {
		p.JVMS.Push(p.expandMultiANewArray(ak, lengths))
		return
	}

	klass := p.KlassCon(ak)
	var call graph.NodeID
	if entry, ok := multiANewArrayEntry(rank); ok {
		args := append([]graph.NodeID{klass}, lengths...)
		call = p.MakeRuntimeCall(entry, types.RawPtr(), args...)
	} else {
		dims := p.NewArray(p.Env.TypeArrayOf(ci.TInt), p.IntCon(int64(rank)))
		for j, l := range lengths {
			adr := p.BasicPlusAdr(dims, ci.ArrayElementOffset(ci.TInt, int64(j)))
			p.StoreToMemory(adr, l, ci.TInt, graph.Unordered, false)
		}
		call = p.MakeRuntimeCall(MultiANewArrayN, types.RawPtr(), klass, dims)
	}

	// Not null, exact, and as long as the outermost length. The nested
	// sub-arrays cannot be sharpened since the outer array is mutable.
	t := types.FromKlass(ak).CastToPtrType(types.PtrNotNull).CastToExactness(true)
	if lt, ok := p.G.FindIntType(lengths[0]); ok {
		t = t.CastToSize(lt)
	}
	p.JVMS.Push(p.CheckCastPP(call, t))
}
