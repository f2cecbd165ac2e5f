package graph

import (
	"math"

	"opto/internal/types"
)

// CanonicalNaN is the bit pattern every rounded double NaN is collapsed to.
const CanonicalNaN = 0x7ff8000000000000

// RoundDoubleValue maps f to its canonical stored form.
func RoundDoubleValue(f float64) float64 {
	if math.IsNaN(f) {
		return math.Float64frombits(CanonicalNaN)
	}
	return f
}

// identity returns an existing node that n is equivalent to.
func (g *Graph) identity(n *Node) (NodeID, bool) {
	switch n.Op {
	case OpRoundDouble:
		in := g.Node(n.In[0])
		if in.Op == OpRoundDouble {
			return in.ID, true
		}
		if in.Op == OpCon && in.Type.FCon {
			return g.Con(types.DoubleCon(RoundDoubleValue(in.Type.F))), true
		}
	case OpCheckCastPP:
		if in := g.Node(n.In[0]); in.Type.Equals(n.Type) {
			return in.ID, true
		}
	case OpLoad:
		return g.forwardStore(n)
	}
	return None, false
}

// forwardStore lets a plain scalar load that directly follows a store to the
// same address observe the stored value.
func (g *Graph) forwardStore(ld *Node) (NodeID, bool) {
	if ld.Aux.Order != Unordered || ld.Aux.Atomic {
		return None, false
	}
	bt := ld.Aux.BasicType
	if bt.IsReference() || bt.IsSubword() {
		return None, false
	}
	st := g.Node(ld.Effect())
	if st == nil || st.Op != OpStore || st.Aux.BasicType != bt || st.Aux.Atomic {
		return None, false
	}
	if st.In[1] != ld.In[1] {
		return None, false
	}
	return st.In[2], true
}
