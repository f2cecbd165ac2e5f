package graph

import (
	"fmt"
	"strings"

	"opto/internal/ci"
	"opto/internal/types"
)

// NodeID is a stable handle into a Graph's node arena. The zero value refers to
// no node.
type NodeID int32

const None NodeID = 0

type Op int

const (
	OpStart Op = iota
	OpParm
	OpCon
	OpAddP
	OpLoad
	OpStore
	OpMemBar
	OpAllocate
	OpAllocateArray
	OpCallRuntime
	OpCheckCastPP
	OpNullCheck
	OpNullAssert
	OpRoundDouble
	OpValueType
	OpUncommonTrap
	OpReturn
)

var opNames = [...]string{
	OpStart:         "Start",
	OpParm:          "Parm",
	OpCon:           "Con",
	OpAddP:          "AddP",
	OpLoad:          "Load",
	OpStore:         "Store",
	OpMemBar:        "MemBar",
	OpAllocate:      "Allocate",
	OpAllocateArray: "AllocateArray",
	OpCallRuntime:   "CallRuntime",
	OpCheckCastPP:   "CheckCastPP",
	OpNullCheck:     "NullCheck",
	OpNullAssert:    "NullAssert",
	OpRoundDouble:   "RoundDouble",
	OpValueType:     "ValueType",
	OpUncommonTrap:  "UncommonTrap",
	OpReturn:        "Return",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op%d", int(op))
}

// Pure ops have no effect input and are unified by (op, inputs, aux, type).
func (op Op) Pure() bool {
	switch op {
	case OpCon, OpAddP, OpCheckCastPP, OpRoundDouble, OpValueType, OpParm:
		return true
	}
	return false
}

// Effectful ops take the current effect as input 0 and become the new effect.
// Loads take an effect input but do not advance it.
func (op Op) Effectful() bool {
	switch op {
	case OpStore, OpMemBar, OpAllocate, OpAllocateArray, OpCallRuntime,
		OpNullCheck, OpNullAssert, OpUncommonTrap, OpReturn:
		return true
	}
	return false
}

func (op Op) Terminal() bool { return op == OpUncommonTrap || op == OpReturn }

// MemOrder is the ordering semantics of a load or store.
type MemOrder int

const (
	Unordered MemOrder = iota
	Acquire
	Release
)

func (mo MemOrder) String() string {
	switch mo {
	case Acquire:
		return "acquire"
	case Release:
		return "release"
	}
	return "unordered"
}

// ReleaseIfReference is the ordering of a plain store of bt: reference stores
// release so a freshly constructed object is published safely.
func ReleaseIfReference(bt ci.BasicType) MemOrder {
	if bt.IsReference() {
		return Release
	}
	return Unordered
}

type BarrierKind int

const (
	BarrierAcquire BarrierKind = iota
	BarrierRelease
	BarrierVolatile
	BarrierCPUOrder
	BarrierStoreStore
)

func (b BarrierKind) String() string {
	switch b {
	case BarrierAcquire:
		return "acquire"
	case BarrierRelease:
		return "release"
	case BarrierVolatile:
		return "volatile"
	case BarrierCPUOrder:
		return "cpuorder"
	case BarrierStoreStore:
		return "storestore"
	}
	return "?"
}

// Aux carries op-specific immediates.
type Aux struct {
	BasicType ci.BasicType
	Order     MemOrder
	Atomic    bool
	Barrier   BarrierKind
	Index     int
	Offset    int64
	Entry     string
	Throws    bool
	Klass     *ci.Klass
	Trap      *TrapInfo
	Bci       int
}

type Node struct {
	ID   NodeID
	Op   Op
	In   []NodeID
	Type types.Type
	Aux  Aux
}

// Effect returns the effect input of an effectful node or a load.
func (n *Node) Effect() NodeID {
	if (n.Op.Effectful() || n.Op == OpLoad) && len(n.In) > 0 {
		return n.In[0]
	}
	return None
}

func (n *Node) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "n%d %s(", n.ID, n.Op)
	for i, in := range n.In {
		if i > 0 {
			sb.WriteString(", ")
		}
		if in == None {
			sb.WriteString("_")
		} else {
			fmt.Fprintf(&sb, "n%d", in)
		}
	}
	sb.WriteString(")")
	if s := n.auxString(); s != "" {
		sb.WriteString(" [")
		sb.WriteString(s)
		sb.WriteString("]")
	}
	return sb.String()
}

func (n *Node) auxString() string {
	a := n.Aux
	var parts []string
	switch n.Op {
	case OpParm:
		parts = append(parts, fmt.Sprintf("%d", a.Index))
	case OpAddP:
		parts = append(parts, fmt.Sprintf("+%d", a.Offset))
	case OpLoad, OpStore:
		parts = append(parts, a.BasicType.String(), a.Order.String())
		if a.Atomic {
			parts = append(parts, "atomic")
		}
	case OpMemBar:
		parts = append(parts, a.Barrier.String())
	case OpAllocate, OpAllocateArray, OpValueType:
		if a.Klass != nil {
			parts = append(parts, a.Klass.Name)
		}
	case OpCallRuntime:
		parts = append(parts, a.Entry)
	case OpUncommonTrap:
		if a.Trap != nil {
			parts = append(parts, a.Trap.String())
		}
	case OpNullCheck, OpNullAssert:
		parts = append(parts, fmt.Sprintf("bci=%d", a.Bci))
	}
	if a.Throws {
		parts = append(parts, "throws")
	}
	return strings.Join(parts, " ")
}
