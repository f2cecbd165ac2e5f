package opto

import (
	"opto/internal/bytecode"
	"opto/internal/ci"
)

// Liveness tells which locals may still be read at a bci. Locals that are dead
// are cleared before allocations so they do not keep objects reachable.
type Liveness interface {
	LiveLocals(m *ci.Method, bci int) []bool
}

// StraightLineLiveness computes liveness for methods without branches: a
// local is live if some later instruction loads it before it is overwritten.
type StraightLineLiveness struct{}

func (StraightLineLiveness) LiveLocals(m *ci.Method, bci int) []bool {
	live := make([]bool, m.MaxLocals)
	written := make([]bool, m.MaxLocals)
	mark := func(in bytecode.Instr, into []bool) {
		bt, ok := ci.LocalKind(in.Kind)
		if !ok {
			return
		}
		for s := int(in.Int); s < int(in.Int)+bt.Size() && s < len(into); s++ {
			if !written[s] {
				into[s] = true
			}
		}
	}
	for _, in := range m.Code[bci:] {
		switch in.Op {
		case bytecode.Load:
			mark(in, live)
		case bytecode.Store:
			mark(in, written)
		case bytecode.Return:
			return live
		}
	}
	return live
}
