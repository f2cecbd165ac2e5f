package opto

import (
	"fmt"

	"opto/internal/ci"
	"opto/internal/graph"
)

// JVMState is the abstract interpreter state at the current bytecode: the
// operand stack and locals, each slot holding the node that produces it. The
// upper half of a long or double occupies a slot holding graph.None.
type JVMState struct {
	Method  *ci.Method
	Bci     int
	NextBci int

	locals []graph.NodeID
	stack  []graph.NodeID
}

func NewJVMState(m *ci.Method, maxLocals int) *JVMState {
	return &JVMState{Method: m, locals: make([]graph.NodeID, maxLocals)}
}

func (s *JVMState) Depth() int { return len(s.stack) }

func (s *JVMState) Push(n graph.NodeID) {
	s.stack = append(s.stack, n)
}

// PushPair pushes a double-width value.
func (s *JVMState) PushPair(n graph.NodeID) {
	s.stack = append(s.stack, n, graph.None)
}

func (s *JVMState) Pop() graph.NodeID {
	if len(s.stack) == 0 {
		panic(fmt.Sprintf("bci %d: pop from empty stack", s.Bci))
	}
	n := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return n
}

func (s *JVMState) PopPair() graph.NodeID {
	if top := s.Pop(); top != graph.None {
		panic(fmt.Sprintf("bci %d: upper half of pair holds n%d", s.Bci, top))
	}
	return s.Pop()
}

// Peek returns the slot depth entries below the top.
func (s *JVMState) Peek(depth int) graph.NodeID {
	i := len(s.stack) - 1 - depth
	if i < 0 {
		panic(fmt.Sprintf("bci %d: peek(%d) below stack bottom", s.Bci, depth))
	}
	return s.stack[i]
}

// Replace substitutes every stack and local occurrence of old with n.
func (s *JVMState) Replace(old, n graph.NodeID) {
	for i, v := range s.stack {
		if v == old {
			s.stack[i] = n
		}
	}
	for i, v := range s.locals {
		if v == old {
			s.locals[i] = n
		}
	}
}

func (s *JVMState) Local(i int) graph.NodeID { return s.locals[i] }

func (s *JVMState) SetLocal(i int, n graph.NodeID) { s.locals[i] = n }

func (s *JVMState) NumLocals() int { return len(s.locals) }

// Stack returns a copy of the operand stack, bottom first.
func (s *JVMState) Stack() []graph.NodeID {
	out := make([]graph.NodeID, len(s.stack))
	copy(out, s.stack)
	return out
}

// PathContext collects facts about the stores performed on the path being
// parsed. Exit processing uses them to place constructor barriers.
type PathContext struct {
	WroteVolatile  bool
	WroteFields    bool
	WroteFinal     bool
	WroteStable    bool
	AllocWithFinal graph.NodeID
}

// Path is the control state of the parse: live with a current effect, or
// terminated by a trap or return.
type Path struct {
	effect graph.NodeID
	exit   graph.NodeID
}

func livePath(effect graph.NodeID) Path { return Path{effect: effect} }

func (p Path) Live() bool { return p.exit == graph.None }

// Exit is the trap or return node that terminated the path.
func (p Path) Exit() graph.NodeID { return p.exit }
