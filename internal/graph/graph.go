// Package graph holds the IR graph: an arena of typed nodes addressed by
// NodeID, with structurally identical pure nodes unified on creation.
package graph

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"opto/internal/ci"
	"opto/internal/types"
)

type Graph struct {
	Name  string
	Start NodeID
	Exits []NodeID

	nodes []*Node
	hash  map[string]NodeID
}

func New(name string) *Graph {
	g := &Graph{
		Name:  name,
		nodes: []*Node{nil},
		hash:  map[string]NodeID{},
	}
	g.Start = g.append(Node{Op: OpStart, Type: types.Effect()})
	return g
}

func (g *Graph) Node(id NodeID) *Node {
	if id <= None || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

func (g *Graph) Type(id NodeID) types.Type {
	if n := g.Node(id); n != nil {
		return n.Type
	}
	return types.Top()
}

// Len is the number of nodes in the arena.
func (g *Graph) Len() int { return len(g.nodes) - 1 }

// Nodes returns every node in creation order. Inputs always precede users.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes)-1)
	out = append(out, g.nodes[1:]...)
	return out
}

// Add idealizes n, returns an existing equivalent node when one exists, and
// otherwise appends n to the arena.
func (g *Graph) Add(n Node) NodeID {
	if id, ok := g.identity(&n); ok {
		return id
	}
	key, cons := g.key(&n)
	if cons {
		if id, ok := g.hash[key]; ok {
			return id
		}
	}
	id := g.append(n)
	if cons {
		g.hash[key] = id
	}
	if n.Op.Terminal() {
		g.Exits = append(g.Exits, id)
	}
	return id
}

func (g *Graph) append(n Node) NodeID {
	id := NodeID(len(g.nodes))
	n.ID = id
	g.nodes = append(g.nodes, &n)
	return id
}

// Con returns the unique constant node of singleton type t.
func (g *Graph) Con(t types.Type) NodeID {
	return g.Add(Node{Op: OpCon, Type: t})
}

func (g *Graph) IntCon(v int64) NodeID { return g.Con(types.IntCon(v)) }
func (g *Graph) LongCon(v int64) NodeID { return g.Con(types.LongCon(v)) }
func (g *Graph) Null() NodeID { return g.Con(types.NullPtr()) }
func (g *Graph) KlassCon(k *ci.Klass) NodeID { return g.Con(types.KlassCon(k)) }

// FindIntCon returns the value of id if it is a constant int, else def.
func (g *Graph) FindIntCon(id NodeID, def int64) int64 {
	if v, ok := g.Type(id).IntCon(); ok {
		return v
	}
	return def
}

// FindIntType returns the int type of id, or false for non-int nodes.
func (g *Graph) FindIntType(id NodeID) (types.Type, bool) {
	t := g.Type(id)
	return t, t.Kind == types.KindInt
}

// Count returns how many nodes with op are reachable from the exits.
func (g *Graph) Count(op Op) int {
	n := 0
	for _, node := range g.Live() {
		if node.Op == op {
			n++
		}
	}
	return n
}

// Find returns the live nodes with op in creation order.
func (g *Graph) Find(op Op) []*Node {
	var out []*Node
	for _, node := range g.Live() {
		if node.Op == op {
			out = append(out, node)
		}
	}
	return out
}

// Live returns the nodes reachable from the exits, in creation order.
func (g *Graph) Live() []*Node {
	seen := make([]bool, len(g.nodes))
	var stack []NodeID
	stack = append(stack, g.Exits...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == None || seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, g.nodes[id].In...)
	}
	var out []*Node
	for id := 1; id < len(g.nodes); id++ {
		if seen[id] {
			out = append(out, g.nodes[id])
		}
	}
	return out
}

// EffectChain walks the effect inputs back from id to Start and returns the
// effectful nodes oldest first.
func (g *Graph) EffectChain(id NodeID) []*Node {
	var out []*Node
	for n := g.Node(id); n != nil && n.Op != OpStart; n = g.Node(n.Effect()) {
		out = append(out, n)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// key is the structural identity of n. Only pure nodes and loads are unified;
// a load's identity includes its effect input, so loads separated by a store
// or barrier stay distinct.
func (g *Graph) key(n *Node) (string, bool) {
	if !n.Op.Pure() && n.Op != OpLoad {
		return "", false
	}
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(int(n.Op)))
	sb.WriteByte('(')
	for _, in := range n.In {
		sb.WriteString(strconv.Itoa(int(in)))
		sb.WriteByte(',')
	}
	sb.WriteByte(')')
	a := n.Aux
	fmt.Fprintf(&sb, "%d/%d/%t/%d/%d", a.BasicType, a.Order, a.Atomic, a.Index, a.Offset)
	if a.Klass != nil {
		fmt.Fprintf(&sb, "/k%d", a.Klass.ID)
	}
	sb.WriteByte('|')
	sb.WriteString(typeKey(n.Type))
	return sb.String(), true
}

func typeKey(t types.Type) string {
	s := t.String()
	if (t.Kind == types.KindFloat || t.Kind == types.KindDouble) && t.FCon {
		s += "#" + strconv.FormatUint(math.Float64bits(t.F), 16)
	}
	if t.Const != nil {
		s += "#o" + strconv.Itoa(t.Const.ID)
	}
	return s
}
