package formatter

import (
	"fmt"
	"io"

	"opto/internal/graph"
)

const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorCyan   = "\x1b[36m"
	colorGray   = "\x1b[90m"
)

// GraphStats summarizes the live part of a graph.
type GraphStats struct {
	Nodes       int
	Loads       int
	Stores      int
	Allocations int
	Barriers    int
	Traps       int
	// AllocatedBytes is the size of the fixed-size allocations, arrays of
	// unknown length excluded.
	AllocatedBytes int64
}

func Stats(g *graph.Graph) GraphStats {
	var s GraphStats
	for _, n := range g.Live() {
		s.Nodes++
		switch n.Op {
		case graph.OpLoad:
			s.Loads++
		case graph.OpStore:
			s.Stores++
		case graph.OpAllocate:
			s.Allocations++
			if n.Aux.Klass != nil {
				s.AllocatedBytes += int64(n.Aux.Klass.InstanceSize)
			}
		case graph.OpAllocateArray, graph.OpCallRuntime:
			s.Allocations++
			if n.Op == graph.OpAllocateArray && n.Aux.Klass != nil && len(n.In) > 2 {
				if length := g.FindIntCon(n.In[2], -1); length >= 0 {
					s.AllocatedBytes += int64(n.Aux.Klass.ArraySize(int(length)))
				}
			}
		case graph.OpMemBar:
			s.Barriers++
		case graph.OpUncommonTrap:
			s.Traps++
		}
	}
	return s
}

// DumpGraph writes one line per live node. With color set, ops are
// highlighted by kind using ANSI escapes.
func DumpGraph(w io.Writer, g *graph.Graph, color bool) error {
	for _, n := range g.Live() {
		line := n.String()
		if t := n.Type.String(); t != "" {
			line += " : " + t
		}
		if color {
			line = paint(n, line)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func paint(n *graph.Node, line string) string {
	var c string
	switch {
	case n.Op == graph.OpUncommonTrap || n.Op == graph.OpNullCheck || n.Op == graph.OpNullAssert:
		c = colorRed
	case n.Op == graph.OpMemBar:
		c = colorGray
	case n.Op.Effectful():
		c = colorYellow
	case n.Op == graph.OpCon:
		c = colorCyan
	default:
		return line
	}
	return c + line + colorReset
}
