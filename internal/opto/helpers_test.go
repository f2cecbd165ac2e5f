package opto

import (
	"testing"

	"opto/internal/bytecode"
	"opto/internal/ci"
	"opto/internal/config"
	"opto/internal/graph"
)

type world struct {
	t   *testing.T
	env *ci.Env
}

func newWorld(t *testing.T) *world {
	return &world{t: t, env: ci.NewEnv()}
}

func (w *world) klass(name string, super *ci.Klass, fields ...*ci.Field) *ci.Klass {
	w.t.Helper()
	k, err := w.env.DefineKlass(name)
	if err != nil {
		w.t.Fatal(err)
	}
	k.Super = super
	for _, f := range fields {
		f.Holder = k
		k.Fields = append(k.Fields, f)
	}
	if err := ci.Layout(k); err != nil {
		w.t.Fatal(err)
	}
	return k
}

func (w *world) valueKlass(name string, fields ...*ci.Field) *ci.Klass {
	k := w.klass(name, nil, fields...)
	k.Value = true
	return k
}

func (w *world) arrayType(name string) ci.Sig {
	w.t.Helper()
	sig, err := w.env.ResolveType(name)
	if err != nil {
		w.t.Fatal(err)
	}
	return sig
}

func (w *world) method(holder *ci.Klass, name string, static bool, params []ci.Sig, ret ci.Sig, code ...bytecode.Instr) *ci.Method {
	m := &ci.Method{Holder: holder, Name: name, Static: static, Params: params, Ret: ret, Code: code}
	m.MaxLocals = m.ArgSlots() + 2
	return m
}

func (w *world) parser(m *ci.Method, opts config.Options, options ...Option) *Parser {
	w.t.Helper()
	p := NewParser(w.env, m, opts, options...)
	if err := p.Run(); err != nil {
		w.t.Fatal(err)
	}
	return p
}

func (w *world) parse(m *ci.Method, options ...Option) *graph.Graph {
	w.t.Helper()
	return w.parser(m, config.Default(), options...).G
}

var (
	intSig    = ci.Sig{BasicType: ci.TInt}
	longSig   = ci.Sig{BasicType: ci.TLong}
	doubleSig = ci.Sig{BasicType: ci.TDouble}
	voidSig   = ci.Sig{BasicType: ci.TVoid}
)

func refSig(k *ci.Klass) ci.Sig { return ci.Sig{BasicType: ci.TObject, Klass: k} }

func intField(name string) *ci.Field { return &ci.Field{Name: name, BasicType: ci.TInt} }

func refField(name string, k *ci.Klass) *ci.Field {
	return &ci.Field{Name: name, BasicType: ci.TObject, Type: k}
}

func load(kind string, i int) bytecode.Instr {
	return bytecode.Instr{Op: bytecode.Load, Kind: kind, Int: int64(i)}
}

func iconst(v int64) bytecode.Instr { return bytecode.Instr{Op: bytecode.IConst, Int: v} }

func op(o bytecode.Op) bytecode.Instr { return bytecode.Instr{Op: o} }

func access(o bytecode.Op, f *ci.Field) bytecode.Instr {
	return bytecode.Instr{Op: o, Class: f.Holder.Name, Name: f.Name}
}

func class(o bytecode.Op, name string) bytecode.Instr {
	return bytecode.Instr{Op: o, Class: name}
}

func multi(name string, dims int) bytecode.Instr {
	return bytecode.Instr{Op: bytecode.MultiANewArray, Class: name, Int: int64(dims)}
}

func exitOf(t *testing.T, g *graph.Graph) *graph.Node {
	t.Helper()
	if len(g.Exits) != 1 {
		t.Fatalf("expected one exit, got %d", len(g.Exits))
	}
	return g.Node(g.Exits[0])
}

func trapOf(t *testing.T, g *graph.Graph) *graph.TrapInfo {
	t.Helper()
	n := exitOf(t, g)
	if n.Op != graph.OpUncommonTrap {
		t.Fatalf("expected an uncommon trap, path ends in %s", n)
	}
	return n.Aux.Trap
}

func returned(t *testing.T, g *graph.Graph) *graph.Node {
	t.Helper()
	n := exitOf(t, g)
	if n.Op != graph.OpReturn {
		t.Fatalf("expected a return, path ends in %s", n)
	}
	if len(n.In) < 2 {
		t.Fatalf("return has no value")
	}
	return g.Node(n.In[1])
}

func parmOf(g *graph.Graph, index int) graph.NodeID {
	for _, n := range g.Nodes() {
		if n.Op == graph.OpParm && n.Aux.Index == index {
			return n.ID
		}
	}
	return graph.None
}

func chainOps(g *graph.Graph) []graph.Op {
	var ops []graph.Op
	for _, n := range g.EffectChain(g.Exits[0]) {
		ops = append(ops, n.Op)
	}
	return ops
}

func sameOps(a, b []graph.Op) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
