// Package opto lowers bytecode into the IR graph. The driver walks a method's
// code one instruction at a time; field access and array allocation are
// lowered in full, the remaining instructions only move values around.
package opto

import (
	"fmt"
	"io"

	"opto/internal/bytecode"
	"opto/internal/ci"
	"opto/internal/complog"
	"opto/internal/config"
	"opto/internal/graph"
	"opto/internal/types"
)

type Parser struct {
	GraphKit

	method *ci.Method
	folder ConstantFolder
	live   Liveness
	trace  io.Writer
}

type Option func(*Parser)

func WithFolder(f ConstantFolder) Option { return func(p *Parser) { p.folder = f } }

func WithLiveness(l Liveness) Option { return func(p *Parser) { p.live = l } }

func WithLog(l *complog.Log) Option { return func(p *Parser) { p.Log = l } }

// WithTrace sets where PrintOpto output goes.
func WithTrace(w io.Writer) Option { return func(p *Parser) { p.trace = w } }

func NewParser(env *ci.Env, m *ci.Method, opts config.Options, options ...Option) *Parser {
	g := graph.New(m.String())
	maxLocals := m.MaxLocals
	if n := m.ArgSlots(); n > maxLocals {
		maxLocals = n
	}
	p := &Parser{
		GraphKit: GraphKit{
			G:    g,
			Env:  env,
			Opts: opts,
			JVMS: NewJVMState(m, maxLocals),
			path: livePath(g.Start),
		},
		method: m,
		folder: FieldFolder{},
		live:   StraightLineLiveness{},
		trace:  io.Discard,
	}
	for _, o := range options {
		o(p)
	}
	p.bindParams()
	return p
}

// Parse lowers m into a new graph.
func Parse(env *ci.Env, m *ci.Method, opts config.Options, options ...Option) (*graph.Graph, error) {
	p := NewParser(env, m, opts, options...)
	if err := p.Run(); err != nil {
		return nil, err
	}
	return p.G, nil
}

func (p *Parser) Method() *ci.Method { return p.method }

func (p *Parser) bindParams() {
	m := p.method
	slot, index := 0, 0
	if !m.Static {
		p.JVMS.SetLocal(0, p.parm(0, types.InstPtr(m.Holder, types.PtrNotNull)))
		slot, index = 1, 1
	}
	for _, s := range m.Params {
		p.JVMS.SetLocal(slot, p.parm(index, sigType(s)))
		slot += s.BasicType.Size()
		index++
	}
}

func (p *Parser) parm(index int, t types.Type) graph.NodeID {
	return p.transform(graph.Node{Op: graph.OpParm, Type: t, Aux: graph.Aux{Index: index}})
}

func sigType(s ci.Sig) types.Type {
	if s.Klass != nil {
		return types.FromKlass(s.Klass)
	}
	return types.Basic(s.BasicType)
}

// Run parses the method's code until the path ends in a return or a trap.
func (p *Parser) Run() error {
	for bci, in := range p.method.Code {
		if p.Stopped() {
			break
		}
		p.JVMS.Bci = bci
		p.JVMS.NextBci = bci + 1
		if p.Opts.PrintOpto && p.Opts.Verbose {
			fmt.Fprintf(p.trace, "%s @%d %s\n", p.method, bci, in)
		}
		if err := p.doOneBytecode(in); err != nil {
			return fmt.Errorf("%s: bci %d: %s: %w", p.method, bci, in, err)
		}
	}
	if !p.Stopped() {
		return fmt.Errorf("%s: execution falls off the end of the code", p.method)
	}
	return nil
}

// KillDeadLocals clears locals that are not read again.
func (p *Parser) KillDeadLocals() {
	live := p.live.LiveLocals(p.method, p.JVMS.Bci)
	if live == nil {
		return
	}
	for i := 0; i < p.JVMS.NumLocals(); i++ {
		if i >= len(live) || !live[i] {
			p.JVMS.SetLocal(i, graph.None)
		}
	}
}

func (p *Parser) doOneBytecode(in bytecode.Instr) error {
	s := p.JVMS
	switch in.Op {
	case bytecode.Nop:
	case bytecode.AConstNull:
		s.Push(p.Null())
	case bytecode.IConst:
		s.Push(p.IntCon(in.Int))
	case bytecode.LConst:
		s.PushPair(p.MakeCon(types.LongCon(in.Int)))
	case bytecode.FConst:
		s.Push(p.MakeCon(types.FloatCon(in.Float)))
	case bytecode.DConst:
		s.PushPair(p.MakeCon(types.DoubleCon(in.Float)))
	case bytecode.Load:
		bt, ok := ci.LocalKind(in.Kind)
		if !ok {
			return fmt.Errorf("bad local kind %q", in.Kind)
		}
		idx := int(in.Int)
		if idx+bt.Size() > s.NumLocals() {
			return fmt.Errorf("local %d out of range", idx)
		}
		v := s.Local(idx)
		if v == graph.None {
			return fmt.Errorf("local %d is not defined", idx)
		}
		p.pushNode(bt, v)
	case bytecode.Store:
		bt, ok := ci.LocalKind(in.Kind)
		if !ok {
			return fmt.Errorf("bad local kind %q", in.Kind)
		}
		idx := int(in.Int)
		if idx+bt.Size() > s.NumLocals() {
			return fmt.Errorf("local %d out of range", idx)
		}
		s.SetLocal(idx, p.popNode(bt))
		if bt.Size() == 2 {
			s.SetLocal(idx+1, graph.None)
		}
	case bytecode.Dup:
		s.Push(s.Peek(0))
	case bytecode.Pop:
		s.Pop()
	case bytecode.Swap:
		a := s.Pop()
		b := s.Pop()
		s.Push(a)
		s.Push(b)
	case bytecode.New:
		k, err := p.resolveKlass(in.Class)
		if err != nil {
			return err
		}
		return p.doNew(k)
	case bytecode.GetField, bytecode.PutField, bytecode.GetStatic, bytecode.PutStatic:
		f, err := p.Env.LookupField(in.Class, in.Name)
		if err != nil {
			return err
		}
		isGet := in.Op == bytecode.GetField || in.Op == bytecode.GetStatic
		isField := in.Op == bytecode.GetField || in.Op == bytecode.PutField
		p.DoFieldAccess(isGet, isField, f)
	case bytecode.NewArray:
		bt, ok := ci.ParseBasicType(in.Kind)
		if !ok || bt == ci.TVoid {
			return fmt.Errorf("bad array element type %q", in.Kind)
		}
		p.DoNewPrimArray(bt)
	case bytecode.ANewArray:
		k, err := p.resolveKlass(in.Class)
		if err != nil {
			return err
		}
		p.DoNewArray(k)
	case bytecode.MultiANewArray:
		k, err := p.resolveKlass(in.Class)
		if err != nil {
			return err
		}
		if !k.IsArray() || in.Int < 1 || int(in.Int) > k.Dims {
			return fmt.Errorf("%s cannot be created with %d dimensions", k, in.Int)
		}
		p.DoMultiANewArray(k, int(in.Int))
	case bytecode.DefaultValue:
		k, err := p.resolveKlass(in.Class)
		if err != nil {
			return err
		}
		return p.doDefaultValue(k)
	case bytecode.WithField:
		f, err := p.Env.LookupField(in.Class, in.Name)
		if err != nil {
			return err
		}
		return p.doWithField(f)
	case bytecode.Return:
		p.doReturn()
	default:
		return fmt.Errorf("unsupported instruction")
	}
	return nil
}

func (p *Parser) resolveKlass(name string) (*ci.Klass, error) {
	sig, err := p.Env.ResolveType(name)
	if err != nil {
		return nil, err
	}
	if sig.Klass == nil {
		return nil, fmt.Errorf("%s is not a class", name)
	}
	return sig.Klass, nil
}

func (p *Parser) doNew(k *ci.Klass) error {
	if k.Value || k.IsArray() {
		return fmt.Errorf("new cannot create %s", k)
	}
	if !k.Loaded {
		p.UncommonTrap(graph.ReasonUnloaded, graph.ActionReinterpret, k, "")
		return nil
	}
	if !k.IsInitialized() && !p.staticFieldOKInClinit(k) {
		p.UncommonTrap(graph.ReasonUninitialized, graph.ActionReinterpret, k, "")
		return nil
	}
	p.KillDeadLocals()
	p.JVMS.Push(p.NewInstance(k))
	return nil
}

func (p *Parser) doDefaultValue(k *ci.Klass) error {
	if !k.Value {
		return fmt.Errorf("%s is not a value class", k)
	}
	if !k.Loaded {
		p.UncommonTrap(graph.ReasonUnloaded, graph.ActionReinterpret, k, "")
		return nil
	}
	if !k.IsInitialized() && !p.staticFieldOKInClinit(k) {
		p.UncommonTrap(graph.ReasonUninitialized, graph.ActionReinterpret, k, "")
		return nil
	}
	p.JVMS.Push(p.defaultValue(k))
	return nil
}

func (p *Parser) doWithField(f *ci.Field) error {
	if !f.Holder.Value || f.Static {
		return fmt.Errorf("withfield needs an instance field of a value class, not %s", f)
	}
	val := p.popNode(f.LayoutType())
	if f.Flattened {
		if val = p.valueFromOop(val, f.Type); p.Stopped() {
			return nil
		}
	}
	vt := p.valueFromOop(p.JVMS.Pop(), f.Holder)
	if p.Stopped() {
		return nil
	}
	p.JVMS.Push(p.withField(vt, f, val))
	return nil
}

func (p *Parser) doReturn() {
	m := p.method
	switch {
	case m.IsObjectInitializer() && (p.Ctx.WroteFinal || (p.Opts.SupportIRIW && p.Ctx.WroteVolatile)):
		// Keep the constructor's final field stores from floating past the
		// publication of the object.
		p.InsertMemBar(graph.BarrierRelease, p.Ctx.AllocWithFinal)
	case p.Ctx.WroteStable:
		p.InsertMemBar(graph.BarrierRelease, graph.None)
	}
	bt := m.Ret.BasicType
	if bt == ci.TVoid || bt == ci.TIllegal {
		p.effectful(graph.OpReturn, types.Effect(), graph.Aux{Bci: p.JVMS.Bci, BasicType: ci.TVoid})
		return
	}
	v := p.popNode(bt)
	if p.isValueType(v) {
		v = p.bufferValue(v)
	}
	p.effectful(graph.OpReturn, p.G.Type(v), graph.Aux{Bci: p.JVMS.Bci, BasicType: bt}, v)
}
