package compiler

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"opto/internal/ci"
	"opto/internal/graph"
	"opto/internal/opto"
	"opto/internal/types"
)

// RuntimeModule is the import module every generated function calls into.
const RuntimeModule = "rt"

// Unit is one lowered method.
type Unit struct {
	Method *ci.Method
	Graph  *graph.Graph
}

type Generator struct {
	env   *ci.Env
	image *Image
}

func NewGenerator(env *ci.Env) *Generator {
	return &Generator{env: env}
}

// Image is the memory image of the last Generate call.
func (g *Generator) Image() *Image { return g.image }

func (g *Generator) Generate(units []Unit) (string, error) {
	graphs := make([]*graph.Graph, len(units))
	for i, u := range units {
		graphs[i] = u.Graph
	}
	im, err := BuildImage(g.env, constants(graphs))
	if err != nil {
		return "", err
	}
	g.image = im

	w := &watBuilder{}
	w.line("(module")
	w.indent++
	g.emitImports(w)
	g.emitMemory(w)
	g.emitGlobals(w)
	for _, u := range units {
		if err := g.emitFunc(w, u); err != nil {
			return "", err
		}
	}
	w.indent--
	w.line(")")
	return w.String(), nil
}

// Entries that may throw take the bci of the allocation as their last
// argument.
type runtimeImport struct {
	name   string
	params int
	result bool
}

var runtimeImports = []runtimeImport{
	{"alloc_instance", 1, true},
	{"alloc_array", 3, true},
	{opto.MultiANewArray2, 4, true},
	{opto.MultiANewArray3, 5, true},
	{opto.MultiANewArray4, 6, true},
	{opto.MultiANewArray5, 7, true},
	{opto.MultiANewArrayN, 3, true},
	{"deopt", 3, false},
	{"throw", 2, false},
}

func (g *Generator) emitImports(w *watBuilder) {
	for _, imp := range runtimeImports {
		sig := ""
		if imp.params > 0 {
			sig = " (param" + strings.Repeat(" i32", imp.params) + ")"
		}
		if imp.result {
			sig += " (result i32)"
		}
		w.line(fmt.Sprintf("(import \"%s\" \"%s\" (func $%s.%s%s))", RuntimeModule, imp.name, RuntimeModule, imp.name, sig))
	}
}

func (g *Generator) emitMemory(w *watBuilder) {
	pages := (g.image.End + ci.WasmPageSize - 1) / ci.WasmPageSize
	if pages == 0 {
		pages = 1
	}
	w.line(fmt.Sprintf("(memory $memory %d)", pages))
	w.line(fmt.Sprintf("(export \"%s\" (memory $memory))", ci.MemoryExportName))
	w.line(fmt.Sprintf("(data (i32.const 0) \"%s\")", escapeData(string(g.image.Data))))
}

func (g *Generator) emitGlobals(w *watBuilder) {
	for _, k := range g.env.Klasses() {
		addr, ok := g.image.Mirrors[k]
		if !ok {
			continue
		}
		name := ci.MirrorExport(k)
		w.line(fmt.Sprintf("(global $%s (export \"%s\") i32 (i32.const %d))", name, name, addr))
	}
}

func (g *Generator) emitFunc(w *watBuilder, u Unit) error {
	f := newFuncEmitter(g, u)
	for _, n := range u.Graph.Live() {
		if err := f.emitNode(n); err != nil {
			return fmt.Errorf("%s: n%d %s: %w", u.Method, n.ID, n.Op, err)
		}
	}
	name := u.Method.String()
	w.line(fmt.Sprintf("(func $%s (export \"%s\")%s", name, name, f.signature()))
	w.indent++
	for _, l := range f.locals {
		w.line(fmt.Sprintf("(local %s %s)", l.name, l.typ))
	}
	for _, line := range f.body {
		w.line(line)
	}
	w.indent--
	w.line(")")
	return nil
}

// wasmType is the value type a value of bt is held in, or "" for void.
func wasmType(bt ci.BasicType) string {
	switch {
	case bt == ci.TLong:
		return "i64"
	case bt == ci.TFloat:
		return "f32"
	case bt == ci.TDouble:
		return "f64"
	case bt == ci.TVoid || bt == ci.TIllegal:
		return ""
	}
	return "i32"
}

// valueType is the value type of a node's result in generated code.
func valueType(t types.Type) string {
	switch t.Kind {
	case types.KindInt:
		return "i32"
	case types.KindLong:
		return "i64"
	case types.KindFloat:
		return "f32"
	case types.KindDouble:
		return "f64"
	case types.KindInstPtr, types.KindAryPtr, types.KindKlassPtr, types.KindRawPtr:
		return "i32"
	}
	return ""
}

func loadOp(bt ci.BasicType) string {
	switch bt {
	case ci.TBoolean:
		return "i32.load8_u"
	case ci.TByte:
		return "i32.load8_s"
	case ci.TChar:
		return "i32.load16_u"
	case ci.TShort:
		return "i32.load16_s"
	}
	return wasmType(bt) + ".load"
}

func storeOp(bt ci.BasicType) string {
	switch bt {
	case ci.TBoolean, ci.TByte:
		return "i32.store8"
	case ci.TChar, ci.TShort:
		return "i32.store16"
	}
	return wasmType(bt) + ".store"
}

type watBuilder struct {
	sb     strings.Builder
	indent int
}

func (w *watBuilder) line(s string) {
	w.sb.WriteString(strings.Repeat("  ", w.indent))
	w.sb.WriteString(s)
	w.sb.WriteString("\n")
}

func (w *watBuilder) String() string {
	return w.sb.String()
}

func escapeData(s string) string {
	var buf bytes.Buffer
	for _, b := range []byte(s) {
		if b >= 0x20 && b <= 0x7e && b != '\\' && b != '"' {
			buf.WriteByte(b)
			continue
		}
		buf.WriteString(fmt.Sprintf("\\%02x", b))
	}
	return buf.String()
}

type localInfo struct {
	name string
	typ  string
}

type funcEmitter struct {
	g      *Generator
	graph  *graph.Graph
	method *ci.Method
	params []localInfo
	locals []localInfo
	body   []string
	values map[graph.NodeID]string
}

func newFuncEmitter(g *Generator, u Unit) *funcEmitter {
	f := &funcEmitter{g: g, graph: u.Graph, method: u.Method, values: map[graph.NodeID]string{}}
	m := u.Method
	if !m.Static {
		f.addParam("i32")
	}
	for _, p := range m.Params {
		f.addParam(wasmType(p.BasicType))
	}
	return f
}

func (f *funcEmitter) signature() string {
	var parts []string
	for _, p := range f.params {
		parts = append(parts, fmt.Sprintf("(param %s %s)", p.name, p.typ))
	}
	if rt := wasmType(f.method.Ret.BasicType); rt != "" {
		parts = append(parts, fmt.Sprintf("(result %s)", rt))
	}
	if len(parts) == 0 {
		return ""
	}
	return " " + strings.Join(parts, " ")
}

func (f *funcEmitter) addParam(typ string) string {
	name := fmt.Sprintf("$p%d", len(f.params))
	f.params = append(f.params, localInfo{name: name, typ: typ})
	return name
}

// define gives n a local of type typ and assigns expr to it.
func (f *funcEmitter) define(n *graph.Node, typ, expr string) {
	name := fmt.Sprintf("$n%d", n.ID)
	f.locals = append(f.locals, localInfo{name: name, typ: typ})
	f.values[n.ID] = name
	f.emit(fmt.Sprintf("(local.set %s %s)", name, expr))
}

// get reads the value of an earlier node.
func (f *funcEmitter) get(id graph.NodeID) (string, error) {
	name, ok := f.values[id]
	if !ok {
		n := f.graph.Node(id)
		if n == nil {
			return "", fmt.Errorf("missing input n%d", id)
		}
		return "", fmt.Errorf("n%d %s has no value in generated code", id, n.Op)
	}
	return fmt.Sprintf("(local.get %s)", name), nil
}

func (f *funcEmitter) gets(ids []graph.NodeID) ([]string, error) {
	out := make([]string, len(ids))
	for i, id := range ids {
		v, err := f.get(id)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *funcEmitter) emit(line string) {
	f.body = append(f.body, line)
}

func (f *funcEmitter) call(entry string, args ...string) string {
	s := fmt.Sprintf("(call $%s.%s", RuntimeModule, entry)
	for _, a := range args {
		s += " " + a
	}
	return s + ")"
}

func (f *funcEmitter) deopt(trap *graph.TrapInfo) {
	f.emit(f.call("deopt",
		fmt.Sprintf("(i32.const %d)", int(trap.Reason)),
		fmt.Sprintf("(i32.const %d)", int(trap.Action)),
		fmt.Sprintf("(i32.const %d)", trap.Bci)))
	f.emit("(unreachable)")
}

func (f *funcEmitter) emitNode(n *graph.Node) error {
	switch n.Op {
	case graph.OpStart, graph.OpValueType:
		return nil
	case graph.OpParm:
		if n.Aux.Index >= len(f.params) {
			return fmt.Errorf("parameter %d out of range", n.Aux.Index)
		}
		f.define(n, f.params[n.Aux.Index].typ, fmt.Sprintf("(local.get %s)", f.params[n.Aux.Index].name))
		return nil
	case graph.OpCon:
		expr, err := f.constant(n.Type)
		if err != nil {
			return err
		}
		f.define(n, valueType(n.Type), expr)
		return nil
	case graph.OpMemBar:
		f.emit(fmt.Sprintf(";; membar %s", n.Aux.Barrier))
		return nil
	case graph.OpUncommonTrap:
		f.deopt(n.Aux.Trap)
		return nil
	}

	ins := n.In
	if n.Op.Effectful() || n.Op == graph.OpLoad {
		ins = ins[1:]
	}
	args, err := f.gets(ins)
	if err != nil {
		return err
	}
	switch n.Op {
	case graph.OpAddP:
		f.define(n, "i32", fmt.Sprintf("(i32.add %s (i32.const %d))", args[0], n.Aux.Offset))
	case graph.OpLoad:
		f.define(n, wasmType(n.Aux.BasicType), fmt.Sprintf("(%s %s)", loadOp(n.Aux.BasicType), args[0]))
	case graph.OpStore:
		f.emit(fmt.Sprintf("(%s %s %s)", storeOp(n.Aux.BasicType), args[0], args[1]))
	case graph.OpAllocate:
		f.define(n, "i32", f.call("alloc_instance", args...))
	case graph.OpAllocateArray:
		f.define(n, "i32", f.call("alloc_array", append(args, fmt.Sprintf("(i32.const %d)", n.Aux.Bci))...))
	case graph.OpCallRuntime:
		f.define(n, "i32", f.call(n.Aux.Entry, append(args, fmt.Sprintf("(i32.const %d)", n.Aux.Bci))...))
	case graph.OpCheckCastPP:
		f.define(n, "i32", args[0])
	case graph.OpNullCheck:
		f.emit(fmt.Sprintf("(if (i32.eqz %s) (then %s (unreachable)))", args[0],
			f.call("throw", fmt.Sprintf("(i32.const %d)", int(ci.ExceptionNullPointer)), fmt.Sprintf("(i32.const %d)", n.Aux.Bci))))
		f.define(n, "i32", args[0])
	case graph.OpNullAssert:
		trap := n.Aux.Trap
		f.emit(fmt.Sprintf("(if %s (then %s (unreachable)))", args[0],
			f.call("deopt",
				fmt.Sprintf("(i32.const %d)", int(trap.Reason)),
				fmt.Sprintf("(i32.const %d)", int(trap.Action)),
				fmt.Sprintf("(i32.const %d)", trap.Bci))))
		f.define(n, "i32", args[0])
	case graph.OpRoundDouble:
		f.define(n, "f64", fmt.Sprintf("(select (f64.reinterpret_i64 (i64.const %d)) %s (f64.ne %s %s))",
			int64(graph.CanonicalNaN), args[0], args[0], args[0]))
	case graph.OpReturn:
		if len(args) == 0 {
			f.emit("(return)")
		} else {
			f.emit(fmt.Sprintf("(return %s)", args[0]))
		}
	default:
		return fmt.Errorf("cannot generate code for %s", n.Op)
	}
	return nil
}

// constant is the expression producing the value of singleton type t.
func (f *funcEmitter) constant(t types.Type) (string, error) {
	switch t.Kind {
	case types.KindInt:
		return fmt.Sprintf("(i32.const %d)", int32(t.Range.Lo)), nil
	case types.KindLong:
		return fmt.Sprintf("(i64.const %d)", t.Range.Lo), nil
	case types.KindFloat:
		bits := math.Float32bits(float32(t.F))
		return fmt.Sprintf("(f32.reinterpret_i32 (i32.const %d))", int32(bits)), nil
	case types.KindDouble:
		bits := math.Float64bits(t.F)
		return fmt.Sprintf("(f64.reinterpret_i64 (i64.const %d))", int64(bits)), nil
	case types.KindKlassPtr:
		return fmt.Sprintf("(i32.const %d)", t.Klass.ID), nil
	case types.KindInstPtr, types.KindAryPtr:
		if t.IsNull() {
			return "(i32.const 0)", nil
		}
		if t.Const != nil {
			addr, ok := f.g.image.Address(t.Const)
			if !ok {
				return "", fmt.Errorf("constant %s is not in the image", t.Const)
			}
			return fmt.Sprintf("(i32.const %d)", addr), nil
		}
	}
	return "", fmt.Errorf("type %s is not a constant", t)
}
