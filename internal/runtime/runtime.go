//go:build cgo
// +build cgo

package runtime

import (
	"errors"
	"fmt"

	"github.com/bytecodealliance/wasmtime-go"

	"opto/internal/ci"
	"opto/internal/graph"
)

// Available reports whether compiled modules can be executed in this build.
const Available = true

// Module is the import module of the runtime entry points.
const Module = "rt"

type Runner struct {
	engine *wasmtime.Engine
}

func NewRunner() *Runner {
	return &Runner{engine: wasmtime.NewEngine()}
}

// Session is one instantiated module together with its heap.
type Session struct {
	store    *wasmtime.Store
	instance *wasmtime.Instance
	heap     *Heap
	pending  error
}

// NewSession instantiates wasm against the runtime entry points. env must be
// the environment the module was generated from.
func (r *Runner) NewSession(wasm []byte, env *ci.Env) (*Session, error) {
	store := wasmtime.NewStore(r.engine)
	linker := wasmtime.NewLinker(r.engine)
	s := &Session{store: store, heap: &Heap{Env: env, Mirrors: map[*ci.Klass]int32{}}}
	if err := s.define(linker); err != nil {
		return nil, err
	}
	module, err := wasmtime.NewModule(r.engine, wasm)
	if err != nil {
		return nil, err
	}
	instance, err := linker.Instantiate(store, module)
	if err != nil {
		return nil, err
	}
	s.instance = instance
	ext := instance.GetExport(store, ci.MemoryExportName)
	if ext == nil || ext.Memory() == nil {
		return nil, errors.New("module does not export its memory")
	}
	s.heap.Mem = &wasmMemory{store: store, mem: ext.Memory()}
	for _, k := range env.Klasses() {
		if k.IsArray() {
			continue
		}
		ext := instance.GetExport(store, ci.MirrorExport(k))
		if ext == nil || ext.Global() == nil {
			continue
		}
		s.heap.Mirrors[k] = ext.Global().Get(store).I32()
	}
	return s, nil
}

func (s *Session) Heap() *Heap { return s.heap }

// Call invokes the exported function name. Deoptimizations and exceptions come
// back as *DeoptError and *ExceptionError.
func (s *Session) Call(name string, args ...any) (any, error) {
	fn := s.instance.GetFunc(s.store, name)
	if fn == nil {
		return nil, fmt.Errorf("no function %s", name)
	}
	s.pending = nil
	v, err := fn.Call(s.store, args...)
	if s.pending != nil {
		pending := s.pending
		s.pending = nil
		return nil, pending
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// fail records err for Call and unwinds the wasm stack.
func (s *Session) fail(err error) *wasmtime.Trap {
	s.pending = err
	return wasmtime.NewTrap(err.Error())
}

func (s *Session) define(linker *wasmtime.Linker) error {
	define := func(name string, fn any) error {
		return linker.DefineFunc(s.store, Module, name, fn)
	}
	if err := define("alloc_instance", func(klass int32) (int32, *wasmtime.Trap) {
		obj, err := s.heap.AllocInstance(klass)
		if err != nil {
			return 0, s.fail(err)
		}
		return obj, nil
	}); err != nil {
		return err
	}
	if err := define("alloc_array", func(klass, length, bci int32) (int32, *wasmtime.Trap) {
		arr, err := s.heap.AllocArray(klass, length)
		if err != nil {
			return 0, s.fail(atBci(err, bci))
		}
		return arr, nil
	}); err != nil {
		return err
	}
	multi := func(bci, klass int32, dims ...int32) (int32, *wasmtime.Trap) {
		arr, err := s.heap.MultiANewArray(klass, dims)
		if err != nil {
			return 0, s.fail(atBci(err, bci))
		}
		return arr, nil
	}
	if err := define("multianewarray2", func(klass, d0, d1, bci int32) (int32, *wasmtime.Trap) {
		return multi(bci, klass, d0, d1)
	}); err != nil {
		return err
	}
	if err := define("multianewarray3", func(klass, d0, d1, d2, bci int32) (int32, *wasmtime.Trap) {
		return multi(bci, klass, d0, d1, d2)
	}); err != nil {
		return err
	}
	if err := define("multianewarray4", func(klass, d0, d1, d2, d3, bci int32) (int32, *wasmtime.Trap) {
		return multi(bci, klass, d0, d1, d2, d3)
	}); err != nil {
		return err
	}
	if err := define("multianewarray5", func(klass, d0, d1, d2, d3, d4, bci int32) (int32, *wasmtime.Trap) {
		return multi(bci, klass, d0, d1, d2, d3, d4)
	}); err != nil {
		return err
	}
	if err := define("multianewarrayN", func(klass, dims, bci int32) (int32, *wasmtime.Trap) {
		return multi(bci, klass, s.heap.IntArray(dims)...)
	}); err != nil {
		return err
	}
	if err := define("deopt", func(reason, action, bci int32) *wasmtime.Trap {
		return s.fail(&DeoptError{Reason: graph.Reason(reason), Action: graph.Action(action), Bci: int(bci)})
	}); err != nil {
		return err
	}
	return define("throw", func(kind, bci int32) *wasmtime.Trap {
		return s.fail(&ExceptionError{Kind: ci.Exception(kind), Bci: int(bci)})
	})
}

type wasmMemory struct {
	store *wasmtime.Store
	mem   *wasmtime.Memory
}

func (m *wasmMemory) Bytes() []byte { return m.mem.UnsafeData(m.store) }

func (m *wasmMemory) Grow(pages int) error {
	_, err := m.mem.Grow(m.store, uint64(pages))
	return err
}
