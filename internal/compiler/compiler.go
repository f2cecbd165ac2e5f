package compiler

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"opto/internal/ast"
	"opto/internal/ci"
	"opto/internal/complog"
	"opto/internal/config"
	"opto/internal/graph"
	"opto/internal/opto"
	"opto/internal/parser"
	"opto/internal/types"
)

// SourceExt is the extension of assembly sources.
const SourceExt = ".jasm"

type Result struct {
	Env     *ci.Env
	Methods []*ci.Method
	Graphs  map[*ci.Method]*graph.Graph
	Logs    map[*ci.Method]*complog.Log
	Image   *Image
	Wat     string
	Wasm    []byte
}

// Graph returns the graph of the method called name, e.g. "Main.get".
func (r *Result) Graph(name string) *graph.Graph {
	return r.Graphs[r.Env.Method(name)]
}

type Compiler struct {
	Opts config.Options
	// Sinks receive the compile log of every method.
	Sinks []complog.Sink
	// Trace receives PrintOpto output. Nil discards it.
	Trace io.Writer

	Modules []*ast.Module
}

func New(opts config.Options) *Compiler {
	return &Compiler{Opts: opts}
}

// Compile lowers and assembles the given sources. A directory stands for
// every source file in it.
func (c *Compiler) Compile(paths ...string) (*Result, error) {
	res, err := c.Lower(paths...)
	if err != nil {
		return nil, err
	}
	if err := c.Assemble(res); err != nil {
		return nil, err
	}
	return res, nil
}

// CompileSource compiles a single in-memory source.
func (c *Compiler) CompileSource(name, src string) (*Result, error) {
	if err := c.addSource(name, src); err != nil {
		return nil, err
	}
	res, err := c.lower()
	if err != nil {
		return nil, err
	}
	if err := c.Assemble(res); err != nil {
		return nil, err
	}
	return res, nil
}

// Lower checks the sources and builds the graph of every method without
// generating code.
func (c *Compiler) Lower(paths ...string) (*Result, error) {
	for _, path := range paths {
		if err := c.load(path); err != nil {
			return nil, err
		}
	}
	return c.lower()
}

// LowerSource is Lower for a single in-memory source.
func (c *Compiler) LowerSource(name, src string) (*Result, error) {
	if err := c.addSource(name, src); err != nil {
		return nil, err
	}
	return c.lower()
}

func (c *Compiler) load(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return c.addSource(path, string(src))
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), SourceExt) {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("%s: no %s files", path, SourceExt)
	}
	sort.Strings(files)
	for _, file := range files {
		if err := c.load(file); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) addSource(name, src string) error {
	mod, err := parser.New(name, src).ParseModule()
	if err != nil {
		return err
	}
	c.Modules = append(c.Modules, mod)
	return nil
}

func (c *Compiler) lower() (*Result, error) {
	checker := types.NewChecker()
	for _, mod := range c.Modules {
		checker.AddModule(mod)
	}
	if !checker.Check() {
		return nil, checker.Errors[0]
	}

	sinks := append([]complog.Sink(nil), c.Sinks...)
	if c.Opts.LogDB != "" {
		store, err := complog.OpenStore(c.Opts.LogDB)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		sinks = append(sinks, store)
	}
	trace := c.Trace
	if trace == nil {
		trace = io.Discard
	}
	if c.Opts.PrintOpto {
		sinks = append(sinks, complog.TextSink(trace))
	}

	res := &Result{
		Env:    checker.Env,
		Graphs: map[*ci.Method]*graph.Graph{},
		Logs:   map[*ci.Method]*complog.Log{},
	}
	for _, m := range checker.Env.Methods() {
		log := complog.New(m.String(), sinks...)
		g, err := opto.Parse(checker.Env, m, c.Opts, opto.WithLog(log), opto.WithTrace(trace))
		if err != nil {
			return nil, err
		}
		if err := log.Err(); err != nil {
			return nil, fmt.Errorf("%s: compile log: %w", m, err)
		}
		res.Methods = append(res.Methods, m)
		res.Graphs[m] = g
		res.Logs[m] = log
	}
	return res, nil
}

// Assemble generates code for lowered methods. res.Wat is filled in even when
// the text cannot be assembled.
func (c *Compiler) Assemble(res *Result) error {
	gen := NewGenerator(res.Env)
	units := make([]Unit, len(res.Methods))
	for i, m := range res.Methods {
		units[i] = Unit{Method: m, Graph: res.Graphs[m]}
	}
	wat, err := gen.Generate(units)
	if err != nil {
		return err
	}
	res.Image = gen.Image()
	res.Wat = wat
	wasm, err := gen.WatToWasm(wat)
	if err != nil {
		return err
	}
	res.Wasm = wasm
	return nil
}
