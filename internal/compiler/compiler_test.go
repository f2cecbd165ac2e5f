package compiler_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"opto/internal/compiler"
	"opto/internal/complog"
	"opto/internal/config"
	"opto/internal/graph"
	"opto/internal/parser"
	"opto/internal/runtime"
)

// scriptCase is one "call:" line of a testdata file and the "expect:" line
// that follows it.
type scriptCase struct {
	line   int
	fn     string
	args   []string
	expect string
}

func readScript(t *testing.T, path string) (string, []scriptCase) {
	t.Helper()
	src, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	p := parser.New(path, string(src))
	if _, err := p.ParseModule(); err != nil {
		t.Fatal(err)
	}
	var cases []scriptCase
	for _, c := range p.Comments() {
		text := strings.TrimSpace(strings.TrimPrefix(c.Text, "//"))
		switch {
		case strings.HasPrefix(text, "call:"):
			fields := strings.Fields(strings.TrimPrefix(text, "call:"))
			if len(fields) == 0 {
				t.Fatalf("%s:%d: empty call", path, c.Pos.Line)
			}
			cases = append(cases, scriptCase{line: c.Pos.Line, fn: fields[0], args: fields[1:]})
		case strings.HasPrefix(text, "expect:"):
			if len(cases) == 0 || cases[len(cases)-1].expect != "" {
				t.Fatalf("%s:%d: expect without call", path, c.Pos.Line)
			}
			cases[len(cases)-1].expect = strings.TrimSpace(strings.TrimPrefix(text, "expect:"))
		}
	}
	if len(cases) == 0 {
		t.Fatalf("%s: no calls", path)
	}
	return string(src), cases
}

func TestTestdata(t *testing.T) {
	if !runtime.Available {
		t.Skip("cgo is disabled, skipping execution tests")
	}
	paths, err := filepath.Glob(filepath.Join("testdata", "*"+compiler.SourceExt))
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Fatal("no testdata")
	}
	for _, path := range paths {
		path := path
		t.Run(filepath.Base(path), func(t *testing.T) {
			src, cases := readScript(t, path)
			res, err := compiler.New(config.Default()).CompileSource(path, src)
			if err != nil {
				t.Fatal(err)
			}
			session, err := runtime.NewRunner().NewSession(res.Wasm, res.Env)
			if err != nil {
				t.Fatal(err)
			}
			for _, c := range cases {
				m := res.Env.Method(c.fn)
				if m == nil {
					t.Fatalf("line %d: unknown method %s", c.line, c.fn)
				}
				args, err := runtime.Args(m, c.args)
				if err != nil {
					t.Fatalf("line %d: %v", c.line, err)
				}
				v, err := session.Call(c.fn, args...)
				switch {
				case strings.HasPrefix(c.expect, "error "):
					want := strings.TrimPrefix(c.expect, "error ")
					if err == nil || !strings.Contains(err.Error(), want) {
						t.Fatalf("line %d: %s: expected error containing %q, got %v, %v", c.line, c.fn, want, v, err)
					}
				case err != nil:
					t.Fatalf("line %d: %s: %v", c.line, c.fn, err)
				case c.expect == "ok":
				default:
					if got := fmt.Sprint(v); got != c.expect {
						t.Fatalf("line %d: %s: got %s, want %s", c.line, c.fn, got, c.expect)
					}
				}
			}
		})
	}
}

func TestCompileDirectory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.jasm": "class A {\n  field static int x;\n}\n",
		"b.jasm": "class B {\n  method static int get() {\n    getstatic A.x\n    return\n  }\n}\n",
		"notes.txt": "not a source",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	res, err := compiler.New(config.Default()).Lower(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Methods) != 1 || res.Graph("B.get") == nil {
		t.Fatalf("unexpected methods: %v", res.Methods)
	}

	if _, err := compiler.New(config.Default()).Lower(t.TempDir()); err == nil || !strings.Contains(err.Error(), "no .jasm files") {
		t.Fatalf("expected error for an empty directory, got %v", err)
	}
	if _, err := compiler.New(config.Default()).Lower(filepath.Join(dir, "missing.jasm")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestLowerReportsCheckErrors(t *testing.T) {
	_, err := compiler.New(config.Default()).LowerSource("bad.jasm", "class A {\n  method static int f() {\n    pop\n    return\n  }\n}\n")
	if err == nil || !strings.Contains(err.Error(), "bad.jasm:3:5: stack underflow") {
		t.Fatalf("expected a positioned check error, got %v", err)
	}
	_, err = compiler.New(config.Default()).LowerSource("syntax.jasm", "class {")
	if err == nil {
		t.Fatalf("expected a syntax error")
	}
}

func TestPrintOptoTracesEveryMethod(t *testing.T) {
	opts := config.Default()
	opts.PrintOpto = true
	var trace bytes.Buffer
	c := compiler.New(opts)
	c.Trace = &trace
	src := "class Lazy state=linked {\n  field static int x;\n}\nclass Main {\n  method static int f() {\n    getstatic Lazy.x\n    return\n  }\n}\n"
	res, err := c.LowerSource("trace.jasm", src)
	if err != nil {
		t.Fatal(err)
	}
	out := trace.String()
	if !strings.Contains(out, "method='Main.f'") || !strings.Contains(out, "reason='uninitialized'") {
		t.Fatalf("unexpected trace:\n%s", out)
	}
	traps := res.Logs[res.Env.Method("Main.f")].Find("uncommon_trap")
	if len(traps) != 1 || traps[0].Attr("bci") != "0" {
		t.Fatalf("unexpected traps: %v", traps)
	}
	if g := res.Graph("Main.f"); len(g.Find(graph.OpUncommonTrap)) != 1 {
		t.Fatalf("expected one uncommon trap node")
	}
}

func TestCompileLogDatabase(t *testing.T) {
	opts := config.Default()
	opts.LogDB = filepath.Join(t.TempDir(), "log.db")
	src := "class Main {\n  method static int[][] grid() {\n    iconst 2\n    iconst 2\n    multianewarray int[][] 2\n    return\n  }\n}\n"
	if _, err := compiler.New(opts).LowerSource("log.jasm", src); err != nil {
		t.Fatal(err)
	}
	store, err := complog.OpenStore(opts.LogDB)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	comps, err := store.Compilations("Main.grid")
	if err != nil || len(comps) != 1 {
		t.Fatalf("expected one compilation, got %v, %v", comps, err)
	}
	events, err := store.Events(comps[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, e := range events {
		if e.Name == "multianewarray" {
			found = e.Attr("expand") == "true" && e.Attr("count") == "3"
		}
	}
	if !found {
		t.Fatalf("expected an expanded multianewarray event, got %v", events)
	}
}
