package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"opto/internal/compiler"
	"opto/internal/config"
	"opto/internal/formatter"
	"opto/internal/parser"
	"opto/internal/runtime"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "build":
		buildCmd(os.Args[2:])
	case "run":
		runCmd(os.Args[2:])
	case "lower":
		lowerCmd(os.Args[2:])
	case "repl":
		replCmd(os.Args[2:])
	case "fmt":
		fmtCmd(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  opto build [-config file] [-o name] [-wat] <file.jasm|dir>")
	fmt.Fprintln(os.Stderr, "  opto run [-config file] <file.jasm|dir> <Class.method> [args...]")
	fmt.Fprintln(os.Stderr, "  opto lower [-config file] [-stats] [-color auto|always|never] <file.jasm|dir> [Class.method]")
	fmt.Fprintln(os.Stderr, "  opto repl [-config file]")
	fmt.Fprintln(os.Stderr, "  opto fmt [-w] [-annotate] <file.jasm>...")
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// loadOptions reads the config named by -config, or by the OPTO_CONFIG
// environment variable when the flag is empty.
func loadOptions(path string) config.Options {
	var opts config.Options
	var err error
	if path != "" {
		opts, err = config.Load(path)
	} else {
		opts, err = config.FromEnv()
	}
	if err != nil {
		fail(err)
	}
	return opts
}

func newCompiler(opts config.Options) *compiler.Compiler {
	comp := compiler.New(opts)
	if opts.PrintOpto || opts.Verbose {
		comp.Trace = os.Stderr
	}
	return comp
}

func buildCmd(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	cfg := fs.String("config", "", "YAML file with compiler options")
	out := fs.String("o", "", "base name of the output files (written next to the input)")
	watOnly := fs.Bool("wat", false, "write only the text format")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "input file required")
		os.Exit(1)
	}
	entry := fs.Arg(0)
	comp := newCompiler(loadOptions(*cfg))
	res, err := comp.Lower(entry)
	if err != nil {
		fail(err)
	}
	asmErr := comp.Assemble(res)
	if asmErr != nil && (res.Wat == "" || !*watOnly) {
		fail(asmErr)
	}

	dir, base := filepath.Dir(entry), filepath.Base(entry)
	if info, err := os.Stat(entry); err == nil && info.IsDir() {
		dir = entry
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if *out != "" {
		base = filepath.Base(strings.TrimSuffix(*out, filepath.Ext(*out)))
	}
	basePath := filepath.Join(dir, base)
	if err := os.WriteFile(basePath+".wat", []byte(res.Wat), 0644); err != nil {
		fail(err)
	}
	if *watOnly {
		return
	}
	if err := os.WriteFile(basePath+".wasm", res.Wasm, 0644); err != nil {
		fail(err)
	}
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfg := fs.String("config", "", "YAML file with compiler options")
	_ = fs.Parse(args)
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "input file and method required")
		os.Exit(1)
	}
	entry, name := fs.Arg(0), fs.Arg(1)
	res, err := newCompiler(loadOptions(*cfg)).Compile(entry)
	if err != nil {
		fail(err)
	}
	v, err := call(res, name, fs.Args()[2:])
	if err != nil {
		fail(err)
	}
	if v != nil {
		fmt.Println(v)
	}
}

// call runs method name of a compiled result in a fresh session.
func call(res *compiler.Result, name string, args []string) (any, error) {
	m := res.Env.Method(name)
	if m == nil {
		return nil, fmt.Errorf("unknown method %s", name)
	}
	values, err := runtime.Args(m, args)
	if err != nil {
		return nil, err
	}
	sess, err := runtime.NewRunner().NewSession(res.Wasm, res.Env)
	if err != nil {
		return nil, err
	}
	v, err := sess.Call(name, values...)
	var deopt *runtime.DeoptError
	var exc *runtime.ExceptionError
	switch {
	case errors.As(err, &deopt):
		return nil, fmt.Errorf("%s: %w", name, err)
	case errors.As(err, &exc):
		return nil, fmt.Errorf("%s: uncaught %w", name, err)
	}
	return v, err
}

func useColor(mode string, w *os.File) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	return isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd())
}

func lowerCmd(args []string) {
	fs := flag.NewFlagSet("lower", flag.ExitOnError)
	cfg := fs.String("config", "", "YAML file with compiler options")
	stats := fs.Bool("stats", false, "print node and allocation counts instead of the graphs")
	color := fs.String("color", "auto", "highlight nodes: auto, always or never")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "input file required")
		os.Exit(1)
	}
	res, err := newCompiler(loadOptions(*cfg)).Lower(fs.Arg(0))
	if err != nil {
		fail(err)
	}
	if err := printLowered(os.Stdout, res, fs.Arg(1), *stats, useColor(*color, os.Stdout)); err != nil {
		fail(err)
	}
}

func printLowered(w io.Writer, res *compiler.Result, only string, stats, color bool) error {
	var total formatter.GraphStats
	found := false
	for _, m := range res.Methods {
		if only != "" && m.String() != only {
			continue
		}
		found = true
		g := res.Graphs[m]
		if stats {
			s := formatter.Stats(g)
			total.Nodes += s.Nodes
			total.Allocations += s.Allocations
			total.AllocatedBytes += s.AllocatedBytes
			fmt.Fprintf(w, "%-32s %6s nodes %4d loads %4d stores %3d allocations (%s) %3d barriers %3d traps\n",
				m, humanize.Comma(int64(s.Nodes)), s.Loads, s.Stores, s.Allocations,
				humanize.IBytes(uint64(s.AllocatedBytes)), s.Barriers, s.Traps)
			continue
		}
		fmt.Fprintf(w, "%s:\n", m)
		if err := formatter.DumpGraph(w, g, color); err != nil {
			return err
		}
	}
	if only != "" && !found {
		return fmt.Errorf("unknown method %s", only)
	}
	if stats && only == "" {
		fmt.Fprintf(w, "total: %s nodes in %s methods, %s allocations of %s\n",
			humanize.Comma(int64(total.Nodes)), humanize.Comma(int64(len(res.Methods))),
			humanize.Comma(int64(total.Allocations)), humanize.IBytes(uint64(total.AllocatedBytes)))
	}
	return nil
}

func fmtCmd(args []string) {
	fs := flag.NewFlagSet("fmt", flag.ExitOnError)
	write := fs.Bool("w", false, "write the result back to the file")
	annotate := fs.Bool("annotate", false, "add bci and resolved operands as comments")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "input file required")
		os.Exit(1)
	}

	for _, file := range fs.Args() {
		src, err := os.ReadFile(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", file, err)
			os.Exit(1)
		}

		f := formatter.New()
		p := parser.New(file, string(src))
		mod, err := p.ParseModule()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", file, err)
			os.Exit(1)
		}
		if *annotate {
			if err := f.AnnotateModule(mod); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", file, err)
				os.Exit(1)
			}
		}
		formatted := f.FormatModuleWithComments(mod, p.Comments())

		if *write {
			if err := os.WriteFile(file, []byte(formatted), 0644); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", file, err)
				os.Exit(1)
			}
			continue
		}
		fmt.Print(formatted)
	}
}
