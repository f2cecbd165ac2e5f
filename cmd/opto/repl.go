package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	"opto/internal/ast"
	"opto/internal/compiler"
	"opto/internal/config"
	"opto/internal/parser"
)

const (
	historyFile = ".opto_history"
	promptMain  = "opto> "
	promptCont  = "....> "
)

const replHelp = `Enter class declarations; they are checked and lowered as soon as the
closing brace is read. Commands:
  :load <file>               add the classes of a source file
  :lower [Class.method]      print the graphs
  :stats                     print node and allocation counts
  :wat                       print the generated module
  :run Class.method [args]   execute a method
  :reset                     forget every class
  :quit                      leave`

// session holds the classes entered so far.
type session struct {
	opts    config.Options
	modules []*ast.Module
	res     *compiler.Result
	color   bool
	out     io.Writer
	count   int
}

func replCmd(args []string) {
	fs := flag.NewFlagSet("repl", flag.ExitOnError)
	cfg := fs.String("config", "", "YAML file with compiler options")
	_ = fs.Parse(args)
	os.Exit(runRepl(loadOptions(*cfg)))
}

func runRepl(opts config.Options) int {
	fmt.Println("opto repl, :help for commands")

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		ln.Close()
		os.Exit(130)
	}()

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	s := &session{opts: opts, out: os.Stdout, color: isatty.IsTerminal(os.Stdout.Fd())}
	for {
		input, ok := readBalanced(ln)
		if !ok {
			fmt.Println()
			return 0
		}
		text := strings.TrimSpace(input)
		if text == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(input, "\n", " "))
		if strings.HasPrefix(text, ":") {
			if quit := s.command(text); quit {
				return 0
			}
			continue
		}
		if err := s.add(input); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// readBalanced reads lines until every opened brace is closed.
func readBalanced(ln *liner.State) (string, bool) {
	var b strings.Builder
	depth := 0
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		depth += braceDepth(line)
		if depth <= 0 {
			return b.String(), true
		}
	}
}

// braceDepth is the number of braces line opens minus the number it closes,
// ignoring line comments.
func braceDepth(line string) int {
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}
	return strings.Count(line, "{") - strings.Count(line, "}")
}

// add parses src and keeps it when the whole program still checks.
func (s *session) add(src string) error {
	s.count++
	mod, err := parser.New(fmt.Sprintf("<repl:%d>", s.count), src).ParseModule()
	if err != nil {
		return err
	}
	return s.relower(append(s.modules, mod))
}

func (s *session) load(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	mod, err := parser.New(path, string(src)).ParseModule()
	if err != nil {
		return err
	}
	return s.relower(append(s.modules, mod))
}

func (s *session) relower(mods []*ast.Module) error {
	comp := newCompiler(s.opts)
	comp.Modules = mods
	res, err := comp.Lower()
	if err != nil {
		return err
	}
	s.modules = mods
	s.res = res
	for _, m := range res.Methods {
		fmt.Fprintf(s.out, "lowered %s (%d nodes)\n", m, len(res.Graphs[m].Live()))
	}
	return nil
}

// command runs a colon command and reports whether the repl should end.
func (s *session) command(text string) bool {
	fields := strings.Fields(text)
	var err error
	switch fields[0] {
	case ":quit", ":q":
		return true
	case ":help":
		fmt.Fprintln(s.out, replHelp)
	case ":reset":
		s.modules, s.res = nil, nil
	case ":load":
		if len(fields) != 2 {
			err = errors.New("usage: :load <file>")
			break
		}
		err = s.load(fields[1])
	case ":lower", ":stats":
		if s.res == nil {
			err = errors.New("nothing lowered yet")
			break
		}
		only := ""
		if len(fields) > 1 {
			only = fields[1]
		}
		err = printLowered(s.out, s.res, only, fields[0] == ":stats", s.color)
	case ":wat", ":run":
		err = s.execute(fields)
	default:
		err = fmt.Errorf("unknown command %s, :help lists the commands", fields[0])
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return false
}

func (s *session) execute(fields []string) error {
	if s.res == nil {
		return errors.New("nothing lowered yet")
	}
	comp := newCompiler(s.opts)
	if err := comp.Assemble(s.res); err != nil && (fields[0] != ":wat" || s.res.Wat == "") {
		return err
	}
	if fields[0] == ":wat" {
		fmt.Fprint(s.out, s.res.Wat)
		return nil
	}
	if len(fields) < 2 {
		return errors.New("usage: :run Class.method [args]")
	}
	v, err := call(s.res, fields[1], fields[2:])
	if err != nil {
		return err
	}
	if v != nil {
		fmt.Fprintln(s.out, v)
	}
	return nil
}
