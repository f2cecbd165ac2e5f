package formatter

import (
	"math"
	"strconv"
	"strings"

	"opto/internal/ast"
	"opto/internal/lexer"
	"opto/internal/parser"
)

// Formatter prints assembly sources in canonical layout
type Formatter struct {
	indent   int
	buf      strings.Builder
	comments []lexer.Comment
	next     int
	// notes are trailing remarks keyed by the start of an instruction. They
	// are filled in by AnnotateModule.
	notes map[ast.Position]string
}

// New creates a new Formatter
func New() *Formatter {
	return &Formatter{}
}

// Format formats a source file and returns the formatted code
func (f *Formatter) Format(path, src string) (string, error) {
	p := parser.New(path, src)
	mod, err := p.ParseModule()
	if err != nil {
		return "", err
	}
	return f.FormatModuleWithComments(mod, p.Comments()), nil
}

// FormatModule formats an AST module, dropping comments
func (f *Formatter) FormatModule(mod *ast.Module) string {
	return f.FormatModuleWithComments(mod, nil)
}

// FormatModuleWithComments formats mod and puts every comment back in front
// of, or behind, the declaration or instruction it was written next to.
func (f *Formatter) FormatModuleWithComments(mod *ast.Module, comments []lexer.Comment) string {
	f.buf.Reset()
	f.indent = 0
	f.comments = comments
	f.next = 0

	for i, c := range mod.Classes {
		if i > 0 {
			f.buf.WriteString("\n")
		}
		f.formatClass(c)
	}
	f.flushComments(math.MaxInt)
	return f.buf.String()
}

func (f *Formatter) writeIndent() {
	for i := 0; i < f.indent; i++ {
		f.buf.WriteString("  ")
	}
}

// flushComments writes the pending comments that start before line.
func (f *Formatter) flushComments(line int) {
	for f.next < len(f.comments) && f.comments[f.next].Pos.Line < line {
		f.writeIndent()
		f.buf.WriteString(f.comments[f.next].Text)
		f.buf.WriteString("\n")
		f.next++
	}
}

// endLine finishes a line that started at line, appending the trailing
// comment written on the same line and the note for the position, if any.
func (f *Formatter) endLine(pos ast.Position) {
	var trailing []string
	for f.next < len(f.comments) {
		c := f.comments[f.next]
		if !c.Inline || c.Pos.Line != pos.Line {
			break
		}
		trailing = append(trailing, c.Text)
		f.next++
	}
	if note, ok := f.notes[pos]; ok {
		trailing = append(trailing, "// "+note)
	}
	for _, t := range trailing {
		f.buf.WriteString(" ")
		f.buf.WriteString(t)
	}
	f.buf.WriteString("\n")
}

func (f *Formatter) formatClass(c *ast.ClassDecl) {
	f.flushComments(c.Span.Start.Line)
	f.writeIndent()
	if c.Value {
		f.buf.WriteString("value ")
	}
	f.buf.WriteString("class ")
	f.buf.WriteString(c.Name)
	if c.Extends != "" {
		f.buf.WriteString(" extends ")
		f.buf.WriteString(c.Extends)
	}
	if c.Unloaded {
		f.buf.WriteString(" unloaded")
	}
	if c.State != "" {
		f.buf.WriteString(" state=")
		f.buf.WriteString(c.State)
	}
	f.buf.WriteString(" {")
	f.endLine(c.Span.Start)

	f.indent++
	for _, fd := range c.Fields {
		f.formatField(fd)
	}
	for i, m := range c.Methods {
		if i > 0 || len(c.Fields) > 0 {
			f.buf.WriteString("\n")
		}
		f.formatMethod(m)
	}
	f.flushComments(c.Span.End.Line)
	f.indent--
	f.writeIndent()
	f.buf.WriteString("}\n")
}

func (f *Formatter) formatField(fd *ast.FieldDecl) {
	f.flushComments(fd.Span.Start.Line)
	f.writeIndent()
	f.buf.WriteString("field ")
	for _, m := range fd.Modifiers {
		f.buf.WriteString(m)
		f.buf.WriteString(" ")
	}
	f.buf.WriteString(fd.Type.String())
	f.buf.WriteString(" ")
	f.buf.WriteString(fd.Name)
	if fd.Init != nil {
		f.buf.WriteString(" = ")
		f.buf.WriteString(formatLiteral(fd.Init))
	}
	f.buf.WriteString(";")
	f.endLine(fd.Span.Start)
}

func (f *Formatter) formatMethod(m *ast.MethodDecl) {
	f.flushComments(m.Span.Start.Line)
	f.writeIndent()
	f.buf.WriteString("method ")
	if m.Static {
		f.buf.WriteString("static ")
	}
	f.buf.WriteString(m.Ret.String())
	f.buf.WriteString(" ")
	f.buf.WriteString(m.Name)
	f.buf.WriteString("(")
	for i, p := range m.Params {
		if i > 0 {
			f.buf.WriteString(", ")
		}
		f.buf.WriteString(p.String())
	}
	f.buf.WriteString(") {")
	f.endLine(m.Span.Start)

	f.indent++
	for _, in := range m.Body {
		f.flushComments(in.Span.Start.Line)
		f.writeIndent()
		f.buf.WriteString(formatInstr(in))
		f.endLine(in.Span.Start)
	}
	f.flushComments(m.Span.End.Line)
	f.indent--
	f.writeIndent()
	f.buf.WriteString("}\n")
}

func formatInstr(in ast.Instr) string {
	s := in.Mnemonic
	switch {
	case in.Name != "":
		return s + " " + in.Class + "." + in.Name
	case in.Class != "" && in.Mnemonic == "multianewarray":
		return s + " " + in.Class + " " + strconv.FormatInt(in.Int, 10)
	case in.Class != "":
		return s + " " + in.Class
	case in.Kind != "" && (in.Mnemonic == "load" || in.Mnemonic == "store"):
		return s + " " + in.Kind + " " + strconv.FormatInt(in.Int, 10)
	case in.Kind != "":
		return s + " " + in.Kind
	}
	switch in.Mnemonic {
	case "iconst", "lconst":
		return s + " " + strconv.FormatInt(in.Int, 10)
	case "fconst", "dconst":
		return s + " " + formatFloat(in.Float)
	}
	return s
}

func formatLiteral(lit *ast.Literal) string {
	switch lit.Kind {
	case ast.LitInt:
		return strconv.FormatInt(lit.Int, 10)
	case ast.LitFloat:
		return formatFloat(lit.Float)
	case ast.LitNull:
		return "null"
	}
	return "new"
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}
