package parser

import (
	"math"
	"strings"
	"testing"

	"opto/internal/ast"
	"opto/internal/lexer"
)

func TestParseClassDeclarations(t *testing.T) {
	const src = `
// call: Main.run
value class Point {
  field int x;
  field flattened Point[] bad;
}

class Main extends Base unloaded state=linked {
  field static final long BIG = 0x7fffffff;
  field static final double NEG = -1.5e3;
  field static final float N = nan;
  field static final Main SELF = new;
  field volatile stable Object o;

  method static void <clinit>() {
    iconst -3; pop
    return
  }

  method int get(long, Point[][]) {
    load ref 0
    getfield Main.o
    multianewarray Point[][] 2;
    fconst inf
    return
  }
}
`
	p := New("main.jasm", src)
	mod, err := p.ParseModule()
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(mod.Classes) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(mod.Classes))
	}
	point := mod.Classes[0]
	if !point.Value || point.Name != "Point" || len(point.Fields) != 2 {
		t.Fatalf("unexpected Point: %+v", point)
	}
	if bad := point.Fields[1]; !bad.Has(ast.ModFlattened) || bad.Type.String() != "Point[]" {
		t.Fatalf("unexpected field: %+v", bad)
	}

	main := mod.Classes[1]
	if main.Extends != "Base" || !main.Unloaded || main.State != "linked" {
		t.Fatalf("unexpected class header: %+v", main)
	}
	big := main.Fields[0]
	if big.Init == nil || big.Init.Kind != ast.LitInt || big.Init.Int != 0x7fffffff {
		t.Fatalf("unexpected BIG: %+v", big.Init)
	}
	if neg := main.Fields[1].Init; neg.Kind != ast.LitFloat || neg.Float != -1500 {
		t.Fatalf("unexpected NEG: %+v", neg)
	}
	if n := main.Fields[2].Init; n.Kind != ast.LitFloat || !math.IsNaN(n.Float) {
		t.Fatalf("unexpected N: %+v", n)
	}
	if self := main.Fields[3].Init; self.Kind != ast.LitNew {
		t.Fatalf("unexpected SELF: %+v", self)
	}
	if o := main.Fields[4]; !o.Has(ast.ModVolatile) || !o.Has(ast.ModStable) || o.Has(ast.ModStatic) {
		t.Fatalf("unexpected modifiers: %v", o.Modifiers)
	}

	clinit := main.Methods[0]
	if clinit.Name != "<clinit>" || !clinit.Static || len(clinit.Body) != 3 || clinit.Body[0].Int != -3 {
		t.Fatalf("unexpected <clinit>: %+v", clinit)
	}
	get := main.Methods[1]
	if get.Static || len(get.Params) != 2 || get.Params[1].Dims != 2 || get.Ret.Name != "int" {
		t.Fatalf("unexpected signature: %+v", get)
	}
	field := get.Body[1]
	if field.Class != "Main" || field.Name != "o" {
		t.Fatalf("unexpected getfield operands: %+v", field)
	}
	multi := get.Body[2]
	if multi.Class != "Point[][]" || multi.Int != 2 {
		t.Fatalf("unexpected multianewarray operands: %+v", multi)
	}
	if f := get.Body[3]; !math.IsInf(f.Float, 1) {
		t.Fatalf("unexpected fconst operand: %v", f.Float)
	}
	if pos := multi.Span.Start; pos.Line != 23 || pos.Col != 5 {
		t.Fatalf("unexpected position %d:%d", pos.Line, pos.Col)
	}

	comments := p.Comments()
	if len(comments) != 1 || comments[0].Text != "// call: Main.run" || comments[0].Kind != lexer.CommentLine {
		t.Fatalf("unexpected comments: %+v", comments)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"missing class", "field int x;", "bad.jasm:1:1: class declaration required"},
		{"bad header", "class A implements B {}", "unexpected \"implements\" in class header"},
		{"bad member", "class A { int x; }", "field or method declaration required"},
		{"unknown instruction", "class A { method void f() { jump 3 } }", "unknown instruction \"jump\""},
		{"missing operand", "class A { method void f() { iconst } }", "int expected"},
		{"bad literal", "class A { field static int x = y; }", "constant required"},
		{"bad float operand", "class A { method void f() { dconst x } }", "float constant required"},
		{"missing semicolon", "class A { field int x }", "; expected"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New("bad.jasm", tc.src).ParseModule()
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
