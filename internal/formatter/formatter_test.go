package formatter

import (
	"strings"
	"testing"

	"opto/internal/parser"
)

func TestFormatCanonicalLayout(t *testing.T) {
	src := `value class Point { field int x; field int y; }
class Box extends Shape state=linked unloaded {
field static final double SCALE = 2;
field static final long MASK = 0xff;
    method static int[][] grid(int, int) { load int 0 load int 1 multianewarray int[][] 2; return }
}
class Shape {}
`
	out, err := New().Format("sample.jasm", src)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	want := `value class Point {
  field int x;
  field int y;
}

class Box extends Shape unloaded state=linked {
  field static final double SCALE = 2;
  field static final long MASK = 255;

  method static int[][] grid(int, int) {
    load int 0
    load int 1
    multianewarray int[][] 2
    return
  }
}

class Shape {
}
`
	if out != want {
		t.Fatalf("unexpected output:\n%s\nwant:\n%s", out, want)
	}
	again, err := New().Format("sample.jasm", out)
	if err != nil || again != out {
		t.Fatalf("formatting is not idempotent: %v\n%s", err, again)
	}
}

func TestFormatLiterals(t *testing.T) {
	src := `class C {
  field static double A = 1.5;
  field static double B = nan;
  field static float C = inf;
  field static double D = -1.5e3;
  field static final C E = new;
  field static C F = null;
  method static double f() { dconst 3 fconst 0.25 pop return }
}
`
	out, err := New().Format("lit.jasm", src)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	for _, want := range []string{"A = 1.5;", "B = nan;", "C = inf;", "D = -1500.0;", "E = new;", "F = null;", "dconst 3.0\n", "fconst 0.25\n"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output is missing %q\n%s", want, out)
		}
	}
}

func TestFormatPreservesComments(t *testing.T) {
	src := `// top
class Main {
  // before field
  field static int total; // trailing field
  /* before method */
  method static int get() {
    // before instr
    getstatic Main.total // trailing instr
    return
    // end of body
  }
}
// tail
`

	out, err := New().Format("sample.jasm", src)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}

	wantOrder := []string{
		"// top\nclass Main {",
		"  // before field\n  field static int total; // trailing field",
		"  /* before method */",
		"    // before instr\n    getstatic Main.total // trailing instr",
		"    // end of body\n  }",
		"}\n// tail",
	}
	last := -1
	for _, want := range wantOrder {
		idx := strings.Index(out, want)
		if idx < 0 {
			t.Fatalf("formatted output is missing %q\n%s", want, out)
		}
		if idx <= last {
			t.Fatalf("comment order is not preserved for %q\n%s", want, out)
		}
		last = idx
	}
}

func TestFormatModuleWithCommentsAfterAnnotate(t *testing.T) {
	src := `value class Point {
  field int x;
  field int y;
}

class Line {
  field flattened Point start;
  field static int count;

  method static Line make(int) {
    // keep
    new Line
    load int 0
    putstatic Line.count
    return
  }

  method static int[] ints() {
    iconst 2
    newarray int
    return
  }
}
`

	p := parser.New("sample.jasm", src)
	mod, err := p.ParseModule()
	if err != nil {
		t.Fatalf("ParseModule failed: %v", err)
	}

	f := New()
	if err := f.AnnotateModule(mod); err != nil {
		t.Fatalf("AnnotateModule failed: %v", err)
	}

	out := f.FormatModuleWithComments(mod, p.Comments())
	for _, want := range []string{
		"// keep\n",
		"method static Line make(int) { // max_locals=1\n",
		"new Line // bci 0, Line #2\n",
		"putstatic Line.count // bci 2, int @8\n",
		"newarray int // bci 1, int[] #",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("annotated output is missing %q\n%s", want, out)
		}
	}

	f.ClearNotes()
	if out := f.FormatModule(mod); strings.Contains(out, "bci") || strings.Contains(out, "// keep") {
		t.Fatalf("notes or comments leaked into a plain format\n%s", out)
	}
}

func TestAnnotateReportsCheckErrors(t *testing.T) {
	mod, err := parser.New("bad.jasm", "class A { method static void f() { pop return } }").ParseModule()
	if err != nil {
		t.Fatalf("ParseModule failed: %v", err)
	}
	if err := New().AnnotateModule(mod); err == nil || !strings.Contains(err.Error(), "stack underflow") {
		t.Fatalf("expected a check error, got %v", err)
	}
}
