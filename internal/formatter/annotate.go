package formatter

import (
	"fmt"

	"opto/internal/ast"
	"opto/internal/bytecode"
	"opto/internal/ci"
	"opto/internal/types"
)

// AnnotateModule runs the checker over mod and records, for every instruction,
// its bci and what its operand resolved to. The notes are printed as trailing
// comments by the next FormatModuleWithComments.
func (f *Formatter) AnnotateModule(mod *ast.Module) error {
	checker := types.NewChecker()
	checker.AddModule(mod)
	if !checker.Check() {
		// return first error
		if len(checker.Errors) > 0 {
			return checker.Errors[0]
		}
		return fmt.Errorf("check failed")
	}

	f.notes = map[ast.Position]string{}
	for _, c := range mod.Classes {
		for _, m := range c.Methods {
			method := checker.Env.Method(c.Name + "." + m.Name)
			if method == nil {
				continue
			}
			f.notes[m.Span.Start] = fmt.Sprintf("max_locals=%d", method.MaxLocals)
			for bci, in := range method.Code {
				if bci >= len(m.Body) {
					break
				}
				f.notes[m.Body[bci].Span.Start] = annotateInstr(checker.Env, bci, in)
			}
		}
	}
	return nil
}

func annotateInstr(env *ci.Env, bci int, in bytecode.Instr) string {
	note := fmt.Sprintf("bci %d", bci)
	switch in.Op.Operand() {
	case bytecode.OperandField:
		fd, err := env.LookupField(in.Class, in.Name)
		if err != nil {
			return note
		}
		note += fmt.Sprintf(", %s @%d", fd.LayoutType(), fd.Offset)
		if fd.Flattened {
			note += " flattened"
		}
	case bytecode.OperandClass, bytecode.OperandClassDims:
		sig, err := env.ResolveType(in.Class)
		if err != nil || sig.Klass == nil {
			return note
		}
		k := sig.Klass
		if in.Op == bytecode.ANewArray {
			k = env.ArrayOf(k)
		}
		note += fmt.Sprintf(", %s #%d", k, k.ID)
	case bytecode.OperandPrimitive:
		if bt, ok := ci.ParseBasicType(in.Kind); ok && bt != ci.TVoid {
			k := env.TypeArrayOf(bt)
			note += fmt.Sprintf(", %s #%d", k, k.ID)
		}
	}
	return note
}

// ClearNotes drops the notes of an earlier AnnotateModule.
func (f *Formatter) ClearNotes() {
	f.notes = nil
}
