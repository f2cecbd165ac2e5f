package opto

import (
	"opto/internal/ci"
	"opto/internal/types"
)

// ConstantFolder decides whether a final or stable field read can be replaced
// by a known value. container is the type of the object the field is read
// from: the holder's mirror for static fields.
type ConstantFolder interface {
	FoldField(f *ci.Field, container types.Type) (ci.Constant, bool)
}

// FieldFolder folds static finals of initialized classes and fields of
// constant objects. Stable fields fold only once they hold a non-default
// value.
type FieldFolder struct{}

func (FieldFolder) FoldField(f *ci.Field, container types.Type) (ci.Constant, bool) {
	var holder *ci.Object
	if f.Static {
		if !f.Holder.IsInitialized() {
			return ci.Constant{}, false
		}
		holder = f.Holder.Mirror
	} else {
		holder = container.Const
	}
	if holder == nil {
		return ci.Constant{}, false
	}
	c, ok := holder.FieldValue(f)
	if !ok {
		if !f.Static || f.Constant == nil {
			return ci.Constant{}, false
		}
		c = *f.Constant
	}
	if f.Stable && c.IsDefault() {
		return ci.Constant{}, false
	}
	return c, true
}
