package opto

import (
	"fmt"

	"opto/internal/ci"
	"opto/internal/graph"
	"opto/internal/types"
)

// Inline composites are represented by ValueType nodes whose inputs are the
// field values in offset order. Flattened sub-fields are nested ValueType
// nodes.

func (k *GraphKit) isValueType(n graph.NodeID) bool {
	node := k.G.Node(n)
	return node != nil && node.Op == graph.OpValueType
}

func (k *GraphKit) makeValue(vk *ci.Klass, vals []graph.NodeID) graph.NodeID {
	return k.transform(graph.Node{
		Op:   graph.OpValueType,
		In:   vals,
		Type: types.Value(vk),
		Aux:  graph.Aux{Klass: vk},
	})
}

func (k *GraphKit) defaultValue(vk *ci.Klass) graph.NodeID {
	fields := vk.InstanceFields()
	vals := make([]graph.NodeID, len(fields))
	for i, f := range fields {
		if f.Flattened {
			vals[i] = k.defaultValue(f.Type)
		} else {
			vals[i] = k.Zerocon(f.LayoutType())
		}
	}
	return k.makeValue(vk, vals)
}

// fieldValueByOffset returns the value of the field of vt at offset, looking
// into flattened sub-fields.
func (k *GraphKit) fieldValueByOffset(vt graph.NodeID, offset int) graph.NodeID {
	node := k.G.Node(vt)
	vk := node.Aux.Klass
	for i, f := range vk.InstanceFields() {
		if f.Offset == offset {
			return node.In[i]
		}
		if f.Flattened && offset >= f.Offset && offset < f.Offset+f.StorageBytes() {
			sub := f.Type
			return k.fieldValueByOffset(node.In[i], offset-f.Offset+sub.FirstFieldOffset())
		}
	}
	panic(fmt.Sprintf("%s has no field at offset %d", vk.Name, offset))
}

// withField returns a copy of vt with field f replaced by val.
func (k *GraphKit) withField(vt graph.NodeID, f *ci.Field, val graph.NodeID) graph.NodeID {
	node := k.G.Node(vt)
	vk := node.Aux.Klass
	vals := make([]graph.NodeID, len(node.In))
	copy(vals, node.In)
	for i, g := range vk.InstanceFields() {
		if g == f {
			vals[i] = val
			return k.makeValue(vk, vals)
		}
	}
	panic(fmt.Sprintf("%s is not a field of %s", f, vk.Name))
}

// loadFlattened reads a composite of vk whose payload starts at base+offset.
func (k *GraphKit) loadFlattened(vk *ci.Klass, base graph.NodeID, offset int) graph.NodeID {
	fields := vk.InstanceFields()
	vals := make([]graph.NodeID, len(fields))
	for i, f := range fields {
		off := offset + f.Offset - vk.FirstFieldOffset()
		if f.Flattened {
			vals[i] = k.loadFlattened(f.Type, base, off)
			continue
		}
		bt := f.LayoutType()
		adr := k.BasicPlusAdr(base, int64(off))
		vals[i] = k.MakeLoad(adr, fieldLoadType(f), bt, graph.Unordered, false)
	}
	return k.makeValue(vk, vals)
}

// storeFlattened writes the fields of vt to the payload at base+offset.
func (k *GraphKit) storeFlattened(vt, base graph.NodeID, offset int) {
	node := k.G.Node(vt)
	vk := node.Aux.Klass
	for i, f := range vk.InstanceFields() {
		off := offset + f.Offset - vk.FirstFieldOffset()
		val := node.In[i]
		if f.Flattened {
			k.storeFlattened(val, base, off)
			continue
		}
		bt := f.LayoutType()
		adr := k.BasicPlusAdr(base, int64(off))
		if bt.IsReference() {
			k.StoreOopToObject(base, adr, val, bt, graph.ReleaseIfReference(bt))
		} else {
			k.StoreToMemory(adr, val, bt, graph.Unordered, false)
		}
	}
}

// bufferValue allocates a heap copy of vt and returns the reference.
func (k *GraphKit) bufferValue(vt graph.NodeID) graph.NodeID {
	vk := k.G.Node(vt).Aux.Klass
	obj := k.NewInstance(vk)
	k.storeFlattened(vt, obj, vk.FirstFieldOffset())
	return obj
}

// valueFromOop scalarizes a buffered composite. It returns graph.None when the
// reference is known to be null and the path has been stopped.
func (k *GraphKit) valueFromOop(oop graph.NodeID, vk *ci.Klass) graph.NodeID {
	if k.isValueType(oop) {
		return oop
	}
	oop = k.NullCheck(oop)
	if k.Stopped() {
		return graph.None
	}
	return k.loadFlattened(vk, oop, vk.FirstFieldOffset())
}

// fieldLoadType is the type of a plain load of f.
func fieldLoadType(f *ci.Field) types.Type {
	bt := f.LayoutType()
	if !bt.IsReference() {
		return types.Basic(bt)
	}
	if !f.TypeLoaded() {
		return types.InstBottom()
	}
	return types.FromKlass(f.Type)
}
