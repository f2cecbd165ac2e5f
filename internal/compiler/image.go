package compiler

import (
	"encoding/binary"
	"fmt"
	"math"

	"opto/internal/ci"
	"opto/internal/graph"
)

// Image is the initial content of linear memory: class mirrors holding the
// static fields, then the constant objects compiled code refers to. The heap
// starts at End.
type Image struct {
	Data    []byte
	Mirrors map[*ci.Klass]int
	Objects map[*ci.Object]int
	End     int
}

// Address returns where o lives in the image.
func (im *Image) Address(o *ci.Object) (int, bool) {
	if o == nil {
		return 0, true
	}
	if o.Mirror {
		addr, ok := im.Mirrors[o.Klass]
		return addr, ok
	}
	addr, ok := im.Objects[o]
	return addr, ok
}

// BuildImage lays out the mirror of every class and every object reachable
// from the static fields or from extra.
func BuildImage(env *ci.Env, extra []*ci.Object) (*Image, error) {
	im := &Image{Mirrors: map[*ci.Klass]int{}, Objects: map[*ci.Object]int{}}
	addr := ci.ReservedBytes
	var queue []*ci.Object
	var klasses []*ci.Klass
	for _, k := range env.Klasses() {
		if k.IsArray() {
			continue
		}
		klasses = append(klasses, k)
		im.Mirrors[k] = addr
		addr += ci.AlignHeap(k.MirrorSize())
		for _, f := range k.StaticFields() {
			if v, ok := k.Mirror.FieldValue(f); ok && v.Object != nil {
				queue = append(queue, v.Object)
			}
		}
	}
	queue = append(queue, extra...)
	var objects []*ci.Object
	for len(queue) > 0 {
		o := queue[0]
		queue = queue[1:]
		if _, ok := im.Address(o); ok {
			continue
		}
		if o.Klass.IsArray() {
			return nil, fmt.Errorf("constant %s: arrays cannot be placed in the image", o)
		}
		im.Objects[o] = addr
		objects = append(objects, o)
		addr += ci.AlignHeap(o.Klass.InstanceSize)
		for _, f := range o.Klass.InstanceFields() {
			if v, ok := o.FieldValue(f); ok && v.Object != nil {
				queue = append(queue, v.Object)
			}
		}
	}
	im.End = ci.AlignHeap(addr)
	im.Data = make([]byte, im.End)
	binary.LittleEndian.PutUint32(im.Data[ci.HeapTopAddress:], uint32(im.End))

	for _, k := range klasses {
		base := im.Mirrors[k]
		im.putHeader(base, k, ci.MirrorMarker)
		for _, f := range k.StaticFields() {
			if v, ok := k.Mirror.FieldValue(f); ok {
				im.put(base+f.Offset, f.LayoutType(), v)
			}
		}
	}
	for _, o := range objects {
		base := im.Objects[o]
		im.putHeader(base, o.Klass, 0)
		for _, f := range o.Klass.InstanceFields() {
			if f.Flattened {
				continue
			}
			if v, ok := o.FieldValue(f); ok {
				im.put(base+f.Offset, f.LayoutType(), v)
			}
		}
	}
	return im, nil
}

func (im *Image) putHeader(base int, k *ci.Klass, marker uint32) {
	binary.LittleEndian.PutUint32(im.Data[base+ci.KlassIDOffset:], uint32(k.ID))
	binary.LittleEndian.PutUint32(im.Data[base+ci.MarkerOffset:], marker)
}

func (im *Image) put(at int, bt ci.BasicType, v ci.Constant) {
	b := im.Data[at:]
	switch {
	case bt == ci.TBoolean || bt == ci.TByte:
		b[0] = byte(v.Int)
	case bt == ci.TChar || bt == ci.TShort:
		binary.LittleEndian.PutUint16(b, uint16(v.Int))
	case bt == ci.TInt:
		binary.LittleEndian.PutUint32(b, uint32(v.Int))
	case bt == ci.TLong:
		binary.LittleEndian.PutUint64(b, uint64(v.Int))
	case bt == ci.TFloat:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v.Float)))
	case bt == ci.TDouble:
		binary.LittleEndian.PutUint64(b, math.Float64bits(graph.RoundDoubleValue(v.Float)))
	case bt.IsReference():
		addr, _ := im.Address(v.Object)
		binary.LittleEndian.PutUint32(b, uint32(addr))
	}
}

// constants returns the non-mirror objects the graphs refer to directly.
func constants(graphs []*graph.Graph) []*ci.Object {
	var out []*ci.Object
	for _, g := range graphs {
		for _, n := range g.Live() {
			if n.Op == graph.OpCon && n.Type.Const != nil && !n.Type.Const.Mirror {
				out = append(out, n.Type.Const)
			}
		}
	}
	return out
}
