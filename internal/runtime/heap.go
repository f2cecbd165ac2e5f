package runtime

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"

	"opto/internal/ci"
	"opto/internal/graph"
)

// DeoptError reports that compiled code hit an uncommon trap.
type DeoptError struct {
	Reason graph.Reason
	Action graph.Action
	Bci    int
}

func (e *DeoptError) Error() string {
	return fmt.Sprintf("deoptimized at bci %d: reason=%s action=%s", e.Bci, e.Reason, e.Action)
}

// ExceptionError reports an exception raised by compiled code or the runtime.
type ExceptionError struct {
	Kind ci.Exception
	Bci  int
}

func (e *ExceptionError) Error() string {
	if e.Bci < 0 {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s at bci %d", e.Kind, e.Bci)
}

// atBci attributes a heap exception without a location to the instruction at
// bci. Other errors pass through unchanged.
func atBci(err error, bci int32) error {
	var exc *ExceptionError
	if errors.As(err, &exc) && exc.Bci < 0 {
		return &ExceptionError{Kind: exc.Kind, Bci: int(bci)}
	}
	return err
}

// Memory is the linear memory of an instance.
type Memory interface {
	Bytes() []byte
	Grow(pages int) error
}

// SliceMemory is a Memory backed by a byte slice.
type SliceMemory struct {
	Data []byte
}

func (m *SliceMemory) Bytes() []byte { return m.Data }

func (m *SliceMemory) Grow(pages int) error {
	m.Data = append(m.Data, make([]byte, pages*ci.WasmPageSize)...)
	return nil
}

// Heap allocates and inspects objects in linear memory. Objects are bump
// allocated from the address stored at ci.HeapTopAddress and never freed.
type Heap struct {
	Env     *ci.Env
	Mem     Memory
	Mirrors map[*ci.Klass]int32
}

func (h *Heap) u32(addr int32) uint32 {
	return binary.LittleEndian.Uint32(h.Mem.Bytes()[addr:])
}

func (h *Heap) alloc(size int) (int32, error) {
	data := h.Mem.Bytes()
	top := int(binary.LittleEndian.Uint32(data[ci.HeapTopAddress:]))
	end := top + ci.AlignHeap(size)
	if end > math.MaxInt32 {
		return 0, fmt.Errorf("heap exhausted allocating %d bytes", size)
	}
	if end > len(data) {
		pages := (end - len(data) + ci.WasmPageSize - 1) / ci.WasmPageSize
		if err := h.Mem.Grow(pages); err != nil {
			return 0, fmt.Errorf("grow memory by %d pages: %w", pages, err)
		}
		data = h.Mem.Bytes()
	}
	binary.LittleEndian.PutUint32(data[ci.HeapTopAddress:], uint32(end))
	return int32(top), nil
}

func (h *Heap) klass(id int32) (*ci.Klass, error) {
	k := h.Env.KlassByID(int(id))
	if k == nil {
		return nil, fmt.Errorf("unknown klass id %d", id)
	}
	return k, nil
}

// AllocInstance allocates a zeroed instance of the klass with the given id.
func (h *Heap) AllocInstance(klassID int32) (int32, error) {
	k, err := h.klass(klassID)
	if err != nil {
		return 0, err
	}
	if k.IsArray() {
		return 0, fmt.Errorf("%s is an array klass", k)
	}
	obj, err := h.alloc(k.InstanceSize)
	if err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint32(h.Mem.Bytes()[obj+ci.KlassIDOffset:], uint32(k.ID))
	return obj, nil
}

// AllocArray allocates a zeroed array of the array klass with the given id.
func (h *Heap) AllocArray(klassID, length int32) (int32, error) {
	k, err := h.klass(klassID)
	if err != nil {
		return 0, err
	}
	if !k.IsArray() {
		return 0, fmt.Errorf("%s is not an array klass", k)
	}
	return h.allocArray(k, length)
}

func (h *Heap) allocArray(k *ci.Klass, length int32) (int32, error) {
	if length < 0 {
		return 0, &ExceptionError{Kind: ci.ExceptionNegativeArraySize, Bci: -1}
	}
	if length > ci.MaxArrayLength {
		return 0, fmt.Errorf("array length %d exceeds %d", length, ci.MaxArrayLength)
	}
	arr, err := h.alloc(k.ArraySize(int(length)))
	if err != nil {
		return 0, err
	}
	data := h.Mem.Bytes()
	binary.LittleEndian.PutUint32(data[arr+ci.KlassIDOffset:], uint32(k.ID))
	binary.LittleEndian.PutUint32(data[arr+ci.ArrayLengthOffset:], uint32(length))
	return arr, nil
}

// MultiANewArray allocates a nest of arrays, one dimension per entry of dims.
// Every dimension is checked before anything is allocated.
func (h *Heap) MultiANewArray(klassID int32, dims []int32) (int32, error) {
	k, err := h.klass(klassID)
	if err != nil {
		return 0, err
	}
	if len(dims) == 0 || len(dims) > k.Dims {
		return 0, fmt.Errorf("%s cannot be created with %d dimensions", k, len(dims))
	}
	for _, d := range dims {
		if d < 0 {
			return 0, &ExceptionError{Kind: ci.ExceptionNegativeArraySize, Bci: -1}
		}
	}
	return h.multiANewArray(k, dims)
}

func (h *Heap) multiANewArray(k *ci.Klass, dims []int32) (int32, error) {
	arr, err := h.allocArray(k, dims[0])
	if err != nil || len(dims) == 1 {
		return arr, err
	}
	for i := int32(0); i < dims[0]; i++ {
		sub, err := h.multiANewArray(k.Elem, dims[1:])
		if err != nil {
			return 0, err
		}
		off := arr + int32(ci.ArrayElementOffset(ci.TObject, int64(i)))
		binary.LittleEndian.PutUint32(h.Mem.Bytes()[off:], uint32(sub))
	}
	return arr, nil
}

// IntArray reads the elements of an int[] at addr.
func (h *Heap) IntArray(addr int32) []int32 {
	n := h.ArrayLength(addr)
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(h.u32(addr + int32(ci.ArrayElementOffset(ci.TInt, int64(i)))))
	}
	return out
}

// KlassOf returns the klass of the object at addr.
func (h *Heap) KlassOf(addr int32) *ci.Klass {
	return h.Env.KlassByID(int(h.u32(addr + ci.KlassIDOffset)))
}

// IsMirror reports whether addr holds a class mirror.
func (h *Heap) IsMirror(addr int32) bool {
	return h.u32(addr+ci.MarkerOffset) == ci.MirrorMarker
}

func (h *Heap) ArrayLength(addr int32) int {
	return int(int32(h.u32(addr + ci.ArrayLengthOffset)))
}

// Element returns element i of the array at addr.
func (h *Heap) Element(addr int32, i int) (ci.Constant, error) {
	k := h.KlassOf(addr)
	if k == nil || !k.IsArray() {
		return ci.Constant{}, fmt.Errorf("%#x is not an array", addr)
	}
	if n := h.ArrayLength(addr); i < 0 || i >= n {
		return ci.Constant{}, fmt.Errorf("index %d out of bounds for length %d", i, n)
	}
	return h.load(addr+int32(ci.ArrayElementOffset(k.ElemType, int64(i))), k.ElemType), nil
}

// Field reads instance field f of the object at addr.
func (h *Heap) Field(addr int32, f *ci.Field) (ci.Constant, error) {
	if f.Static {
		return ci.Constant{}, fmt.Errorf("%s is static", f)
	}
	if addr == 0 {
		return ci.Constant{}, &ExceptionError{Kind: ci.ExceptionNullPointer, Bci: -1}
	}
	if k := h.KlassOf(addr); k == nil || !k.IsSubclassOf(f.Holder) {
		return ci.Constant{}, fmt.Errorf("%#x is not an instance of %s", addr, f.Holder)
	}
	if f.Flattened {
		return ci.Constant{}, fmt.Errorf("%s is flattened", f)
	}
	return h.load(addr+int32(f.Offset), f.LayoutType()), nil
}

// FlatField reads field inner of the value stored flattened in field outer of
// the object at addr.
func (h *Heap) FlatField(addr int32, outer, inner *ci.Field) (ci.Constant, error) {
	if !outer.Flattened || inner.Holder != outer.Type || inner.Static {
		return ci.Constant{}, fmt.Errorf("%s is not a field of flattened %s", inner, outer)
	}
	if addr == 0 {
		return ci.Constant{}, &ExceptionError{Kind: ci.ExceptionNullPointer, Bci: -1}
	}
	off := outer.Offset + inner.Offset - outer.Type.FirstFieldOffset()
	return h.load(addr+int32(off), inner.LayoutType()), nil
}

// Static reads static field f from its holder's mirror.
func (h *Heap) Static(f *ci.Field) (ci.Constant, error) {
	if !f.Static {
		return ci.Constant{}, fmt.Errorf("%s is not static", f)
	}
	mirror, ok := h.Mirrors[f.Holder]
	if !ok {
		return ci.Constant{}, fmt.Errorf("no mirror for %s", f.Holder)
	}
	return h.load(mirror+int32(f.Offset), f.LayoutType()), nil
}

// load decodes a value of bt. References come back as the address in Int.
func (h *Heap) load(addr int32, bt ci.BasicType) ci.Constant {
	b := h.Mem.Bytes()[addr:]
	c := ci.Constant{BasicType: bt}
	switch {
	case bt == ci.TBoolean:
		c.Int = int64(b[0])
	case bt == ci.TByte:
		c.Int = int64(int8(b[0]))
	case bt == ci.TChar:
		c.Int = int64(binary.LittleEndian.Uint16(b))
	case bt == ci.TShort:
		c.Int = int64(int16(binary.LittleEndian.Uint16(b)))
	case bt == ci.TInt:
		c.Int = int64(int32(binary.LittleEndian.Uint32(b)))
	case bt == ci.TLong:
		c.Int = int64(binary.LittleEndian.Uint64(b))
	case bt == ci.TFloat:
		c.Float = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case bt == ci.TDouble:
		c.Float = math.Float64frombits(binary.LittleEndian.Uint64(b))
	case bt.IsReference():
		c.Int = int64(binary.LittleEndian.Uint32(b))
	}
	return c
}

// Args converts textual arguments to the values a call of m expects. The
// receiver of an instance method is passed as an address.
func Args(m *ci.Method, args []string) ([]any, error) {
	var bts []ci.BasicType
	if !m.Static {
		bts = append(bts, ci.TObject)
	}
	for _, p := range m.Params {
		bts = append(bts, p.BasicType)
	}
	if len(args) != len(bts) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", m, len(bts), len(args))
	}
	out := make([]any, len(args))
	for i, s := range args {
		v, err := parseArg(bts[i], s)
		if err != nil {
			return nil, fmt.Errorf("argument %d of %s: %w", i, m, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseArg(bt ci.BasicType, s string) (any, error) {
	switch {
	case bt == ci.TLong:
		return strconv.ParseInt(s, 0, 64)
	case bt == ci.TFloat:
		f, err := strconv.ParseFloat(s, 32)
		return float32(f), err
	case bt == ci.TDouble:
		return strconv.ParseFloat(s, 64)
	case bt.IsReference():
		if s == "null" {
			return int32(0), nil
		}
	}
	v, err := strconv.ParseInt(s, 0, 32)
	return int32(v), err
}
