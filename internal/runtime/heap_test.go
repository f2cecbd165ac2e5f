package runtime

import (
	"encoding/binary"
	"errors"
	"testing"

	"opto/internal/ci"
)

type testEnv struct {
	env   *ci.Env
	point *ci.Klass
	line  *ci.Klass
	x, y  *ci.Field
	from  *ci.Field
	count *ci.Field
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := ci.NewEnv()
	point, err := env.DefineKlass("Point")
	if err != nil {
		t.Fatalf("define Point: %v", err)
	}
	point.Value = true
	x := &ci.Field{Holder: point, Name: "x", BasicType: ci.TInt, Final: true}
	y := &ci.Field{Holder: point, Name: "y", BasicType: ci.TLong, Final: true}
	point.Fields = []*ci.Field{x, y}
	if err := ci.Layout(point); err != nil {
		t.Fatalf("layout Point: %v", err)
	}
	line, err := env.DefineKlass("Line")
	if err != nil {
		t.Fatalf("define Line: %v", err)
	}
	from := &ci.Field{Holder: line, Name: "from", BasicType: ci.TObject, Type: point, Flattened: true, Flattenable: true}
	count := &ci.Field{Holder: line, Name: "count", BasicType: ci.TShort, Static: true}
	line.Fields = []*ci.Field{from, count}
	if err := ci.Layout(line); err != nil {
		t.Fatalf("layout Line: %v", err)
	}
	return &testEnv{env: env, point: point, line: line, x: x, y: y, from: from, count: count}
}

func newTestHeap(te *testEnv) *Heap {
	mem := &SliceMemory{Data: make([]byte, 64)}
	binary.LittleEndian.PutUint32(mem.Data[ci.HeapTopAddress:], 32)
	binary.LittleEndian.PutUint32(mem.Data[16+ci.KlassIDOffset:], uint32(te.line.ID))
	binary.LittleEndian.PutUint32(mem.Data[16+ci.MarkerOffset:], ci.MirrorMarker)
	binary.LittleEndian.PutUint16(mem.Data[16+te.count.Offset:], uint16(0xfffe))
	return &Heap{Env: te.env, Mem: mem, Mirrors: map[*ci.Klass]int32{te.line: 16}}
}

func TestAllocInstanceBumpsTheHeapTop(t *testing.T) {
	te := newTestEnv(t)
	h := newTestHeap(te)
	a, err := h.AllocInstance(int32(te.point.ID))
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	b, err := h.AllocInstance(int32(te.point.ID))
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if a != 32 || b != 32+int32(te.point.InstanceSize) {
		t.Fatalf("unexpected addresses %d, %d (instance size %d)", a, b, te.point.InstanceSize)
	}
	if h.KlassOf(b) != te.point {
		t.Fatalf("klass of new object: %v", h.KlassOf(b))
	}
	if h.IsMirror(b) || !h.IsMirror(16) {
		t.Fatalf("mirror marker mismatch")
	}
	top := binary.LittleEndian.Uint32(h.Mem.Bytes()[ci.HeapTopAddress:])
	if top != uint32(b)+uint32(te.point.InstanceSize) {
		t.Fatalf("heap top %d", top)
	}
}

func TestAllocGrowsMemory(t *testing.T) {
	te := newTestEnv(t)
	h := newTestHeap(te)
	ints := te.env.TypeArrayOf(ci.TInt)
	arr, err := h.AllocArray(int32(ints.ID), 1000)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if got := len(h.Mem.Bytes()); got != 64+ci.WasmPageSize {
		t.Fatalf("memory size %d", got)
	}
	if h.ArrayLength(arr) != 1000 {
		t.Fatalf("length %d", h.ArrayLength(arr))
	}
	v, err := h.Element(arr, 999)
	if err != nil || v.Int != 0 || v.BasicType != ci.TInt {
		t.Fatalf("element: %v %v", v, err)
	}
	if _, err := h.Element(arr, 1000); err == nil {
		t.Fatalf("expected out of bounds error")
	}
}

func TestAllocRejectsKlassMismatch(t *testing.T) {
	te := newTestEnv(t)
	h := newTestHeap(te)
	ints := te.env.TypeArrayOf(ci.TInt)
	if _, err := h.AllocInstance(int32(ints.ID)); err == nil {
		t.Fatalf("expected error allocating an array klass as an instance")
	}
	if _, err := h.AllocArray(int32(te.point.ID), 1); err == nil {
		t.Fatalf("expected error allocating an instance klass as an array")
	}
	if _, err := h.AllocInstance(99); err == nil {
		t.Fatalf("expected error for unknown klass id")
	}
}

func TestNegativeLengthThrows(t *testing.T) {
	te := newTestEnv(t)
	h := newTestHeap(te)
	ints := te.env.TypeArrayOf(ci.TInt)
	_, err := h.AllocArray(int32(ints.ID), -1)
	var exc *ExceptionError
	if !errors.As(err, &exc) || exc.Kind != ci.ExceptionNegativeArraySize {
		t.Fatalf("expected NegativeArraySizeException, got %v", err)
	}
}

func TestMultiANewArray(t *testing.T) {
	te := newTestEnv(t)
	h := newTestHeap(te)
	grid := te.env.ArrayOf(te.env.ArrayOf(te.env.TypeArrayOf(ci.TInt)))
	arr, err := h.MultiANewArray(int32(grid.ID), []int32{2, 3})
	if err != nil {
		t.Fatalf("multianewarray: %v", err)
	}
	if h.KlassOf(arr) != grid || h.ArrayLength(arr) != 2 {
		t.Fatalf("outer array: %v len %d", h.KlassOf(arr), h.ArrayLength(arr))
	}
	for i := 0; i < 2; i++ {
		row, err := h.Element(arr, i)
		if err != nil {
			t.Fatalf("row %d: %v", i, err)
		}
		addr := int32(row.Int)
		if h.KlassOf(addr) != grid.Elem || h.ArrayLength(addr) != 3 {
			t.Fatalf("row %d: %v len %d", i, h.KlassOf(addr), h.ArrayLength(addr))
		}
		inner, err := h.Element(addr, 0)
		if err != nil || inner.Int != 0 {
			t.Fatalf("innermost dimension must stay null: %v %v", inner, err)
		}
	}
}

func TestMultiANewArrayChecksEveryDimensionFirst(t *testing.T) {
	te := newTestEnv(t)
	h := newTestHeap(te)
	grid := te.env.ArrayOf(te.env.TypeArrayOf(ci.TInt))
	top := binary.LittleEndian.Uint32(h.Mem.Bytes()[ci.HeapTopAddress:])
	_, err := h.MultiANewArray(int32(grid.ID), []int32{0, -1})
	var exc *ExceptionError
	if !errors.As(err, &exc) || exc.Kind != ci.ExceptionNegativeArraySize {
		t.Fatalf("expected NegativeArraySizeException, got %v", err)
	}
	if after := binary.LittleEndian.Uint32(h.Mem.Bytes()[ci.HeapTopAddress:]); after != top {
		t.Fatalf("allocated before checking dimensions: top %d -> %d", top, after)
	}
	if _, err := h.MultiANewArray(int32(grid.ID), []int32{1, 1, 1}); err == nil {
		t.Fatalf("expected error for too many dimensions")
	}
	arr, err := h.MultiANewArray(int32(grid.ID), []int32{0, 5})
	if err != nil || h.ArrayLength(arr) != 0 {
		t.Fatalf("zero outer dimension: %v", err)
	}
}

func TestFieldReaders(t *testing.T) {
	te := newTestEnv(t)
	h := newTestHeap(te)
	obj, err := h.AllocInstance(int32(te.line.ID))
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	data := h.Mem.Bytes()
	base := int(obj) + te.from.Offset - te.point.FirstFieldOffset()
	binary.LittleEndian.PutUint32(data[base+te.x.Offset:], uint32(0xffffffff))
	binary.LittleEndian.PutUint64(data[base+te.y.Offset:], 1<<40)

	x, err := h.FlatField(obj, te.from, te.x)
	if err != nil || x.Int != -1 {
		t.Fatalf("from.x = %v, %v", x, err)
	}
	y, err := h.FlatField(obj, te.from, te.y)
	if err != nil || y.Int != 1<<40 {
		t.Fatalf("from.y = %v, %v", y, err)
	}
	if _, err := h.Field(obj, te.from); err == nil {
		t.Fatalf("expected error reading a flattened field directly")
	}
	if _, err := h.Field(0, te.x); err == nil {
		t.Fatalf("expected NullPointerException")
	}
	if _, err := h.Field(obj, te.x); err == nil {
		t.Fatalf("expected error reading a field of another class")
	}

	count, err := h.Static(te.count)
	if err != nil || count.Int != -2 {
		t.Fatalf("Line.count = %v, %v", count, err)
	}
	if _, err := h.Static(te.x); err == nil {
		t.Fatalf("expected error reading an instance field as static")
	}
}

func TestArgs(t *testing.T) {
	env := ci.NewEnv()
	k, err := env.DefineKlass("Main")
	if err != nil {
		t.Fatalf("define: %v", err)
	}
	m := &ci.Method{
		Holder: k,
		Name:   "mix",
		Static: true,
		Params: []ci.Sig{{BasicType: ci.TInt}, {BasicType: ci.TLong}, {BasicType: ci.TFloat}, {BasicType: ci.TDouble}, {BasicType: ci.TObject, Klass: k}},
	}
	args, err := Args(m, []string{"0x10", "-5", "1.5", "2.25", "null"})
	if err != nil {
		t.Fatalf("args: %v", err)
	}
	want := []any{int32(16), int64(-5), float32(1.5), 2.25, int32(0)}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg %d: got %#v, want %#v", i, args[i], want[i])
		}
	}
	if _, err := Args(m, []string{"1"}); err == nil {
		t.Fatalf("expected arity error")
	}
	if _, err := Args(m, []string{"x", "1", "1", "1", "null"}); err == nil {
		t.Fatalf("expected parse error")
	}

	inst := &ci.Method{Holder: k, Name: "get", Params: []ci.Sig{{BasicType: ci.TBoolean}}}
	args, err = Args(inst, []string{"64", "1"})
	if err != nil || args[0] != int32(64) || args[1] != int32(1) {
		t.Fatalf("instance args: %v, %v", args, err)
	}
}

func TestAtBci(t *testing.T) {
	err := atBci(&ExceptionError{Kind: ci.ExceptionNegativeArraySize, Bci: -1}, 4)
	var exc *ExceptionError
	if !errors.As(err, &exc) || exc.Bci != 4 || err.Error() != "NegativeArraySizeException at bci 4" {
		t.Fatalf("unexpected error %v", err)
	}
	located := &ExceptionError{Kind: ci.ExceptionNullPointer, Bci: 2}
	if got := atBci(located, 9); got != located {
		t.Fatalf("a located exception must be kept, got %v", got)
	}
	other := errors.New("boom")
	if got := atBci(other, 9); got != other {
		t.Fatalf("other errors must pass through, got %v", got)
	}
}
