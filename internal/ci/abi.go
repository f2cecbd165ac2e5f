package ci

import "fmt"

// Linear memory conventions shared by generated code and the host runtime.
// The first ReservedBytes are never handed out; the word at HeapTopAddress
// holds the next free address.
const (
	ReservedBytes  = 16
	HeapTopAddress = 4
	HeapAlignment  = 8

	// Every heap block starts with the klass id at offset 0. Mirrors carry
	// MirrorMarker at offset 4.
	KlassIDOffset    = 0
	MarkerOffset     = 4
	MirrorMarker     = 1
	MinMirrorSize    = InstanceHeaderSize
	WasmPageSize     = 65536
	MemoryExportName = "memory"
)

// Exception is raised by compiled code through the runtime's throw entry.
type Exception int

const (
	ExceptionNullPointer Exception = iota + 1
	ExceptionNegativeArraySize
)

func (e Exception) String() string {
	switch e {
	case ExceptionNullPointer:
		return "NullPointerException"
	case ExceptionNegativeArraySize:
		return "NegativeArraySizeException"
	}
	return fmt.Sprintf("exception%d", int(e))
}

// MirrorSize is the number of bytes the mirror of k occupies.
func (k *Klass) MirrorSize() int {
	if k.StaticSize < MinMirrorSize {
		return MinMirrorSize
	}
	return k.StaticSize
}

// ArraySize is the number of bytes an array of k with n elements occupies.
func (k *Klass) ArraySize(n int) int {
	return alignUp(ArrayBaseOffset+n*k.ElementBytes(), HeapAlignment)
}

// AlignHeap rounds n up to the heap block alignment.
func AlignHeap(n int) int { return alignUp(n, HeapAlignment) }

// MirrorExport is the name of the exported global holding the address of the
// mirror of k.
func MirrorExport(k *Klass) string { return "mirror." + k.Name }
