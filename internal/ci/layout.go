package ci

import "fmt"

// Layout assigns offsets to the declared fields of k. Instance fields follow the
// super's fields; static fields live in the mirror. Supers and the klasses of
// flattened fields must already be laid out.
func Layout(k *Klass) error {
	if k.IsArray() {
		return nil
	}
	next := InstanceHeaderSize
	if k.Super != nil {
		next = k.Super.InstanceSize
	}
	nextStatic := InstanceHeaderSize
	for _, f := range k.Fields {
		if f.Flattened {
			if f.Static {
				return fmt.Errorf("%s: static fields cannot be flattened", f)
			}
			if f.Type == nil || !f.Type.Value {
				return fmt.Errorf("%s: only value class fields can be flattened", f)
			}
			if f.Type.InstanceSize == 0 {
				return fmt.Errorf("%s: %s is not laid out yet", f, f.Type.Name)
			}
		}
		size := f.StorageBytes()
		align := size
		if f.Flattened || align > 8 {
			align = 8
		}
		if align == 0 {
			return fmt.Errorf("%s: field of type %s has no storage", f, f.BasicType)
		}
		if f.Static {
			nextStatic = alignUp(nextStatic, align)
			f.Offset = nextStatic
			nextStatic += size
			continue
		}
		next = alignUp(next, align)
		f.Offset = next
		next += size
	}
	k.InstanceSize = alignUp(next, 8)
	k.StaticSize = alignUp(nextStatic, 8)
	return nil
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}

// ArrayElementOffset is the byte offset of element i in an array of bt.
func ArrayElementOffset(bt BasicType, i int64) int64 {
	return ArrayBaseOffset + i*int64(elementBytes(bt))
}

func elementBytes(bt BasicType) int {
	if bt.IsReference() {
		return HeapOopSize
	}
	return bt.Bytes()
}

// ElementBytes is the size of one element of array klass k.
func (k *Klass) ElementBytes() int { return elementBytes(k.ElemType) }
