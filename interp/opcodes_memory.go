package interp

import (
	"svm/object"
	"svm/typ"
)

// execNew implements `new t`/`gcnew t` (spec.md §4.6): allocate a single
// fundamental-or-structure instance in the unmanaged or managed heap,
// initialize its type tag (recursively for a structure's fields), and
// push a pointer. On allocation failure the pointer pushed is null, but
// the push itself still happens.
func (it *Interpreter) execNew(operand uint32, gc bool) bool {
	t, ok := it.resolveTypeOperand(operand)
	if !ok {
		return it.raise(CodeStructureInvalidForStructure)
	}
	if gc {
		addr, err := it.gc.Alloc(t.Size(), it.gcRoots)
		it.syncTypeAt()
		if err != nil {
			return it.pushPointer(object.Null, true)
		}
		buf, ok := it.gc.Find(addr, t.Size())
		if !ok {
			return it.pushPointer(object.Null, true)
		}
		object.InitZero(buf, t)
		return it.pushPointer(addr, true)
	}
	addr := it.unmanaged.Alloc(t.Size())
	buf, _ := it.unmanaged.Lookup(addr)
	object.InitZero(buf, t)
	return it.pushPointer(addr, false)
}

// execDelete implements `delete`: release the unmanaged-heap object
// referenced by the top pointer; fails if not present.
func (it *Interpreter) execDelete() bool {
	buf, tag, ok := it.popRaw()
	if !ok {
		return false
	}
	if _, ok := pointerKind(tag); !ok {
		return it.raise(CodePointerNotPointer)
	}
	addr := object.ReadAddr(buf[0:8])
	if addr == object.Null {
		return it.raise(CodePointerNull)
	}
	if err := it.unmanaged.Dealloc(addr); err != nil {
		return it.raise(CodePointerUnknownAddress)
	}
	return true
}

// execANew implements `anew t`/`agcnew t`: consume an int/long count
// from the top, allocate `header + count*size(t)`, initialize the array
// header and every zeroed element, and push a pointer.
func (it *Interpreter) execANew(operand uint32, gc bool) bool {
	elem, ok := it.resolveTypeOperand(operand)
	if !ok {
		return it.raise(CodeStructureInvalidForStructure)
	}
	buf, tag, ok := it.popRaw()
	if !ok {
		return false
	}
	var count int64
	switch tag {
	case typ.CodeInt:
		count = int64(readInt(buf))
	case typ.CodeLong:
		count = readLong(buf)
	default:
		return it.raise(CodeArrayInvalidForArray)
	}
	if count <= 0 {
		return it.raise(CodeArrayLengthCannotBeZero)
	}
	total := 16 + typ.WordSize + int(count)*elem.Size()
	if gc {
		addr, err := it.gc.Alloc(total, it.gcRoots)
		it.syncTypeAt()
		if err != nil {
			return it.pushPointer(object.Null, true)
		}
		abuf, ok := it.gc.Find(addr, total)
		if !ok {
			return it.pushPointer(object.Null, true)
		}
		object.InitArray(abuf, elem, count)
		return it.pushPointer(addr, true)
	}
	addr := it.unmanaged.Alloc(total)
	abuf, _ := it.unmanaged.Lookup(addr)
	object.InitArray(abuf, elem, count)
	return it.pushPointer(addr, false)
}
