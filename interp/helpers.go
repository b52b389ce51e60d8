package interp

import (
	"encoding/binary"
	"math"

	"svm/object"
	"svm/stack"
	"svm/typ"
)

// bytesAt resolves an n-byte window starting at addr, wherever it lives:
// the evaluation stack, the unmanaged heap, or either managed
// generation. addr need not be an object's base address — flea/alea
// produce addresses into the middle of a structure or array.
func (it *Interpreter) bytesAt(addr object.Addr, n int) ([]byte, bool) {
	if it.stk.Contains(addr) {
		off := it.stk.OffsetOf(addr)
		if off < 0 || off+n > it.stk.Cap() {
			return nil, false
		}
		return it.stk.Bytes(off, n), true
	}
	if buf, ok := it.gc.Find(addr, n); ok {
		return buf, true
	}
	if buf, ok := it.unmanaged.Find(addr, n); ok {
		return buf, true
	}
	return nil, false
}

// popRaw pops the top value, honoring the active frame's local-variable
// guard, and returns its bytes (payload+tag) and type tag.
func (it *Interpreter) popRaw() ([]byte, typ.Code, bool) {
	size, tag, ok, err := it.topSize()
	if err != nil || !ok {
		it.raise(CodeStackEmpty)
		return nil, 0, false
	}
	buf, perr := it.stk.Pop(it.fr.localFloor, size)
	if perr != nil {
		if perr == stack.ErrOverflow {
			it.raise(CodeStackOverflow)
		} else {
			it.raise(CodeStackEmpty)
		}
		return nil, 0, false
	}
	return buf, tag, true
}

// peekRaw views the top value without popping it.
func (it *Interpreter) peekRaw() ([]byte, typ.Code, bool) {
	size, tag, ok, err := it.topSize()
	if err != nil || !ok {
		it.raise(CodeStackEmpty)
		return nil, 0, false
	}
	buf, perr := it.stk.Top(it.fr.localFloor, size)
	if perr != nil {
		it.raise(CodeStackEmpty)
		return nil, 0, false
	}
	return buf, tag, true
}

func (it *Interpreter) pushWrite(size int, w func([]byte)) bool {
	if err := it.stk.Push(size, w); err != nil {
		it.raise(CodeStackOverflow)
		return false
	}
	return true
}

func (it *Interpreter) pushBytesCopy(data []byte) bool {
	return it.pushWrite(len(data), func(slot []byte) { copy(slot, data) })
}

func (it *Interpreter) pushInt(v int32) bool {
	return it.pushWrite(typ.Int.Size(), func(b []byte) {
		binary.LittleEndian.PutUint32(b[0:4], uint32(v))
		object.WriteTag(b[len(b)-typ.WordSize:], typ.CodeInt)
	})
}

func (it *Interpreter) pushLong(v int64) bool {
	return it.pushWrite(typ.Long.Size(), func(b []byte) {
		binary.LittleEndian.PutUint64(b[0:8], uint64(v))
		object.WriteTag(b[len(b)-typ.WordSize:], typ.CodeLong)
	})
}

func (it *Interpreter) pushDouble(v float64) bool {
	return it.pushWrite(typ.Double.Size(), func(b []byte) {
		binary.LittleEndian.PutUint64(b[0:8], math.Float64bits(v))
		object.WriteTag(b[len(b)-typ.WordSize:], typ.CodeDouble)
	})
}

func (it *Interpreter) pushPointer(addr object.Addr, gc bool) bool {
	code := typ.CodePointer
	size := typ.Pointer.Size()
	if gc {
		code = typ.CodeGCPointer
		size = typ.GCPointer.Size()
	}
	return it.pushWrite(size, func(b []byte) {
		object.WriteAddr(b[0:8], addr)
		object.WriteTag(b[len(b)-typ.WordSize:], code)
	})
}

func readInt(buf []byte) int32  { return int32(binary.LittleEndian.Uint32(buf[0:4])) }
func readLong(buf []byte) int64 { return int64(binary.LittleEndian.Uint64(buf[0:8])) }
func readDouble(buf []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[0:8]))
}
func readPointer(buf []byte) object.Addr { return object.ReadAddr(buf[0:8]) }

// localEnd returns the recorded end-offset (one past the trailing tag)
// of local variable idx, or ok=false if idx is out of the current
// frame's declared range.
func (it *Interpreter) localEnd(idx int) (int, bool) {
	if idx < 0 || idx >= len(it.locals) {
		return 0, false
	}
	return it.locals[idx], true
}

// syncTypeAt re-keys typeAt after a gc.Alloc call that may have run a
// collection: every managed-heap address a flea/alea/lea recorded a type
// for moves along with its object, but a moving collector has no reason
// to know about this side table, so the interpreter re-keys it from
// GC.LastRelocations after every allocation that could have triggered one.
func (it *Interpreter) syncTypeAt() {
	reloc := it.gc.LastRelocations()
	if len(reloc) == 0 {
		return
	}
	next := make(map[object.Addr]typ.Type, len(it.typeAt))
	for addr, t := range it.typeAt {
		if na, ok := reloc[addr]; ok {
			next[na] = t
		} else {
			next[addr] = t
		}
	}
	it.typeAt = next
}
