package interp

import (
	"svm/module"
	"svm/object"
	"svm/typ"
)

// objInfo is the resolved shape of whatever an address holds: either a
// fundamental/structure value (t set) or an array (arr set, t zero).
type objInfo struct {
	buf []byte
	tag typ.Code
	t   typ.Type
	arr object.ArrayHeader
}

func (o objInfo) isArray() bool { return o.tag == typ.ArrayCode }

// classify reads buf's trailing tag (buf must end exactly at the
// object's own tag) and resolves it into an objInfo.
func (it *Interpreter) classify(buf []byte) (objInfo, bool) {
	if len(buf) < typ.WordSize {
		return objInfo{}, false
	}
	tagOff := len(buf) - typ.WordSize
	tag := object.ReadTag(buf[tagOff:])
	if tag == typ.ArrayCode {
		if tagOff < 16 {
			return objInfo{}, false
		}
		return objInfo{buf: buf, tag: tag, arr: object.ReadArrayHeader(buf[tagOff-16 : tagOff])}, true
	}
	t, ok := object.TypeOf(tag, it.prog)
	if !ok {
		return objInfo{}, false
	}
	return objInfo{buf: buf, tag: tag, t: t}, true
}

// resolve recovers the full object (payload+tag, and array header where
// relevant) addressed by addr. Top-level heap allocations (new/gcnew/
// anew/agcnew results) are found via the unmanaged table or the managed
// header, both of which re-derive type from the live bytes at addr and
// so stay correct across a relocating GC. Interior addresses — the
// result of a prior lea/flea/alea, which point into the middle of a
// stack slot or heap object rather than at an allocation's own base —
// have no such external record, so they fall back to it.typeAt, the
// side table those three opcodes populate (see interp.go).
func (it *Interpreter) resolve(addr object.Addr) (objInfo, bool) {
	if buf, ok := it.unmanaged.Lookup(addr); ok {
		return it.classify(buf)
	}
	if it.gc.Owns(addr) {
		if _, buf, ok := it.gc.HeaderOf(addr); ok {
			return it.classify(buf)
		}
	}
	if t, ok := it.typeAt[addr]; ok {
		buf, ok := it.bytesAt(addr, t.Size())
		if !ok {
			return objInfo{}, false
		}
		return objInfo{buf: buf, tag: t.Code(), t: t}, true
	}
	return objInfo{}, false
}

// pointerKind reports whether tag is a pointer kind, and whether it is
// the managed (gc-pointer) variant.
func pointerKind(tag typ.Code) (gc bool, ok bool) {
	switch tag {
	case typ.CodePointer:
		return false, true
	case typ.CodeGCPointer:
		return true, true
	default:
		return false, false
	}
}

// execPush implements `push operand` (spec.md §4.5): operand < the
// constant-pool size selects a constant; otherwise it selects a
// default-initialized structure (operand - pool-count is the local
// structure index).
func (it *Interpreter) execPush(operand uint32) bool {
	m := it.currentModule()
	if m == nil {
		return it.raise(CodeFunctionOutOfRange)
	}
	consts := &m.Constants
	if kind, idx, ok := consts.Lookup(operand); ok {
		switch kind {
		case module.ConstInt:
			return it.pushInt(consts.Ints[idx])
		case module.ConstLong:
			return it.pushLong(consts.Longs[idx])
		case module.ConstDouble:
			return it.pushDouble(consts.Doubles[idx])
		}
	}
	localIdx := int(operand) - consts.Count()
	t, ok := it.prog.LocalStructType(m, localIdx)
	if !ok {
		return it.raise(CodeConstantPoolOutOfRange)
	}
	return it.pushWrite(t.Size(), func(b []byte) { object.InitZero(b, t) })
}

// execPop implements `pop`: discard the top value.
func (it *Interpreter) execPop() bool {
	_, _, ok := it.popRaw()
	return ok
}

// execNullPush implements `null`/`gcnull`: push a null pointer/gc-pointer.
func (it *Interpreter) execNullPush(gc bool) bool {
	return it.pushPointer(object.Null, gc)
}

// execLoad implements `load i`: copy the i-th local onto the top of the
// stack. i is relative to the active frame's own locals (spec.md §4.1);
// it.fr.varBegin is the global it.locals offset those begin at.
func (it *Interpreter) execLoad(i uint32) bool {
	end, ok := it.localEnd(it.fr.varBegin + int(i))
	if !ok {
		return it.raise(CodeLocalVarOutOfRange)
	}
	size, _, sok, err := it.sizeEndingAt(end)
	if err != nil || !sok {
		return it.raise(CodeLocalVarOutOfRange)
	}
	src := it.stk.Bytes(end-size, size)
	return it.pushBytesCopy(src)
}

// execStore implements `store i` (spec.md §4.6): i is relative to the
// active frame's own locals, same as load/lea. i < len(this frame's
// locals) pops the top and overwrites the existing local's bytes in
// place (types must match); i == len(this frame's locals) registers the
// current top, unpopped, as a new local; any other i is invalid.
func (it *Interpreter) execStore(i uint32) bool {
	idx := it.fr.varBegin + int(i)
	if idx > len(it.locals) {
		return it.raise(CodeLocalVarInvalidIndex)
	}
	if idx == len(it.locals) {
		if _, _, ok := it.peekRaw(); !ok {
			return false
		}
		it.locals = append(it.locals, it.stk.Used())
		// Raise the floor to the new local's end so the guard covers it:
		// spec.md §4.1 "local variables cannot be popped."
		it.fr.localFloor = it.stk.Used()
		return true
	}
	end, _ := it.localEnd(idx)
	dstSize, dstTag, sok, err := it.sizeEndingAt(end)
	if err != nil || !sok {
		return it.raise(CodeLocalVarOutOfRange)
	}
	topBuf, topTag, ok := it.peekRaw()
	if !ok {
		return false
	}
	if topTag != dstTag || len(topBuf) != dstSize {
		return it.raise(CodeStackDifferentType)
	}
	buf, _, ok := it.popRaw()
	if !ok {
		return false
	}
	dst := it.stk.Bytes(end-dstSize, dstSize)
	copy(dst, buf)
	return true
}

// execLea implements `lea i`: push a pointer to local variable i's
// start address (i relative to the active frame's own locals, as with
// load/store), recording its type for later flea/tload/tstore
// dereferences (see it.typeAt).
func (it *Interpreter) execLea(i uint32) bool {
	end, ok := it.localEnd(it.fr.varBegin + int(i))
	if !ok {
		return it.raise(CodeLocalVarOutOfRange)
	}
	size, tag, sok, err := it.sizeEndingAt(end)
	if err != nil || !sok {
		return it.raise(CodeLocalVarOutOfRange)
	}
	start := it.stk.Addr(end - size)
	if t, ok := object.TypeOf(tag, it.prog); ok {
		it.typeAt[start] = t
	}
	return it.pushPointer(start, false)
}

// execFlea implements `flea i`: replace a pointer-to-structure with a
// pointer to its i-th field, preserving the input pointer's gc-ness so
// a later tstore through it still trips the write barrier (spec.md
// §4.3's barrier is keyed on the pointer's own tag, not its target).
func (it *Interpreter) execFlea(i uint32) bool {
	buf, tag, ok := it.popRaw()
	if !ok {
		return false
	}
	gc, ok := pointerKind(tag)
	if !ok {
		return it.raise(CodeStructureNotStructure)
	}
	addr := object.ReadAddr(buf[0:8])
	if addr == object.Null {
		return it.raise(CodePointerNull)
	}
	info, ok := it.resolve(addr)
	if !ok {
		return it.raise(CodePointerUnknownAddress)
	}
	if info.isArray() || !info.t.IsStructure() {
		return it.raise(CodeStructureNotStructure)
	}
	fields := info.t.Structure().Fields
	if int(i) >= len(fields) {
		return it.raise(CodeStructureFieldOutOfRange)
	}
	f := fields[i]
	fieldAddr := addr + object.Addr(f.Offset)
	it.typeAt[fieldAddr] = f.Type
	return it.pushPointer(fieldAddr, gc)
}

// execALea implements `alea`: given [..., array-ptr, index], replace
// both with a pointer to that element, range-checked.
func (it *Interpreter) execALea() bool {
	idxBuf, idxTag, ok := it.popRaw()
	if !ok {
		return false
	}
	var idx int64
	switch idxTag {
	case typ.CodeInt:
		idx = int64(readInt(idxBuf))
	case typ.CodeLong:
		idx = readLong(idxBuf)
	default:
		return it.raise(CodeArrayInvalidForArray)
	}
	ptrBuf, ptrTag, ok := it.popRaw()
	if !ok {
		return false
	}
	gc, ok := pointerKind(ptrTag)
	if !ok {
		return it.raise(CodeArrayNotArray)
	}
	addr := object.ReadAddr(ptrBuf[0:8])
	if addr == object.Null {
		return it.raise(CodePointerNull)
	}
	info, ok := it.resolve(addr)
	if !ok {
		return it.raise(CodePointerUnknownAddress)
	}
	if !info.isArray() {
		return it.raise(CodeArrayNotArray)
	}
	if idx < 0 || idx >= info.arr.Count {
		return it.raise(CodeArrayIndexOutOfRange)
	}
	elemType, ok := object.TypeOf(info.arr.ElemCode, it.prog)
	if !ok {
		return it.raise(CodeArrayInvalidForArray)
	}
	elemAddr := addr + object.Addr(int64(elemType.Size())*idx)
	it.typeAt[elemAddr] = elemType
	return it.pushPointer(elemAddr, gc)
}

// execCount implements `count`: replace a top array pointer with its
// length as a long.
func (it *Interpreter) execCount() bool {
	buf, tag, ok := it.popRaw()
	if !ok {
		return false
	}
	if _, ok := pointerKind(tag); !ok {
		return it.raise(CodeArrayNotArray)
	}
	addr := object.ReadAddr(buf[0:8])
	if addr == object.Null {
		return it.raise(CodePointerNull)
	}
	info, ok := it.resolve(addr)
	if !ok {
		return it.raise(CodePointerUnknownAddress)
	}
	if !info.isArray() {
		return it.raise(CodeArrayNotArray)
	}
	return it.pushLong(info.arr.Count)
}

// execTLoad implements `tload`: pop the top pointer and push a copy of
// its pointee value (scalar, structure, or array).
func (it *Interpreter) execTLoad() bool {
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
	info, ok := it.resolve(addr)
	if !ok {
		return it.raise(CodePointerUnknownAddress)
	}
	return it.pushBytesCopy(info.buf)
}

// execTStore implements `tstore`: pop rhs-value then lhs-pointer, copy
// rhs into *lhs after a type check, tripping the write barrier when lhs
// is a gc-pointer (spec.md §4.6).
func (it *Interpreter) execTStore() bool {
	rhsBuf, rhsTag, ok := it.popRaw()
	if !ok {
		return false
	}
	lhsBuf, lhsTag, ok := it.popRaw()
	if !ok {
		return false
	}
	gc, ok := pointerKind(lhsTag)
	if !ok {
		return it.raise(CodePointerNotPointer)
	}
	addr := object.ReadAddr(lhsBuf[0:8])
	if addr == object.Null {
		return it.raise(CodePointerNull)
	}
	info, ok := it.resolve(addr)
	if !ok {
		return it.raise(CodePointerUnknownAddress)
	}
	if info.isArray() {
		if rhsTag != typ.ArrayCode {
			return it.raise(CodeStackDifferentType)
		}
		rhsTagOff := len(rhsBuf) - typ.WordSize
		rhsHdr := object.ReadArrayHeader(rhsBuf[rhsTagOff-16 : rhsTagOff])
		if rhsHdr.ElemCode != info.arr.ElemCode || rhsHdr.Count != info.arr.Count {
			return it.raise(CodeStackDifferentType)
		}
	} else if rhsTag != info.tag || len(rhsBuf) != len(info.buf) {
		return it.raise(CodeStackDifferentType)
	}
	dst, ok := it.bytesAt(addr, len(info.buf))
	if !ok {
		return it.raise(CodePointerUnknownAddress)
	}
	copy(dst, rhsBuf)
	if gc {
		it.gc.MakeDirty(addr)
	}
	return true
}

// execAPush implements `apush`: push a non-owning pointer to the
// current top value's location, without consuming it — the "address of
// top" counterpart to lea's "address of local i" (spec.md §4.5 lists
// apush among the stack-group opcodes but does not elaborate it
// further; this is the reading that fits the a-prefixed "address of X"
// family alongside alea/flea rather than contradicting any other
// invariant, documented in DESIGN.md).
func (it *Interpreter) execAPush() bool {
	buf, tag, ok := it.peekRaw()
	if !ok {
		return false
	}
	addr := it.stk.Addr(it.stk.Used() - len(buf))
	if tag != typ.ArrayCode && tag != typ.FrameCode {
		if t, ok := object.TypeOf(tag, it.prog); ok {
			it.typeAt[addr] = t
		}
	}
	return it.pushPointer(addr, false)
}

// execCopy implements `copy`: duplicate the top value.
func (it *Interpreter) execCopy() bool {
	buf, _, ok := it.peekRaw()
	if !ok {
		return false
	}
	return it.pushBytesCopy(buf)
}

// execSwap implements `swap`: exchange the top two values.
func (it *Interpreter) execSwap() bool {
	top, _, ok := it.popRaw()
	if !ok {
		return false
	}
	second, _, ok := it.popRaw()
	if !ok {
		it.pushBytesCopy(top)
		return false
	}
	if !it.pushBytesCopy(top) {
		return false
	}
	return it.pushBytesCopy(second)
}
