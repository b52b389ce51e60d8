package interp

import (
	"fmt"

	"svm/object"
	"svm/typ"
	"svm/virtual"
)

// Jump-kind discriminants for execJump; jumpAlways is unconditional,
// the rest test the int pushed by a prior cmp/icmp against zero
// (spec.md §4.5 "je/jne test against zero; ja/jnae test against
// +1/-1 respectively").
const (
	jumpAlways = iota
	jumpEq
	jumpNe
	jumpGt
	jumpGe
	jumpLt
	jumpLe
)

// execJump implements jmp/je/jne/ja/jae/jb/jbe: operand is a label
// index into the active frame's label table, resolved at parse time to
// an absolute instruction index. advance=false always — either the
// jump is taken (it.ip is set directly) or it isn't, in which case the
// instruction after the comparison-producing value simply continues.
func (it *Interpreter) execJump(operand uint32, kind int) (ok bool, advance bool) {
	if kind != jumpAlways {
		buf, tag, pok := it.popRaw()
		if !pok {
			return false, false
		}
		if tag != typ.CodeInt {
			return it.raise(CodeStackDifferentType), false
		}
		v := readInt(buf)
		var take bool
		switch kind {
		case jumpEq:
			take = v == 0
		case jumpNe:
			take = v != 0
		case jumpGt:
			take = v > 0
		case jumpGe:
			take = v >= 0
		case jumpLt:
			take = v < 0
		case jumpLe:
			take = v <= 0
		}
		if !take {
			it.ip++
			return true, false
		}
	}
	if int(operand) >= len(it.fr.insts.Labels) {
		return it.raise(CodeLabelOutOfRange), false
	}
	it.ip = int(it.fr.insts.Labels[operand])
	return true, false
}

// execCall implements `call` (spec.md §4.5): operand is a global
// function index (already resolved from its module-local wire encoding
// by module.Resolve). The caller's frame is saved as a typed record,
// a new frame is installed, and arity values already sitting below that
// record — pushed by the caller before the call — are claimed as the
// callee's locals in parameter order.
func (it *Interpreter) execCall(operand uint32) (ok bool, advance bool) {
	slot, fok := it.prog.GetFunction(int(operand))
	if !fok {
		return it.raise(CodeFunctionOutOfRange), false
	}

	resumeIP := it.ip + 1

	if !slot.IsVirtual() && it.jitEngine != nil {
		if done, ok := it.tryNativeCall(slot, resumeIP); done {
			return ok, false
		}
	}
	recordStart := it.stk.Used()
	if !it.pushWrite(frameRecordSize, func(b []byte) { writeFrameRecord(b, it.fr, resumeIP) }) {
		return false, false
	}

	// localFloor stays at stack-begin: the frame record and the arity
	// parameters below it are both off-limits to the callee's pops.
	newFrame := frame{
		callerIP:   resumeIP,
		stackBegin: it.stk.Used(),
		varBegin:   len(it.locals),
		funcIndex:  int(operand),
		isVirtual:  slot.IsVirtual(),
	}
	if !slot.IsVirtual() {
		newFrame.insts = &slot.Def.Bytecode
	}
	newFrame.localFloor = newFrame.stackBegin

	arity := slot.Def.Arity
	ends := make([]int, arity)
	pos := recordStart
	for i := arity - 1; i >= 0; i-- {
		size, _, sok, err := it.sizeEndingAt(pos)
		if err != nil || !sok || pos-size < it.fr.localFloor {
			it.stk.Truncate(recordStart)
			return it.raise(CodeStackEmpty), false
		}
		ends[i] = pos
		pos -= size
	}

	it.locals = append(it.locals, ends...)
	it.fr = newFrame
	it.ip = 0
	it.depth++

	if !slot.IsVirtual() {
		return true, false
	}

	ctx := it.buildVirtualContext(arity)
	if err := slot.Def.Virtual(ctx); err != nil {
		return it.raise(CodeStdlibTypeAssertFail), false
	}
	retOK, _, _ := it.execRet()
	return retOK, false
}

// resultKindLegal reports whether tag is a legal ret-result kind
// (spec.md §4.5 Return: "only a fundamental or pointer/gc-pointer/
// structure/array type is legal") — every tag except the internal
// frame-record sentinel.
func resultKindLegal(tag typ.Code) bool { return tag != typ.FrameCode }

// execRet implements `ret` (spec.md §4.5 Return). If no caller remains,
// the program ends. Otherwise: the result (if any) is lifted off the
// top, locals and temporaries this frame added are discarded, the
// arity argument slots below the saved record are popped, the caller's
// frame record is restored, and the remembered result is moved onto
// the new top.
func (it *Interpreter) execRet() (ok bool, done bool, advance bool) {
	if it.depth == 0 {
		if it.fr.insts != nil {
			it.ip = len(it.fr.insts.Code)
		}
		return true, true, false
	}

	slot, sok := it.prog.GetFunction(it.fr.funcIndex)
	if !sok {
		return it.raise(CodeFunctionOutOfRange), false, false
	}

	var resultBuf []byte
	if slot.Def.HasResult {
		buf, tag, pok := it.popRaw()
		if !pok {
			return false, false, false
		}
		if !resultKindLegal(tag) {
			return it.raise(CodeStackDifferentType), false, false
		}
		resultBuf = append([]byte(nil), buf...)
	}

	it.locals = it.locals[:it.fr.varBegin]
	it.stk.Truncate(it.fr.stackBegin)

	// The saved frame record sits directly below stack-begin; the arity
	// argument slots sit underneath it, so the record comes off first.
	recEnd := it.stk.Used()
	recSize, recTag, rok, rerr := it.sizeEndingAt(recEnd)
	if rerr != nil || !rok || recTag != typ.FrameCode {
		return it.raise(CodeFunctionTopOfCallStack), false, false
	}
	recBuf := it.stk.Bytes(recEnd-recSize, recSize)
	restored, resumeIP := readFrameRecord(recBuf)
	it.stk.Truncate(recEnd - recSize)

	for i := 0; i < slot.Def.Arity; i++ {
		size, _, aok, err := it.sizeEndingAt(it.stk.Used())
		if err != nil || !aok {
			return it.raise(CodeStackEmpty), false, false
		}
		it.stk.Truncate(it.stk.Used() - size)
	}

	// A frame record cannot carry the caller's live Instructions pointer
	// through its byte encoding; re-derive it from the function index.
	if !restored.isVirtual {
		callerSlot, cok := it.prog.GetFunction(restored.funcIndex)
		if !cok {
			return it.raise(CodeFunctionOutOfRange), false, false
		}
		restored.insts = &callerSlot.Def.Bytecode
	}

	it.fr = restored
	it.ip = resumeIP
	it.depth--

	if resultBuf != nil && !it.pushBytesCopy(resultBuf) {
		return false, false, false
	}
	return true, false, false
}

// paramObject builds the virtual.Object view over a stack-resident
// value ending at offset end, sized size bytes.
func (it *Interpreter) paramObject(end, size int) (virtual.Object, bool) {
	buf := it.stk.Bytes(end-size, size)
	info, ok := it.classify(buf)
	if !ok {
		return virtual.Object{}, false
	}
	addr := it.stk.Addr(end - size)
	t := info.t
	if info.isArray() {
		elemType, eok := object.TypeOf(info.arr.ElemCode, it.prog)
		if !eok {
			return virtual.Object{}, false
		}
		t = typ.NewArray(elemType, info.arr.Count)
	}
	return virtual.NewParam(t, buf, addr, it.prog), true
}

// buildVirtualContext assembles the virtual.Context handed to a
// host-implemented function: the arity locals just registered as its
// parameters, a dereference/push bridge into this interpreter's stack
// and heaps, and structure lookup scoped to the callee's own module
// (spec.md §4.7).
func (it *Interpreter) buildVirtualContext(arity int) *virtual.Context {
	start := len(it.locals) - arity
	params := make([]virtual.Object, arity)
	for i := 0; i < arity; i++ {
		end := it.locals[start+i]
		size, _, sok, err := it.sizeEndingAt(end)
		if err != nil || !sok {
			continue
		}
		if obj, pok := it.paramObject(end, size); pok {
			params[i] = obj
		}
	}
	resolve := func(addr object.Addr) ([]byte, typ.Type, error) {
		info, rok := it.resolve(addr)
		if !rok {
			return nil, typ.Type{}, fmt.Errorf("interp: unresolvable address")
		}
		t := info.t
		if info.isArray() {
			elemType, eok := object.TypeOf(info.arr.ElemCode, it.prog)
			if !eok {
				return nil, typ.Type{}, fmt.Errorf("interp: unresolvable array element type")
			}
			t = typ.NewArray(elemType, info.arr.Count)
		}
		return info.buf, t, nil
	}
	push := func(size int, w func([]byte)) error {
		if !it.pushWrite(size, w) {
			return fmt.Errorf("interp: stack overflow")
		}
		return nil
	}
	structures := func(localIdx int) (*typ.Structure, bool) {
		m := it.currentModule()
		if m == nil {
			return nil, false
		}
		t, tok := it.prog.LocalStructType(m, localIdx)
		if !tok || !t.IsStructure() {
			return nil, false
		}
		return t.Structure(), true
	}
	return virtual.NewContext(params, it.prog, resolve, push, structures)
}
