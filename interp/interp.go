package interp

import (
	"fmt"

	"svm/heap"
	"svm/jit"
	"svm/loader/opcode"
	"svm/module"
	"svm/object"
	"svm/stack"
	"svm/typ"
)

// frame mirrors spec.md §3's "Call-stack frame": caller-instruction-
// offset, stack-begin, variable-begin, the active function, and (for a
// bytecode frame) its instruction stream.
type frame struct {
	callerIP   int // -1 for the outermost frame
	stackBegin int
	varBegin   int // length of the locals table at call time
	localFloor int // stack offset guarding IsLocalVariable for this frame
	funcIndex  int
	isVirtual  bool
	insts      *module.Instructions
}

// frameRecordSize is 7 machine words: callerIP, stackBegin, varBegin,
// localFloor, funcIndex, isVirtual, plus the trailing typ.FrameCode tag.
const frameRecordSize = 7 * typ.WordSize

func writeFrameRecord(buf []byte, f frame, ip int) {
	putI64(buf[0:8], int64(ip))
	putI64(buf[8:16], int64(f.stackBegin))
	putI64(buf[16:24], int64(f.varBegin))
	putI64(buf[24:32], int64(f.localFloor))
	putI64(buf[32:40], int64(f.funcIndex))
	isVirtual := int64(0)
	if f.isVirtual {
		isVirtual = 1
	}
	putI64(buf[40:48], isVirtual)
	object.WriteTag(buf[48:56], typ.FrameCode)
}

func readFrameRecord(buf []byte) (f frame, callerIP int) {
	callerIP = int(getI64(buf[0:8]))
	f.callerIP = callerIP
	f.stackBegin = int(getI64(buf[8:16]))
	f.varBegin = int(getI64(buf[16:24]))
	f.localFloor = int(getI64(buf[24:32]))
	f.funcIndex = int(getI64(buf[32:40]))
	f.isVirtual = getI64(buf[40:48]) != 0
	return f, callerIP
}

func putI64(b []byte, v int64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func getI64(b []byte) int64 {
	var v int64
	for i := 7; i >= 0; i-- {
		v = v<<8 | int64(b[i])
	}
	return v
}

// Interpreter is the dispatch engine described by spec.md §4.5: one
// instance per program, holding the typed stack, the active frame, the
// local-variable table, and — on a violation — a pending Exception.
type Interpreter struct {
	prog      *module.Program
	stk       *stack.Stack
	unmanaged *heap.Unmanaged
	gc        *heap.GC
	jitEngine *jit.Engine

	fr     frame
	ip     int // next instruction index within fr.insts
	depth  int
	locals []int // stack end-offsets, one per live local variable

	// typeAt records the resolved Type of every address a lea/flea/alea/
	// apush result has pointed at; new/gcnew/anew/agcnew results are not
	// recorded here, since resolve finds those through the unmanaged
	// table or the managed header. A
	// pointer value on the stack is just an address; nothing about it
	// says what it points to (spec.md §9 "the distinction is not about
	// the pointee type"), so tload/tstore/flea/alea recover pointee
	// layout from this side table rather than guessing from the bytes
	// at the address, the same way the unmanaged heap's address→size
	// table already works for delete.
	typeAt map[object.Addr]typ.Type

	exception *Exception
}

// Options configures stack and generation sizes (spec.md §6 "stack",
// "young", "old" required variables). JIT is optional: when set, execCall
// tries it before dispatching a bytecode function's instruction stream
// (spec.md §9 "an optional accelerator whose observable behavior must
// equal the interpreter's"); left nil, every call interprets.
type Options struct {
	StackSize int
	YoungSize int
	OldSize   int
	JIT       *jit.Engine
}

// New builds an interpreter ready to run prog's entry module. entryMod
// must be one of prog.Modules and have a non-negative EntryIndex.
func New(prog *module.Program, entryMod *module.Module, opts Options) (*Interpreter, error) {
	stk, err := stack.New(opts.StackSize)
	if err != nil {
		return nil, err
	}
	gc, err := heap.NewGC(opts.YoungSize, opts.OldSize, prog)
	if err != nil {
		stk.Close()
		return nil, err
	}
	if entryMod.EntryIndex < 0 {
		stk.Close()
		gc.Close()
		return nil, fmt.Errorf("interp: module %q has no entry point", entryMod.Path)
	}
	funcBase := prog.FuncBaseOf(entryMod)
	globalEntry := funcBase + entryMod.EntryIndex
	slot, ok := prog.GetFunction(globalEntry)
	if !ok {
		stk.Close()
		gc.Close()
		return nil, fmt.Errorf("interp: entry function not found")
	}
	it := &Interpreter{
		prog:      prog,
		stk:       stk,
		unmanaged: heap.NewUnmanaged(),
		gc:        gc,
		jitEngine: opts.JIT,
		typeAt:    make(map[object.Addr]typ.Type),
		fr: frame{
			callerIP:   -1,
			funcIndex:  globalEntry,
			insts:      &slot.Def.Bytecode,
			stackBegin: 0,
			varBegin:   0,
			localFloor: 0, // nothing to protect yet; execStore raises it
			// to each registered local's end as the entry function
			// declares locals (spec.md §4.1).
		},
	}
	return it, nil
}

// Close releases the stack and heaps (spec.md §5 "resource acquisition
// is scoped to the interpreter object").
func (it *Interpreter) Close() {
	it.stk.Close()
	it.gc.Close()
	it.unmanaged.Close()
}

func (it *Interpreter) Exception() *Exception { return it.exception }

// Result returns the top of the stack after a successful run, if the
// final (outermost) function produced one (spec.md §8 "the final stack
// ... contains exactly one value").
func (it *Interpreter) Result() ([]byte, typ.Code, bool) {
	tag, ok := it.stk.GetTopType(0)
	if !ok {
		return nil, 0, false
	}
	size, _, ok, err := it.sizeEndingAt(it.stk.Used())
	if err != nil || !ok {
		return nil, 0, false
	}
	top, err := it.stk.Top(0, size)
	if err != nil {
		return nil, 0, false
	}
	out := make([]byte, len(top))
	copy(out, top)
	return out, tag, true
}

func (it *Interpreter) raise(code Code) bool {
	it.exception = &Exception{Code: code, FunctionIndex: it.fr.funcIndex, InstructionIdx: it.ip}
	return false
}

// Interpret runs the dispatch loop until the entry frame returns or an
// exception halts it (spec.md §4.5). Returns false on exception.
func (it *Interpreter) Interpret() bool {
	for {
		if it.fr.insts == nil {
			// Virtual active frame shouldn't reach the dispatch loop;
			// defensive, not a reachable interpreter-core state.
			return it.raise(CodeFunctionNoRet)
		}
		if it.ip < 0 {
			it.ip = 0
		}
		if it.ip >= len(it.fr.insts.Code) {
			return it.raise(CodeFunctionNoRet)
		}
		inst := it.fr.insts.Code[it.ip]
		ok, done := it.step(inst)
		if !ok {
			return false
		}
		if done {
			return true
		}
	}
}

// step executes one instruction. ok=false means an exception occurred
// (caller should stop). done=true means the program has returned from
// its outermost frame.
func (it *Interpreter) step(inst opcode.Instruction) (ok bool, done bool) {
	advance := true
	var stepOK = true
	switch inst.Op {
	case opcode.Nop:
	case opcode.Push:
		stepOK = it.execPush(inst.Operand)
	case opcode.Pop:
		stepOK = it.execPop()
	case opcode.Load:
		stepOK = it.execLoad(inst.Operand)
	case opcode.Store:
		stepOK = it.execStore(inst.Operand)
	case opcode.Lea:
		stepOK = it.execLea(inst.Operand)
	case opcode.Flea:
		stepOK = it.execFlea(inst.Operand)
	case opcode.TLoad:
		stepOK = it.execTLoad()
	case opcode.TStore:
		stepOK = it.execTStore()
	case opcode.Copy:
		stepOK = it.execCopy()
	case opcode.Swap:
		stepOK = it.execSwap()
	case opcode.APush:
		stepOK = it.execAPush()
	case opcode.ANew:
		stepOK = it.execANew(inst.Operand, false)
	case opcode.AGCNew:
		stepOK = it.execANew(inst.Operand, true)
	case opcode.ALea:
		stepOK = it.execALea()
	case opcode.Count:
		stepOK = it.execCount()
	case opcode.Null:
		stepOK = it.execNullPush(false)
	case opcode.GCNull:
		stepOK = it.execNullPush(true)
	case opcode.New:
		stepOK = it.execNew(inst.Operand, false)
	case opcode.GCNew:
		stepOK = it.execNew(inst.Operand, true)
	case opcode.Delete:
		stepOK = it.execDelete()

	case opcode.Add, opcode.Sub, opcode.Mul, opcode.IMul, opcode.Div, opcode.IDiv, opcode.Mod, opcode.IMod:
		stepOK = it.execBinaryArith(inst.Op)
	case opcode.Neg:
		stepOK = it.execNeg()
	case opcode.Inc:
		stepOK = it.execIncDec(inst.Operand, 1)
	case opcode.Dec:
		stepOK = it.execIncDec(inst.Operand, -1)

	case opcode.And, opcode.Or, opcode.Xor, opcode.Shl, opcode.Sal, opcode.Shr, opcode.Sar:
		stepOK = it.execBitwise(inst.Op)
	case opcode.Not:
		stepOK = it.execNot()

	case opcode.Cmp:
		stepOK = it.execCompare(false)
	case opcode.ICmp:
		stepOK = it.execCompare(true)

	case opcode.Jmp:
		stepOK, advance = it.execJump(inst.Operand, jumpAlways)
	case opcode.Je:
		stepOK, advance = it.execJump(inst.Operand, jumpEq)
	case opcode.Jne:
		stepOK, advance = it.execJump(inst.Operand, jumpNe)
	case opcode.Ja:
		stepOK, advance = it.execJump(inst.Operand, jumpGt)
	case opcode.Jae:
		stepOK, advance = it.execJump(inst.Operand, jumpGe)
	case opcode.Jb:
		stepOK, advance = it.execJump(inst.Operand, jumpLt)
	case opcode.Jbe:
		stepOK, advance = it.execJump(inst.Operand, jumpLe)
	case opcode.Call:
		stepOK, advance = it.execCall(inst.Operand)
	case opcode.Ret:
		var retDone bool
		stepOK, retDone, advance = it.execRet()
		if retDone {
			return true, true
		}

	case opcode.ToI:
		stepOK = it.execCast(castToI)
	case opcode.ToL:
		stepOK = it.execCast(castToL)
	case opcode.ToSI:
		stepOK = it.execCast(castToSI)
	case opcode.ToD:
		stepOK = it.execCast(castToD)
	case opcode.ToP:
		stepOK = it.execCast(castToP)

	default:
		return it.raise(CodeFunctionNoRet), false
	}

	if !stepOK {
		return false, false
	}
	if advance {
		it.ip++
	}
	return true, false
}

// localFloor returns the guard offset IsLocalVariable enforces for the
// current frame (spec.md §4.1).
func (it *Interpreter) localFloor() int { return it.fr.localFloor }

// sizeEndingAt resolves the size+type of the object whose trailing tag
// occupies stack bytes [endOff-WordSize, endOff).
func (it *Interpreter) sizeEndingAt(endOff int) (int, typ.Code, bool, error) {
	if endOff < typ.WordSize {
		return 0, 0, false, fmt.Errorf("interp: short read at stack top")
	}
	tag := object.ReadTag(it.stk.Bytes(endOff-typ.WordSize, typ.WordSize))
	switch tag {
	case typ.FrameCode:
		return frameRecordSize, tag, true, nil
	case typ.ArrayCode:
		if endOff < typ.WordSize+16 {
			return 0, 0, false, fmt.Errorf("interp: short read for array header")
		}
		hdr := object.ReadArrayHeader(it.stk.Bytes(endOff-typ.WordSize-16, 16))
		es, err := object.ElemSize(hdr.ElemCode, it.prog)
		if err != nil {
			return 0, 0, false, err
		}
		total := 16 + typ.WordSize + int(hdr.Count)*es
		return total, tag, true, nil
	default:
		t, ok := object.TypeOf(tag, it.prog)
		if !ok {
			return 0, 0, false, fmt.Errorf("interp: unresolvable type code %d", tag)
		}
		return t.Size(), tag, true, nil
	}
}

func (it *Interpreter) topSize() (int, typ.Code, bool, error) {
	return it.sizeEndingAt(it.stk.Used())
}
