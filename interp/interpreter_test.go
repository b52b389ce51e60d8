package interp

import (
	"testing"

	"svm/jit"
	"svm/loader/opcode"
	"svm/module"
	"svm/typ"
)

// runModule resolves a single-module program and runs it to completion,
// failing the test on any exception. Stack/heap sizes are generous
// enough that none of these scenarios can overflow or allocate past
// them; no scenario here needs a managed (gc) allocation, so the young/
// old generations are given a small fixed size and never exercised.
func runModule(t *testing.T, m *module.Module) (buf []byte, tag typ.Code, hasResult bool) {
	t.Helper()
	prog, err := module.Resolve([]*module.Module{m})
	if err != nil {
		t.Fatalf("module.Resolve: %v", err)
	}
	it, err := New(prog, m, Options{StackSize: 4096, YoungSize: 4096, OldSize: 4096})
	if err != nil {
		t.Fatalf("interp.New: %v", err)
	}
	defer it.Close()
	if !it.Interpret() {
		t.Fatalf("Interpret: %v", it.Exception())
	}
	return it.Result()
}

// runExpectException resolves and runs m, failing the test unless the
// interpreter halts with the given exception code.
func runExpectException(t *testing.T, m *module.Module, want Code) {
	t.Helper()
	prog, err := module.Resolve([]*module.Module{m})
	if err != nil {
		t.Fatalf("module.Resolve: %v", err)
	}
	it, err := New(prog, m, Options{StackSize: 4096, YoungSize: 4096, OldSize: 4096})
	if err != nil {
		t.Fatalf("interp.New: %v", err)
	}
	defer it.Close()
	if it.Interpret() {
		t.Fatalf("Interpret: expected a %v exception", want)
	}
	if exc := it.Exception(); exc == nil || exc.Code != want {
		t.Fatalf("Exception = %v, want %v", exc, want)
	}
}

func inst(op opcode.Opcode, operand uint32) opcode.Instruction {
	return opcode.Instruction{Op: op, Operand: operand}
}

func entryModule(consts module.ConstantPool, code ...opcode.Instruction) *module.Module {
	m := module.NewModule("test")
	m.Constants = consts
	m.EntryIndex = m.DefineBytecodeFunction("entry", 0, true, module.Instructions{Code: code})
	return m
}

// spec.md §8 scenario 1: `push 7; push 5; add; ret` ⇒ int 12.
func TestScenarioAddInt(t *testing.T) {
	m := entryModule(module.ConstantPool{Ints: []int32{7, 5}},
		inst(opcode.Push, 0), inst(opcode.Push, 1), inst(opcode.Add, 0), inst(opcode.Ret, 0))
	buf, tag, ok := runModule(t, m)
	if !ok {
		t.Fatalf("expected a result")
	}
	if tag != typ.CodeInt {
		t.Fatalf("tag = %v, want int", tag)
	}
	if got := readInt(buf); got != 12 {
		t.Fatalf("7+5 = %d, want 12", got)
	}
}

// spec.md §8 scenario 2: `push 10; push 3; idiv; ret` ⇒ long 3.
func TestScenarioIDivLong(t *testing.T) {
	m := entryModule(module.ConstantPool{Longs: []int64{10, 3}},
		inst(opcode.Push, 0), inst(opcode.Push, 1), inst(opcode.IDiv, 0), inst(opcode.Ret, 0))
	buf, tag, ok := runModule(t, m)
	if !ok {
		t.Fatalf("expected a result")
	}
	if tag != typ.CodeLong {
		t.Fatalf("tag = %v, want long", tag)
	}
	if got := readLong(buf); got != 3 {
		t.Fatalf("10 idiv 3 = %d, want 3", got)
	}
}

// spec.md §8 scenario 3: `push 5.0; push 2.0; div; ret` ⇒ double 2.5.
func TestScenarioDivDouble(t *testing.T) {
	m := entryModule(module.ConstantPool{Doubles: []float64{5.0, 2.0}},
		inst(opcode.Push, 0), inst(opcode.Push, 1), inst(opcode.Div, 0), inst(opcode.Ret, 0))
	buf, tag, ok := runModule(t, m)
	if !ok {
		t.Fatalf("expected a result")
	}
	if tag != typ.CodeDouble {
		t.Fatalf("tag = %v, want double", tag)
	}
	if got := readDouble(buf); got != 2.5 {
		t.Fatalf("5.0/2.0 = %v, want 2.5", got)
	}
}

// spec.md §8 scenario 4: allocate a 4-element int array, store 42 at
// index 0 via alea/tstore, then read it back via alea/tload ⇒ int 42.
func TestScenarioArrayTStoreTLoad(t *testing.T) {
	m := entryModule(module.ConstantPool{Ints: []int32{4, 0, 42}},
		inst(opcode.Push, 0), // array length 4
		inst(opcode.ANew, uint32(typ.CodeInt)),
		inst(opcode.Store, 0), // local0 = array pointer
		inst(opcode.Load, 0),
		inst(opcode.Push, 1), // index 0
		inst(opcode.ALea, 0),
		inst(opcode.Push, 2), // value 42
		inst(opcode.TStore, 0),
		inst(opcode.Load, 0),
		inst(opcode.Push, 1), // index 0
		inst(opcode.ALea, 0),
		inst(opcode.TLoad, 0),
		inst(opcode.Ret, 0),
	)
	buf, tag, ok := runModule(t, m)
	if !ok {
		t.Fatalf("expected a result")
	}
	if tag != typ.CodeInt {
		t.Fatalf("tag = %v, want int", tag)
	}
	if got := readInt(buf); got != 42 {
		t.Fatalf("array[0] = %d, want 42", got)
	}
}

// spec.md §8 scenario 5: structure S{int,int}, field 1 set then read
// back ⇒ int 0. This is also the regression test for the
// FundamentalCount collision: S is the module's only (hence first)
// structure, so its global type code is exactly FundamentalCount+0 —
// before the fix that equaled CodeGCPointer (5), so classify/flea would
// have resolved pushed S values as a 16-byte gc-pointer instead of a
// 32-byte structure and `flea` would have failed with
// CodeStructureNotStructure.
func TestScenarioStructureFieldSetThenRead(t *testing.T) {
	m := module.NewModule("test")
	m.Constants = module.ConstantPool{Ints: []int32{0}}
	structIdx := m.DefineStructure("S", []uint32{uint32(typ.CodeInt), uint32(typ.CodeInt)})
	if structIdx != 0 {
		t.Fatalf("structIdx = %d, want 0", structIdx)
	}
	code := []opcode.Instruction{
		inst(opcode.Push, 1), // constCount(1) + structIdx(0): default-init S
		inst(opcode.Store, 0),
		inst(opcode.Lea, 0),
		inst(opcode.Flea, 1), // field 1
		inst(opcode.Push, 0), // int 0
		inst(opcode.TStore, 0),
		inst(opcode.Lea, 0),
		inst(opcode.Flea, 1),
		inst(opcode.TLoad, 0),
		inst(opcode.Ret, 0),
	}
	m.EntryIndex = m.DefineBytecodeFunction("entry", 0, true, module.Instructions{Code: code})

	buf, tag, ok := runModule(t, m)
	if !ok {
		t.Fatalf("expected a result")
	}
	if tag != typ.CodeInt {
		t.Fatalf("tag = %v, want int", tag)
	}
	if got := readInt(buf); got != 0 {
		t.Fatalf("field 1 = %d, want 0", got)
	}
}

// spec.md §8 scenario 6: recursive factorial, f(5) ⇒ int 120. f calls
// itself by its own module-local function index, exercising the
// frame-relative local-variable addressing load/store/lea/inc/dec all
// share: f's single parameter n sits at a different it.locals offset at
// every recursion depth (it.fr.varBegin grows by one per nested call),
// so a bug that read/wrote a raw global index instead of
// varBegin-relative would have this test read an ancestor frame's n.
func TestScenarioRecursiveFactorial(t *testing.T) {
	m := module.NewModule("test")
	m.Constants = module.ConstantPool{Ints: []int32{0, 1, 5}}

	entryCode := []opcode.Instruction{
		inst(opcode.Push, 2), // 5
		inst(opcode.Call, 1), // f is function-local-index 1
		inst(opcode.Ret, 0),
	}
	entryIdx := m.DefineBytecodeFunction("entry", 0, true, module.Instructions{Code: entryCode})
	m.EntryIndex = entryIdx

	// f(n): if n == 0 return 1; else return n * f(n-1).
	fCode := []opcode.Instruction{
		inst(opcode.Load, 0), // 0: n
		inst(opcode.Push, 0), // 1: 0
		inst(opcode.ICmp, 0), // 2: n cmp 0
		inst(opcode.Jne, 0),  // 3: n != 0 -> label 0 (else)
		inst(opcode.Push, 1), // 4: 1 (base case)
		inst(opcode.Ret, 0),  // 5
		inst(opcode.Load, 0), // 6 (label 0): n
		inst(opcode.Load, 0), // 7: n
		inst(opcode.Push, 1), // 8: 1
		inst(opcode.Sub, 0),  // 9: n-1
		inst(opcode.Call, 1), // 10: f(n-1)
		inst(opcode.Mul, 0),  // 11: n * f(n-1)
		inst(opcode.Ret, 0),  // 12
	}
	fIdx := m.DefineBytecodeFunction("f", 1, true, module.Instructions{
		Labels: []uint64{6},
		Code:   fCode,
	})
	if fIdx != 1 {
		t.Fatalf("fIdx = %d, want 1", fIdx)
	}

	buf, tag, ok := runModule(t, m)
	if !ok {
		t.Fatalf("expected a result")
	}
	if tag != typ.CodeInt {
		t.Fatalf("tag = %v, want int", tag)
	}
	if got := readInt(buf); got != 120 {
		t.Fatalf("f(5) = %d, want 120", got)
	}
}

// store/load round trip (spec.md §4.6): the value read back after a
// store equals the value written, and the stack is balanced around it.
func TestStoreLoadRoundTrip(t *testing.T) {
	m := entryModule(module.ConstantPool{Ints: []int32{7}},
		inst(opcode.Push, 0),
		inst(opcode.Store, 0),
		inst(opcode.Load, 0),
		inst(opcode.Ret, 0))
	buf, tag, ok := runModule(t, m)
	if !ok {
		t.Fatalf("expected a result")
	}
	if tag != typ.CodeInt || readInt(buf) != 7 {
		t.Fatalf("store/load round trip = (%v, %d), want (int, 7)", tag, readInt(buf))
	}
}

// push/pop round trip: a popped value leaves no trace on the result.
func TestPushPopRoundTrip(t *testing.T) {
	m := entryModule(module.ConstantPool{Ints: []int32{41, 99}},
		inst(opcode.Push, 0),
		inst(opcode.Pop, 0),
		inst(opcode.Push, 1),
		inst(opcode.Ret, 0))
	buf, tag, ok := runModule(t, m)
	if !ok {
		t.Fatalf("expected a result")
	}
	if tag != typ.CodeInt || readInt(buf) != 99 {
		t.Fatalf("push/pop round trip = (%v, %d), want (int, 99)", tag, readInt(buf))
	}
}

// spec.md §4.5: division by zero raises CodeArithDivZero rather than
// crashing the interpreter.
func TestDivisionByZeroRaises(t *testing.T) {
	m := entryModule(module.ConstantPool{Ints: []int32{1, 0}},
		inst(opcode.Push, 0), inst(opcode.Push, 1), inst(opcode.Div, 0), inst(opcode.Ret, 0))
	runExpectException(t, m, CodeArithDivZero)
}

// spec.md §4.6: an out-of-range array index raises CodeArrayIndexOutOfRange.
func TestArrayIndexOutOfRangeRaises(t *testing.T) {
	m := entryModule(module.ConstantPool{Ints: []int32{2, 5}},
		inst(opcode.Push, 0), // length 2
		inst(opcode.ANew, uint32(typ.CodeInt)),
		inst(opcode.Push, 1), // index 5, out of range
		inst(opcode.ALea, 0),
		inst(opcode.Ret, 0))
	runExpectException(t, m, CodeArrayIndexOutOfRange)
}

// spec.md §8: `store` at |locals|+1 signals local-var-invalid-index.
func TestStoreInvalidIndexRaises(t *testing.T) {
	m := entryModule(module.ConstantPool{Ints: []int32{7}},
		inst(opcode.Push, 0), inst(opcode.Store, 1), inst(opcode.Ret, 0))
	runExpectException(t, m, CodeLocalVarInvalidIndex)
}

// spec.md §4.1: a registered local variable cannot be popped.
func TestLocalVariableCannotBePopped(t *testing.T) {
	m := entryModule(module.ConstantPool{Ints: []int32{7}},
		inst(opcode.Push, 0), inst(opcode.Store, 0), inst(opcode.Pop, 0), inst(opcode.Ret, 0))
	runExpectException(t, m, CodeStackEmpty)
}

// spec.md §8: a call whose arity walk runs past the values the caller
// actually pushed signals stack-empty.
func TestCallArityWalkPastFrameRaises(t *testing.T) {
	m := module.NewModule("test")
	m.Constants = module.ConstantPool{Ints: []int32{1}}
	entryCode := []opcode.Instruction{
		inst(opcode.Call, 1), // f wants one argument; none was pushed
		inst(opcode.Ret, 0),
	}
	m.EntryIndex = m.DefineBytecodeFunction("entry", 0, true, module.Instructions{Code: entryCode})
	m.DefineBytecodeFunction("f", 1, true, module.Instructions{Code: []opcode.Instruction{
		inst(opcode.Push, 0), inst(opcode.Ret, 0),
	}})
	runExpectException(t, m, CodeStackEmpty)
}

// spec.md §8: `anew t k; alea idx; tload` yields the zero-initialized
// element for any in-range idx.
func TestANewElementZeroInitialized(t *testing.T) {
	m := entryModule(module.ConstantPool{Ints: []int32{3, 1}},
		inst(opcode.Push, 0), // count 3
		inst(opcode.ANew, uint32(typ.CodeInt)),
		inst(opcode.Push, 1), // index 1
		inst(opcode.ALea, 0),
		inst(opcode.TLoad, 0),
		inst(opcode.Ret, 0))
	buf, tag, ok := runModule(t, m)
	if !ok || tag != typ.CodeInt || readInt(buf) != 0 {
		t.Fatalf("fresh array element = (%v, %d, %v), want (int, 0, true)", tag, readInt(buf), ok)
	}
}

// spec.md §4.5: shifts are binary operators like any other — a shift
// count whose type differs from the shifted value raises
// stack-different-type rather than being silently accepted.
func TestShiftMixedTypeRaises(t *testing.T) {
	m := entryModule(module.ConstantPool{Ints: []int32{1}, Longs: []int64{2}},
		inst(opcode.Push, 0), // int 1
		inst(opcode.Push, 1), // long 2 as the shift count
		inst(opcode.Shl, 0),
		inst(opcode.Ret, 0))
	runExpectException(t, m, CodeStackDifferentType)
}

// swap exchanges the top two values in place.
func TestSwapExchangesTopTwo(t *testing.T) {
	m := entryModule(module.ConstantPool{Ints: []int32{1, 2}},
		inst(opcode.Push, 0), inst(opcode.Push, 1), inst(opcode.Swap, 0), inst(opcode.Ret, 0))
	buf, tag, ok := runModule(t, m)
	if !ok || tag != typ.CodeInt || readInt(buf) != 1 {
		t.Fatalf("top after swap = (%v, %d, %v), want (int, 1, true)", tag, readInt(buf), ok)
	}
}

// a JIT-eligible leaf function (load/add/sub over ints) must produce the
// same result whether or not the accelerator is wired in (spec.md §9
// "observable behavior must equal the interpreter's").
func TestJITParityWithInterpreter(t *testing.T) {
	m := module.NewModule("test")
	addFn := module.Instructions{Code: []opcode.Instruction{
		inst(opcode.Load, 0), inst(opcode.Load, 1), inst(opcode.Add, 0), inst(opcode.Ret, 0),
	}}
	fIdx := m.DefineBytecodeFunction("add", 2, true, addFn)
	entryCode := []opcode.Instruction{
		inst(opcode.Push, 0), inst(opcode.Push, 1), inst(opcode.Call, uint32(fIdx)), inst(opcode.Ret, 0),
	}
	m.Constants = module.ConstantPool{Ints: []int32{3, 4}}
	m.EntryIndex = m.DefineBytecodeFunction("entry", 0, true, module.Instructions{Code: entryCode})

	prog, err := module.Resolve([]*module.Module{m})
	if err != nil {
		t.Fatalf("module.Resolve: %v", err)
	}

	engine := jit.NewEngine()
	defer engine.Close()
	it, err := New(prog, m, Options{StackSize: 4096, YoungSize: 4096, OldSize: 4096, JIT: engine})
	if err != nil {
		t.Fatalf("interp.New: %v", err)
	}
	defer it.Close()
	if !it.Interpret() {
		t.Fatalf("Interpret: %v", it.Exception())
	}
	buf, tag, ok := it.Result()
	if !ok || tag != typ.CodeInt || readInt(buf) != 7 {
		t.Fatalf("3+4 via JIT = (%v, %d, %v), want (int, 7, true)", tag, readInt(buf), ok)
	}
}
