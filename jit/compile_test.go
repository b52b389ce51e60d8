package jit

import (
	"testing"

	"svm/loader/opcode"
	"svm/module"
)

func bytecodeFn(arity int, hasResult bool, code ...opcode.Instruction) *module.FunctionDef {
	return &module.FunctionDef{
		Kind:      module.FunctionBytecode,
		Arity:     arity,
		HasResult: hasResult,
		Bytecode:  module.Instructions{Code: code},
	}
}

func inst(op opcode.Opcode, operand uint32) opcode.Instruction {
	return opcode.Instruction{Op: op, Operand: operand}
}

// add(a, b) = a + b, arity 2, as `load 0; load 1; add; ret`.
func TestCompileAcceptsAddSub(t *testing.T) {
	fn := bytecodeFn(2, true,
		inst(opcode.Load, 0), inst(opcode.Load, 1), inst(opcode.Add, 0), inst(opcode.Ret, 0))
	c, err := Compile(fn)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer c.Close()
	if c.arity != 2 {
		t.Fatalf("arity = %d, want 2", c.arity)
	}

	res, err := c.Invoke([]int32{3, 4})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res != 7 {
		t.Fatalf("3+4 = %d, want 7", res)
	}
}

// f(a, b, c) = a - b - c, arity 3, as `load 0; load 1; sub; load 2; sub; ret`.
func TestCompileChainedSub(t *testing.T) {
	fn := bytecodeFn(3, true,
		inst(opcode.Load, 0), inst(opcode.Load, 1), inst(opcode.Sub, 0),
		inst(opcode.Load, 2), inst(opcode.Sub, 0), inst(opcode.Ret, 0))
	c, err := Compile(fn)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer c.Close()

	res, err := c.Invoke([]int32{10, 3, 2})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res != 5 {
		t.Fatalf("10-3-2 = %d, want 5", res)
	}
}

func TestCompileRejectsNonLeaf(t *testing.T) {
	fn := bytecodeFn(1, true, inst(opcode.Load, 0), inst(opcode.Call, 0), inst(opcode.Ret, 0))
	if _, err := Compile(fn); err == nil {
		t.Fatalf("Compile: expected rejection of a function containing call")
	}
}

func TestCompileRejectsNoResult(t *testing.T) {
	fn := bytecodeFn(1, false, inst(opcode.Load, 0), inst(opcode.Ret, 0))
	if _, err := Compile(fn); err == nil {
		t.Fatalf("Compile: expected rejection of a function with no result")
	}
}

func TestCompileRejectsMissingTrailingRet(t *testing.T) {
	fn := bytecodeFn(1, true, inst(opcode.Load, 0), inst(opcode.Pop, 0))
	if _, err := Compile(fn); err == nil {
		t.Fatalf("Compile: expected rejection of a function not ending in ret")
	}
}

func TestCompileRejectsTooManyArgs(t *testing.T) {
	code := make([]opcode.Instruction, 0, 8)
	for i := 0; i < 7; i++ {
		code = append(code, inst(opcode.Load, uint32(i)))
	}
	for i := 0; i < 6; i++ {
		code = append(code, inst(opcode.Add, 0))
	}
	code = append(code, inst(opcode.Ret, 0))
	fn := bytecodeFn(7, true, code...)
	if _, err := Compile(fn); err == nil {
		t.Fatalf("Compile: expected rejection of an arity-7 function (no 7th arg register)")
	}
}

func TestCompileRejectsVirtual(t *testing.T) {
	fn := &module.FunctionDef{Kind: module.FunctionVirtual, Arity: 1, HasResult: true}
	if _, err := Compile(fn); err == nil {
		t.Fatalf("Compile: expected rejection of a virtual function")
	}
}

func TestCompileRejectsUnbalancedStack(t *testing.T) {
	// load 0; add -- underflows the virtual operand stack.
	fn := bytecodeFn(1, true, inst(opcode.Load, 0), inst(opcode.Add, 0), inst(opcode.Ret, 0))
	if _, err := Compile(fn); err == nil {
		t.Fatalf("Compile: expected rejection of an unbalanced operand stack")
	}
}
