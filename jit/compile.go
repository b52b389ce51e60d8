package jit

import (
	"fmt"
	"unsafe"

	"svm/loader/opcode"
	"svm/module"
)

// FuncID derives a stable Engine cache key from a FunctionDef's address:
// module.Resolve never relocates a FunctionDef after a program is built,
// so its address is as good a key as an index into a table we'd
// otherwise have to thread through here.
func FuncID(fn *module.FunctionDef) uintptr { return uintptr(unsafe.Pointer(fn)) }

// Compiled is a native implementation of one bytecode function, produced
// by Compile when the function falls entirely within the narrow subset
// this JIT supports. The interpreter calls Invoke instead of dispatching
// the bytecode stream; Invoke's result is defined to be byte-identical
// to what interp.Interpreter would have produced for the same arguments
// (spec.md §1's "observable behavior must equal the interpreter's").
type Compiled struct {
	mem   executableMem
	arity int
}

// errIneligible is returned, unwrapped, whenever a function falls
// outside the subset; it is never a compile failure an embedder need
// act on — Engine.GetOrCompile callers simply keep interpreting.
var errIneligible = fmt.Errorf("jit: function is not in the compilable subset")

// Compile attempts to translate fn into native code. It only accepts
// leaf functions built from `load`, `add`, `sub` and a final `ret` over
// int-typed parameters — exactly the subset spec.md §9's design note
// carves out for the experimental accelerator. Anything else (calls,
// memory opcodes, control flow, non-int arithmetic, more parameters than
// there are argument registers) is declined.
func Compile(fn *module.FunctionDef) (*Compiled, error) {
	if fn.Kind != module.FunctionBytecode {
		return nil, errIneligible
	}
	if !fn.HasResult {
		return nil, errIneligible
	}
	if fn.Arity <= 0 || fn.Arity > len(argRegisters) {
		return nil, errIneligible
	}
	code := fn.Bytecode.Code
	if len(code) == 0 || code[len(code)-1].Op != opcode.Ret {
		return nil, errIneligible
	}

	b := &builder{}
	depth := 0
	for _, inst := range code[:len(code)-1] {
		switch inst.Op {
		case opcode.Load:
			if int(inst.Operand) >= fn.Arity {
				return nil, errIneligible
			}
			b.pushReg(argRegisters[inst.Operand])
			depth++
		case opcode.Add, opcode.Sub:
			if depth < 2 {
				return nil, errIneligible
			}
			// rhs (pushed last) pops into the rdx scratch; the lhs stays
			// on the machine stack and the result replaces it in place.
			// rax/rcx carry live arguments under ABIInternal (see
			// argRegisters), so neither is usable as scratch here.
			b.popReg(rdx)
			if inst.Op == opcode.Add {
				b.addTop32(rdx)
			} else {
				b.subTop32(rdx)
			}
			depth--
		default:
			return nil, errIneligible
		}
	}
	if depth != 1 {
		return nil, errIneligible
	}
	b.popReg(rax)
	b.ret()

	mem, err := allocExecutable(b.bytes())
	if err != nil {
		return nil, fmt.Errorf("jit: %w", err)
	}
	return &Compiled{mem: mem, arity: fn.Arity}, nil
}

// Close releases the native code page. Safe to call once.
func (c *Compiled) Close() error { return c.mem.Close() }

// Invoke calls the compiled function with the given int32 arguments,
// returning its int32 result. len(args) must equal the arity Compile
// was given; Invoke checks this itself and returns an error otherwise.
func (c *Compiled) Invoke(args []int32) (int32, error) {
	if len(args) != c.arity {
		return 0, fmt.Errorf("jit: arity mismatch: compiled for %d, called with %d", c.arity, len(args))
	}
	return callCompiled(c.mem, args)
}
