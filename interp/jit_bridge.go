package interp

import (
	"svm/jit"
	"svm/module"
	"svm/typ"
)

// tryNativeCall attempts to satisfy a `call` entirely through a
// jit.Compiled function, bypassing bytecode dispatch for it. done=false
// means the native path doesn't apply (wrong shape, not all-int
// arguments, or the function declined compilation) and execCall should
// fall through to the normal interpreted call; the stack is left
// untouched in that case. done=true means the call has been fully
// resolved — ok reports whether it succeeded or raised an exception.
//
// Net effect must be indistinguishable from interpreting the callee and
// immediately returning its result (spec.md §9 "observable behavior
// must equal the interpreter's"): pop exactly `arity` int arguments,
// push one int result, resume at resumeIP. A real bytecode call also
// pushes and pops a frame record and local-variable entries, but none
// of that is observable to the caller once the callee returns, so the
// native path never manufactures it.
func (it *Interpreter) tryNativeCall(slot module.FunctionSlot, resumeIP int) (done bool, ok bool) {
	args, aok := it.peekIntArgs(slot.Def.Arity)
	if !aok {
		return false, false
	}
	compiled, cok := it.jitEngine.GetOrCompile(jit.FuncID(slot.Def), slot.Def)
	if !cok {
		return false, false
	}
	result, err := compiled.Invoke(args)
	if err != nil {
		return false, false
	}
	for i := 0; i < len(args); i++ {
		if _, _, pok := it.popRaw(); !pok {
			return true, false
		}
	}
	if !it.pushInt(result) {
		return true, false
	}
	it.ip = resumeIP
	return true, true
}

// peekIntArgs reads the top `arity` stack slots (without popping) as
// int32 values, in left-to-right parameter order, only if every one of
// them is int-typed and the stack actually holds that many values above
// the active frame's local-variable floor.
func (it *Interpreter) peekIntArgs(arity int) ([]int32, bool) {
	if arity <= 0 {
		return nil, false
	}
	end := it.stk.Used()
	vals := make([]int32, arity)
	for i := arity - 1; i >= 0; i-- {
		size, tag, ok, err := it.sizeEndingAt(end)
		if err != nil || !ok || tag != typ.CodeInt || size != typ.Int.Size() {
			return nil, false
		}
		if end-size < it.fr.localFloor {
			return nil, false
		}
		vals[i] = readInt(it.stk.Bytes(end-size, size))
		end -= size
	}
	return vals, true
}
