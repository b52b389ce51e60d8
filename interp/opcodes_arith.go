package interp

import (
	"encoding/binary"
	"math"

	"svm/loader/opcode"
	"svm/typ"
)

// numericReject reports whether tag is NOT one of the three fundamental
// numeric kinds arithmetic operates over.
func numericReject(tag typ.Code) bool {
	switch tag {
	case typ.CodeInt, typ.CodeLong, typ.CodeDouble:
		return false
	}
	return true
}

// raiseNonNumeric raises the kind-specific code for a value that was
// rejected by an arithmetic/bitwise/compare opcode expecting a number
// (spec.md §4.5 "pointers, structures and arrays are rejected with
// kind-specific error codes").
func (it *Interpreter) raiseNonNumeric(tag typ.Code) bool {
	switch tag {
	case typ.CodePointer, typ.CodeGCPointer:
		return it.raise(CodePointerInvalidForPointer)
	case typ.ArrayCode:
		return it.raise(CodeArrayInvalidForArray)
	default:
		return it.raise(CodeStructureInvalidForStructure)
	}
}

// execBinaryArith implements add/sub/mul/imul/div/idiv/mod/imod
// (spec.md §4.5): both operands must share a fundamental numeric type;
// the i-prefixed variants sign-extend the stored bits before operating,
// so they only differ from their plain counterparts on mul/div/mod
// (add/sub wrap identically either way). mod on double is IEEE
// remainder (math.Mod).
func (it *Interpreter) execBinaryArith(op opcode.Opcode) bool {
	rhsBuf, rhsTag, ok := it.popRaw()
	if !ok {
		return false
	}
	lhsBuf, lhsTag, ok := it.popRaw()
	if !ok {
		return false
	}
	if numericReject(lhsTag) {
		return it.raiseNonNumeric(lhsTag)
	}
	if numericReject(rhsTag) {
		return it.raiseNonNumeric(rhsTag)
	}
	if lhsTag != rhsTag {
		return it.raise(CodeStackDifferentType)
	}
	signed := op == opcode.IMul || op == opcode.IDiv || op == opcode.IMod
	switch lhsTag {
	case typ.CodeInt:
		return it.binaryInt(op, signed, readInt(lhsBuf), readInt(rhsBuf))
	case typ.CodeLong:
		return it.binaryLong(op, signed, readLong(lhsBuf), readLong(rhsBuf))
	default:
		return it.binaryDouble(op, readDouble(lhsBuf), readDouble(rhsBuf))
	}
}

func (it *Interpreter) binaryInt(op opcode.Opcode, signed bool, l, r int32) bool {
	switch op {
	case opcode.Add:
		return it.pushInt(l + r)
	case opcode.Sub:
		return it.pushInt(l - r)
	case opcode.Mul, opcode.IMul:
		if signed {
			return it.pushInt(l * r)
		}
		return it.pushInt(int32(uint32(l) * uint32(r)))
	case opcode.Div, opcode.IDiv:
		if r == 0 {
			return it.raise(CodeArithDivZero)
		}
		if signed {
			return it.pushInt(l / r)
		}
		return it.pushInt(int32(uint32(l) / uint32(r)))
	case opcode.Mod, opcode.IMod:
		if r == 0 {
			return it.raise(CodeArithDivZero)
		}
		if signed {
			return it.pushInt(l % r)
		}
		return it.pushInt(int32(uint32(l) % uint32(r)))
	default:
		return it.raise(CodeFunctionNoRet)
	}
}

func (it *Interpreter) binaryLong(op opcode.Opcode, signed bool, l, r int64) bool {
	switch op {
	case opcode.Add:
		return it.pushLong(l + r)
	case opcode.Sub:
		return it.pushLong(l - r)
	case opcode.Mul, opcode.IMul:
		if signed {
			return it.pushLong(l * r)
		}
		return it.pushLong(int64(uint64(l) * uint64(r)))
	case opcode.Div, opcode.IDiv:
		if r == 0 {
			return it.raise(CodeArithDivZero)
		}
		if signed {
			return it.pushLong(l / r)
		}
		return it.pushLong(int64(uint64(l) / uint64(r)))
	case opcode.Mod, opcode.IMod:
		if r == 0 {
			return it.raise(CodeArithDivZero)
		}
		if signed {
			return it.pushLong(l % r)
		}
		return it.pushLong(int64(uint64(l) % uint64(r)))
	default:
		return it.raise(CodeFunctionNoRet)
	}
}

func (it *Interpreter) binaryDouble(op opcode.Opcode, l, r float64) bool {
	switch op {
	case opcode.Add:
		return it.pushDouble(l + r)
	case opcode.Sub:
		return it.pushDouble(l - r)
	case opcode.Mul, opcode.IMul:
		return it.pushDouble(l * r)
	case opcode.Div, opcode.IDiv:
		return it.pushDouble(l / r)
	case opcode.Mod, opcode.IMod:
		return it.pushDouble(math.Mod(l, r))
	default:
		return it.raise(CodeFunctionNoRet)
	}
}

// execNeg implements `neg`: arithmetic negation of an int/long/double.
func (it *Interpreter) execNeg() bool {
	buf, tag, ok := it.popRaw()
	if !ok {
		return false
	}
	switch tag {
	case typ.CodeInt:
		return it.pushInt(-readInt(buf))
	case typ.CodeLong:
		return it.pushLong(-readLong(buf))
	case typ.CodeDouble:
		return it.pushDouble(-readDouble(buf))
	default:
		return it.raiseNonNumeric(tag)
	}
}

// execIncDec implements `inc i`/`dec i`: add delta (+1/-1) to local
// variable i's value in place, without touching the operand stack. i is
// relative to the active frame's own locals, as with load/store/lea.
func (it *Interpreter) execIncDec(i uint32, delta int64) bool {
	end, ok := it.localEnd(it.fr.varBegin + int(i))
	if !ok {
		return it.raise(CodeLocalVarOutOfRange)
	}
	size, tag, sok, err := it.sizeEndingAt(end)
	if err != nil || !sok {
		return it.raise(CodeLocalVarOutOfRange)
	}
	dst := it.stk.Bytes(end-size, size)
	switch tag {
	case typ.CodeInt:
		binary.LittleEndian.PutUint32(dst[0:4], uint32(readInt(dst)+int32(delta)))
	case typ.CodeLong:
		binary.LittleEndian.PutUint64(dst[0:8], uint64(readLong(dst)+delta))
	default:
		return it.raiseNonNumeric(tag)
	}
	return true
}
