package interp

import (
	"svm/loader/opcode"
	"svm/typ"
)

func bitwiseReject(tag typ.Code) bool {
	return tag != typ.CodeInt && tag != typ.CodeLong
}

// execBitwise implements and/or/xor/shl/sal/shr/sar (spec.md §4.5): all
// operate on int/long only and, like every binary operator, require
// both operands to share type. shl and sal are identical (a left shift
// has no signed variant); shr is logical (zero-fill), sar arithmetic
// (sign-extends).
func (it *Interpreter) execBitwise(op opcode.Opcode) bool {
	rhsBuf, rhsTag, ok := it.popRaw()
	if !ok {
		return false
	}
	lhsBuf, lhsTag, ok := it.popRaw()
	if !ok {
		return false
	}
	if bitwiseReject(lhsTag) {
		return it.raiseNonNumeric(lhsTag)
	}
	if bitwiseReject(rhsTag) {
		return it.raiseNonNumeric(rhsTag)
	}
	if lhsTag != rhsTag {
		return it.raise(CodeStackDifferentType)
	}
	switch op {
	case opcode.Shl, opcode.Sal, opcode.Shr, opcode.Sar:
		return it.shift(op, lhsTag, lhsBuf, rhsBuf)
	}
	if lhsTag == typ.CodeInt {
		l, r := readInt(lhsBuf), readInt(rhsBuf)
		switch op {
		case opcode.And:
			return it.pushInt(l & r)
		case opcode.Or:
			return it.pushInt(l | r)
		case opcode.Xor:
			return it.pushInt(l ^ r)
		}
	} else {
		l, r := readLong(lhsBuf), readLong(rhsBuf)
		switch op {
		case opcode.And:
			return it.pushLong(l & r)
		case opcode.Or:
			return it.pushLong(l | r)
		case opcode.Xor:
			return it.pushLong(l ^ r)
		}
	}
	return it.raise(CodeFunctionNoRet)
}

// shift implements shl/sal/shr/sar: lhs is the value being shifted, rhs
// the shift count (same type as lhs, checked by execBitwise), masked to
// the operand's bit width.
func (it *Interpreter) shift(op opcode.Opcode, tag typ.Code, lhsBuf, rhsBuf []byte) bool {
	if tag == typ.CodeInt {
		v := readInt(lhsBuf)
		n := uint(readInt(rhsBuf)) & 31
		switch op {
		case opcode.Shl, opcode.Sal:
			return it.pushInt(int32(uint32(v) << n))
		case opcode.Shr:
			return it.pushInt(int32(uint32(v) >> n))
		case opcode.Sar:
			return it.pushInt(v >> n)
		}
	}
	v := readLong(lhsBuf)
	n := uint(readLong(rhsBuf)) & 63
	switch op {
	case opcode.Shl, opcode.Sal:
		return it.pushLong(int64(uint64(v) << n))
	case opcode.Shr:
		return it.pushLong(int64(uint64(v) >> n))
	case opcode.Sar:
		return it.pushLong(v >> n)
	}
	return it.raise(CodeFunctionNoRet)
}

// execNot implements `not`: bitwise complement of an int/long.
func (it *Interpreter) execNot() bool {
	buf, tag, ok := it.popRaw()
	if !ok {
		return false
	}
	switch tag {
	case typ.CodeInt:
		return it.pushInt(^readInt(buf))
	case typ.CodeLong:
		return it.pushLong(^readLong(buf))
	default:
		return it.raiseNonNumeric(tag)
	}
}
