package interp

import (
	"svm/object"
	"svm/typ"
)

// Cast-kind discriminants for execCast. toi performs a bit-truncating
// conversion (reinterpret/keep the low 32 bits — meaningful for long,
// pointer and gc-pointer sources); tosi performs a value-preserving
// numeric conversion instead (meaningful for a double source, rounding
// toward zero like a normal signed integer cast), rejects pointer and
// gc-pointer sources, and is otherwise identical to toi since truncating
// a two's-complement value's low bits doesn't depend on how the result
// is later interpreted. This "i" suffix
// placement mirrors the mul/imul, div/idiv, cmp/icmp unsigned/signed
// pairing used elsewhere in the opcode set (spec.md §4.5), documented
// further in DESIGN.md.
const (
	castToI = iota
	castToL
	castToSI
	castToD
	castToP
)

// execCast implements toi/tol/tosi/tod/top (spec.md §4.5).
func (it *Interpreter) execCast(kind int) bool {
	buf, tag, ok := it.popRaw()
	if !ok {
		return false
	}
	switch kind {
	case castToI:
		return it.castToInt(buf, tag, false)
	case castToSI:
		return it.castToInt(buf, tag, true)
	case castToL:
		return it.castToLong(buf, tag)
	case castToD:
		return it.castToDouble(buf, tag)
	case castToP:
		return it.castToPointer(buf, tag)
	default:
		return it.raise(CodeFunctionNoRet)
	}
}

func (it *Interpreter) castToInt(buf []byte, tag typ.Code, signed bool) bool {
	switch tag {
	case typ.CodeInt:
		return it.pushInt(readInt(buf))
	case typ.CodeLong:
		return it.pushInt(int32(readLong(buf)))
	case typ.CodeDouble:
		v := readDouble(buf)
		if signed {
			return it.pushInt(int32(v))
		}
		return it.pushInt(int32(uint32(int64(v))))
	case typ.CodePointer, typ.CodeGCPointer:
		if signed {
			return it.raise(CodePointerInvalidForPointer)
		}
		return it.pushInt(int32(uint32(readPointer(buf))))
	default:
		return it.raiseNonNumeric(tag)
	}
}

func (it *Interpreter) castToLong(buf []byte, tag typ.Code) bool {
	switch tag {
	case typ.CodeInt:
		return it.pushLong(int64(readInt(buf)))
	case typ.CodeLong:
		return it.pushLong(readLong(buf))
	case typ.CodeDouble:
		return it.pushLong(int64(readDouble(buf)))
	case typ.CodePointer, typ.CodeGCPointer:
		return it.pushLong(int64(readPointer(buf)))
	default:
		return it.raiseNonNumeric(tag)
	}
}

func (it *Interpreter) castToDouble(buf []byte, tag typ.Code) bool {
	switch tag {
	case typ.CodeInt:
		return it.pushDouble(float64(readInt(buf)))
	case typ.CodeLong:
		return it.pushDouble(float64(readLong(buf)))
	case typ.CodeDouble:
		return it.pushDouble(readDouble(buf))
	default:
		return it.raiseNonNumeric(tag)
	}
}

// castToPointer builds a plain (non-gc) pointer from raw address bits,
// or passes an existing pointer/gc-pointer through unchanged — an
// arbitrary int/long bit pattern never becomes gc-managed, since
// nothing backs it with a real allocation header for the collector to
// scan.
func (it *Interpreter) castToPointer(buf []byte, tag typ.Code) bool {
	switch tag {
	case typ.CodeInt:
		return it.pushPointer(object.Addr(uint32(readInt(buf))), false)
	case typ.CodeLong:
		return it.pushPointer(object.Addr(readLong(buf)), false)
	case typ.CodePointer:
		return it.pushPointer(readPointer(buf), false)
	case typ.CodeGCPointer:
		return it.pushPointer(readPointer(buf), true)
	default:
		return it.raiseNonNumeric(tag)
	}
}
