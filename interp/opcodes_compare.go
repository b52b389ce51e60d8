package interp

import "svm/typ"

func compareInt64(l, r int64) int32 {
	switch {
	case l > r:
		return 1
	case l < r:
		return -1
	default:
		return 0
	}
}

func compareUint64(l, r uint64) int32 {
	switch {
	case l > r:
		return 1
	case l < r:
		return -1
	default:
		return 0
	}
}

// execCompare implements `cmp`/`icmp` (spec.md §4.5): pop two
// same-typed values and push an int whose bit-pattern is 1, 0 or -1 for
// greater/equal/less. icmp compares ints/longs as signed; cmp compares
// them as unsigned bit patterns; both compare doubles by value and
// pointers by raw address.
func (it *Interpreter) execCompare(signed bool) bool {
	rhsBuf, rhsTag, ok := it.popRaw()
	if !ok {
		return false
	}
	lhsBuf, lhsTag, ok := it.popRaw()
	if !ok {
		return false
	}
	if lhsTag != rhsTag {
		return it.raise(CodeStackDifferentType)
	}
	var result int32
	switch lhsTag {
	case typ.CodeInt:
		l, r := readInt(lhsBuf), readInt(rhsBuf)
		if signed {
			result = compareInt64(int64(l), int64(r))
		} else {
			result = compareUint64(uint64(uint32(l)), uint64(uint32(r)))
		}
	case typ.CodeLong:
		l, r := readLong(lhsBuf), readLong(rhsBuf)
		if signed {
			result = compareInt64(l, r)
		} else {
			result = compareUint64(uint64(l), uint64(r))
		}
	case typ.CodeDouble:
		l, r := readDouble(lhsBuf), readDouble(rhsBuf)
		switch {
		case l > r:
			result = 1
		case l < r:
			result = -1
		default:
			result = 0
		}
	case typ.CodePointer, typ.CodeGCPointer:
		l, r := readPointer(lhsBuf), readPointer(rhsBuf)
		result = compareUint64(uint64(l), uint64(r))
	default:
		return it.raiseNonNumeric(lhsTag)
	}
	return it.pushInt(result)
}
