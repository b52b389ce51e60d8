package heap

import (
	"unsafe"

	"svm/object"
)

func addrOf(b []byte) object.Addr {
	if len(b) == 0 {
		return object.Null
	}
	return object.Addr(uintptr(unsafe.Pointer(&b[0])))
}
