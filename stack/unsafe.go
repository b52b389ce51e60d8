package stack

import "unsafe"

// addrOfSlice returns the address of a non-empty slice's first byte.
// mmap-backed buffers are never moved by the Go runtime, so the
// resulting address stays valid for the buffer's lifetime.
func addrOfSlice(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
