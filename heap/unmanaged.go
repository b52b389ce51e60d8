// Package heap implements the unmanaged address→size table and the
// generational managed heap with its card-table write barrier
// (spec.md §4.2, §4.3).
package heap

import (
	"fmt"

	"svm/object"
)

// Unmanaged is a plain address→size table (spec.md §4.2). Individual
// objects are small and numerous, so — unlike the stack and the
// generations' blocks — allocations here intentionally use make([]byte)
// rather than per-object mmap (see DESIGN.md).
type Unmanaged struct {
	objects map[object.Addr][]byte
}

func NewUnmanaged() *Unmanaged {
	return &Unmanaged{objects: make(map[object.Addr][]byte)}
}

// Alloc returns a zero-initialized region of the given size and records
// it keyed by its address.
func (u *Unmanaged) Alloc(size int) object.Addr {
	buf := make([]byte, size)
	addr := addrOf(buf)
	u.objects[addr] = buf
	return addr
}

// Dealloc releases the object at addr. Fails if addr is not a live
// unmanaged allocation's base address (spec.md §4.2: "fails if the
// address is not present").
func (u *Unmanaged) Dealloc(addr object.Addr) error {
	if _, ok := u.objects[addr]; !ok {
		return fmt.Errorf("heap: unmanaged address %s not present", addr)
	}
	delete(u.objects, addr)
	return nil
}

// Lookup returns the byte slice of the live unmanaged allocation whose
// base address is addr, if any.
func (u *Unmanaged) Lookup(addr object.Addr) ([]byte, bool) {
	b, ok := u.objects[addr]
	return b, ok
}

// Find returns an n-byte window starting at addr, which may fall inside
// an allocation (not just at its base) — e.g. a flea/alea result.
func (u *Unmanaged) Find(addr object.Addr, n int) ([]byte, bool) {
	for base, buf := range u.objects {
		if addr < base || int(addr-base)+n > len(buf) {
			continue
		}
		off := int(addr - base)
		return buf[off : off+n], true
	}
	return nil, false
}

// Close releases every live unmanaged allocation (spec.md §4.2: "on
// heap teardown, every live entry is released"). Since these are plain
// Go-heap slices, "release" just means forgetting the references so
// Go's own GC can reclaim them.
func (u *Unmanaged) Close() {
	u.objects = make(map[object.Addr][]byte)
}

// Len reports the number of live unmanaged allocations (test/debug use).
func (u *Unmanaged) Len() int { return len(u.objects) }
