package heap

import (
	"fmt"

	"golang.org/x/sys/unix"

	"svm/object"
)

// block is a fixed-size byte arena with a bump cursor (spec.md §4.3).
// Backed by an anonymous mmap mapping so addresses handed out to the
// interpreter (gcnew/agcnew pointers) are stable real addresses, same
// reasoning as stack.Stack.
type block struct {
	buf       []byte
	used      int
	oversized bool
}

func newBlock(size int, oversized bool) (*block, error) {
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("heap: mmap block: %w", err)
	}
	return &block{buf: buf, oversized: oversized}, nil
}

func (b *block) free() int { return len(b.buf) - b.used }

func (b *block) base() object.Addr { return addrOf(b.buf) }

func (b *block) contains(addr object.Addr) bool {
	base := b.base()
	return addr >= base && addr < base+object.Addr(len(b.buf))
}

// bump allocates n bytes and returns the address of the first byte,
// or ok=false if the block lacks free space.
func (b *block) bump(n int) (object.Addr, bool) {
	if b.free() < n {
		return 0, false
	}
	addr := b.base() + object.Addr(b.used)
	b.used += n
	return addr, true
}

func (b *block) bytesAt(addr object.Addr, n int) []byte {
	off := int(addr - b.base())
	return b.buf[off : off+n]
}

func (b *block) close() {
	unix.Munmap(b.buf)
}
