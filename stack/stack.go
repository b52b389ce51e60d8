// Package stack implements the typed evaluation stack (spec.md §4.1): a
// fixed-capacity byte buffer with a used-size cursor. Every pushed value
// ends in its type tag at the top word of its slot, so GetTopType is a
// single 8-byte read.
package stack

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"svm/object"
	"svm/typ"
)

var (
	// ErrOverflow is returned when a push would exceed capacity.
	ErrOverflow = errors.New("stack: overflow")
	// ErrEmpty is returned when a pop/peek finds nothing left to read,
	// including the case where the read would cross into a local
	// variable belonging to the current frame.
	ErrEmpty = errors.New("stack: empty")
)

// Stack is mmap-backed so every address handed out by lea/alea/flea
// (an object.Addr pointing into the stack) stays valid and stable even
// though Go's own heap may move other objects around it.
type Stack struct {
	buf  []byte
	used int
}

// New allocates a stack with the given byte capacity via an anonymous
// mmap mapping (matching heap.block's arena allocation, spec.md §9's
// "model the stack as an arena of bytes").
func New(capacity int) (*Stack, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("stack: capacity must be positive")
	}
	buf, err := unix.Mmap(-1, 0, capacity, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("stack: mmap: %w", err)
	}
	return &Stack{buf: buf}, nil
}

// Close releases the backing mapping. Safe to call once; subsequent
// calls are no-ops.
func (s *Stack) Close() error {
	if s.buf == nil {
		return nil
	}
	err := unix.Munmap(s.buf)
	s.buf = nil
	return err
}

func (s *Stack) Used() int { return s.used }
func (s *Stack) Cap() int  { return len(s.buf) }
func (s *Stack) Free() int { return len(s.buf) - s.used }

// Addr returns the real memory address corresponding to an absolute
// byte offset into the stack's backing store.
func (s *Stack) Addr(offset int) object.Addr {
	return object.Addr(addrOfSlice(s.buf)) + object.Addr(offset)
}

// Contains reports whether addr falls within the stack's live region
// [0, used).
func (s *Stack) Contains(addr object.Addr) bool {
	base := object.Addr(addrOfSlice(s.buf))
	return addr >= base && addr < base+object.Addr(s.used)
}

// OffsetOf converts a stack-resident address back to an absolute byte
// offset. Only valid when Contains(addr) is true.
func (s *Stack) OffsetOf(addr object.Addr) int {
	return int(addr - object.Addr(addrOfSlice(s.buf)))
}

// Bytes returns a slice view of the stack's storage starting at
// absolute offset off, length n. Panics on out-of-range off/n: callers
// must bounds-check against Used()/Cap() first, matching the teacher's
// "ReadPtr panics if the inferior is not readable" convention
// (internal/core) — library-internal invariant violations are bugs,
// not runtime.Errors translated through the exception machinery.
func (s *Stack) Bytes(off, n int) []byte {
	return s.buf[off : off+n]
}

// Reallocate grows or shrinks the backing mapping, preserving the live
// `used` bytes. Shrinking below `used` fails (spec.md §4.1).
func (s *Stack) Reallocate(newCap int) error {
	if newCap < s.used {
		return fmt.Errorf("stack: cannot shrink below used size (%d < %d)", newCap, s.used)
	}
	nb, err := unix.Mmap(-1, 0, newCap, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return fmt.Errorf("stack: mmap: %w", err)
	}
	copy(nb, s.buf[:s.used])
	unix.Munmap(s.buf)
	s.buf = nb
	return nil
}

// Push appends a value of the given payload+tag size; write fills the
// whole slot (payload then, as its last word, the tag — callers use
// object.WriteTag/object.InitZero/object.InitArray to do so).
func (s *Stack) Push(size int, write func(slot []byte)) error {
	if s.Free() < size {
		return ErrOverflow
	}
	slot := s.buf[s.used : s.used+size]
	write(slot)
	s.used += size
	return nil
}

// GetTopType returns the type tag at the top of the stack, or ok=false
// if the stack (measured from floor) is empty.
func (s *Stack) GetTopType(floor int) (typ.Code, bool) {
	if s.used <= floor {
		return 0, false
	}
	return object.ReadTag(s.buf[s.used-typ.WordSize : s.used]), true
}

// IsLocalVariable reports whether the slot `offsetFromTop` bytes below
// the current top belongs to a local variable of the active frame, i.e.
// whether popping/peeking that deep would reach below floor (the end
// offset of the frame's most recent local variable, or its stack-begin
// if it has none) — the same boundary Pop enforces.
func (s *Stack) IsLocalVariable(floor int, offsetFromTop int) bool {
	return s.used-offsetFromTop < floor
}

// Pop removes and returns the top `size` bytes (including their
// trailing tag). floor is the current frame's local-variable guard as
// in IsLocalVariable.
func (s *Stack) Pop(floor int, size int) ([]byte, error) {
	if s.used-size < floor {
		return nil, ErrEmpty
	}
	start := s.used - size
	out := make([]byte, size)
	copy(out, s.buf[start:s.used])
	s.used = start
	return out, nil
}

// Top returns a read-only view of the top `size` bytes without popping
// them.
func (s *Stack) Top(floor int, size int) ([]byte, error) {
	if s.used-size < floor {
		return nil, ErrEmpty
	}
	return s.buf[s.used-size : s.used], nil
}

// Truncate resets `used` to newUsed, discarding everything above it.
func (s *Stack) Truncate(newUsed int) { s.used = newUsed }

// PushBytes is a convenience Push that writes pre-built bytes verbatim.
func (s *Stack) PushBytes(data []byte) error {
	return s.Push(len(data), func(slot []byte) { copy(slot, data) })
}
