// Package object implements the in-place value layout shared by the
// typed stack and both heaps: every object slot carries its type tag
// as the last machine word, payload bytes preceding it (spec.md §3).
//
// Structures and arrays are laid out field-by-field / element-by-element
// the same way: each member is itself a well-formed object, ending in
// its own trailing tag, so nested reads never need a special case.
package object

import (
	"encoding/binary"
	"fmt"

	"svm/typ"
)

// Addr is a real memory address: the stack's and every heap generation's
// backing arenas are anonymous mmap'd pages (see stack.Stack, heap.block),
// so pointers manufactured by lea/alea/flea/new/gcnew are genuine,
// stable addresses rather than (arena, offset) handles that would need
// translation on every dereference.
type Addr uintptr

const Null Addr = 0

func (a Addr) String() string { return fmt.Sprintf("0x%x", uintptr(a)) }

// WriteAddr/ReadAddr encode a pointer payload (word-sized, little-endian
// per spec.md §6 open question 3).
func WriteAddr(buf []byte, a Addr) { binary.LittleEndian.PutUint64(buf, uint64(a)) }
func ReadAddr(buf []byte) Addr     { return Addr(binary.LittleEndian.Uint64(buf)) }

// WriteTag/ReadTag encode/decode the type-tag word.
func WriteTag(buf []byte, code typ.Code) { binary.LittleEndian.PutUint64(buf, uint64(code)) }
func ReadTag(buf []byte) typ.Code        { return typ.Code(binary.LittleEndian.Uint64(buf)) }

// Header precedes every managed-heap object (spec.md §3 "managed-heap
// header"). HeaderSize is word-aligned so the object payload that
// follows keeps the same alignment guarantees as everything else.
type Header struct {
	Size int64
	Age  uint8
}

const HeaderSize = 16 // int64 size + uint8 age, padded to 2 words

func WriteHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.Size))
	buf[8] = h.Age
}

func ReadHeader(buf []byte) Header {
	return Header{
		Size: int64(binary.LittleEndian.Uint64(buf[0:8])),
		Age:  buf[8],
	}
}

// Resolver looks up a type by its global Code. module.Program implements
// this; it is the only thing object needs from the resolver layer.
type Resolver interface {
	GetType(code typ.Code) (typ.Type, bool)
}

// TypeOf resolves a type tag into a Type, consulting res for
// non-fundamental codes. It does not handle typ.ArrayCode: array objects are
// self-describing only together with their header words, see SizeAt.
func TypeOf(tag typ.Code, res Resolver) (typ.Type, bool) {
	if t, ok := typ.Fundamental(tag); ok {
		return t, true
	}
	if res != nil {
		return res.GetType(tag)
	}
	return typ.Type{}, false
}

// ArrayHeader is the element-type/count pair immediately preceding an
// array object's trailing typ.ArrayCode tag. Physical layout, lowest to
// highest address:
//
//	[ element_0 ][ element_1 ] ... [ element_n-1 ][ elemCode ][ count ][ tag=ArrayCode ]
//
// Putting the header directly below the tag (rather than above the
// elements, as spec.md's prose header-then-elements description reads
// logically) keeps the "object identified by the address of its
// trailing tag" rule cheap: SizeAt needs no prior knowledge of the
// element count to find the header.
type ArrayHeader struct {
	ElemCode typ.Code
	Count    int64
}

const arrayHeaderSize = 2 * typ.WordSize

func WriteArrayHeader(buf []byte, h ArrayHeader) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.ElemCode))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Count))
}

func ReadArrayHeader(buf []byte) ArrayHeader {
	return ArrayHeader{
		ElemCode: typ.Code(binary.LittleEndian.Uint64(buf[0:8])),
		Count:    int64(binary.LittleEndian.Uint64(buf[8:16])),
	}
}

// ElemSize resolves the per-element footprint (including the element's
// own trailing tag) of an array element type code.
func ElemSize(code typ.Code, res Resolver) (int, error) {
	t, ok := TypeOf(code, res)
	if !ok {
		return 0, fmt.Errorf("object: unresolvable array element type code %d", code)
	}
	return t.Size(), nil
}

// SizeAt returns the total byte size (payload + trailing tag) of the
// object whose trailing tag occupies buf[len(buf)-8:len(buf)], along
// with its resolved Type where one exists (arrays have no interned
// Type; ok is still true and Type is the zero value).
func SizeAt(buf []byte, res Resolver) (size int, t typ.Type, ok bool, err error) {
	if len(buf) < typ.WordSize {
		return 0, typ.Type{}, false, fmt.Errorf("object: buffer too small to hold a tag")
	}
	tagOff := len(buf) - typ.WordSize
	tag := ReadTag(buf[tagOff:])
	if tag == typ.ArrayCode {
		if tagOff < arrayHeaderSize {
			return 0, typ.Type{}, false, fmt.Errorf("object: buffer too small to hold an array header")
		}
		hdr := ReadArrayHeader(buf[tagOff-arrayHeaderSize : tagOff])
		es, err := ElemSize(hdr.ElemCode, res)
		if err != nil {
			return 0, typ.Type{}, false, err
		}
		total := arrayHeaderSize + typ.WordSize + int(hdr.Count)*es
		return total, typ.Type{}, true, nil
	}
	rt, ok := TypeOf(tag, res)
	if !ok {
		return 0, typ.Type{}, false, fmt.Errorf("object: unresolvable type code %d", tag)
	}
	return rt.Size(), rt, true, nil
}

// InitZero zero-initializes the payload of t at buf (whose length must
// equal t.Size()) and writes every trailing tag: t's own, and — for a
// structure — each field's, recursively. Arrays are initialized with
// InitArray instead, since their count is a runtime value.
func InitZero(buf []byte, t typ.Type) {
	for i := range buf {
		buf[i] = 0
	}
	WriteTag(buf[len(buf)-typ.WordSize:], t.Code())
	if t.IsStructure() {
		s := t.Structure()
		for _, f := range s.Fields {
			start := f.Offset
			InitZero(buf[start:start+f.Type.Size()], f.Type)
		}
	}
}

// InitArray initializes an array object's header, then zero-initializes
// every element of elem at buf (whose length must equal
// arrayHeaderSize + typ.WordSize + count*elem.Size()).
func InitArray(buf []byte, elem typ.Type, count int64) {
	tagOff := len(buf) - typ.WordSize
	WriteTag(buf[tagOff:], typ.ArrayCode)
	WriteArrayHeader(buf[tagOff-arrayHeaderSize:tagOff], ArrayHeader{ElemCode: elem.Code(), Count: count})
	es := elem.Size()
	for i := int64(0); i < count; i++ {
		start := int(i) * es
		InitZero(buf[start:start+es], elem)
	}
}

// ArrayElementsStart returns the byte offset within buf (an array
// object's full-size buffer) at which the first element begins.
func ArrayElementsStart(totalSize int) int {
	return 0
}

// ArrayElementOffset returns the byte offset of element i (0-based)
// within an array object's buffer, given the per-element size.
func ArrayElementOffset(index int, elemSize int) int {
	return index * elemSize
}
