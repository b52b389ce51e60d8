// Package virtual implements the host-facing handle types spec.md §4.7
// describes: VirtualObject, a type-safe view over a stack slot or heap
// object, and VirtualContext, what a host-implemented ("virtual")
// function receives when the interpreter calls it.
package virtual

import (
	"encoding/binary"
	"fmt"
	"math"

	"svm/object"
	"svm/typ"
)

// kind distinguishes the three shapes of Object spec.md §4.7 calls a
// "handle variant": a value this process owns outright, a reference
// into live stack memory, or a reference into live heap memory. Both
// reference shapes share the same representation (a byte slice backed
// by stable mmap'd memory plus its address) — they're kept as separate
// named cases only because spec.md's own wording lists them separately
// and because an ownedPrimitive cannot be written back to any address.
type kind int

const (
	kindOwned kind = iota
	kindStackRef
	kindHeapRef
)

// Object is a type-safe handle over a value, used by host-implemented
// virtual functions (spec.md §4.7).
type Object struct {
	k     kind
	t     typ.Type
	bytes []byte // t.Size() bytes: payload then trailing tag
	addr  object.Addr
	res   object.Resolver
}

func newOwned(t typ.Type, bytes []byte, res object.Resolver) Object {
	return Object{k: kindOwned, t: t, bytes: bytes, res: res}
}

func newStackRef(t typ.Type, bytes []byte, addr object.Addr, res object.Resolver) Object {
	return Object{k: kindStackRef, t: t, bytes: bytes, addr: addr, res: res}
}

func newHeapRef(t typ.Type, bytes []byte, addr object.Addr, res object.Resolver) Object {
	return Object{k: kindHeapRef, t: t, bytes: bytes, addr: addr, res: res}
}

// NewParam builds the Object view over a call argument living on the
// evaluation stack, for interp to hand to NewContext ahead of invoking a
// virtual function (spec.md §4.7 "parameter access").
func NewParam(t typ.Type, bytes []byte, addr object.Addr, res object.Resolver) Object {
	return newStackRef(t, bytes, addr, res)
}

func (o Object) Type() typ.Type { return o.t }
func (o Object) Kind() typ.Kind { return o.t.Kind() }
func (o Object) IsReference() bool {
	return o.k == kindStackRef || o.k == kindHeapRef
}
func (o Object) Address() (object.Addr, bool) {
	if !o.IsReference() {
		return 0, false
	}
	return o.addr, true
}

var errWrongKind = fmt.Errorf("virtual: wrong kind for operation")

func (o Object) payload() []byte { return o.bytes[:len(o.bytes)-typ.WordSize] }

func (o Object) Int() (int32, error) {
	if o.t.Kind() != typ.KindInt {
		return 0, errWrongKind
	}
	return int32(binary.LittleEndian.Uint32(o.payload())), nil
}

func (o Object) Long() (int64, error) {
	if o.t.Kind() != typ.KindLong {
		return 0, errWrongKind
	}
	return int64(binary.LittleEndian.Uint64(o.payload())), nil
}

func (o Object) Double() (float64, error) {
	if o.t.Kind() != typ.KindDouble {
		return 0, errWrongKind
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(o.payload())), nil
}

func (o Object) Pointer() (object.Addr, error) {
	if !o.t.IsPointer() {
		return 0, errWrongKind
	}
	return object.ReadAddr(o.payload()), nil
}

func (o Object) IsNull() bool {
	if !o.t.IsPointer() {
		return false
	}
	p, _ := o.Pointer()
	return p == object.Null
}

// SetInt/SetLong/SetDouble assign a new payload to a reference Object
// (spec.md §4.7 "assignment that copies payload"); owned objects may
// also be mutated in place since their backing bytes are private.
func (o Object) SetInt(v int32) error {
	if o.t.Kind() != typ.KindInt {
		return errWrongKind
	}
	binary.LittleEndian.PutUint32(o.payload(), uint32(v))
	return nil
}

func (o Object) SetLong(v int64) error {
	if o.t.Kind() != typ.KindLong {
		return errWrongKind
	}
	binary.LittleEndian.PutUint64(o.payload(), uint64(v))
	return nil
}

func (o Object) SetDouble(v float64) error {
	if o.t.Kind() != typ.KindDouble {
		return errWrongKind
	}
	binary.LittleEndian.PutUint64(o.payload(), math.Float64bits(v))
	return nil
}

// Field navigates to a structure field by index (spec.md §4.7 "field
// navigation").
func (o Object) Field(index int) (Object, error) {
	if !o.t.IsStructure() {
		return Object{}, fmt.Errorf("virtual: Field on non-structure type %s", o.t.Name())
	}
	fields := o.t.Structure().Fields
	if index < 0 || index >= len(fields) {
		return Object{}, fmt.Errorf("virtual: field index %d out of range", index)
	}
	f := fields[index]
	sub := o.bytes[f.Offset : f.Offset+f.Type.Size()]
	switch o.k {
	case kindStackRef, kindHeapRef:
		return Object{k: o.k, t: f.Type, bytes: sub, addr: o.addr + object.Addr(f.Offset), res: o.res}, nil
	default:
		return newOwned(f.Type, sub, o.res), nil
	}
}

// elementLayout reads this array object's element type/count from its
// header (physical layout documented in object.ArrayHeader).
func (o Object) elementLayout() (typ.Type, int64, int, error) {
	tagOff := len(o.bytes) - typ.WordSize
	if tagOff < 16 || object.ReadTag(o.bytes[tagOff:]) != typ.ArrayCode {
		return typ.Type{}, 0, 0, fmt.Errorf("virtual: Index on non-array type")
	}
	hdr := object.ReadArrayHeader(o.bytes[tagOff-16 : tagOff])
	elemType, ok := object.TypeOf(hdr.ElemCode, o.res)
	if !ok {
		return typ.Type{}, 0, 0, fmt.Errorf("virtual: unresolvable array element type")
	}
	return elemType, hdr.Count, elemType.Size(), nil
}

// Index navigates to an array element (spec.md §4.7 "index operator").
func (o Object) Index(i int64) (Object, error) {
	elemType, count, elemSize, err := o.elementLayout()
	if err != nil {
		return Object{}, err
	}
	if i < 0 || i >= count {
		return Object{}, fmt.Errorf("virtual: array index %d out of range [0,%d)", i, count)
	}
	start := int(i) * elemSize
	sub := o.bytes[start : start+elemSize]
	switch o.k {
	case kindStackRef, kindHeapRef:
		return Object{k: o.k, t: elemType, bytes: sub, addr: o.addr + object.Addr(start), res: o.res}, nil
	default:
		return newOwned(elemType, sub, o.res), nil
	}
}

func (o Object) Length() (int64, error) {
	_, count, _, err := o.elementLayout()
	return count, err
}
