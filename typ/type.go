// Package typ implements the interned type-descriptor registry: the
// fundamental types (int, long, double, pointer, gc-pointer) and the
// structure/array descriptors built from them at module-load time.
//
// Every stack slot and heap object carries, as its type tag, a word-sized
// Code rather than a raw Go pointer (mirroring the resolver's own
// GetType(code) contract in spec.md §4.4) — this keeps tag words
// trivially copyable and lets a tag be recovered generically through a
// resolver's GetType without pinning descriptors against Go's garbage
// collector.
package typ

// WordSize is the size in bytes of a type tag, a pointer payload, and
// the machine word the whole object model is built from.
const WordSize = 8

// Kind distinguishes the shape of a descriptor.
type Kind uint8

const (
	KindNone Kind = iota
	KindInt
	KindLong
	KindDouble
	KindPointer
	KindGCPointer
	KindArray
	KindStructure
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindPointer:
		return "pointer"
	case KindGCPointer:
		return "gc-pointer"
	case KindArray:
		return "array"
	case KindStructure:
		return "structure"
	default:
		return "unknown"
	}
}

// Code is the global, word-sized handle stored as an object's type tag.
// Fundamental codes are fixed; structure codes are assigned in
// declaration order starting at FundamentalCount by module.Program.
// ArrayCode is a reserved sentinel: an array-tagged slot always carries
// its own element-type Code and element count in the two words just
// before the tag, so the sentinel never needs to be looked up through
// GetType.
type Code uint64

const (
	CodeNone Code = iota
	CodeInt
	CodeLong
	CodeDouble
	CodePointer
	CodeGCPointer
)

// FundamentalCount is the exclusive upper bound of fundamental Code
// values (CodeNone=0 through CodeGCPointer=5, i.e. 6 values). Structure
// codes begin here (spec.md §4.4): a structure code must never collide
// with CodeGCPointer, the highest fundamental code.
const FundamentalCount = 6

// ArrayCode marks a slot whose value is an array; see object.ArrayHeader.
const ArrayCode Code = ^Code(0)

// FrameCode marks a slot whose value is a saved call-stack frame record
// (spec.md §3 "Call-stack frame"), pushed onto the evaluation stack by
// `call` and popped by `ret`. Its fixed layout is defined by
// interp.frameRecordSize/interp.writeFrameRecord.
const FrameCode Code = ^Code(1)

// descriptor is the immutable, process-lifetime backing data for a Type.
type descriptor struct {
	kind Kind
	code Code
	name string
	size int // payload + trailing tag word

	structure *Structure // KindStructure only

	elem  Type  // KindArray only
	count int64 // KindArray only
}

// Type is a handle to an interned descriptor. The zero Type is invalid;
// check IsValid before use.
type Type struct {
	d *descriptor
}

func (t Type) IsValid() bool         { return t.d != nil }
func (t Type) Kind() Kind            { return t.d.kind }
func (t Type) Code() Code            { return t.d.code }
func (t Type) Name() string          { return t.d.name }
func (t Type) Size() int             { return t.d.size }
func (t Type) PayloadSize() int      { return t.d.size - WordSize }
func (t Type) Structure() *Structure { return t.d.structure }

func (t Type) IsFundamental() bool {
	switch t.Kind() {
	case KindInt, KindLong, KindDouble, KindPointer, KindGCPointer:
		return true
	default:
		return false
	}
}
func (t Type) IsPointer() bool   { return t.Kind() == KindPointer || t.Kind() == KindGCPointer }
func (t Type) IsStructure() bool { return t.Kind() == KindStructure }
func (t Type) IsArray() bool     { return t.Kind() == KindArray }
func (t Type) Elem() Type        { return t.d.elem }
func (t Type) Count() int64      { return t.d.count }

// Equal compares descriptor identity, the "address identity" spec.md §3
// assigns type descriptors (here, Code identity serves the same role).
func (t Type) Equal(o Type) bool { return t.d == o.d }

var (
	Int       = newFundamental(KindInt, CodeInt, "int", 4+WordSize)
	Long      = newFundamental(KindLong, CodeLong, "long", 8+WordSize)
	Double    = newFundamental(KindDouble, CodeDouble, "double", 8+WordSize)
	Pointer   = newFundamental(KindPointer, CodePointer, "pointer", WordSize+WordSize)
	GCPointer = newFundamental(KindGCPointer, CodeGCPointer, "gc-pointer", WordSize+WordSize)
)

func newFundamental(k Kind, c Code, name string, size int) Type {
	return Type{&descriptor{kind: k, code: c, name: name, size: size}}
}

// Fundamental looks up one of the five fixed-code fundamental types.
func Fundamental(c Code) (Type, bool) {
	switch c {
	case CodeInt:
		return Int, true
	case CodeLong:
		return Long, true
	case CodeDouble:
		return Double, true
	case CodePointer:
		return Pointer, true
	case CodeGCPointer:
		return GCPointer, true
	default:
		return Type{}, false
	}
}

// NewStructure builds a Structure's layout from its field types in
// declaration order, per spec.md §3 invariant 4: fields are laid out
// back-to-back (each field's own Size already accounts for its trailing
// tag, so no inter-field padding is needed) and the total is padded to
// a multiple of WordSize before the structure's own trailing tag is
// added. code is the structure's global type code, assigned by the
// resolver (module.Program), and name is used only for diagnostics.
func NewStructure(name string, code Code, fieldTypes []Type) *Structure {
	s := &Structure{Fields: make([]Field, len(fieldTypes))}
	offset := 0
	for i, ft := range fieldTypes {
		s.Fields[i] = Field{Type: ft, Offset: offset}
		offset += ft.Size()
	}
	padded := offset
	if rem := padded % WordSize; rem != 0 {
		padded += WordSize - rem
	}
	s.payloadSize = padded
	t := newFundamental(KindStructure, code, name, padded+WordSize)
	t.d.structure = s
	s.Type = t
	return s
}

// Field is one member of a Structure, at a byte offset from the
// structure payload's start.
type Field struct {
	Type   Type
	Offset int
}

// Structure is the load-time-computed layout of a structure type.
type Structure struct {
	Type        Type
	Fields      []Field
	payloadSize int
}

// PayloadSize is the padded size of the fields, excluding the
// structure's own trailing tag.
func (s *Structure) PayloadSize() int { return s.payloadSize }

// NewArray returns a transient (non-interned) array Type for the given
// element type and count. Count must be non-zero (spec.md §3 invariant
// 5). Array types are never assigned a Code of their own: every
// array-tagged slot uses the reserved ArrayCode and carries its element
// type's Code plus its count as the two header words that immediately
// precede the tag (see object.ArrayHeader).
func NewArray(elem Type, count int64) Type {
	header := 2 * WordSize // element-type code + count
	d := &descriptor{
		kind:  KindArray,
		code:  ArrayCode,
		name:  "array",
		size:  header + WordSize + int(count)*elem.Size(),
		elem:  elem,
		count: count,
	}
	return Type{d}
}

// ArrayElementSize returns the per-element footprint (including each
// element's own tag) for an array of the given element type.
func ArrayElementSize(elem Type) int { return elem.Size() }
