// Package opcode defines the instruction set's wire-level shape: the
// Opcode enumeration and the decoded Instruction triple
// (opcode, optional operand, offset) from spec.md §4.5. It has no
// dependency on module/loader/interp so every other package can import
// it without a cycle.
package opcode

// Opcode identifies one of the ~40 instructions spec.md §4.5 groups
// into stack, arithmetic, bitwise, compare, control and cast opcodes.
type Opcode uint8

const (
	Nop Opcode = iota

	// stack
	Push
	Pop
	Load
	Store
	Lea
	Flea
	TLoad
	TStore
	Copy
	Swap
	APush
	ANew
	AGCNew
	ALea
	Count
	Null
	New
	Delete
	GCNull
	GCNew

	// arithmetic
	Add
	Sub
	Mul
	IMul
	Div
	IDiv
	Mod
	IMod
	Neg
	Inc
	Dec

	// bitwise
	And
	Or
	Xor
	Not
	Shl
	Sal
	Shr
	Sar

	// compare
	Cmp
	ICmp

	// control
	Jmp
	Je
	Jne
	Ja
	Jae
	Jb
	Jbe
	Call
	Ret

	// casts
	ToI
	ToL
	ToSI
	ToD
	ToP
)

// HasOperand reports whether an opcode carries a 32-bit operand on the
// wire (spec.md §6 "only when the opcode is in the operand-bearing
// set"): the push..flea stack/memory range with pop carved out, the
// type-operand allocators anew/agcnew/new/gcnew, the inc/dec pair, and
// the control-transfer set except ret. pop is the one opcode in
// its range that takes nothing — a producer emits it as a bare opcode
// byte, and decoding it with a phantom operand would shift every
// later instruction in the stream by four bytes.
func (op Opcode) HasOperand() bool {
	switch op {
	case Push, Load, Store, Lea, Flea, ANew, AGCNew, New, GCNew,
		Inc, Dec,
		Jmp, Je, Jne, Ja, Jae, Jb, Jbe, Call:
		return true
	default:
		return false
	}
}

// Instruction is one decoded bytecode instruction: its opcode, optional
// 32-bit operand, and its absolute offset within the owning function's
// instruction stream (used as jump/label targets).
type Instruction struct {
	Op      Opcode
	Operand uint32
	Offset  uint64
}

var names = map[Opcode]string{
	Nop:  "nop",
	Push: "push", Pop: "pop", Load: "load", Store: "store",
	Lea: "lea", Flea: "flea", TLoad: "tload", TStore: "tstore",
	Copy: "copy", Swap: "swap", APush: "apush", ANew: "anew",
	AGCNew: "agcnew", ALea: "alea", Count: "count", Null: "null",
	New: "new", Delete: "delete", GCNull: "gcnull", GCNew: "gcnew",
	Add: "add", Sub: "sub", Mul: "mul", IMul: "imul", Div: "div",
	IDiv: "idiv", Mod: "mod", IMod: "imod", Neg: "neg", Inc: "inc", Dec: "dec",
	And: "and", Or: "or", Xor: "xor", Not: "not", Shl: "shl", Sal: "sal",
	Shr: "shr", Sar: "sar",
	Cmp: "cmp", ICmp: "icmp",
	Jmp: "jmp", Je: "je", Jne: "jne", Ja: "ja", Jae: "jae", Jb: "jb", Jbe: "jbe",
	Call: "call", Ret: "ret",
	ToI: "toi", ToL: "tol", ToSI: "tosi", ToD: "tod", ToP: "top",
}

func (op Opcode) String() string {
	if n, ok := names[op]; ok {
		return n
	}
	return "unknown"
}
