// Package module implements constant pools, structures, functions,
// modules and the resolver that assembles them into a program with flat
// global index spaces for types and callable functions (spec.md §4.4).
package module

import (
	"svm/loader/opcode"
)

// ConstantPool holds the three dense constant tables addressed by a
// flat 32-bit index (spec.md §3 "Constant pool").
type ConstantPool struct {
	Ints    []int32
	Longs   []int64
	Doubles []float64
}

// Count returns the total number of constants (ints+longs+doubles);
// push operands at or above this value select a default-initialized
// structure instead (spec.md §4.5).
func (c *ConstantPool) Count() int { return len(c.Ints) + len(c.Longs) + len(c.Doubles) }

// Kind of constant an index within [0, Count) refers to.
type ConstKind int

const (
	ConstInt ConstKind = iota
	ConstLong
	ConstDouble
)

// Lookup resolves a pool index to its kind and the index within that
// kind's own slice.
func (c *ConstantPool) Lookup(index uint32) (ConstKind, int, bool) {
	i := int(index)
	if i < len(c.Ints) {
		return ConstInt, i, true
	}
	i -= len(c.Ints)
	if i < len(c.Longs) {
		return ConstLong, i, true
	}
	i -= len(c.Longs)
	if i < len(c.Doubles) {
		return ConstDouble, i, true
	}
	return 0, 0, false
}

// StructDef is a structure as read off the wire: field type codes that
// are either fundamental (< typ.FundamentalCount) or a local structure
// reference (code - typ.FundamentalCount indexes StructDefs in the
// owning module in declaration order, earlier- or later-declared;
// field-graph cycles are rejected at resolve time by a 3-color DFS, see
// resolveModuleStructures).
type StructDef struct {
	Name       string
	FieldCodes []uint32
}

// FunctionKind distinguishes a bytecode function from a host-provided
// virtual one (spec.md §3 "Function").
type FunctionKind int

const (
	FunctionBytecode FunctionKind = iota
	FunctionVirtual
)

// Instructions is a function's decoded bytecode body: a label table
// (label index -> absolute instruction index) plus the linear
// instruction stream.
type Instructions struct {
	Labels []uint64
	Code   []opcode.Instruction
}

// VirtualFn is the host callable a virtual function invokes, matching
// spec.md §9's suggested VirtualFn trait realized as a named func type
// (the idiomatic Go equivalent of a single-method interface here).
type VirtualFn func(ctx VirtualContext) error

// VirtualContext is implemented by virtual.Context; module only needs
// the subset a registered callable is handed, avoiding an import cycle
// between module and virtual (virtual.Context itself needs
// module.Program to resolve structures).
type VirtualContext interface {
	ParamCount() int
}

// FunctionDef is a function as read off the wire or registered by a
// host (spec.md §3 "Function"): arity, hasResult, and either an
// Instructions body or a VirtualFn.
type FunctionDef struct {
	Name      string
	Arity     int
	HasResult bool
	Kind      FunctionKind
	Bytecode  Instructions
	Virtual   VirtualFn
}

// Module is either a loaded byte file or a host-registered virtual
// module (spec.md §3 "Module"). Dependencies names other modules this
// one must be resolved after; our loader's wire format (spec.md §6)
// carries no cross-file import table, so Dependencies is populated only
// for virtual modules registered programmatically and for test modules
// built directly against this API.
type Module struct {
	Path         string
	Constants    ConstantPool
	StructDefs   []StructDef
	Functions    []FunctionDef
	Dependencies []string

	// EntryIndex is the local function index of this module's
	// entry-point instruction stream (spec.md §6), or -1 if the module
	// has none (e.g. a virtual module, or any non-entry dependency).
	EntryIndex int
}

// NewModule creates an empty module ready to have structures/functions
// appended (used by the loader and by RegisterVirtualModule).
func NewModule(path string) *Module {
	return &Module{Path: path, EntryIndex: -1}
}

func (m *Module) AddDependency(path string) { m.Dependencies = append(m.Dependencies, path) }

func (m *Module) DefineStructure(name string, fieldCodes []uint32) int {
	m.StructDefs = append(m.StructDefs, StructDef{Name: name, FieldCodes: fieldCodes})
	return len(m.StructDefs) - 1
}

func (m *Module) DefineBytecodeFunction(name string, arity int, hasResult bool, body Instructions) int {
	m.Functions = append(m.Functions, FunctionDef{
		Name: name, Arity: arity, HasResult: hasResult,
		Kind: FunctionBytecode, Bytecode: body,
	})
	return len(m.Functions) - 1
}

func (m *Module) DefineVirtualFunction(name string, arity int, hasResult bool, fn VirtualFn) int {
	m.Functions = append(m.Functions, FunctionDef{
		Name: name, Arity: arity, HasResult: hasResult,
		Kind: FunctionVirtual, Virtual: fn,
	})
	return len(m.Functions) - 1
}

// VirtualModule is the host-registration entry point (spec.md §6
// "Host registration"). It wraps a Module so host code gets a narrow,
// purpose-built API instead of the loader-facing one.
type VirtualModule struct {
	m *Module
}

// RegisterVirtualModule begins defining a host-implemented module at
// the given virtual path.
func RegisterVirtualModule(path string) *VirtualModule {
	return &VirtualModule{m: NewModule(path)}
}

// DefineStructure declares a structure with fields given as
// (type code, count) pairs per spec.md §6. The byte-file wire format
// carries no per-field count (see loader.readStructureTable), so every
// structure field — loaded or host-registered — is a scalar fundamental
// or nested-structure reference; Count is retained on FieldSpec for
// host callers that want to self-document a field's intended use, but
// is not threaded into the layout.
func (vm *VirtualModule) DefineStructure(name string, fields []FieldSpec) int {
	codes := make([]uint32, len(fields))
	for i, f := range fields {
		codes[i] = f.Code
	}
	return vm.m.DefineStructure(name, codes)
}

// FieldSpec describes one structure field as registered by a host.
type FieldSpec struct {
	Code  uint32
	Count int64 // reserved; see DefineStructure
}

func (vm *VirtualModule) DefineFunction(name string, arity int, hasResult bool, fn VirtualFn) int {
	return vm.m.DefineVirtualFunction(name, arity, hasResult, fn)
}

func (vm *VirtualModule) DependsOn(path string) { vm.m.AddDependency(path) }

func (vm *VirtualModule) Module() *Module { return vm.m }

// FunctionSlot is the resolved, program-global view of one function:
// its definition (which holds a bytecode function's Instructions) plus
// the owning module, against which its constant, structure and call
// operands are resolved.
type FunctionSlot struct {
	Def    *FunctionDef
	Module *Module
}

func (f *FunctionSlot) IsVirtual() bool { return f.Def.Kind == FunctionVirtual }
