package interp

import (
	"testing"

	"svm/loader/opcode"
	"svm/module"
	"svm/typ"
	"svm/virtual"
)

// hostIncModule registers a virtual module with a single function
// inc(n: int) -> int = n + 1, per spec.md §6's host-registration
// contract.
func hostIncModule() *module.VirtualModule {
	vm := module.RegisterVirtualModule("host")
	vm.DefineFunction("inc", 1, true, func(mc module.VirtualContext) error {
		ctx := mc.(*virtual.Context)
		p, err := ctx.Param(0)
		if err != nil {
			return err
		}
		n, err := p.Int()
		if err != nil {
			return err
		}
		res, err := ctx.PushFundamental(typ.Int)
		if err != nil {
			return err
		}
		return res.SetInt(n + 1)
	})
	return vm
}

// A bytecode module calling into a host-registered virtual function:
// the call operand overflows the caller's own function space into its
// declared dependency, and the virtual function reads its parameter and
// pushes its result entirely through the virtual context.
func TestVirtualFunctionCall(t *testing.T) {
	vm := hostIncModule()

	m := module.NewModule("test")
	m.AddDependency("host")
	m.Constants = module.ConstantPool{Ints: []int32{41}}
	entryCode := []opcode.Instruction{
		inst(opcode.Push, 0),
		inst(opcode.Call, 1), // past this module's 1 function: host's inc
		inst(opcode.Ret, 0),
	}
	m.EntryIndex = m.DefineBytecodeFunction("entry", 0, true, module.Instructions{Code: entryCode})

	prog, err := module.Resolve([]*module.Module{m, vm.Module()})
	if err != nil {
		t.Fatalf("module.Resolve: %v", err)
	}
	it, err := New(prog, m, Options{StackSize: 4096, YoungSize: 4096, OldSize: 4096})
	if err != nil {
		t.Fatalf("interp.New: %v", err)
	}
	defer it.Close()
	if !it.Interpret() {
		t.Fatalf("Interpret: %v", it.Exception())
	}
	buf, tag, ok := it.Result()
	if !ok || tag != typ.CodeInt || readInt(buf) != 42 {
		t.Fatalf("inc(41) = (%v, %d, %v), want (int, 42, true)", tag, readInt(buf), ok)
	}
}

// spec.md §9 open question 4: a host parameter whose type does not
// exactly match what the function asserts raises stdlib-type-assert-fail.
func TestVirtualFunctionTypeAssertFail(t *testing.T) {
	vm := hostIncModule()

	m := module.NewModule("test")
	m.AddDependency("host")
	m.Constants = module.ConstantPool{Longs: []int64{41}} // long, not the int inc asserts
	entryCode := []opcode.Instruction{
		inst(opcode.Push, 0),
		inst(opcode.Call, 1),
		inst(opcode.Ret, 0),
	}
	m.EntryIndex = m.DefineBytecodeFunction("entry", 0, true, module.Instructions{Code: entryCode})

	prog, err := module.Resolve([]*module.Module{m, vm.Module()})
	if err != nil {
		t.Fatalf("module.Resolve: %v", err)
	}
	it, err := New(prog, m, Options{StackSize: 4096, YoungSize: 4096, OldSize: 4096})
	if err != nil {
		t.Fatalf("interp.New: %v", err)
	}
	defer it.Close()
	if it.Interpret() {
		t.Fatalf("Interpret: expected a type-assert exception")
	}
	if exc := it.Exception(); exc == nil || exc.Code != CodeStdlibTypeAssertFail {
		t.Fatalf("Exception = %v, want CodeStdlibTypeAssertFail", exc)
	}
}
