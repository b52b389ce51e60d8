package jit

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"svm/module"
)

// executableMem is one mmap'd PROT_EXEC page holding a single compiled
// function's machine code (spec.md §3 domain-stack table: "x/sys/unix
// for Mmap/Mprotect executable pages").
type executableMem struct {
	buf []byte
}

// allocExecutable copies code into a fresh anonymous mapping, then
// switches it from writable to executable — never both at once, the
// same W^X discipline original_source's POSIX jit::Engine follows
// (mmap RW, memcpy, mprotect RX).
func allocExecutable(code []byte) (executableMem, error) {
	if len(code) == 0 {
		return executableMem{}, fmt.Errorf("no code to allocate")
	}
	buf, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return executableMem{}, fmt.Errorf("mmap: %w", err)
	}
	copy(buf, code)
	if err := unix.Mprotect(buf, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(buf)
		return executableMem{}, fmt.Errorf("mprotect: %w", err)
	}
	return executableMem{buf: buf}, nil
}

func (m executableMem) Close() error {
	if m.buf == nil {
		return nil
	}
	return unix.Munmap(m.buf)
}

// callCompiled invokes the native code in mem with up to len(argRegisters)
// int32 arguments, using Go's calling-convention escape hatch of casting
// a raw code pointer to a typed func value — the same trick
// original_source's jit::Function::operator() plays by casting m_Address
// to a `void(*)()` before calling through it. Each arity gets its own
// function-type cast since Go has no variadic native-call primitive.
// Because the call goes through a Go func value, the arguments arrive
// per Go's internal amd64 convention, which is what x86.go's
// argRegisters encodes (ABIInternal order, not System V).
func callCompiled(mem executableMem, args []int32) (int32, error) {
	code := unsafe.Pointer(&mem.buf[0])
	// A Go func value points at a word holding the code address, so the
	// casts below read ptr (= &code), not the code address itself.
	ptr := unsafe.Pointer(&code)
	switch len(args) {
	case 1:
		fn := *(*func(int32) int32)(unsafe.Pointer(&ptr))
		return fn(args[0]), nil
	case 2:
		fn := *(*func(int32, int32) int32)(unsafe.Pointer(&ptr))
		return fn(args[0], args[1]), nil
	case 3:
		fn := *(*func(int32, int32, int32) int32)(unsafe.Pointer(&ptr))
		return fn(args[0], args[1], args[2]), nil
	case 4:
		fn := *(*func(int32, int32, int32, int32) int32)(unsafe.Pointer(&ptr))
		return fn(args[0], args[1], args[2], args[3]), nil
	case 5:
		fn := *(*func(int32, int32, int32, int32, int32) int32)(unsafe.Pointer(&ptr))
		return fn(args[0], args[1], args[2], args[3], args[4]), nil
	case 6:
		fn := *(*func(int32, int32, int32, int32, int32, int32) int32)(unsafe.Pointer(&ptr))
		return fn(args[0], args[1], args[2], args[3], args[4], args[5]), nil
	default:
		return 0, fmt.Errorf("jit: unsupported arity %d", len(args))
	}
}

// Engine owns every function this process has JIT-compiled, keyed by
// the module.FunctionDef it was compiled from (a function's bytecode
// body never changes after load, so its address is a stable cache key),
// matching original_source's jit::Engine map. An Engine is optional:
// an interp.Interpreter with a nil Engine simply never attempts
// compilation and always interprets.
type Engine struct {
	compiled map[uintptr]*Compiled
	declined map[uintptr]bool // functions Compile has already rejected
}

// NewEngine creates an empty compilation cache.
func NewEngine() *Engine {
	return &Engine{compiled: make(map[uintptr]*Compiled), declined: make(map[uintptr]bool)}
}

// GetOrCompile returns the cached native version of fn (identified by
// id, typically FuncID(fn)), compiling it on first use. A function this
// Engine has already declined is remembered so repeated calls don't pay
// for a re-analysis of its instruction stream every time.
func (e *Engine) GetOrCompile(id uintptr, fn *module.FunctionDef) (*Compiled, bool) {
	if c, ok := e.compiled[id]; ok {
		return c, true
	}
	if e.declined[id] {
		return nil, false
	}
	c, err := Compile(fn)
	if err != nil {
		e.declined[id] = true
		return nil, false
	}
	e.compiled[id] = c
	return c, true
}

// Close releases every compiled function's executable mapping.
func (e *Engine) Close() {
	for _, c := range e.compiled {
		c.Close()
	}
	e.compiled = make(map[uintptr]*Compiled)
}

// IsEmpty reports whether anything has been compiled yet; cmd/svm uses
// it to report after a -fjit run whether the accelerator actually
// engaged.
func (e *Engine) IsEmpty() bool { return len(e.compiled) == 0 }
