package virtual

import (
	"fmt"

	"svm/object"
	"svm/typ"
)

// PushFunc appends a freshly-built object (its bytes fully initialized,
// ending in its tag) onto the interpreter's evaluation stack; interp
// supplies the concrete implementation.
type PushFunc func(size int, write func([]byte)) error

// Resolve recovers the full object (payload+tag bytes, and its resolved
// Type — a transient array Type for array objects) living at an address
// the interpreter handed out earlier; interp supplies the concrete
// implementation, since only it knows which arena an address belongs to.
type Resolve func(addr object.Addr) ([]byte, typ.Type, error)

// Context is what a host-implemented virtual function receives
// (spec.md §4.7 "VirtualContext"). It exposes parameter access,
// structure lookup scoped to the defining module, and the ability to
// push a result.
type Context struct {
	params     []Object
	res        object.Resolver
	resolve    Resolve
	push       PushFunc
	structures func(localIndex int) (*typ.Structure, bool)
}

// NewContext is called by interp when invoking a virtual function.
func NewContext(params []Object, res object.Resolver, resolve Resolve, push PushFunc, structures func(int) (*typ.Structure, bool)) *Context {
	return &Context{params: params, res: res, resolve: resolve, push: push, structures: structures}
}

func (c *Context) ParamCount() int { return len(c.params) }

func (c *Context) Param(i int) (Object, error) {
	if i < 0 || i >= len(c.params) {
		return Object{}, fmt.Errorf("virtual: parameter index %d out of range", i)
	}
	return c.params[i], nil
}

// Structure looks up a structure defined in the virtual function's own
// module by local index (spec.md §4.7 "structure lookup by local/mapped
// index").
func (c *Context) Structure(localIndex int) (*typ.Structure, error) {
	if c.structures == nil {
		return nil, fmt.Errorf("virtual: no structure table available")
	}
	s, ok := c.structures(localIndex)
	if !ok {
		return nil, fmt.Errorf("virtual: structure index %d not found", localIndex)
	}
	return s, nil
}

// Dereference follows a pointer/gc-pointer parameter to its pointee.
func (c *Context) Dereference(ptr Object) (Object, error) {
	addr, err := ptr.Pointer()
	if err != nil {
		return Object{}, err
	}
	if addr == object.Null {
		return Object{}, fmt.Errorf("virtual: dereference of null pointer")
	}
	buf, t, err := c.resolve(addr)
	if err != nil {
		return Object{}, err
	}
	return newHeapRef(t, buf, addr, c.res), nil
}

// PushFundamental pushes a zero-initialized fundamental value
// (int/long/double/pointer/gc-pointer) and returns a reference to it so
// the caller can set its payload.
func (c *Context) PushFundamental(t typ.Type) (Object, error) {
	if !t.IsFundamental() {
		return Object{}, fmt.Errorf("virtual: PushFundamental requires a fundamental type")
	}
	var result Object
	err := c.push(t.Size(), func(slot []byte) {
		object.InitZero(slot, t)
		result = newOwned(t, slot, c.res)
	})
	return result, err
}

// PushStructure pushes a default-initialized structure, or — when
// count > 0 — an array of count elements of that structure type
// (spec.md §4.7 "count=0 ⇒ scalar, count>0 ⇒ array").
func (c *Context) PushStructure(s *typ.Structure, count int64) (Object, error) {
	if count == 0 {
		var result Object
		err := c.push(s.Type.Size(), func(slot []byte) {
			object.InitZero(slot, s.Type)
			result = newOwned(s.Type, slot, c.res)
		})
		return result, err
	}
	elemSize := s.Type.Size()
	total := 2*typ.WordSize + typ.WordSize + int(count)*elemSize
	arrType := typ.NewArray(s.Type, count)
	var result Object
	err := c.push(total, func(slot []byte) {
		object.InitArray(slot, s.Type, count)
		result = newOwned(arrType, slot, c.res)
	})
	return result, err
}
