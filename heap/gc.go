package heap

import (
	"errors"
	"fmt"

	"svm/object"
	"svm/typ"
)

var errAllocTooLarge = errors.New("heap: allocation did not fit even after a fresh block")

// defaultAgeThreshold is the survival count at which a minor-GC
// survivor is promoted to the old generation (spec.md §4.3 "young→old
// promotion").
const defaultAgeThreshold = 3

// Root is one live root slot: raw bytes (payload+tag, exactly the size
// its own tag implies) that the collector must scan for pointers, and
// may rewrite in place if it holds a gc-pointer whose target moves.
// The typed stack, the local-variable table and saved frame records all
// contribute roots (spec.md §4.3 "Root set for collection").
type Root struct {
	Bytes []byte
}

// GC owns the young/old generations and the card table (spec.md §4.3).
type GC struct {
	Young        *Generation
	Old          *Generation
	res          object.Resolver
	cardStride   int64
	cards        map[int64]bool
	ageThreshold uint8
	minorCount   int
	majorCount   int
	lastReloc    map[object.Addr]object.Addr
}

// LastRelocations returns every address the most recent collection moved
// (old address -> new address), including interior addresses reached via
// flea/alea rather than just each object's own base. A caller that keeps
// its own side table keyed by address (interp's typeAt, for the interior
// pointers HeaderOf can't self-describe) must re-key through this after
// every Alloc call, since a collection may have run inside it.
func (g *GC) LastRelocations() map[object.Addr]object.Addr { return g.lastReloc }

// NewGC creates the generational heap. youngDefault/oldDefault are each
// generation's default block size in bytes; res resolves structure type
// codes encountered while scanning.
func NewGC(youngDefault, oldDefault int, res object.Resolver) (*GC, error) {
	if youngDefault <= 0 || oldDefault <= 0 {
		return nil, fmt.Errorf("heap: generation sizes must be positive")
	}
	young, err := newGeneration("young", youngDefault, true)
	if err != nil {
		return nil, err
	}
	old, err := newGeneration("old", oldDefault, false)
	if err != nil {
		young.closeBlocks()
		return nil, err
	}
	stride := int64(oldDefault) / 512
	if stride < 1 {
		stride = 1
	}
	return &GC{
		Young:        young,
		Old:          old,
		res:          res,
		cardStride:   stride,
		cards:        make(map[int64]bool),
		ageThreshold: defaultAgeThreshold,
	}, nil
}

// IsInitialized reports whether both generations are ready to allocate
// from (spec.md §9 open question 2: both generations initialized, not
// the source's double-negated reading).
func (g *GC) IsInitialized() bool {
	return g.Young != nil && g.Old != nil
}

func (g *GC) Close() {
	g.Young.closeBlocks()
	g.Old.closeBlocks()
}

// Alloc allocates a managed object of `payloadAndTag` bytes (the object
// itself, not counting object.HeaderSize), routing it to the young or
// old generation per spec.md §4.3's size-based routing, and running a
// collection via roots() if needed. It returns the address of the
// object (header+1).
func (g *GC) Alloc(payloadAndTag int, roots func() []Root) (object.Addr, error) {
	g.lastReloc = nil
	total := object.HeaderSize + payloadAndTag
	if payloadAndTag > g.Young.defaultSize {
		return g.allocIn(g.Old, total, payloadAndTag, func() error { return g.MajorGC(roots) })
	}
	return g.allocIn(g.Young, total, payloadAndTag, func() error { return g.MinorGC(roots) })
}

func (g *GC) allocIn(gen *Generation, total, payloadAndTag int, collect func() error) (object.Addr, error) {
	hdrAddr, err := gen.rawAlloc(total, collect)
	if err != nil {
		return 0, err
	}
	buf := gen.bytesAt(hdrAddr, total)
	object.WriteHeader(buf, object.Header{Size: int64(payloadAndTag), Age: 0})
	return hdrAddr + object.Addr(object.HeaderSize), nil
}

// HeaderOf reads the header preceding the managed object at addr.
func (g *GC) HeaderOf(addr object.Addr) (object.Header, []byte, bool) {
	hdrAddr := addr - object.Addr(object.HeaderSize)
	if g.Young.owns(hdrAddr) {
		buf := g.Young.bytesAt(hdrAddr, object.HeaderSize)
		h := object.ReadHeader(buf)
		return h, g.Young.bytesAt(addr, int(h.Size)), true
	}
	if g.Old.owns(hdrAddr) {
		buf := g.Old.bytesAt(hdrAddr, object.HeaderSize)
		h := object.ReadHeader(buf)
		return h, g.Old.bytesAt(addr, int(h.Size)), true
	}
	return object.Header{}, nil, false
}

// MakeDirty marks the card covering addr as dirty (spec.md §4.3's write
// barrier). Every store through a gc-pointer that could write a young
// reference into an old object must call this; interp's tstore is the
// sole write path that does.
func (g *GC) MakeDirty(addr object.Addr) {
	g.cards[int64(addr)/g.cardStride] = true
}

func (g *GC) cardOf(addr object.Addr) int64 { return int64(addr) / g.cardStride }

// rangeDirty reports whether any card covering [addr, addr+size) is
// dirty. The stride is old-gen-total/512 (spec.md §4.3), usually smaller
// than an object, so a write barrier fired on an interior field address
// lands on a different card than the object's base.
func (g *GC) rangeDirty(addr object.Addr, size int64) bool {
	last := g.cardOf(addr + object.Addr(size-1))
	for c := g.cardOf(addr); c <= last; c++ {
		if g.cards[c] {
			return true
		}
	}
	return false
}

// Find returns an n-byte window starting at addr within either
// generation's blocks, for interp's flea/alea/tload/tstore address
// resolution (addr may be an inner address, not just an object base).
func (g *GC) Find(addr object.Addr, n int) ([]byte, bool) {
	if buf := g.Young.bytesAt(addr, n); buf != nil {
		return buf, true
	}
	if buf := g.Old.bytesAt(addr, n); buf != nil {
		return buf, true
	}
	return nil, false
}

// Owns reports whether addr falls within either generation's blocks.
func (g *GC) Owns(addr object.Addr) bool {
	return g.Young.owns(addr) || g.Old.owns(addr)
}

// scanSlot walks the object encoded in buf (payload ending in its type
// tag), calling relocate for every gc-pointer payload found — in the
// slot itself, or recursively in structure fields / array elements —
// and rewriting it in place with whatever relocate returns.
func scanSlot(buf []byte, res object.Resolver, relocate func(object.Addr) object.Addr) {
	if len(buf) < typ.WordSize {
		return
	}
	tagOff := len(buf) - typ.WordSize
	tag := object.ReadTag(buf[tagOff:])
	switch tag {
	case typ.CodeGCPointer:
		addr := object.ReadAddr(buf[0:8])
		if addr != object.Null {
			object.WriteAddr(buf[0:8], relocate(addr))
		}
	case typ.CodePointer, typ.CodeInt, typ.CodeLong, typ.CodeDouble, typ.CodeNone, typ.FrameCode:
		// not a managed reference; nothing to trace. Frame records hold
		// only indices/flags, never a gc-pointer.
	case typ.ArrayCode:
		if tagOff < 16 {
			return
		}
		hdr := object.ReadArrayHeader(buf[tagOff-16 : tagOff])
		es, err := object.ElemSize(hdr.ElemCode, res)
		if err != nil {
			return
		}
		for i := int64(0); i < hdr.Count; i++ {
			start := int(i) * es
			scanSlot(buf[start:start+es], res, relocate)
		}
	default:
		if res == nil {
			return
		}
		t, ok := res.GetType(tag)
		if !ok || !t.IsStructure() {
			return
		}
		for _, f := range t.Structure().Fields {
			scanSlot(buf[f.Offset:f.Offset+f.Type.Size()], res, relocate)
		}
	}
}

// relocator drives one collection pass: copy reachable young (and, for
// a major GC, old) objects into fresh to-space blocks, fixing up every
// live pointer to the moved address.
type relocator struct {
	gc       *GC
	visited  map[object.Addr]object.Addr
	toYoung  *Generation // fresh young generation survivors land in
	toOld    *Generation // during a major GC, fresh old generation
	major    bool
	promoted int
}

// findEnclosing locates the live object (its own header+1 address, size,
// and owning generation) whose range contains addr. addr may be the
// object's own base (the common case: a pointer from new/gcnew/anew/
// agcnew) or an interior address a flea/alea manufactured into the
// middle of a structure's fields or an array's elements — both must
// relocate together with the object that owns them.
func (g *GC) findEnclosing(addr object.Addr) (gen *Generation, objAddr object.Addr, size int64, ok bool) {
	for _, gg := range [2]*Generation{g.Young, g.Old} {
		for _, od := range gg.objects {
			if addr >= od.addr && int64(addr-od.addr) < od.size {
				return gg, od.addr, od.size, true
			}
		}
	}
	return nil, 0, 0, false
}

// relocate resolves addr (object base or interior) to its post-collection
// address, moving the enclosing object on first encounter.
func (r *relocator) relocate(addr object.Addr) object.Addr {
	if addr == object.Null {
		return object.Null
	}
	if na, ok := r.visited[addr]; ok {
		return na
	}
	gen, objAddr, size, found := r.gc.findEnclosing(addr)
	if !found {
		// Live pointer with no enclosing object record; shouldn't happen
		// for a well-formed program. Leave unmovable rather than panic.
		r.visited[addr] = addr
		return addr
	}
	if !r.major && gen == r.gc.Old {
		// Minor GC never moves old objects, whole or interior.
		r.visited[addr] = addr
		return addr
	}
	newObjAddr, ok := r.visited[objAddr]
	if !ok {
		newObjAddr = r.moveObject(gen, objAddr, size)
		r.visited[objAddr] = newObjAddr
	}
	newAddr := newObjAddr + (addr - objAddr)
	r.visited[addr] = newAddr
	return newAddr
}

// moveObject copies the object at objAddr (within gen) into the
// appropriate to-space generation, ages it, promotes it if it has
// survived enough collections, and recursively fixes up its own
// gc-pointer fields/elements before returning its new address.
func (r *relocator) moveObject(gen *Generation, objAddr object.Addr, size int64) object.Addr {
	hdrAddr := objAddr - object.Addr(object.HeaderSize)
	hdrBuf := gen.bytesAt(hdrAddr, object.HeaderSize)
	h := object.ReadHeader(hdrBuf)
	srcBuf := gen.bytesAt(objAddr, int(size))
	newAge := h.Age
	if newAge < 255 {
		newAge++
	}
	var dst *Generation
	switch {
	case r.major && gen == r.gc.Old:
		// Already old-gen: stays old regardless of age (it was size- or
		// age-routed there already; a major GC compacts, it doesn't
		// demote).
		dst = r.toOld
	case newAge >= r.gc.ageThreshold:
		dst = r.toOld
		r.promoted++
	default:
		dst = r.toYoung
	}
	total := object.HeaderSize + int(size)
	hdrAddrNew, err := dst.rawAlloc(total, nil)
	if err != nil {
		// Out of space in to-space is a bug in sizing, not a recoverable
		// runtime condition during a collection already in progress.
		panic(fmt.Sprintf("heap: to-space exhausted during collection: %v", err))
	}
	dstHdrBuf := dst.bytesAt(hdrAddrNew, object.HeaderSize)
	object.WriteHeader(dstHdrBuf, object.Header{Size: size, Age: newAge})
	newAddr := hdrAddrNew + object.Addr(object.HeaderSize)
	dstBuf := dst.bytesAt(newAddr, int(size))
	copy(dstBuf, srcBuf)
	scanSlot(dstBuf, r.gc.res, r.relocate)
	return newAddr
}

// MinorGC traces roots plus dirty-card old objects, moves young
// survivors into a fresh young generation (promoting over-threshold
// ones to the old generation), frees the prior young blocks, and clears
// the card table (spec.md §4.3).
func (g *GC) MinorGC(roots func() []Root) error {
	g.minorCount++
	freshYoung, err := newGeneration("young", g.Young.defaultSize, true)
	if err != nil {
		return err
	}
	r := &relocator{gc: g, visited: make(map[object.Addr]object.Addr), toYoung: freshYoung, toOld: g.Old}
	for _, root := range roots() {
		scanSlot(root.Bytes, g.res, r.relocate)
	}
	for _, od := range g.Old.objects {
		if !g.rangeDirty(od.addr, od.size) {
			continue
		}
		buf := g.Old.bytesAt(od.addr, int(od.size))
		scanSlot(buf, g.res, r.relocate)
	}
	g.Young.closeBlocks()
	// Replace the contents, not the pointer: an in-progress rawAlloc on
	// g.Young retries its bump on the same *Generation after collecting.
	*g.Young = *freshYoung
	g.cards = make(map[int64]bool)
	g.lastReloc = r.visited
	return nil
}

// MajorGC traces both generations from roots, rebuilding fresh young and
// old generations and resetting the card table (spec.md §4.3).
func (g *GC) MajorGC(roots func() []Root) error {
	g.majorCount++
	freshYoung, err := newGeneration("young", g.Young.defaultSize, true)
	if err != nil {
		return err
	}
	freshOld, err := newGeneration("old", g.Old.defaultSize, false)
	if err != nil {
		freshYoung.closeBlocks()
		return err
	}
	r := &relocator{gc: g, visited: make(map[object.Addr]object.Addr), toYoung: freshYoung, toOld: freshOld, major: true}
	for _, root := range roots() {
		scanSlot(root.Bytes, g.res, r.relocate)
	}
	g.Young.closeBlocks()
	g.Old.closeBlocks()
	*g.Young = *freshYoung
	*g.Old = *freshOld
	g.cards = make(map[int64]bool)
	g.lastReloc = r.visited
	return nil
}

// Stats reports collection counters (test/diagnostic use).
func (g *GC) Stats() (minor, major int) { return g.minorCount, g.majorCount }
