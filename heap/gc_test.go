package heap

import (
	"encoding/binary"
	"testing"

	"svm/object"
	"svm/typ"
)

func noRoots() []Root { return nil }

func writeIntObject(t *testing.T, buf []byte, v int32) {
	t.Helper()
	if len(buf) != 4+typ.WordSize {
		t.Fatalf("writeIntObject: buf has %d bytes, want %d", len(buf), 4+typ.WordSize)
	}
	binary.LittleEndian.PutUint32(buf[:4], uint32(v))
	object.WriteTag(buf[4:], typ.CodeInt)
}

func TestAllocRoutesOversizeToOld(t *testing.T) {
	gc, err := NewGC(64, 4096, nil)
	if err != nil {
		t.Fatalf("NewGC: %v", err)
	}
	defer gc.Close()

	addr, err := gc.Alloc(100, noRoots) // 100 > youngDefault(64)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	hdrAddr := addr - object.Addr(object.HeaderSize)
	if gc.Young.owns(hdrAddr) {
		t.Fatalf("an allocation larger than the young default landed in young")
	}
	if !gc.Old.owns(hdrAddr) {
		t.Fatalf("an allocation larger than the young default did not land in old")
	}
}

func TestAllocRoutesSmallToYoung(t *testing.T) {
	gc, err := NewGC(64, 4096, nil)
	if err != nil {
		t.Fatalf("NewGC: %v", err)
	}
	defer gc.Close()

	addr, err := gc.Alloc(12, noRoots)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	hdrAddr := addr - object.Addr(object.HeaderSize)
	if !gc.Young.owns(hdrAddr) {
		t.Fatalf("a small allocation did not land in young")
	}
}

// TestMinorGCPreservesCardReferencedYoungObject builds an old-generation
// object holding a gc-pointer to a young object, dirties its card, and
// checks the young object survives a minor GC even though no root
// references it directly (spec.md §4.3 write-barrier/card-table path).
func TestMinorGCPreservesCardReferencedYoungObject(t *testing.T) {
	gc, err := NewGC(64, 4096, nil)
	if err != nil {
		t.Fatalf("NewGC: %v", err)
	}
	defer gc.Close()

	yAddr, err := gc.Alloc(4+typ.WordSize, noRoots)
	if err != nil {
		t.Fatalf("Alloc young: %v", err)
	}
	_, yBuf, ok := gc.HeaderOf(yAddr)
	if !ok {
		t.Fatalf("HeaderOf(yAddr): not found right after Alloc")
	}
	writeIntObject(t, yBuf, 42)

	boxTotal := object.HeaderSize + 2*typ.WordSize
	oldAddr, err := gc.allocIn(gc.Old, boxTotal, 2*typ.WordSize, nil)
	if err != nil {
		t.Fatalf("allocIn(Old): %v", err)
	}
	_, oldBuf, ok := gc.HeaderOf(oldAddr)
	if !ok {
		t.Fatalf("HeaderOf(oldAddr): not found right after allocIn")
	}
	object.WriteAddr(oldBuf[0:8], yAddr)
	object.WriteTag(oldBuf[8:16], typ.CodeGCPointer)
	gc.MakeDirty(oldAddr)

	if err := gc.MinorGC(noRoots); err != nil {
		t.Fatalf("MinorGC: %v", err)
	}

	_, oldBuf2, ok := gc.HeaderOf(oldAddr)
	if !ok {
		t.Fatalf("old object did not survive a minor GC (minor GC must never move old objects)")
	}
	newYAddr := object.ReadAddr(oldBuf2[0:8])

	_, newYBuf, ok := gc.HeaderOf(newYAddr)
	if !ok {
		t.Fatalf("the only-card-referenced young object did not survive the minor GC")
	}
	if got := int32(binary.LittleEndian.Uint32(newYBuf[:4])); got != 42 {
		t.Fatalf("relocated young object payload = %d, want 42", got)
	}
}

// TestMinorGCHonorsInteriorDirtyCard fires the write barrier on an
// interior address of the old object — as a tstore through a flea'd
// field pointer does — rather than on its base. The card stride is
// old-total/512, smaller than most objects, so the interior write lands
// on a different card than the base; the minor GC must still scan the
// whole object.
func TestMinorGCHonorsInteriorDirtyCard(t *testing.T) {
	gc, err := NewGC(64, 4096, nil)
	if err != nil {
		t.Fatalf("NewGC: %v", err)
	}
	defer gc.Close()

	yAddr, err := gc.Alloc(4+typ.WordSize, noRoots)
	if err != nil {
		t.Fatalf("Alloc young: %v", err)
	}
	_, yBuf, _ := gc.HeaderOf(yAddr)
	writeIntObject(t, yBuf, 17)

	boxTotal := object.HeaderSize + 2*typ.WordSize
	oldAddr, err := gc.allocIn(gc.Old, boxTotal, 2*typ.WordSize, nil)
	if err != nil {
		t.Fatalf("allocIn(Old): %v", err)
	}
	_, oldBuf, _ := gc.HeaderOf(oldAddr)
	object.WriteAddr(oldBuf[0:8], yAddr)
	object.WriteTag(oldBuf[8:16], typ.CodeGCPointer)
	gc.MakeDirty(oldAddr + typ.WordSize) // not the base card

	if err := gc.MinorGC(noRoots); err != nil {
		t.Fatalf("MinorGC: %v", err)
	}

	_, oldBuf2, ok := gc.HeaderOf(oldAddr)
	if !ok {
		t.Fatalf("old object did not survive a minor GC")
	}
	newYAddr := object.ReadAddr(oldBuf2[0:8])
	_, newYBuf, ok := gc.HeaderOf(newYAddr)
	if !ok {
		t.Fatalf("young object referenced via an interior-dirtied old object did not survive")
	}
	if got := int32(binary.LittleEndian.Uint32(newYBuf[:4])); got != 17 {
		t.Fatalf("relocated young object payload = %d, want 17", got)
	}
}

// TestMinorGCDropsUnreachableYoungObject checks the converse of the
// above: a young object reachable from neither a root nor a dirty card
// does not survive a minor GC.
func TestMinorGCDropsUnreachableYoungObject(t *testing.T) {
	gc, err := NewGC(64, 4096, nil)
	if err != nil {
		t.Fatalf("NewGC: %v", err)
	}
	defer gc.Close()

	yAddr, err := gc.Alloc(4+typ.WordSize, noRoots)
	if err != nil {
		t.Fatalf("Alloc young: %v", err)
	}
	_, yBuf, _ := gc.HeaderOf(yAddr)
	writeIntObject(t, yBuf, 7)

	if err := gc.MinorGC(noRoots); err != nil {
		t.Fatalf("MinorGC: %v", err)
	}
	if gc.Young.owns(yAddr - object.Addr(object.HeaderSize)) {
		t.Fatalf("an unreachable young object survived a minor GC")
	}
}

// TestMajorGCRelocatesRootAndStaysValid exercises every live pointer
// dereferencing to a valid header+1 address after a collection: a
// root directly holding a gc-pointer is rewritten in place to the
// object's new address, and that address resolves via HeaderOf/Owns.
func TestMajorGCRelocatesRootAndStaysValid(t *testing.T) {
	gc, err := NewGC(64, 4096, nil)
	if err != nil {
		t.Fatalf("NewGC: %v", err)
	}
	defer gc.Close()

	yAddr, err := gc.Alloc(4+typ.WordSize, noRoots)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	_, yBuf, _ := gc.HeaderOf(yAddr)
	writeIntObject(t, yBuf, 99)

	rootBytes := make([]byte, 2*typ.WordSize)
	object.WriteAddr(rootBytes[0:8], yAddr)
	object.WriteTag(rootBytes[8:16], typ.CodeGCPointer)

	roots := func() []Root { return []Root{{Bytes: rootBytes}} }
	if err := gc.MajorGC(roots); err != nil {
		t.Fatalf("MajorGC: %v", err)
	}

	newAddr := object.ReadAddr(rootBytes[0:8])
	if !gc.Owns(newAddr) {
		t.Fatalf("relocated address %v is not owned by either generation", newAddr)
	}
	_, buf, ok := gc.HeaderOf(newAddr)
	if !ok {
		t.Fatalf("HeaderOf(%v) failed after MajorGC relocation", newAddr)
	}
	if got := int32(binary.LittleEndian.Uint32(buf[:4])); got != 99 {
		t.Fatalf("relocated object payload = %d, want 99", got)
	}

	minor, major := gc.Stats()
	if major != 1 || minor != 0 {
		t.Fatalf("Stats() = (%d, %d), want (0, 1)", minor, major)
	}
}

// TestMajorGCRelocatesInteriorPointer covers a root holding a gc-pointer
// into the middle of an object — the address an interp-level flea/alea
// manufactures, not the object's own base — and checks the collector
// moves it together with its enclosing object rather than leaving it
// unmoved or dangling (spec.md §8 "every live pointer dereferences to a
// valid header+1 address" applies just as much to an interior pointer).
func TestMajorGCRelocatesInteriorPointer(t *testing.T) {
	gc, err := NewGC(64, 4096, nil)
	if err != nil {
		t.Fatalf("NewGC: %v", err)
	}
	defer gc.Close()

	// A 2-int "struct": offsets 0 and 4+WordSize each hold their own
	// trailing tag, matching object.go's field layout.
	fieldSize := 4 + typ.WordSize
	total := 2 * fieldSize
	addr, err := gc.Alloc(total, noRoots)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	_, buf, ok := gc.HeaderOf(addr)
	if !ok {
		t.Fatalf("HeaderOf(addr): not found right after Alloc")
	}
	writeIntObject(t, buf[0:fieldSize], 1)
	writeIntObject(t, buf[fieldSize:2*fieldSize], 2)

	interiorAddr := addr + object.Addr(fieldSize) // "field 1" address

	rootBytes := make([]byte, 2*typ.WordSize)
	object.WriteAddr(rootBytes[0:8], interiorAddr)
	object.WriteTag(rootBytes[8:16], typ.CodeGCPointer)

	roots := func() []Root { return []Root{{Bytes: rootBytes}} }
	if err := gc.MajorGC(roots); err != nil {
		t.Fatalf("MajorGC: %v", err)
	}

	newInterior := object.ReadAddr(rootBytes[0:8])
	newBuf, ok := gc.Find(newInterior, fieldSize)
	if !ok {
		t.Fatalf("relocated interior address %v does not resolve within either generation", newInterior)
	}
	if got := int32(binary.LittleEndian.Uint32(newBuf[:4])); got != 2 {
		t.Fatalf("relocated interior object payload = %d, want 2", got)
	}
}
