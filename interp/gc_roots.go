package interp

import "svm/heap"

// gcRoots walks the entire live stack from top to bottom, peeling off
// one tag-ending object at a time via sizeEndingAt. This uniformly
// covers every root spec.md §4.3 names — local variables, temporaries
// above each frame's stack-begin, and the frame records themselves —
// since all three are just stack slots that end in a type tag; frame
// records carry no gc-pointer payload, so scanSlot no-ops on them
// rather than needing a special case here.
func (it *Interpreter) gcRoots() []heap.Root {
	var roots []heap.Root
	end := it.stk.Used()
	for end > 0 {
		size, _, ok, err := it.sizeEndingAt(end)
		if err != nil || !ok || size <= 0 || size > end {
			break
		}
		roots = append(roots, heap.Root{Bytes: it.stk.Bytes(end-size, size)})
		end -= size
	}
	return roots
}
