package heap

import "svm/object"

// objDesc remembers one live managed-heap object's address (header+1)
// and object size (payload+tag, i.e. object.Header.Size), so the
// collector can enumerate a generation's contents without scanning
// arbitrary byte ranges for object boundaries.
type objDesc struct {
	addr object.Addr // address of the object itself (header+1)
	size int64
}

// Generation is an ordered sequence of blocks (spec.md §4.3). young is
// true for the young generation, which inserts oversized blocks before
// the current block rather than after (spec.md §4.3 step 1).
type Generation struct {
	name        string
	defaultSize int
	young       bool
	blocks      []*block
	current     int // index into blocks of the current bump target
	objects     []objDesc
}

func newGeneration(name string, defaultSize int, young bool) (*Generation, error) {
	b, err := newBlock(defaultSize, false)
	if err != nil {
		return nil, err
	}
	return &Generation{name: name, defaultSize: defaultSize, young: young, blocks: []*block{b}, current: 0}, nil
}

func (g *Generation) currentBlock() *block { return g.blocks[g.current] }

// owns reports whether addr falls within any of this generation's
// blocks.
func (g *Generation) owns(addr object.Addr) bool {
	for _, b := range g.blocks {
		if b.contains(addr) {
			return true
		}
	}
	return false
}

func (g *Generation) blockFor(addr object.Addr) *block {
	for _, b := range g.blocks {
		if b.contains(addr) {
			return b
		}
	}
	return nil
}

// bytesAt returns an n-byte window starting at addr, which may fall
// anywhere within a block the generation owns (not just at an object's
// base address — e.g. a flea/alea result). Returns nil if addr/n would
// cross outside the owning block.
func (g *Generation) bytesAt(addr object.Addr, n int) []byte {
	b := g.blockFor(addr)
	if b == nil || int(addr-b.base())+n > len(b.buf) {
		return nil
	}
	return b.bytesAt(addr, n)
}

// rawAlloc implements the §4.3 allocation discipline for a single
// generation, given that the caller (GC) has already decided this
// generation is where the object belongs. collect is invoked to trigger
// the relevant collection when the current block lacks room; it must
// not change which generation `g` points the caller at.
func (g *Generation) rawAlloc(total int, collect func() error) (object.Addr, error) {
	if total > g.defaultSize {
		b, err := newBlock(total, true)
		if err != nil {
			return 0, err
		}
		insertAt := g.current + 1
		if g.young {
			insertAt = g.current
		}
		g.blocks = append(g.blocks, nil)
		copy(g.blocks[insertAt+1:], g.blocks[insertAt:])
		g.blocks[insertAt] = b
		if g.young && insertAt <= g.current {
			g.current++
		}
		addr, _ := b.bump(total)
		g.record(addr, total)
		return addr, nil
	}
	if addr, ok := g.currentBlock().bump(total); ok {
		g.record(addr, total)
		return addr, nil
	}
	if collect != nil {
		if err := collect(); err != nil {
			return 0, err
		}
		if addr, ok := g.currentBlock().bump(total); ok {
			g.record(addr, total)
			return addr, nil
		}
	}
	nb, err := newBlock(g.defaultSize, false)
	if err != nil {
		return 0, err
	}
	g.blocks = append(g.blocks, nb)
	g.current = len(g.blocks) - 1
	addr, ok := nb.bump(total)
	if !ok {
		return 0, errAllocTooLarge
	}
	g.record(addr, total)
	return addr, nil
}

// record registers the object whose header rawAlloc just placed at
// hdrAddr, total bytes long including the header.
func (g *Generation) record(hdrAddr object.Addr, total int) {
	g.objects = append(g.objects, objDesc{
		addr: hdrAddr + object.Addr(object.HeaderSize),
		size: int64(total - object.HeaderSize),
	})
}

func (g *Generation) closeBlocks() {
	for _, b := range g.blocks {
		b.close()
	}
}
