package arena

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Space is the mapped region the arena manages.
//
// Bytes may return a different slice after Grow; the arena never keeps it
// across calls.
type Space interface {
	// Bytes returns the whole mapping; heap offsets index into it.
	Bytes() []byte
	HeapBottom() uint64
	HeapTop() uint64
	// MaxHeapTop is the largest heap_top the space can ever reach.
	MaxHeapTop() uint64
	FreeHead() uint64
	SetFreeHead(off uint64)
	Break() uint64
	SetBreak(off uint64)
	// Grow extends heap_top by at least minBytes and returns the old and new top.
	// On error the space must be unchanged.
	Grow(minBytes uint64) (oldTop, newTop uint64, err error)
}

// Arena allocates chunks inside a Space.
type Arena struct {
	space Space

	// process-local counters
	allocs uint64
	frees  uint64
	grows  uint64
}

// New returns an Arena over an already formatted space.
func New(space Space) *Arena {
	return &Arena{space: space}
}

// Format turns the whole heap of space into a single free chunk.
// It is used once, when a new file is initialized.
func Format(space Space) error {
	bottom, top := space.HeapBottom(), space.HeapTop()
	if bottom%Alignment != 0 || top%Alignment != 0 || top < bottom+MinChunk {
		return fmt.Errorf("arena: cannot format heap [%d, %d)", bottom, top)
	}
	data := space.Bytes()
	if top > uint64(len(data)) {
		return fmt.Errorf("arena: heap top %d beyond mapping of %d bytes", top, len(data))
	}
	encodeChunk(data[bottom:], chunk{
		off:   bottom,
		size:  top - bottom,
		magic: Magic,
	})
	space.SetFreeHead(bottom)
	space.SetBreak(bottom)
	return nil
}

// CheckFirst verifies that a structurally valid chunk starts at heap_bottom.
func CheckFirst(space Space) error {
	a := Arena{space: space}
	c, err := a.read(space.HeapBottom())
	if err != nil {
		return err
	}
	if c.prevSize != 0 {
		return corrupt(c.off, "first chunk has prev size %d", c.prevSize)
	}
	return nil
}

// read decodes and validates the chunk header at off.
func (a *Arena) read(off uint64) (chunk, error) {
	bottom, top := a.space.HeapBottom(), a.space.HeapTop()
	data := a.space.Bytes()
	if top > uint64(len(data)) {
		return chunk{}, corrupt(off, "heap top %d beyond mapping of %d bytes", top, len(data))
	}
	if off < bottom || off > top || off%Alignment != 0 || top-off < HeaderSize {
		return chunk{}, corrupt(off, "chunk offset outside heap [%d, %d)", bottom, top)
	}
	c := decodeChunk(data[off:off+HeaderSize], off)
	if c.magic != Magic {
		return chunk{}, corrupt(off, "bad magic %#x", c.magic)
	}
	if c.size < MinChunk || c.size%Alignment != 0 || c.size > top-off {
		return chunk{}, corrupt(off, "bad chunk size %d", c.size)
	}
	return c, nil
}

func (a *Arena) write(c chunk) {
	data := a.space.Bytes()
	encodeChunk(data[c.off:c.off+HeaderSize], c)
}

func (a *Arena) setNext(off, next uint64) {
	binary.LittleEndian.PutUint64(a.space.Bytes()[off+offNext:], next)
}

func (a *Arena) setPrevSize(off, prevSize uint64) {
	binary.LittleEndian.PutUint64(a.space.Bytes()[off+offPrev:], prevSize)
}

func (a *Arena) setUsed(off uint64, used bool) {
	var v uint32
	if used {
		v = 1
	}
	binary.LittleEndian.PutUint32(a.space.Bytes()[off+offUsed:], v)
}

// link makes prev point at target, or the list head when prev is 0.
func (a *Arena) link(prev, target uint64) {
	if prev == 0 {
		a.space.SetFreeHead(target)
		return
	}
	a.setNext(prev, target)
}

// stepLimit bounds free-list walks; a longer walk means the list has a cycle.
func (a *Arena) stepLimit() int {
	return int((a.space.HeapTop()-a.space.HeapBottom())/MinChunk) + 1
}

// fixFollower updates the prev_size of the chunk physically after c.
func (a *Arena) fixFollower(c chunk) {
	if c.end() < a.space.HeapTop() {
		a.setPrevSize(c.end(), c.size)
	}
}

var errNoFit = errors.New("arena: no fit")

// Alloc reserves size bytes and returns the offset of the zeroed payload.
func (a *Arena) Alloc(size uint64) (uint64, error) {
	need, ok := chunkSizeFor(size)
	bottom := a.space.HeapBottom()
	if !ok || need > a.space.MaxHeapTop()-bottom {
		return 0, fmt.Errorf("%w: request of %d bytes exceeds the maximum heap of %d bytes",
			ErrOutOfSpace, size, a.space.MaxHeapTop()-bottom)
	}

	off, err := a.allocFit(need)
	if err == nil {
		return off, nil
	}
	if !errors.Is(err, errNoFit) {
		return 0, err
	}

	if err := a.grow(need); err != nil {
		return 0, err
	}

	off, err = a.allocFit(need)
	if errors.Is(err, errNoFit) {
		return 0, fmt.Errorf("%w: no free chunk of %d bytes after growth", ErrOutOfSpace, need)
	}
	return off, err
}

// allocFit takes the first free chunk of at least need bytes.
func (a *Arena) allocFit(need uint64) (uint64, error) {
	var prev uint64
	cur := a.space.FreeHead()
	limit := a.stepLimit()
	for steps := 0; cur != 0; steps++ {
		if steps > limit {
			return 0, corrupt(cur, "free list cycle")
		}
		c, err := a.read(cur)
		if err != nil {
			return 0, err
		}
		if c.used {
			return 0, corrupt(cur, "used chunk on free list")
		}
		if c.size < need {
			prev, cur = cur, c.next
			continue
		}

		replacement := c.next
		if c.size-need >= MinChunk {
			rem := chunk{
				off:      c.off + need,
				size:     c.size - need,
				next:     c.next,
				prevSize: need,
				magic:    Magic,
			}
			a.write(rem)
			a.fixFollower(rem)
			replacement = rem.off
			c.size = need
		}
		a.link(prev, replacement)

		c.used = true
		c.next = 0
		a.write(c)
		clear(a.space.Bytes()[c.payload():c.end()])
		if c.end() > a.space.Break() {
			a.space.SetBreak(c.end())
		}
		a.allocs++
		return c.payload(), nil
	}
	return 0, errNoFit
}

// grow asks the space for room for a chunk of need bytes.
func (a *Arena) grow(need uint64) error {
	oldTop, newTop, err := a.space.Grow(need)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutOfSpace, err)
	}
	return a.Extend(oldTop, newTop)
}

// Extend adds [oldTop, newTop) to the heap as a free chunk, merging it with
// the last chunk when that one is free. The space's heap_top must already be
// newTop.
func (a *Arena) Extend(oldTop, newTop uint64) error {
	if newTop <= oldTop || newTop != a.space.HeapTop() || (newTop-oldTop)%Alignment != 0 {
		return corrupt(oldTop, "invalid extension to %d", newTop)
	}
	last, err := a.lastBefore(oldTop)
	if err != nil {
		return err
	}

	ext := chunk{off: oldTop, size: newTop - oldTop, prevSize: last.size, magic: Magic}
	if !last.used {
		if err := a.unlink(last.off); err != nil {
			return err
		}
		ext.off = last.off
		ext.size += last.size
		ext.prevSize = last.prevSize
	}
	ext.next = a.space.FreeHead()
	a.write(ext)
	a.space.SetFreeHead(ext.off)
	a.grows++
	return nil
}

// lastBefore walks the heap physically and returns the chunk ending at end.
func (a *Arena) lastBefore(end uint64) (chunk, error) {
	off := a.space.HeapBottom()
	for {
		c, err := a.read(off)
		if err != nil {
			return chunk{}, err
		}
		if c.end() == end {
			return c, nil
		}
		if c.end() > end {
			return chunk{}, corrupt(off, "chunk crosses old heap top %d", end)
		}
		off = c.end()
	}
}

// findPred returns the free-list predecessor of target (0 for the head).
func (a *Arena) findPred(target uint64) (uint64, error) {
	var prev uint64
	cur := a.space.FreeHead()
	limit := a.stepLimit()
	for steps := 0; cur != 0; steps++ {
		if steps > limit {
			return 0, corrupt(cur, "free list cycle")
		}
		if cur == target {
			return prev, nil
		}
		c, err := a.read(cur)
		if err != nil {
			return 0, err
		}
		prev, cur = cur, c.next
	}
	return 0, corrupt(target, "free chunk missing from free list")
}

func (a *Arena) unlink(target uint64) error {
	pred, err := a.findPred(target)
	if err != nil {
		return err
	}
	c, err := a.read(target)
	if err != nil {
		return err
	}
	a.link(pred, c.next)
	return nil
}

// Free releases the chunk whose payload starts at off.
func (a *Arena) Free(off uint64) error {
	if off < a.space.HeapBottom()+HeaderSize {
		return corrupt(off, "payload offset below heap")
	}
	c, err := a.read(off - HeaderSize)
	if err != nil {
		return err
	}
	if !c.used {
		return fmt.Errorf("%w: chunk at offset %d", ErrDoubleFree, c.off)
	}

	// Validate everything coalescing touches before mutating anything.
	var next, prev *chunk
	if c.end() < a.space.HeapTop() {
		n, err := a.read(c.end())
		if err != nil {
			return err
		}
		if n.prevSize != c.size {
			return corrupt(n.off, "prev size %d does not match chunk size %d", n.prevSize, c.size)
		}
		if !n.used {
			if _, err := a.findPred(n.off); err != nil {
				return err
			}
			next = &n
		}
	}
	if c.prevSize != 0 {
		if c.prevSize > c.off-a.space.HeapBottom() {
			return corrupt(c.off, "prev size %d reaches below heap", c.prevSize)
		}
		p, err := a.read(c.off - c.prevSize)
		if err != nil {
			return err
		}
		if p.size != c.prevSize {
			return corrupt(p.off, "size %d does not match follower's prev size %d", p.size, c.prevSize)
		}
		if !p.used {
			if _, err := a.findPred(p.off); err != nil {
				return err
			}
			prev = &p
		}
	}

	a.setUsed(c.off, false)
	b := a.space.Bytes()
	merged := chunk{off: c.off, size: c.size, prevSize: c.prevSize, magic: Magic}
	if next != nil {
		if err := a.unlink(next.off); err != nil {
			return err
		}
		merged.size += next.size
		clear(b[next.off : next.off+HeaderSize])
	}
	if prev != nil {
		if err := a.unlink(prev.off); err != nil {
			return err
		}
		clear(b[c.off : c.off+HeaderSize])
		merged.off = prev.off
		merged.size += prev.size
		merged.prevSize = prev.prevSize
	}
	merged.next = a.space.FreeHead()
	a.write(merged)
	a.fixFollower(merged)
	a.space.SetFreeHead(merged.off)
	a.frees++
	return nil
}

// Rollback undoes an Alloc that returned off while the break pointer was
// brk: the chunk is freed and the break pointer lowered back to brk.
// Memory added by growth stays in the heap.
func (a *Arena) Rollback(off, brk uint64) error {
	if err := a.Free(off); err != nil {
		return err
	}
	if brk < a.space.Break() {
		a.space.SetBreak(brk)
	}
	a.allocs--
	a.frees--
	return nil
}

// Capacity returns the usable payload size of the used chunk at off.
func (a *Arena) Capacity(off uint64) (uint64, error) {
	c, err := a.usedAt(off)
	if err != nil {
		return 0, err
	}
	return c.size - HeaderSize, nil
}

// IsUsed reports whether off is the payload offset of a used chunk.
func (a *Arena) IsUsed(off uint64) bool {
	_, err := a.usedAt(off)
	return err == nil
}

func (a *Arena) usedAt(off uint64) (chunk, error) {
	if off < a.space.HeapBottom()+HeaderSize {
		return chunk{}, corrupt(off, "payload offset below heap")
	}
	c, err := a.read(off - HeaderSize)
	if err != nil {
		return chunk{}, err
	}
	if !c.used {
		return chunk{}, corrupt(c.off, "chunk is not in use")
	}
	return c, nil
}
