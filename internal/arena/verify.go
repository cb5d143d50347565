package arena

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// ChunkInfo describes one chunk found by a physical walk.
type ChunkInfo struct {
	// Offset of the chunk header.
	Offset uint64
	// Payload is the offset handed out by Alloc.
	Payload uint64
	// Size is the total chunk length including the header.
	Size uint64
	Used bool
}

// Walk visits every chunk from heap_bottom to heap_top in address order.
// It stops at the first structural error or the first error returned by fn.
func (a *Arena) Walk(fn func(ChunkInfo) error) error {
	top := a.space.HeapTop()
	var prevSize uint64
	for off := a.space.HeapBottom(); off < top; {
		c, err := a.read(off)
		if err != nil {
			return err
		}
		if c.prevSize != prevSize {
			return corrupt(off, "prev size %d, expected %d", c.prevSize, prevSize)
		}
		if err := fn(ChunkInfo{Offset: c.off, Payload: c.payload(), Size: c.size, Used: c.used}); err != nil {
			return err
		}
		prevSize = c.size
		off = c.end()
	}
	return nil
}

// Verify checks the whole heap: chunk sizes tile [heap_bottom, heap_top)
// exactly, prev sizes are consistent, and the free list is acyclic and holds
// exactly the chunks that are not in use.
func (a *Arena) Verify() error {
	physical := roaring64.New()
	if err := a.Walk(func(c ChunkInfo) error {
		if !c.Used {
			physical.Add(c.Offset)
		}
		return nil
	}); err != nil {
		return err
	}

	if brk := a.space.Break(); brk < a.space.HeapBottom() || brk > a.space.HeapTop() {
		return corrupt(brk, "break pointer outside heap")
	}

	listed := roaring64.New()
	limit := a.stepLimit()
	cur := a.space.FreeHead()
	for steps := 0; cur != 0; steps++ {
		if steps > limit || listed.Contains(cur) {
			return corrupt(cur, "free list cycle")
		}
		c, err := a.read(cur)
		if err != nil {
			return err
		}
		if c.used {
			return corrupt(cur, "used chunk on free list")
		}
		listed.Add(cur)
		cur = c.next
	}

	if !listed.Equals(physical) {
		missing := roaring64.AndNot(physical, listed)
		if !missing.IsEmpty() {
			return corrupt(missing.Minimum(), "free chunk missing from free list")
		}
		extra := roaring64.AndNot(listed, physical)
		return corrupt(extra.Minimum(), "free list entry is not a chunk boundary")
	}
	return nil
}

// Stats summarizes heap occupancy.
type Stats struct {
	Chunks      int
	UsedChunks  int
	FreeChunks  int
	UsedBytes   uint64
	FreeBytes   uint64
	LargestFree uint64
	// Fragmentation is 1 - LargestFree/FreeBytes (0 when nothing is free).
	Fragmentation float64
	Allocs        uint64
	Frees         uint64
	Grows         uint64
}

// Stats walks the heap and returns its occupancy.
func (a *Arena) Stats() (Stats, error) {
	s := Stats{Allocs: a.allocs, Frees: a.frees, Grows: a.grows}
	err := a.Walk(func(c ChunkInfo) error {
		s.Chunks++
		if c.Used {
			s.UsedChunks++
			s.UsedBytes += c.Size
			return nil
		}
		s.FreeChunks++
		s.FreeBytes += c.Size
		s.LargestFree = max(s.LargestFree, c.Size)
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	if s.FreeBytes > 0 {
		s.Fragmentation = 1 - float64(s.LargestFree)/float64(s.FreeBytes)
	}
	return s, nil
}
