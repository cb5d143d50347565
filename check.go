package mmvar

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/mmvar/internal/arena"
	"github.com/hupe1980/mmvar/internal/directory"
	"github.com/hupe1980/mmvar/internal/mapping"
)

// Check verifies the whole file: header invariants, the heap and its free
// list, directory uniqueness, and that every indirect variable and every
// directory block owns a distinct used chunk.
//
// Corruption found by Check marks the Store broken.
func (s *Store) Check() error {
	return s.shared(func() error {
		_, err := s.verify()
		return err
	})
}

// verify runs all checks and returns the payload offsets that are owned by
// variables or directory blocks.
func (s *Store) verify() (*roaring64.Bitmap, error) {
	h := s.region.Header()
	if h.HeapBottom > h.Break || h.Break > h.HeapTop || h.HeapTop > h.MappedSize {
		return nil, fmt.Errorf("%w: heap_bottom %d, break %d, heap_top %d, mapped_size %d out of order",
			mapping.ErrCorruptHeader, h.HeapBottom, h.Break, h.HeapTop, h.MappedSize)
	}
	if err := s.arena.Verify(); err != nil {
		return nil, err
	}
	if err := s.dir.Verify(); err != nil {
		return nil, err
	}
	return s.references()
}

func (s *Store) references() (*roaring64.Bitmap, error) {
	refs := roaring64.New()

	blocks, err := s.dir.ExtraBlocks()
	if err != nil {
		return nil, err
	}
	blockSize := directory.BlockSize(s.region.ReservedSlots())
	for _, off := range blocks {
		capacity, err := s.arena.Capacity(off)
		if err != nil {
			return nil, err
		}
		if capacity < blockSize {
			return nil, &directory.CorruptionError{
				Offset: off,
				Reason: fmt.Sprintf("directory block of %d bytes in a chunk of %d", blockSize, capacity),
			}
		}
		refs.Add(off)
	}

	var rangeErr error
	err = s.dir.Range(func(e directory.Entry) bool {
		if e.Type.Immediate() || e.Value == 0 {
			return true
		}
		capacity, err := s.arena.Capacity(e.Value)
		if err != nil {
			rangeErr = err
			return false
		}
		if e.Size > capacity {
			rangeErr = &directory.CorruptionError{
				Offset: e.Offset,
				Reason: fmt.Sprintf("size %d of %q exceeds chunk capacity %d", e.Size, e.Name, capacity),
			}
			return false
		}
		if refs.Contains(e.Value) {
			rangeErr = &directory.CorruptionError{
				Offset: e.Offset,
				Reason: fmt.Sprintf("%q shares chunk %d", e.Name, e.Value),
			}
			return false
		}
		refs.Add(e.Value)
		return true
	})
	if err != nil {
		return nil, err
	}
	if rangeErr != nil {
		return nil, rangeErr
	}
	return refs, nil
}

// Reclaim frees used chunks that no variable or directory block refers to.
// Such chunks are left behind when a process dies between allocating
// storage and publishing the variable. It returns the number of chunks
// freed. Reclaim verifies the file first and frees nothing if it is damaged.
func (s *Store) Reclaim() (int, error) {
	var n int
	err := s.exclusive(func() error {
		refs, err := s.verify()
		if err != nil {
			return err
		}
		var orphans []uint64
		if err := s.arena.Walk(func(c arena.ChunkInfo) error {
			if c.Used && !refs.Contains(c.Payload) {
				orphans = append(orphans, c.Payload)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, off := range orphans {
			if err := s.arena.Free(off); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	s.logger.LogReclaim(context.Background(), n, err)
	return n, err
}
