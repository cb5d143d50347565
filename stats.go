package mmvar

// Stats describes the file and its heap.
type Stats struct {
	Path       string
	MappedSize uint64
	Variables  int
	HeapBottom uint64
	HeapTop    uint64
	Break      uint64
	// DirectorySlots is the total number of variable slots across all blocks.
	DirectorySlots uint64
	// DirectoryBlocks counts the reserved block and those allocated later.
	DirectoryBlocks int
	// Grows is the number of times this Store grew the file.
	Grows uint64
	Heap  HeapStats
}

// HeapStats summarizes arena occupancy.
type HeapStats struct {
	Chunks      int
	UsedChunks  int
	FreeChunks  int
	UsedBytes   uint64
	FreeBytes   uint64
	LargestFree uint64
	// Fragmentation is 1 - LargestFree/FreeBytes.
	Fragmentation float64
	// Allocs and Frees count operations by this Store.
	Allocs uint64
	Frees  uint64
}

// Stats walks the heap and returns current occupancy figures.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := s.shared(func() error {
		as, err := s.arena.Stats()
		if err != nil {
			return err
		}
		slots, err := s.dir.Capacity()
		if err != nil {
			return err
		}
		blocks, err := s.dir.ExtraBlocks()
		if err != nil {
			return err
		}
		h := s.region.Header()
		st = Stats{
			Path:            s.region.Path(),
			MappedSize:      h.MappedSize,
			Variables:       int(h.VariableCount),
			HeapBottom:      h.HeapBottom,
			HeapTop:         h.HeapTop,
			Break:           h.Break,
			DirectorySlots:  slots,
			DirectoryBlocks: len(blocks) + 1,
			Grows:           s.region.Grows(),
			Heap: HeapStats{
				Chunks:        as.Chunks,
				UsedChunks:    as.UsedChunks,
				FreeChunks:    as.FreeChunks,
				UsedBytes:     as.UsedBytes,
				FreeBytes:     as.FreeBytes,
				LargestFree:   as.LargestFree,
				Fragmentation: as.Fragmentation,
				Allocs:        as.Allocs,
				Frees:         as.Frees,
			},
		}
		return nil
	})
	return st, err
}
