// Package arena implements the heap allocator that lives inside a mapped file.
//
// The arena carves variable-length chunks out of the byte range
// [heap_bottom, heap_top) of a Space. All bookkeeping (chunk headers and the
// free list) is stored in that byte range, so the allocator state survives
// process restarts and is shared by every process mapping the file.
//
// # Chunk layout
//
// Every chunk starts with a 32-byte header:
//
//	 0        8        16       24   28   32
//	+--------+--------+--------+----+----+------------ ... -+
//	| size   | next   | prev   |magc|used| payload          |
//	+--------+--------+--------+----+----+------------ ... -+
//
// size is the total chunk length including the header, next links free
// chunks (0 terminates the list), prev is the size of the physically
// preceding chunk (0 for the first chunk) and magic guards against stray
// offsets, double frees and corruption.
//
// # Policy
//
// Allocation is first-fit over the free list in list order. Freed chunks are
// coalesced with free physical neighbours and pushed on the head of the list,
// so the most recently freed space is tried first. When no chunk fits, the
// Space is asked to grow and the new range is appended as a free chunk.
//
// # Safety
//
// Every header is bounds-checked against heap_bottom/heap_top before it is
// read. Any inconsistency is reported as a *CorruptionError wrapping
// ErrCorruptHeap; the arena never repairs corruption itself.
//
// The Arena does no locking. Callers serialize mutating calls.
package arena
