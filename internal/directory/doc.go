// Package directory stores the name → value table inside a mapped file.
//
// The directory is a chain of blocks. Each block is a 16-byte header
// ([next uint64][slots uint64]) followed by slots fixed-size entries:
//
//	 0                               32   36   40   44   48       56       64
//	+--------------------------------+----+----+----+----+--------+--------+
//	| name (NUL padded, <= 31 bytes) |type|gen |hash|rsvd| value  | size   |
//	+--------------------------------+----+----+----+----+--------+--------+
//
// The first block lives at a fixed offset right after the file header. When
// every slot is taken, a new block is allocated and linked from the last one.
// Blocks are never released.
//
// Slots are numbered across the whole chain in link order. A slot's
// generation is bumped every time it is released so that stale handles can
// be detected.
//
// Each process keeps an index (name → slot, plus a bitmap of free slots)
// that is rebuilt whenever the epoch counter in the file header differs
// from the one the index was built at.
//
// The Directory does no locking; callers hold the file lock.
package directory
