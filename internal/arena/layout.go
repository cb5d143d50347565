package arena

import (
	"encoding/binary"
)

const (
	// HeaderSize is the size of the chunk header preceding every payload.
	HeaderSize = 32
	// Alignment is the chunk granularity; chunk offsets and sizes are multiples of it.
	Alignment = 16
	// MinPayload is the smallest payload handed out (zero-byte requests round up to it).
	MinPayload = 16
	// MinChunk is the smallest chunk, and the smallest remainder worth splitting off.
	MinChunk = HeaderSize + MinPayload
	// Magic guards every chunk header.
	Magic uint32 = 0x6D92

	offSize  = 0
	offNext  = 8
	offPrev  = 16
	offMagic = 24
	offUsed  = 28
)

// chunk is the decoded form of a chunk header.
type chunk struct {
	off      uint64
	size     uint64
	next     uint64
	prevSize uint64
	magic    uint32
	used     bool
}

func (c chunk) end() uint64 {
	return c.off + c.size
}

func (c chunk) payload() uint64 {
	return c.off + HeaderSize
}

func decodeChunk(b []byte, off uint64) chunk {
	_ = b[HeaderSize-1]
	return chunk{
		off:      off,
		size:     binary.LittleEndian.Uint64(b[offSize:]),
		next:     binary.LittleEndian.Uint64(b[offNext:]),
		prevSize: binary.LittleEndian.Uint64(b[offPrev:]),
		magic:    binary.LittleEndian.Uint32(b[offMagic:]),
		used:     binary.LittleEndian.Uint32(b[offUsed:]) != 0,
	}
}

func encodeChunk(b []byte, c chunk) {
	_ = b[HeaderSize-1]
	binary.LittleEndian.PutUint64(b[offSize:], c.size)
	binary.LittleEndian.PutUint64(b[offNext:], c.next)
	binary.LittleEndian.PutUint64(b[offPrev:], c.prevSize)
	binary.LittleEndian.PutUint32(b[offMagic:], c.magic)
	var used uint32
	if c.used {
		used = 1
	}
	binary.LittleEndian.PutUint32(b[offUsed:], used)
}

// chunkSizeFor returns the total chunk size needed for a payload of n bytes.
func chunkSizeFor(n uint64) (uint64, bool) {
	if n < MinPayload {
		n = MinPayload
	}
	if n > ^uint64(0)-HeaderSize-Alignment {
		return 0, false
	}
	return (n + HeaderSize + Alignment - 1) &^ (Alignment - 1), true
}
