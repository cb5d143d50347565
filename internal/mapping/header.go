package mapping

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/hupe1980/mmvar/internal/hash"
)

const (
	// HeaderSize is the size of the file header at offset 0.
	HeaderSize = 128
	// Version is the on-disk format version.
	Version uint32 = 1

	offMagic     = 0
	offVersion   = 4
	offMapped    = 8
	offCount     = 16
	offBottom    = 24
	offTop       = 32
	offBreak     = 40
	offFreeHead  = 48
	offEpoch     = 56
	offSlots     = 64
	offCreated   = 72
	offChecksum  = 120
	headerAlign  = 16
	magicLength  = 4
	fieldLength  = 8
	versionField = 4
)

// Magic identifies a variable file.
var Magic = [magicLength]byte{'M', 'M', 'F', 'V'}

// Header is a decoded snapshot of the file header.
type Header struct {
	Version       uint32
	MappedSize    uint64
	VariableCount uint64
	HeapBottom    uint64
	HeapTop       uint64
	Break         uint64
	FreeHead      uint64
	Epoch         uint64
	ReservedSlots uint64
	CreatedAt     int64
	Checksum      uint32
}

// DecodeHeader decodes the first HeaderSize bytes of b.
func DecodeHeader(b []byte) Header {
	_ = b[HeaderSize-1]
	le := binary.LittleEndian
	return Header{
		Version:       le.Uint32(b[offVersion:]),
		MappedSize:    le.Uint64(b[offMapped:]),
		VariableCount: le.Uint64(b[offCount:]),
		HeapBottom:    le.Uint64(b[offBottom:]),
		HeapTop:       le.Uint64(b[offTop:]),
		Break:         le.Uint64(b[offBreak:]),
		FreeHead:      le.Uint64(b[offFreeHead:]),
		Epoch:         le.Uint64(b[offEpoch:]),
		ReservedSlots: le.Uint64(b[offSlots:]),
		CreatedAt:     int64(le.Uint64(b[offCreated:])),
		Checksum:      le.Uint32(b[offChecksum:]),
	}
}

func encodeHeader(b []byte, h Header) {
	_ = b[HeaderSize-1]
	clear(b[:HeaderSize])
	le := binary.LittleEndian
	copy(b[offMagic:], Magic[:])
	le.PutUint32(b[offVersion:], h.Version)
	le.PutUint64(b[offMapped:], h.MappedSize)
	le.PutUint64(b[offCount:], h.VariableCount)
	le.PutUint64(b[offBottom:], h.HeapBottom)
	le.PutUint64(b[offTop:], h.HeapTop)
	le.PutUint64(b[offBreak:], h.Break)
	le.PutUint64(b[offFreeHead:], h.FreeHead)
	le.PutUint64(b[offEpoch:], h.Epoch)
	le.PutUint64(b[offSlots:], h.ReservedSlots)
	le.PutUint64(b[offCreated:], uint64(h.CreatedAt))
	le.PutUint32(b[offChecksum:], headerChecksum(b))
}

// headerChecksum covers the fields that never change after creation, so a
// crash in the middle of an update cannot invalidate it.
func headerChecksum(b []byte) uint32 {
	return hash.CRC32C(
		b[offMagic:offMagic+magicLength],
		b[offVersion:offVersion+versionField],
		b[offBottom:offBottom+fieldLength],
		b[offSlots:offSlots+fieldLength],
		b[offCreated:offCreated+fieldLength],
	)
}

func field(b []byte, off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&b[off]))
}

// load and store access mutable header words atomically; another process may
// be reading them through its own mapping.
func load(b []byte, off int) uint64 {
	return atomic.LoadUint64(field(b, off))
}

func store(b []byte, off int, v uint64) {
	atomic.StoreUint64(field(b, off), v)
}
