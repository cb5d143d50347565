package directory

import (
	"bytes"
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

const (
	// EntrySize is the size of one directory slot.
	EntrySize = 64
	// BlockHeaderSize is the size of the [next][slots] block header.
	BlockHeaderSize = 16
	// MaxNameLen is the longest name that fits, leaving room for a NUL.
	MaxNameLen = 31

	nameSize = 32

	offType  = 32
	offGen   = 36
	offHash  = 40
	offValue = 48
	offSize  = 56

	offBlockNext  = 0
	offBlockSlots = 8
)

// Type tags a directory entry.
type Type uint32

const (
	TypeFree Type = iota
	TypeInt64
	TypeUint64
	TypeFloat64
	TypeBool
	TypeBytes
	TypeString
)

var typeNames = [...]string{"free", "int64", "uint64", "float64", "bool", "bytes", "string"}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// Valid reports whether t is a known type of a live entry.
func (t Type) Valid() bool {
	return t >= TypeInt64 && t <= TypeString
}

// Immediate reports whether values of type t are stored inline in the entry.
func (t Type) Immediate() bool {
	return t >= TypeInt64 && t <= TypeBool
}

// BlockSize returns the byte size of a block with the given number of slots.
func BlockSize(slots uint64) uint64 {
	return BlockHeaderSize + slots*EntrySize
}

// FormatBlock writes an empty block header into b.
func FormatBlock(b []byte, slots uint64) {
	binary.LittleEndian.PutUint64(b[offBlockNext:], 0)
	binary.LittleEndian.PutUint64(b[offBlockSlots:], slots)
}

// Entry is the decoded form of a directory slot.
type Entry struct {
	// Slot is the chain-wide slot number.
	Slot uint32
	// Offset of the entry in the mapping.
	Offset uint64
	Name   string
	Type   Type
	Gen    uint32
	Hash   uint32
	// Value is the inline scalar for immediate types and the payload offset
	// for indirect ones.
	Value uint64
	Size  uint64
}

func decodeEntry(b []byte, slot uint32, off uint64) Entry {
	e := b[off : off+EntrySize]
	name := e[:nameSize]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return Entry{
		Slot:   slot,
		Offset: off,
		Name:   string(name),
		Type:   Type(binary.LittleEndian.Uint32(e[offType:])),
		Gen:    binary.LittleEndian.Uint32(e[offGen:]),
		Hash:   binary.LittleEndian.Uint32(e[offHash:]),
		Value:  LoadValue(b, off),
		Size:   binary.LittleEndian.Uint64(e[offSize:]),
	}
}

// LoadValue atomically reads the value word of the entry at off.
func LoadValue(b []byte, off uint64) uint64 {
	return atomic.LoadUint64(valuePtr(b, off))
}

// StoreValue atomically writes the value word of the entry at off.
func StoreValue(b []byte, off uint64, v uint64) {
	atomic.StoreUint64(valuePtr(b, off), v)
}

// valuePtr points into the mapping. Entries are 8-byte aligned because
// blocks start on 16-byte boundaries of a page-aligned mapping.
func valuePtr(b []byte, off uint64) *uint64 {
	_ = b[off+offValue+7]
	return (*uint64)(unsafe.Pointer(&b[off+offValue]))
}
