package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/mmvar/internal/hash"
)

const (
	// HeaderSize is the size of the snapshot header.
	HeaderSize = 32
	// Version is the snapshot format version.
	Version uint16 = 1

	offMagic     = 0
	offVersion   = 4
	offCodec     = 6
	offLevel     = 7
	offRawSize   = 8
	offChecksum  = 16
	offCreated   = 20
	offHeaderSum = 28
)

// Magic identifies a snapshot object.
var Magic = [4]byte{'M', 'M', 'F', 'S'}

var (
	// ErrCorrupt is returned for a malformed snapshot header or stream.
	ErrCorrupt = errors.New("snapshot: corrupt snapshot")
	// ErrChecksum is returned when the restored image does not match its checksum.
	ErrChecksum = errors.New("snapshot: image checksum mismatch")
	// ErrUnknownCodec is returned for an unsupported codec.
	ErrUnknownCodec = errors.New("snapshot: unknown codec")
)

// Codec selects the compression of the image.
type Codec uint8

const (
	// CodecNone stores the image uncompressed.
	CodecNone Codec = 0
	// CodecLZ4 uses the LZ4 frame format (fast).
	CodecLZ4 Codec = 1
	// CodecZstd uses zstd (better ratio).
	CodecZstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// Valid reports whether c is a known codec.
func (c Codec) Valid() bool {
	return c <= CodecZstd
}

// Header describes a snapshot.
type Header struct {
	Version  uint16
	Codec    Codec
	Level    uint8
	RawSize  uint64
	Checksum uint32
	// Created is the snapshot time truncated to seconds.
	Created uint32
}

// MarshalBinary encodes h including the header checksum.
func (h Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	le := binary.LittleEndian
	copy(b[offMagic:], Magic[:])
	le.PutUint16(b[offVersion:], h.Version)
	b[offCodec] = byte(h.Codec)
	b[offLevel] = h.Level
	le.PutUint64(b[offRawSize:], h.RawSize)
	le.PutUint32(b[offChecksum:], h.Checksum)
	le.PutUint32(b[offCreated:], h.Created)
	le.PutUint32(b[offHeaderSum:], hash.CRC32C(b[:offHeaderSum]))
	return b, nil
}

// UnmarshalBinary decodes and validates a header.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("%w: short header (%d bytes)", ErrCorrupt, len(b))
	}
	if [4]byte(b[offMagic:offMagic+4]) != Magic {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	le := binary.LittleEndian
	if sum := hash.CRC32C(b[:offHeaderSum]); sum != le.Uint32(b[offHeaderSum:]) {
		return fmt.Errorf("%w: header checksum mismatch", ErrCorrupt)
	}
	h.Version = le.Uint16(b[offVersion:])
	if h.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}
	h.Codec = Codec(b[offCodec])
	if !h.Codec.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownCodec, h.Codec)
	}
	h.Level = b[offLevel]
	h.RawSize = le.Uint64(b[offRawSize:])
	h.Checksum = le.Uint32(b[offChecksum:])
	h.Created = le.Uint32(b[offCreated:])
	return nil
}
