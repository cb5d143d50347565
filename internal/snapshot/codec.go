package snapshot

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// DefaultLevel is used when Options.Level is zero.
const DefaultLevel = 3

var lz4Levels = [...]lz4.CompressionLevel{
	lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

// newEncoder wraps w with the codec's compressor. Close flushes the frame
// but does not close w.
func newEncoder(w io.Writer, codec Codec, level int) (io.WriteCloser, error) {
	if level <= 0 {
		level = DefaultLevel
	}
	switch codec {
	case CodecNone:
		return nopWriteCloser{w}, nil
	case CodecLZ4:
		zw := lz4.NewWriter(w)
		if err := zw.Apply(lz4.CompressionLevelOption(lz4Levels[min(level, len(lz4Levels)-1)])); err != nil {
			return nil, err
		}
		return zw, nil
	case CodecZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, err
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, codec)
	}
}

// newDecoder wraps r with the codec's decompressor.
func newDecoder(r io.Reader, codec Codec) (io.ReadCloser, error) {
	switch codec {
	case CodecNone:
		return io.NopCloser(r), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CodecZstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, codec)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
