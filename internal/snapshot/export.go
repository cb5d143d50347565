package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/mmvar/blobstore"
	"github.com/hupe1980/mmvar/internal/hash"
	"github.com/hupe1980/mmvar/internal/resource"
)

// writeChunk bounds single writes into the encoder so that cancellation and
// IO throttling act at a fine granularity.
const writeChunk = 1 << 20

// Options configures Export.
type Options struct {
	Codec Codec
	// Level is the codec-specific compression level; 0 selects DefaultLevel.
	Level int
	// Resources throttles IO and bounds concurrent snapshots. May be nil.
	Resources *resource.Controller
}

// Info describes a written or restored snapshot.
type Info struct {
	Name       string
	Codec      Codec
	RawSize    uint64
	StoredSize int64
	Checksum   uint32
	Duration   time.Duration
}

// Export writes image as snapshot name into store.
// The caller must keep image stable until Export returns.
func Export(ctx context.Context, store blobstore.BlobStore, name string, image []byte, opts Options) (Info, error) {
	start := time.Now()
	if !opts.Codec.Valid() {
		return Info{}, fmt.Errorf("%w: %s", ErrUnknownCodec, opts.Codec)
	}

	if err := opts.Resources.AcquireSnapshot(ctx); err != nil {
		return Info{}, err
	}
	defer opts.Resources.ReleaseSnapshot()

	h := Header{
		Version:  Version,
		Codec:    opts.Codec,
		Level:    uint8(min(max(opts.Level, 0), math.MaxUint8)),
		RawSize:  uint64(len(image)),
		Checksum: hash.CRC32C(image),
		Created:  uint32(start.Unix()),
	}
	hdr, err := h.MarshalBinary()
	if err != nil {
		return Info{}, err
	}

	wb, err := store.Create(ctx, name)
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: create %s: %w", name, err)
	}

	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := encode(gctx, pw, hdr, image, opts)
		_ = pw.CloseWithError(err)
		return err
	})

	var stored int64
	g.Go(func() error {
		n, err := io.Copy(resource.NewRateLimitedWriter(gctx, wb, opts.Resources), pr)
		stored = n
		_ = pr.CloseWithError(err)
		return err
	})

	if err := g.Wait(); err != nil {
		return Info{}, errors.Join(fmt.Errorf("snapshot: export %s: %w", name, err), wb.Abort())
	}
	if err := wb.Close(); err != nil {
		return Info{}, fmt.Errorf("snapshot: commit %s: %w", name, err)
	}

	return Info{
		Name:       name,
		Codec:      h.Codec,
		RawSize:    h.RawSize,
		StoredSize: stored,
		Checksum:   h.Checksum,
		Duration:   time.Since(start),
	}, nil
}

func encode(ctx context.Context, w io.Writer, hdr, image []byte, opts Options) error {
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	enc, err := newEncoder(w, opts.Codec, opts.Level)
	if err != nil {
		return err
	}
	for len(image) > 0 {
		if err := ctx.Err(); err != nil {
			_ = enc.Close()
			return err
		}
		n := min(len(image), writeChunk)
		if _, err := enc.Write(image[:n]); err != nil {
			_ = enc.Close()
			return err
		}
		image = image[n:]
	}
	return enc.Close()
}
