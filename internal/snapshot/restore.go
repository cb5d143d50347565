package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/mmvar/blobstore"
	"github.com/hupe1980/mmvar/internal/fs"
	"github.com/hupe1980/mmvar/internal/hash"
	"github.com/hupe1980/mmvar/internal/resource"
)

// ReadHeader reads and validates the header of snapshot name.
func ReadHeader(ctx context.Context, store blobstore.BlobStore, name string) (Header, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return Header{}, err
	}
	defer func() { _ = blob.Close() }()

	buf := make([]byte, HeaderSize)
	if _, err := blob.ReadAt(ctx, buf, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return Header{}, fmt.Errorf("%w: short header", ErrCorrupt)
		}
		return Header{}, err
	}
	var h Header
	if err := h.UnmarshalBinary(buf); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Decode streams snapshot name from store into w and verifies its checksum.
// On error w may hold a partial image.
func Decode(ctx context.Context, store blobstore.BlobStore, name string, w io.Writer, rc *resource.Controller) (Header, int64, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return Header{}, 0, err
	}
	defer func() { _ = blob.Close() }()

	stored := blob.Size()
	if stored < HeaderSize {
		return Header{}, stored, fmt.Errorf("%w: object is %d bytes", ErrCorrupt, stored)
	}

	body, err := blob.ReadRange(ctx, 0, stored)
	if err != nil {
		return Header{}, stored, err
	}
	defer func() { _ = body.Close() }()

	r := resource.NewRateLimitedReader(ctx, body, rc)

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, stored, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	var h Header
	if err := h.UnmarshalBinary(buf); err != nil {
		return Header{}, stored, err
	}

	dec, err := newDecoder(r, h.Codec)
	if err != nil {
		return h, stored, err
	}
	defer func() { _ = dec.Close() }()

	sum := hash.NewCRC32C()
	n, err := io.Copy(io.MultiWriter(w, sum), io.LimitReader(dec, int64(h.RawSize)+1))
	if err != nil {
		return h, stored, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if uint64(n) != h.RawSize {
		return h, stored, fmt.Errorf("%w: image is %d bytes, header says %d", ErrCorrupt, n, h.RawSize)
	}
	if sum.Sum32() != h.Checksum {
		return h, stored, ErrChecksum
	}
	return h, stored, nil
}

// RestoreFile restores snapshot name into path. The image is written to a
// temporary file in the same directory, synced, and renamed over path only
// after it verified.
func RestoreFile(ctx context.Context, store blobstore.BlobStore, name, path string, fsys fs.FileSystem, perm os.FileMode, rc *resource.Controller) (Info, error) {
	start := time.Now()
	if fsys == nil {
		fsys = fs.Default
	}

	if err := rc.AcquireSnapshot(ctx); err != nil {
		return Info{}, err
	}
	defer rc.ReleaseSnapshot()

	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return Info{}, err
	}
	tmp, err := fsys.CreateTemp(dir, "."+filepath.Base(path)+".restore-*")
	if err != nil {
		return Info{}, err
	}
	tmpName := tmp.Name()

	fail := func(err error) (Info, error) {
		_ = tmp.Close()
		_ = fsys.Remove(tmpName)
		return Info{}, fmt.Errorf("snapshot: restore %s: %w", name, err)
	}

	h, stored, err := Decode(ctx, store, name, tmp, rc)
	if err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if perm != 0 {
		if f, ok := tmp.(interface{ Chmod(os.FileMode) error }); ok {
			if err := f.Chmod(perm); err != nil {
				return fail(err)
			}
		}
	}
	if err := tmp.Close(); err != nil {
		_ = fsys.Remove(tmpName)
		return Info{}, fmt.Errorf("snapshot: restore %s: %w", name, err)
	}
	if err := fsys.Rename(tmpName, path); err != nil {
		_ = fsys.Remove(tmpName)
		return Info{}, fmt.Errorf("snapshot: restore %s: %w", name, err)
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
