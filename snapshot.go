package mmvar

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/mmvar/blobstore"
	"github.com/hupe1980/mmvar/internal/snapshot"
)

// SnapshotInfo describes a written or restored snapshot.
type SnapshotInfo struct {
	Name        string
	Compression Compression
	// RawSize is the size of the variable file image.
	RawSize uint64
	// StoredSize is the size of the snapshot object.
	StoredSize int64
	Checksum   uint32
	Duration   time.Duration
}

func infoFrom(i snapshot.Info) SnapshotInfo {
	return SnapshotInfo{
		Name:        i.Name,
		Compression: i.Codec,
		RawSize:     i.RawSize,
		StoredSize:  i.StoredSize,
		Checksum:    i.Checksum,
		Duration:    i.Duration,
	}
}

// Snapshot writes a compressed, checksummed image of the file to bs under
// name. The image is copied under the shared lock, so writers wait only for
// the copy and never for the upload. The copy needs as much memory as the
// file is large.
func (s *Store) Snapshot(ctx context.Context, bs blobstore.BlobStore, name string, optFns ...SnapshotOption) (SnapshotInfo, error) {
	start := time.Now()
	o := applySnapshotOptions(optFns)
	if !o.compression.Valid() {
		return SnapshotInfo{}, fmt.Errorf("%w: unknown compression %d", ErrInvalidConfig, uint8(o.compression))
	}

	var image []byte
	err := s.shared(func() error {
		image = bytes.Clone(s.region.Bytes()[:s.region.MappedSize()])
		return nil
	})

	var info snapshot.Info
	if err == nil {
		info, err = snapshot.Export(ctx, bs, name, image, snapshot.Options{
			Codec:     o.compression,
			Level:     o.level,
			Resources: s.opts.mapping.Resources,
		})
		err = translateError(err)
	}

	res := infoFrom(info)
	s.metrics.RecordSnapshot(res.StoredSize, time.Since(start), err)
	s.logger.LogSnapshot(ctx, name, res, err)
	return res, err
}

// Restore downloads snapshot name from bs and installs it at path. The
// image is verified before it replaces path. Stores that have path open
// keep seeing the old file; reopen them after Restore.
//
// Only the file system, file mode, resource controller and logger options
// apply.
func Restore(ctx context.Context, bs blobstore.BlobStore, name, path string, optFns ...Option) (SnapshotInfo, error) {
	o := applyOptions(optFns)
	info, err := snapshot.RestoreFile(ctx, bs, name, path, o.mapping.FS, o.mapping.FileMode, o.mapping.Resources)
	err = translateError(err)
	res := infoFrom(info)
	o.logger.WithPath(path).LogRestore(ctx, name, path, res, err)
	return res, err
}
