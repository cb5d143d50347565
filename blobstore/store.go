package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// ErrExists is returned by PutIfNotExists when the name is taken.
var ErrExists = errors.New("blobstore: blob already exists")

// BlobStore is a flat namespace of immutable blobs (snapshots).
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create starts a streaming write. The blob becomes visible on Close.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put writes a blob atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names of all blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ConditionalStore is implemented by stores that can publish a name at most
// once, e.g. for snapshot catalogs written by several processes.
type ConditionalStore interface {
	BlobStore
	// PutIfNotExists writes data unless name exists, in which case it
	// returns an error matching ErrExists.
	PutIfNotExists(ctx context.Context, name string, data []byte) error
}

// Blob is a read-only handle to a data blob.
type Blob interface {
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
	// ReadAt reads len(p) bytes at off.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// ReadRange streams length bytes starting at off.
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
}

// WritableBlob is a blob being written.
type WritableBlob interface {
	io.Writer
	// Close commits the blob.
	Close() error
	// Abort discards everything written; the blob never becomes visible.
	Abort() error
	// Sync flushes buffered data where the backend supports it.
	Sync() error
}
