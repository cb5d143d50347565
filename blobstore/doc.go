// Package blobstore provides destinations for store snapshots.
//
// A BlobStore is a flat namespace of immutable blobs. Snapshots are streamed
// in with Create and committed by Close; a failed snapshot calls Abort so a
// partial blob is never visible.
//
// # Built-in Implementations
//
//   - LocalStore: a directory on the local filesystem (temp file + rename)
//   - MemoryStore: in-process, for tests
//   - s3.Store: Amazon S3 with multipart uploads
//   - s3.ExpressStore: S3 Express One Zone with conditional writes
//   - minio.Store: MinIO and other S3-compatible services
//
// Implementations must be safe for concurrent use.
package blobstore
