// Package s3 provides S3 implementations of the blobstore.BlobStore interface
// used as snapshot targets.
//
// # Usage
//
//	store, err := s3.NewStoreFromConfig(ctx, "my-bucket", "mmvar/",
//	    config.WithRegion("us-east-1"),
//	)
//
//	info, err := vars.Snapshot(ctx, store, "vars-2026-10-18.mmfs")
//
// # Features
//
//   - Range reads for restoring large snapshots
//   - Multipart streaming uploads with CRC32C part checksums
//   - Failed or aborted uploads leave no object or dangling parts behind
//   - Conditional create on S3 Express One Zone directory buckets
package s3
