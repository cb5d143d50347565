// Package minio provides a BlobStore implementation using the MinIO client.
//
// It works against MinIO and other S3-compatible systems such as Ceph,
// SeaweedFS and Garage, and is the snapshot target for air-gapped
// deployments without AWS credentials.
//
// # Basic Usage
//
//	store, err := minioblob.NewStoreWithCredentials("localhost:9000",
//	    "minioadmin", "minioadmin", false, "my-bucket", "mmvar/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	info, err := vars.Snapshot(ctx, store, "vars.mmfs")
package minio
