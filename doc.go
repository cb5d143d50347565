// Package mmvar stores named, typed variables in a single memory-mapped file.
//
// A process opens (or creates) a file and reads and writes variables by
// name. All state lives in the mapped bytes, so variables survive restarts
// and are shared by every process that opens the same file.
//
// # Quick Start
//
//	vars, err := mmvar.Open("state.mmf")
//	if err != nil {
//	    return err
//	}
//	defer vars.Close()
//
//	n, _ := vars.GetInt64("counter") // ErrNotFound on first run
//	_ = vars.SetInt64("counter", n+1)
//
// # Handles
//
// Define and Lookup return a Handle that skips the name lookup on later
// operations. Handles survive growth of the file but become stale when the
// variable is removed:
//
//	h, _ := vars.Define("buf", mmvar.TypeBytes, 64)
//	_ = vars.Write(h, mmvar.BytesValue([]byte("hello")))
//	v, _ := vars.Read(h)
//
// # Types
//
// Int64, Uint64, Float64 and Bool are immediate: they live inside the
// directory slot and are read without taking the file lock. Bytes and
// String live in the arena, a heap inside the file managed with a first-fit
// free list. Reads of indirect values copy; View gives zero-copy access
// under the shared lock.
//
// # File Layout
//
//	[header 128B][reserved directory block][arena chunks ... heap_top]
//
// The file grows by at least the growth step when the arena is exhausted,
// up to the configured maximum size.
//
// # Concurrency
//
// A Store is safe for concurrent use. Writers take an exclusive lock made of
// an in-process mutex and an flock on the file; readers take the shared
// variants. Several processes may open the same file.
//
// # Integrity
//
// Chunk headers carry a magic number and the header carries a checksum of
// its immutable fields. Structural damage is reported as a *CorruptionError
// that matches ErrCorruptHeap or ErrCorruptHeader, and leaves the Store
// unusable. Check verifies the whole file; Reclaim frees storage orphaned by
// a process that died mid-operation.
//
// # Snapshots
//
// Snapshot streams a compressed, checksummed image of the file to a
// blobstore.BlobStore (local directory, memory, S3 or MinIO), and Restore
// installs one at a path:
//
//	store := blobstore.NewLocalStore("/backups")
//	info, err := vars.Snapshot(ctx, store, "state-2026-10-18.mmfs")
//	...
//	_, err = mmvar.Restore(ctx, store, "state-2026-10-18.mmfs", "state.mmf")
//
// # Observability
//
// WithLogger enables structured logging via log/slog. WithMetricsCollector
// plugs in BasicMetricsCollector or the Prometheus collector from package
// promcollector.
package mmvar
