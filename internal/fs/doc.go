// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: an open file that can be truncated, synced and memory mapped
//   - [FileSystem]: open, create-temp, remove, rename and stat operations
//
// # Implementations
//
//   - [LocalFS]: Production implementation using standard os package
//   - [FaultyFS]: Test utility for fault injection (simulate I/O errors)
//
// Production code should use fs.Default (which is [LocalFS]):
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
//
// Tests can inject [FaultyFS] to make a store's growth fail:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("vars.mmf", fs.Fault{FailAfterBytes: -1, FailOnTruncate: true})
//
// This package intentionally does NOT include context.Context parameters.
// Local filesystem operations are non-interruptible at the syscall level.
package fs
