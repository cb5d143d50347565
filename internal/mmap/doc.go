// Package mmap provides shared, writable memory mappings of files.
//
// # Overview
//
// A Mapping maps a file read-write with MAP_SHARED so that stores into the
// returned slice land in the page cache and, after Sync or Close, in the file.
// Every process that maps the same file sees the same bytes.
//
//	m, err := mmap.Map(f, size)
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes()
//	_ = m.Remap(size * 2) // after growing the file
//
// # Growth
//
// Remap replaces the mapping with a larger one after the caller has extended
// the file. Slices returned by Bytes are invalidated by Remap, so callers keep
// offsets rather than slices across operations that may grow the file.
//
// # Locking
//
// FileLock wraps flock(2). It coordinates processes that map the same file;
// in-process coordination remains the caller's job.
//
// # Platform Support
//
// Only Unix-like systems are supported (mmap(2), msync(2), madvise(2), flock(2)).
package mmap
