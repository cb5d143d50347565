package mmap

import (
	"io"
	"sync/atomic"
)

// Fder is the part of an open file the mapping needs.
type Fder interface {
	Fd() uintptr
}

// Mapping is a shared, writable memory mapping of a file.
//
// A Mapping is not safe for concurrent Remap/Close with other calls; the
// owner serializes those behind its own lock.
type Mapping struct {
	f       Fder
	data    []byte
	pattern AccessPattern
	closed  atomic.Bool
}

// Map maps the first size bytes of f read-write with MAP_SHARED.
// The file must already be at least size bytes long.
func Map(f Fder, size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	data, err := osMap(f.Fd(), size)
	if err != nil {
		return nil, err
	}
	return &Mapping{f: f, data: data}, nil
}

// Remap replaces the mapping with one of newSize bytes. The mapping never
// shrinks. Slices obtained from Bytes before the call must not be used after it.
func (m *Mapping) Remap(newSize int) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if newSize < len(m.data) {
		return ErrInvalidSize
	}
	if newSize == len(m.data) {
		return nil
	}
	data, err := osMap(m.f.Fd(), newSize)
	if err != nil {
		return err
	}
	old := m.data
	m.data = data
	if m.pattern != AccessDefault {
		_ = osAdvise(m.data, m.pattern)
	}
	return osUnmap(old)
}

// Bytes returns the mapped byte slice.
// Warning: The slice is valid only until the next Remap or Close.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return len(m.data)
}

// Sync flushes dirty pages to the backing file and waits for completion.
func (m *Mapping) Sync() error {
	if m.closed.Load() {
		return ErrClosed
	}
	return osSync(m.data)
}

// Advise provides hints to the kernel about how the memory will be accessed.
// The hint is re-applied after every Remap.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.pattern = pattern
	return osAdvise(m.data, pattern)
}

// ReadAt implements io.ReaderAt.
func (m *Mapping) ReadAt(p []byte, off int64) (n int, err error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n = copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close flushes and unmaps the memory. It is idempotent. The file is not closed.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	data := m.data
	m.data = nil
	if data == nil {
		return nil
	}
	syncErr := osSync(data)
	if err := osUnmap(data); err != nil {
		return err
	}
	return syncErr
}
