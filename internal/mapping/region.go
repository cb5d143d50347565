package mapping

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/mmvar/internal/arena"
	"github.com/hupe1980/mmvar/internal/conv"
	"github.com/hupe1980/mmvar/internal/directory"
	"github.com/hupe1980/mmvar/internal/fs"
	"github.com/hupe1980/mmvar/internal/mmap"
	"github.com/hupe1980/mmvar/internal/resource"
)

var (
	// ErrCorruptHeader is returned when the file header fails validation.
	ErrCorruptHeader = errors.New("mapping: corrupt header")
	// ErrLimit is returned when the mapping cannot grow any further.
	ErrLimit = errors.New("mapping: size limit reached")
	// ErrClosed is returned when using a closed region.
	ErrClosed = errors.New("mapping: closed")
	// ErrInvalidConfig is returned for unusable size settings.
	ErrInvalidConfig = errors.New("mapping: invalid config")
)

// Config controls how a Region is created and grown.
type Config struct {
	// InitialSize is the file size used when creating a new file.
	InitialSize uint64
	// MaxSize caps the mapping size.
	MaxSize uint64
	// GrowthStep is the minimum number of bytes added by Grow.
	GrowthStep uint64
	// DirectorySlots is the number of slots in the reserved directory block.
	// It only applies when creating a file.
	DirectorySlots uint64
	FileMode       os.FileMode
	FS             fs.FileSystem
	Resources      *resource.Controller
	Access         mmap.AccessPattern
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		InitialSize:    1 << 20,
		MaxSize:        1 << 30,
		GrowthStep:     1 << 20,
		DirectorySlots: 256,
		FileMode:       0o644,
		FS:             fs.Default,
		Access:         mmap.AccessRandom,
	}
}

// Region is an open variable file: the file, its shared mapping and the
// locks that guard both.
//
// Region implements arena.Space and directory.Space.
type Region struct {
	path  string
	cfg   Config
	page  uint64
	file  fs.File
	m     *mmap.Mapping
	flock *mmap.FileLock

	mu       sync.RWMutex
	reserved int64
	created  bool
	grows    atomic.Uint64
	closed   atomic.Bool
}

// Open maps the file at path, creating and formatting it if it is missing
// or empty.
func Open(path string, cfg Config) (*Region, error) {
	if cfg.FS == nil {
		cfg.FS = fs.Default
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0o644
	}

	r := &Region{path: path, cfg: cfg, page: uint64(os.Getpagesize())}

	f, err := cfg.FS.OpenFile(path, os.O_RDWR|os.O_CREATE, cfg.FileMode)
	if err != nil {
		return nil, fmt.Errorf("mapping: open %s: %w", path, err)
	}
	r.file = f
	r.flock = mmap.NewFileLock(f)

	if err := r.open(); err != nil {
		if r.m != nil {
			_ = r.m.Close()
		}
		cfg.Resources.Release(r.reserved)
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Region) open() error {
	// Exclusive while deciding between create and load, so two processes
	// never format the same file.
	if err := r.flock.Lock(); err != nil {
		return fmt.Errorf("mapping: lock %s: %w", r.path, err)
	}
	defer func() { _ = r.flock.Unlock() }()

	fi, err := r.file.Stat()
	if err != nil {
		return err
	}

	if fi.Size() == 0 {
		err = r.create()
	} else {
		err = r.load(fi.Size())
	}
	if err != nil {
		return err
	}

	if r.cfg.Access != mmap.AccessDefault {
		_ = r.m.Advise(r.cfg.Access)
	}
	return nil
}

func heapBottomFor(slots uint64) uint64 {
	return HeaderSize + directory.BlockSize(slots)
}

func (r *Region) create() error {
	slots := r.cfg.DirectorySlots
	if slots == 0 {
		return fmt.Errorf("%w: directory needs at least one slot", ErrInvalidConfig)
	}
	bottom := heapBottomFor(slots)
	initial, ok := conv.AlignUp(max(r.cfg.InitialSize, bottom+arena.MinChunk), r.page)
	if !ok || initial > r.cfg.MaxSize {
		return fmt.Errorf("%w: initial size %d exceeds max size %d", ErrInvalidConfig, initial, r.cfg.MaxSize)
	}
	size, err := conv.Uint64ToInt(initial)
	if err != nil {
		return err
	}

	if err := r.reserve(initial); err != nil {
		return err
	}
	if err := r.file.Truncate(int64(size)); err != nil {
		return fmt.Errorf("mapping: truncate %s: %w", r.path, err)
	}
	m, err := mmap.Map(r.file, size)
	if err != nil {
		return fmt.Errorf("mapping: map %s: %w", r.path, err)
	}
	r.m = m

	b := m.Bytes()
	encodeHeader(b, Header{
		Version:       Version,
		MappedSize:    initial,
		HeapBottom:    bottom,
		HeapTop:       initial,
		Break:         bottom,
		ReservedSlots: slots,
		CreatedAt:     time.Now().UnixNano(),
	})
	directory.FormatBlock(b[HeaderSize:], slots)
	if err := arena.Format(r); err != nil {
		return err
	}
	r.created = true
	return m.Sync()
}

func (r *Region) load(fileSize int64) error {
	if fileSize < HeaderSize {
		return fmt.Errorf("%w: file is %d bytes", ErrCorruptHeader, fileSize)
	}
	var buf [HeaderSize]byte
	if _, err := r.file.ReadAt(buf[:], 0); err != nil {
		return fmt.Errorf("mapping: read header: %w", err)
	}
	h := DecodeHeader(buf[:])
	if err := validateHeader(buf[:], h, uint64(fileSize)); err != nil {
		return err
	}

	size, err := conv.Uint64ToInt(h.MappedSize)
	if err != nil {
		return err
	}
	if err := r.reserve(h.MappedSize); err != nil {
		return err
	}
	m, err := mmap.Map(r.file, size)
	if err != nil {
		return fmt.Errorf("mapping: map %s: %w", r.path, err)
	}
	r.m = m

	if err := arena.CheckFirst(r); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptHeader, err)
	}
	return nil
}

func validateHeader(b []byte, h Header, fileSize uint64) error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrCorruptHeader}, args...)...)
	}
	switch {
	case !bytes.Equal(b[offMagic:offMagic+magicLength], Magic[:]):
		return bad("bad magic %q", b[offMagic:offMagic+magicLength])
	case h.Version != Version:
		return bad("unsupported version %d", h.Version)
	case h.Checksum != headerChecksum(b):
		return bad("checksum mismatch")
	case h.ReservedSlots == 0 || h.HeapBottom != heapBottomFor(h.ReservedSlots):
		return bad("heap bottom %d does not match %d reserved slots", h.HeapBottom, h.ReservedSlots)
	case h.HeapBottom%headerAlign != 0 || h.HeapTop%headerAlign != 0:
		return bad("unaligned heap [%d, %d)", h.HeapBottom, h.HeapTop)
	case h.HeapBottom > h.Break || h.Break > h.HeapTop || h.HeapTop > h.MappedSize:
		return bad("heap_bottom %d, break %d, heap_top %d, mapped_size %d out of order",
			h.HeapBottom, h.Break, h.HeapTop, h.MappedSize)
	case h.HeapTop-h.HeapBottom < arena.MinChunk:
		return bad("heap of %d bytes is too small", h.HeapTop-h.HeapBottom)
	case h.MappedSize > fileSize:
		return bad("mapped size %d beyond file size %d", h.MappedSize, fileSize)
	case h.FreeHead != 0 && (h.FreeHead < h.HeapBottom || h.FreeHead >= h.HeapTop):
		return bad("free list head %d outside heap", h.FreeHead)
	}
	return nil
}

func (r *Region) reserve(n uint64) error {
	v, err := conv.Uint64ToInt64(n)
	if err != nil {
		return err
	}
	if !r.cfg.Resources.TryReserve(v) {
		return fmt.Errorf("%w: mapping budget exhausted", ErrLimit)
	}
	r.reserved += v
	return nil
}

func (r *Region) unreserve(n uint64) {
	v, err := conv.Uint64ToInt64(n)
	if err != nil {
		return
	}
	r.cfg.Resources.Release(v)
	r.reserved -= v
}

// Grow extends the file and the mapping by at least minBytes, rounded up to
// the growth step and the page size, and returns the old and new heap top.
// The caller holds the exclusive lock.
func (r *Region) Grow(minBytes uint64) (uint64, uint64, error) {
	if r.closed.Load() {
		return 0, 0, ErrClosed
	}
	mapped := r.MappedSize()
	oldTop := r.HeapTop()

	want, ok := conv.AlignUp(mapped+max(minBytes, r.cfg.GrowthStep), r.page)
	if !ok || want < mapped {
		return 0, 0, fmt.Errorf("%w: size overflow", ErrLimit)
	}
	if want > r.cfg.MaxSize {
		// Settle for less than a full step if the request still fits.
		want = r.cfg.MaxSize &^ (r.page - 1)
		if want < mapped || want-mapped < minBytes {
			return 0, 0, fmt.Errorf("%w: need %d more bytes, mapping is %d of at most %d",
				ErrLimit, minBytes, mapped, r.cfg.MaxSize)
		}
	}
	size, err := conv.Uint64ToInt(want)
	if err != nil {
		return 0, 0, err
	}

	delta := want - mapped
	if err := r.reserve(delta); err != nil {
		return 0, 0, err
	}
	if err := r.extendFile(want); err != nil {
		r.unreserve(delta)
		return 0, 0, err
	}
	if err := r.m.Remap(size); err != nil {
		r.unreserve(delta)
		return 0, 0, fmt.Errorf("mapping: remap %s: %w", r.path, err)
	}

	b := r.m.Bytes()
	store(b, offTop, want)
	store(b, offMapped, want)
	r.grows.Add(1)
	return oldTop, want, nil
}

func (r *Region) extendFile(size uint64) error {
	fi, err := r.file.Stat()
	if err != nil {
		return err
	}
	if uint64(fi.Size()) >= size {
		return nil
	}
	if err := r.file.Truncate(int64(size)); err != nil {
		return fmt.Errorf("mapping: truncate %s: %w", r.path, err)
	}
	return nil
}

// stale reports whether another process grew the file beyond our mapping.
func (r *Region) stale() bool {
	return r.MappedSize() > uint64(r.m.Size())
}

// refresh remaps after another process grew the file. The caller holds the
// in-process write lock and a file lock.
func (r *Region) refresh() error {
	want := r.MappedSize()
	have := uint64(r.m.Size())
	if want <= have {
		return nil
	}
	size, err := conv.Uint64ToInt(want)
	if err != nil {
		return err
	}
	if err := r.reserve(want - have); err != nil {
		return err
	}
	if err := r.m.Remap(size); err != nil {
		r.unreserve(want - have)
		return fmt.Errorf("mapping: remap %s: %w", r.path, err)
	}
	return nil
}

// Lock takes the in-process write lock and the exclusive file lock, then
// catches up with growth done by other processes.
func (r *Region) Lock() error {
	r.mu.Lock()
	if r.closed.Load() {
		r.mu.Unlock()
		return ErrClosed
	}
	if err := r.flock.Lock(); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("mapping: lock %s: %w", r.path, err)
	}
	if err := r.refresh(); err != nil {
		_ = r.flock.Unlock()
		r.mu.Unlock()
		return err
	}
	return nil
}

// Unlock releases both locks taken by Lock.
func (r *Region) Unlock() error {
	err := r.flock.Unlock()
	r.mu.Unlock()
	return err
}

// RLock takes the in-process read lock and the shared file lock. If the file
// was grown elsewhere it briefly upgrades to remap and retries.
func (r *Region) RLock() error {
	for {
		r.mu.RLock()
		if r.closed.Load() {
			r.mu.RUnlock()
			return ErrClosed
		}
		if err := r.flock.RLock(); err != nil {
			r.mu.RUnlock()
			return fmt.Errorf("mapping: lock %s: %w", r.path, err)
		}
		if !r.stale() {
			return nil
		}
		_ = r.flock.RUnlock()
		r.mu.RUnlock()

		if err := r.Lock(); err != nil {
			return err
		}
		if err := r.Unlock(); err != nil {
			return err
		}
	}
}

// RUnlock releases both locks taken by RLock.
func (r *Region) RUnlock() error {
	err := r.flock.RUnlock()
	r.mu.RUnlock()
	return err
}

// LocalRLock takes only the in-process read lock. The mapping is not
// remapped while it is held, but other processes are not excluded.
func (r *Region) LocalRLock() error {
	r.mu.RLock()
	if r.closed.Load() {
		r.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

// LocalRUnlock releases LocalRLock.
func (r *Region) LocalRUnlock() {
	r.mu.RUnlock()
}

// Sync flushes the mapping to the file.
func (r *Region) Sync() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed.Load() {
		return ErrClosed
	}
	return r.m.Sync()
}

// Close syncs and unmaps the file, releases the mapping budget and closes the
// file. It waits for in-flight operations and is idempotent.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Swap(true) {
		return nil
	}
	var errs []error
	if err := r.m.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, err)
	}
	r.cfg.Resources.Release(r.reserved)
	r.reserved = 0
	return errors.Join(errs...)
}

// Path returns the file path.
func (r *Region) Path() string { return r.path }

// Created reports whether Open formatted a new file.
func (r *Region) Created() bool { return r.created }

// Grows returns the number of successful Grow calls by this process.
func (r *Region) Grows() uint64 { return r.grows.Load() }

// Header decodes the current header.
func (r *Region) Header() Header { return DecodeHeader(r.m.Bytes()) }

// Bytes returns the whole mapping. The slice is invalid after Grow, a lock
// acquisition or Close.
func (r *Region) Bytes() []byte { return r.m.Bytes() }

// The accessors below read and write header fields in place. Callers hold
// the file lock: shared for reads, exclusive for the setters.

// MappedSize returns the file size recorded in the header.
func (r *Region) MappedSize() uint64 { return load(r.m.Bytes(), offMapped) }

// HeapBottom returns the offset of the first heap chunk.
func (r *Region) HeapBottom() uint64 { return load(r.m.Bytes(), offBottom) }

// HeapTop returns the end of the heap, which equals MappedSize.
func (r *Region) HeapTop() uint64 { return load(r.m.Bytes(), offTop) }

// FreeHead returns the offset of the first free chunk, or 0 when the free
// list is empty.
func (r *Region) FreeHead() uint64 { return load(r.m.Bytes(), offFreeHead) }

// SetFreeHead stores the free list head.
func (r *Region) SetFreeHead(off uint64) { store(r.m.Bytes(), offFreeHead, off) }

// Break returns the highest heap offset ever handed out.
func (r *Region) Break() uint64 { return load(r.m.Bytes(), offBreak) }

// SetBreak stores the break pointer.
func (r *Region) SetBreak(off uint64) { store(r.m.Bytes(), offBreak, off) }

// Epoch returns the directory epoch. It changes on every define and remove.
func (r *Region) Epoch() uint64 { return load(r.m.Bytes(), offEpoch) }

// VariableCount returns the number of defined variables.
func (r *Region) VariableCount() uint64 { return load(r.m.Bytes(), offCount) }

// SetVariableCount stores the number of defined variables.
func (r *Region) SetVariableCount(n uint64) { store(r.m.Bytes(), offCount, n) }

// ReservedSlots returns the slot count of the directory block fixed at
// creation.
func (r *Region) ReservedSlots() uint64 { return load(r.m.Bytes(), offSlots) }

// BumpEpoch increments the directory epoch and returns the new value.
func (r *Region) BumpEpoch() uint64 {
	e := r.Epoch() + 1
	store(r.m.Bytes(), offEpoch, e)
	return e
}

// MaxHeapTop returns the highest heap top Grow can reach.
func (r *Region) MaxHeapTop() uint64 {
	return max(r.cfg.MaxSize&^(r.page-1), r.MappedSize())
}

// DirectoryOffset returns the offset of the reserved directory block.
func (r *Region) DirectoryOffset() uint64 { return HeaderSize }
