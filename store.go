package mmvar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hupe1980/mmvar/internal/arena"
	"github.com/hupe1980/mmvar/internal/directory"
	"github.com/hupe1980/mmvar/internal/mapping"
)

// Store is an open variable file.
//
// A Store is safe for concurrent use. Several Stores, in one process or in
// several, may open the same file; they coordinate through file locks.
type Store struct {
	region *mapping.Region
	arena  *arena.Arena
	dir    *directory.Directory

	opts    options
	logger  *Logger
	metrics MetricsCollector

	closed atomic.Bool
	broken atomic.Pointer[brokenState]
}

type brokenState struct {
	err error
}

// Open opens the variable file at path, creating it if it does not exist or
// is empty. Existing files are validated; a damaged header fails with
// ErrCorruptHeader.
func Open(path string, optFns ...Option) (*Store, error) {
	o := applyOptions(optFns)
	ctx := context.Background()
	logger := o.logger.WithPath(path)

	region, err := mapping.Open(path, o.mapping)
	if err != nil {
		err = translateError(err)
		logger.LogOpen(ctx, path, false, 0, err)
		return nil, err
	}

	s := &Store{
		region:  region,
		opts:    o,
		logger:  logger,
		metrics: o.metricsCollector,
	}
	s.arena = arena.New(region)
	s.dir = directory.New(region, s.arena, region.DirectoryOffset())

	if err := s.init(); err != nil {
		_ = region.Close()
		logger.LogOpen(ctx, path, region.Created(), 0, err)
		return nil, err
	}

	logger.LogOpen(ctx, path, region.Created(), region.MappedSize(), nil)
	return s, nil
}

// init builds the name index so immediate reads can skip the file lock.
func (s *Store) init() error {
	if s.opts.verifyOnOpen {
		return s.Check()
	}
	return s.shared(func() error {
		_, err := s.dir.Len()
		return err
	})
}

// Path returns the path of the variable file.
func (s *Store) Path() string {
	return s.region.Path()
}

func (s *Store) usable() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if b := s.broken.Load(); b != nil {
		return b.err
	}
	return nil
}

// fail translates err and marks the store broken on corruption.
func (s *Store) fail(err error) error {
	err = translateError(err)
	if err != nil && isCorruption(err) {
		if s.broken.CompareAndSwap(nil, &brokenState{err: err}) {
			s.logger.LogCorruption(context.Background(), err)
			s.metrics.RecordCorruption(err)
		}
	}
	return err
}

// exclusive runs fn under the exclusive lock.
func (s *Store) exclusive(fn func() error) (err error) {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.region.Lock(); err != nil {
		return s.fail(err)
	}
	before := s.region.MappedSize()
	defer func() {
		if after := s.region.MappedSize(); after > before {
			s.metrics.RecordGrow(before, after)
			s.logger.LogGrow(context.Background(), before, after)
		}
		if uerr := s.region.Unlock(); uerr != nil && err == nil {
			err = s.fail(uerr)
		}
	}()
	return s.fail(fn())
}

// shared runs fn under the shared lock.
func (s *Store) shared(fn func() error) (err error) {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.region.RLock(); err != nil {
		return s.fail(err)
	}
	defer func() {
		if uerr := s.region.RUnlock(); uerr != nil && err == nil {
			err = s.fail(uerr)
		}
	}()
	return s.fail(fn())
}

// Define creates a variable. Immediate types ignore size. Indirect types
// get a zeroed buffer of size bytes in the arena.
func (s *Store) Define(name string, typ Type, size int) (Handle, error) {
	start := time.Now()
	h, err := s.define(name, typ, size)
	s.metrics.RecordDefine(typ, time.Since(start), err)
	s.logger.LogDefine(context.Background(), name, typ, size, err)
	return h, err
}

func (s *Store) define(name string, typ Type, size int) (Handle, error) {
	if !typ.Valid() {
		return Handle{}, fmt.Errorf("%w: unknown type %d", ErrTypeMismatch, uint32(typ))
	}
	if size < 0 {
		return Handle{}, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if err := directory.ValidateName(name); err != nil {
		return Handle{}, translateError(err)
	}

	var h Handle
	err := s.exclusive(func() error {
		e, err := s.defineLocked(name, typ, uint64(size))
		if err != nil {
			return err
		}
		h = handleOf(e)
		return nil
	})
	return h, err
}

// defineLocked allocates storage and claims a slot; if claiming fails the
// allocation is rolled back, break pointer included.
func (s *Store) defineLocked(name string, typ Type, size uint64) (directory.Entry, error) {
	if _, err := s.dir.Lookup(name); err == nil {
		return directory.Entry{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	} else if !errors.Is(err, directory.ErrNotFound) {
		return directory.Entry{}, err
	}

	if typ.Immediate() {
		return s.dir.Claim(name, typ, 0, 8)
	}

	brk := s.region.Break()
	off, err := s.arena.Alloc(size)
	if err != nil {
		return directory.Entry{}, err
	}
	e, err := s.dir.Claim(name, typ, off, size)
	if err != nil {
		if ferr := s.arena.Rollback(off, brk); ferr != nil {
			return directory.Entry{}, errors.Join(err, ferr)
		}
		return directory.Entry{}, err
	}
	return e, nil
}

// Lookup returns the handle of the variable named name.
func (s *Store) Lookup(name string) (Handle, error) {
	if err := directory.ValidateName(name); err != nil {
		return Handle{}, translateError(err)
	}
	var h Handle
	err := s.shared(func() error {
		e, err := s.dir.Lookup(name)
		if err != nil {
			return err
		}
		h = handleOf(e)
		return nil
	})
	return h, err
}

// Read returns the current value of a variable. Indirect values are copied.
func (s *Store) Read(h Handle) (Value, error) {
	start := time.Now()
	v, err := s.read(h)
	s.metrics.RecordRead(h.typ, time.Since(start), err)
	return v, err
}

func (s *Store) read(h Handle) (Value, error) {
	if err := s.usable(); err != nil {
		return Value{}, err
	}
	if h.IsZero() {
		return Value{}, ErrInvalidHandle
	}
	if h.typ.Immediate() {
		if v, ok := s.peek(h); ok {
			return v, nil
		}
	}

	var v Value
	err := s.shared(func() error {
		e, err := s.dir.Get(h.slot, h.gen)
		if err != nil {
			return err
		}
		if e.Type.Immediate() {
			v = Value{typ: e.Type, bits: e.Value}
			return nil
		}
		data, err := s.payload(e)
		if err != nil {
			return err
		}
		v = Value{typ: e.Type, data: bytes.Clone(data)}
		return nil
	})
	return v, err
}

// peek reads an immediate value under the in-process lock only.
func (s *Store) peek(h Handle) (Value, bool) {
	if err := s.region.LocalRLock(); err != nil {
		return Value{}, false
	}
	defer s.region.LocalRUnlock()
	e, ok := s.dir.Peek(h.slot, h.gen)
	if !ok {
		return Value{}, false
	}
	return Value{typ: e.Type, bits: e.Value}, true
}

// payload returns the bytes of an indirect entry after checking that they
// lie inside a used chunk.
func (s *Store) payload(e directory.Entry) ([]byte, error) {
	if e.Value == 0 {
		return []byte{}, nil
	}
	capacity, err := s.arena.Capacity(e.Value)
	if err != nil {
		return nil, err
	}
	if e.Size > capacity {
		return nil, &directory.CorruptionError{
			Offset: e.Offset,
			Reason: fmt.Sprintf("size %d of %q exceeds chunk capacity %d", e.Size, e.Name, capacity),
		}
	}
	return s.region.Bytes()[e.Value : e.Value+e.Size], nil
}

// View calls fn with the bytes of an indirect variable while holding the
// shared lock. The slice must not be retained or modified.
func (s *Store) View(h Handle, fn func([]byte) error) error {
	start := time.Now()
	err := s.view(h, fn)
	s.metrics.RecordRead(h.typ, time.Since(start), err)
	return err
}

func (s *Store) view(h Handle, fn func([]byte) error) error {
	if h.IsZero() {
		return ErrInvalidHandle
	}
	if h.typ.Immediate() {
		return fmt.Errorf("%w: View needs a bytes or string variable, got %s", ErrTypeMismatch, h.typ)
	}
	return s.shared(func() error {
		e, err := s.dir.Get(h.slot, h.gen)
		if err != nil {
			return err
		}
		data, err := s.payload(e)
		if err != nil {
			return err
		}
		return fn(data)
	})
}

// Write replaces the value of a variable. v must have the variable's type.
// Indirect values that fit the current chunk are written in place; larger
// ones move to a new chunk and the old one is freed.
func (s *Store) Write(h Handle, v Value) error {
	start := time.Now()
	err := s.write(h, v)
	s.metrics.RecordWrite(h.typ, v.Len(), time.Since(start), err)
	s.logger.LogWrite(context.Background(), h, v.Len(), err)
	return err
}

func (s *Store) write(h Handle, v Value) error {
	if h.IsZero() {
		return ErrInvalidHandle
	}
	if v.typ != h.typ {
		return fmt.Errorf("%w: variable is %s, value is %s", ErrTypeMismatch, h.typ, v.typ)
	}
	return s.exclusive(func() error {
		return s.writeLocked(h, v)
	})
}

func (s *Store) writeLocked(h Handle, v Value) error {
	e, err := s.dir.Get(h.slot, h.gen)
	if err != nil {
		return err
	}
	if e.Type != v.typ {
		return fmt.Errorf("%w: variable is %s, value is %s", ErrTypeMismatch, e.Type, v.typ)
	}
	if e.Type.Immediate() {
		return s.dir.SetValue(e.Slot, e.Gen, v.bits, 8)
	}

	size := uint64(len(v.data))
	if e.Value != 0 {
		capacity, err := s.arena.Capacity(e.Value)
		if err != nil {
			return err
		}
		if size <= capacity {
			b := s.region.Bytes()
			copy(b[e.Value:], v.data)
			if e.Size > size {
				clear(b[e.Value+size : e.Value+min(e.Size, capacity)])
			}
			return s.dir.SetValue(e.Slot, e.Gen, e.Value, size)
		}
	}

	off, err := s.arena.Alloc(size)
	if err != nil {
		return err
	}
	// Alloc may have remapped.
	copy(s.region.Bytes()[off:], v.data)
	if err := s.dir.SetValue(e.Slot, e.Gen, off, size); err != nil {
		return errors.Join(err, s.arena.Free(off))
	}
	if e.Value != 0 {
		return s.arena.Free(e.Value)
	}
	return nil
}

// Remove deletes a variable and frees its storage. The handle and every
// copy of it become stale.
func (s *Store) Remove(h Handle) error {
	start := time.Now()
	err := s.remove(h)
	s.metrics.RecordRemove(time.Since(start), err)
	s.logger.LogRemove(context.Background(), h, err)
	return err
}

func (s *Store) remove(h Handle) error {
	if h.IsZero() {
		return ErrInvalidHandle
	}
	return s.exclusive(func() error {
		e, err := s.dir.Get(h.slot, h.gen)
		if err != nil {
			return err
		}
		indirect := !e.Type.Immediate() && e.Value != 0
		if indirect {
			if _, err := s.arena.Capacity(e.Value); err != nil {
				return err
			}
		}
		if _, err := s.dir.Release(e.Slot, e.Gen); err != nil {
			return err
		}
		if indirect {
			return s.arena.Free(e.Value)
		}
		return nil
	})
}

// Free releases the storage of an indirect variable. The variable stays
// defined with an empty value; a later Write allocates new storage.
// Freeing a variable that holds no storage fails with ErrDoubleFree and
// changes nothing.
func (s *Store) Free(h Handle) error {
	start := time.Now()
	err := s.free(h)
	s.metrics.RecordFree(time.Since(start), err)
	s.logger.LogFree(context.Background(), h, err)
	return err
}

func (s *Store) free(h Handle) error {
	if h.IsZero() {
		return ErrInvalidHandle
	}
	if h.typ.Immediate() {
		return fmt.Errorf("%w: %s variables have no storage to free", ErrTypeMismatch, h.typ)
	}
	return s.exclusive(func() error {
		e, err := s.dir.Get(h.slot, h.gen)
		if err != nil {
			return err
		}
		if e.Value == 0 {
			return fmt.Errorf("%w: %q holds no storage", ErrDoubleFree, e.Name)
		}
		if _, err := s.arena.Capacity(e.Value); err != nil {
			return err
		}
		// Unpublish before freeing so the entry never points at a free chunk.
		if err := s.dir.SetValue(e.Slot, e.Gen, 0, 0); err != nil {
			return err
		}
		return s.arena.Free(e.Value)
	})
}

// Range calls fn for every variable in slot order until fn returns false.
// fn runs without any lock held and may use the Store.
func (s *Store) Range(fn func(Variable) bool) error {
	var vars []Variable
	err := s.shared(func() error {
		return s.dir.Range(func(e directory.Entry) bool {
			vars = append(vars, Variable{Name: e.Name, Type: e.Type, Size: e.Size, Handle: handleOf(e)})
			return true
		})
	})
	if err != nil {
		return err
	}
	for _, v := range vars {
		if !fn(v) {
			return nil
		}
	}
	return nil
}

// Names returns the names of all variables in slot order.
func (s *Store) Names() ([]string, error) {
	var names []string
	err := s.Range(func(v Variable) bool {
		names = append(names, v.Name)
		return true
	})
	return names, err
}

// Len returns the number of defined variables.
func (s *Store) Len() (int, error) {
	var n int
	err := s.shared(func() error {
		n = int(s.region.VariableCount())
		return nil
	})
	return n, err
}

// Grow extends the file by at least minBytes ahead of demand.
func (s *Store) Grow(minBytes uint64) error {
	return s.exclusive(func() error {
		oldTop, newTop, err := s.region.Grow(minBytes)
		if err != nil {
			return err
		}
		return s.arena.Extend(oldTop, newTop)
	})
}

// Sync flushes the mapping to the file.
func (s *Store) Sync() error {
	if err := s.usable(); err != nil {
		return err
	}
	return translateError(s.region.Sync())
}
