package mmvar

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, optFns ...Option) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vars.mmf")
	s, err := Open(path, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func reopen(t *testing.T, s *Store, optFns ...Option) *Store {
	t.Helper()
	path := s.Path()
	require.NoError(t, s.Close())
	s2, err := Open(path, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })
	return s2
}

func TestStore_Counter(t *testing.T) {
	s, _ := openTemp(t)

	h, err := s.Define("counter", TypeInt64, 0)
	require.NoError(t, err)
	assert.Equal(t, TypeInt64, h.Type())

	v, err := s.Read(h)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Int64())

	require.NoError(t, s.Write(h, Int64Value(42)))
	v, err = s.Read(h)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())

	s = reopen(t, s)

	h2, err := s.Lookup("counter")
	require.NoError(t, err)
	assert.Equal(t, h, h2)

	v, err = s.Read(h2)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())
}

func TestStore_FreedChunkIsReused(t *testing.T) {
	s, _ := openTemp(t)

	before, err := s.Stats()
	require.NoError(t, err)

	buf, err := s.Define("buf", TypeBytes, 10)
	require.NoError(t, err)
	first, err := s.dir.Lookup("buf")
	require.NoError(t, err)

	require.NoError(t, s.Free(buf))

	_, err = s.Define("buf2", TypeBytes, 10)
	require.NoError(t, err)
	second, err := s.dir.Lookup("buf2")
	require.NoError(t, err)

	assert.Equal(t, first.Value, second.Value)

	after, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, before.MappedSize, after.MappedSize)
	assert.Zero(t, after.Grows)
}

func TestStore_DoubleFree(t *testing.T) {
	s, _ := openTemp(t)

	h, err := s.Define("buf", TypeBytes, 10)
	require.NoError(t, err)
	require.NoError(t, s.Free(h))

	afterFirst, err := s.Stats()
	require.NoError(t, err)

	err = s.Free(h)
	require.ErrorIs(t, err, ErrDoubleFree)

	afterSecond, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, afterFirst.Heap.UsedChunks, afterSecond.Heap.UsedChunks)
	assert.Equal(t, afterFirst.Heap.UsedBytes, afterSecond.Heap.UsedBytes)
	assert.Equal(t, afterFirst.Heap.FreeBytes, afterSecond.Heap.FreeBytes)

	// The variable survives with an empty value and can be written again.
	v, err := s.Read(h)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Len())

	require.NoError(t, s.Write(h, BytesValue([]byte("again"))))
	v, err = s.Read(h)
	require.NoError(t, err)
	assert.Equal(t, "again", string(v.Bytes()))
	require.NoError(t, s.Check())
}

func TestStore_FreeImmediate(t *testing.T) {
	s, _ := openTemp(t)
	h, err := s.Define("n", TypeUint64, 0)
	require.NoError(t, err)
	require.ErrorIs(t, s.Free(h), ErrTypeMismatch)
}

func TestStore_DefineErrors(t *testing.T) {
	s, _ := openTemp(t)

	_, err := s.Define("x", TypeInt64, 0)
	require.NoError(t, err)

	tests := []struct {
		name    string
		varName string
		typ     Type
		size    int
		want    error
	}{
		{"Duplicate", "x", TypeBytes, 4, ErrDuplicateName},
		{"NameTooLong", strings.Repeat("n", MaxNameLen+1), TypeInt64, 0, ErrNameTooLong},
		{"EmptyName", "", TypeInt64, 0, ErrInvalidName},
		{"NulInName", "a\x00b", TypeInt64, 0, ErrInvalidName},
		{"UnknownType", "t", Type(99), 0, ErrTypeMismatch},
		{"NegativeSize", "neg", TypeBytes, -1, ErrInvalidSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Define(tt.varName, tt.typ, tt.size)
			require.ErrorIs(t, err, tt.want)
		})
	}

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Define(strings.Repeat("n", MaxNameLen), TypeInt64, 0)
	require.NoError(t, err)
}

func TestStore_DuplicateLeavesHeapUnchanged(t *testing.T) {
	s, _ := openTemp(t)
	_, err := s.Define("blob", TypeBytes, 100)
	require.NoError(t, err)

	before, err := s.Stats()
	require.NoError(t, err)

	_, err = s.Define("blob", TypeBytes, 100)
	require.ErrorIs(t, err, ErrDuplicateName)

	after, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, before.Heap.UsedBytes, after.Heap.UsedBytes)
}

func TestStore_FailedDefineLeavesImageUnchanged(t *testing.T) {
	page := uint64(os.Getpagesize())
	s, _ := openTemp(t, WithInitialSize(page), WithMaxSize(page), WithDirectorySlots(1))

	_, err := s.Define("a", TypeInt64, 0)
	require.NoError(t, err)

	before, err := s.Stats()
	require.NoError(t, err)
	image := bytes.Clone(s.region.Bytes())

	// The payload fits, the extra directory block for the second slot does not.
	_, err = s.Define("b", TypeBytes, int(before.Heap.LargestFree-80))
	require.ErrorIs(t, err, ErrOutOfSpace)

	after, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, before.Break, after.Break)
	assert.Equal(t, before.Heap.UsedBytes, after.Heap.UsedBytes)
	assert.Equal(t, image, s.region.Bytes())

	_, err = s.Lookup("b")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Check())
}

func TestStore_WriteBytes(t *testing.T) {
	s, _ := openTemp(t)

	h, err := s.Define("blob", TypeBytes, 32)
	require.NoError(t, err)

	v, err := s.Read(h)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 32), v.Bytes())

	t.Run("InPlace", func(t *testing.T) {
		before, err := s.dir.Lookup("blob")
		require.NoError(t, err)

		require.NoError(t, s.Write(h, BytesValue([]byte("short"))))
		after, err := s.dir.Lookup("blob")
		require.NoError(t, err)
		assert.Equal(t, before.Value, after.Value)
		assert.Equal(t, uint64(5), after.Size)

		v, err := s.Read(h)
		require.NoError(t, err)
		assert.Equal(t, "short", string(v.Bytes()))
	})

	t.Run("Move", func(t *testing.T) {
		before, err := s.dir.Lookup("blob")
		require.NoError(t, err)

		big := bytes.Repeat([]byte("0123456789"), 100)
		require.NoError(t, s.Write(h, BytesValue(big)))
		after, err := s.dir.Lookup("blob")
		require.NoError(t, err)
		assert.NotEqual(t, before.Value, after.Value)
		assert.Equal(t, uint64(len(big)), after.Size)

		v, err := s.Read(h)
		require.NoError(t, err)
		assert.Equal(t, big, v.Bytes())

		stats, err := s.Stats()
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Heap.UsedChunks)
	})

	t.Run("Empty", func(t *testing.T) {
		require.NoError(t, s.Write(h, BytesValue(nil)))
		v, err := s.Read(h)
		require.NoError(t, err)
		assert.Equal(t, 0, v.Len())
	})

	require.NoError(t, s.Check())
}

func TestStore_ReadCopies(t *testing.T) {
	s, _ := openTemp(t)
	h, err := s.Define("s", TypeString, 0)
	require.NoError(t, err)
	require.NoError(t, s.Write(h, StringValue("hello")))

	v, err := s.Read(h)
	require.NoError(t, err)
	v.Bytes()[0] = 'j'

	v, err = s.Read(h)
	require.NoError(t, err)
	assert.Equal(t, "hello", v.String())
}

func TestStore_View(t *testing.T) {
	s, _ := openTemp(t)
	h, err := s.Define("s", TypeString, 0)
	require.NoError(t, err)
	require.NoError(t, s.Write(h, StringValue("zero copy")))

	var got string
	require.NoError(t, s.View(h, func(b []byte) error {
		got = string(b)
		return nil
	}))
	assert.Equal(t, "zero copy", got)

	boom := errors.New("boom")
	require.ErrorIs(t, s.View(h, func([]byte) error { return boom }), boom)

	n, err := s.Define("n", TypeInt64, 0)
	require.NoError(t, err)
	require.ErrorIs(t, s.View(n, func([]byte) error { return nil }), ErrTypeMismatch)
}

func TestStore_TypeMismatch(t *testing.T) {
	s, _ := openTemp(t)
	h, err := s.Define("f", TypeFloat64, 0)
	require.NoError(t, err)

	require.ErrorIs(t, s.Write(h, Int64Value(1)), ErrTypeMismatch)
	require.ErrorIs(t, s.Write(h, BytesValue([]byte("x"))), ErrTypeMismatch)

	require.NoError(t, s.Write(h, Float64Value(3.25)))
	v, err := s.Read(h)
	require.NoError(t, err)
	assert.InDelta(t, 3.25, v.Float64(), 0)
}

func TestStore_ZeroHandle(t *testing.T) {
	s, _ := openTemp(t)
	var h Handle
	assert.True(t, h.IsZero())

	_, err := s.Read(h)
	require.ErrorIs(t, err, ErrInvalidHandle)
	require.ErrorIs(t, s.Write(h, Int64Value(1)), ErrInvalidHandle)
	require.ErrorIs(t, s.Remove(h), ErrInvalidHandle)
	require.ErrorIs(t, s.Free(h), ErrInvalidHandle)
}

func TestStore_Remove(t *testing.T) {
	s, _ := openTemp(t)

	h, err := s.Define("tmp", TypeBytes, 64)
	require.NoError(t, err)
	require.NoError(t, s.Remove(h))

	_, err = s.Read(h)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.Remove(h), ErrNotFound)
	_, err = s.Lookup("tmp")
	require.ErrorIs(t, err, ErrNotFound)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Heap.UsedChunks)
	assert.Zero(t, stats.Variables)

	// Reusing the slot must not revive the old handle.
	h2, err := s.Define("tmp", TypeInt64, 0)
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
	_, err = s.Read(h)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RemovedImmediateIsNotPeeked(t *testing.T) {
	s, _ := openTemp(t)
	h, err := s.Define("n", TypeInt64, 0)
	require.NoError(t, err)
	require.NoError(t, s.Write(h, Int64Value(7)))
	require.NoError(t, s.Remove(h))

	_, err = s.Read(h)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RangeAndNames(t *testing.T) {
	s, _ := openTemp(t)

	for _, name := range []string{"a", "b", "c"} {
		_, err := s.Define(name, TypeBool, 0)
		require.NoError(t, err)
	}
	_, err := s.Define("d", TypeBytes, 12)
	require.NoError(t, err)

	names, err := s.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)

	var seen []Variable
	require.NoError(t, s.Range(func(v Variable) bool {
		seen = append(seen, v)
		return len(seen) < 2
	}))
	require.Len(t, seen, 2)

	// Callbacks may use the store.
	require.NoError(t, s.Range(func(v Variable) bool {
		_, err := s.Read(v.Handle)
		assert.NoError(t, err)
		return true
	}))

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestStore_Persistence(t *testing.T) {
	s, _ := openTemp(t)

	require.NoError(t, s.SetInt64("i", -5))
	require.NoError(t, s.SetUint64("u", 1<<63))
	require.NoError(t, s.SetFloat64("f", 2.5))
	require.NoError(t, s.SetBool("b", true))
	require.NoError(t, s.SetBytes("raw", []byte{0, 1, 2, 3}))
	require.NoError(t, s.SetString("str", "persisted"))
	require.NoError(t, s.Sync())

	names, err := s.Names()
	require.NoError(t, err)
	before, err := s.Stats()
	require.NoError(t, err)

	s = reopen(t, s)

	namesAfter, err := s.Names()
	require.NoError(t, err)
	assert.Equal(t, names, namesAfter)

	after, err := s.Stats()
	require.NoError(t, err)
	// Allocs and Frees count this process's operations only.
	before.Heap.Allocs, before.Heap.Frees = 0, 0
	assert.Equal(t, before.Heap, after.Heap)
	assert.Equal(t, before.Break, after.Break)
	assert.Equal(t, before.MappedSize, after.MappedSize)
	assert.Equal(t, before.Variables, after.Variables)

	i, err := s.GetInt64("i")
	require.NoError(t, err)
	assert.Equal(t, int64(-5), i)

	u, err := s.GetUint64("u")
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<63), u)

	f, err := s.GetFloat64("f")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, f, 0)

	b, err := s.GetBool("b")
	require.NoError(t, err)
	assert.True(t, b)

	raw, err := s.GetBytes("raw")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3}, raw)

	str, err := s.GetString("str")
	require.NoError(t, err)
	assert.Equal(t, "persisted", str)

	require.NoError(t, s.Check())
}

func TestStore_TypedHelpers(t *testing.T) {
	s, _ := openTemp(t)

	_, err := s.GetInt64("missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetString("greeting", "hi"))
	require.NoError(t, s.SetString("greeting", strings.Repeat("hello ", 50)))
	str, err := s.GetString("greeting")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("hello ", 50), str)

	_, err = s.GetInt64("greeting")
	require.ErrorIs(t, err, ErrTypeMismatch)
	require.ErrorIs(t, s.SetInt64("greeting", 1), ErrTypeMismatch)

	require.ErrorIs(t, s.SetInt64("", 1), ErrInvalidName)
	_, err = s.GetString(strings.Repeat("x", 40))
	require.ErrorIs(t, err, ErrNameTooLong)

	in := []byte("mutable")
	require.NoError(t, s.SetBytes("b", in))
	in[0] = 'M'
	out, err := s.GetBytes("b")
	require.NoError(t, err)
	assert.Equal(t, "mutable", string(out))

	require.NoError(t, s.Check())
}

func TestStore_Growth(t *testing.T) {
	s, _ := openTemp(t, WithInitialSize(64<<10), WithGrowthStep(64<<10))

	before, err := s.Stats()
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xAB}, 200<<10)
	require.NoError(t, s.SetBytes("big", payload))

	after, err := s.Stats()
	require.NoError(t, err)
	assert.Greater(t, after.MappedSize, before.MappedSize)
	assert.Equal(t, after.MappedSize, after.HeapTop)
	assert.NotZero(t, after.Grows)
	require.NoError(t, s.Check())

	s = reopen(t, s)
	got, err := s.GetBytes("big")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, after.MappedSize, stats.MappedSize)
}

func TestStore_ExplicitGrow(t *testing.T) {
	s, _ := openTemp(t, WithInitialSize(64<<10), WithGrowthStep(4<<10))

	before, err := s.Stats()
	require.NoError(t, err)
	require.NoError(t, s.Grow(128<<10))

	after, err := s.Stats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, after.MappedSize, before.MappedSize+128<<10)
	assert.Equal(t, before.Heap.FreeChunks, after.Heap.FreeChunks)
	require.NoError(t, s.Check())
}

func TestStore_OutOfSpace(t *testing.T) {
	s, _ := openTemp(t, WithInitialSize(64<<10), WithMaxSize(128<<10))

	_, err := s.Define("huge", TypeBytes, 1<<20)
	require.ErrorIs(t, err, ErrOutOfSpace)

	require.ErrorIs(t, s.SetBytes("huge", make([]byte, 1<<20)), ErrOutOfSpace)

	n, err := s.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, s.Check())

	// Recoverable: the store keeps working.
	require.NoError(t, s.SetInt64("small", 1))
}

func TestStore_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vars.mmf")

	_, err := Open(path, WithInitialSize(1<<20), WithMaxSize(64<<10))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Open(path, WithDirectorySlots(0))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStore_DirectoryBlocks(t *testing.T) {
	s, _ := openTemp(t, WithDirectorySlots(4))

	for i := range 10 {
		require.NoError(t, s.SetInt64(fmt.Sprintf("v%02d", i), int64(i)))
	}

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Variables)
	assert.Equal(t, 3, stats.DirectoryBlocks)
	assert.Equal(t, uint64(12), stats.DirectorySlots)
	require.NoError(t, s.Check())

	s = reopen(t, s, WithDirectorySlots(64))
	for i := range 10 {
		v, err := s.GetInt64(fmt.Sprintf("v%02d", i))
		require.NoError(t, err)
		assert.Equal(t, int64(i), v)
	}

	// Reserved slots are fixed at creation.
	stats, err = s.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), stats.DirectorySlots)
}

func TestStore_AllocatorAccounting(t *testing.T) {
	s, _ := openTemp(t, WithInitialSize(64<<10), WithGrowthStep(16<<10))

	check := func() {
		t.Helper()
		st, err := s.Stats()
		require.NoError(t, err)
		assert.Equal(t, st.HeapTop-st.HeapBottom, st.Heap.UsedBytes+st.Heap.FreeBytes)
		assert.Equal(t, st.Heap.Chunks, st.Heap.UsedChunks+st.Heap.FreeChunks)
		require.NoError(t, s.Check())
	}

	handles := map[string]Handle{}
	for round := range 5 {
		for i := range 20 {
			name := fmt.Sprintf("r%d-%d", round, i)
			h, err := s.Define(name, TypeBytes, (i*37+round*11)%500)
			require.NoError(t, err)
			handles[name] = h
		}
		check()

		for i := 0; i < 20; i += 3 {
			name := fmt.Sprintf("r%d-%d", round, i)
			require.NoError(t, s.Remove(handles[name]))
			delete(handles, name)
		}
		check()

		for i := 1; i < 20; i += 4 {
			name := fmt.Sprintf("r%d-%d", round, i)
			if h, ok := handles[name]; ok {
				require.NoError(t, s.Write(h, BytesValue(bytes.Repeat([]byte{byte(i)}, 700))))
			}
		}
		check()
	}

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, len(handles), n)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s, _ := openTemp(t)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("worker-%d", g)
			h, err := s.Define(name, TypeInt64, 0)
			if !assert.NoError(t, err) {
				return
			}
			for i := range 100 {
				assert.NoError(t, s.Write(h, Int64Value(int64(i))))
				_, err := s.Read(h)
				assert.NoError(t, err)
			}
			assert.NoError(t, s.SetString(name+"-s", strings.Repeat("x", g*10)))
		}()
	}
	wg.Wait()

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	for g := range 8 {
		v, err := s.GetInt64(fmt.Sprintf("worker-%d", g))
		require.NoError(t, err)
		assert.Equal(t, int64(99), v)
	}
	require.NoError(t, s.Check())
}

func TestStore_TwoStoresOneFile(t *testing.T) {
	a, path := openTemp(t, WithInitialSize(64<<10), WithGrowthStep(64<<10))
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.SetInt64("shared", 1))

	h, err := b.Lookup("shared")
	require.NoError(t, err)
	v, err := b.Read(h)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Int64())

	require.NoError(t, b.Write(h, Int64Value(2)))
	got, err := a.GetInt64("shared")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)

	// Growth by one store is picked up by the other on its next lock.
	payload := bytes.Repeat([]byte("grow"), 50<<10)
	require.NoError(t, a.SetBytes("big", payload))
	out, err := b.GetBytes("big")
	require.NoError(t, err)
	assert.Equal(t, payload, out)

	var wg sync.WaitGroup
	for i, s := range []*Store{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				assert.NoError(t, s.SetInt64(fmt.Sprintf("s%d-%d", i, j), int64(j)))
			}
		}()
	}
	wg.Wait()

	na, err := a.Len()
	require.NoError(t, err)
	nb, err := b.Len()
	require.NoError(t, err)
	assert.Equal(t, 102, na)
	assert.Equal(t, na, nb)
	require.NoError(t, a.Check())
	require.NoError(t, b.Check())
}

func TestStore_Closed(t *testing.T) {
	s, _ := openTemp(t)
	h, err := s.Define("n", TypeInt64, 0)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Read(h)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Write(h, Int64Value(1)), ErrClosed)
	_, err = s.Define("m", TypeInt64, 0)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Check(), ErrClosed)
	require.ErrorIs(t, s.Sync(), ErrClosed)
}

func corruptFile(t *testing.T, path string, off int64, b []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(b, off)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestOpen_CorruptHeader(t *testing.T) {
	tests := []struct {
		name string
		off  int64
		data []byte
	}{
		{"BadMagic", 0, []byte("XXXX")},
		{"BadVersion", 4, []byte{9, 0, 0, 0}},
		{"BadChecksum", 72, []byte{0xFF, 0xFF}},
		{"HeapOrder", 40, []byte{0, 0, 0, 0, 0, 0, 0, 0x7F}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, path := openTemp(t)
			require.NoError(t, s.SetInt64("x", 1))
			require.NoError(t, s.Close())

			corruptFile(t, path, tt.off, tt.data)

			_, err := Open(path)
			require.ErrorIs(t, err, ErrCorruptHeader)
		})
	}

	t.Run("Truncated", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "short.mmf")
		require.NoError(t, os.WriteFile(path, []byte("MMFV"), 0o644))
		_, err := Open(path)
		require.ErrorIs(t, err, ErrCorruptHeader)
	})

	t.Run("EmptyFileIsFormatted", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.mmf")
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		s, err := Open(path)
		require.NoError(t, err)
		defer s.Close()
		require.NoError(t, s.Check())
	})
}

func TestStore_CorruptChunkBreaksStore(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.SetBytes("a", []byte("first")))
	require.NoError(t, s.SetBytes("b", []byte("second")))
	require.NoError(t, s.SetInt64("n", 3))

	e, err := s.dir.Lookup("b")
	require.NoError(t, err)
	magicAt := int64(e.Value) - 32 + 24
	require.NoError(t, s.Close())

	corruptFile(t, path, magicAt, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	h, err := s2.Lookup("b")
	require.NoError(t, err)
	_, err = s2.Read(h)
	require.ErrorIs(t, err, ErrCorruptHeap)

	var ce *CorruptionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint64(magicAt-24), ce.Offset)

	// The store is now unusable, even for unrelated variables.
	_, err = s2.GetInt64("n")
	require.ErrorIs(t, err, ErrCorruptHeap)
	require.ErrorIs(t, s2.Check(), ErrCorruptHeap)

	_, err = Open(path, WithVerifyOnOpen(true))
	require.ErrorIs(t, err, ErrCorruptHeap)
}

func TestStore_CheckDetectsDanglingEntry(t *testing.T) {
	s, _ := openTemp(t)
	h, err := s.Define("blob", TypeBytes, 64)
	require.NoError(t, err)

	e, err := s.dir.Get(h.slot, h.gen)
	require.NoError(t, err)
	// Free the chunk behind the directory's back.
	require.NoError(t, s.exclusive(func() error { return s.arena.Free(e.Value) }))

	err = s.Check()
	require.ErrorIs(t, err, ErrCorruptHeap)
	var ce *CorruptionError
	require.ErrorAs(t, err, &ce)

	_, err = s.Len()
	require.ErrorIs(t, err, ErrCorruptHeap)
}

func TestStore_Reclaim(t *testing.T) {
	s, _ := openTemp(t, WithDirectorySlots(2))
	require.NoError(t, s.SetString("a", "keep"))
	require.NoError(t, s.SetInt64("b", 1))
	require.NoError(t, s.SetInt64("c", 2)) // forces a directory block

	// Simulate a process dying between allocation and publication.
	require.NoError(t, s.exclusive(func() error {
		_, err := s.arena.Alloc(100)
		return err
	}))

	require.NoError(t, s.Check())
	before, err := s.Stats()
	require.NoError(t, err)

	n, err := s.Reclaim()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, before.Heap.UsedChunks-1, after.Heap.UsedChunks)

	n, err = s.Reclaim()
	require.NoError(t, err)
	assert.Zero(t, n)

	str, err := s.GetString("a")
	require.NoError(t, err)
	assert.Equal(t, "keep", str)
	require.NoError(t, s.Check())
}

func TestStore_StatsFragmentation(t *testing.T) {
	s, _ := openTemp(t)
	var hs []Handle
	for i := range 6 {
		h, err := s.Define(fmt.Sprintf("b%d", i), TypeBytes, 64)
		require.NoError(t, err)
		hs = append(hs, h)
	}
	require.NoError(t, s.Remove(hs[1]))
	require.NoError(t, s.Remove(hs[3]))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 4, st.Heap.UsedChunks)
	assert.Equal(t, 3, st.Heap.FreeChunks)
	assert.Greater(t, st.Heap.Fragmentation, 0.0)
	assert.Less(t, st.Heap.Fragmentation, 1.0)
	assert.Equal(t, s.Path(), st.Path)
}

func TestStore_MappingBudget(t *testing.T) {
	rc := NewResourceController(ResourceConfig{MappedLimitBytes: 96 << 10})

	s, _ := openTemp(t, WithResourceController(rc), WithInitialSize(64<<10), WithGrowthStep(64<<10))
	assert.Equal(t, int64(64<<10), rc.MappedBytes())

	// Growing would exceed the shared budget.
	err := s.SetBytes("big", make([]byte, 80<<10))
	require.ErrorIs(t, err, ErrOutOfSpace)
	require.NoError(t, s.Check())

	// A second store cannot map another 64 KiB either.
	_, err = Open(filepath.Join(t.TempDir(), "other.mmf"), WithResourceController(rc), WithInitialSize(64<<10))
	require.ErrorIs(t, err, ErrOutOfSpace)

	require.NoError(t, s.Close())
	assert.Zero(t, rc.MappedBytes())
}
