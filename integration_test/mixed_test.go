package mmvar_test

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mmvar"
	"github.com/hupe1980/mmvar/testutil"
)

// TestMixedOperations runs a random sequence of operations against the store
// and an in-memory model, reopening and checking the file along the way.
func TestMixedOperations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed.mmf")
	opts := []mmvar.Option{
		mmvar.WithInitialSize(32 << 10),
		mmvar.WithGrowthStep(32 << 10),
		mmvar.WithDirectorySlots(16),
	}

	s, err := mmvar.Open(path, opts...)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	rng := testutil.NewRNG(4711)
	names := testutil.Names("m.", 64)
	model := make(map[string][]byte)

	const steps = 3000
	for step := range steps {
		name := names[rng.Zipf(len(names), 1.1)]

		switch op := rng.Intn(10); {
		case op < 5:
			data := rng.Bytes(rng.Size(0, 2048))
			require.NoError(t, s.SetBytes(name, data), "step %d", step)
			model[name] = data

		case op < 8:
			got, err := s.GetBytes(name)
			if want, ok := model[name]; ok {
				require.NoError(t, err, "step %d", step)
				require.True(t, bytes.Equal(want, got), "step %d: %s", step, name)
			} else {
				require.ErrorIs(t, err, mmvar.ErrNotFound, "step %d", step)
			}

		default:
			h, err := s.Lookup(name)
			if _, ok := model[name]; !ok {
				require.ErrorIs(t, err, mmvar.ErrNotFound)
				continue
			}
			require.NoError(t, err)
			require.NoError(t, s.Remove(h), "step %d", step)
			delete(model, name)
		}

		if step%500 == 499 {
			require.NoError(t, s.Check(), "step %d", step)
			require.NoError(t, s.Close())
			s, err = mmvar.Open(path, opts...)
			require.NoError(t, err)
		}
	}

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, len(model), n)

	seen := make(map[string]uint64)
	require.NoError(t, s.Range(func(v mmvar.Variable) bool {
		seen[v.Name] = v.Size
		return true
	}))
	require.Equal(t, len(model), len(seen))
	for name, want := range model {
		assert.Equal(t, uint64(len(want)), seen[name], name)
		got, err := s.GetBytes(name)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(want, got), name)
	}

	reclaimed, err := s.Reclaim()
	require.NoError(t, err)
	assert.Zero(t, reclaimed)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, st.Heap.UsedChunks+st.Heap.FreeChunks, st.Heap.Chunks)
}

// TestEdgeCases covers boundaries that cut across modules.
func TestEdgeCases(t *testing.T) {
	t.Run("NameLength", func(t *testing.T) {
		s, err := mmvar.Open(filepath.Join(t.TempDir(), "edge.mmf"))
		require.NoError(t, err)
		defer s.Close()

		longest := string(bytes.Repeat([]byte("n"), 31))
		require.NoError(t, s.SetInt64(longest, 1))
		v, err := s.GetInt64(longest)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)

		err = s.SetInt64(longest+"n", 1)
		require.ErrorIs(t, err, mmvar.ErrNameTooLong)
	})

	t.Run("DirectorySlotsFixedAtCreate", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "slots.mmf")
		s, err := mmvar.Open(path, mmvar.WithDirectorySlots(8))
		require.NoError(t, err)
		st, err := s.Stats()
		require.NoError(t, err)
		require.NoError(t, s.Close())

		s, err = mmvar.Open(path, mmvar.WithDirectorySlots(1024))
		require.NoError(t, err)
		defer s.Close()
		st2, err := s.Stats()
		require.NoError(t, err)
		assert.Equal(t, st.DirectorySlots, st2.DirectorySlots)
	})

	t.Run("FullToMaxSize", func(t *testing.T) {
		s, err := mmvar.Open(filepath.Join(t.TempDir(), "full.mmf"),
			mmvar.WithInitialSize(32<<10),
			mmvar.WithMaxSize(128<<10),
			mmvar.WithGrowthStep(32<<10),
		)
		require.NoError(t, err)
		defer s.Close()

		var defined int
		for i := 0; ; i++ {
			_, err := s.Define(fmt.Sprintf("full.%d", i), mmvar.TypeBytes, 8<<10)
			if err != nil {
				require.True(t, errors.Is(err, mmvar.ErrOutOfSpace), "%v", err)
				break
			}
			defined++
		}
		assert.Greater(t, defined, 8)

		st, err := s.Stats()
		require.NoError(t, err)
		assert.Equal(t, uint64(128<<10), st.MappedSize)

		// The failed define left the store usable.
		require.NoError(t, s.Check())
		require.NoError(t, s.SetInt64("still.ok", 1))
	})
}
