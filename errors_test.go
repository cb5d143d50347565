package mmvar

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mmvar/internal/arena"
	"github.com/hupe1980/mmvar/internal/directory"
	"github.com/hupe1980/mmvar/internal/mapping"
	"github.com/hupe1980/mmvar/internal/snapshot"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"OutOfSpace", fmt.Errorf("alloc: %w", arena.ErrOutOfSpace), ErrOutOfSpace},
		{"Limit", mapping.ErrLimit, ErrOutOfSpace},
		{"DoubleFree", arena.ErrDoubleFree, ErrDoubleFree},
		{"Duplicate", directory.ErrDuplicateName, ErrDuplicateName},
		{"TooLong", directory.ErrNameTooLong, ErrNameTooLong},
		{"InvalidName", directory.ErrInvalidName, ErrInvalidName},
		{"NotFound", directory.ErrNotFound, ErrNotFound},
		{"Closed", mapping.ErrClosed, ErrClosed},
		{"InvalidConfig", mapping.ErrInvalidConfig, ErrInvalidConfig},
		{"Header", fmt.Errorf("%w: bad magic", mapping.ErrCorruptHeader), ErrCorruptHeader},
		{"Heap", arena.ErrCorruptHeap, ErrCorruptHeap},
		{"Directory", directory.ErrCorrupt, ErrCorruptHeap},
		{"SnapshotChecksum", snapshot.ErrChecksum, ErrCorruptSnapshot},
		{"SnapshotCodec", snapshot.ErrUnknownCodec, ErrCorruptSnapshot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.in)
			require.ErrorIs(t, got, tt.want)
			// The internal error stays reachable.
			require.ErrorIs(t, got, tt.in)
		})
	}

	assert.NoError(t, translateError(nil))

	other := errors.New("unrelated")
	assert.Same(t, other, translateError(other))

	public := fmt.Errorf("ctx: %w", ErrNotFound)
	assert.Same(t, public, translateError(public))

	assert.ErrorIs(t, translateError(context.Canceled), context.Canceled)
}

func TestCorruptionError(t *testing.T) {
	t.Run("Arena", func(t *testing.T) {
		in := fmt.Errorf("free: %w", &arena.CorruptionError{Offset: 4096, Reason: "bad magic 0x0"})
		err := translateError(in)

		var ce *CorruptionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, uint64(4096), ce.Offset)
		assert.Equal(t, "bad magic 0x0", ce.Reason)
		assert.ErrorIs(t, err, ErrCorruptHeap)
		assert.NotErrorIs(t, err, ErrCorruptHeader)
		assert.ErrorIs(t, err, arena.ErrCorruptHeap)
		assert.Contains(t, err.Error(), "offset 4096")
		assert.True(t, isCorruption(err))
	})

	t.Run("Directory", func(t *testing.T) {
		err := translateError(&directory.CorruptionError{Offset: 128, Reason: "duplicate name"})

		var ce *CorruptionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, uint64(128), ce.Offset)
		assert.ErrorIs(t, err, ErrCorruptHeap)
		assert.ErrorIs(t, err, directory.ErrCorrupt)
	})

	t.Run("FirstChunk", func(t *testing.T) {
		in := fmt.Errorf("%w: %w", mapping.ErrCorruptHeader, &arena.CorruptionError{Offset: 16528, Reason: "bad magic"})
		err := translateError(in)

		var ce *CorruptionError
		require.ErrorAs(t, err, &ce)
		assert.ErrorIs(t, err, ErrCorruptHeader)
		assert.NotErrorIs(t, err, ErrCorruptHeap)
	})

	t.Run("Recoverable", func(t *testing.T) {
		for _, err := range []error{ErrOutOfSpace, ErrDoubleFree, ErrNotFound, ErrCorruptSnapshot} {
			assert.False(t, isCorruption(err), err.Error())
		}
	})
}
