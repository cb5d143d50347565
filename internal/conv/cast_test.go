package conv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntToUint64(t *testing.T) {
	t.Run("valid zero", func(t *testing.T) {
		got, err := IntToUint64(0)
		assert.NoError(t, err)
		assert.Equal(t, uint64(0), got)
	})

	t.Run("valid max", func(t *testing.T) {
		got, err := IntToUint64(math.MaxInt)
		assert.NoError(t, err)
		assert.Equal(t, uint64(math.MaxInt), got)
	})

	t.Run("invalid negative", func(t *testing.T) {
		_, err := IntToUint64(-1)
		assert.Error(t, err)
	})
}

func TestUint64ToInt(t *testing.T) {
	got, err := Uint64ToInt(4096)
	assert.NoError(t, err)
	assert.Equal(t, 4096, got)

	_, err = Uint64ToInt(math.MaxUint64)
	assert.Error(t, err)
}

func TestInt64Conversions(t *testing.T) {
	u, err := Int64ToUint64(42)
	assert.NoError(t, err)
	assert.Equal(t, uint64(42), u)

	_, err = Int64ToUint64(-42)
	assert.Error(t, err)

	i, err := Uint64ToInt64(42)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), i)

	_, err = Uint64ToInt64(math.MaxUint64)
	assert.Error(t, err)
}

func TestAlignUp(t *testing.T) {
	for _, tc := range []struct {
		in, align, want uint64
	}{
		{0, 16, 0},
		{1, 16, 16},
		{16, 16, 16},
		{17, 16, 32},
		{4095, 4096, 4096},
	} {
		got, ok := AlignUp(tc.in, tc.align)
		assert.True(t, ok)
		assert.Equal(t, tc.want, got, "AlignUp(%d, %d)", tc.in, tc.align)
		assert.True(t, IsAligned(got, tc.align))
	}

	_, ok := AlignUp(math.MaxUint64, 16)
	assert.False(t, ok)
	assert.False(t, IsAligned(17, 16))
}
