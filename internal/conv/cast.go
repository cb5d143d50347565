package conv

import (
	"fmt"
	"math"
)

// IntToUint64 converts int to uint64 safely.
func IntToUint64(v int) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to uint64 (negative)", v)
	}
	return uint64(v), nil
}

// Uint64ToInt converts uint64 to int safely.
func Uint64ToInt(v uint64) (int, error) {
	if v > uint64(math.MaxInt) {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to int (too large)", v)
	}
	return int(v), nil
}

// Int64ToUint64 converts int64 to uint64 safely.
func Int64ToUint64(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to uint64 (negative)", v)
	}
	return uint64(v), nil
}

// Uint64ToInt64 converts uint64 to int64 safely.
func Uint64ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to int64 (too large)", v)
	}
	return int64(v), nil
}

// AlignUp rounds v up to the next multiple of align, which must be a power of two.
// It reports false if the result would overflow.
func AlignUp(v, align uint64) (uint64, bool) {
	mask := align - 1
	if v > math.MaxUint64-mask {
		return 0, false
	}
	return (v + mask) &^ mask, true
}

// IsAligned reports whether v is a multiple of align (a power of two).
func IsAligned(v, align uint64) bool {
	return v&(align-1) == 0
}
