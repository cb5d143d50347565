package arena

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfSpace is returned when no free chunk fits and the space cannot grow.
	ErrOutOfSpace = errors.New("arena: out of space")
	// ErrCorruptHeap is returned when a chunk header or the free list is inconsistent.
	ErrCorruptHeap = errors.New("arena: corrupt heap")
	// ErrDoubleFree is returned when freeing a chunk that is not in use.
	ErrDoubleFree = errors.New("arena: double free")
)

// CorruptionError describes where the heap was found to be inconsistent.
//
// It unwraps to ErrCorruptHeap.
type CorruptionError struct {
	Offset uint64
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("arena: corrupt heap at offset %d: %s", e.Offset, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return ErrCorruptHeap }

func corrupt(off uint64, format string, args ...any) error {
	return &CorruptionError{Offset: off, Reason: fmt.Sprintf(format, args...)}
}
