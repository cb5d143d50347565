package mmvar

import (
	"errors"
	"fmt"

	"github.com/hupe1980/mmvar/internal/arena"
	"github.com/hupe1980/mmvar/internal/directory"
	"github.com/hupe1980/mmvar/internal/mapping"
	"github.com/hupe1980/mmvar/internal/snapshot"
)

var (
	// ErrCorruptHeader is returned when the file header fails validation.
	ErrCorruptHeader = errors.New("mmvar: corrupt header")
	// ErrCorruptHeap is returned when a chunk header, the free list or the
	// directory is inconsistent.
	ErrCorruptHeap = errors.New("mmvar: corrupt heap")
	// ErrOutOfSpace is returned when an allocation cannot be satisfied even
	// after trying to grow the file.
	ErrOutOfSpace = errors.New("mmvar: out of space")
	// ErrDoubleFree is returned when freeing storage that is already free.
	ErrDoubleFree = errors.New("mmvar: double free")
	// ErrDuplicateName is returned when defining a name that already exists.
	ErrDuplicateName = errors.New("mmvar: duplicate name")
	// ErrNameTooLong is returned for names longer than MaxNameLen bytes.
	ErrNameTooLong = errors.New("mmvar: name too long")
	// ErrNotFound is returned for unknown names and stale handles.
	ErrNotFound = errors.New("mmvar: not found")
	// ErrInvalidName is returned for empty names and names containing NUL.
	ErrInvalidName = errors.New("mmvar: invalid name")
	// ErrTypeMismatch is returned when a value does not match the variable's type.
	ErrTypeMismatch = errors.New("mmvar: type mismatch")
	// ErrInvalidHandle is returned for the zero Handle.
	ErrInvalidHandle = errors.New("mmvar: invalid handle")
	// ErrInvalidSize is returned for negative sizes.
	ErrInvalidSize = errors.New("mmvar: invalid size")
	// ErrInvalidConfig is returned when options describe an unusable file.
	ErrInvalidConfig = errors.New("mmvar: invalid config")
	// ErrClosed is returned when using a closed Store.
	ErrClosed = errors.New("mmvar: store closed")
	// ErrCorruptSnapshot is returned when a snapshot fails validation.
	ErrCorruptSnapshot = errors.New("mmvar: corrupt snapshot")
)

// CorruptionError locates structural damage in the file.
//
// It matches ErrCorruptHeap or ErrCorruptHeader with errors.Is, and the
// underlying error can be reached via errors.Unwrap.
type CorruptionError struct {
	Offset uint64
	Reason string
	kind   error
	cause  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%v at offset %d: %s", e.kind, e.Offset, e.Reason)
}

func (e *CorruptionError) Unwrap() []error { return []error{e.kind, e.cause} }

// isCorruption reports whether err leaves the Store unusable.
func isCorruption(err error) bool {
	return errors.Is(err, ErrCorruptHeap) || errors.Is(err, ErrCorruptHeader)
}

var publicErrors = []error{
	ErrCorruptHeader, ErrCorruptHeap, ErrOutOfSpace, ErrDoubleFree, ErrDuplicateName,
	ErrNameTooLong, ErrNotFound, ErrInvalidName, ErrTypeMismatch, ErrInvalidHandle,
	ErrInvalidSize, ErrInvalidConfig, ErrClosed, ErrCorruptSnapshot,
}

// translateError maps errors of the internal packages to the exported
// sentinels. Errors that already match one are returned unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	for _, pub := range publicErrors {
		if errors.Is(err, pub) {
			return err
		}
	}

	kind := ErrCorruptHeap
	if errors.Is(err, mapping.ErrCorruptHeader) {
		kind = ErrCorruptHeader
	}

	// Located corruption.
	var ac *arena.CorruptionError
	if errors.As(err, &ac) {
		return &CorruptionError{Offset: ac.Offset, Reason: ac.Reason, kind: kind, cause: err}
	}
	var dc *directory.CorruptionError
	if errors.As(err, &dc) {
		return &CorruptionError{Offset: dc.Offset, Reason: dc.Reason, kind: kind, cause: err}
	}

	switch {
	case errors.Is(err, mapping.ErrCorruptHeader):
		return fmt.Errorf("%w: %w", ErrCorruptHeader, err)
	case errors.Is(err, arena.ErrCorruptHeap), errors.Is(err, directory.ErrCorrupt):
		return fmt.Errorf("%w: %w", ErrCorruptHeap, err)
	case errors.Is(err, arena.ErrOutOfSpace), errors.Is(err, mapping.ErrLimit):
		return fmt.Errorf("%w: %w", ErrOutOfSpace, err)
	case errors.Is(err, arena.ErrDoubleFree):
		return fmt.Errorf("%w: %w", ErrDoubleFree, err)
	case errors.Is(err, directory.ErrDuplicateName):
		return fmt.Errorf("%w: %w", ErrDuplicateName, err)
	case errors.Is(err, directory.ErrNameTooLong):
		return fmt.Errorf("%w: %w", ErrNameTooLong, err)
	case errors.Is(err, directory.ErrInvalidName):
		return fmt.Errorf("%w: %w", ErrInvalidName, err)
	case errors.Is(err, directory.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, mapping.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, mapping.ErrInvalidConfig):
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	case errors.Is(err, snapshot.ErrCorrupt), errors.Is(err, snapshot.ErrChecksum), errors.Is(err, snapshot.ErrUnknownCodec):
		return fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	return err
}
