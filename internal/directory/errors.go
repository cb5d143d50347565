package directory

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a name or handle does not refer to a live entry.
	ErrNotFound = errors.New("directory: not found")
	// ErrDuplicateName is returned when defining a name that already exists.
	ErrDuplicateName = errors.New("directory: duplicate name")
	// ErrNameTooLong is returned for names longer than MaxNameLen bytes.
	ErrNameTooLong = errors.New("directory: name too long")
	// ErrInvalidName is returned for empty names and names containing NUL.
	ErrInvalidName = errors.New("directory: invalid name")
	// ErrCorrupt is returned when the persisted directory is inconsistent.
	ErrCorrupt = errors.New("directory: corrupt")
)

// CorruptionError locates an inconsistency in the directory. It unwraps to ErrCorrupt.
type CorruptionError struct {
	Offset uint64
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("directory: corrupt at offset %d: %s", e.Offset, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return ErrCorrupt }

func corrupt(off uint64, format string, args ...any) error {
	return &CorruptionError{Offset: off, Reason: fmt.Sprintf(format, args...)}
}

// ValidateName checks that name can be stored in an entry.
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: %d bytes, at most %d allowed", ErrNameTooLong, len(name), MaxNameLen)
	}
	for i := 0; i < len(name); i++ {
		if name[i] == 0 {
			return fmt.Errorf("%w: contains NUL", ErrInvalidName)
		}
	}
	return nil
}
