package mmvar

import "context"

// Close syncs and unmaps the file and releases its locks. It waits for
// in-flight operations of this Store; later calls return ErrClosed.
// Close is idempotent.
func (s *Store) Close() error {
	if s == nil || s.closed.Swap(true) {
		return nil
	}
	err := translateError(s.region.Close())
	s.logger.DebugContext(context.Background(), "store closed", "error", err)
	return err
}
