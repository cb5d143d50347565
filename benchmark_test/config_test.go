package benchmark_test

import (
	"path/filepath"
	"testing"

	"github.com/hupe1980/mmvar"
	"github.com/hupe1980/mmvar/testutil"
)

// ============================================================================
// Benchmark Configuration
// ============================================================================

// Standard payload sizes used across benchmarks for consistency.
const (
	payloadSmall  = 64        // Config strings, short keys
	payloadMedium = 4 << 10   // Page-sized blobs
	payloadLarge  = 256 << 10 // Serialized state
)

// Standard variable counts.
const (
	varsSmall  = 1_000
	varsMedium = 10_000
)

// Seed for deterministic benchmarks - enables reproducible comparisons.
const benchSeed = 42

// ============================================================================
// Benchmark Helpers
// ============================================================================

// OpenBenchStore creates a store sized so that growth does not disturb the
// measurement.
func OpenBenchStore(b *testing.B, opts ...mmvar.Option) *mmvar.Store {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.mmf")
	defaultOpts := []mmvar.Option{
		mmvar.WithInitialSize(64 << 20),
		mmvar.WithMaxSize(1 << 30),
		mmvar.WithDirectorySlots(4096),
	}
	s, err := mmvar.Open(path, append(defaultOpts, opts...)...)
	if err != nil {
		b.Fatalf("failed to open store: %v", err)
	}
	b.Cleanup(func() { _ = s.Close() })
	return s
}

// populate defines n uint64 counters and returns their handles.
func populate(b *testing.B, s *mmvar.Store, n int) []mmvar.Handle {
	b.Helper()
	names := testutil.Names("bench.", n)
	handles := make([]mmvar.Handle, n)
	for i, name := range names {
		h, err := s.Define(name, mmvar.TypeUint64, 0)
		if err != nil {
			b.Fatal(err)
		}
		handles[i] = h
	}
	return handles
}
