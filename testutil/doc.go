// Package testutil provides testing utilities for mmvar.
//
// This package is intended for use in tests, benchmarks and examples only.
// It generates deterministic workloads: variable names, payloads and skewed
// access patterns.
//
// # Random Workloads
//
//	rng := testutil.NewRNG(seed)
//	names := testutil.Names("sensor.", 1000)
//	buf := rng.Bytes(256)         // random payload
//	i := rng.Zipf(len(names), 1.2) // hot-key skew
//
// # Payload Sizes
//
//	size := rng.Size(16, 4096) // uniform in [16, 4096)
package testutil
