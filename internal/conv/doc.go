// Package conv provides safe integer conversion and alignment helpers.
//
// Offsets inside a mapping are persisted as uint64 but Go slices are indexed
// with int. Every value read back from the file is untrusted, so conversions
// between the two go through these checked helpers instead of direct casts.
//
// For conversions that are provably safe by domain constraints (e.g., loop
// indices, bounded counters), use direct type casts instead to avoid overhead.
package conv
