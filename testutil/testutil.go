package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex

	// cached normalization for Zipf sampling
	zipfN   int
	zipfS   float64
	zipfCDF []float64
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Int64 returns a pseudo-random int64 that may be negative.
func (r *RNG) Int64() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(r.rand.Uint64())
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Float64 returns, as a float64, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Size returns a payload size in [lo, hi).
func (r *RNG) Size(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + r.rand.Intn(hi-lo)
}

// FillBytes fills dst with random bytes.
// Locks only once per call (preferred over calling Intn in a loop).
func (r *RNG) FillBytes(dst []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.rand.Read(dst)
}

// Bytes returns n random bytes.
func (r *RNG) Bytes(n int) []byte {
	b := make([]byte, n)
	r.FillBytes(b)
	return b
}

// Payloads returns num payloads with sizes in [lo, hi).
// Uses a single backing array for efficiency.
func (r *RNG) Payloads(num, lo, hi int) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	sizes := make([]int, num)
	total := 0
	for i := range sizes {
		sizes[i] = lo
		if hi > lo {
			sizes[i] += r.rand.Intn(hi - lo)
		}
		total += sizes[i]
	}

	data := make([]byte, total)
	_, _ = r.rand.Read(data)

	out := make([][]byte, num)
	off := 0
	for i, n := range sizes {
		out[i] = data[off : off+n : off+n]
		off += n
	}
	return out
}

// Zipf returns a Zipfian-distributed value in [0, n).
// Uses Zipf's law: P(k) ∝ 1/k^s where s is the skew parameter.
// s=1.0 gives standard Zipf, s=1.5 gives heavy-tail (80/20 rule).
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

// zipfLocked is the internal implementation (caller must hold lock).
func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	if r.zipfN != n || r.zipfS != s {
		cdf := make([]float64, n)
		var sum float64
		for k := 1; k <= n; k++ {
			sum += 1.0 / math.Pow(float64(k), s)
			cdf[k-1] = sum
		}
		r.zipfN, r.zipfS, r.zipfCDF = n, s, cdf
	}

	// Inverse transform on the cached CDF.
	u := r.rand.Float64() * r.zipfCDF[n-1]
	lo, hi := 0, n-1
	for lo < hi {
		mid := (lo + hi) / 2
		if r.zipfCDF[mid] < u {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// ZipfIndices generates n indices in [0, keys) with Zipfian distribution.
// With s=1.5 roughly 20% of the keys receive 80% of the accesses.
func (r *RNG) ZipfIndices(n, keys int, s float64) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]int, n)
	for i := range out {
		out[i] = r.zipfLocked(keys, s)
	}
	return out
}

// Names returns n distinct variable names of the form prefix + index.
func Names(prefix string, n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return names
}
