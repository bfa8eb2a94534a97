// Package entropy provides the seeded random source shared by a robot's
// controller and body. A zero seed falls back to crypto/rand seeding.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	mrand "math/rand"
)

// Source wraps a seeded generator with the draws the controllers need.
// A Source is not safe for concurrent use; each robot owns one.
type Source struct {
	rng *mrand.Rand
}

// New creates a Source. seed == 0 picks a seed from crypto/rand.
func New(seed int64) *Source {
	if seed == 0 {
		seed = CryptoSeed()
	}
	return &Source{rng: mrand.New(mrand.NewSource(seed))}
}

// Rand exposes the underlying generator for helpers that take *rand.Rand.
func (s *Source) Rand() *mrand.Rand { return s.rng }

// Uniform returns a sample in [0, 1).
func (s *Source) Uniform() float64 { return s.rng.Float64() }

// UniformRange returns a sample in [min, max).
func (s *Source) UniformRange(min, max float64) float64 {
	return min + s.rng.Float64()*(max-min)
}

// Gaussian returns a zero-mean sample with standard deviation sigma.
func (s *Source) Gaussian(sigma float64) float64 {
	return s.rng.NormFloat64() * sigma
}

// Angle returns a uniform heading in [0, 2π).
func (s *Source) Angle() float64 {
	return s.rng.Float64() * 2 * math.Pi
}

// Intn returns a uniform int in [0, n).
func (s *Source) Intn(n int) int { return s.rng.Intn(n) }

// Roulette picks an index with probability proportional to weights.
// Non-positive weights are never chosen. ok is false when the total
// weight is zero.
func (s *Source) Roulette(weights []float64) (idx int, ok bool) {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return -1, false
	}
	return PickWeighted(weights, s.UniformRange(0, total))
}

// PickWeighted scans weights subtracting each one from draw until draw
// falls below the current weight. draw must lie in [0, Σ positive weights).
func PickWeighted(weights []float64, draw float64) (int, bool) {
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		last = i
		if draw < w {
			return i, true
		}
		draw -= w
	}
	// Rounding can leave a sliver of draw past the final weight.
	if last >= 0 {
		return last, true
	}
	return -1, false
}

// CryptoSeed generates a seed using crypto/rand.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen; fall back to a fixed odd constant.
		return 0x5eed
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
}
