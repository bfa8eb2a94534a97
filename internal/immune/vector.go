// Package immune implements fault detection modelled on T-cell signalling:
// robots summarise what they see into binary feature vectors, integrate a
// conjugate resource model over every vector, trade cell mass with
// neighbours and vote on which vectors are anomalous.
package immune

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
)

// FeatureLength is the number of bits in a feature vector.
const FeatureLength = 2

// NumFeatureVectors is 2^FeatureLength.
const NumFeatureVectors = 1 << FeatureLength

// FeatureVector is a fixed-width bit array. Bit 1 (the first character of
// the textual form) is the most significant bit.
type FeatureVector uint8

// FromBits builds a vector; bits[0] is bit 1.
func FromBits(b ...bool) FeatureVector {
	var v FeatureVector
	for _, bit := range b[:min(len(b), FeatureLength)] {
		v <<= 1
		if bit {
			v |= 1
		}
	}
	return v
}

// Bit returns bit i, counting from 1.
func (v FeatureVector) Bit(i int) bool {
	return v>>(FeatureLength-i)&1 == 1
}

// Bits returns the vector as bit 1..FeatureLength.
func (v FeatureVector) Bits() []bool {
	out := make([]bool, FeatureLength)
	for i := range out {
		out[i] = v.Bit(i + 1)
	}
	return out
}

func (v FeatureVector) String() string {
	var b strings.Builder
	for i := 1; i <= FeatureLength; i++ {
		if v.Bit(i) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// ParseFeatureVector reads the textual form, e.g. "01".
func ParseFeatureVector(s string) (FeatureVector, error) {
	if len(s) != FeatureLength {
		return 0, fmt.Errorf("feature vector %q: want %d bits", s, FeatureLength)
	}
	var v FeatureVector
	for _, c := range s {
		v <<= 1
		switch c {
		case '1':
			v |= 1
		case '0':
		default:
			return 0, fmt.Errorf("feature vector %q: bad bit %q", s, c)
		}
	}
	return v, nil
}

// AllVectors lists every feature vector in ascending order.
func AllVectors() []FeatureVector {
	out := make([]FeatureVector, NumFeatureVectors)
	for i := range out {
		out[i] = FeatureVector(i)
	}
	return out
}

// Hamming counts differing bits.
func Hamming(a, b FeatureVector) int {
	return bits.OnesCount8(uint8(a ^ b))
}

// Affinity is θ = exp(−H(a,b) / (c·l)).
func Affinity(a, b FeatureVector, c float64) float64 {
	return math.Exp(-float64(Hamming(a, b)) / (c * FeatureLength))
}

// AffinityMatrix precomputes θ for every pair.
type AffinityMatrix [NumFeatureVectors][NumFeatureVectors]float64

// NewAffinityMatrix fills the matrix for cross-reactivity c.
func NewAffinityMatrix(c float64) AffinityMatrix {
	var m AffinityMatrix
	for i := range m {
		for j := range m[i] {
			m[i][j] = Affinity(FeatureVector(i), FeatureVector(j), c)
		}
	}
	return m
}
