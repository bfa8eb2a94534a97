package immune

import (
	"errors"
	"math"
	"sort"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/entropy"
)

// ErrNoNeighbors means no heard neighbour advertised any cell mass.
var ErrNoNeighbors = errors.New("no neighbours with cell mass")

// CellPacket is the effector and regulator mass moved in one exchange.
type CellPacket struct {
	E [NumFeatureVectors]float64
	R [NumFeatureVectors]float64
}

// Total sums every cell in the packet.
func (c CellPacket) Total() float64 {
	sum := 0.0
	for i := range c.E {
		sum += c.E[i] + c.R[i]
	}
	return sum
}

// PacketFromSlices builds a packet from decoded wire lists. Missing entries
// are zero and extra entries are ignored.
func PacketFromSlices(e, r []float64) CellPacket {
	var c CellPacket
	copy(c.E[:], e)
	copy(c.R[:], r)
	return c
}

// SelectNeighbor draws one neighbour with probability proportional to its
// advertised total. draw is a uniform sample in [0, 1). Ids are scanned in
// sorted order so a fixed draw always picks the same neighbour.
func SelectNeighbor(counts map[string]float64, draw float64) (string, error) {
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	weights := make([]float64, len(ids))
	total := 0.0
	for i, id := range ids {
		w := counts[id]
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			continue
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return "", ErrNoNeighbors
	}
	idx, ok := entropy.PickWeighted(weights, draw*total)
	if !ok {
		return "", ErrNoNeighbors
	}
	return ids[idx], nil
}

// Split removes fraction d of every effector and regulator sub-population
// and returns it as a packet. d is clamped to [0, 1].
func (p *Population) Split(d float64) CellPacket {
	d = math.Max(0, math.Min(1, d))
	var c CellPacket
	for i := range p.E {
		c.E[i] = d * p.E[i]
		c.R[i] = d * p.R[i]
		p.E[i] -= c.E[i]
		p.R[i] -= c.R[i]
		p.T[i] = p.E[i] + p.R[i]
	}
	return c
}

// Merge adds a received packet. Non-finite or negative entries are dropped.
func (p *Population) Merge(c CellPacket) {
	for i := range p.E {
		p.E[i] += finiteNonNegative(c.E[i])
		p.R[i] += finiteNonNegative(c.R[i])
		p.T[i] = p.E[i] + p.R[i]
	}
}

func finiteNonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
