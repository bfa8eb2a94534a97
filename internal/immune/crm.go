package immune

import (
	"math"
)

// Params holds the conjugate resource model constants.
type Params struct {
	K         float64 // APC density per robot showing a vector
	Ie, Ir    float64 // per-cycle injection while a vector is present
	E0, R0    float64 // seed densities on first presence
	Horizon   float64 // S, simulated integration time
	Step      float64 // h, Forward Euler step
	C         float64 // cross-reactivity
	BindLimit float64 // s, max conjugates per APC
	GammaC    float64 // binding rate
	GammaD    float64 // unbinding rate
	RhoE      float64 // effector proliferation
	RhoR      float64 // regulator proliferation
	Delta     float64 // death rate
	Diffusion float64 // d, fraction sent per exchange
}

// DefaultParams returns the published model constants.
func DefaultParams() Params {
	return Params{
		K:         0.002,
		Ie:        10,
		Ir:        10,
		E0:        10,
		R0:        10,
		Horizon:   5e8,
		Step:      1000,
		C:         0.15,
		BindLimit: 3,
		GammaC:    0.1,
		GammaD:    0.1,
		RhoE:      10e-3,
		RhoR:      0.7 * 10e-3,
		Delta:     10e-6,
		Diffusion: 0.5,
	}
}

// Iterations is the number of Euler steps needed to pass the horizon.
func (p Params) Iterations() int {
	if p.Step <= 0 {
		return 0
	}
	return int(math.Floor(p.Horizon/p.Step)) + 1
}

// Population is one robot's view of every feature vector's sub-population.
// All densities are non-negative and finite.
type Population struct {
	APC [NumFeatureVectors]float64
	E   [NumFeatureVectors]float64
	R   [NumFeatureVectors]float64
	T   [NumFeatureVectors]float64

	seeded [NumFeatureVectors]bool
}

// Setup refreshes APC densities from how many robots (self included)
// reported each vector this cycle. A vector seen for the first time is
// seeded with E0/R0 unless diffusion already gave it cells; afterwards
// every cycle in which it is present injects Ie/Ir.
func (p *Population) Setup(counts [NumFeatureVectors]int, par Params) {
	for j := range p.APC {
		p.APC[j] = par.K * float64(counts[j])
		if p.APC[j] <= 0 {
			continue
		}
		if !p.seeded[j] {
			p.seeded[j] = true
			if p.E[j]+p.R[j] == 0 {
				p.E[j] = par.E0
				p.R[j] = par.R0
				p.T[j] = p.E[j] + p.R[j]
				continue
			}
		}
		p.E[j] += par.Ie
		p.R[j] += par.Ir
		p.T[j] = p.E[j] + p.R[j]
	}
}

// Seeded reports whether vector j has ever been present.
func (p *Population) Seeded(j FeatureVector) bool { return p.seeded[j] }

// TotalCells is ΣT over every vector.
func (p *Population) TotalCells() float64 {
	sum := 0.0
	for _, t := range p.T {
		sum += t
	}
	return sum
}

// Conjugates holds one iteration's quasi-steady-state conjugate counts.
// Pair[i][j] is the share of sub-population j's conjugates formed with
// cells of vector i.
type Conjugates struct {
	Active [NumFeatureVectors]bool
	Ec, Rc [NumFeatureVectors]float64
	EPair  [NumFeatureVectors][NumFeatureVectors]float64
	RPair  [NumFeatureVectors][NumFeatureVectors]float64
}

// Conjugates computes C_j, Ec_j, Rc_j and the pairwise terms for every
// APC sub-population with positive density. Both pairwise terms are
// normalised by the effector sum.
func (p *Population) Conjugates(aff *AffinityMatrix, par Params) Conjugates {
	var c Conjugates
	for j := range p.APC {
		a := p.APC[j]
		if a <= 0 {
			continue
		}
		var sumT, sumE, sumR float64
		for i := range p.T {
			sumT += aff[i][j] * p.T[i]
			sumE += aff[i][j] * p.E[i]
			sumR += aff[i][j] * p.R[i]
		}
		if sumT <= 0 {
			continue
		}
		cj := par.GammaC * a * par.BindLimit * sumT / (par.GammaD + par.GammaC*sumT)
		c.Active[j] = true
		c.Ec[j] = cj * sumE / sumT
		c.Rc[j] = cj * sumR / sumT
		if sumE <= 0 {
			continue
		}
		for i := range p.E {
			c.EPair[i][j] = c.Ec[j] * aff[i][j] * p.E[i] / sumE
			c.RPair[i][j] = c.Rc[j] * aff[i][j] * p.R[i] / sumE
		}
	}
	return c
}

// Pe is the probability an APC drives effector proliferation.
// Undefined for a <= 0; callers skip those sub-populations.
func Pe(a, ec, rc, s float64) float64 {
	d := rc - s*a
	return d * d / (s * s * a * a)
}

// Pr is the probability an APC drives regulator proliferation.
func Pr(a, ec, rc, s float64) float64 {
	return (2*s*a - ec) * ec / (s * s * a * a)
}

// step performs one Forward Euler iteration.
func (p *Population) step(aff *AffinityMatrix, par Params) {
	c := p.Conjugates(aff, par)

	var pe, pr [NumFeatureVectors]float64
	for j := range p.APC {
		if !c.Active[j] {
			continue
		}
		pe[j] = Pe(p.APC[j], c.Ec[j], c.Rc[j], par.BindLimit)
		pr[j] = Pr(p.APC[j], c.Ec[j], c.Rc[j], par.BindLimit)
	}

	for i := range p.E {
		var eStar, rStar float64
		for j := range p.APC {
			if !c.Active[j] {
				continue
			}
			eStar += pe[j] * c.EPair[i][j]
			rStar += pr[j] * c.RPair[i][j]
		}
		p.E[i] = sanitize(p.E[i]+par.Step*(par.RhoE*eStar-par.Delta*p.E[i]), p.E[i])
		p.R[i] = sanitize(p.R[i]+par.Step*(par.RhoR*rStar-par.Delta*p.R[i]), p.R[i])
		p.T[i] = p.E[i] + p.R[i]
	}
}

// sanitize keeps densities finite and non-negative. A non-finite update
// leaves the previous value in place.
func sanitize(next, prev float64) float64 {
	if math.IsNaN(next) || math.IsInf(next, 0) {
		return prev
	}
	if next < 0 {
		return 0
	}
	return next
}

// Decisions maps each vector to true when it is judged anomalous.
type Decisions [NumFeatureVectors]bool

// Decide compares the affinity-weighted effector and regulator sums for
// every vector. Effectors strictly outweighing regulators means faulty.
func (p *Population) Decide(aff *AffinityMatrix) Decisions {
	var d Decisions
	for j := range d {
		var sumE, sumR float64
		for i := range p.E {
			sumE += aff[i][j] * p.E[i]
			sumR += aff[i][j] * p.R[i]
		}
		d[j] = sumE > sumR
	}
	return d
}
