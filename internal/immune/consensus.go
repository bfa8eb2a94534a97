package immune

import (
	"fmt"
	"sort"
)

// Wire lists the textual vectors and decisions in ascending vector order.
func (d Decisions) Wire() ([]string, []bool) {
	vs := make([]string, NumFeatureVectors)
	ds := make([]bool, NumFeatureVectors)
	for i := range d {
		vs[i] = FeatureVector(i).String()
		ds[i] = d[i]
	}
	return vs, ds
}

// Faulty lists the vectors judged anomalous.
func (d Decisions) Faulty() []FeatureVector {
	var out []FeatureVector
	for i, f := range d {
		if f {
			out = append(out, FeatureVector(i))
		}
	}
	return out
}

type ballotEntry struct {
	decisions Decisions
	reported  [NumFeatureVectors]bool
}

// Ballot collects one decision set per voter. The first set cast by a voter
// is kept and later ones are ignored until Reset.
type Ballot struct {
	entries map[string]ballotEntry
}

// NewBallot returns an empty ballot.
func NewBallot() *Ballot {
	return &Ballot{entries: make(map[string]ballotEntry)}
}

// Cast records a full decision set. It returns false if voter already voted.
func (b *Ballot) Cast(voter string, d Decisions) bool {
	if _, dup := b.entries[voter]; dup {
		return false
	}
	e := ballotEntry{decisions: d}
	for i := range e.reported {
		e.reported[i] = true
	}
	b.entries[voter] = e
	return true
}

// CastWire records a decoded decision message. Vectors the voter did not
// mention do not count toward that vector's tally.
func (b *Ballot) CastWire(voter string, vectors []string, decisions []bool) (bool, error) {
	if len(vectors) != len(decisions) {
		return false, fmt.Errorf("cast %s: %d vectors vs %d decisions", voter, len(vectors), len(decisions))
	}
	if _, dup := b.entries[voter]; dup {
		return false, nil
	}
	var e ballotEntry
	for i, s := range vectors {
		fv, err := ParseFeatureVector(s)
		if err != nil {
			return false, fmt.Errorf("cast %s: %w", voter, err)
		}
		e.decisions[fv] = decisions[i]
		e.reported[fv] = true
	}
	b.entries[voter] = e
	return true, nil
}

// Len is the number of distinct voters.
func (b *Ballot) Len() int { return len(b.entries) }

// Voters returns voter ids in sorted order.
func (b *Ballot) Voters() []string {
	ids := make([]string, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tally returns the per-vector majority. A vector is faulty only when
// strictly more voters said faulty than tolerated; ties and vectors nobody
// reported come out tolerated.
func (b *Ballot) Tally() Decisions {
	var faulty, tolerated [NumFeatureVectors]int
	for _, e := range b.entries {
		for i := range e.decisions {
			if !e.reported[i] {
				continue
			}
			if e.decisions[i] {
				faulty[i]++
			} else {
				tolerated[i]++
			}
		}
	}
	var out Decisions
	for i := range out {
		out[i] = faulty[i] > tolerated[i]
	}
	return out
}

// Reset clears every vote.
func (b *Ballot) Reset() { clear(b.entries) }
