// Food layout generation using layered simplex noise.
// Clustered layouts place items where the density field peaks; fake food is
// goes to the items scoring highest on a second, independent field, so it
// forms patches while matching FakeFraction exactly.
package world

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Distribution selects how food items are scattered.
type Distribution string

const (
	DistributionRandom  Distribution = "random"  // Uniform over the forage area
	DistributionCluster Distribution = "cluster" // Noise-shaped clusters
)

// GenConfig holds food layout parameters.
type GenConfig struct {
	Seed         int64 // Random seed (0 = random)
	Count        int
	Distribution Distribution
	FakeFraction float64 // Share of items that are decoys, 0..1
	Frequency    float64 // Noise frequency for clustered layouts
	Threshold    float64 // Density cut-off (0..1) for clustered layouts
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Count:        256,
		Distribution: DistributionCluster,
		FakeFraction: 0.25,
		Frequency:    0.9,
		Threshold:    0.62,
	}
}

// FoodSeed is a generated food item before it is handed to a registry.
type FoodSeed struct {
	Location Vec2
	Fake     bool
}

// GenerateFood scatters cfg.Count items over the forage area, keeping them
// clear of the nest and of each other.
func GenerateFood(a *Arena, cfg GenConfig) ([]FoodSeed, error) {
	if cfg.Count < 0 {
		return nil, fmt.Errorf("generate food: negative count %d", cfg.Count)
	}
	switch cfg.Distribution {
	case DistributionRandom, DistributionCluster:
	default:
		return nil, fmt.Errorf("generate food: unknown distribution %q", cfg.Distribution)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	rng := rand.New(rand.NewSource(seed))
	density := opensimplex.NewNormalized(seed)
	decoy := opensimplex.NewNormalized(seed + 1)

	fx, fy := a.ForageX(), a.ForageY()
	minSpacing := 2 * a.FoodRadius
	nestClear := a.NestRadius + a.FoodRadius

	seeds := make([]FoodSeed, 0, cfg.Count)
	scores := make([]float64, 0, cfg.Count)
	attempts := 0
	maxAttempts := cfg.Count * 500
	for len(seeds) < cfg.Count {
		attempts++
		if attempts > maxAttempts {
			markFakes(seeds, scores, cfg.FakeFraction)
			return seeds, fmt.Errorf("generate food: placed %d of %d items, arena too crowded", len(seeds), cfg.Count)
		}

		p := Vec2{X: fx.Uniform(rng), Y: fy.Uniform(rng)}
		if p.DistanceTo(a.Nest) < nestClear {
			continue
		}
		if cfg.Distribution == DistributionCluster {
			d := octaveNoise(density, p.X, p.Y, 3, cfg.Frequency, 0.5)
			if d < cfg.Threshold && rng.Float64() > 0.02 {
				continue
			}
		}
		if tooClose(p, seeds, minSpacing) {
			continue
		}

		seeds = append(seeds, FoodSeed{Location: p})
		scores = append(scores, octaveNoise(decoy, p.X, p.Y, 2, cfg.Frequency*0.5, 0.5))
	}
	markFakes(seeds, scores, cfg.FakeFraction)
	return seeds, nil
}

// markFakes flags the round(fraction·n) seeds with the highest decoy scores.
func markFakes(seeds []FoodSeed, scores []float64, fraction float64) {
	fraction = math.Max(0, math.Min(1, fraction))
	n := int(math.Round(fraction * float64(len(seeds))))
	if n == 0 {
		return
	}
	order := make([]int, len(seeds))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })
	for _, i := range order[:n] {
		seeds[i].Fake = true
	}
}

// octaveNoise sums several noise octaves and renormalizes to [0, 1].
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

func tooClose(p Vec2, existing []FoodSeed, minDist float64) bool {
	for _, s := range existing {
		if p.Sub(s.Location).SquareLength() < minDist*minDist {
			return true
		}
	}
	return false
}

// FakeCount returns how many seeds are decoys.
func FakeCount(seeds []FoodSeed) int {
	n := 0
	for _, s := range seeds {
		if s.Fake {
			n++
		}
	}
	return n
}

// MeanSpacing is a rough layout summary used in startup logs.
func MeanSpacing(a *Arena, count int) float64 {
	if count == 0 {
		return 0
	}
	area := (a.ForageX().Max - a.ForageX().Min) * (a.ForageY().Max - a.ForageY().Min)
	return math.Sqrt(area / float64(count))
}
