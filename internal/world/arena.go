package world

import (
	"fmt"
	"math/rand"
)

// WallClearance keeps targets away from the arena walls: robot body radius
// plus a safety margin.
const WallClearance = 0.085 + 0.1

// Range is a closed interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies inside the interval.
func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// Clamp limits v to the interval.
func (r Range) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Uniform draws from [Min, Max) with rng.
func (r Range) Uniform(rng *rand.Rand) float64 {
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

// Arena is the rectangular foraging floor, centred on the origin.
type Arena struct {
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Nest       Vec2    `json:"nest"`
	NestRadius float64 `json:"nest_radius"`
	FoodRadius float64 `json:"food_radius"`
}

// NewArena builds an arena from its size and nest geometry.
func NewArena(width, height float64, nest Vec2, nestRadius, foodRadius float64) *Arena {
	return &Arena{
		Width:      width,
		Height:     height,
		Nest:       nest,
		NestRadius: nestRadius,
		FoodRadius: foodRadius,
	}
}

// ForageX is the reachable x interval.
func (a *Arena) ForageX() Range {
	half := a.Width / 2
	return Range{Min: -half + WallClearance, Max: half - WallClearance}
}

// ForageY is the reachable y interval.
func (a *Arena) ForageY() Range {
	half := a.Height / 2
	return Range{Min: -half + WallClearance, Max: half - WallClearance}
}

// InForage reports whether p is reachable.
func (a *Arena) InForage(p Vec2) bool {
	return a.ForageX().Contains(p.X) && a.ForageY().Contains(p.Y)
}

// ClampForage pulls p back inside the reachable rectangle.
func (a *Arena) ClampForage(p Vec2) Vec2 {
	return Vec2{X: a.ForageX().Clamp(p.X), Y: a.ForageY().Clamp(p.Y)}
}

// InNest reports whether p lies strictly inside the nest disc.
func (a *Arena) InNest(p Vec2) bool {
	return p.Sub(a.Nest).SquareLength() < a.NestRadius*a.NestRadius
}

// String returns a summary of the arena.
func (a *Arena) String() string {
	return fmt.Sprintf("Arena(%.2fx%.2f, nest=%s r=%.2f)", a.Width, a.Height, a.Nest, a.NestRadius)
}
