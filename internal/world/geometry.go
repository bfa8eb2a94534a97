// Package world provides planar geometry, the arena bounds, and food layout
// generation for the foraging swarm.
package world

import (
	"fmt"
	"math"
)

// FarAway marks a cleared site-fidelity position.
var FarAway = Vec2{X: 10000, Y: 10000}

// Vec2 is a position or displacement on the arena floor, in meters.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polar builds the vector of the given length pointing at angle radians.
func Polar(length, angle float64) Vec2 {
	return Vec2{X: length * math.Cos(angle), Y: length * math.Sin(angle)}
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }

func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }

func (v Vec2) Scale(k float64) Vec2 { return Vec2{X: v.X * k, Y: v.Y * k} }

// Length returns the Euclidean norm.
func (v Vec2) Length() float64 { return math.Hypot(v.X, v.Y) }

// SquareLength avoids the square root for radius comparisons.
func (v Vec2) SquareLength() float64 { return v.X*v.X + v.Y*v.Y }

// Angle returns the direction of v in (-π, π].
func (v Vec2) Angle() float64 { return math.Atan2(v.Y, v.X) }

// DistanceTo is the Euclidean distance between two points.
func (v Vec2) DistanceTo(o Vec2) float64 { return v.Sub(o).Length() }

func (v Vec2) String() string {
	return fmt.Sprintf("(%.3f, %.3f)", v.X, v.Y)
}

// SignedNormalize maps an angle into [-π, π).
func SignedNormalize(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// UnsignedNormalize maps an angle into [0, 2π).
func UnsignedNormalize(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

// Bound folds value into [min, max] by repeatedly adding or subtracting
// |min|+|max|. It is a rollover, not a clamp.
func Bound(value, min, max float64) float64 {
	offset := math.Abs(min) + math.Abs(max)
	if offset == 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	for value < min {
		value += offset
	}
	for value > max {
		value -= offset
	}
	return value
}
