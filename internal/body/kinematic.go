// Package body simulates a differential-drive foot-bot: turn toward the
// target, then drive straight at it. Collisions between robots are not
// modelled; walls stop the robot.
package body

import (
	"math"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/config"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// Radius is the foot-bot body radius in meters.
const Radius = 0.085

// Kinematic is a robot body moved one tick at a time by Advance.
//
// Targets are expressed in the believed frame. With a positioning fault
// the believed frame is shifted from the true one, so the robot drives to
// the wrong place while thinking it arrived.
type Kinematic struct {
	arena *world.Arena

	pos     world.Vec2
	heading float64
	offset  world.Vec2

	target  world.Vec2
	toNest  bool
	stopped bool
	blocked bool

	stride float64 // meters per tick
	turn   float64 // radians per tick

	targetTol, nestTol           float64
	targetAngleTol, nestAngleTol float64
}

// NewKinematic places a body at start facing heading.
func NewKinematic(arena *world.Arena, rc config.RobotConfig, ticksPerSecond int, start world.Vec2, heading float64) *Kinematic {
	tps := float64(ticksPerSecond)
	if tps <= 0 {
		tps = 1
	}
	return &Kinematic{
		arena:          arena,
		pos:            start,
		heading:        world.SignedNormalize(heading),
		target:         start,
		stride:         rc.ForwardSpeed / tps,
		turn:           rc.RotationSpeed / tps,
		targetTol:      rc.TargetDistanceTolerance,
		nestTol:        rc.NestDistanceTolerance,
		targetAngleTol: rc.TargetAngleTolerance,
		nestAngleTol:   rc.NestAngleTolerance,
	}
}

func (k *Kinematic) BelievedPosition() world.Vec2 { return k.pos.Add(k.offset) }

func (k *Kinematic) TruePosition() world.Vec2 { return k.pos }

func (k *Kinematic) Heading() float64 { return k.heading }

func (k *Kinematic) Target() world.Vec2 { return k.target }

func (k *Kinematic) SetPositionOffset(offset world.Vec2) { k.offset = offset }

// SetTarget sets a new goal and resumes motion.
func (k *Kinematic) SetTarget(p world.Vec2, headingToNest bool) {
	k.target = p
	k.toNest = headingToNest
	k.stopped = false
	k.blocked = false
}

// Stop halts the body until the next SetTarget.
func (k *Kinematic) Stop() { k.stopped = true }

// IsAtTarget reports whether the believed position is within tolerance of
// the target. A target behind a wall counts as reached once the body is
// pressed against that wall.
func (k *Kinematic) IsAtTarget() bool {
	if k.blocked {
		return true
	}
	tol := k.targetTol
	if k.toNest {
		tol = k.nestTol
	}
	return k.BelievedPosition().DistanceTo(k.target) < tol
}

// Advance moves the body by one tick.
func (k *Kinematic) Advance() {
	if k.stopped || k.IsAtTarget() {
		return
	}

	delta := k.target.Sub(k.BelievedPosition())
	diff := world.SignedNormalize(delta.Angle() - k.heading)
	if math.Abs(diff) > k.turn {
		k.heading = world.SignedNormalize(k.heading + math.Copysign(k.turn, diff))
		diff -= math.Copysign(k.turn, diff)
	} else {
		k.heading = world.SignedNormalize(delta.Angle())
		diff = 0
	}

	tol := k.targetAngleTol
	if k.toNest {
		tol = k.nestAngleTol
	}
	if math.Abs(diff) > tol {
		return
	}

	next := k.pos.Add(world.Polar(math.Min(k.stride, delta.Length()), k.heading))
	clamped := k.clampToFloor(next)
	if clamped != next {
		k.blocked = true
	}
	k.pos = clamped
}

// clampToFloor keeps the body centre one radius away from the walls.
func (k *Kinematic) clampToFloor(p world.Vec2) world.Vec2 {
	hx, hy := k.arena.Width/2-Radius, k.arena.Height/2-Radius
	return world.Vec2{
		X: math.Max(-hx, math.Min(hx, p.X)),
		Y: math.Max(-hy, math.Min(hy, p.Y)),
	}
}
