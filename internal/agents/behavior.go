// CPFA behaviour: one handler per foraging state. Every tick the robot runs
// the handler for its current state, which may pick a new movement target
// and move to another state.
package agents

import (
	"context"
	"log/slog"
	"math"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/metrics"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// surveyHeadings is how many headings (k·π/2, k = 0..4) a survey visits.
const surveyHeadings = 5

// forage dispatches to the current state's handler.
func (r *Robot) forage(ctx context.Context) {
	switch r.state {
	case StateDeparting:
		r.departing(ctx)
	case StateSearching:
		r.searching(ctx)
	case StateSurveying:
		r.surveying()
	case StateReturning:
		r.returning(ctx)
	}
}

// transition moves to another state, refusing changes the table forbids.
func (r *Robot) transition(to State) {
	from := r.state
	if !CanTransition(from, to) {
		slog.Error("illegal state transition refused", "robot", r.ID, "from", from, "to", to)
		return
	}

	elapsed := r.tick - r.stateSince
	switch from {
	case StateDeparting, StateReturning:
		r.stats.TravellingTicks += elapsed
	case StateSearching, StateSurveying:
		r.stats.SearchingTicks += elapsed
	}
	r.stateSince = r.tick
	r.state = to
	metrics.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// arrived reports whether the current target is reached. A body pressed
// against a wall short of its target counts as arrived.
func (r *Robot) arrived() bool {
	if r.body.IsAtTarget() {
		return true
	}
	return r.body.BelievedPosition().DistanceTo(r.body.Target()) < r.cfg.Robot.TargetDistanceTolerance
}

func (r *Robot) departing(ctx context.Context) {
	arrived := r.arrived()

	if r.onScanTick() && !r.informed {
		if r.onDecisionTick() && r.rng.Uniform() < r.cfg.Forage.ProbSwitchToSearching {
			r.body.Stop()
			r.searchTime = 0
			r.transition(StateSearching)
			r.setUninformedTarget()
			return
		}
		if arrived {
			r.setRandomSearchLocation()
		}
	}

	if r.informed && arrived {
		r.searchTime = 0
		r.transition(StateSearching)
		if r.usingSiteFidelity {
			r.usingSiteFidelity = false
			r.forgetSite(ctx)
		}
	}
}

// searching runs on scan ticks only: look for food, then on arrival either
// give up (decision ticks) or take the next walk step.
func (r *Robot) searching(ctx context.Context) {
	if !r.onScanTick() {
		return
	}
	r.scanForFood(ctx)
	if r.state != StateSearching || r.holdingFood {
		return
	}
	if !r.arrived() {
		return
	}

	if r.onDecisionTick() && r.rng.Uniform() < r.cfg.Forage.ProbReturnToNest {
		r.giveUp(ctx)
		return
	}

	w := r.rng.Gaussian(r.cfg.Forage.UninformedSearchVariation)
	if !r.informed {
		r.stepToward(r.body.Heading() + w)
		return
	}
	t := r.searchTime
	r.searchTime++
	turn := world.Bound(InformedTurn(w, t, r.cfg.Forage.RateOfInformedSearchDecay), -math.Pi, math.Pi)
	r.stepToward(r.body.Heading() + turn)
}

// giveUp abandons the search and heads home without food.
func (r *Robot) giveUp(ctx context.Context) {
	r.forgetSite(ctx)
	r.trailToShare = r.trailToShare[:0]
	r.body.SetTarget(r.reg.Nest(), true)
	r.givingUp = true
	r.usingSiteFidelity = false
	r.updateFidelity = false
	r.transition(StateReturning)
}

func (r *Robot) surveying() {
	if r.surveyCount < surveyHeadings {
		rotation := float64(r.surveyCount) * math.Pi / 2
		pos := r.body.BelievedPosition()
		r.body.SetTarget(pos.Add(world.Polar(r.cfg.Robot.SearchStepSize, world.SignedNormalize(rotation))), true)
		if math.Abs(world.SignedNormalize(r.body.Heading()-rotation)) < r.cfg.Robot.TargetAngleTolerance {
			r.surveyCount++
		}
		return
	}
	r.body.SetTarget(r.reg.Nest(), true)
	r.surveyCount = 0
	r.transition(StateReturning)
}

func (r *Robot) returning(ctx context.Context) {
	if !r.body.IsAtTarget() {
		return
	}
	if r.arena.InNest(r.body.TruePosition()) {
		r.deposit(ctx)
		return
	}
	// The believed nest is not where the true nest is: wander toward it.
	toNest := r.reg.Nest().Sub(r.body.BelievedPosition()).Angle()
	r.stepToward(toNest + r.rng.Gaussian(r.cfg.Forage.UninformedSearchVariation))
}
