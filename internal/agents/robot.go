package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/comm"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/config"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/entropy"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/metrics"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// Body is the physical robot as the controller sees it. Navigation uses the
// believed position; anything that must not be spoofed uses the true one.
type Body interface {
	BelievedPosition() world.Vec2
	TruePosition() world.Vec2
	Heading() float64
	// SetTarget sets the movement goal. headingToNest selects the nest
	// distance tolerance for IsAtTarget.
	SetTarget(p world.Vec2, headingToNest bool)
	Target() world.Vec2
	IsAtTarget() bool
	Stop()
	// SetPositionOffset shifts the believed position from the true one.
	SetPositionOffset(offset world.Vec2)
}

// Robot is one forager's controller state.
type Robot struct {
	ID string

	cfg   *config.Config
	arena *world.Arena
	body  Body
	radio comm.Radio
	reg   registry.Registry
	rng   *entropy.Source

	scanEvery   uint64
	decideEvery uint64
	tick        uint64

	// Foraging
	state             State
	stateSince        uint64
	searchTime        int
	holdingFood       bool
	holdingFakeFood   bool
	held              registry.Food
	informed          bool
	usingSiteFidelity bool
	updateFidelity    bool
	givingUp          bool
	fidelity          world.Vec2
	resourceDensity   int
	trailToShare      []world.Vec2
	trailToFollow     []world.Vec2
	surveyCount       int
	badFoodCount      int
	currentZone       registry.ZoneID
	mem               memory
	stats             Stats

	// Faults
	fault         FaultType
	faultInjected bool
	faultDetected bool
	faultLogged   bool

	detector *detector
	locator  *locator
}

// NewRobot wires a controller to its body, radio and the shared registry.
func NewRobot(id string, cfg *config.Config, arena *world.Arena, body Body, radio comm.Radio, reg registry.Registry, rng *entropy.Source) *Robot {
	r := &Robot{
		ID:          id,
		cfg:         cfg,
		arena:       arena,
		body:        body,
		radio:       radio,
		reg:         reg,
		rng:         rng,
		scanEvery:   cfg.Timing.Ticks(cfg.Timing.ScanPeriodSeconds),
		decideEvery: cfg.Timing.Ticks(cfg.Timing.DecisionPeriodSeconds),
	}
	if cfg.Detection.Enabled {
		switch cfg.Detection.Strategy {
		case "localization":
			r.locator = newLocator(r)
		default:
			r.detector = newDetector(r)
		}
	}
	r.Reset()
	return r
}

// Reset restores the state a robot starts an experiment with. Injected
// faults are left alone.
func (r *Robot) Reset() {
	r.state = StateDeparting
	r.stateSince = r.tick
	r.searchTime = 0
	r.holdingFood = false
	r.holdingFakeFood = false
	r.held = registry.Food{}
	r.informed = false
	r.usingSiteFidelity = false
	r.updateFidelity = false
	r.givingUp = false
	r.fidelity = world.FarAway
	r.resourceDensity = 0
	r.trailToShare = nil
	r.trailToFollow = nil
	r.surveyCount = 0
	r.badFoodCount = 0
	r.currentZone = 0
	r.mem.reset()
	r.stats = Stats{}
	r.faultDetected = false
	r.faultLogged = false
	if r.detector != nil {
		r.detector.reset()
	}
	if r.locator != nil {
		r.locator.reset()
	}
	// Start searching right away from where we stand.
	r.body.SetTarget(r.body.BelievedPosition(), true)
}

// Step runs one control step: messaging and fault detection, then the
// foraging state machine. Errors are fatal to the run.
func (r *Robot) Step(ctx context.Context, tick uint64) error {
	r.tick = tick

	if err := r.communicate(ctx); err != nil {
		return fmt.Errorf("robot %s: %w", r.ID, err)
	}

	if r.faultDetected && !r.faultLogged {
		r.faultLogged = true
		believed, actual := r.body.BelievedPosition(), r.body.TruePosition()
		truth := "false_positive"
		if r.faultInjected && r.fault != FaultNone {
			truth = "true_positive"
		}
		metrics.FaultsDetected.WithLabelValues(truth).Inc()
		slog.Warn("fault detected",
			"robot", r.ID,
			"believed", believed.String(),
			"true", actual.String(),
			"injected", r.fault.String(),
		)
		if r.cfg.Detection.HaltOnDetection {
			return fmt.Errorf("robot %s at %s: %w", r.ID, believed, ErrFaultDetected)
		}
	}

	r.forage(ctx)
	return nil
}

// communicate drains the radio and runs whichever detection strategy is
// configured. Without detection the inbox is simply discarded.
func (r *Robot) communicate(ctx context.Context) error {
	inbox := r.radio.Receive()
	switch {
	case r.detector != nil:
		return r.detector.step(ctx, inbox)
	case r.locator != nil:
		return r.locator.step(inbox)
	}
	return nil
}

// send frames and broadcasts a message.
func (r *Robot) send(m comm.Message) {
	r.radio.Broadcast(comm.Frame(m))
}

func (r *Robot) onScanTick() bool {
	return r.scanEvery > 0 && r.tick%r.scanEvery == 0
}

func (r *Robot) onDecisionTick() bool {
	return r.decideEvery > 0 && r.tick%r.decideEvery == 0
}

// now is the simulated time in seconds.
func (r *Robot) now() float64 { return r.cfg.Timing.Seconds(r.tick) }

// ── Accessors ──

// State returns the foraging state.
func (r *Robot) State() State { return r.state }

// Status returns the state name.
func (r *Robot) Status() string { return r.state.String() }

// Informed reports whether the robot is following fidelity or a trail.
func (r *Robot) Informed() bool { return r.informed }

// HoldingFood reports whether an item is being carried.
func (r *Robot) HoldingFood() bool { return r.holdingFood }

// FaultDetected reports whether the swarm has flagged this robot.
func (r *Robot) FaultDetected() bool { return r.faultDetected }

// Fault returns the injected fault, FaultNone if healthy.
func (r *Robot) Fault() FaultType { return r.fault }

// Stats returns a copy of the foraging counters.
func (r *Robot) Stats() Stats { return r.stats }

// Snapshot is a read-only view of a robot for reports and the API.
type Snapshot struct {
	ID            string     `json:"id"`
	State         string     `json:"state"`
	Believed      world.Vec2 `json:"believed"`
	True          world.Vec2 `json:"true"`
	Target        world.Vec2 `json:"target"`
	Informed      bool       `json:"informed"`
	HoldingFood   bool       `json:"holding_food"`
	HoldingFake   bool       `json:"holding_fake"`
	Fault         string     `json:"fault"`
	FaultDetected bool       `json:"fault_detected"`
	BFV           string     `json:"bfv,omitempty"`
	Stats         Stats      `json:"stats"`
}

// Snapshot captures the robot's current state.
func (r *Robot) Snapshot() Snapshot {
	s := Snapshot{
		ID:            r.ID,
		State:         r.state.String(),
		Believed:      r.body.BelievedPosition(),
		True:          r.body.TruePosition(),
		Target:        r.body.Target(),
		Informed:      r.informed,
		HoldingFood:   r.holdingFood,
		HoldingFake:   r.holdingFakeFood,
		Fault:         r.fault.String(),
		FaultDetected: r.faultDetected,
		Stats:         r.stats,
	}
	if r.detector != nil {
		s.BFV = r.detector.bfv.String()
	}
	return s
}
