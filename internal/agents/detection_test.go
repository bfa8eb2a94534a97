package agents

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/comm"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/config"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/entropy"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/immune"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// fastDetection shortens the cycle and the integration so a full round
// finishes in a few dozen ticks.
func fastDetection(c *config.Config) {
	c.Detection.Enabled = true
	c.Detection.Strategy = "crm"
	c.Detection.WindowLength = 2
	c.Detection.CycleSeconds = 1
	c.Detection.Solver.Horizon = 1e5
	c.Detection.Solver.Step = 1000
}

func TestConsensusOnOwnVectorLatchesFault(t *testing.T) {
	rg := newRig(t, fastDetection)
	d := rg.robot.detector
	d.bfv = immune.FromBits(true, true)
	d.ballot.Cast("fb01", immune.Decisions{3: true})
	d.ballot.Cast("fb02", immune.Decisions{3: true})
	d.ballot.Cast("fb03", immune.Decisions{})
	d.enter(phaseVoting)

	d.conclude()

	assert.True(t, rg.robot.FaultDetected())
	assert.Equal(t, "idle", rg.robot.DetectionPhase())
}

func TestConsensusTieTolerates(t *testing.T) {
	rg := newRig(t, fastDetection)
	d := rg.robot.detector
	d.bfv = immune.FromBits(true, false)
	d.ballot.Cast("fb01", immune.Decisions{2: true})
	d.ballot.Cast("fb02", immune.Decisions{})

	d.conclude()

	assert.False(t, rg.robot.FaultDetected())
}

func TestConsensusOnOtherVectorIgnored(t *testing.T) {
	rg := newRig(t, fastDetection)
	d := rg.robot.detector
	d.bfv = immune.FromBits(false, false)
	d.ballot.Cast("fb01", immune.Decisions{3: true})

	d.conclude()

	assert.False(t, rg.robot.FaultDetected())
}

func TestStepHaltsOnDetection(t *testing.T) {
	rg := newRig(t, func(c *config.Config) {
		fastDetection(c)
		c.Detection.HaltOnDetection = true
	})
	rg.robot.faultDetected = true

	err := rg.robot.Step(context.Background(), 1)
	assert.ErrorIs(t, err, ErrFaultDetected)

	// Reported once.
	assert.NoError(t, rg.robot.Step(context.Background(), 2))
}

func TestFeatureBitsOnlyWhileCollecting(t *testing.T) {
	rg := newRig(t, fastDetection)
	d := rg.robot.detector

	d.onFeatureBits(comm.FeatureBits{Sender: "fb02", Bits: []bool{true, false}})
	assert.Empty(t, d.peerBFV)

	d.enter(phaseCollecting)
	d.onFeatureBits(comm.FeatureBits{Sender: "fb02", Bits: []bool{true, false}})
	d.onFeatureBits(comm.FeatureBits{Sender: "fb03", Bits: []bool{true}})
	assert.Equal(t, map[string]immune.FeatureVector{"fb02": immune.FromBits(true, false)}, d.peerBFV)
}

func TestCellsBufferedWhileSolving(t *testing.T) {
	rg := newRig(t, fastDetection)
	d := rg.robot.detector
	d.enter(phaseSolving)
	cells := comm.Cells{Target: "fb01", Sender: "fb02", Effector: []float64{1, 0, 0, 0}, Regulator: []float64{0, 0, 0, 1}}

	d.onCells(comm.Cells{Target: "fb09", Sender: "fb02"})
	d.onCells(cells)

	require.Len(t, d.pending, 1)
	assert.Zero(t, d.pop.TotalCells(), "nothing merged mid-solve")
	assert.Empty(t, rg.radio.sent)
}

func TestCellsMergedAndAnsweredOnce(t *testing.T) {
	rg := newRig(t, fastDetection)
	d := rg.robot.detector
	d.pop.E = [4]float64{0, 0, 0, 8}
	d.enter(phaseDiffusing)
	cells := comm.Cells{Target: "fb01", Sender: "fb02", Effector: []float64{1, 0, 0, 0}, Regulator: []float64{0, 0, 0, 1}}

	d.onCells(cells)
	d.onCells(cells)

	// merge, give half back, merge again
	assert.Equal(t, [4]float64{1.5, 0, 0, 5}, d.pop.E)
	assert.Equal(t, [4]float64{0, 0, 0, 1.5}, d.pop.R)
	msgs := rg.radio.decoded(t, comm.ModeDetection)
	require.Len(t, msgs, 1, "one reply per sender per cycle")
	reply := msgs[0].(comm.Cells)
	assert.Equal(t, "fb02", reply.Target)
	assert.Equal(t, []float64{0.5, 0, 0, 4}, reply.Effector)
}

// swarm wires robots to a real bus with stationary bodies.
type swarm struct {
	bus    *comm.Bus
	robots []*Robot
}

func newSwarm(t *testing.T, positions []world.Vec2, mutate func(*config.Config)) *swarm {
	t.Helper()
	cfg := testConfig(mutate)
	reg := registry.NewMemory(world.Vec2{}, cfg.Forage.PheromoneThreshold)
	sw := &swarm{bus: comm.NewBus(cfg.Robot.RadioRange)}
	sp := NewSpawner(1)
	for i, p := range positions {
		id := sp.NextID()
		b := &fakeBody{pos: p}
		ep, err := sw.bus.Attach(id, b)
		require.NoError(t, err)
		r := NewRobot(id, cfg, testArena(), b, ep, reg, entropy.New(int64(i+1)))
		t.Cleanup(r.Close)
		sw.robots = append(sw.robots, r)
	}
	return sw
}

func (sw *swarm) run(t *testing.T, ticks int) {
	t.Helper()
	ctx := context.Background()
	for tick := 0; tick < ticks; tick++ {
		sw.bus.Deliver()
		for _, r := range sw.robots {
			r.tick = uint64(tick)
			require.NoError(t, r.communicate(ctx))
			r.AdvanceSolver(1 << 20)
		}
	}
}

func TestDetectionRoundReachesConsensus(t *testing.T) {
	defer goleak.VerifyNone(t)

	sw := newSwarm(t, []world.Vec2{{}, {X: 0.1}, {Y: 0.1}}, fastDetection)
	sw.run(t, 30)

	first := sw.robots[0].detector
	for _, r := range sw.robots {
		d := r.detector
		assert.Equal(t, "idle", r.DetectionPhase(), r.ID)
		assert.Equal(t, immune.FromBits(true, false), d.bfv, "everyone is close, nobody far")
		assert.Equal(t, 3, d.ballot.Len(), r.ID)
		assert.Empty(t, cmp.Diff(first.consensus, d.consensus), r.ID)
		assert.Equal(t, d.consensus[d.bfv], r.FaultDetected(), r.ID)
	}
}

func TestDetectionRoundInBackground(t *testing.T) {
	defer goleak.VerifyNone(t)

	sw := newSwarm(t, []world.Vec2{{}, {X: 0.1}}, func(c *config.Config) {
		fastDetection(c)
		c.Detection.Solver.Mode = "background"
	})
	ctx := context.Background()
	for tick := 0; tick < 30; tick++ {
		sw.bus.Deliver()
		for _, r := range sw.robots {
			r.tick = uint64(tick)
			require.NoError(t, r.communicate(ctx))
			// Let the background solve finish within the tick.
			if job := r.detector.job; job != nil {
				require.NoError(t, job.Wait(ctx))
			}
		}
	}
	for _, r := range sw.robots {
		assert.Equal(t, "idle", r.DetectionPhase(), r.ID)
		assert.Equal(t, 2, r.detector.ballot.Len(), r.ID)
		assert.Nil(t, r.detector.job)
	}
}
