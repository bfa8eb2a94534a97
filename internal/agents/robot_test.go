package agents

import (
	"context"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/comm"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/config"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/metrics"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

func TestTransitionTable(t *testing.T) {
	legal := map[[2]State]bool{
		{StateDeparting, StateSearching}: true,
		{StateSearching, StateReturning}: true,
		{StateSearching, StateSurveying}: true,
		{StateSurveying, StateReturning}: true,
		{StateReturning, StateDeparting}: true,
	}
	for from := State(0); from < NumStates; from++ {
		for to := State(0); to < NumStates; to++ {
			assert.Equal(t, legal[[2]State{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestIllegalTransitionRefused(t *testing.T) {
	rg := newRig(t, nil)
	rg.robot.transition(StateReturning)
	assert.Equal(t, StateDeparting, rg.robot.State())
}

func TestTransitionAccountsTime(t *testing.T) {
	rg := newRig(t, nil)
	r := rg.robot
	r.tick = 10
	r.transition(StateSearching)
	r.tick = 25
	r.transition(StateSurveying)
	r.tick = 30
	r.transition(StateReturning)

	assert.Equal(t, uint64(10), r.Stats().TravellingTicks)
	assert.Equal(t, uint64(20), r.Stats().SearchingTicks)
}

func TestParseFaultCode(t *testing.T) {
	for code, want := range []FaultType{FaultNone, FaultCBias, FaultPBias, FaultFreeze, FaultTLoss, FaultDrift} {
		got, err := ParseFaultCode(code)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, "C_BIAS", FaultCBias.String())

	for _, code := range []int{-1, 6, 99} {
		_, err := ParseFaultCode(code)
		assert.ErrorIs(t, err, ErrInvalidFaultCode, "code %d", code)
	}
}

func TestInjectFault(t *testing.T) {
	rg := newRig(t, nil)
	r := rg.robot

	assert.ErrorIs(t, r.InjectFault(9), ErrInvalidFaultCode)
	assert.ErrorIs(t, r.InjectFault(int(FaultDrift)), ErrUnsupportedFault)
	assert.Equal(t, FaultNone, r.Fault())

	require.NoError(t, r.InjectFault(int(FaultCBias)))
	assert.Equal(t, FaultCBias, r.Fault())
	assert.InDelta(t, r.cfg.Faults.OffsetDistance, rg.body.offset.Length(), 1e-12)

	offset := rg.body.offset
	require.NoError(t, r.InjectFault(int(FaultCBias)))
	assert.Equal(t, offset, rg.body.offset, "reinjection keeps the offset")

	r.ClearFault()
	assert.Equal(t, FaultNone, r.Fault())
	assert.Equal(t, world.Vec2{}, rg.body.offset)
}

func TestProcessMessagesUnknownMode(t *testing.T) {
	rg := newRig(t, nil)
	err := rg.robot.ProcessMessages(comm.Mode('x'), nil)
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestProcessMessagesDropsBadRecords(t *testing.T) {
	rg := newRig(t, func(c *config.Config) { c.Detection.Enabled = true })
	malformed := metrics.MessagesDropped.WithLabelValues("malformed")
	unknown := metrics.MessagesDropped.WithLabelValues("unknown_tag")
	m0, u0 := testutil.ToFloat64(malformed), testutil.ToFloat64(unknown)

	err := rg.robot.ProcessMessages(comm.ModeDetection, []comm.Datagram{
		{Payload: []byte("zz,fb02,")},
		{Payload: []byte("x,fb02,")},
		{Payload: comm.Frame(comm.Ping{Sender: "fb02"}), Range: 0.2},
	})
	require.NoError(t, err)
	assert.Equal(t, m0+1, testutil.ToFloat64(malformed))
	assert.Equal(t, u0+1, testutil.ToFloat64(unknown))
	assert.Equal(t, []float64{0.2}, rg.robot.detector.ranges, "good records still processed")
}

func TestScanPicksUpAndSensesDensity(t *testing.T) {
	ctx := context.Background()
	rg := newRig(t, nil)
	r := rg.robot
	require.NoError(t, rg.reg.SeedFood(ctx, []world.FoodSeed{
		{Location: world.Vec2{X: 0.1}},
		{Location: world.Vec2{X: 0.2}},
		{Location: world.Vec2{Y: 0.2}},
		{Location: world.Vec2{X: 2}},
	}))
	rg.body.pos = world.Vec2{}
	r.state = StateSearching

	r.searching(ctx)

	assert.Equal(t, StateSurveying, r.State())
	assert.True(t, r.HoldingFood())
	assert.Equal(t, world.Vec2{X: 0.1}, r.held.Location)
	assert.Equal(t, 3, r.resourceDensity, "picked item plus two neighbours")
	assert.True(t, r.usingSiteFidelity)
	pos, ok, err := rg.reg.Fidelity(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, world.Vec2{}, pos)

	left, err := rg.reg.ListFood(ctx)
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestScanSkipsQuarantinedFood(t *testing.T) {
	ctx := context.Background()
	rg := newRig(t, func(c *config.Config) {
		c.Forage.UseQZones = true
		c.Forage.BadFoodLimit = 2
	})
	r := rg.robot
	bad := world.Vec2{X: 0.05}
	require.NoError(t, rg.reg.SeedFood(ctx, []world.FoodSeed{{Location: bad, Fake: true}}))
	r.mem.setZones([]registry.QuarantineZone{{ID: 4, Center: bad, Radius: 0.2, Foods: []registry.Food{{Location: bad}}}})
	r.state = StateSearching

	r.scanForFood(ctx)
	assert.Equal(t, StateSearching, r.State())
	assert.False(t, r.HoldingFood())
	assert.Equal(t, registry.ZoneID(4), r.currentZone)

	r.scanForFood(ctx)
	assert.Equal(t, StateReturning, r.State(), "bad food limit sends it home")
	assert.True(t, r.givingUp)
}

func TestSurveyVisitsHeadingsThenReturns(t *testing.T) {
	rg := newRig(t, nil)
	r := rg.robot
	r.state = StateSurveying

	for k := 0; k < surveyHeadings; k++ {
		// Pretend the body has turned to the requested heading.
		rg.body.heading = world.SignedNormalize(float64(k) * math.Pi / 2)
		r.surveying()
		require.Equal(t, StateSurveying, r.State())
		assert.Equal(t, k+1, r.surveyCount)
	}
	r.surveying()
	assert.Equal(t, StateReturning, r.State())
	assert.Zero(t, r.surveyCount)
	assert.Equal(t, world.Vec2{}, rg.body.target)
}

func TestReturningWandersWhenNestIsWrong(t *testing.T) {
	ctx := context.Background()
	rg := newRig(t, nil)
	r := rg.robot
	r.state = StateReturning
	rg.body.pos = world.Vec2{X: 1}
	rg.body.offset = world.Vec2{X: -1}
	rg.body.atTarget = true

	r.returning(ctx)

	assert.Equal(t, StateReturning, r.State(), "true position is outside the nest")
	assert.InDelta(t, r.cfg.Robot.SearchStepSize, rg.body.target.Length(), 1e-12)
}

func TestDepartingInformedStartsSearchAndForgetsSite(t *testing.T) {
	ctx := context.Background()
	rg := newRig(t, nil)
	r := rg.robot
	site := world.Vec2{X: 1}
	r.rememberSite(ctx, site)
	r.informed = true
	rg.body.pos = site
	rg.body.target = site
	r.tick = 3

	r.departing(ctx)

	assert.Equal(t, StateSearching, r.State())
	assert.False(t, r.usingSiteFidelity)
	assert.Equal(t, world.FarAway, r.fidelity)
}

func TestSnapshot(t *testing.T) {
	rg := newRig(t, func(c *config.Config) { c.Detection.Enabled = true })
	rg.body.pos = world.Vec2{X: 1, Y: 2}
	s := rg.robot.Snapshot()
	assert.Equal(t, "fb01", s.ID)
	assert.Equal(t, "DEPARTING", s.State)
	assert.Equal(t, world.Vec2{X: 1, Y: 2}, s.True)
	assert.Equal(t, "NONE", s.Fault)
	assert.Equal(t, "00", s.BFV)
}
