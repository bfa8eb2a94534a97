package agents

import (
	"context"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/config"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/metrics"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

func TestPoissonCDF(t *testing.T) {
	assert.Zero(t, PoissonCDF(-1, 5))
	assert.InDelta(t, math.Exp(-5), PoissonCDF(0, 5), 1e-12)
	assert.InDelta(t, math.Exp(-2)*(1+2+2), PoissonCDF(2, 2), 1e-12)
	assert.InDelta(t, PoissonCDF(2, 2), PoissonCDF(2.9, 2), 1e-12, "k is floored")

	prev := 0.0
	for k := 0.0; k <= 60; k++ {
		p := PoissonCDF(k, 10)
		assert.GreaterOrEqual(t, p, prev, "k=%v", k)
		prev = p
	}
	assert.InDelta(t, 1, prev, 1e-9)
}

func TestInformedTurn(t *testing.T) {
	assert.InDelta(t, 2*math.Pi, InformedTurn(0.3, 0, 0.1), 1e-12)
	assert.InDelta(t, 0.3, InformedTurn(0.3, 500, 0.1), 1e-12)
	assert.Greater(t, InformedTurn(0.3, 5, 0.1), InformedTurn(0.3, 6, 0.1))
}

// likelyConfig makes laying and fidelity near-certain at any density.
func likelyConfig(c *config.Config) {
	c.Forage.RateOfLayingPheromone = 0.01
	c.Forage.RateOfSiteFidelity = 0.01
}

func TestDepositRealLaysTrailAndReturnsToSite(t *testing.T) {
	ctx := context.Background()
	rg := newRig(t, likelyConfig)
	r := rg.robot

	site := world.Vec2{X: 2, Y: 1}
	r.state = StateReturning
	r.holdingFood = true
	r.held = registry.Food{ID: 7, Location: site, Kind: registry.FoodReal}
	r.resourceDensity = 3
	r.rememberSite(ctx, site)

	r.deposit(ctx)

	trails, err := rg.reg.ListActivePheromones(ctx, 0)
	require.NoError(t, err)
	require.Len(t, trails, 1)
	assert.Equal(t, []world.Vec2{site, {}}, trails[0].Trail)
	assert.Equal(t, site, trails[0].Location)
	assert.Equal(t, 3.0, trails[0].Strength)
	assert.False(t, trails[0].Fake)
	assert.Empty(t, r.trailToShare)

	assert.Equal(t, StateDeparting, r.State())
	assert.True(t, r.Informed())
	assert.False(t, r.HoldingFood())
	assert.Equal(t, site, rg.body.target)
	assert.Equal(t, 1, r.Stats().RealCollected)
	assert.Equal(t, 1, r.Stats().RealTrails)
}

func TestDepositWithoutFidelityUpdateLaysNothing(t *testing.T) {
	ctx := context.Background()
	rg := newRig(t, likelyConfig)
	r := rg.robot

	r.state = StateReturning
	r.holdingFood = true
	r.held = registry.Food{ID: 1, Kind: registry.FoodReal}
	r.resourceDensity = 3
	r.updateFidelity = false

	r.deposit(ctx)

	trails, err := rg.reg.ListActivePheromones(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, trails)
	assert.False(t, r.Informed(), "no site and no trail means a random wall target")
	assert.Equal(t, StateDeparting, r.State())
}

func TestDepositFakeCreatesZone(t *testing.T) {
	ctx := context.Background()
	rg := newRig(t, func(c *config.Config) {
		likelyConfig(c)
		c.Forage.UseQZones = true
		c.Forage.FFDetectionAcc = 1
	})
	r := rg.robot

	site := world.Vec2{X: -2, Y: 2}
	r.state = StateReturning
	r.holdingFood = true
	r.holdingFakeFood = true
	r.held = registry.Food{ID: 10, Location: site, Kind: registry.FoodFake}
	r.resourceDensity = 3
	r.rememberSite(ctx, site)
	r.mem.addLocalFood(
		registry.Food{ID: 11, Location: site.Add(world.Vec2{X: 0.1}), Kind: registry.FoodFake},
		registry.Food{ID: 12, Location: site.Add(world.Vec2{Y: 0.1}), Kind: registry.FoodFake},
	)

	r.deposit(ctx)

	zones, err := rg.reg.ListQuarantineZones(ctx)
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Len(t, zones[0].Foods, 3)
	assert.Equal(t, 1, r.Stats().ZonesCreated)
	assert.Len(t, r.mem.zones, 1, "zones are refreshed at the nest")
	assert.Empty(t, r.mem.localFood)

	trails, err := rg.reg.ListActivePheromones(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, trails, "detected decoys never lay trails")
	assert.False(t, r.Informed(), "fake food never returns to its site")
}

func TestDepositFakeWithoutZonesLaysFakeTrail(t *testing.T) {
	ctx := context.Background()
	rg := newRig(t, likelyConfig)
	r := rg.robot

	site := world.Vec2{X: 1}
	r.state = StateReturning
	r.holdingFood = true
	r.holdingFakeFood = true
	r.held = registry.Food{ID: 3, Location: site, Kind: registry.FoodFake}
	r.resourceDensity = 2
	r.rememberSite(ctx, site)

	r.deposit(ctx)

	trails, err := rg.reg.ListActivePheromones(ctx, 0)
	require.NoError(t, err)
	require.Len(t, trails, 1)
	assert.True(t, trails[0].Fake)
	assert.Equal(t, 1, r.Stats().FakeTrails)
	assert.True(t, r.Informed(), "follows the trail it just laid")
}

func TestRandomWallPointOnWall(t *testing.T) {
	rg := newRig(t, nil)
	a := testArena()
	xr, yr := a.ForageX(), a.ForageY()
	walls := make(map[string]int)
	for i := 0; i < 200; i++ {
		p := rg.robot.randomWallPoint()
		switch {
		case p.Y == yr.Max:
			walls["north"]++
		case p.Y == yr.Min:
			walls["south"]++
		case p.X == xr.Max:
			walls["east"]++
		case p.X == xr.Min:
			walls["west"]++
		default:
			t.Fatalf("%s is not on a wall", p)
		}
		require.True(t, a.InForage(p), "%s", p)
	}
	assert.Len(t, walls, 4, "every wall gets picked")
}

func TestRandomSearchGivesUpOnZonesAfterRetries(t *testing.T) {
	rg := newRig(t, func(c *config.Config) {
		c.Forage.UseQZones = true
		c.Forage.MaxZoneRetries = 5
	})
	rg.robot.mem.setZones([]registry.QuarantineZone{{ID: 1, Radius: 100}})

	before := testutil.ToFloat64(metrics.ZoneRetryFallbacks)
	rg.robot.setRandomSearchLocation()

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ZoneRetryFallbacks))
	assert.True(t, testArena().InForage(rg.body.target))
}

func TestRandomSearchAvoidsZones(t *testing.T) {
	rg := newRig(t, func(c *config.Config) { c.Forage.UseQZones = true })
	// Covers the whole north wall.
	rg.robot.mem.setZones([]registry.QuarantineZone{{ID: 1, Center: world.Vec2{Y: 5}, Radius: 5.2}})

	for i := 0; i < 100; i++ {
		rg.robot.setRandomSearchLocation()
		require.False(t, rg.robot.mem.inZone(rg.body.target), "%s", rg.body.target)
	}
}

func TestGiveUpForgetsSite(t *testing.T) {
	ctx := context.Background()
	rg := newRig(t, nil)
	r := rg.robot
	r.state = StateSearching
	r.rememberSite(ctx, world.Vec2{X: 1})

	r.giveUp(ctx)

	_, ok, err := rg.reg.Fidelity(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, world.FarAway, r.fidelity)
	assert.Equal(t, StateReturning, r.State())
	assert.True(t, rg.body.toNest)
	assert.Equal(t, world.Vec2{}, rg.body.target)
}
