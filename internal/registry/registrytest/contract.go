// Package registrytest holds the behaviour every Registry backend must share.
package registrytest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// Factory builds a fresh registry with the nest at the origin and the given
// pheromone expiry threshold.
type Factory func(t *testing.T, threshold float64) registry.Registry

// Run exercises a backend against the shared contract.
func Run(t *testing.T, newRegistry Factory) {
	t.Run("claim is exclusive", func(t *testing.T) { claimIsExclusive(t, newRegistry) })
	t.Run("food within is inclusive", func(t *testing.T) { foodWithin(t, newRegistry) })
	t.Run("pheromone lifecycle", func(t *testing.T) { pheromoneLifecycle(t, newRegistry) })
	t.Run("fidelity table", func(t *testing.T) { fidelityTable(t, newRegistry) })
	t.Run("zones append", func(t *testing.T) { zonesAppend(t, newRegistry) })
	t.Run("zones merge", func(t *testing.T) { zonesMerge(t, newRegistry) })
	t.Run("copies do not alias", func(t *testing.T) { copiesDoNotAlias(t, newRegistry) })
}

func seed(t *testing.T, r registry.Registry, pts ...world.Vec2) []registry.Food {
	t.Helper()
	ctx := context.Background()
	seeds := make([]world.FoodSeed, len(pts))
	for i, p := range pts {
		seeds[i] = world.FoodSeed{Location: p, Fake: i%2 == 1}
	}
	require.NoError(t, r.SeedFood(ctx, seeds))
	foods, err := r.ListFood(ctx)
	require.NoError(t, err)
	require.Len(t, foods, len(pts))
	return foods
}

func claimIsExclusive(t *testing.T, newRegistry Factory) {
	ctx := context.Background()
	r := newRegistry(t, 0)
	foods := seed(t, r, world.Vec2{X: 1, Y: 1})
	id := foods[0].ID

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := r.ClaimFood(ctx, id)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one robot may hold an item")
	left, err := r.ListFood(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func foodWithin(t *testing.T, newRegistry Factory) {
	ctx := context.Background()
	r := newRegistry(t, 0)
	seed(t, r, world.Vec2{X: 0.5}, world.Vec2{X: 1}, world.Vec2{X: 2})

	near, err := r.FoodWithin(ctx, world.Vec2{}, 1)
	require.NoError(t, err)
	require.Len(t, near, 2)
	assert.Equal(t, world.Vec2{X: 0.5}, near[0].Location)
	assert.Equal(t, world.Vec2{X: 1}, near[1].Location)
	assert.Equal(t, registry.FoodFake, near[1].Kind)
}

func pheromoneLifecycle(t *testing.T, newRegistry Factory) {
	ctx := context.Background()
	r := newRegistry(t, 0.5)
	trail := []world.Vec2{{X: 2, Y: 2}, {}}

	id, err := r.AddPheromone(ctx, registry.Pheromone{
		Location:  trail[0],
		Trail:     trail,
		CreatedAt: 10,
		DecayRate: 0.1,
		Strength:  4,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	active, err := r.ListActivePheromones(ctx, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, trail, active[0].Trail)
	assert.True(t, active[0].Active)
	assert.InDelta(t, 4, active[0].Weight(10), 1e-9)

	// 4·e^(−0.1·30) ≈ 0.199, below the 0.5 threshold.
	active, err = r.ListActivePheromones(ctx, 40)
	require.NoError(t, err)
	assert.Empty(t, active)
	active, err = r.ListActivePheromones(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, active, "expiry is permanent")

	id2, err := r.AddPheromone(ctx, registry.Pheromone{Location: trail[0], Trail: trail, CreatedAt: 50, Strength: 1})
	require.NoError(t, err)
	require.NoError(t, r.DeactivatePheromone(ctx, id2))
	active, err = r.ListActivePheromones(ctx, 50)
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, r.DeactivatePheromone(ctx, "missing"), registry.ErrNotFound)
}

func fidelityTable(t *testing.T, newRegistry Factory) {
	ctx := context.Background()
	r := newRegistry(t, 0)

	_, ok, err := r.Fidelity(ctx, "fb01")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.UpsertFidelity(ctx, "fb01", world.Vec2{X: 1}))
	require.NoError(t, r.UpsertFidelity(ctx, "fb01", world.Vec2{X: 2}))
	pos, ok, err := r.Fidelity(ctx, "fb01")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, world.Vec2{X: 2}, pos)

	require.NoError(t, r.EraseFidelity(ctx, "fb01"))
	require.NoError(t, r.EraseFidelity(ctx, "fb01"), "erase is idempotent")
	_, ok, err = r.Fidelity(ctx, "fb01")
	require.NoError(t, err)
	assert.False(t, ok)
}

func zonesAppend(t *testing.T, newRegistry Factory) {
	ctx := context.Background()
	r := newRegistry(t, 0)
	foods := seed(t, r, world.Vec2{X: 1}, world.Vec2{X: 1.1}, world.Vec2{X: 1.2})

	id1, err := r.CreateZone(ctx, foods[0], foods[1:], 0.2, registry.MergeAppend)
	require.NoError(t, err)
	id2, err := r.CreateZone(ctx, foods[1], nil, 0.2, registry.MergeAppend)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	zones, err := r.ListQuarantineZones(ctx)
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Len(t, zones[0].Foods, 3)
	assert.Equal(t, world.Vec2{X: 1}, zones[0].Center)
	assert.True(t, zones[0].HasFood(world.Vec2{X: 1.2}))
}

func zonesMerge(t *testing.T, newRegistry Factory) {
	ctx := context.Background()
	r := newRegistry(t, 0)
	foods := seed(t, r, world.Vec2{X: 1}, world.Vec2{X: 1.3}, world.Vec2{X: -3})

	_, err := r.CreateZone(ctx, foods[0], nil, 0.2, registry.MergeOverlapping)
	require.NoError(t, err)
	_, err = r.CreateZone(ctx, foods[2], nil, 0.2, registry.MergeOverlapping)
	require.NoError(t, err)
	merged, err := r.CreateZone(ctx, foods[1], nil, 0.2, registry.MergeOverlapping)
	require.NoError(t, err)

	zones, err := r.ListQuarantineZones(ctx)
	require.NoError(t, err)
	require.Len(t, zones, 2, "overlapping zones fold into one")

	var z registry.QuarantineZone
	for _, candidate := range zones {
		if candidate.ID == merged {
			z = candidate
		}
	}
	require.Equal(t, merged, z.ID)
	assert.Len(t, z.Foods, 2)
	assert.InDelta(t, 1.15, z.Center.X, 1e-9)
	assert.True(t, z.Contains(world.Vec2{X: 1}))
	assert.True(t, z.Contains(world.Vec2{X: 1.3}))
}

func copiesDoNotAlias(t *testing.T, newRegistry Factory) {
	ctx := context.Background()
	r := newRegistry(t, 0)
	foods := seed(t, r, world.Vec2{X: 1}, world.Vec2{X: 2})
	_, err := r.CreateZone(ctx, foods[0], foods[1:], 0.2, registry.MergeAppend)
	require.NoError(t, err)
	_, err = r.AddPheromone(ctx, registry.Pheromone{Trail: []world.Vec2{{X: 1}, {}}, Strength: 1})
	require.NoError(t, err)

	zones, err := r.ListQuarantineZones(ctx)
	require.NoError(t, err)
	zones[0].Foods[0].Location = world.Vec2{X: 99}

	ph, err := r.ListActivePheromones(ctx, 0)
	require.NoError(t, err)
	ph[0].Trail[0] = world.Vec2{X: 99}

	zones, err = r.ListQuarantineZones(ctx)
	require.NoError(t, err)
	assert.Equal(t, world.Vec2{X: 1}, zones[0].Foods[0].Location)
	ph, err = r.ListActivePheromones(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, world.Vec2{X: 1}, ph[0].Trail[0])
}
