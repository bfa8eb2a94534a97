package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry/registrytest"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

func openTemp(t *testing.T, threshold float64) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "registry.db"), world.Vec2{}, threshold)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteContract(t *testing.T) {
	registrytest.Run(t, func(t *testing.T, threshold float64) registry.Registry {
		return openTemp(t, threshold)
	})
}

func TestOpenWipesPreviousRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	ctx := context.Background()

	db, err := Open(path, world.Vec2{}, 0)
	require.NoError(t, err)
	require.NoError(t, db.SeedFood(ctx, []world.FoodSeed{{Location: world.Vec2{X: 1}}}))
	require.NoError(t, db.UpsertFidelity(ctx, "fb00", world.Vec2{X: 1}))
	require.NoError(t, db.Close())

	db, err = Open(path, world.Vec2{}, 0)
	require.NoError(t, err)
	defer db.Close()

	counts, err := db.Counts(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, registry.Counts{}, counts)
}

func TestCountsSkipsClaimedAndExpired(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t, 0.5)

	require.NoError(t, db.SeedFood(ctx, []world.FoodSeed{
		{Location: world.Vec2{X: 1}},
		{Location: world.Vec2{X: 2}, Fake: true},
		{Location: world.Vec2{X: 3}, Fake: true},
	}))
	foods, err := db.ListFood(ctx)
	require.NoError(t, err)
	_, ok, err := db.ClaimFood(ctx, foods[1].ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = db.AddPheromone(ctx, registry.Pheromone{Strength: 1, DecayRate: 1})
	require.NoError(t, err)
	_, err = db.AddPheromone(ctx, registry.Pheromone{Strength: 10, DecayRate: 0})
	require.NoError(t, err)

	counts, err := db.Counts(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Food)
	assert.Equal(t, 1, counts.FakeFood)
	assert.Equal(t, 1, counts.ActivePheromones)
}

func TestMeta(t *testing.T) {
	db := openTemp(t, 0)
	require.NoError(t, SaveMetaIfSupported(db, "seed", "42"))

	v, err := db.GetMeta("seed")
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	mem := registry.NewMemory(world.Vec2{}, 0)
	assert.NoError(t, SaveMetaIfSupported(mem, "seed", "42"), "memory backend ignores metadata")
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry("memory", "", world.Vec2{X: 1}, 0)
	require.NoError(t, err)
	assert.Equal(t, world.Vec2{X: 1}, reg.Nest())

	reg, err = NewRegistry("sqlite", filepath.Join(t.TempDir(), "r.db"), world.Vec2{}, 0)
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	_, err = NewRegistry("badger", "", world.Vec2{}, 0)
	assert.Error(t, err)
}
