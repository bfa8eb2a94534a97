package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/comm"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

func TestStartPositionsNearestFirst(t *testing.T) {
	a := testArena()
	ps := StartPositions(a, 5)
	require.Len(t, ps, 5)
	assert.Equal(t, world.Vec2{}, ps[0], "a 3x3 grid has its centre on the nest")
	for i := 1; i < len(ps); i++ {
		assert.LessOrEqual(t, ps[i-1].Length(), ps[i].Length())
	}
	assert.Nil(t, StartPositions(a, 0))
}

func TestSpawn(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Robot.Count = 4
	reg := registry.NewMemory(world.Vec2{}, cfg.Forage.PheromoneThreshold)
	bus := comm.NewBus(cfg.Robot.RadioRange)

	members, err := NewSpawner(7).Spawn(cfg, testArena(), bus, reg)
	require.NoError(t, err)
	require.Len(t, members, 4)

	seen := map[world.Vec2]bool{}
	for i, m := range members {
		assert.Equal(t, []string{"fb01", "fb02", "fb03", "fb04"}[i], m.Robot.ID)
		assert.Equal(t, StateDeparting, m.Robot.State())
		assert.False(t, seen[m.Body.TruePosition()], "positions are distinct")
		seen[m.Body.TruePosition()] = true
	}
}
