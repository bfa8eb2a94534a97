package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry/registrytest"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

func TestMemoryContract(t *testing.T) {
	registrytest.Run(t, func(t *testing.T, threshold float64) registry.Registry {
		return registry.NewMemory(world.Vec2{}, threshold)
	})
}

func TestPheromoneWeight(t *testing.T) {
	p := registry.Pheromone{CreatedAt: 5, DecayRate: 0.5, Strength: 2, Active: true}

	assert.InDelta(t, 2, p.Weight(5), 1e-12)
	assert.InDelta(t, 2, p.Weight(1), 1e-12, "weight never exceeds strength")
	assert.Less(t, p.Weight(10), p.Weight(6))
	assert.True(t, p.Expired(200, 1e-6))
	assert.False(t, p.Expired(5, 1e-6))

	p.Active = false
	assert.Zero(t, p.Weight(5))
}

func TestZoneContainsBoundary(t *testing.T) {
	z := registry.QuarantineZone{Center: world.Vec2{X: 1}, Radius: 0.5}
	assert.True(t, z.Contains(world.Vec2{X: 1.5}))
	assert.False(t, z.Contains(world.Vec2{X: 1.51}))
}
