// Robot spawning: ids, start poses around the nest and per-robot seeds.
package agents

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/body"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/comm"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/config"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/entropy"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// spawnSpacing is the grid pitch of start positions around the nest.
const spawnSpacing = 0.3

// Member pairs a controller with the body it drives.
type Member struct {
	Robot *Robot
	Body  *body.Kinematic
}

// Spawner creates robots for the simulation.
type Spawner struct {
	rng  *rand.Rand
	next int
}

// NewSpawner creates a robot spawner with the given seed.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:  rand.New(rand.NewSource(seed + 300)),
		next: 1,
	}
}

// NextID issues the next robot id: fb01, fb02, ...
func (s *Spawner) NextID() string {
	id := fmt.Sprintf("fb%02d", s.next)
	s.next++
	return id
}

// StartPositions lays count positions on a square grid centred on the
// nest, nearest cells first.
func StartPositions(arena *world.Arena, count int) []world.Vec2 {
	if count <= 0 {
		return nil
	}
	side := int(math.Ceil(math.Sqrt(float64(count))))
	half := float64(side-1) / 2

	out := make([]world.Vec2, 0, side*side)
	for row := 0; row < side; row++ {
		for col := 0; col < side; col++ {
			p := arena.Nest.Add(world.Vec2{
				X: (float64(col) - half) * spawnSpacing,
				Y: (float64(row) - half) * spawnSpacing,
			})
			out = append(out, arena.ClampForage(p))
		}
	}
	// Nearest first keeps small swarms inside the nest.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceTo(arena.Nest) < out[j].DistanceTo(arena.Nest)
	})
	return out[:count]
}

// Spawn builds cfg.Robot.Count robots, attaches each to bus and gives it
// its own random stream.
func (s *Spawner) Spawn(cfg *config.Config, arena *world.Arena, bus *comm.Bus, reg registry.Registry) ([]Member, error) {
	positions := StartPositions(arena, cfg.Robot.Count)
	members := make([]Member, 0, len(positions))
	for _, pos := range positions {
		id := s.NextID()
		b := body.NewKinematic(arena, cfg.Robot, cfg.Timing.TicksPerSecond, pos, s.rng.Float64()*2*math.Pi)
		ep, err := bus.Attach(id, b)
		if err != nil {
			return nil, fmt.Errorf("spawn %s: %w", id, err)
		}
		r := NewRobot(id, cfg, arena, b, ep, reg, entropy.New(s.rng.Int63()))
		members = append(members, Member{Robot: r, Body: b})
	}
	return members, nil
}
