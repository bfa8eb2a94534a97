package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// Memory is an in-process Registry guarded by a single mutex.
type Memory struct {
	nest      world.Vec2
	threshold float64

	mu         sync.Mutex
	nextFood   FoodID
	nextZone   ZoneID
	food       map[FoodID]Food
	pheromones []Pheromone
	fidelity   map[string]world.Vec2
	zones      []QuarantineZone
}

// NewMemory creates an empty registry. Pheromones whose weight falls to
// threshold or below are expired.
func NewMemory(nest world.Vec2, threshold float64) *Memory {
	return &Memory{
		nest:      nest,
		threshold: threshold,
		nextFood:  1,
		nextZone:  1,
		food:      make(map[FoodID]Food),
		fidelity:  make(map[string]world.Vec2),
	}
}

func (m *Memory) Nest() world.Vec2 { return m.nest }

func (m *Memory) SeedFood(_ context.Context, seeds []world.FoodSeed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range seeds {
		kind := FoodReal
		if s.Fake {
			kind = FoodFake
		}
		m.food[m.nextFood] = Food{ID: m.nextFood, Location: s.Location, Kind: kind}
		m.nextFood++
	}
	return nil
}

func (m *Memory) ListFood(_ context.Context) ([]Food, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Food, 0, len(m.food))
	for _, f := range m.food {
		out = append(out, f)
	}
	sortFood(out)
	return out, nil
}

func (m *Memory) FoodWithin(_ context.Context, center world.Vec2, radius float64) ([]Food, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r2 := radius * radius
	var out []Food
	for _, f := range m.food {
		if f.Location.Sub(center).SquareLength() <= r2 {
			out = append(out, f)
		}
	}
	sortFood(out)
	return out, nil
}

func (m *Memory) ClaimFood(_ context.Context, id FoodID) (Food, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.food[id]
	if !ok {
		return Food{}, false, nil
	}
	delete(m.food, id)
	return f, true, nil
}

// ListActivePheromones returns the live trails and prunes the rest.
func (m *Memory) ListActivePheromones(_ context.Context, now float64) ([]Pheromone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Pheromone
	// Expired and deactivated trails never come back, so drop them here.
	kept := m.pheromones[:0]
	for _, p := range m.pheromones {
		if !p.Active || p.Expired(now, m.threshold) {
			continue
		}
		kept = append(kept, p)
		out = append(out, p.clone())
	}
	clear(m.pheromones[len(kept):])
	m.pheromones = kept
	return out, nil
}

func (m *Memory) AddPheromone(_ context.Context, p Pheromone) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Active = true
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pheromones = append(m.pheromones, p.clone())
	return p.ID, nil
}

func (m *Memory) DeactivatePheromone(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.pheromones {
		if m.pheromones[i].ID == id {
			m.pheromones[i].Active = false
			return nil
		}
	}
	return fmt.Errorf("deactivate pheromone %s: %w", id, ErrNotFound)
}

func (m *Memory) UpsertFidelity(_ context.Context, robot string, pos world.Vec2) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fidelity[robot] = pos
	return nil
}

func (m *Memory) EraseFidelity(_ context.Context, robot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fidelity, robot)
	return nil
}

func (m *Memory) Fidelity(_ context.Context, robot string) (world.Vec2, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.fidelity[robot]
	return pos, ok, nil
}

func (m *Memory) ListQuarantineZones(_ context.Context) ([]QuarantineZone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QuarantineZone, len(m.zones))
	for i, z := range m.zones {
		out[i] = z.clone()
	}
	return out, nil
}

func (m *Memory) CreateZone(_ context.Context, held Food, local []Food, radius float64, mode MergeMode) (ZoneID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	zone, replaced := BuildZone(m.nextZone, held, local, radius, mode, m.zones)
	m.nextZone++

	if len(replaced) > 0 {
		gone := make(map[ZoneID]bool, len(replaced))
		for _, id := range replaced {
			gone[id] = true
		}
		kept := m.zones[:0]
		for _, z := range m.zones {
			if !gone[z.ID] {
				kept = append(kept, z)
			}
		}
		m.zones = kept
	}
	m.zones = append(m.zones, zone)
	return zone.ID, nil
}

func (m *Memory) Counts(_ context.Context, now float64) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := Counts{Food: len(m.food), Fidelity: len(m.fidelity), Zones: len(m.zones)}
	for _, f := range m.food {
		if f.Fake() {
			c.FakeFood++
		}
	}
	for _, p := range m.pheromones {
		if p.Active && !p.Expired(now, m.threshold) {
			c.ActivePheromones++
		}
	}
	return c, nil
}

func (m *Memory) Close() error { return nil }

func sortFood(fs []Food) {
	sort.Slice(fs, func(i, j int) bool { return fs[i].ID < fs[j].ID })
}
