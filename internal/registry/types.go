// Package registry holds the environment state shared by the whole swarm:
// food items, pheromone trails, the site-fidelity table and quarantine zones.
// Every operation is atomic per call and hands out copies, never references
// into the backing collections.
package registry

import (
	"errors"
	"math"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// ErrNotFound is returned when an id names nothing in the registry.
var ErrNotFound = errors.New("not found")

// FoodID identifies a food item for the lifetime of a run.
type FoodID uint64

// FoodKind distinguishes real resources from decoys.
type FoodKind uint8

const (
	FoodReal FoodKind = iota
	FoodFake
)

func (k FoodKind) String() string {
	if k == FoodFake {
		return "fake"
	}
	return "real"
}

// Food is an item lying on the arena floor.
type Food struct {
	ID       FoodID     `json:"id"`
	Location world.Vec2 `json:"location"`
	Kind     FoodKind   `json:"kind"`
}

// Fake reports whether the item is a decoy.
func (f Food) Fake() bool { return f.Kind == FoodFake }

// Pheromone is a decaying trail from a productive site back to the nest.
type Pheromone struct {
	ID        string       `json:"id"`
	Location  world.Vec2   `json:"location"`
	Trail     []world.Vec2 `json:"trail"`
	CreatedAt float64      `json:"created_at"` // simulated seconds
	DecayRate float64      `json:"decay_rate"`
	Strength  float64      `json:"strength"`
	Fake      bool         `json:"fake"`
	Active    bool         `json:"active"`
}

// Weight returns strength·e^(−λ·Δt), floored at zero. Inactive trails
// weigh nothing.
func (p Pheromone) Weight(now float64) float64 {
	if !p.Active {
		return 0
	}
	dt := now - p.CreatedAt
	if dt < 0 {
		dt = 0
	}
	w := p.Strength * math.Exp(-p.DecayRate*dt)
	if w < 0 || math.IsNaN(w) {
		return 0
	}
	return w
}

// Expired reports whether the trail has decayed to or below threshold.
func (p Pheromone) Expired(now, threshold float64) bool {
	return p.Weight(now) <= threshold
}

func (p Pheromone) clone() Pheromone {
	p.Trail = append([]world.Vec2(nil), p.Trail...)
	return p
}

// ZoneID identifies a quarantine zone. Zero means "no zone".
type ZoneID uint64

// QuarantineZone marks a region known to hold decoy food.
type QuarantineZone struct {
	ID     ZoneID     `json:"id"`
	Center world.Vec2 `json:"center"`
	Radius float64    `json:"radius"`
	Foods  []Food     `json:"foods"`
}

// Contains reports whether p lies within the zone (boundary inclusive).
func (z QuarantineZone) Contains(p world.Vec2) bool {
	return p.DistanceTo(z.Center) <= z.Radius
}

// HasFood reports whether the zone lists an item at loc.
func (z QuarantineZone) HasFood(loc world.Vec2) bool {
	for _, f := range z.Foods {
		if f.Location == loc {
			return true
		}
	}
	return false
}

func (z QuarantineZone) clone() QuarantineZone {
	z.Foods = append([]Food(nil), z.Foods...)
	return z
}

// MergeMode controls how a new zone interacts with existing ones.
type MergeMode int

const (
	// MergeAppend always adds a new zone.
	MergeAppend MergeMode = 0
	// MergeOverlapping folds every overlapping zone into the new one.
	MergeOverlapping MergeMode = 1
)

// Counts summarises registry contents for reports.
type Counts struct {
	Food             int `json:"food"`
	FakeFood         int `json:"fake_food"`
	ActivePheromones int `json:"active_pheromones"`
	Fidelity         int `json:"fidelity"`
	Zones            int `json:"zones"`
}

// BuildZone makes the zone created around held food, merging overlapping
// zones when asked. It returns the zone and the ids it replaces.
func BuildZone(id ZoneID, held Food, local []Food, radius float64, mode MergeMode, existing []QuarantineZone) (QuarantineZone, []ZoneID) {
	foods := []Food{held}
	seen := map[FoodID]bool{held.ID: true}
	add := func(fs []Food) {
		for _, f := range fs {
			if !seen[f.ID] {
				seen[f.ID] = true
				foods = append(foods, f)
			}
		}
	}
	add(local)

	zone := QuarantineZone{ID: id, Center: held.Location, Radius: radius}
	var replaced []ZoneID
	if mode == MergeOverlapping {
		for _, z := range existing {
			if z.Center.DistanceTo(zone.Center) <= z.Radius+zone.Radius {
				replaced = append(replaced, z.ID)
				add(z.Foods)
			}
		}
		if len(replaced) > 0 {
			zone.Center = centroid(foods)
			for _, f := range foods {
				if d := f.Location.DistanceTo(zone.Center); d > zone.Radius {
					zone.Radius = d
				}
			}
		}
	}
	zone.Foods = foods
	return zone, replaced
}

func centroid(foods []Food) world.Vec2 {
	var c world.Vec2
	for _, f := range foods {
		c = c.Add(f.Location)
	}
	return c.Scale(1 / float64(len(foods)))
}
