package agents

import (
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// memory is what a robot carries between nest visits: the quarantine zones
// the nest last reported and the food seen around its latest pickup.
type memory struct {
	zones     []registry.QuarantineZone
	localFood []registry.Food
}

// setZones replaces the zone snapshot.
func (m *memory) setZones(zs []registry.QuarantineZone) {
	m.zones = append(m.zones[:0], zs...)
}

// inZone reports whether p lies inside any remembered zone.
func (m *memory) inZone(p world.Vec2) bool {
	for _, z := range m.zones {
		if z.Contains(p) {
			return true
		}
	}
	return false
}

// zoneHolding returns the first remembered zone listing food at loc.
func (m *memory) zoneHolding(loc world.Vec2) (registry.ZoneID, bool) {
	for _, z := range m.zones {
		if z.HasFood(loc) {
			return z.ID, true
		}
	}
	return 0, false
}

func (m *memory) addLocalFood(fs ...registry.Food) {
	m.localFood = append(m.localFood, fs...)
}

func (m *memory) clearLocalFood() { m.localFood = m.localFood[:0] }

func (m *memory) reset() {
	m.zones = nil
	m.localFood = nil
}
