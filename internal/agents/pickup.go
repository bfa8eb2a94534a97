package agents

import (
	"context"
	"log/slog"
	"math"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
)

// scanForFood looks for an item within FoodDistanceTolerance of the true
// position and claims the first one not listed in a remembered quarantine
// zone, counting the listed ones it passes over. Picking up moves the robot
// to Surveying; hitting BadFoodLimit bad items in one zone sends it home.
func (r *Robot) scanForFood(ctx context.Context) {
	if r.holdingFood {
		return
	}
	pos := r.body.TruePosition()
	candidates, err := r.reg.FoodWithin(ctx, pos, r.cfg.Robot.FoodDistanceTolerance)
	if err != nil {
		slog.Warn("food scan failed", "robot", r.ID, "error", err)
		return
	}

	for _, f := range candidates {
		if r.cfg.Forage.UseQZones {
			if zone, bad := r.mem.zoneHolding(f.Location); bad {
				r.noteBadFood(ctx, zone)
				if r.state != StateSearching {
					return
				}
				continue
			}
		}

		food, ok, err := r.reg.ClaimFood(ctx, f.ID)
		if err != nil {
			slog.Warn("food claim failed", "robot", r.ID, "food", f.ID, "error", err)
			return
		}
		if !ok {
			continue // another robot got there first this tick
		}

		r.holdingFood = true
		r.holdingFakeFood = food.Fake()
		r.held = food
		r.transition(StateSurveying)
		r.senseDensity(ctx)
		return
	}
}

// noteBadFood counts quarantined items seen in one zone and gives up once
// BadFoodLimit is reached there.
func (r *Robot) noteBadFood(ctx context.Context, zone registry.ZoneID) {
	switch {
	case r.currentZone == 0:
		r.currentZone = zone
		r.badFoodCount++
	case r.currentZone == zone:
		r.badFoodCount++
		if r.badFoodCount >= r.cfg.Forage.BadFoodLimit {
			slog.Debug("bad food limit reached", "robot", r.ID, "zone", zone)
			r.giveUp(ctx)
		}
	default:
		r.badFoodCount = 0
		r.currentZone = zone
	}
}

// senseDensity counts the food around the true position (the picked item
// included), remembers the site and, with zones enabled, the neighbours.
func (r *Robot) senseDensity(ctx context.Context) {
	radius := math.Sqrt(2) * r.cfg.Forage.SearchRadius
	nearby, err := r.reg.FoodWithin(ctx, r.body.TruePosition(), radius)
	if err != nil {
		slog.Warn("density scan failed", "robot", r.ID, "error", err)
		nearby = nil
	}
	r.resourceDensity = 1 + len(nearby)
	if r.cfg.Forage.UseQZones {
		r.mem.clearLocalFood()
		r.mem.addLocalFood(nearby...)
	}
	r.rememberSite(ctx, r.body.BelievedPosition())
}
