package agents

import (
	"context"
	"log/slog"
	"math"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/metrics"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// PoissonCDF returns e^(−λ)·Σ_{i=0}^{⌊k⌋} λ^i/i!, accumulating the terms
// iteratively. Negative k yields 0.
func PoissonCDF(k, lambda float64) float64 {
	if k < 0 {
		return 0
	}
	sum, term := 1.0, 1.0
	for i := 1.0; i <= math.Floor(k); i++ {
		term *= lambda / i
		sum += term
	}
	return math.Exp(-lambda) * sum
}

// InformedTurn is the correlated-walk turn w + (2π − w)·e^(−λt) after t
// informed search steps.
func InformedTurn(w float64, t int, lambda float64) float64 {
	return w + (2*math.Pi-w)*math.Exp(-lambda*float64(t))
}

// ── Site fidelity ──

// rememberSite records pos as this robot's fidelity site.
func (r *Robot) rememberSite(ctx context.Context, pos world.Vec2) {
	r.fidelity = pos
	r.usingSiteFidelity = true
	r.updateFidelity = true
	if err := r.reg.UpsertFidelity(ctx, r.ID, pos); err != nil {
		slog.Warn("fidelity upsert failed", "robot", r.ID, "error", err)
	}
}

// forgetSite erases the fidelity entry and parks the local copy at the
// far-away sentinel.
func (r *Robot) forgetSite(ctx context.Context) {
	if err := r.reg.EraseFidelity(ctx, r.ID); err != nil {
		slog.Warn("fidelity erase failed", "robot", r.ID, "error", err)
	}
	r.fidelity = world.FarAway
	r.updateFidelity = true
}

// ── Pheromones ──

// layTrail registers a trail from the fidelity site to the nest when the
// Poisson draw allows it. The robot keeps no handle on the trail.
func (r *Robot) layTrail(ctx context.Context, pLay, draw float64, fake bool) {
	defer func() { r.trailToShare = r.trailToShare[:0] }()
	if !(pLay > draw && r.updateFidelity) {
		return
	}

	r.trailToShare = append(r.trailToShare[:0], r.fidelity, r.reg.Nest())
	p := registry.Pheromone{
		Location:  r.fidelity,
		Trail:     append([]world.Vec2(nil), r.trailToShare...),
		CreatedAt: r.now(),
		DecayRate: r.cfg.Forage.RateOfPheromoneDecay,
		Strength:  float64(r.resourceDensity),
		Fake:      fake,
	}
	id, err := r.reg.AddPheromone(ctx, p)
	if err != nil {
		slog.Warn("pheromone add failed", "robot", r.ID, "error", err)
		return
	}

	origin := "real"
	if fake {
		origin = "fake"
		r.stats.FakeTrails++
	} else {
		r.stats.RealTrails++
	}
	metrics.PheromonesLaid.WithLabelValues(origin).Inc()
	slog.Debug("trail laid", "robot", r.ID, "pheromone", id, "site", p.Location.String(), "strength", p.Strength)
}

// followPheromone picks an active trail by weight and targets its origin.
func (r *Robot) followPheromone(ctx context.Context) bool {
	now := r.now()
	trails, err := r.reg.ListActivePheromones(ctx, now)
	if err != nil {
		slog.Warn("pheromone list failed", "robot", r.ID, "error", err)
		return false
	}
	if len(trails) == 0 {
		return false
	}
	weights := make([]float64, len(trails))
	for i, p := range trails {
		weights[i] = p.Weight(now)
	}
	idx, ok := r.rng.Roulette(weights)
	if !ok {
		return false
	}
	chosen := trails[idx]
	r.body.SetTarget(chosen.Location, false)
	r.trailToFollow = append(r.trailToFollow[:0], chosen.Trail...)
	return true
}

// ── Targets ──

// setUninformedTarget turns a Gaussian amount away from the current
// heading and steps one search step.
func (r *Robot) setUninformedTarget() {
	turn := r.rng.Gaussian(r.cfg.Forage.UninformedSearchVariation)
	r.stepToward(r.body.Heading() + turn)
}

// stepToward targets one search step along angle, kept inside the
// reachable floor.
func (r *Robot) stepToward(angle float64) {
	pos := r.body.BelievedPosition()
	r.body.SetTarget(r.arena.ClampForage(pos.Add(world.Polar(r.cfg.Robot.SearchStepSize, angle))), false)
}

// randomWallPoint picks one of the four walls uniformly and a uniform point
// along it.
func (r *Robot) randomWallPoint() world.Vec2 {
	xr, yr := r.arena.ForageX(), r.arena.ForageY()
	rng := r.rng.Rand()
	switch r.rng.Intn(4) {
	case 0: // north
		return world.Vec2{X: xr.Uniform(rng), Y: yr.Max}
	case 1: // south
		return world.Vec2{X: xr.Uniform(rng), Y: yr.Min}
	case 2: // east
		return world.Vec2{X: xr.Max, Y: yr.Uniform(rng)}
	default: // west
		return world.Vec2{X: xr.Min, Y: yr.Uniform(rng)}
	}
}

// setRandomSearchLocation targets a random wall point, avoiding remembered
// quarantine zones for at most MaxZoneRetries draws.
func (r *Robot) setRandomSearchLocation() {
	p := r.randomWallPoint()
	if r.cfg.Forage.UseQZones {
		for attempt := 1; r.mem.inZone(p); attempt++ {
			if attempt >= r.cfg.Forage.MaxZoneRetries {
				slog.Warn("no zone-free wall target, ignoring zones",
					"robot", r.ID, "attempts", attempt, "zones", len(r.mem.zones))
				metrics.ZoneRetryFallbacks.Inc()
				break
			}
			p = r.randomWallPoint()
		}
	}
	r.body.SetTarget(p, true)
}

// ── Deposit ──

// deposit runs the nest-side logic: count the held item, maybe lay a trail
// or quarantine its site, then choose how to leave the nest.
func (r *Robot) deposit(ctx context.Context) {
	density := float64(r.resourceDensity)
	pLay := PoissonCDF(density, r.cfg.Forage.RateOfLayingPheromone)
	pFidelity := PoissonCDF(density, r.cfg.Forage.RateOfSiteFidelity)
	r1, r2 := r.rng.Uniform(), r.rng.Uniform()

	r.badFoodCount = 0
	r.currentZone = 0

	if r.holdingFood {
		if r.holdingFakeFood {
			r.depositFake(ctx, pLay, r1)
		} else {
			r.depositReal(ctx, pLay, r1)
		}
	}

	if r.cfg.Forage.UseQZones {
		zones, err := r.reg.ListQuarantineZones(ctx)
		if err != nil {
			slog.Warn("zone list failed", "robot", r.ID, "error", err)
		} else if len(zones) > 0 {
			r.mem.setZones(zones)
		}
	}

	switch {
	case r.updateFidelity && pFidelity > r2 && !r.holdingFakeFood:
		r.body.SetTarget(r.fidelity, false)
		r.informed = true
	case r.followPheromone(ctx):
		r.informed = true
		r.usingSiteFidelity = false
	default:
		r.setRandomSearchLocation()
		r.informed = false
		r.usingSiteFidelity = false
	}

	r.givingUp = false
	r.transition(StateDeparting)
	r.holdingFood = false
	r.holdingFakeFood = false
	r.held = registry.Food{}
}

func (r *Robot) depositReal(ctx context.Context, pLay, r1 float64) {
	r.stats.RealCollected++
	metrics.FoodCollected.WithLabelValues("real").Inc()
	r.mem.clearLocalFood()
	r.layTrail(ctx, pLay, r1, false)

	if r.rng.Uniform() > r.cfg.Forage.RFDetectionAcc {
		metrics.Misclassified.WithLabelValues("real").Inc()
		slog.Debug("real food flagged as fake", "robot", r.ID, "food", r.held.ID)
	}
}

func (r *Robot) depositFake(ctx context.Context, pLay, r1 float64) {
	r.stats.FakeCollected++
	metrics.FoodCollected.WithLabelValues("fake").Inc()

	if r.rng.Uniform() > r.cfg.Forage.FFDetectionAcc {
		r.stats.FalsePositives++
		metrics.Misclassified.WithLabelValues("fake").Inc()
		slog.Info("false positive collected", "robot", r.ID, "food", r.held.ID)
		r.mem.clearLocalFood()
		r.layTrail(ctx, pLay, r1, true)
		return
	}

	if !r.cfg.Forage.UseQZones {
		r.layTrail(ctx, pLay, r1, true)
		return
	}
	if len(r.mem.localFood) == 0 {
		return
	}
	mode := registry.MergeMode(r.cfg.Forage.MergeMode)
	id, err := r.reg.CreateZone(ctx, r.held, r.mem.localFood, r.cfg.Forage.SearchRadius, mode)
	if err != nil {
		slog.Warn("zone create failed", "robot", r.ID, "error", err)
		return
	}
	r.stats.ZonesCreated++
	metrics.ZonesCreated.Inc()
	slog.Info("quarantine zone created", "robot", r.ID, "zone", id,
		"site", r.held.Location.String(), "foods", len(r.mem.localFood)+1)
	r.mem.clearLocalFood()
}
