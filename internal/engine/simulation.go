// Simulation ties together the swarm, the radio bus and the shared registry
// and runs them each tick.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/agents"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/comm"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/config"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/entropy"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/metrics"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/persistence"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// Simulation holds the complete swarm state and wires systems together.
// Step takes the write lock; the read accessors may be called from other
// goroutines (the HTTP API) while a run is in progress.
type Simulation struct {
	RunID string
	Seed  int64

	cfg   *config.Config
	arena *world.Arena
	reg   registry.Registry
	bus   *comm.Bus

	mu       sync.RWMutex
	members  []agents.Member
	index    map[string]*agents.Robot
	lastTick uint64

	// Scheduled fault injection.
	faultTick    uint64
	faultsDone   bool
	faultVictims []string
	rng          *rand.Rand
}

// NewArena builds the arena described by cfg.
func NewArena(cfg *config.Config) *world.Arena {
	a := cfg.Arena
	return world.NewArena(a.Width, a.Height, world.Vec2{X: a.NestX, Y: a.NestY}, a.NestRadius, a.FoodRadius)
}

// NewSimulation lays out food in reg, spawns the swarm and records the run
// metadata when the backend keeps it.
func NewSimulation(ctx context.Context, cfg *config.Config, reg registry.Registry) (*Simulation, error) {
	seed := cfg.Seed
	if seed == 0 {
		seed = entropy.CryptoSeed()
	}
	arena := NewArena(cfg)

	gen := world.DefaultGenConfig()
	gen.Seed = seed
	gen.Count = cfg.Arena.FoodCount
	gen.Distribution = world.Distribution(cfg.Arena.Distribution)
	gen.FakeFraction = cfg.Arena.FakeFraction
	seeds, err := world.GenerateFood(arena, gen)
	if err != nil {
		return nil, fmt.Errorf("new simulation: %w", err)
	}
	if err := reg.SeedFood(ctx, seeds); err != nil {
		return nil, fmt.Errorf("new simulation: seed food: %w", err)
	}

	bus := comm.NewBus(cfg.Robot.RadioRange)
	members, err := agents.NewSpawner(seed).Spawn(cfg, arena, bus, reg)
	if err != nil {
		return nil, fmt.Errorf("new simulation: %w", err)
	}
	index := make(map[string]*agents.Robot, len(members))
	for _, m := range members {
		index[m.Robot.ID] = m.Robot
	}

	s := &Simulation{
		RunID:     uuid.NewString(),
		Seed:      seed,
		cfg:       cfg,
		arena:     arena,
		reg:       reg,
		bus:       bus,
		members:   members,
		index:     index,
		faultTick: cfg.Timing.Ticks(cfg.Faults.InjectAtSeconds),
		rng:       rand.New(rand.NewSource(seed + 500)),
	}
	for key, value := range map[string]string{
		"run_id": s.RunID,
		"seed":   strconv.FormatInt(seed, 10),
		"robots": strconv.Itoa(len(members)),
	} {
		if err := persistence.SaveMetaIfSupported(reg, key, value); err != nil {
			return nil, fmt.Errorf("new simulation: save %s: %w", key, err)
		}
	}

	slog.Info("swarm spawned",
		"run", s.RunID,
		"seed", seed,
		"robots", len(members),
		"food", len(seeds),
		"fake_food", world.FakeCount(seeds),
		"arena", arena.String(),
	)
	return s, nil
}

// Step runs one tick: deliver last tick's radio traffic, run every
// controller, move every body and advance chunked CRM solves.
func (s *Simulation) Step(ctx context.Context, tick uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTick = tick

	metrics.MessagesDelivered.Add(float64(s.bus.Deliver()))

	if err := s.injectScheduled(tick); err != nil {
		return err
	}

	for _, m := range s.members {
		if err := m.Robot.Step(ctx, tick); err != nil {
			return err
		}
	}
	for _, m := range s.members {
		m.Body.Advance()
	}

	if s.cfg.Detection.Enabled && s.cfg.Detection.Solver.Mode != "background" {
		return s.advanceSolvers()
	}
	return nil
}

// advanceSolvers runs one chunk of every robot's CRM solve in parallel.
// Each robot only touches its own population.
func (s *Simulation) advanceSolvers() error {
	var g errgroup.Group
	if w := s.cfg.Detection.Solver.Workers; w > 0 {
		g.SetLimit(w)
	}
	steps := s.cfg.Detection.Solver.StepsPerTick
	for _, m := range s.members {
		r := m.Robot
		g.Go(func() error {
			r.AdvanceSolver(steps)
			return nil
		})
	}
	return g.Wait()
}

// injectScheduled applies the configured fault to randomly chosen robots
// once the injection time is reached.
func (s *Simulation) injectScheduled(tick uint64) error {
	fc := s.cfg.Faults
	if s.faultsDone || tick < s.faultTick {
		return nil
	}
	s.faultsDone = true
	if fc.Count <= 0 || fc.Code == int(agents.FaultNone) {
		return nil
	}

	order := s.rng.Perm(len(s.members))
	for _, i := range order[:min(fc.Count, len(order))] {
		r := s.members[i].Robot
		if err := r.InjectFault(fc.Code); err != nil {
			return fmt.Errorf("scheduled fault: %w", err)
		}
		s.faultVictims = append(s.faultVictims, r.ID)
	}
	sort.Strings(s.faultVictims)
	return nil
}

// InjectFault applies a fault to one robot by id.
func (s *Simulation) InjectFault(id string, code int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.index[id]
	if !ok {
		return fmt.Errorf("inject fault: robot %q: %w", id, registry.ErrNotFound)
	}
	return r.InjectFault(code)
}

// Close stops background solver work.
func (s *Simulation) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		m.Robot.Close()
	}
}

// ── Read side ──

// Status is an aggregate view of the swarm.
type Status struct {
	RunID          string          `json:"run_id"`
	Seed           int64           `json:"seed"`
	Tick           uint64          `json:"tick"`
	SimTime        string          `json:"sim_time"`
	Robots         int             `json:"robots"`
	States         map[string]int  `json:"states"`
	Totals         agents.Stats    `json:"totals"`
	Registry       registry.Counts `json:"registry"`
	FaultsInjected []string        `json:"faults_injected"`
	FaultsDetected []string        `json:"faults_detected"`
}

// Status summarises the swarm at the last completed tick.
func (s *Simulation) Status(ctx context.Context) (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		RunID:          s.RunID,
		Seed:           s.Seed,
		Tick:           s.lastTick,
		SimTime:        SimTime(s.lastTick, s.cfg.Timing.TicksPerSecond),
		Robots:         len(s.members),
		States:         make(map[string]int, agents.NumStates),
		FaultsInjected: append([]string(nil), s.faultVictims...),
	}
	for _, m := range s.members {
		r := m.Robot
		st.States[r.Status()]++
		st.Totals.Add(r.Stats())
		if r.FaultDetected() {
			st.FaultsDetected = append(st.FaultsDetected, r.ID)
		}
	}

	counts, err := s.reg.Counts(ctx, s.cfg.Timing.Seconds(s.lastTick))
	if err != nil {
		return Status{}, fmt.Errorf("status: %w", err)
	}
	st.Registry = counts
	return st, nil
}

// Robots returns a snapshot of every robot in id order.
func (s *Simulation) Robots() []agents.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agents.Snapshot, len(s.members))
	for i, m := range s.members {
		out[i] = m.Robot.Snapshot()
	}
	return out
}

// Robot returns one robot's snapshot.
func (s *Simulation) Robot(id string) (agents.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.index[id]
	if !ok {
		return agents.Snapshot{}, false
	}
	return r.Snapshot(), true
}

// Pheromones lists the trails active at the last completed tick.
func (s *Simulation) Pheromones(ctx context.Context) ([]registry.Pheromone, error) {
	s.mu.RLock()
	now := s.cfg.Timing.Seconds(s.lastTick)
	s.mu.RUnlock()
	return s.reg.ListActivePheromones(ctx, now)
}

// Report logs a periodic swarm summary.
func (s *Simulation) Report(ctx context.Context) {
	st, err := s.Status(ctx)
	if err != nil {
		slog.Warn("swarm report failed", "error", err)
		return
	}
	slog.Info("swarm report",
		"tick", humanize.Comma(int64(st.Tick)),
		"time", st.SimTime,
		"real_collected", st.Totals.RealCollected,
		"fake_collected", st.Totals.FakeCollected,
		"false_positives", st.Totals.FalsePositives,
		"food_left", st.Registry.Food,
		"pheromones", st.Registry.ActivePheromones,
		"zones", st.Registry.Zones,
		"departing", st.States[agents.StateDeparting.String()],
		"searching", st.States[agents.StateSearching.String()],
		"surveying", st.States[agents.StateSurveying.String()],
		"returning", st.States[agents.StateReturning.String()],
		"faults_injected", len(st.FaultsInjected),
		"faults_detected", len(st.FaultsDetected),
	)
}
