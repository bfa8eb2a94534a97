package agents

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/comm"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/config"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/immune"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/metrics"
)

// settleTicks is how long a phase waits for its broadcast to reach peers
// and for their answers to come back.
const settleTicks = 2

// phase is where a robot is in its detection cycle.
type phase uint8

const (
	phaseIdle       phase = iota
	phaseCollecting       // feature vectors sent, gathering peers'
	phaseSolving          // CRM integration running
	phaseAdvertising      // cell totals sent, gathering peers'
	phaseDiffusing        // cells sent to a neighbour, merging replies
	phaseVoting           // decisions sent, gathering peers'
)

func (p phase) String() string {
	return [...]string{"idle", "collecting", "solving", "advertising", "diffusing", "voting"}[p]
}

// SolverParams converts the solver section of the configuration.
func SolverParams(s config.SolverConfig) immune.Params {
	return immune.Params{
		K:         s.K,
		Ie:        s.Ie,
		Ir:        s.Ir,
		E0:        s.E0,
		R0:        s.R0,
		Horizon:   s.Horizon,
		Step:      s.Step,
		C:         s.C,
		BindLimit: s.BindLimit,
		GammaC:    s.GammaC,
		GammaD:    s.GammaD,
		RhoE:      s.RhoE,
		RhoR:      s.RhoR,
		Delta:     s.Delta,
		Diffusion: s.Diffusion,
	}
}

// detector drives one robot through observe → solve → diffuse → vote.
// Cycles start on multiples of cycleTicks so the swarm stays in step; a
// robot still busy with the previous cycle sits the next one out.
type detector struct {
	r          *Robot
	par        immune.Params
	aff        immune.AffinityMatrix
	background bool
	cycleTicks uint64

	observer *immune.ProximityObserver
	pop      immune.Population
	ballot   *immune.Ballot

	phase     phase
	phaseTick uint64

	bfv       immune.FeatureVector
	ranges    []float64
	peerBFV   map[string]immune.FeatureVector
	heard     map[string]float64
	exchanged map[string]bool
	pending   []comm.Cells

	solver     *immune.Solver
	job        *immune.Job
	solveStart time.Time

	consensus immune.Decisions
}

func newDetector(r *Robot) *detector {
	dc := r.cfg.Detection
	par := SolverParams(dc.Solver)
	cycle := r.cfg.Timing.Ticks(dc.CycleSeconds)
	if cycle == 0 {
		cycle = 1
	}
	return &detector{
		r:          r,
		par:        par,
		aff:        immune.NewAffinityMatrix(par.C),
		background: dc.Solver.Mode == "background",
		cycleTicks: cycle,
		observer:   immune.NewProximityObserver(dc.CloseRange, dc.FarRange, dc.WindowLength),
		ballot:     immune.NewBallot(),
		peerBFV:    make(map[string]immune.FeatureVector),
		heard:      make(map[string]float64),
		exchanged:  make(map[string]bool),
	}
}

func (d *detector) reset() {
	d.cancel()
	d.observer.Reset()
	d.pop = immune.Population{}
	d.ballot.Reset()
	d.phase = phaseIdle
	d.bfv = 0
	d.ranges = d.ranges[:0]
	clear(d.peerBFV)
	clear(d.heard)
	clear(d.exchanged)
	d.pending = nil
	d.solver = nil
	d.consensus = immune.Decisions{}
}

// cancel stops a background solve, if any.
func (d *detector) cancel() {
	if d.job != nil {
		d.job.Cancel()
		d.job = nil
	}
}

func (d *detector) step(ctx context.Context, inbox []comm.Datagram) error {
	r := d.r
	d.ranges = d.ranges[:0]
	if err := r.ProcessMessages(comm.ModeDetection, inbox); err != nil {
		return err
	}
	d.observer.Observe(d.ranges)
	r.send(comm.Ping{Sender: r.ID})

	elapsed := r.tick - d.phaseTick
	switch d.phase {
	case phaseIdle:
		if r.tick%d.cycleTicks == 0 && d.observer.Full() {
			d.beginCycle()
		}
	case phaseCollecting:
		if elapsed >= settleTicks {
			d.startSolve(ctx)
		}
	case phaseSolving:
		if r.tick%d.cycleTicks == 0 {
			slog.Debug("detection cycle skipped, still solving", "robot", r.ID)
		}
		if d.solveFinished() {
			d.finishSolve()
		}
	case phaseAdvertising:
		if elapsed >= settleTicks {
			d.diffuse()
		}
	case phaseDiffusing:
		if elapsed >= settleTicks {
			d.vote()
		}
	case phaseVoting:
		if elapsed >= settleTicks {
			d.conclude()
		}
	}
	return nil
}

func (d *detector) enter(p phase) {
	d.phase = p
	d.phaseTick = d.r.tick
}

// beginCycle freezes this cycle's feature vector and announces it.
func (d *detector) beginCycle() {
	r := d.r
	d.bfv = d.observer.BFV()
	clear(d.peerBFV)
	clear(d.heard)
	clear(d.exchanged)
	d.ballot.Reset()
	r.send(comm.FeatureBits{Sender: r.ID, Bits: d.bfv.Bits()})
	d.enter(phaseCollecting)
}

// startSolve seeds the population from the vectors heard and launches the
// integration, chunked or in the background.
func (d *detector) startSolve(ctx context.Context) {
	var counts [immune.NumFeatureVectors]int
	counts[d.bfv]++
	for _, fv := range d.peerBFV {
		counts[fv]++
	}
	d.pop.Setup(counts, d.par)
	d.solveStart = time.Now()

	if d.background {
		d.job = immune.NewJob(&d.pop, d.par)
		d.job.Start(ctx)
	} else {
		d.solver = immune.NewSolver(&d.pop, d.par)
	}
	d.enter(phaseSolving)
}

// advance runs one chunk of a chunked solve. It is a no-op otherwise.
func (d *detector) advance(maxSteps int) {
	if d.phase != phaseSolving || d.solver == nil {
		return
	}
	d.solver.Advance(maxSteps)
}

func (d *detector) solveFinished() bool {
	if d.background {
		return d.job != nil && d.job.Ready()
	}
	return d.solver != nil && d.solver.Done()
}

// finishSolve installs the result, merges cells that arrived meanwhile and
// advertises this robot's totals.
func (d *detector) finishSolve() {
	r := d.r
	var iterations int
	if d.background {
		pop, ok, err := d.job.Result()
		d.job = nil
		if !ok {
			slog.Warn("crm solve abandoned", "robot", r.ID, "error", err)
			d.enter(phaseIdle)
			return
		}
		d.pop = pop
		iterations = d.par.Iterations()
	} else {
		iterations = d.solver.Iterations()
		d.solver = nil
		metrics.SolveDuration.Observe(time.Since(d.solveStart).Seconds())
	}
	slog.Debug("crm solved",
		"robot", r.ID,
		"bfv", d.bfv.String(),
		"iterations", humanize.Comma(int64(iterations)),
		"took", time.Since(d.solveStart).Round(time.Millisecond),
	)

	pending := d.pending
	d.pending = nil
	for _, c := range pending {
		d.absorb(c)
	}

	r.send(comm.CellCount{Sender: r.ID, Totals: append([]float64(nil), d.pop.T[:]...)})
	d.enter(phaseAdvertising)
}

// diffuse sends fraction d of every sub-population to one neighbour chosen
// by advertised mass.
func (d *detector) diffuse() {
	r := d.r
	nb, err := immune.SelectNeighbor(d.heard, r.rng.Uniform())
	switch {
	case err != nil:
		slog.Debug("no diffusion partner", "robot", r.ID, "heard", len(d.heard))
	case !d.exchanged[nb]:
		d.sendCells(nb, "initiated")
	}
	d.enter(phaseDiffusing)
}

func (d *detector) sendCells(to, kind string) {
	r := d.r
	pkt := d.pop.Split(d.par.Diffusion)
	d.exchanged[to] = true
	r.send(comm.Cells{Target: to, Sender: r.ID, Effector: pkt.E[:], Regulator: pkt.R[:]})
	metrics.DiffusionExchanges.WithLabelValues(kind).Inc()
}

// absorb merges a received packet and answers it once per sender per cycle.
func (d *detector) absorb(c comm.Cells) {
	d.pop.Merge(immune.PacketFromSlices(c.Effector, c.Regulator))
	if !d.exchanged[c.Sender] {
		d.sendCells(c.Sender, "reply")
	}
}

// vote decides every vector locally and broadcasts the decisions.
func (d *detector) vote() {
	r := d.r
	decisions := d.pop.Decide(&d.aff)
	d.ballot.Cast(r.ID, decisions)
	vs, ds := decisions.Wire()
	r.send(comm.Decision{Sender: r.ID, Vectors: vs, Decisions: ds})
	d.enter(phaseVoting)
}

// conclude tallies the ballot and latches the fault flag when the swarm
// calls this robot's own vector faulty.
func (d *detector) conclude() {
	r := d.r
	d.consensus = d.ballot.Tally()
	if d.consensus[d.bfv] && !r.faultDetected {
		r.faultDetected = true
	}
	slog.Debug("consensus reached",
		"robot", r.ID,
		"bfv", d.bfv.String(),
		"voters", d.ballot.Len(),
		"faulty", d.consensus[d.bfv],
	)
	d.enter(phaseIdle)
}

// ── Message handlers ──

func (d *detector) onFeatureBits(m comm.FeatureBits) {
	if len(m.Bits) != immune.FeatureLength {
		metrics.MessagesDropped.WithLabelValues("malformed").Inc()
		slog.Warn("dropping feature bits", "robot", d.r.ID, "sender", m.Sender, "bits", len(m.Bits))
		return
	}
	if d.phase != phaseCollecting {
		return
	}
	d.peerBFV[m.Sender] = immune.FromBits(m.Bits...)
}

func (d *detector) onCellCount(m comm.CellCount) {
	d.heard[m.Sender] = m.Total()
}

func (d *detector) onCells(m comm.Cells) {
	if m.Target != d.r.ID {
		return
	}
	if d.phase == phaseSolving {
		d.pending = append(d.pending, m)
		return
	}
	d.absorb(m)
}

func (d *detector) onDecision(m comm.Decision) {
	if _, err := d.ballot.CastWire(m.Sender, m.Vectors, m.Decisions); err != nil {
		metrics.MessagesDropped.WithLabelValues("malformed").Inc()
		slog.Warn("dropping decision", "robot", d.r.ID, "sender", m.Sender, "error", err)
	}
}

// ── Robot hooks ──

// AdvanceSolver runs up to maxSteps Euler steps of a chunked CRM solve. It
// touches only this robot's population, so robots may be advanced in
// parallel.
func (r *Robot) AdvanceSolver(maxSteps int) {
	if r.detector != nil {
		r.detector.advance(maxSteps)
	}
}

// BFV returns the feature vector of the current detection cycle.
func (r *Robot) BFV() immune.FeatureVector {
	if r.detector == nil {
		return 0
	}
	return r.detector.bfv
}

// DetectionPhase names the current detection phase.
func (r *Robot) DetectionPhase() string {
	if r.detector == nil {
		return ""
	}
	return r.detector.phase.String()
}

// Close stops background work owned by the robot.
func (r *Robot) Close() {
	if r.detector != nil {
		r.detector.cancel()
	}
}
