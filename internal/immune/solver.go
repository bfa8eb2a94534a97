package immune

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/metrics"
)

// ctxCheckEvery is how many Euler steps Run takes between context checks.
const ctxCheckEvery = 4096

// Solver integrates a population in place with Forward Euler. It can be
// driven in chunks across ticks (Advance) or run to completion (Run).
type Solver struct {
	pop   *Population
	aff   AffinityMatrix
	par   Params
	t     float64
	iters int
}

// NewSolver prepares an integration of pop over the horizon in par.
func NewSolver(pop *Population, par Params) *Solver {
	return &Solver{pop: pop, aff: NewAffinityMatrix(par.C), par: par}
}

// Done reports whether simulated time has passed the horizon.
func (s *Solver) Done() bool { return s.t > s.par.Horizon }

// Iterations is the number of Euler steps taken so far.
func (s *Solver) Iterations() int { return s.iters }

// Elapsed is the simulated time integrated so far.
func (s *Solver) Elapsed() float64 { return s.t }

// Advance takes at most maxSteps Euler steps and reports whether the
// integration is finished.
func (s *Solver) Advance(maxSteps int) bool {
	n := 0
	for n < maxSteps && !s.Done() {
		s.pop.step(&s.aff, s.par)
		s.t += s.par.Step
		n++
	}
	s.iters += n
	metrics.SolveIterations.Add(float64(n))
	return s.Done()
}

// Run integrates to the horizon, checking ctx periodically.
func (s *Solver) Run(ctx context.Context) error {
	for !s.Advance(ctxCheckEvery) {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Job runs a Solver on a private copy of a population in a background
// goroutine. The owner polls Ready each tick and collects the result.
type Job struct {
	par    Params
	input  Population
	result Population

	ready    atomic.Bool
	err      error
	started  time.Time
	duration time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewJob snapshots pop; later changes to pop do not affect the job.
func NewJob(pop *Population, par Params) *Job {
	return &Job{par: par, input: *pop, done: make(chan struct{})}
}

// Start launches the integration. Calling Start more than once is a no-op.
func (j *Job) Start(ctx context.Context) {
	j.once.Do(func() {
		ctx, j.cancel = context.WithCancel(ctx)
		j.started = time.Now()
		go j.run(ctx)
	})
}

func (j *Job) run(ctx context.Context) {
	defer close(j.done)
	work := j.input
	err := NewSolver(&work, j.par).Run(ctx)

	j.duration = time.Since(j.started)
	if err == nil {
		j.result = work
		metrics.SolveDuration.Observe(j.duration.Seconds())
	}
	j.err = err
	j.ready.Store(true)
}

// Ready reports whether the job has finished, successfully or not.
func (j *Job) Ready() bool { return j.ready.Load() }

// Result returns the integrated population once Ready. It returns false
// while the job is running or when it was cancelled.
func (j *Job) Result() (Population, bool, error) {
	if !j.ready.Load() {
		return Population{}, false, nil
	}
	if j.err != nil {
		return Population{}, false, j.err
	}
	return j.result, true, nil
}

// Duration is the wall time the integration took.
func (j *Job) Duration() time.Duration {
	if !j.ready.Load() {
		return 0
	}
	return j.duration
}

// Cancel stops the job and waits for its goroutine to exit.
func (j *Job) Cancel() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	<-j.done
}

// Wait blocks until the job finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
