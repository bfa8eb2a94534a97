// Package engine provides the tick-based simulation loop and the swarm it
// drives.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Engine drives the simulation forward.
type Engine struct {
	Tick           uint64        // Last tick run (monotonic, never resets)
	TicksPerSecond int           // Simulated ticks per simulated second
	Interval       time.Duration // Wall time per tick; 0 runs flat out
	ReportEvery    uint64        // Ticks between OnReport calls; 0 disables

	// Callbacks for each tick layer, set before Run.
	OnTick   func(ctx context.Context, tick uint64) error // Every tick
	OnSecond func(tick uint64)                            // Every simulated second
	OnReport func(tick uint64)                            // Every ReportEvery ticks

	stopped atomic.Bool
}

// NewEngine creates an engine that runs flat out.
func NewEngine(ticksPerSecond int) *Engine {
	if ticksPerSecond <= 0 {
		ticksPerSecond = 1
	}
	return &Engine{TicksPerSecond: ticksPerSecond}
}

// Run steps the simulation until maxTicks ticks have run (0 means no
// limit), ctx is cancelled, Stop is called or OnTick fails. Cancellation
// and Stop are not errors.
func (e *Engine) Run(ctx context.Context, maxTicks uint64) error {
	e.stopped.Store(false)
	slog.Info("simulation engine started", "tick", e.Tick, "max_ticks", maxTicks)

	var ticker *time.Ticker
	if e.Interval > 0 {
		ticker = time.NewTicker(e.Interval)
		defer ticker.Stop()
	}

	start := e.Tick
	for maxTicks == 0 || e.Tick-start < maxTicks {
		if e.stopped.Load() {
			break
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
			case <-ticker.C:
			}
		}
		if ctx.Err() != nil {
			break
		}
		if err := e.step(ctx); err != nil {
			slog.Info("simulation engine stopped", "tick", e.Tick, "error", err)
			return err
		}
	}

	slog.Info("simulation engine stopped", "tick", e.Tick)
	return nil
}

// Stop makes Run return after the current tick.
func (e *Engine) Stop() {
	e.stopped.Store(true)
}

// step advances the simulation by one tick.
func (e *Engine) step(ctx context.Context) error {
	e.Tick++

	if e.OnTick != nil {
		if err := e.OnTick(ctx, e.Tick); err != nil {
			return fmt.Errorf("tick %d: %w", e.Tick, err)
		}
	}
	if e.Tick%uint64(e.TicksPerSecond) == 0 && e.OnSecond != nil {
		e.OnSecond(e.Tick)
	}
	if e.ReportEvery > 0 && e.Tick%e.ReportEvery == 0 && e.OnReport != nil {
		e.OnReport(e.Tick)
	}
	return nil
}

// SimTime renders a tick as simulated mm:ss.
func SimTime(tick uint64, ticksPerSecond int) string {
	if ticksPerSecond <= 0 {
		ticksPerSecond = 1
	}
	seconds := tick / uint64(ticksPerSecond)
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
