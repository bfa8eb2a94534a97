package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/agents"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/api"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/config"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/engine"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/persistence"
)

func runSwarm(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	setupLogging(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Registry ──────────────────────────────────────────────────────
	arena := engine.NewArena(cfg)
	if cfg.Store.Backend == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
	}
	reg, err := persistence.NewRegistry(cfg.Store.Backend, cfg.Store.Path, arena.Nest, cfg.Forage.PheromoneThreshold)
	if err != nil {
		return err
	}
	defer reg.Close()
	slog.Info("registry opened", "backend", cfg.Store.Backend)

	// ── Swarm ─────────────────────────────────────────────────────────
	sim, err := engine.NewSimulation(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer sim.Close()

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine(cfg.Timing.TicksPerSecond)
	eng.ReportEvery = cfg.Timing.Ticks(cfg.Timing.ReportEverySeconds)
	if cfg.Timing.RealTime {
		eng.Interval = time.Second / time.Duration(cfg.Timing.TicksPerSecond)
	}
	eng.OnTick = sim.Step
	eng.OnReport = func(uint64) { sim.Report(ctx) }

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.API.Port > 0 {
		srv := &api.Server{Sim: sim, Port: cfg.API.Port, AdminKey: cfg.API.AdminKey}
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("HTTP shutdown failed", "error", err)
			}
		}()
	}

	maxTicks := ticksFlag
	if maxTicks == 0 {
		maxTicks = cfg.Timing.Ticks(cfg.Timing.MaxSeconds)
	}

	runErr := eng.Run(ctx, maxTicks)
	switch {
	case runErr == nil:
	case errors.Is(runErr, agents.ErrFaultDetected):
		slog.Info("run halted on fault detection", "tick", eng.Tick)
	default:
		slog.Error("run failed", "error", runErr)
		return runErr
	}

	sim.Report(context.Background())
	st, err := sim.Status(context.Background())
	if err != nil {
		return err
	}
	slog.Info("run finished",
		"run", st.RunID,
		"seed", st.Seed,
		"sim_time", st.SimTime,
		"real_collected", st.Totals.RealCollected,
		"faults_injected", st.FaultsInjected,
		"faults_detected", st.FaultsDetected,
	)
	return nil
}

// applyFlags overlays explicitly set command-line flags on cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seedFlag
	}
	if storeFlag != "" {
		cfg.Store.Backend = storeFlag
	}
	if dbFlag != "" {
		cfg.Store.Path = dbFlag
	}
	if portFlag >= 0 {
		cfg.API.Port = portFlag
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}
