// Command cpfasim runs a CPFA foraging swarm with immune-inspired fault
// detection.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	seedFlag   int64
	ticksFlag  uint64
	storeFlag  string
	dbFlag     string
	portFlag   int
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "cpfasim",
		Short: "Swarm foraging simulator with fault detection",
		Long: `cpfasim runs a swarm of central-place foraging robots that detect
faulty teammates with a cross-regulation model, or with the legacy
localization vote.`,
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run one swarm experiment",
		RunE:  runSwarm, // Defined in run.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the cpfasim version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "cpfasim", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults apply when empty)")
	runCmd.Flags().Int64Var(&seedFlag, "seed", 0, "override the random seed")
	runCmd.Flags().Uint64Var(&ticksFlag, "ticks", 0, "stop after this many ticks (overrides timing.max_seconds)")
	runCmd.Flags().StringVar(&storeFlag, "store", "", "registry backend: memory or sqlite")
	runCmd.Flags().StringVar(&dbFlag, "db", "", "sqlite database path")
	runCmd.Flags().IntVar(&portFlag, "api-port", -1, "serve the HTTP API on this port (0 disables)")

	rootCmd.AddCommand(runCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging installs the default slog logger. Text goes to terminals,
// JSON everywhere else unless format forces one.
func setupLogging(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if format == "auto" || format == "" {
		format = "json"
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			format = "text"
		}
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
