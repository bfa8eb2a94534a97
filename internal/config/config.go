// Package config loads swarm experiment settings from YAML files and
// environment variables.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// Config holds every tunable of a swarm run.
type Config struct {
	// Seed drives all randomness. 0 picks a seed from crypto/rand.
	Seed int64 `yaml:"seed"`

	Arena     ArenaConfig     `yaml:"arena"`
	Robot     RobotConfig     `yaml:"robot"`
	Timing    TimingConfig    `yaml:"timing"`
	Forage    ForageConfig    `yaml:"forage"`
	Detection DetectionConfig `yaml:"detection"`
	Faults    FaultConfig     `yaml:"faults"`
	Store     StoreConfig     `yaml:"store"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ArenaConfig describes the floor, nest and food layout.
type ArenaConfig struct {
	Width        float64 `yaml:"width"`
	Height       float64 `yaml:"height"`
	NestX        float64 `yaml:"nest_x"`
	NestY        float64 `yaml:"nest_y"`
	NestRadius   float64 `yaml:"nest_radius"`
	FoodRadius   float64 `yaml:"food_radius"`
	FoodCount    int     `yaml:"food_count"`
	Distribution string  `yaml:"distribution"` // "random" or "cluster"
	FakeFraction float64 `yaml:"fake_fraction"`
}

// RobotConfig holds per-robot motion and sensing limits.
type RobotConfig struct {
	Count                   int     `yaml:"count"`
	ForwardSpeed            float64 `yaml:"forward_speed"`  // m/s
	RotationSpeed           float64 `yaml:"rotation_speed"` // rad/s
	TargetDistanceTolerance float64 `yaml:"target_distance_tolerance"`
	NestDistanceTolerance   float64 `yaml:"nest_distance_tolerance"`
	TargetAngleTolerance    float64 `yaml:"target_angle_tolerance"`
	NestAngleTolerance      float64 `yaml:"nest_angle_tolerance"`
	SearchStepSize          float64 `yaml:"search_step_size"`
	FoodDistanceTolerance   float64 `yaml:"food_distance_tolerance"`
	RadioRange              float64 `yaml:"radio_range"`
}

// TimingConfig converts controller cadences from seconds to ticks.
type TimingConfig struct {
	TicksPerSecond        int     `yaml:"ticks_per_second"`
	ScanPeriodSeconds     float64 `yaml:"scan_period_seconds"`
	DecisionPeriodSeconds float64 `yaml:"decision_period_seconds"`
	ReportEverySeconds    float64 `yaml:"report_every_seconds"`
	MaxSeconds            float64 `yaml:"max_seconds"` // 0 runs until cancelled
	RealTime              bool    `yaml:"real_time"`
}

// ForageConfig holds the CPFA parameters.
type ForageConfig struct {
	ProbSwitchToSearching     float64 `yaml:"prob_switch_to_searching"`
	ProbReturnToNest          float64 `yaml:"prob_return_to_nest"`
	UninformedSearchVariation float64 `yaml:"uninformed_search_variation"` // radians
	RateOfInformedSearchDecay float64 `yaml:"rate_of_informed_search_decay"`
	RateOfSiteFidelity        float64 `yaml:"rate_of_site_fidelity"`
	RateOfLayingPheromone     float64 `yaml:"rate_of_laying_pheromone"`
	RateOfPheromoneDecay      float64 `yaml:"rate_of_pheromone_decay"`
	PheromoneThreshold        float64 `yaml:"pheromone_threshold"`
	SearchRadius              float64 `yaml:"search_radius"`

	UseQZones      bool    `yaml:"use_qzones"`
	MergeMode      int     `yaml:"merge_mode"` // 0 append, 1 merge overlapping
	BadFoodLimit   int     `yaml:"bad_food_limit"`
	MaxZoneRetries int     `yaml:"max_zone_retries"`
	FFDetectionAcc float64 `yaml:"ff_detection_acc"` // fake food recognised as fake
	RFDetectionAcc float64 `yaml:"rf_detection_acc"` // real food recognised as real
}

// DetectionConfig configures the fault-detection pipeline.
type DetectionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Strategy string `yaml:"strategy"` // "crm" or "localization"

	CloseRange   float64 `yaml:"close_range"`
	FarRange     float64 `yaml:"far_range"`
	WindowLength int     `yaml:"window_length"`
	CycleSeconds float64 `yaml:"cycle_seconds"`

	Solver SolverConfig `yaml:"solver"`

	VoteCap               int     `yaml:"vote_cap"`
	LocalizationTolerance float64 `yaml:"localization_tolerance"`
	HaltOnDetection       bool    `yaml:"halt_on_detection"`
}

// SolverConfig holds the conjugate resource model constants.
type SolverConfig struct {
	K         float64 `yaml:"k"`
	Ie        float64 `yaml:"ie"`
	Ir        float64 `yaml:"ir"`
	E0        float64 `yaml:"e0"`
	R0        float64 `yaml:"r0"`
	Horizon   float64 `yaml:"horizon"`
	Step      float64 `yaml:"step"`
	C         float64 `yaml:"c"`
	BindLimit float64 `yaml:"bind_limit"`
	GammaC    float64 `yaml:"gamma_c"`
	GammaD    float64 `yaml:"gamma_d"`
	RhoE      float64 `yaml:"rho_e"`
	RhoR      float64 `yaml:"rho_r"`
	Delta     float64 `yaml:"delta"`
	Diffusion float64 `yaml:"diffusion"`

	Mode         string `yaml:"mode"` // "chunked" or "background"
	StepsPerTick int    `yaml:"steps_per_tick"`
	Workers      int    `yaml:"workers"`
}

// FaultConfig schedules fault injection.
type FaultConfig struct {
	Code            int     `yaml:"code"`
	Count           int     `yaml:"count"`
	OffsetDistance  float64 `yaml:"offset_distance"`
	InjectAtSeconds float64 `yaml:"inject_at_seconds"`
}

// StoreConfig selects the registry backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory" or "sqlite"
	Path    string `yaml:"path"`
}

// APIConfig configures the HTTP status server. Port 0 disables it.
type APIConfig struct {
	Port     int    `yaml:"port"`
	AdminKey string `yaml:"admin_key"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // auto, text, json
}

// Default returns a Config with the stock CPFA and CRM parameters.
func Default() *Config {
	return &Config{
		Arena: ArenaConfig{
			Width:        10,
			Height:       10,
			NestRadius:   0.25,
			FoodRadius:   0.05,
			FoodCount:    256,
			Distribution: "cluster",
			FakeFraction: 0.25,
		},
		Robot: RobotConfig{
			Count:                   16,
			ForwardSpeed:            0.16,
			RotationSpeed:           math.Pi / 2,
			TargetDistanceTolerance: 0.05,
			NestDistanceTolerance:   0.05,
			TargetAngleTolerance:    0.04,
			NestAngleTolerance:      0.05,
			SearchStepSize:          0.16,
			FoodDistanceTolerance:   0.13,
			RadioRange:              2.0,
		},
		Timing: TimingConfig{
			TicksPerSecond:        16,
			ScanPeriodSeconds:     0.5,
			DecisionPeriodSeconds: 5,
			ReportEverySeconds:    60,
			MaxSeconds:            1800,
		},
		Forage: ForageConfig{
			ProbSwitchToSearching:     0.4999,
			ProbReturnToNest:          0.0001,
			UninformedSearchVariation: 1.0,
			RateOfInformedSearchDecay: 0.1,
			RateOfSiteFidelity:        10,
			RateOfLayingPheromone:     10,
			RateOfPheromoneDecay:      0.05,
			PheromoneThreshold:        0.001,
			SearchRadius:              0.2,
			BadFoodLimit:              3,
			MaxZoneRetries:            100,
			FFDetectionAcc:            1.0,
			RFDetectionAcc:            1.0,
		},
		Detection: DetectionConfig{
			Enabled:      true,
			Strategy:     "crm",
			CloseRange:   0.3,
			FarRange:     1.0,
			WindowLength: 20,
			CycleSeconds: 10,
			Solver: SolverConfig{
				K:            0.002,
				Ie:           10,
				Ir:           10,
				E0:           10,
				R0:           10,
				Horizon:      5e8,
				Step:         1000,
				C:            0.15,
				BindLimit:    3,
				GammaC:       0.1,
				GammaD:       0.1,
				RhoE:         10e-3,
				RhoR:         0.7 * 10e-3,
				Delta:        10e-6,
				Diffusion:    0.5,
				Mode:         "chunked",
				StepsPerTick: 5000,
				Workers:      4,
			},
			VoteCap:               5,
			LocalizationTolerance: 0.5,
		},
		Faults: FaultConfig{
			Code:            1,
			Count:           1,
			OffsetDistance:  1.0,
			InjectAtSeconds: 60,
		},
		Store: StoreConfig{
			Backend: "memory",
			Path:    "data/cpfa.db",
		},
		API: APIConfig{
			Port: 0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load builds a configuration: defaults, then the YAML file at path
// (skipped when path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = fileCfg
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile reads a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Arena.Width <= 2*world.WallClearance || c.Arena.Height <= 2*world.WallClearance {
		return fmt.Errorf("arena %gx%g is too small", c.Arena.Width, c.Arena.Height)
	}
	if c.Arena.NestRadius <= 0 {
		return fmt.Errorf("nest_radius must be positive, got %g", c.Arena.NestRadius)
	}
	if c.Arena.FakeFraction < 0 || c.Arena.FakeFraction > 1 {
		return fmt.Errorf("fake_fraction must be between 0 and 1, got %g", c.Arena.FakeFraction)
	}
	if c.Robot.Count <= 0 {
		return fmt.Errorf("robot count must be positive, got %d", c.Robot.Count)
	}
	if c.Timing.TicksPerSecond < 2 {
		return fmt.Errorf("ticks_per_second must be at least 2, got %d", c.Timing.TicksPerSecond)
	}
	if c.Timing.Ticks(c.Timing.ScanPeriodSeconds) == 0 || c.Timing.Ticks(c.Timing.DecisionPeriodSeconds) == 0 {
		return fmt.Errorf("scan and decision periods must span at least one tick")
	}
	for name, p := range map[string]float64{
		"prob_switch_to_searching": c.Forage.ProbSwitchToSearching,
		"prob_return_to_nest":      c.Forage.ProbReturnToNest,
		"ff_detection_acc":         c.Forage.FFDetectionAcc,
		"rf_detection_acc":         c.Forage.RFDetectionAcc,
		"diffusion":                c.Detection.Solver.Diffusion,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %g", name, p)
		}
	}
	if c.Forage.MergeMode != 0 && c.Forage.MergeMode != 1 {
		return fmt.Errorf("merge_mode must be 0 or 1, got %d", c.Forage.MergeMode)
	}
	if c.Forage.MaxZoneRetries < 1 {
		return fmt.Errorf("max_zone_retries must be positive, got %d", c.Forage.MaxZoneRetries)
	}

	switch c.Detection.Strategy {
	case "crm", "localization":
	default:
		return fmt.Errorf("invalid detection strategy: %s (valid: crm, localization)", c.Detection.Strategy)
	}
	if c.Detection.CloseRange <= 0 || c.Detection.FarRange <= c.Detection.CloseRange {
		return fmt.Errorf("need 0 < close_range < far_range, got %g and %g", c.Detection.CloseRange, c.Detection.FarRange)
	}
	if c.Detection.WindowLength <= 0 {
		return fmt.Errorf("window_length must be positive, got %d", c.Detection.WindowLength)
	}
	s := c.Detection.Solver
	if s.Step <= 0 || s.Horizon < s.Step {
		return fmt.Errorf("solver step %g must be positive and not exceed horizon %g", s.Step, s.Horizon)
	}
	switch s.Mode {
	case "chunked", "background":
	default:
		return fmt.Errorf("invalid solver mode: %s (valid: chunked, background)", s.Mode)
	}
	if s.Mode == "chunked" && s.StepsPerTick <= 0 {
		return fmt.Errorf("steps_per_tick must be positive in chunked mode")
	}

	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("sqlite store needs a path")
		}
	default:
		return fmt.Errorf("invalid store backend: %s (valid: memory, sqlite)", c.Store.Backend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	return nil
}

// Ticks converts a duration in seconds to a whole number of ticks.
func (t TimingConfig) Ticks(seconds float64) uint64 {
	if seconds <= 0 {
		return 0
	}
	return uint64(math.Round(seconds * float64(t.TicksPerSecond)))
}

// Seconds converts a tick count to simulated seconds.
func (t TimingConfig) Seconds(tick uint64) float64 {
	return float64(tick) / float64(t.TicksPerSecond)
}

// applyEnvOverrides applies CPFA_* environment variables.
func applyEnvOverrides(c *Config) error {
	if v := os.Getenv("CPFA_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CPFA_SEED: %w", err)
		}
		c.Seed = seed
	}
	if v := os.Getenv("CPFA_STORE"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("CPFA_DB_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("CPFA_ADMIN_KEY"); v != "" {
		c.API.AdminKey = v
	}
	if v := os.Getenv("CPFA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CPFA_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CPFA_API_PORT: %w", err)
		}
		c.API.Port = port
	}
	return nil
}
