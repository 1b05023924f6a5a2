package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/san-kum/nbodyvk/internal/config"
)

var (
	configFile  string
	preset      string
	driverName  string
	kernelPath  string
	deviceIndex int
	capacity    int
	scenarioArg string
	integrator  string
	seed        int64
	dt          float32
	steps       int
	validation  bool
	logLevel    string
)

// main registers the commands and exits 1 when the command fails.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:          "nbodyvk",
		Short:        "n-body simulation on a vulkan compute queue",
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file path (yaml or toml)")
	pf.StringVar(&preset, "preset", "", "use preset configuration")
	pf.StringVar(&driverName, "driver", "auto", "compute driver: auto, vulkan, soft or cpu")
	pf.StringVar(&kernelPath, "kernel", config.DefaultKernel, "SPIR-V kernel path")
	pf.IntVar(&deviceIndex, "device", -1, "physical device index (-1 picks the first compute device)")
	pf.IntVar(&capacity, "capacity", config.DefaultCapacity, "particle capacity")
	pf.StringVar(&scenarioArg, "scenario", config.DefaultScenario, "initial conditions")
	pf.StringVar(&integrator, "integrator", "euler", "cpu integrator: euler or verlet")
	pf.Int64Var(&seed, "seed", 1, "random seed")
	pf.Float32Var(&dt, "dt", config.DefaultDT, "timestep")
	pf.IntVar(&steps, "steps", config.DefaultSteps, "steps to run")
	pf.BoolVar(&validation, "validation", false, "enable vulkan validation layers")
	pf.StringVar(&logLevel, "log-level", "info", "log level")

	rootCmd.AddCommand(
		newRunCmd(),
		newLiveCmd(),
		newDevicesCmd(),
		newBenchCmd(),
		newVerifyCmd(),
		newPresetsCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges defaults, the preset, the config file and any flag the
// user set, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Driver = driverName
	}
	if flags.Changed("kernel") {
		cfg.Kernel = kernelPath
	}
	if flags.Changed("device") {
		cfg.DeviceIndex = deviceIndex
	}
	if flags.Changed("capacity") {
		cfg.Capacity = capacity
	}
	if flags.Changed("scenario") {
		cfg.Scenario = scenarioArg
	}
	if flags.Changed("integrator") {
		cfg.Integrator = integrator
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("dt") {
		cfg.Dt = dt
	}
	if flags.Changed("steps") {
		cfg.Steps = steps
	}
	if flags.Changed("validation") {
		cfg.Validation = validation
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, err := cfg.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// setup is the common prologue of every simulating command.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg), nil
}
