package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/nbodyvk/internal/compute"
	"github.com/san-kum/nbodyvk/internal/physics"
	"github.com/san-kum/nbodyvk/internal/scenario"
)

const (
	DefaultDT          = 0.01
	DefaultSteps       = 1000
	DefaultCapacity    = compute.MaxParticleCount
	DefaultKernel      = "shaders/nbody.spv"
	DefaultScenario    = "ring"
	DefaultWaitTimeout = 5 * time.Second
)

var ErrInvalid = errors.New("config: invalid")

var drivers = []string{"auto", "vulkan", "soft", "cpu"}

// Duration reads and writes as a Go duration string such as "250ms".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	Driver        string   `yaml:"driver" toml:"driver"`
	DeviceIndex   int      `yaml:"device_index" toml:"device_index"`
	Kernel        string   `yaml:"kernel" toml:"kernel"`
	EntryPoint    string   `yaml:"entry_point" toml:"entry_point"`
	LocalSize     uint32   `yaml:"local_size" toml:"local_size"`
	Capacity      int      `yaml:"capacity" toml:"capacity"`
	Integrator    string   `yaml:"integrator" toml:"integrator"`
	Dt            float32  `yaml:"dt" toml:"dt"`
	Steps         int      `yaml:"steps" toml:"steps"`
	Scenario      string   `yaml:"scenario" toml:"scenario"`
	Seed          int64    `yaml:"seed" toml:"seed"`
	G             float32  `yaml:"G" toml:"G"`
	Softening     float32  `yaml:"softening" toml:"softening"`
	WaitTimeout   Duration `yaml:"wait_timeout" toml:"wait_timeout"`
	Validation    bool     `yaml:"validation" toml:"validation"`
	LogLevel      string   `yaml:"log_level" toml:"log_level"`
	TelemetryAddr string   `yaml:"telemetry_addr" toml:"telemetry_addr"`
}

func DefaultConfig() *Config {
	return &Config{
		Driver:      "auto",
		DeviceIndex: compute.AnyDevice,
		Kernel:      DefaultKernel,
		EntryPoint:  compute.DefaultEntryPoint,
		LocalSize:   compute.DefaultLocalSize,
		Capacity:    DefaultCapacity,
		Integrator:  compute.IntegratorEuler.String(),
		Dt:          DefaultDT,
		Steps:       DefaultSteps,
		Scenario:    DefaultScenario,
		Seed:        1,
		G:           physics.DefaultG,
		Softening:   physics.DefaultSoftening,
		WaitTimeout: Duration(DefaultWaitTimeout),
		LogLevel:    "info",
	}
}

// Load reads a YAML or TOML file, chosen by extension, over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("config: unsupported file type %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		data, err = toml.Marshal(cfg)
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		return fmt.Errorf("config: unsupported file type %q", ext)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if !slices.Contains(drivers, c.Driver) {
		bad("driver %q not one of %v", c.Driver, drivers)
	}
	if c.DeviceIndex < compute.AnyDevice {
		bad("device_index %d", c.DeviceIndex)
	}
	if c.Capacity <= 0 || c.Capacity > compute.MaxParticleCount {
		bad("capacity %d outside 1..%d", c.Capacity, compute.MaxParticleCount)
	}
	if c.Dt < 0 {
		bad("dt must not be negative, got %g", c.Dt)
	}
	if c.Steps <= 0 {
		bad("steps must be positive, got %d", c.Steps)
	}
	if c.Softening < 0 {
		bad("softening must not be negative, got %g", c.Softening)
	}
	if c.WaitTimeout <= 0 {
		bad("wait_timeout must be positive")
	}
	if c.Driver != "cpu" && c.Kernel == "" {
		bad("kernel path is required for driver %q", c.Driver)
	}
	if _, err := compute.ParseIntegrator(c.Integrator); err != nil {
		bad("%v", err)
	}
	if _, err := scenario.Lookup(c.Scenario); err != nil {
		bad("%v", err)
	}
	if _, err := c.Level(); err != nil {
		bad("%v", err)
	}
	return errors.Join(errs...)
}

func (c *Config) Gravity() physics.Gravity {
	return physics.Gravity{G: c.G, Softening: c.Softening}
}

func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// EngineOptions maps the configuration onto GPU engine options.
func (c *Config) EngineOptions(log *slog.Logger) compute.Options {
	opts := compute.DefaultOptions()
	opts.DeviceIndex = c.DeviceIndex
	opts.Capacity = c.Capacity
	opts.WaitTimeout = time.Duration(c.WaitTimeout)
	opts.Logger = log
	opts.Integrator, _ = compute.ParseIntegrator(c.Integrator)
	opts.Kernel.Path = c.Kernel
	opts.Kernel.EntryPoint = c.EntryPoint
	opts.Kernel.LocalSize = c.LocalSize
	return opts
}
