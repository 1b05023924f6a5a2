package config

import "sort"

// Presets overlay the defaults; zero fields keep the default value.
var Presets = map[string]*Config{
	"two_body": {
		Scenario: "two_body", Capacity: 64, Dt: 0.1, Steps: 200,
	},
	"binary": {
		Scenario: "binary", Capacity: 64, Dt: 0.001, Steps: 20000, Integrator: "verlet",
	},
	"galaxy": {
		Scenario: "ring", Capacity: DefaultCapacity, Dt: 0.005, Steps: 5000,
	},
	"cloud": {
		Scenario: "cloud", Capacity: 512, Dt: 0.01, Steps: 2000, Seed: 42,
	},
}

// GetPreset returns a full configuration for the named preset, or nil.
func GetPreset(name string) *Config {
	p, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	cfg.Scenario = p.Scenario
	if p.Capacity != 0 {
		cfg.Capacity = p.Capacity
	}
	if p.Dt != 0 {
		cfg.Dt = p.Dt
	}
	if p.Steps != 0 {
		cfg.Steps = p.Steps
	}
	if p.Seed != 0 {
		cfg.Seed = p.Seed
	}
	if p.Integrator != "" {
		cfg.Integrator = p.Integrator
	}
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
