// Package metrics accumulates per-step diagnostics of a particle system.
package metrics

import (
	"time"

	"github.com/san-kum/nbodyvk/internal/physics"
)

type Metric interface {
	Name() string
	Observe(ps []physics.Particle, step int)
	Value() float64
	Reset()
}

// Timed metrics also see how long each step took.
type Timed interface {
	ObserveLatency(d time.Duration)
}

// Tracer metrics keep a sampled series for plotting.
type Tracer interface {
	Trace() []float64
}

// Standard returns the metrics the CLI reports by default.
func Standard(g physics.Gravity, traceEvery int) []Metric {
	return []Metric{
		NewEnergy(g),
		NewEnergyDrift(g, traceEvery),
		NewMomentumDrift(),
		NewBound(DefaultBoundRadius),
		NewStepTime(),
	}
}
