package metrics

import (
	"math"

	"github.com/san-kum/nbodyvk/internal/physics"
)

// Energy reports the total energy at the latest step.
type Energy struct {
	name    string
	g       physics.Gravity
	current float64
	samples int
}

func NewEnergy(g physics.Gravity) *Energy {
	return &Energy{name: "energy", g: g}
}

func (e *Energy) Name() string { return e.name }

func (e *Energy) Observe(ps []physics.Particle, step int) {
	e.current = e.g.Energy(ps)
	e.samples++
}

func (e *Energy) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return e.current
}

func (e *Energy) Reset() {
	e.current = 0
	e.samples = 0
}

// EnergyDrift tracks the largest relative departure from the energy of the
// first observed step. Every traceEvery steps the energy is appended to the
// trace.
type EnergyDrift struct {
	name          string
	g             physics.Gravity
	initialEnergy float64
	currentEnergy float64
	maxDrift      float64
	samples       int
	every         int
	trace         []float64
}

func NewEnergyDrift(g physics.Gravity, traceEvery int) *EnergyDrift {
	if traceEvery < 1 {
		traceEvery = 1
	}
	return &EnergyDrift{
		name:  "energy_drift",
		g:     g,
		every: traceEvery,
	}
}

func (e *EnergyDrift) Name() string { return e.name }

func (e *EnergyDrift) Observe(ps []physics.Particle, step int) {
	energy := e.g.Energy(ps)

	if e.samples == 0 {
		e.initialEnergy = energy
	}
	if e.samples%e.every == 0 {
		e.trace = append(e.trace, energy)
	}

	e.currentEnergy = energy
	e.samples++

	if e.initialEnergy != 0 {
		drift := math.Abs(energy-e.initialEnergy) / math.Abs(e.initialEnergy)
		e.maxDrift = math.Max(e.maxDrift, drift)
	}
}

func (e *EnergyDrift) Value() float64 {
	return e.maxDrift
}

// Current is the relative drift at the latest step.
func (e *EnergyDrift) Current() float64 {
	if e.initialEnergy == 0 {
		return 0
	}
	return (e.currentEnergy - e.initialEnergy) / math.Abs(e.initialEnergy)
}

func (e *EnergyDrift) Trace() []float64 {
	out := make([]float64, len(e.trace))
	copy(out, e.trace)
	return out
}

func (e *EnergyDrift) Reset() {
	e.initialEnergy = 0
	e.currentEnergy = 0
	e.maxDrift = 0
	e.samples = 0
	e.trace = e.trace[:0]
}
