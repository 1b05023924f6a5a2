package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/san-kum/nbodyvk/internal/physics"
)

var (
	ErrInvalidState  = errors.New("sim: invalid state (NaN/Inf)")
	ErrInvalidConfig = errors.New("sim: invalid config")
)

// Observer is called after every completed step with the updated particles.
// The slice is only valid for the duration of the call.
type Observer interface {
	OnStep(ps []physics.Particle, step int, latency time.Duration)
}

type ObserverFunc func(ps []physics.Particle, step int, latency time.Duration)

func (f ObserverFunc) OnStep(ps []physics.Particle, step int, latency time.Duration) {
	f(ps, step, latency)
}

type Config struct {
	Steps int
	DT    float32
	// ValidateState stops the run at the first step that produces a
	// non-finite particle.
	ValidateState bool
}

type Result struct {
	Backend    string
	StepsTaken int
	Elapsed    time.Duration
	Metrics    map[string]float64
	Energy     []float64
	Final      []physics.Particle
}

// StepsPerSecond is zero until at least one step ran.
func (r *Result) StepsPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.StepsTaken) / r.Elapsed.Seconds()
}

type SimError struct {
	Step     int
	Particle int
	Err      error
}

func (e *SimError) Error() string {
	if e.Particle >= 0 {
		return fmt.Sprintf("step %d, particle %d: %v", e.Step, e.Particle, e.Err)
	}
	return fmt.Sprintf("step %d: %v", e.Step, e.Err)
}

func (e *SimError) Unwrap() error { return e.Err }
