package metrics

import (
	"time"

	"github.com/san-kum/nbodyvk/internal/physics"
)

// StepTime reports the mean step latency in seconds.
type StepTime struct {
	name    string
	total   time.Duration
	last    time.Duration
	samples int
}

func NewStepTime() *StepTime {
	return &StepTime{name: "step_time"}
}

func (s *StepTime) Name() string { return s.name }

func (s *StepTime) Observe([]physics.Particle, int) {}

func (s *StepTime) ObserveLatency(d time.Duration) {
	s.total += d
	s.last = d
	s.samples++
}

func (s *StepTime) Value() float64 {
	return s.Mean().Seconds()
}

func (s *StepTime) Mean() time.Duration {
	if s.samples == 0 {
		return 0
	}
	return s.total / time.Duration(s.samples)
}

func (s *StepTime) Last() time.Duration { return s.last }

// Rate is the mean number of steps per second.
func (s *StepTime) Rate() float64 {
	if s.total <= 0 {
		return 0
	}
	return float64(s.samples) / s.total.Seconds()
}

func (s *StepTime) Reset() {
	s.total = 0
	s.last = 0
	s.samples = 0
}
