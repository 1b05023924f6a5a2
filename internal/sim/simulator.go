// Package sim drives a compute.Stepper through a run of steps, feeding each
// step's output back as the next input.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/san-kum/nbodyvk/internal/compute"
	"github.com/san-kum/nbodyvk/internal/metrics"
	"github.com/san-kum/nbodyvk/internal/physics"
)

type Simulator struct {
	stepper   compute.Stepper
	metrics   []metrics.Metric
	observers []Observer
	log       *slog.Logger
}

func New(stepper compute.Stepper, log *slog.Logger) *Simulator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Simulator{
		stepper:   stepper,
		metrics:   make([]metrics.Metric, 0),
		observers: make([]Observer, 0),
		log:       log,
	}
}

func (s *Simulator) AddMetric(m metrics.Metric) { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o Observer)     { s.observers = append(s.observers, o) }

func (s *Simulator) Stepper() compute.Stepper { return s.stepper }

// Run steps a copy of ps cfg.Steps times. On cancellation or invalid state
// the partial result is returned together with the error.
func (s *Simulator) Run(ctx context.Context, ps []physics.Particle, cfg Config) (*Result, error) {
	if err := s.validateConfig(ps, cfg); err != nil {
		return nil, err
	}
	if cfg.Steps == 0 {
		return nil, fmt.Errorf("%w: steps must be positive", ErrInvalidConfig)
	}

	result := &Result{
		Backend: s.stepper.Name(),
		Metrics: make(map[string]float64),
	}
	for _, m := range s.metrics {
		m.Reset()
	}

	x := slices.Clone(ps)
	for _, m := range s.metrics {
		m.Observe(x, 0)
	}

	start := time.Now()
	err := s.loop(ctx, x, cfg, func(step int, latency time.Duration) bool {
		result.StepsTaken = step
		for _, m := range s.metrics {
			m.Observe(x, step)
			if tm, ok := m.(metrics.Timed); ok {
				tm.ObserveLatency(latency)
			}
		}
		return true
	})
	result.Elapsed = time.Since(start)
	result.Final = x

	for _, m := range s.metrics {
		result.Metrics[m.Name()] = m.Value()
		if tr, ok := m.(metrics.Tracer); ok && result.Energy == nil {
			result.Energy = tr.Trace()
		}
	}

	s.log.Info("run finished",
		"backend", result.Backend,
		"steps", result.StepsTaken,
		"elapsed", result.Elapsed,
		"error", err)
	return result, err
}

// RunWithCallback steps ps in place until cfg.Steps is reached, the context
// ends or callback returns false. Metrics are not consulted.
func (s *Simulator) RunWithCallback(ctx context.Context, ps []physics.Particle, cfg Config, callback func(ps []physics.Particle, step int) bool) error {
	if err := s.validateConfig(ps, cfg); err != nil {
		return err
	}
	return s.loop(ctx, ps, cfg, func(step int, _ time.Duration) bool {
		return callback(ps, step)
	})
}

// loop runs until cfg.Steps when it is positive, forever otherwise.
func (s *Simulator) loop(ctx context.Context, x []physics.Particle, cfg Config, after func(step int, latency time.Duration) bool) error {
	for i := 1; cfg.Steps <= 0 || i <= cfg.Steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		t0 := time.Now()
		if err := s.stepper.Step(ctx, x, cfg.DT); err != nil {
			return &SimError{Step: i, Particle: -1, Err: err}
		}
		latency := time.Since(t0)

		if cfg.ValidateState {
			if bad := physics.CheckFinite(x); bad >= 0 {
				return &SimError{Step: i, Particle: bad, Err: ErrInvalidState}
			}
		}

		for _, obs := range s.observers {
			obs.OnStep(x, i, latency)
		}
		if !after(i, latency) {
			return nil
		}
	}
	return nil
}

func (s *Simulator) validateConfig(ps []physics.Particle, cfg Config) error {
	if cfg.DT < 0 {
		return fmt.Errorf("%w: dt must not be negative, got %g", ErrInvalidConfig, cfg.DT)
	}
	if cfg.Steps < 0 {
		return fmt.Errorf("%w: steps must not be negative, got %d", ErrInvalidConfig, cfg.Steps)
	}
	if n, c := len(ps), s.stepper.Capacity(); n > c {
		return fmt.Errorf("%w: %d particles exceed %s capacity %d", ErrInvalidConfig, n, s.stepper.Name(), c)
	}
	return nil
}
