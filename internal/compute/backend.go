package compute

import (
	"context"
	"errors"
	"log/slog"

	"github.com/san-kum/nbodyvk/internal/hal"
	"github.com/san-kum/nbodyvk/internal/physics"
)

// Stepper advances a particle system by one step in place.
type Stepper interface {
	Name() string
	Capacity() int
	Step(ctx context.Context, ps []physics.Particle, dt float32) error
	Close() error
}

var (
	_ Stepper = (*Engine)(nil)
	_ Stepper = (*CPUBackend)(nil)
)

// AutoSelect builds a GPU engine on drv and falls back to the CPU backend
// when drv is nil or has no usable compute device. Any other setup failure
// is returned.
func AutoSelect(drv hal.Driver, opts Options, g physics.Gravity) (Stepper, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = MaxParticleCount
	}
	fallback := func() Stepper {
		return NewCPUBackend(capacity, g).WithIntegrator(opts.Integrator)
	}
	if drv == nil {
		log.Warn("no compute driver, using cpu backend", "integrator", opts.Integrator)
		return fallback(), nil
	}
	e, err := New(drv, opts)
	if err == nil {
		return e, nil
	}
	if errors.Is(err, ErrNoComputeDevice) {
		log.Warn("no compute device, using cpu backend", "driver", drv.Name(), "integrator", opts.Integrator, "reason", err)
		return fallback(), nil
	}
	return nil, err
}
