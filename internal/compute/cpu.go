package compute

import (
	"context"
	"fmt"
	"runtime"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/nbodyvk/internal/physics"
)

type Integrator int

const (
	// IntegratorEuler is the semi-implicit Euler step the kernel runs.
	IntegratorEuler Integrator = iota
	IntegratorVerlet
)

func (i Integrator) String() string {
	if i == IntegratorVerlet {
		return "verlet"
	}
	return "euler"
}

func ParseIntegrator(s string) (Integrator, error) {
	switch s {
	case "", "euler":
		return IntegratorEuler, nil
	case "verlet":
		return IntegratorVerlet, nil
	}
	return 0, fmt.Errorf("compute: unknown integrator %q", s)
}

// serialThreshold is the particle count below which a step is not split
// across workers.
const serialThreshold = 64

// CPUBackend runs the reference physics on the host. With the Euler
// integrator its results match the kernel bit for bit.
type CPUBackend struct {
	workers    int
	capacity   int
	gravity    physics.Gravity
	integrator Integrator

	scratch []physics.Particle
	acc     []mgl32.Vec3
}

func NewCPUBackend(capacity int, g physics.Gravity) *CPUBackend {
	return &CPUBackend{
		workers:  runtime.NumCPU(),
		capacity: capacity,
		gravity:  g,
	}
}

func (c *CPUBackend) WithIntegrator(i Integrator) *CPUBackend {
	c.integrator = i
	c.acc = nil
	return c
}

func (c *CPUBackend) WithWorkers(n int) *CPUBackend {
	if n > 0 {
		c.workers = n
	}
	return c
}

func (c *CPUBackend) Integrator() Integrator { return c.integrator }

func (c *CPUBackend) Name() string  { return "cpu" }
func (c *CPUBackend) Capacity() int { return c.capacity }
func (c *CPUBackend) Close() error  { return nil }

func (c *CPUBackend) Step(ctx context.Context, ps []physics.Particle, dt float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ps) > c.capacity {
		return fmt.Errorf("%w: %d particles, capacity %d", ErrCapacity, len(ps), c.capacity)
	}
	if c.integrator == IntegratorVerlet {
		c.acc = c.gravity.StepVerlet(ps, c.acc, dt)
		return nil
	}

	if cap(c.scratch) < len(ps) {
		c.scratch = make([]physics.Particle, len(ps))
	}
	dst := c.scratch[:len(ps)]
	if len(ps) < serialThreshold || c.workers <= 1 {
		c.gravity.Step(dst, ps, dt)
	} else if err := c.stepParallel(ctx, dst, ps, dt); err != nil {
		return err
	}
	copy(ps, dst)
	return nil
}

func (c *CPUBackend) stepParallel(ctx context.Context, dst, src []physics.Particle, dt float32) error {
	n := len(src)
	chunkSize := (n + c.workers - 1) / c.workers
	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += chunkSize {
		lo, hi := start, min(start+chunkSize, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.gravity.StepRange(dst, src, dt, lo, hi)
			return nil
		})
	}
	return g.Wait()
}
