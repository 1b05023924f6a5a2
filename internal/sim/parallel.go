package sim

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/nbodyvk/internal/compute"
	"github.com/san-kum/nbodyvk/internal/metrics"
	"github.com/san-kum/nbodyvk/internal/physics"
)

// Member describes one run of an ensemble.
type Member struct {
	Stepper   compute.Stepper
	Particles []physics.Particle
	Metrics   []metrics.Metric
}

// Factory builds the idx-th member. Returned steppers are closed by the
// ensemble.
type Factory func(idx int) (Member, error)

// Ensemble runs independent simulations concurrently, one per member.
type Ensemble struct {
	factory Factory
	numRuns int
	limit   int
}

func NewEnsemble(factory Factory, numRuns int) *Ensemble {
	return &Ensemble{factory: factory, numRuns: numRuns}
}

// WithLimit caps how many members run at once; n <= 0 means no cap.
func (e *Ensemble) WithLimit(n int) *Ensemble {
	e.limit = n
	return e
}

func (e *Ensemble) Run(ctx context.Context, cfg Config) ([]*Result, error) {
	results := make([]*Result, e.numRuns)

	g, ctx := errgroup.WithContext(ctx)
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for i := 0; i < e.numRuns; i++ {
		g.Go(func() (err error) {
			m, err := e.factory(i)
			if err != nil {
				return fmt.Errorf("ensemble member %d: %w", i, err)
			}
			defer func() {
				if cerr := m.Stepper.Close(); err == nil && cerr != nil {
					err = fmt.Errorf("ensemble member %d: close: %w", i, cerr)
				}
			}()

			s := New(m.Stepper, nil)
			for _, metric := range m.Metrics {
				s.AddMetric(metric)
			}
			results[i], err = s.Run(ctx, m.Particles, cfg)
			if err != nil {
				return fmt.Errorf("ensemble member %d: %w", i, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
