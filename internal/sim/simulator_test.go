package sim

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/nbodyvk/internal/compute"
	"github.com/san-kum/nbodyvk/internal/metrics"
	"github.com/san-kum/nbodyvk/internal/physics"
	"github.com/san-kum/nbodyvk/internal/scenario"
)

// drift moves every particle by its velocity and can be told to fail or
// poison a step.
type drift struct {
	capacity int
	failAt   int
	nanAt    int
	steps    int
	closed   atomic.Bool
}

func (d *drift) Name() string  { return "drift" }
func (d *drift) Capacity() int { return d.capacity }

func (d *drift) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *drift) Step(_ context.Context, ps []physics.Particle, dt float32) error {
	d.steps++
	if d.steps == d.failAt {
		return errors.New("device on fire")
	}
	for i := range ps {
		ps[i].Position = ps[i].Position.Add(ps[i].Velocity.Mul(dt))
	}
	if d.steps == d.nanAt {
		ps[len(ps)-1].Position[0] = float32(math.NaN())
	}
	return nil
}

func moving(n int) []physics.Particle {
	ps := make([]physics.Particle, n)
	for i := range ps {
		ps[i] = physics.Particle{Velocity: mgl32.Vec3{1, 0, 0}, Mass: 1}
	}
	return ps
}

func TestRunCopiesBack(t *testing.T) {
	st := &drift{capacity: 4}
	s := New(st, nil)
	in := moving(4)

	res, err := s.Run(context.Background(), in, Config{Steps: 10, DT: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 10, res.StepsTaken)
	assert.Equal(t, "drift", res.Backend)
	assert.InDelta(t, 5.0, res.Final[0].Position[0], 1e-6)
	assert.Zero(t, in[0].Position[0], "input must not be modified")
}

func TestRunCollectsMetricsAndObservers(t *testing.T) {
	g := physics.DefaultGravity()
	ps, err := scenario.Generate("binary", 8, 0, g)
	require.NoError(t, err)

	s := New(compute.NewCPUBackend(8, g), nil)
	s.AddMetric(metrics.NewEnergyDrift(g, 10))
	s.AddMetric(metrics.NewStepTime())

	var seen []int
	s.AddObserver(ObserverFunc(func(_ []physics.Particle, step int, latency time.Duration) {
		seen = append(seen, step)
		assert.GreaterOrEqual(t, latency, time.Duration(0))
	}))

	res, err := s.Run(context.Background(), ps, Config{Steps: 100, DT: 0.001, ValidateState: true})
	require.NoError(t, err)
	require.Len(t, seen, 100)
	assert.Equal(t, 1, seen[0])
	assert.Equal(t, 100, seen[99])

	assert.Contains(t, res.Metrics, "energy_drift")
	assert.Contains(t, res.Metrics, "step_time")
	assert.Less(t, res.Metrics["energy_drift"], 1e-3)
	assert.Len(t, res.Energy, 11)
	assert.Positive(t, res.StepsPerSecond())
}

func TestRunStopsOnInvalidState(t *testing.T) {
	s := New(&drift{capacity: 3, nanAt: 4}, nil)
	res, err := s.Run(context.Background(), moving(3), Config{Steps: 10, DT: 0.1, ValidateState: true})
	require.ErrorIs(t, err, ErrInvalidState)

	var se *SimError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 4, se.Step)
	assert.Equal(t, 2, se.Particle)
	assert.Equal(t, 3, res.StepsTaken)
}

func TestRunWrapsStepperErrors(t *testing.T) {
	s := New(&drift{capacity: 2, failAt: 2}, nil)
	res, err := s.Run(context.Background(), moving(2), Config{Steps: 5, DT: 0.1})
	var se *SimError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Step)
	assert.Equal(t, 1, res.StepsTaken)
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(&drift{capacity: 2}, nil)
	s.AddObserver(ObserverFunc(func(_ []physics.Particle, step int, _ time.Duration) {
		if step == 3 {
			cancel()
		}
	}))
	res, err := s.Run(ctx, moving(2), Config{Steps: 100, DT: 0.1})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, res.StepsTaken)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		n    int
		cfg  Config
	}{
		{"negative dt", 2, Config{Steps: 1, DT: -1}},
		{"no steps", 2, Config{Steps: 0, DT: 0.1}},
		{"negative steps", 2, Config{Steps: -1, DT: 0.1}},
		{"over capacity", 9, Config{Steps: 1, DT: 0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&drift{capacity: 8}, nil)
			_, err := s.Run(context.Background(), moving(tt.n), tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestRunWithCallbackStopsEarly(t *testing.T) {
	s := New(&drift{capacity: 2}, nil)
	ps := moving(2)
	var last int
	err := s.RunWithCallback(context.Background(), ps, Config{DT: 1}, func(_ []physics.Particle, step int) bool {
		last = step
		return step < 7
	})
	require.NoError(t, err)
	assert.Equal(t, 7, last)
	assert.InDelta(t, 7.0, ps[0].Position[0], 1e-6)
}

func TestEnsemble(t *testing.T) {
	g := physics.DefaultGravity()
	factory := func(idx int) (Member, error) {
		ps, err := scenario.Generate("cloud", 16, int64(idx), g)
		if err != nil {
			return Member{}, err
		}
		return Member{
			Stepper:   compute.NewCPUBackend(16, g),
			Particles: ps,
			Metrics:   []metrics.Metric{metrics.NewEnergyDrift(g, 1)},
		}, nil
	}

	results, err := NewEnsemble(factory, 4).WithLimit(2).Run(context.Background(), Config{Steps: 5, DT: 0.01})
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.Equal(t, 5, r.StepsTaken)
		assert.Len(t, r.Energy, 6)
	}
	assert.NotEqual(t, results[0].Final, results[1].Final)
}

func TestEnsembleClosesSteppersOnFailure(t *testing.T) {
	st := &drift{capacity: 2, failAt: 1}
	factory := func(int) (Member, error) {
		return Member{Stepper: st, Particles: moving(2)}, nil
	}
	_, err := NewEnsemble(factory, 1).Run(context.Background(), Config{Steps: 3, DT: 0.1})
	require.Error(t, err)
	assert.True(t, st.closed.Load())
}
