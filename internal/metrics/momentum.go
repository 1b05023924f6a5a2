package metrics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/nbodyvk/internal/physics"
)

// MomentumDrift is the largest change in total linear momentum relative to
// the first observed step, normalised by the system's total |m v| so that a
// system at rest still reports a meaningful number.
type MomentumDrift struct {
	name    string
	initial mgl64.Vec3
	scale   float64
	max     float64
	samples int
}

func NewMomentumDrift() *MomentumDrift {
	return &MomentumDrift{name: "momentum_drift"}
}

func (m *MomentumDrift) Name() string { return m.name }

func (m *MomentumDrift) Observe(ps []physics.Particle, step int) {
	p := physics.Momentum(ps)
	if m.samples == 0 {
		m.initial = p
		for _, q := range ps {
			m.scale += float64(q.Mass) * float64(q.Speed())
		}
	}
	m.samples++

	d := p.Sub(m.initial).Len()
	if m.scale > 0 {
		d /= m.scale
	}
	m.max = math.Max(m.max, d)
}

func (m *MomentumDrift) Value() float64 { return m.max }

func (m *MomentumDrift) Reset() {
	m.initial = mgl64.Vec3{}
	m.scale = 0
	m.max = 0
	m.samples = 0
}
