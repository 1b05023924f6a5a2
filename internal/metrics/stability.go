package metrics

import (
	"github.com/san-kum/nbodyvk/internal/physics"
)

const DefaultBoundRadius = 1000

// Bound is the fraction of observed steps in which every massive particle
// stayed within radius of the centre of mass.
type Bound struct {
	name       string
	radius     float64
	violations int
	samples    int
}

func NewBound(radius float64) *Bound {
	return &Bound{
		name:   "bound",
		radius: radius,
	}
}

func (b *Bound) Name() string {
	return b.name
}

func (b *Bound) Observe(ps []physics.Particle, step int) {
	b.samples++
	com := physics.CenterOfMass(ps)
	for _, p := range ps {
		if p.Mass == 0 {
			continue
		}
		pos := p.Position
		dx := float64(pos[0]) - com[0]
		dy := float64(pos[1]) - com[1]
		dz := float64(pos[2]) - com[2]
		if dx*dx+dy*dy+dz*dz > b.radius*b.radius {
			b.violations++
			break
		}
	}
}

func (b *Bound) Value() float64 {
	if b.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(b.violations)/float64(b.samples)
}

func (b *Bound) Reset() {
	b.violations = 0
	b.samples = 0
}
