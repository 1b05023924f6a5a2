package physics

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
)

const (
	DefaultG         = 1.0
	DefaultSoftening = 0.01
)

// Gravity is softened pairwise Newtonian gravity.
type Gravity struct {
	G         float32
	Softening float32
}

func DefaultGravity() Gravity {
	return Gravity{G: DefaultG, Softening: DefaultSoftening}
}

// Acceleration returns the acceleration of ps[i] caused by every other
// particle. Summation runs in index order so every caller gets the same bits.
func (g Gravity) Acceleration(ps []Particle, i int) mgl32.Vec3 {
	eps2 := g.Softening * g.Softening
	pi := ps[i].Position
	var a mgl32.Vec3
	for j := range ps {
		if j == i || ps[j].Mass == 0 {
			continue
		}
		r := ps[j].Position.Sub(pi)
		r2 := r.Dot(r) + eps2
		if r2 == 0 {
			continue
		}
		inv := 1 / math32.Sqrt(r2)
		a = a.Add(r.Mul(g.G * ps[j].Mass * inv * inv * inv))
	}
	return a
}

// StepRange advances src[lo:hi] by one semi-implicit Euler step into dst.
// It reads all of src, so dst and src must not alias.
func (g Gravity) StepRange(dst, src []Particle, dt float32, lo, hi int) {
	for i := lo; i < hi; i++ {
		p := src[i]
		a := g.Acceleration(src, i)
		v := p.Velocity.Add(a.Mul(dt))
		dst[i] = Particle{
			Position: p.Position.Add(v.Mul(dt)),
			Velocity: v,
			Mass:     p.Mass,
		}
	}
}

// Step is StepRange over the whole slice.
func (g Gravity) Step(dst, src []Particle, dt float32) {
	g.StepRange(dst, src, dt, 0, len(src))
}

// StepVerlet advances ps in place by one velocity-Verlet step. acc holds the
// accelerations at the current positions and is updated to the new ones;
// pass nil on the first call.
func (g Gravity) StepVerlet(ps []Particle, acc []mgl32.Vec3, dt float32) []mgl32.Vec3 {
	if len(acc) != len(ps) {
		acc = make([]mgl32.Vec3, len(ps))
		for i := range ps {
			acc[i] = g.Acceleration(ps, i)
		}
	}
	half := 0.5 * dt
	for i := range ps {
		ps[i].Velocity = ps[i].Velocity.Add(acc[i].Mul(half))
		ps[i].Position = ps[i].Position.Add(ps[i].Velocity.Mul(dt))
	}
	for i := range ps {
		acc[i] = g.Acceleration(ps, i)
		ps[i].Velocity = ps[i].Velocity.Add(acc[i].Mul(half))
	}
	return acc
}

func Kinetic(ps []Particle) float64 {
	var ke float64
	for _, p := range ps {
		v := vec64(p.Velocity)
		ke += 0.5 * float64(p.Mass) * v.Dot(v)
	}
	return ke
}

func (g Gravity) Potential(ps []Particle) float64 {
	eps2 := float64(g.Softening) * float64(g.Softening)
	var pe float64
	for i := range ps {
		if ps[i].Mass == 0 {
			continue
		}
		for j := i + 1; j < len(ps); j++ {
			if ps[j].Mass == 0 {
				continue
			}
			r := vec64(ps[j].Position).Sub(vec64(ps[i].Position))
			d := r.Dot(r) + eps2
			if d == 0 {
				continue
			}
			pe -= float64(g.G) * float64(ps[i].Mass) * float64(ps[j].Mass) / math.Sqrt(d)
		}
	}
	return pe
}

func (g Gravity) Energy(ps []Particle) float64 {
	return Kinetic(ps) + g.Potential(ps)
}

func Momentum(ps []Particle) mgl64.Vec3 {
	var m mgl64.Vec3
	for _, p := range ps {
		m = m.Add(vec64(p.Velocity).Mul(float64(p.Mass)))
	}
	return m
}

func TotalMass(ps []Particle) float64 {
	var m float64
	for _, p := range ps {
		m += float64(p.Mass)
	}
	return m
}

// CenterOfMass returns the zero vector for a massless system.
func CenterOfMass(ps []Particle) mgl64.Vec3 {
	var c mgl64.Vec3
	total := TotalMass(ps)
	if total == 0 {
		return c
	}
	for _, p := range ps {
		c = c.Add(vec64(p.Position).Mul(float64(p.Mass)))
	}
	return c.Mul(1 / total)
}

func vec64(v mgl32.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{float64(v[0]), float64(v[1]), float64(v[2])}
}
