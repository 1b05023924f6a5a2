// Package scenario builds named initial conditions for the particle system.
//
// Every scenario fills exactly the requested capacity; slots the scenario
// does not need are padded with massless particles far from the system, which
// neither attract other particles nor contribute to energy or momentum.
package scenario

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/san-kum/nbodyvk/internal/physics"
)

var (
	ErrUnknown  = errors.New("scenario: unknown scenario")
	ErrCapacity = errors.New("scenario: capacity too small")
)

// PadDistance is how far along the x axis padding particles are parked.
const PadDistance = 1e5

type Scenario struct {
	Name        string
	Description string
	// MinBodies is the smallest capacity the scenario can be built into.
	MinBodies int
	build     func(n int, g physics.Gravity, rng *rand.Rand) []physics.Particle
}

var registry = map[string]Scenario{
	"two_body": {
		Name:        "two_body",
		Description: "heavy mass at the origin, light mass at rest on the x axis",
		MinBodies:   2,
		build:       twoBody,
	},
	"binary": {
		Name:        "binary",
		Description: "equal-mass pair on a circular orbit",
		MinBodies:   2,
		build:       binary,
	},
	"ring": {
		Name:        "ring",
		Description: "light bodies on circular orbits around a central mass",
		MinBodies:   2,
		build:       ring,
	},
	"cloud": {
		Name:        "cloud",
		Description: "seeded uniform sphere of equal masses",
		MinBodies:   1,
		build:       cloud,
	},
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Lookup(name string) (Scenario, error) {
	s, ok := registry[name]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %q (have %v)", ErrUnknown, name, Names())
	}
	return s, nil
}

// Generate builds the named scenario into capacity particles.
func Generate(name string, capacity int, seed int64, g physics.Gravity) ([]physics.Particle, error) {
	s, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return s.Generate(capacity, seed, g)
}

func (s Scenario) Generate(capacity int, seed int64, g physics.Gravity) ([]physics.Particle, error) {
	if capacity < s.MinBodies {
		return nil, fmt.Errorf("%w: %s needs %d particles, have %d", ErrCapacity, s.Name, s.MinBodies, capacity)
	}
	rng := rand.New(rand.NewSource(seed))
	return Pad(s.build(capacity, g, rng), capacity), nil
}

// Pad extends ps to capacity with massless particles at rest.
func Pad(ps []physics.Particle, capacity int) []physics.Particle {
	for i := len(ps); i < capacity; i++ {
		ps = append(ps, physics.Particle{
			Position: mgl32.Vec3{PadDistance + float32(i), 0, 0},
		})
	}
	return ps
}

func twoBody(_ int, _ physics.Gravity, _ *rand.Rand) []physics.Particle {
	return []physics.Particle{
		{Mass: 1000},
		{Position: mgl32.Vec3{10, 0, 0}, Mass: 1},
	}
}

func binary(_ int, g physics.Gravity, _ *rand.Rand) []physics.Particle {
	const (
		m   = 1.0
		sep = 1.0
	)
	v := math32.Sqrt(g.G * m / (2 * sep))
	return []physics.Particle{
		{Position: mgl32.Vec3{-sep / 2, 0, 0}, Velocity: mgl32.Vec3{0, -v, 0}, Mass: m},
		{Position: mgl32.Vec3{sep / 2, 0, 0}, Velocity: mgl32.Vec3{0, v, 0}, Mass: m},
	}
}

func ring(n int, g physics.Gravity, _ *rand.Rand) []physics.Particle {
	const (
		central = 100
		radius  = 5
		light   = 1e-3
	)
	ps := make([]physics.Particle, 0, n)
	ps = append(ps, physics.Particle{Mass: central})
	orbiters := n - 1
	v := math32.Sqrt(g.G * central / radius)
	for i := 0; i < orbiters; i++ {
		angle := float32(i) * 2 * math32.Pi / float32(orbiters)
		s, c := math32.Sincos(angle)
		ps = append(ps, physics.Particle{
			Position: mgl32.Vec3{radius * c, radius * s, 0},
			Velocity: mgl32.Vec3{-v * s, v * c, 0},
			Mass:     light,
		})
	}
	return ps
}

func cloud(n int, _ physics.Gravity, rng *rand.Rand) []physics.Particle {
	const (
		radius = 10
		jitter = 0.05
	)
	ps := make([]physics.Particle, 0, n)
	mass := float32(1) / float32(n)
	for len(ps) < n {
		p := mgl32.Vec3{
			(2*rng.Float32() - 1) * radius,
			(2*rng.Float32() - 1) * radius,
			(2*rng.Float32() - 1) * radius,
		}
		if p.Len() > radius {
			continue
		}
		ps = append(ps, physics.Particle{
			Position: p,
			Velocity: mgl32.Vec3{
				(2*rng.Float32() - 1) * jitter,
				(2*rng.Float32() - 1) * jitter,
				(2*rng.Float32() - 1) * jitter,
			},
			Mass: mass,
		})
	}
	return ps
}
