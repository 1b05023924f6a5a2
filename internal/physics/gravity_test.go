package physics

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func twoBody() []Particle {
	return []Particle{
		{Mass: 1000},
		{Position: mgl32.Vec3{10, 0, 0}, Mass: 1},
	}
}

func TestZeroTimeStep(t *testing.T) {
	src := twoBody()
	src[1].Velocity = mgl32.Vec3{0, 3, 0}
	dst := make([]Particle, len(src))

	DefaultGravity().Step(dst, src, 0)

	for i := range src {
		if dst[i] != src[i] {
			t.Errorf("particle %d changed with dt=0: %+v -> %+v", i, src[i], dst[i])
		}
	}
}

func TestAttractionAccelerates(t *testing.T) {
	g := DefaultGravity()
	s0 := twoBody()
	s1 := make([]Particle, 2)
	s2 := make([]Particle, 2)

	g.Step(s1, s0, 0.1)
	g.Step(s2, s1, 0.1)

	if s1[1].Velocity[0] >= 0 {
		t.Fatalf("light body should move toward the heavy one, vx=%f", s1[1].Velocity[0])
	}
	if s2[1].Speed() <= s1[1].Speed() {
		t.Errorf("speed should grow: step1=%f step2=%f", s1[1].Speed(), s2[1].Speed())
	}
	for _, s := range [][]Particle{s1, s2} {
		if s[0].Mass != 1000 || s[1].Mass != 1 {
			t.Errorf("mass changed: %+v", s)
		}
	}
}

func TestStepRangeMatchesStep(t *testing.T) {
	g := Gravity{G: 2, Softening: 0.05}
	src := make([]Particle, 37)
	for i := range src {
		f := float32(i)
		src[i] = Particle{
			Position: mgl32.Vec3{f, f * 0.5, -f},
			Velocity: mgl32.Vec3{0.1 * f, 0, 0},
			Mass:     1 + f*0.01,
		}
	}
	whole := make([]Particle, len(src))
	g.Step(whole, src, 0.01)

	chunked := make([]Particle, len(src))
	for lo := 0; lo < len(src); lo += 8 {
		g.StepRange(chunked, src, 0.01, lo, min(lo+8, len(src)))
	}
	for i := range whole {
		if whole[i] != chunked[i] {
			t.Fatalf("particle %d differs: %+v vs %+v", i, whole[i], chunked[i])
		}
	}
}

func TestMasslessParticlesExertNoForce(t *testing.T) {
	g := DefaultGravity()
	ps := []Particle{
		{Position: mgl32.Vec3{0, 0, 0}, Mass: 1},
		{Position: mgl32.Vec3{1, 0, 0}, Mass: 0},
	}
	if a := g.Acceleration(ps, 0); a != (mgl32.Vec3{}) {
		t.Errorf("massless neighbour accelerated particle: %v", a)
	}
	if a := g.Acceleration(ps, 1); a[0] >= 0 {
		t.Errorf("massless particle should fall toward mass: %v", a)
	}
}

func TestVerletConservesEnergy(t *testing.T) {
	g := Gravity{G: 1, Softening: 0}
	// circular orbit: v = sqrt(G*M/r)
	ps := []Particle{
		{Mass: 1},
		{Position: mgl32.Vec3{1, 0, 0}, Velocity: mgl32.Vec3{0, 1, 0}, Mass: 1e-6},
	}
	e0 := g.Energy(ps)

	var acc []mgl32.Vec3
	for i := 0; i < 1000; i++ {
		acc = g.StepVerlet(ps, acc, 0.001)
	}
	if drift := math.Abs((g.Energy(ps) - e0) / e0); drift > 1e-3 {
		t.Errorf("energy drift %g too large", drift)
	}
}

func TestMomentumAndCenterOfMass(t *testing.T) {
	ps := []Particle{
		{Position: mgl32.Vec3{-1, 0, 0}, Velocity: mgl32.Vec3{0, 1, 0}, Mass: 2},
		{Position: mgl32.Vec3{2, 0, 0}, Velocity: mgl32.Vec3{0, -2, 0}, Mass: 1},
	}
	if p := Momentum(ps); p.Len() > 1e-12 {
		t.Errorf("expected zero momentum, got %v", p)
	}
	if c := CenterOfMass(ps); c.Len() > 1e-12 {
		t.Errorf("expected centre at origin, got %v", c)
	}
	if c := CenterOfMass(make([]Particle, 3)); c.Len() != 0 {
		t.Errorf("massless system centre should be zero, got %v", c)
	}
}

func TestEncodeDecode(t *testing.T) {
	ps := []Particle{
		{Position: mgl32.Vec3{1, 2, 3}, Velocity: mgl32.Vec3{4, 5, 6}, Mass: 7},
		{Position: mgl32.Vec3{-1, float32(math.Inf(1)), 0}, Mass: 0.5},
	}
	buf := make([]byte, len(ps)*ParticleSize)
	n, err := Encode(buf, ps)
	if err != nil || n != 56 {
		t.Fatalf("Encode = %d, %v", n, err)
	}
	// mass of the first particle is the seventh float
	if got := math.Float32frombits(uint32(buf[24]) | uint32(buf[25])<<8 | uint32(buf[26])<<16 | uint32(buf[27])<<24); got != 7 {
		t.Errorf("mass at offset 24 = %f", got)
	}

	out := make([]Particle, 2)
	if err := Decode(out, buf); err != nil {
		t.Fatal(err)
	}
	if out[0] != ps[0] || out[1] != ps[1] {
		t.Errorf("decoded %+v", out)
	}
	if CheckFinite(out) != 1 {
		t.Errorf("expected particle 1 to be non-finite")
	}

	if _, err := Encode(buf[:10], ps); err == nil {
		t.Error("expected short buffer error")
	}
	if err := Decode(out, buf[:27]); err == nil {
		t.Error("expected short source error")
	}
}
