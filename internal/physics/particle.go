package physics

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// ParticleSize is the packed size of one particle record: seven float32
// values, position then velocity then mass.
const ParticleSize = 7 * 4

type Particle struct {
	Position mgl32.Vec3
	Velocity mgl32.Vec3
	Mass     float32
}

func (p Particle) Speed() float32 { return p.Velocity.Len() }

func (p Particle) Finite() bool {
	for _, v := range p.floats() {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (p Particle) floats() [7]float32 {
	return [7]float32{
		p.Position[0], p.Position[1], p.Position[2],
		p.Velocity[0], p.Velocity[1], p.Velocity[2],
		p.Mass,
	}
}

// Put encodes p little-endian into b, which must hold ParticleSize bytes.
func (p Particle) Put(b []byte) {
	for i, v := range p.floats() {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
}

func ReadParticle(b []byte) Particle {
	var f [7]float32
	for i := range f {
		f[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return Particle{
		Position: mgl32.Vec3{f[0], f[1], f[2]},
		Velocity: mgl32.Vec3{f[3], f[4], f[5]},
		Mass:     f[6],
	}
}

// Encode packs ps into dst and returns the number of bytes written.
func Encode(dst []byte, ps []Particle) (int, error) {
	need := len(ps) * ParticleSize
	if len(dst) < need {
		return 0, fmt.Errorf("physics: encode %d particles into %d bytes", len(ps), len(dst))
	}
	for i, p := range ps {
		p.Put(dst[i*ParticleSize:])
	}
	return need, nil
}

// Decode unpacks len(dst) particles from src.
func Decode(dst []Particle, src []byte) error {
	if len(src) < len(dst)*ParticleSize {
		return fmt.Errorf("physics: decode %d particles from %d bytes", len(dst), len(src))
	}
	for i := range dst {
		dst[i] = ReadParticle(src[i*ParticleSize:])
	}
	return nil
}

// CheckFinite returns the index of the first particle holding a NaN or an
// infinity, or -1.
func CheckFinite(ps []Particle) int {
	for i, p := range ps {
		if !p.Finite() {
			return i
		}
	}
	return -1
}
