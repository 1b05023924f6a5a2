package compute

import (
	"encoding/binary"
	"math"
)

const (
	// MaxParticleCount is the default engine capacity.
	MaxParticleCount = 1024

	// ParamsSize is the uniform block size: uint32 particle_count, float32 dt.
	ParamsSize = 8

	DefaultEntryPoint = "main"
	DefaultLocalSize  = 64
)

// StepParameters is the uniform block the kernel reads for one dispatch.
type StepParameters struct {
	ParticleCount uint32
	DT            float32
}

func (p StepParameters) Put(b []byte) {
	binary.LittleEndian.PutUint32(b, p.ParticleCount)
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(p.DT))
}

func ReadStepParameters(b []byte) StepParameters {
	return StepParameters{
		ParticleCount: binary.LittleEndian.Uint32(b),
		DT:            math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
	}
}

// WorkgroupCount is the number of workgroups covering count invocations.
func WorkgroupCount(count, localSize uint32) uint32 {
	if localSize == 0 {
		localSize = 1
	}
	return uint32((uint64(count) + uint64(localSize) - 1) / uint64(localSize))
}
