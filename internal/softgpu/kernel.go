package softgpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/san-kum/nbodyvk/internal/hal"
	"github.com/san-kum/nbodyvk/internal/physics"
	"github.com/san-kum/nbodyvk/internal/spirv"
)

const (
	BuiltinEntryPoint = "main"
	BuiltinLocalSize  = 64
)

// Kernel runs one dispatch against the bound buffers.
type Kernel func(inv Invocation) error

type slotData struct {
	kind hal.DescriptorKind
	data []byte
}

type Invocation struct {
	Groups    [3]uint32
	LocalSize [3]uint32

	bindings map[uint32]slotData
}

// Threads is the number of invocations the dispatch launches.
func (inv Invocation) Threads() uint64 {
	n := uint64(1)
	for i := 0; i < 3; i++ {
		n *= uint64(inv.Groups[i]) * uint64(inv.LocalSize[i])
	}
	return n
}

// Buffer returns the memory bound at slot. Reading a slot that is missing or
// bound as another kind fails validation.
func (inv Invocation) Buffer(slot uint32, kind hal.DescriptorKind) ([]byte, error) {
	b, ok := inv.bindings[slot]
	if !ok {
		return nil, fmt.Errorf("%w: kernel reads unbound slot %d", hal.ErrValidation, slot)
	}
	if b.kind != kind {
		return nil, fmt.Errorf("%w: kernel reads slot %d as %s, bound as %s", hal.ErrValidation, slot, kind, b.kind)
	}
	return b.data, nil
}

// NBodyKernel is the semi-implicit Euler step over
//
//	slot 0  uniform { uint32 particle_count; float32 dt }
//	slot 1  storage particle out[]
//	slot 2  storage particle in[]
//
// Invocations past particle_count do nothing, as do particles the launched
// grid does not cover.
func NBodyKernel(g physics.Gravity) Kernel {
	return func(inv Invocation) error {
		params, err := inv.Buffer(0, hal.DescriptorUniformBuffer)
		if err != nil {
			return err
		}
		out, err := inv.Buffer(1, hal.DescriptorStorageBuffer)
		if err != nil {
			return err
		}
		in, err := inv.Buffer(2, hal.DescriptorStorageBuffer)
		if err != nil {
			return err
		}
		if len(params) < 8 {
			return fmt.Errorf("%w: uniform block is %d bytes", hal.ErrValidation, len(params))
		}
		count := int(binary.LittleEndian.Uint32(params))
		dt := math.Float32frombits(binary.LittleEndian.Uint32(params[4:]))
		need := count * physics.ParticleSize
		if len(in) < need || len(out) < need {
			return fmt.Errorf("%w: %d particles exceed bound storage (in %d, out %d bytes)",
				hal.ErrValidation, count, len(in), len(out))
		}

		src := make([]physics.Particle, count)
		if err := physics.Decode(src, in); err != nil {
			return err
		}
		hi := count
		if t := inv.Threads(); t < uint64(hi) {
			hi = int(t)
		}
		dst := make([]physics.Particle, hi)
		g.StepRange(dst, src, dt, 0, hi)
		_, err = physics.Encode(out, dst)
		return err
	}
}

// BuiltinKernel returns a SPIR-V interface module for the built-in kernel.
// Only the software driver can execute it.
func BuiltinKernel() []byte {
	return spirv.NewBuilder().
		EntryPoint(BuiltinEntryPoint, [3]uint32{BuiltinLocalSize, 1, 1}).
		Uniform("params", 0, 0).
		Storage("particles_out", 0, 1).
		Storage("particles_in", 0, 2).
		Bytes()
}
