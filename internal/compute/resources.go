package compute

import (
	"fmt"
	"log/slog"

	"github.com/san-kum/nbodyvk/internal/hal"
	"github.com/san-kum/nbodyvk/internal/physics"
)

// HostShared is the property set every engine buffer needs: the host writes
// and reads the mapping directly with no explicit flushes.
const HostShared = hal.MemoryHostVisible | hal.MemoryHostCoherent

// region is one buffer with its memory and persistent host mapping.
type region struct {
	role Role
	buf  hal.Buffer
	mem  hal.Memory
	view []byte
	size uint64
}

func (r *region) destroy() {
	if r == nil {
		return
	}
	if r.view != nil {
		r.mem.Unmap()
		r.view = nil
	}
	if r.buf != nil {
		r.buf.Destroy()
		r.buf = nil
	}
	if r.mem != nil {
		r.mem.Free()
		r.mem = nil
	}
}

// Resources owns the three engine buffers. Mappings are made once and kept
// until Destroy.
type Resources struct {
	capacity int
	params   *region
	input    *region
	output   *region
}

// FindMemoryType returns the first memory type allowed by typeBits that has
// every flag in want.
func FindMemoryType(types []hal.MemoryType, typeBits uint32, want hal.MemoryProperty) (uint32, bool) {
	for i, mt := range types {
		if i >= 32 {
			break
		}
		if typeBits&(1<<uint(i)) != 0 && mt.Flags.Has(want) {
			return uint32(i), true
		}
	}
	return 0, false
}

// AllocateResources creates the uniform, input and output buffers for
// capacity particles in memory carrying props.
func AllocateResources(d *Device, capacity int, props hal.MemoryProperty, log *slog.Logger) (*Resources, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrCapacity, capacity)
	}
	particles := uint64(capacity) * physics.ParticleSize
	r := &Resources{capacity: capacity}
	specs := []struct {
		dst  **region
		role Role
		size uint64
	}{
		{&r.params, RoleParams, ParamsSize},
		{&r.input, RoleInput, particles},
		{&r.output, RoleOutput, particles},
	}
	for _, s := range specs {
		reg, err := allocateRegion(d, s.role, s.size, props, log)
		if err != nil {
			r.Destroy()
			return nil, err
		}
		*s.dst = reg
	}
	return r, nil
}

func allocateRegion(d *Device, role Role, size uint64, props hal.MemoryProperty, log *slog.Logger) (*region, error) {
	dev := d.Handle()
	reg := &region{role: role, size: size}

	var err error
	if reg.buf, err = dev.CreateBuffer(size, role.kind().Usage()); err != nil {
		return nil, fmt.Errorf("create %s buffer: %w", role, err)
	}
	req := reg.buf.Requirements()
	typeIndex, ok := FindMemoryType(d.MemoryTypes(), req.MemoryTypeBits, props)
	if !ok {
		reg.destroy()
		return nil, fmt.Errorf("%w: %s buffer needs %s within type bits %#x", ErrNoSuitableMemoryType, role, props, req.MemoryTypeBits)
	}
	if reg.mem, err = dev.AllocateMemory(req.Size, typeIndex); err != nil {
		reg.destroy()
		return nil, fmt.Errorf("allocate %s memory: %w", role, err)
	}
	if err = reg.buf.Bind(reg.mem); err != nil {
		reg.destroy()
		return nil, fmt.Errorf("bind %s memory: %w", role, err)
	}
	if reg.view, err = reg.mem.Map(); err != nil {
		reg.destroy()
		return nil, fmt.Errorf("map %s memory: %w", role, err)
	}
	if uint64(len(reg.view)) < size {
		reg.destroy()
		return nil, fmt.Errorf("map %s memory: %d bytes mapped, need %d", role, len(reg.view), size)
	}
	reg.view = reg.view[:size]
	if log != nil {
		log.Debug("buffer allocated", "role", role, "size", size, "memory_type", typeIndex)
	}
	return reg, nil
}

func (r *Resources) Capacity() int { return r.capacity }

func (r *Resources) region(role Role) *region {
	switch role {
	case RoleParams:
		return r.params
	case RoleInput:
		return r.input
	case RoleOutput:
		return r.output
	}
	return nil
}

func (r *Resources) writeParams(p StepParameters) {
	p.Put(r.params.view)
}

func (r *Resources) readParams() StepParameters {
	return ReadStepParameters(r.params.view)
}

func (r *Resources) writeInput(ps []physics.Particle) error {
	_, err := physics.Encode(r.input.view, ps)
	return err
}

func (r *Resources) readInput(dst []physics.Particle) error {
	return physics.Decode(dst, r.input.view)
}

func (r *Resources) readOutput(dst []physics.Particle) error {
	return physics.Decode(dst, r.output.view)
}

func (r *Resources) Destroy() {
	r.output.destroy()
	r.input.destroy()
	r.params.destroy()
	r.output, r.input, r.params = nil, nil, nil
}
