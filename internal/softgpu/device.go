package softgpu

import (
	"fmt"
	"sync"

	"github.com/san-kum/nbodyvk/internal/hal"
	"github.com/san-kum/nbodyvk/internal/spirv"
)

const bufferAlignment = 16

type device struct {
	drv    *Driver
	spec   DeviceSpec
	family uint32
	queue  *queue

	mu        sync.Mutex
	lost      bool
	destroyed bool
}

func (d *device) isLost() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

func (d *device) lose() {
	d.mu.Lock()
	d.lost = true
	d.mu.Unlock()
}

func (d *device) Queue() hal.Queue { return d.queue }

func (d *device) CreateBuffer(size uint64, usage hal.BufferUsage) (hal.Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: zero-sized buffer", hal.ErrValidation)
	}
	d.drv.created()
	return &buffer{dev: d, size: size, usage: usage}, nil
}

func (d *device) AllocateMemory(size uint64, memoryType uint32) (hal.Memory, error) {
	if d.isLost() {
		return nil, hal.ErrDeviceLost
	}
	if int(memoryType) >= len(d.spec.MemoryTypes) {
		return nil, fmt.Errorf("%w: memory type %d", hal.ErrValidation, memoryType)
	}
	if d.drv.faults().OutOfDeviceMemory || (d.spec.MaxAllocation > 0 && size > d.spec.MaxAllocation) {
		return nil, fmt.Errorf("%w: %d bytes", hal.ErrOutOfDeviceMemory, size)
	}
	d.drv.created()
	return &memory{dev: d, data: make([]byte, size), flags: d.spec.MemoryTypes[memoryType].Flags}, nil
}

func (d *device) CreateShaderModule(code []uint32) (hal.ShaderModule, error) {
	if d.drv.faults().RejectShaders {
		return nil, hal.ErrInvalidShader
	}
	m, err := spirv.ParseWords(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hal.ErrInvalidShader, err)
	}
	d.drv.created()
	return &shaderModule{dev: d, mod: m}, nil
}

func (d *device) CreateBindingLayout(bindings []hal.LayoutBinding) (hal.BindingLayout, error) {
	seen := map[uint32]bool{}
	for _, b := range bindings {
		if seen[b.Slot] {
			return nil, fmt.Errorf("%w: slot %d declared twice", hal.ErrValidation, b.Slot)
		}
		seen[b.Slot] = true
	}
	d.drv.created()
	return &bindingLayout{dev: d, bindings: append([]hal.LayoutBinding(nil), bindings...)}, nil
}

func (d *device) CreatePipelineLayout(layout hal.BindingLayout) (hal.PipelineLayout, error) {
	bl, ok := layout.(*bindingLayout)
	if !ok {
		return nil, fmt.Errorf("%w: foreign binding layout", hal.ErrValidation)
	}
	d.drv.created()
	return &pipelineLayout{dev: d, set: bl}, nil
}

func (d *device) CreateComputePipeline(layout hal.PipelineLayout, module hal.ShaderModule, entryPoint string) (hal.Pipeline, error) {
	pl, ok := layout.(*pipelineLayout)
	if !ok {
		return nil, fmt.Errorf("%w: foreign pipeline layout", hal.ErrValidation)
	}
	sm, ok := module.(*shaderModule)
	if !ok {
		return nil, fmt.Errorf("%w: foreign shader module", hal.ErrValidation)
	}
	ep, ok := sm.mod.EntryPoint(entryPoint)
	if !ok || ep.Model != spirv.ModelGLCompute {
		return nil, fmt.Errorf("%w: no compute entry point %q", hal.ErrInvalidShader, entryPoint)
	}
	for _, b := range sm.mod.BindingsInSet(0) {
		kind, declared := pl.set.kind(b.Slot)
		if !declared {
			return nil, fmt.Errorf("%w: shader uses slot %d missing from layout", hal.ErrValidation, b.Slot)
		}
		if (kind == hal.DescriptorStorageBuffer) != b.IsStorage() {
			return nil, fmt.Errorf("%w: slot %d is %s in layout", hal.ErrValidation, b.Slot, kind)
		}
	}
	k, ok := d.drv.kernel(entryPoint)
	if !ok {
		return nil, fmt.Errorf("%w: no kernel registered for %q", hal.ErrInvalidShader, entryPoint)
	}
	local := ep.LocalSize
	for i := range local {
		if local[i] == 0 {
			local[i] = 1
		}
	}
	d.drv.created()
	return &pipeline{dev: d, layout: pl, kernel: k, localSize: local}, nil
}

func (d *device) CreateBindingPool(sizes []hal.PoolSize, maxSets uint32) (hal.BindingPool, error) {
	free := map[hal.DescriptorKind]uint32{}
	for _, s := range sizes {
		free[s.Kind] += s.Count
	}
	d.drv.created()
	return &bindingPool{dev: d, free: free, sets: maxSets}, nil
}

func (d *device) CreateCommandPool(family uint32) (hal.CommandPool, error) {
	if family != d.family {
		return nil, fmt.Errorf("%w: device has no queue in family %d", hal.ErrValidation, family)
	}
	d.drv.created()
	return &commandPool{dev: d}, nil
}

func (d *device) CreateFence() (hal.Fence, error) {
	d.drv.created()
	return &fence{dev: d}, nil
}

func (d *device) WaitIdle() error {
	if d.isLost() {
		return hal.ErrDeviceLost
	}
	return nil
}

func (d *device) Destroy() {
	d.mu.Lock()
	done := d.destroyed
	d.destroyed = true
	d.mu.Unlock()
	if !done {
		d.drv.destroyed()
	}
}

// handle tracks the destroyed flag shared by every device object.
type handle struct {
	gone bool
}

func (h *handle) release(d *device) {
	if h.gone {
		return
	}
	h.gone = true
	d.drv.destroyed()
}

type buffer struct {
	handle
	dev   *device
	size  uint64
	usage hal.BufferUsage
	mem   *memory
}

func (b *buffer) Size() uint64 { return b.size }

func (b *buffer) Requirements() hal.MemoryRequirements {
	bits := b.dev.spec.MemoryTypeBits
	if bits == 0 {
		bits = 1<<len(b.dev.spec.MemoryTypes) - 1
	}
	return hal.MemoryRequirements{
		Size:           (b.size + bufferAlignment - 1) &^ (bufferAlignment - 1),
		Alignment:      bufferAlignment,
		MemoryTypeBits: bits,
	}
}

func (b *buffer) Bind(mem hal.Memory) error {
	m, ok := mem.(*memory)
	if !ok || m.dev != b.dev {
		return fmt.Errorf("%w: memory from another device", hal.ErrValidation)
	}
	if b.mem != nil {
		return fmt.Errorf("%w: buffer already bound", hal.ErrValidation)
	}
	if uint64(len(m.data)) < b.Requirements().Size {
		return fmt.Errorf("%w: allocation of %d bytes too small for %d", hal.ErrValidation, len(m.data), b.Requirements().Size)
	}
	b.mem = m
	return nil
}

// bytes returns the buffer's view of its backing memory.
func (b *buffer) bytes() []byte {
	if b.mem == nil {
		return nil
	}
	return b.mem.data[:b.size]
}

func (b *buffer) Destroy() { b.release(b.dev) }

type memory struct {
	handle
	dev    *device
	data   []byte
	flags  hal.MemoryProperty
	mapped bool
}

func (m *memory) Map() ([]byte, error) {
	if !m.flags.Has(hal.MemoryHostVisible) {
		return nil, fmt.Errorf("%w: memory is not host visible", hal.ErrMemoryMapFailed)
	}
	if m.mapped {
		return nil, fmt.Errorf("%w: already mapped", hal.ErrMemoryMapFailed)
	}
	m.mapped = true
	return m.data, nil
}

func (m *memory) Unmap() { m.mapped = false }

func (m *memory) Free() { m.release(m.dev) }

type shaderModule struct {
	handle
	dev *device
	mod *spirv.Module
}

func (s *shaderModule) Destroy() { s.release(s.dev) }

type bindingLayout struct {
	handle
	dev      *device
	bindings []hal.LayoutBinding
}

func (l *bindingLayout) Bindings() []hal.LayoutBinding {
	return append([]hal.LayoutBinding(nil), l.bindings...)
}

func (l *bindingLayout) kind(slot uint32) (hal.DescriptorKind, bool) {
	for _, b := range l.bindings {
		if b.Slot == slot {
			return b.Kind, true
		}
	}
	return 0, false
}

func (l *bindingLayout) Destroy() { l.release(l.dev) }

type pipelineLayout struct {
	handle
	dev *device
	set *bindingLayout
}

func (l *pipelineLayout) Destroy() { l.release(l.dev) }

type pipeline struct {
	handle
	dev       *device
	layout    *pipelineLayout
	kernel    Kernel
	localSize [3]uint32
}

func (p *pipeline) Destroy() { p.release(p.dev) }

type bindingPool struct {
	handle
	dev  *device
	free map[hal.DescriptorKind]uint32
	sets uint32
}

func (p *bindingPool) Allocate(layout hal.BindingLayout) (hal.BindingSet, error) {
	bl, ok := layout.(*bindingLayout)
	if !ok {
		return nil, fmt.Errorf("%w: foreign binding layout", hal.ErrValidation)
	}
	if p.dev.drv.faults().ExhaustBindingPools || p.sets == 0 {
		return nil, hal.ErrOutOfPoolMemory
	}
	need := map[hal.DescriptorKind]uint32{}
	for _, b := range bl.bindings {
		need[b.Kind]++
	}
	for kind, n := range need {
		if p.free[kind] < n {
			return nil, fmt.Errorf("%w: %d %s descriptors left, %d needed", hal.ErrOutOfPoolMemory, p.free[kind], kind, n)
		}
	}
	for kind, n := range need {
		p.free[kind] -= n
	}
	p.sets--
	return &bindingSet{layout: bl, bound: map[uint32]hal.BufferBinding{}}, nil
}

func (p *bindingPool) Destroy() { p.release(p.dev) }

type bindingSet struct {
	layout *bindingLayout
	bound  map[uint32]hal.BufferBinding
}

func (s *bindingSet) Write(bindings []hal.BufferBinding) error {
	for _, b := range bindings {
		kind, ok := s.layout.kind(b.Slot)
		if !ok {
			return fmt.Errorf("%w: slot %d not in layout", hal.ErrValidation, b.Slot)
		}
		if kind != b.Kind {
			return fmt.Errorf("%w: slot %d is %s, written as %s", hal.ErrValidation, b.Slot, kind, b.Kind)
		}
		buf, ok := b.Buffer.(*buffer)
		if !ok {
			return fmt.Errorf("%w: foreign buffer at slot %d", hal.ErrValidation, b.Slot)
		}
		if buf.usage&kind.Usage() == 0 {
			return fmt.Errorf("%w: buffer at slot %d lacks %s usage", hal.ErrValidation, b.Slot, kind)
		}
		s.bound[b.Slot] = b
	}
	return nil
}
