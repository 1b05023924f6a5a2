//go:build cgo

package vulkan

import (
	"fmt"
	"slices"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/san-kum/nbodyvk/internal/hal"
)

type device struct {
	handle vk.Device
	phys   *physicalDevice
	queue  *queue
}

func (d *device) Queue() hal.Queue { return d.queue }

func (d *device) WaitIdle() error {
	return result("device wait idle", vk.DeviceWaitIdle(d.handle))
}

func (d *device) Destroy() {
	if d.handle == nil {
		return
	}
	vk.DestroyDevice(d.handle, nil)
	d.handle = nil
}

func descriptorType(k hal.DescriptorKind) vk.DescriptorType {
	if k == hal.DescriptorUniformBuffer {
		return vk.DescriptorTypeUniformBuffer
	}
	return vk.DescriptorTypeStorageBuffer
}

type buffer struct {
	dev    *device
	handle vk.Buffer
	size   uint64
	req    hal.MemoryRequirements
}

func (d *device) CreateBuffer(size uint64, usage hal.BufferUsage) (hal.Buffer, error) {
	var b vk.Buffer
	ret := vk.CreateBuffer(d.handle, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &b)
	if err := result("create buffer", ret); err != nil {
		return nil, err
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, b, &req)
	req.Deref()
	return &buffer{
		dev:    d,
		handle: b,
		size:   size,
		req: hal.MemoryRequirements{
			Size:           uint64(req.Size),
			Alignment:      uint64(req.Alignment),
			MemoryTypeBits: req.MemoryTypeBits,
		},
	}, nil
}

func (b *buffer) Size() uint64                         { return b.size }
func (b *buffer) Requirements() hal.MemoryRequirements { return b.req }

func (b *buffer) Bind(mem hal.Memory) error {
	m, ok := mem.(*memory)
	if !ok || m.dev != b.dev {
		return fmt.Errorf("vulkan: bind buffer to foreign memory: %w", hal.ErrValidation)
	}
	if m.size < b.req.Size {
		return fmt.Errorf("vulkan: bind %d-byte buffer to %d-byte allocation: %w", b.req.Size, m.size, hal.ErrValidation)
	}
	return result("bind buffer memory", vk.BindBufferMemory(b.dev.handle, b.handle, m.handle, 0))
}

func (b *buffer) Destroy() {
	if b.handle == vk.NullBuffer {
		return
	}
	vk.DestroyBuffer(b.dev.handle, b.handle, nil)
	b.handle = vk.NullBuffer
}

type memory struct {
	dev    *device
	handle vk.DeviceMemory
	size   uint64
	mapped bool
}

func (d *device) AllocateMemory(size uint64, memoryType uint32) (hal.Memory, error) {
	if int(memoryType) >= len(d.phys.memory) {
		return nil, fmt.Errorf("vulkan: memory type %d of %d: %w", memoryType, len(d.phys.memory), hal.ErrValidation)
	}
	var m vk.DeviceMemory
	ret := vk.AllocateMemory(d.handle, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: memoryType,
	}, nil, &m)
	if err := result("allocate memory", ret); err != nil {
		return nil, err
	}
	return &memory{dev: d, handle: m, size: size}, nil
}

func (m *memory) Map() ([]byte, error) {
	if m.mapped {
		return nil, fmt.Errorf("vulkan: memory already mapped: %w", hal.ErrMemoryMapFailed)
	}
	var data unsafe.Pointer
	ret := vk.MapMemory(m.dev.handle, m.handle, 0, vk.DeviceSize(m.size), 0, &data)
	if err := result("map memory", ret); err != nil {
		return nil, err
	}
	m.mapped = true
	return unsafe.Slice((*byte)(data), m.size), nil
}

func (m *memory) Unmap() {
	if !m.mapped {
		return
	}
	vk.UnmapMemory(m.dev.handle, m.handle)
	m.mapped = false
}

func (m *memory) Free() {
	if m.handle == vk.NullDeviceMemory {
		return
	}
	m.Unmap()
	vk.FreeMemory(m.dev.handle, m.handle, nil)
	m.handle = vk.NullDeviceMemory
}

type shaderModule struct {
	dev    *device
	handle vk.ShaderModule
}

func (d *device) CreateShaderModule(code []uint32) (hal.ShaderModule, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("vulkan: empty shader module: %w", hal.ErrInvalidShader)
	}
	var sm vk.ShaderModule
	ret := vk.CreateShaderModule(d.handle, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code) * 4),
		PCode:    code,
	}, nil, &sm)
	if err := result("create shader module", ret); err != nil {
		return nil, err
	}
	return &shaderModule{dev: d, handle: sm}, nil
}

func (s *shaderModule) Destroy() {
	if s.handle == vk.NullShaderModule {
		return
	}
	vk.DestroyShaderModule(s.dev.handle, s.handle, nil)
	s.handle = vk.NullShaderModule
}

type bindingLayout struct {
	dev      *device
	handle   vk.DescriptorSetLayout
	bindings []hal.LayoutBinding
}

func (d *device) CreateBindingLayout(bindings []hal.LayoutBinding) (hal.BindingLayout, error) {
	binds := make([]vk.DescriptorSetLayoutBinding, 0, len(bindings))
	for _, b := range bindings {
		binds = append(binds, vk.DescriptorSetLayoutBinding{
			Binding:         b.Slot,
			DescriptorType:  descriptorType(b.Kind),
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		})
	}
	var l vk.DescriptorSetLayout
	ret := vk.CreateDescriptorSetLayout(d.handle, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(binds)),
		PBindings:    binds,
	}, nil, &l)
	if err := result("create descriptor set layout", ret); err != nil {
		return nil, err
	}
	return &bindingLayout{dev: d, handle: l, bindings: slices.Clone(bindings)}, nil
}

func (l *bindingLayout) Bindings() []hal.LayoutBinding { return slices.Clone(l.bindings) }

func (l *bindingLayout) Destroy() {
	if l.handle == vk.NullDescriptorSetLayout {
		return
	}
	vk.DestroyDescriptorSetLayout(l.dev.handle, l.handle, nil)
	l.handle = vk.NullDescriptorSetLayout
}

type pipelineLayout struct {
	dev    *device
	handle vk.PipelineLayout
}

func (d *device) CreatePipelineLayout(layout hal.BindingLayout) (hal.PipelineLayout, error) {
	bl, ok := layout.(*bindingLayout)
	if !ok {
		return nil, fmt.Errorf("vulkan: foreign binding layout: %w", hal.ErrValidation)
	}
	var pl vk.PipelineLayout
	ret := vk.CreatePipelineLayout(d.handle, &vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{bl.handle},
	}, nil, &pl)
	if err := result("create pipeline layout", ret); err != nil {
		return nil, err
	}
	return &pipelineLayout{dev: d, handle: pl}, nil
}

func (l *pipelineLayout) Destroy() {
	if l.handle == vk.NullPipelineLayout {
		return
	}
	vk.DestroyPipelineLayout(l.dev.handle, l.handle, nil)
	l.handle = vk.NullPipelineLayout
}

type pipeline struct {
	dev    *device
	handle vk.Pipeline
}

func (d *device) CreateComputePipeline(layout hal.PipelineLayout, module hal.ShaderModule, entryPoint string) (hal.Pipeline, error) {
	pl, ok := layout.(*pipelineLayout)
	if !ok {
		return nil, fmt.Errorf("vulkan: foreign pipeline layout: %w", hal.ErrValidation)
	}
	sm, ok := module.(*shaderModule)
	if !ok {
		return nil, fmt.Errorf("vulkan: foreign shader module: %w", hal.ErrValidation)
	}

	var cache vk.PipelineCache
	pipelines := make([]vk.Pipeline, 1)
	ret := vk.CreateComputePipelines(d.handle, cache, 1, []vk.ComputePipelineCreateInfo{{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Layout: pl.handle,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: sm.handle,
			PName:  safeString(entryPoint),
		},
	}}, nil, pipelines)
	if err := result("create compute pipeline", ret); err != nil {
		return nil, err
	}
	return &pipeline{dev: d, handle: pipelines[0]}, nil
}

func (p *pipeline) Destroy() {
	if p.handle == vk.NullPipeline {
		return
	}
	vk.DestroyPipeline(p.dev.handle, p.handle, nil)
	p.handle = vk.NullPipeline
}

type bindingPool struct {
	dev    *device
	handle vk.DescriptorPool
}

func (d *device) CreateBindingPool(sizes []hal.PoolSize, maxSets uint32) (hal.BindingPool, error) {
	pools := make([]vk.DescriptorPoolSize, 0, len(sizes))
	for _, s := range sizes {
		pools = append(pools, vk.DescriptorPoolSize{
			Type:            descriptorType(s.Kind),
			DescriptorCount: s.Count,
		})
	}
	var p vk.DescriptorPool
	ret := vk.CreateDescriptorPool(d.handle, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(pools)),
		PPoolSizes:    pools,
	}, nil, &p)
	if err := result("create descriptor pool", ret); err != nil {
		return nil, err
	}
	return &bindingPool{dev: d, handle: p}, nil
}

func (p *bindingPool) Allocate(layout hal.BindingLayout) (hal.BindingSet, error) {
	bl, ok := layout.(*bindingLayout)
	if !ok {
		return nil, fmt.Errorf("vulkan: foreign binding layout: %w", hal.ErrValidation)
	}
	var set vk.DescriptorSet
	ret := vk.AllocateDescriptorSets(p.dev.handle, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{bl.handle},
	}, &set)
	if err := result("allocate descriptor set", ret); err != nil {
		return nil, err
	}
	return &bindingSet{dev: p.dev, handle: set}, nil
}

// Destroy frees every set allocated from the pool.
func (p *bindingPool) Destroy() {
	if p.handle == vk.NullDescriptorPool {
		return
	}
	vk.DestroyDescriptorPool(p.dev.handle, p.handle, nil)
	p.handle = vk.NullDescriptorPool
}

type bindingSet struct {
	dev    *device
	handle vk.DescriptorSet
}

func (s *bindingSet) Write(bindings []hal.BufferBinding) error {
	writes := make([]vk.WriteDescriptorSet, 0, len(bindings))
	for _, b := range bindings {
		buf, ok := b.Buffer.(*buffer)
		if !ok {
			return fmt.Errorf("vulkan: slot %d: foreign buffer: %w", b.Slot, hal.ErrValidation)
		}
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          s.handle,
			DstBinding:      b.Slot,
			DescriptorCount: 1,
			DescriptorType:  descriptorType(b.Kind),
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: buf.handle,
				Offset: 0,
				Range:  vk.DeviceSize(b.Range),
			}},
		})
	}
	if len(writes) > 0 {
		vk.UpdateDescriptorSets(s.dev.handle, uint32(len(writes)), writes, 0, nil)
	}
	return nil
}
