package hal

import "time"

// Driver enumerates the physical devices of one graphics/compute API.
type Driver interface {
	Name() string
	PhysicalDevices() ([]PhysicalDevice, error)
	Close()
}

type DeviceType int

const (
	DeviceTypeOther DeviceType = iota
	DeviceTypeIntegrated
	DeviceTypeDiscrete
	DeviceTypeVirtual
	DeviceTypeCPU
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeIntegrated:
		return "integrated"
	case DeviceTypeDiscrete:
		return "discrete"
	case DeviceTypeVirtual:
		return "virtual"
	case DeviceTypeCPU:
		return "cpu"
	default:
		return "other"
	}
}

type DeviceProperties struct {
	Name              string
	Type              DeviceType
	APIVersion        uint32
	MaxWorkGroupCount [3]uint32
	MaxWorkGroupSize  [3]uint32
}

type QueueFamily struct {
	Flags QueueFlags
	Count uint32
}

type MemoryType struct {
	Flags     MemoryProperty
	HeapIndex uint32
}

type PhysicalDevice interface {
	Properties() DeviceProperties
	QueueFamilies() []QueueFamily
	MemoryTypes() []MemoryType
	// CreateDevice creates a logical device with exactly one queue taken
	// from the given family.
	CreateDevice(family uint32) (Device, error)
}

type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

type Device interface {
	Queue() Queue

	CreateBuffer(size uint64, usage BufferUsage) (Buffer, error)
	AllocateMemory(size uint64, memoryType uint32) (Memory, error)

	CreateShaderModule(code []uint32) (ShaderModule, error)
	CreateBindingLayout(bindings []LayoutBinding) (BindingLayout, error)
	CreatePipelineLayout(layout BindingLayout) (PipelineLayout, error)
	CreateComputePipeline(layout PipelineLayout, module ShaderModule, entryPoint string) (Pipeline, error)
	CreateBindingPool(sizes []PoolSize, maxSets uint32) (BindingPool, error)

	CreateCommandPool(family uint32) (CommandPool, error)
	CreateFence() (Fence, error)

	WaitIdle() error
	Destroy()
}

type Buffer interface {
	Size() uint64
	Requirements() MemoryRequirements
	Bind(mem Memory) error
	Destroy()
}

type Memory interface {
	// Map returns a host view of the whole allocation. The slice stays valid
	// until Unmap.
	Map() ([]byte, error)
	Unmap()
	Free()
}

type ShaderModule interface {
	Destroy()
}

type LayoutBinding struct {
	Slot uint32
	Kind DescriptorKind
}

type BindingLayout interface {
	Bindings() []LayoutBinding
	Destroy()
}

type PipelineLayout interface {
	Destroy()
}

type Pipeline interface {
	Destroy()
}

type PoolSize struct {
	Kind  DescriptorKind
	Count uint32
}

type BindingPool interface {
	Allocate(layout BindingLayout) (BindingSet, error)
	Destroy()
}

type BufferBinding struct {
	Slot   uint32
	Kind   DescriptorKind
	Buffer Buffer
	Range  uint64
}

type BindingSet interface {
	Write(bindings []BufferBinding) error
}

type CommandPool interface {
	Allocate() (CommandBuffer, error)
	Destroy()
}

type CommandBuffer interface {
	// Reset returns the buffer to the initial state so it can be recorded
	// again.
	Reset() error
	Begin() error
	BindPipeline(p Pipeline)
	BindSet(layout PipelineLayout, set BindingSet)
	Dispatch(x, y, z uint32)
	End() error
}

type Queue interface {
	Submit(cmd CommandBuffer, fence Fence) error
	WaitIdle() error
}

type Fence interface {
	// Wait blocks until the fence is signaled or timeout elapses, in which
	// case ErrTimeout is returned.
	Wait(timeout time.Duration) error
	Reset() error
	Destroy()
}
