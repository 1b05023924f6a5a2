package hal

import "strings"

// QueueFlags mirror VkQueueFlagBits.
type QueueFlags uint32

const (
	QueueGraphics QueueFlags = 1 << iota
	QueueCompute
	QueueTransfer
	QueueSparseBinding
)

func (f QueueFlags) Has(want QueueFlags) bool { return f&want == want }

func (f QueueFlags) String() string {
	var parts []string
	if f.Has(QueueGraphics) {
		parts = append(parts, "graphics")
	}
	if f.Has(QueueCompute) {
		parts = append(parts, "compute")
	}
	if f.Has(QueueTransfer) {
		parts = append(parts, "transfer")
	}
	if f.Has(QueueSparseBinding) {
		parts = append(parts, "sparse")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// MemoryProperty mirrors VkMemoryPropertyFlagBits.
type MemoryProperty uint32

const (
	MemoryDeviceLocal MemoryProperty = 1 << iota
	MemoryHostVisible
	MemoryHostCoherent
	MemoryHostCached
	MemoryLazilyAllocated
	MemoryProtected
)

func (p MemoryProperty) Has(want MemoryProperty) bool { return p&want == want }

func (p MemoryProperty) String() string {
	names := []struct {
		bit  MemoryProperty
		name string
	}{
		{MemoryDeviceLocal, "device-local"},
		{MemoryHostVisible, "host-visible"},
		{MemoryHostCoherent, "host-coherent"},
		{MemoryHostCached, "host-cached"},
		{MemoryLazilyAllocated, "lazy"},
		{MemoryProtected, "protected"},
	}
	var parts []string
	for _, n := range names {
		if p.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// BufferUsage is a subset of VkBufferUsageFlagBits.
type BufferUsage uint32

const (
	BufferTransferSrc BufferUsage = 1 << 0
	BufferTransferDst BufferUsage = 1 << 1
	BufferUniform     BufferUsage = 1 << 4
	BufferStorage     BufferUsage = 1 << 5
)

type DescriptorKind int

const (
	DescriptorUniformBuffer DescriptorKind = iota
	DescriptorStorageBuffer
)

func (k DescriptorKind) String() string {
	switch k {
	case DescriptorUniformBuffer:
		return "uniform"
	case DescriptorStorageBuffer:
		return "storage"
	default:
		return "unknown"
	}
}

// Usage returns the buffer usage a buffer bound as this kind needs.
func (k DescriptorKind) Usage() BufferUsage {
	if k == DescriptorUniformBuffer {
		return BufferUniform
	}
	return BufferStorage
}
