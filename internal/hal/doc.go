// Package hal defines the device abstraction the compute engine is written
// against.
//
// The interfaces follow the Vulkan object model closely: a [Driver] exposes
// [PhysicalDevice] values, a physical device creates a logical [Device] with a
// single [Queue], and the device creates buffers, memory, pipelines, binding
// sets, command buffers and fences. Every object that owns driver resources
// has a Destroy (or Free) method; callers destroy objects in reverse order of
// creation.
//
// Two implementations exist:
//
//   - internal/vulkan: Vulkan through github.com/goki/vulkan
//   - internal/softgpu: an in-memory device for tests and GPU-less hosts
package hal
