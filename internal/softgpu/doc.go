// Package softgpu is an in-memory [hal.Driver].
//
// It models the parts of Vulkan the compute engine relies on closely enough
// to catch misuse: memory types and host mapping, descriptor pool capacity,
// binding slot and kind checks, command buffer states and fence signaling.
// Kernels are Go functions registered by entry point name; the built-in
// "main" kernel runs the reference N-body step from package physics.
//
// # Fault injection
//
// [Faults] makes submissions fail, loses the device on a chosen fence wait,
// stalls waits, exhausts binding pools, rejects shaders or fails
// allocations. [Driver.LiveObjects] reports objects not yet destroyed, which
// lets tests check teardown.
package softgpu
