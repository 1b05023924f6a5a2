// Package vulkan implements hal.Driver on top of github.com/goki/vulkan.
//
// The driver needs cgo and a Vulkan loader at run time. Builds without cgo
// get a stub whose Open always fails with ErrUnavailable, so callers can fall
// back to the software driver or the CPU backend.
package vulkan
