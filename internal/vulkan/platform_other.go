//go:build cgo && !darwin

package vulkan

import vk "github.com/goki/vulkan"

var (
	instanceExtensions []string
	instanceFlags      vk.InstanceCreateFlags
	deviceExtensions   []string
)
