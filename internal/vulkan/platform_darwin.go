//go:build cgo && darwin

package vulkan

import vk "github.com/goki/vulkan"

// MoltenVK only shows up when the instance opts into portability enumeration.
var (
	instanceExtensions = []string{
		vk.KhrPortabilityEnumerationExtensionName,
		vk.KhrGetPhysicalDeviceProperties2ExtensionName,
	}
	instanceFlags    = vk.InstanceCreateFlags(0x00000001)
	deviceExtensions = []string{"VK_KHR_portability_subset"}
)
