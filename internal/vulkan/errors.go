//go:build cgo

package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/san-kum/nbodyvk/internal/hal"
)

// Extension result codes not every binding version names.
const (
	errorOutOfPoolMemory  vk.Result = -1000069000
	errorValidationFailed vk.Result = -1000011001
	errorInvalidShader    vk.Result = -1000012000
)

// result translates a VkResult into an error wrapping the matching hal
// sentinel. Success yields nil.
func result(op string, ret vk.Result) error {
	if ret == vk.Success {
		return nil
	}
	var kind error
	switch ret {
	case vk.ErrorDeviceLost:
		kind = hal.ErrDeviceLost
	case vk.Timeout, vk.NotReady:
		kind = hal.ErrTimeout
	case vk.ErrorOutOfHostMemory:
		kind = hal.ErrOutOfHostMemory
	case vk.ErrorOutOfDeviceMemory, vk.ErrorTooManyObjects:
		kind = hal.ErrOutOfDeviceMemory
	case errorOutOfPoolMemory, vk.ErrorFragmentedPool:
		kind = hal.ErrOutOfPoolMemory
	case errorInvalidShader:
		kind = hal.ErrInvalidShader
	case errorValidationFailed:
		kind = hal.ErrValidation
	case vk.ErrorInitializationFailed, vk.ErrorIncompatibleDriver, vk.ErrorLayerNotPresent, vk.ErrorExtensionNotPresent:
		kind = hal.ErrInitialization
	case vk.ErrorMemoryMapFailed:
		kind = hal.ErrMemoryMapFailed
	case vk.ErrorFeatureNotPresent:
		kind = hal.ErrFeatureUnsupported
	default:
		return fmt.Errorf("vulkan: %s: %w (%d)", op, vk.Error(ret), ret)
	}
	return fmt.Errorf("vulkan: %s: %w (%d)", op, kind, ret)
}
