package hal

import "errors"

// Driver-level failures. Implementations wrap these so callers can classify
// results with errors.Is regardless of the underlying API.
var (
	ErrDeviceLost         = errors.New("hal: device lost")
	ErrTimeout            = errors.New("hal: wait timed out")
	ErrOutOfHostMemory    = errors.New("hal: out of host memory")
	ErrOutOfDeviceMemory  = errors.New("hal: out of device memory")
	ErrOutOfPoolMemory    = errors.New("hal: descriptor pool exhausted")
	ErrInvalidShader      = errors.New("hal: shader module rejected")
	ErrValidation         = errors.New("hal: validation failed")
	ErrInitialization     = errors.New("hal: initialization failed")
	ErrMemoryMapFailed    = errors.New("hal: memory map failed")
	ErrFeatureUnsupported = errors.New("hal: feature not present")
)
