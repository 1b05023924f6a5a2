//go:build !cgo

package vulkan

import (
	"fmt"

	"github.com/san-kum/nbodyvk/internal/hal"
)

type Driver struct{}

func Open(opts Options) (*Driver, error) {
	opts.logger().Debug("vulkan driver not compiled in")
	return nil, fmt.Errorf("%w: built without cgo: %w", ErrUnavailable, hal.ErrInitialization)
}

func (d *Driver) Name() string { return "vulkan" }

func (d *Driver) PhysicalDevices() ([]hal.PhysicalDevice, error) {
	return nil, ErrUnavailable
}

func (d *Driver) Close() {}
