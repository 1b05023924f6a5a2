package compute

import (
	"fmt"
	"log/slog"

	"github.com/san-kum/nbodyvk/internal/hal"
)

// AnyDevice selects the first physical device with a compute queue.
const AnyDevice = -1

// Device is the logical device and the single compute queue every other
// component uses. Only Device creates or destroys the device handle.
type Device struct {
	physical hal.PhysicalDevice
	props    hal.DeviceProperties
	family   uint32
	memTypes []hal.MemoryType
	dev      hal.Device
	queue    hal.Queue
	log      *slog.Logger
}

// ComputeFamily returns the first queue family with compute support.
func ComputeFamily(pd hal.PhysicalDevice) (uint32, bool) {
	for i, qf := range pd.QueueFamilies() {
		if qf.Count > 0 && qf.Flags.Has(hal.QueueCompute) {
			return uint32(i), true
		}
	}
	return 0, false
}

// OpenDevice picks a physical device and creates one queue from its first
// compute family. index selects a device by enumeration order; AnyDevice
// takes the first that has a compute family. No scoring is applied.
func OpenDevice(drv hal.Driver, index int, log *slog.Logger) (*Device, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	pds, err := drv.PhysicalDevices()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate: %w", ErrNoComputeDevice, err)
	}
	if len(pds) == 0 {
		return nil, ErrNoComputeDevice
	}

	var (
		chosen hal.PhysicalDevice
		family uint32
	)
	switch {
	case index == AnyDevice:
		for _, pd := range pds {
			if f, ok := ComputeFamily(pd); ok {
				chosen, family = pd, f
				break
			}
		}
		if chosen == nil {
			return nil, fmt.Errorf("%w: %d devices enumerated", ErrNoComputeDevice, len(pds))
		}
	case index < 0 || index >= len(pds):
		return nil, fmt.Errorf("%w: device index %d out of range (%d devices)", ErrNoComputeDevice, index, len(pds))
	default:
		f, ok := ComputeFamily(pds[index])
		if !ok {
			return nil, fmt.Errorf("%w: device %d has no compute queue", ErrNoComputeDevice, index)
		}
		chosen, family = pds[index], f
	}

	props := chosen.Properties()
	dev, err := chosen.CreateDevice(family)
	if err != nil {
		return nil, fmt.Errorf("create device %q: %w", props.Name, err)
	}
	log.Info("device opened", "driver", drv.Name(), "device", props.Name, "type", props.Type, "family", family)
	return &Device{
		physical: chosen,
		props:    props,
		family:   family,
		memTypes: chosen.MemoryTypes(),
		dev:      dev,
		queue:    dev.Queue(),
		log:      log,
	}, nil
}

func (d *Device) Properties() hal.DeviceProperties { return d.props }
func (d *Device) Family() uint32                   { return d.family }
func (d *Device) Queue() hal.Queue                 { return d.queue }
func (d *Device) MemoryTypes() []hal.MemoryType    { return d.memTypes }

// Handle exposes the logical device to the other engine components.
func (d *Device) Handle() hal.Device { return d.dev }

func (d *Device) Close() {
	if d.dev == nil {
		return
	}
	d.dev.Destroy()
	d.dev = nil
	d.queue = nil
}

// DeviceInfo summarizes a physical device for listing.
type DeviceInfo struct {
	Index         int
	Properties    hal.DeviceProperties
	QueueFamilies []hal.QueueFamily
	MemoryTypes   []hal.MemoryType
	ComputeFamily int
}

func ListDevices(drv hal.Driver) ([]DeviceInfo, error) {
	pds, err := drv.PhysicalDevices()
	if err != nil {
		return nil, err
	}
	out := make([]DeviceInfo, len(pds))
	for i, pd := range pds {
		info := DeviceInfo{
			Index:         i,
			Properties:    pd.Properties(),
			QueueFamilies: pd.QueueFamilies(),
			MemoryTypes:   pd.MemoryTypes(),
			ComputeFamily: -1,
		}
		if f, ok := ComputeFamily(pd); ok {
			info.ComputeFamily = int(f)
		}
		out[i] = info
	}
	return out, nil
}
