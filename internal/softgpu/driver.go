package softgpu

import (
	"fmt"
	"sync"

	"github.com/san-kum/nbodyvk/internal/hal"
	"github.com/san-kum/nbodyvk/internal/physics"
)

type DeviceSpec struct {
	Name        string
	Type        hal.DeviceType
	Families    []hal.QueueFamily
	MemoryTypes []hal.MemoryType
	// MemoryTypeBits restricts the memory types buffers accept. Zero means
	// every type.
	MemoryTypeBits uint32
	// MaxAllocation caps a single allocation. Zero means unlimited.
	MaxAllocation uint64
}

// DefaultDeviceSpec describes a device with one universal queue family,
// a device-local heap and a host-visible coherent heap.
func DefaultDeviceSpec() DeviceSpec {
	return DeviceSpec{
		Name: "softgpu",
		Type: hal.DeviceTypeCPU,
		Families: []hal.QueueFamily{
			{Flags: hal.QueueGraphics | hal.QueueCompute | hal.QueueTransfer, Count: 1},
		},
		MemoryTypes: []hal.MemoryType{
			{Flags: hal.MemoryDeviceLocal, HeapIndex: 0},
			{Flags: hal.MemoryHostVisible | hal.MemoryHostCoherent, HeapIndex: 1},
		},
	}
}

// Faults injects failures into every device the driver creates.
type Faults struct {
	// SubmitError is returned by every queue submission when set.
	SubmitError error
	// LoseDeviceOnWait loses the waiting device on the Nth fence wait
	// (1-based) counted across the driver. A lost device fails every later
	// operation.
	LoseDeviceOnWait int
	// StallWaits makes fence waits run out their timeout.
	StallWaits bool
	// ExhaustBindingPools makes binding set allocation fail.
	ExhaustBindingPools bool
	// RejectShaders makes shader module creation fail.
	RejectShaders bool
	// OutOfDeviceMemory makes memory allocation fail.
	OutOfDeviceMemory bool
}

type Config struct {
	Devices []DeviceSpec
	Faults  Faults
	// Gravity is used by the built-in "main" kernel. The zero value selects
	// physics.DefaultGravity.
	Gravity physics.Gravity
}

type Driver struct {
	mu      sync.Mutex
	cfg     Config
	kernels map[string]Kernel
	live    int
	waits   int
}

func New(cfg Config) *Driver {
	if len(cfg.Devices) == 0 {
		cfg.Devices = []DeviceSpec{DefaultDeviceSpec()}
	}
	if cfg.Gravity == (physics.Gravity{}) {
		cfg.Gravity = physics.DefaultGravity()
	}
	d := &Driver{cfg: cfg, kernels: map[string]Kernel{}}
	d.kernels[BuiltinEntryPoint] = NBodyKernel(cfg.Gravity)
	return d
}

func (d *Driver) Name() string { return "soft" }

// RegisterKernel makes k available to pipelines created for the entry point
// name. It replaces any kernel already registered under that name.
func (d *Driver) RegisterKernel(name string, k Kernel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kernels[name] = k
}

func (d *Driver) SetFaults(f Faults) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Faults = f
}

// LiveObjects counts device objects that were created and not yet destroyed.
func (d *Driver) LiveObjects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// Waits counts fence waits across all devices.
func (d *Driver) Waits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waits
}

func (d *Driver) faults() Faults {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Faults
}

func (d *Driver) kernel(name string) (Kernel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k, ok := d.kernels[name]
	return k, ok
}

func (d *Driver) created() {
	d.mu.Lock()
	d.live++
	d.mu.Unlock()
}

func (d *Driver) destroyed() {
	d.mu.Lock()
	d.live--
	d.mu.Unlock()
}

// countWait records a fence wait and reports whether it is the one that
// loses the device.
func (d *Driver) countWait() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waits++
	return d.cfg.Faults.LoseDeviceOnWait > 0 && d.waits == d.cfg.Faults.LoseDeviceOnWait
}

func (d *Driver) PhysicalDevices() ([]hal.PhysicalDevice, error) {
	out := make([]hal.PhysicalDevice, len(d.cfg.Devices))
	for i, spec := range d.cfg.Devices {
		out[i] = &physicalDevice{drv: d, spec: spec}
	}
	return out, nil
}

func (d *Driver) Close() {}

type physicalDevice struct {
	drv  *Driver
	spec DeviceSpec
}

func (p *physicalDevice) Properties() hal.DeviceProperties {
	return hal.DeviceProperties{
		Name:              p.spec.Name,
		Type:              p.spec.Type,
		APIVersion:        1<<22 | 3<<12,
		MaxWorkGroupCount: [3]uint32{65535, 65535, 65535},
		MaxWorkGroupSize:  [3]uint32{1024, 1024, 64},
	}
}

func (p *physicalDevice) QueueFamilies() []hal.QueueFamily {
	return append([]hal.QueueFamily(nil), p.spec.Families...)
}

func (p *physicalDevice) MemoryTypes() []hal.MemoryType {
	return append([]hal.MemoryType(nil), p.spec.MemoryTypes...)
}

func (p *physicalDevice) CreateDevice(family uint32) (hal.Device, error) {
	if int(family) >= len(p.spec.Families) || p.spec.Families[family].Count == 0 {
		return nil, fmt.Errorf("%w: queue family %d", hal.ErrValidation, family)
	}
	dev := &device{drv: p.drv, spec: p.spec, family: family}
	dev.queue = &queue{dev: dev}
	p.drv.created()
	return dev, nil
}
