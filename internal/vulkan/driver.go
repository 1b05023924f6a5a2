//go:build cgo

package vulkan

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/san-kum/nbodyvk/internal/hal"
)

var (
	loaderOnce sync.Once
	loaderErr  error
)

func initLoader() error {
	loaderOnce.Do(func() {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			loaderErr = fmt.Errorf("%w: %w", ErrUnavailable, err)
			return
		}
		if err := vk.Init(); err != nil {
			loaderErr = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	})
	return loaderErr
}

// Driver owns one VkInstance.
type Driver struct {
	instance vk.Instance
	layers   []string
	log      *slog.Logger
}

// Open loads the Vulkan library and creates an instance.
func Open(opts Options) (*Driver, error) {
	if err := initLoader(); err != nil {
		return nil, err
	}
	log := opts.logger()

	var layers []string
	if opts.Validation {
		if hasLayer(validationLayer) {
			layers = []string{validationLayer}
		} else {
			log.Warn("validation layer not installed", "layer", validationLayer)
		}
	}

	exts := safeStrings(instanceExtensions)
	enabled := safeStrings(layers)
	var inst vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		Flags: instanceFlags,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			PApplicationName:   safeString(opts.appName()),
			ApplicationVersion: vk.MakeVersion(1, 0, 0),
			PEngineName:        safeString("nbodyvk"),
			EngineVersion:      vk.MakeVersion(1, 0, 0),
			ApiVersion:         vk.MakeVersion(1, 1, 0),
		},
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: exts,
		EnabledLayerCount:       uint32(len(enabled)),
		PpEnabledLayerNames:     enabled,
	}, nil, &inst)
	if err := result("create instance", ret); err != nil {
		return nil, err
	}
	if err := vk.InitInstance(inst); err != nil {
		vk.DestroyInstance(inst, nil)
		return nil, fmt.Errorf("vulkan: init instance: %w: %w", hal.ErrInitialization, err)
	}
	log.Debug("vulkan instance created", "layers", layers)
	return &Driver{instance: inst, layers: layers, log: log}, nil
}

func hasLayer(name string) bool {
	var count uint32
	if vk.EnumerateInstanceLayerProperties(&count, nil) != vk.Success {
		return false
	}
	list := make([]vk.LayerProperties, count)
	if vk.EnumerateInstanceLayerProperties(&count, list) != vk.Success {
		return false
	}
	for _, l := range list {
		l.Deref()
		if vk.ToString(l.LayerName[:]) == name {
			return true
		}
	}
	return false
}

func (d *Driver) Name() string { return "vulkan" }

func (d *Driver) PhysicalDevices() ([]hal.PhysicalDevice, error) {
	var count uint32
	if err := result("enumerate physical devices", vk.EnumeratePhysicalDevices(d.instance, &count, nil)); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	handles := make([]vk.PhysicalDevice, count)
	if err := result("enumerate physical devices", vk.EnumeratePhysicalDevices(d.instance, &count, handles)); err != nil {
		return nil, err
	}

	out := make([]hal.PhysicalDevice, 0, count)
	for _, h := range handles[:count] {
		out = append(out, newPhysicalDevice(d, h))
	}
	return out, nil
}

func (d *Driver) Close() {
	if d.instance == nil {
		return
	}
	vk.DestroyInstance(d.instance, nil)
	d.instance = nil
}

type physicalDevice struct {
	drv      *Driver
	handle   vk.PhysicalDevice
	props    hal.DeviceProperties
	families []hal.QueueFamily
	memory   []hal.MemoryType
}

func newPhysicalDevice(d *Driver, h vk.PhysicalDevice) *physicalDevice {
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(h, &props)
	props.Deref()
	props.Limits.Deref()

	pd := &physicalDevice{
		drv:    d,
		handle: h,
		props: hal.DeviceProperties{
			Name:              vk.ToString(props.DeviceName[:]),
			Type:              deviceType(props.DeviceType),
			APIVersion:        props.ApiVersion,
			MaxWorkGroupCount: props.Limits.MaxComputeWorkGroupCount,
			MaxWorkGroupSize:  props.Limits.MaxComputeWorkGroupSize,
		},
	}

	var qcount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(h, &qcount, nil)
	queues := make([]vk.QueueFamilyProperties, qcount)
	vk.GetPhysicalDeviceQueueFamilyProperties(h, &qcount, queues)
	for _, q := range queues {
		q.Deref()
		pd.families = append(pd.families, hal.QueueFamily{
			Flags: hal.QueueFlags(q.QueueFlags),
			Count: q.QueueCount,
		})
	}

	var mem vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(h, &mem)
	mem.Deref()
	for i := uint32(0); i < mem.MemoryTypeCount; i++ {
		mem.MemoryTypes[i].Deref()
		pd.memory = append(pd.memory, hal.MemoryType{
			Flags:     hal.MemoryProperty(mem.MemoryTypes[i].PropertyFlags),
			HeapIndex: mem.MemoryTypes[i].HeapIndex,
		})
	}
	return pd
}

func deviceType(t vk.PhysicalDeviceType) hal.DeviceType {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return hal.DeviceTypeIntegrated
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return hal.DeviceTypeDiscrete
	case vk.PhysicalDeviceTypeVirtualGpu:
		return hal.DeviceTypeVirtual
	case vk.PhysicalDeviceTypeCpu:
		return hal.DeviceTypeCPU
	default:
		return hal.DeviceTypeOther
	}
}

func (p *physicalDevice) Properties() hal.DeviceProperties { return p.props }
func (p *physicalDevice) QueueFamilies() []hal.QueueFamily  { return slices.Clone(p.families) }
func (p *physicalDevice) MemoryTypes() []hal.MemoryType     { return slices.Clone(p.memory) }

func (p *physicalDevice) CreateDevice(family uint32) (hal.Device, error) {
	if int(family) >= len(p.families) {
		return nil, fmt.Errorf("vulkan: queue family %d of %d: %w", family, len(p.families), hal.ErrValidation)
	}
	exts := safeStrings(deviceExtensions)
	layers := safeStrings(p.drv.layers)

	var dev vk.Device
	ret := vk.CreateDevice(p.handle, &vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos: []vk.DeviceQueueCreateInfo{{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}},
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: exts,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}, nil, &dev)
	if err := result("create device", ret); err != nil {
		return nil, err
	}

	var q vk.Queue
	vk.GetDeviceQueue(dev, family, 0, &q)
	p.drv.log.Debug("logical device created", "device", p.props.Name, "family", family)

	d := &device{handle: dev, phys: p}
	d.queue = &queue{dev: d, handle: q}
	return d, nil
}

func safeString(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return s + "\x00"
}

func safeStrings(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, safeString(s))
	}
	return out
}
