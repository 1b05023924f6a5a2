package compute

//go:generate glslc --target-env=vulkan1.1 -O -o ../../shaders/nbody.spv ../../shaders/nbody.comp

import (
	"fmt"
	"os"

	"github.com/san-kum/nbodyvk/internal/hal"
	"github.com/san-kum/nbodyvk/internal/spirv"
)

type KernelOptions struct {
	// Path is the SPIR-V file. Code, when set, is used instead and no
	// manifest is looked up.
	Path string
	Code []byte

	EntryPoint string
	// LocalSize is used when neither the binary nor a manifest declares a
	// workgroup size.
	LocalSize uint32
	Schema    BindingSchema
}

// Kernel is the compute pipeline and the layouts it was built against.
type Kernel struct {
	dev            hal.Device
	layout         hal.BindingLayout
	pipelineLayout hal.PipelineLayout
	pipeline       hal.Pipeline

	entryPoint string
	localSize  uint32
	schema     BindingSchema
	reflected  bool
}

// ReadKernel reads a kernel binary from disk.
func ReadKernel(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no kernel path configured", ErrKernelLoad)
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKernelLoad, err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrKernelLoad, path)
	}
	return code, nil
}

// LoadKernel builds the pipeline layout and the compute pipeline for one
// entry point of a kernel binary.
func LoadKernel(d *Device, opts KernelOptions) (*Kernel, error) {
	if opts.EntryPoint == "" {
		opts.EntryPoint = DefaultEntryPoint
	}
	if opts.LocalSize == 0 {
		opts.LocalSize = DefaultLocalSize
	}
	if opts.Schema.Slots == nil {
		opts.Schema = SchemaV1
	}
	if err := opts.Schema.Validate(); err != nil {
		return nil, err
	}

	code := opts.Code
	var manifest *Manifest
	if code == nil {
		var err error
		if code, err = ReadKernel(opts.Path); err != nil {
			return nil, err
		}
		if manifest, err = LoadManifest(opts.Path); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKernelLoad, err)
		}
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: empty kernel", ErrKernelLoad)
	}
	words, err := spirv.Words(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKernelLoad, err)
	}

	k := &Kernel{
		dev:        d.Handle(),
		entryPoint: opts.EntryPoint,
		localSize:  opts.LocalSize,
		schema:     opts.Schema,
	}

	if manifest != nil {
		if err := opts.Schema.CheckManifest(manifest); err != nil {
			return nil, err
		}
		if manifest.EntryPoint != "" && manifest.EntryPoint != opts.EntryPoint {
			return nil, &ConfigurationMismatch{Detail: fmt.Sprintf("manifest entry point %q, configured %q", manifest.EntryPoint, opts.EntryPoint)}
		}
		if manifest.LocalSize > 0 {
			k.localSize = manifest.LocalSize
		}
	}

	if mod, err := spirv.ParseWords(words); err != nil {
		d.log.Warn("kernel reflection skipped", "error", err)
	} else if len(mod.EntryPoints) > 0 {
		ep, ok := mod.EntryPoint(opts.EntryPoint)
		if !ok {
			return nil, fmt.Errorf("%w: kernel has no entry point %q", ErrPipelineCreation, opts.EntryPoint)
		}
		if ep.LocalSize[1] > 1 || ep.LocalSize[2] > 1 {
			return nil, &ConfigurationMismatch{Detail: fmt.Sprintf("local size %v is not one-dimensional", ep.LocalSize)}
		}
		if ep.LocalSize[0] > 0 {
			if manifest != nil && manifest.LocalSize > 0 && manifest.LocalSize != ep.LocalSize[0] {
				return nil, &ConfigurationMismatch{Detail: fmt.Sprintf("manifest local size %d, kernel declares %d", manifest.LocalSize, ep.LocalSize[0])}
			}
			k.localSize = ep.LocalSize[0]
		}
		if len(mod.Bindings) > 0 {
			if err := opts.Schema.CheckReflected(mod.Bindings); err != nil {
				return nil, err
			}
			k.reflected = true
		}
	}

	if err := k.build(words); err != nil {
		k.Destroy()
		return nil, err
	}
	d.log.Debug("kernel loaded", "entry_point", k.entryPoint, "local_size", k.localSize, "reflected", k.reflected)
	return k, nil
}

func (k *Kernel) build(words []uint32) error {
	module, err := k.dev.CreateShaderModule(words)
	if err != nil {
		return fmt.Errorf("%w: shader module: %w", ErrPipelineCreation, err)
	}
	defer module.Destroy()

	if k.layout, err = k.dev.CreateBindingLayout(k.schema.LayoutBindings()); err != nil {
		return fmt.Errorf("%w: binding layout: %w", ErrPipelineCreation, err)
	}
	if k.pipelineLayout, err = k.dev.CreatePipelineLayout(k.layout); err != nil {
		return fmt.Errorf("%w: pipeline layout: %w", ErrPipelineCreation, err)
	}
	if k.pipeline, err = k.dev.CreateComputePipeline(k.pipelineLayout, module, k.entryPoint); err != nil {
		return fmt.Errorf("%w: %w", ErrPipelineCreation, err)
	}
	return nil
}

func (k *Kernel) EntryPoint() string    { return k.entryPoint }
func (k *Kernel) LocalSize() uint32     { return k.localSize }
func (k *Kernel) Schema() BindingSchema { return k.schema }

// Reflected reports whether the binary's own decorations were checked
// against the schema.
func (k *Kernel) Reflected() bool { return k.reflected }

func (k *Kernel) Destroy() {
	if k.pipeline != nil {
		k.pipeline.Destroy()
		k.pipeline = nil
	}
	if k.pipelineLayout != nil {
		k.pipelineLayout.Destroy()
		k.pipelineLayout = nil
	}
	if k.layout != nil {
		k.layout.Destroy()
		k.layout = nil
	}
}
