package compute_test

import (
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/nbodyvk/internal/compute"
	"github.com/san-kum/nbodyvk/internal/hal"
	"github.com/san-kum/nbodyvk/internal/physics"
	"github.com/san-kum/nbodyvk/internal/softgpu"
	"github.com/san-kum/nbodyvk/internal/spirv"
)

func customKernel() []byte {
	return spirv.NewBuilder().
		EntryPoint("custom", [3]uint32{32, 1, 1}).
		Uniform("params", 0, 0).
		Storage("out", 0, 1).
		Storage("in", 0, 2).
		Bytes()
}

const v1Slots = `slots:
  - {role: params, slot: 0, kind: uniform}
  - {role: output, slot: 1, kind: storage}
  - {role: input, slot: 2, kind: storage}
`

func graphicsOnly(name string) softgpu.DeviceSpec {
	spec := softgpu.DefaultDeviceSpec()
	spec.Name = name
	spec.Families = []hal.QueueFamily{{Flags: hal.QueueGraphics | hal.QueueTransfer, Count: 1}}
	return spec
}

func setupStage(err error) compute.Stage {
	var se *compute.SetupError
	Expect(errors.As(err, &se)).To(BeTrue(), "expected a SetupError, got %v", err)
	return se.Stage
}

var _ = Describe("Engine setup", func() {
	It("picks the first device with a compute queue", func() {
		compute2 := softgpu.DefaultDeviceSpec()
		compute2.Name = "second"
		drv := softgpu.New(softgpu.Config{Devices: []softgpu.DeviceSpec{graphicsOnly("first"), compute2}})

		e := newSoftEngine(drv, softOptions(8))
		Expect(e.DeviceName()).To(Equal("second"))
		Expect(e.Name()).To(Equal("gpu:soft"))
	})

	It("honours an explicit device index", func() {
		drv := softgpu.New(softgpu.Config{Devices: []softgpu.DeviceSpec{graphicsOnly("first"), softgpu.DefaultDeviceSpec()}})
		opts := softOptions(8)
		opts.DeviceIndex = 0
		_, err := compute.New(drv, opts)
		Expect(err).To(MatchError(compute.ErrNoComputeDevice))

		opts.DeviceIndex = 5
		_, err = compute.New(drv, opts)
		Expect(err).To(MatchError(compute.ErrNoComputeDevice))
	})

	It("fails without a compute device", func() {
		drv := softgpu.New(softgpu.Config{Devices: []softgpu.DeviceSpec{graphicsOnly("gfx")}})
		e, err := compute.New(drv, softOptions(8))
		Expect(e).To(BeNil())
		Expect(err).To(MatchError(compute.ErrNoComputeDevice))
		Expect(setupStage(err)).To(Equal(compute.StageDevice))
	})

	It("fails with no engine when no memory type has the requested properties", func() {
		drv := softgpu.New(softgpu.Config{})
		opts := softOptions(8)
		opts.MemoryProperties = hal.MemoryDeviceLocal | hal.MemoryHostVisible | hal.MemoryHostCached

		e, err := compute.New(drv, opts)
		Expect(e).To(BeNil())
		Expect(err).To(MatchError(compute.ErrNoSuitableMemoryType))
		Expect(setupStage(err)).To(Equal(compute.StageResources))
		Expect(drv.LiveObjects()).To(BeZero())
	})

	It("respects the buffer's memory type mask", func() {
		spec := softgpu.DefaultDeviceSpec()
		spec.MemoryTypeBits = 0b01
		drv := softgpu.New(softgpu.Config{Devices: []softgpu.DeviceSpec{spec}})
		_, err := compute.New(drv, softOptions(8))
		Expect(err).To(MatchError(compute.ErrNoSuitableMemoryType))
	})

	It("fails when the binding pool is exhausted", func() {
		drv := softgpu.New(softgpu.Config{Faults: softgpu.Faults{ExhaustBindingPools: true}})
		_, err := compute.New(drv, softOptions(8))
		Expect(err).To(MatchError(compute.ErrBindingAllocation))
		Expect(err).To(MatchError(hal.ErrOutOfPoolMemory))
		Expect(setupStage(err)).To(Equal(compute.StageBindings))
		Expect(drv.LiveObjects()).To(BeZero())
	})

	It("fails when the device rejects the kernel", func() {
		drv := softgpu.New(softgpu.Config{Faults: softgpu.Faults{RejectShaders: true}})
		_, err := compute.New(drv, softOptions(8))
		Expect(err).To(MatchError(compute.ErrPipelineCreation))
		Expect(setupStage(err)).To(Equal(compute.StageKernel))
		Expect(drv.LiveObjects()).To(BeZero())
	})

	It("fails when allocation runs out of device memory", func() {
		drv := softgpu.New(softgpu.Config{Faults: softgpu.Faults{OutOfDeviceMemory: true}})
		_, err := compute.New(drv, softOptions(8))
		Expect(err).To(MatchError(hal.ErrOutOfDeviceMemory))
		Expect(drv.LiveObjects()).To(BeZero())
	})

	It("fails when the entry point is missing", func() {
		drv := softgpu.New(softgpu.Config{})
		opts := softOptions(8)
		opts.Kernel.EntryPoint = "integrate"
		_, err := compute.New(drv, opts)
		Expect(err).To(MatchError(compute.ErrPipelineCreation))
	})

	It("rejects a kernel whose bindings disagree with the schema", func() {
		drv := softgpu.New(softgpu.Config{})
		opts := softOptions(8)
		opts.Kernel.Code = spirv.NewBuilder().
			EntryPoint("main", [3]uint32{64, 1, 1}).
			Uniform("params", 0, 0).
			Storage("in", 0, 1).
			Uniform("out", 0, 2).
			Bytes()

		_, err := compute.New(drv, opts)
		Expect(err).To(MatchError(compute.ErrConfigurationMismatch))
		var cm *compute.ConfigurationMismatch
		Expect(errors.As(err, &cm)).To(BeTrue())
		Expect(cm.Role).To(Equal(compute.RoleInput))
		Expect(cm.Slot).To(Equal(uint32(2)))
	})

	It("takes the workgroup size from the kernel", func() {
		drv := softgpu.New(softgpu.Config{})
		drv.RegisterKernel("wide", softgpu.NBodyKernel(physics.DefaultGravity()))
		opts := softOptions(300)
		opts.Kernel.EntryPoint = "wide"
		opts.Kernel.Code = spirv.NewBuilder().
			EntryPoint("wide", [3]uint32{256, 1, 1}).
			Uniform("params", 0, 0).
			Storage("out", 0, 1).
			Storage("in", 0, 2).
			Bytes()
		e := newSoftEngine(drv, opts)
		Expect(e.LocalSize()).To(Equal(uint32(256)))
		Expect(e.WriteParticles(lattice(300))).To(Succeed())
		Expect(e.Groups()).To(Equal(uint32(2)))
	})

	It("rejects a two-dimensional workgroup", func() {
		drv := softgpu.New(softgpu.Config{})
		opts := softOptions(8)
		opts.Kernel.Code = spirv.NewBuilder().
			EntryPoint("main", [3]uint32{8, 8, 1}).
			Uniform("params", 0, 0).
			Storage("out", 0, 1).
			Storage("in", 0, 2).
			Bytes()
		_, err := compute.New(drv, opts)
		Expect(err).To(MatchError(compute.ErrConfigurationMismatch))
		Expect(setupStage(err)).To(Equal(compute.StageKernel))
		Expect(drv.LiveObjects()).To(BeZero())
	})

	Describe("kernel files", func() {
		var dir string

		BeforeEach(func() {
			dir = GinkgoT().TempDir()
		})

		write := func(name string, data []byte) string {
			p := filepath.Join(dir, name)
			Expect(os.WriteFile(p, data, 0o644)).To(Succeed())
			return p
		}

		load := func(path string) error {
			opts := softOptions(8)
			opts.Kernel.Code = nil
			opts.Kernel.Path = path
			e, err := compute.New(softgpu.New(softgpu.Config{}), opts)
			if e != nil {
				_ = e.Close()
			}
			return err
		}

		DescribeTable("unloadable binaries",
			func(data []byte) {
				p := filepath.Join(dir, "missing.spv")
				if data != nil {
					p = write("kernel.spv", data)
				}
				err := load(p)
				Expect(err).To(MatchError(compute.ErrKernelLoad))
				Expect(setupStage(err)).To(Equal(compute.StageKernel))
			},
			Entry("missing file", []byte(nil)),
			Entry("empty file", []byte{}),
			Entry("not word aligned", []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00}),
			Entry("no magic number", make([]byte, 32)),
		)

		It("requires a configured path", func() {
			Expect(load("")).To(MatchError(compute.ErrKernelLoad))
		})

		It("loads a kernel from disk", func() {
			Expect(load(write("nbody.spv", softgpu.BuiltinKernel()))).To(Succeed())
		})

		It("checks a manifest shipped next to the kernel", func() {
			p := write("nbody.spv", softgpu.BuiltinKernel())
			write("nbody.yaml", []byte(`schema_version: 1
entry_point: main
slots:
  - {role: params, slot: 0, kind: uniform}
  - {role: output, slot: 1, kind: storage}
  - {role: input, slot: 2, kind: storage}
`))
			Expect(load(p)).To(Succeed())
		})

		It("accepts a manifest whose local size matches the kernel", func() {
			p := write("nbody.spv", softgpu.BuiltinKernel())
			write("nbody.yaml", []byte("schema_version: 1\nlocal_size: 64\n"+v1Slots))
			Expect(load(p)).To(Succeed())
		})

		It("rejects a manifest whose local size differs from the kernel", func() {
			p := write("nbody.spv", softgpu.BuiltinKernel())
			write("nbody.yaml", []byte("schema_version: 1\nlocal_size: 256\n"+v1Slots))
			err := load(p)
			Expect(err).To(MatchError(compute.ErrConfigurationMismatch))
			Expect(err.Error()).To(ContainSubstring("local size 256"))
		})

		It("rejects a manifest for another schema version", func() {
			p := write("nbody.spv", softgpu.BuiltinKernel())
			write("nbody.yaml", []byte("schema_version: 2\nslots: []\n"))
			Expect(load(p)).To(MatchError(compute.ErrConfigurationMismatch))
		})

		It("rejects a manifest that moves a slot", func() {
			p := write("nbody.spv", softgpu.BuiltinKernel())
			write("nbody.yaml", []byte(`schema_version: 1
slots:
  - {role: params, slot: 0, kind: uniform}
  - {role: output, slot: 2, kind: storage}
  - {role: input, slot: 1, kind: storage}
`))
			Expect(load(p)).To(MatchError(compute.ErrConfigurationMismatch))
		})
	})
})
