package compute_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/nbodyvk/internal/compute"
	"github.com/san-kum/nbodyvk/internal/hal"
	"github.com/san-kum/nbodyvk/internal/spirv"
)

var _ = Describe("BindingSchema", func() {
	It("accepts the v1 table", func() {
		Expect(compute.SchemaV1.Validate()).To(Succeed())
	})

	It("sizes the pool for exactly one set", func() {
		Expect(compute.SchemaV1.PoolSizes()).To(ConsistOf(
			hal.PoolSize{Kind: hal.DescriptorUniformBuffer, Count: 1},
			hal.PoolSize{Kind: hal.DescriptorStorageBuffer, Count: 2},
		))
	})

	It("places params, output and input at 0, 1 and 2", func() {
		for role, slot := range map[compute.Role]uint32{
			compute.RoleParams: 0,
			compute.RoleOutput: 1,
			compute.RoleInput:  2,
		} {
			sp, ok := compute.SchemaV1.Slot(role)
			Expect(ok).To(BeTrue())
			Expect(sp.Slot).To(Equal(slot))
		}
	})

	DescribeTable("invalid tables",
		func(slots []compute.SlotSpec) {
			s := compute.BindingSchema{Version: 1, Slots: slots}
			Expect(s.Validate()).To(MatchError(compute.ErrConfigurationMismatch))
		},
		Entry("shared slot", []compute.SlotSpec{
			{Role: compute.RoleParams, Slot: 0, Kind: hal.DescriptorUniformBuffer},
			{Role: compute.RoleOutput, Slot: 0, Kind: hal.DescriptorStorageBuffer},
			{Role: compute.RoleInput, Slot: 2, Kind: hal.DescriptorStorageBuffer},
		}),
		Entry("storage params", []compute.SlotSpec{
			{Role: compute.RoleParams, Slot: 0, Kind: hal.DescriptorStorageBuffer},
			{Role: compute.RoleOutput, Slot: 1, Kind: hal.DescriptorStorageBuffer},
			{Role: compute.RoleInput, Slot: 2, Kind: hal.DescriptorStorageBuffer},
		}),
		Entry("missing input", []compute.SlotSpec{
			{Role: compute.RoleParams, Slot: 0, Kind: hal.DescriptorUniformBuffer},
			{Role: compute.RoleOutput, Slot: 1, Kind: hal.DescriptorStorageBuffer},
		}),
		Entry("unknown role", []compute.SlotSpec{
			{Role: compute.RoleParams, Slot: 0, Kind: hal.DescriptorUniformBuffer},
			{Role: compute.RoleOutput, Slot: 1, Kind: hal.DescriptorStorageBuffer},
			{Role: compute.RoleInput, Slot: 2, Kind: hal.DescriptorStorageBuffer},
			{Role: "velocity", Slot: 3, Kind: hal.DescriptorStorageBuffer},
		}),
	)

	It("flags kernel bindings the schema does not know", func() {
		mod, err := spirv.Parse(spirv.NewBuilder().
			EntryPoint("main", [3]uint32{64, 1, 1}).
			Uniform("params", 0, 0).
			Storage("out", 0, 1).
			Storage("in", 0, 2).
			Storage("scratch", 0, 5).
			Bytes())
		Expect(err).NotTo(HaveOccurred())
		err = compute.SchemaV1.CheckReflected(mod.Bindings)
		Expect(err).To(MatchError(compute.ErrConfigurationMismatch))
		Expect(err.Error()).To(ContainSubstring("scratch"))
	})

	It("accepts storage buffers in the SPIR-V 1.0 encoding", func() {
		mod, err := spirv.Parse(spirv.NewBuilder().Version(spirv.Version10).
			EntryPoint("main", [3]uint32{64, 1, 1}).
			Uniform("params", 0, 0).
			LegacyStorage("out", 0, 1).
			LegacyStorage("in", 0, 2).
			Bytes())
		Expect(err).NotTo(HaveOccurred())
		Expect(compute.SchemaV1.CheckReflected(mod.Bindings)).To(Succeed())
	})

	It("derives the manifest path from the kernel path", func() {
		Expect(compute.ManifestPath("shaders/nbody.spv")).To(Equal("shaders/nbody.yaml"))
		Expect(compute.ManifestPath("kernel")).To(Equal("kernel.yaml"))
	})
})

var _ = DescribeTable("WorkgroupCount",
	func(count, local, want uint32) {
		Expect(compute.WorkgroupCount(count, local)).To(Equal(want))
	},
	Entry("empty", uint32(0), uint32(64), uint32(0)),
	Entry("one short", uint32(63), uint32(64), uint32(1)),
	Entry("exact", uint32(1024), uint32(64), uint32(16)),
	Entry("one over", uint32(1025), uint32(64), uint32(17)),
	Entry("unit groups", uint32(5), uint32(1), uint32(5)),
	Entry("zero local size", uint32(5), uint32(0), uint32(5)),
)

var _ = Describe("StepParameters", func() {
	It("lays out particle_count then dt in eight bytes", func() {
		b := make([]byte, compute.ParamsSize)
		compute.StepParameters{ParticleCount: 1024, DT: 0.5}.Put(b)
		Expect(b).To(Equal([]byte{0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x3f}))
		Expect(compute.ReadStepParameters(b)).To(Equal(compute.StepParameters{ParticleCount: 1024, DT: 0.5}))
	})
})
