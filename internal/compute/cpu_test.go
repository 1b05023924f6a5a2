package compute_test

import (
	"context"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/nbodyvk/internal/compute"
	"github.com/san-kum/nbodyvk/internal/hal"
	"github.com/san-kum/nbodyvk/internal/physics"
	"github.com/san-kum/nbodyvk/internal/softgpu"
)

var _ = Describe("CPUBackend", func() {
	ctx := context.Background()
	g := physics.DefaultGravity()

	It("gives the same result serially and in parallel", func() {
		serial, parallel := lattice(300), lattice(300)
		Expect(compute.NewCPUBackend(300, g).WithWorkers(1).Step(ctx, serial, 0.01)).To(Succeed())
		Expect(compute.NewCPUBackend(300, g).WithWorkers(7).Step(ctx, parallel, 0.01)).To(Succeed())
		Expect(parallel).To(Equal(serial))
	})

	It("keeps a circular orbit's energy with verlet", func() {
		zero := physics.Gravity{G: 1}
		ps := lattice(2)
		ps[0].Position, ps[0].Velocity, ps[0].Mass = [3]float32{}, [3]float32{}, 1
		ps[1].Position, ps[1].Velocity, ps[1].Mass = [3]float32{1, 0, 0}, [3]float32{0, 1, 0}, 1e-6
		e0 := zero.Energy(ps)

		cpu := compute.NewCPUBackend(2, zero).WithIntegrator(compute.IntegratorVerlet)
		for i := 0; i < 500; i++ {
			Expect(cpu.Step(ctx, ps, 0.002)).To(Succeed())
		}
		Expect(math.Abs((zero.Energy(ps) - e0) / e0)).To(BeNumerically("<", 1e-3))
	})

	It("rejects oversized systems and cancelled contexts", func() {
		cpu := compute.NewCPUBackend(4, g)
		Expect(cpu.Step(ctx, lattice(5), 0.1)).To(MatchError(compute.ErrCapacity))

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		Expect(cpu.Step(cctx, lattice(4), 0.1)).To(MatchError(context.Canceled))
	})

	It("parses integrator names", func() {
		i, err := compute.ParseIntegrator("verlet")
		Expect(err).NotTo(HaveOccurred())
		Expect(i).To(Equal(compute.IntegratorVerlet))
		Expect(i.String()).To(Equal("verlet"))
		_, err = compute.ParseIntegrator("rk4")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("AutoSelect", func() {
	g := physics.DefaultGravity()

	It("uses the CPU without a driver", func() {
		s, err := compute.AutoSelect(nil, softOptions(16), g)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Name()).To(Equal("cpu"))
		Expect(s.Capacity()).To(Equal(16))
	})

	It("falls back when the driver has no compute device", func() {
		drv := softgpu.New(softgpu.Config{Devices: []softgpu.DeviceSpec{{
			Name:     "display",
			Families: []hal.QueueFamily{{Flags: hal.QueueGraphics, Count: 1}},
		}}})
		s, err := compute.AutoSelect(drv, softOptions(16), g)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Name()).To(Equal("cpu"))
	})

	It("keeps the configured integrator on fallback", func() {
		opts := softOptions(16)
		opts.Integrator = compute.IntegratorVerlet
		s, err := compute.AutoSelect(nil, opts, g)
		Expect(err).NotTo(HaveOccurred())
		cpu, ok := s.(*compute.CPUBackend)
		Expect(ok).To(BeTrue())
		Expect(cpu.Integrator()).To(Equal(compute.IntegratorVerlet))
	})

	It("uses the GPU engine when one can be built", func() {
		s, err := compute.AutoSelect(softgpu.New(softgpu.Config{}), softOptions(16), g)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)
		Expect(s.Name()).To(Equal("gpu:soft"))
	})

	It("reports other setup failures", func() {
		drv := softgpu.New(softgpu.Config{Faults: softgpu.Faults{RejectShaders: true}})
		_, err := compute.AutoSelect(drv, softOptions(16), g)
		Expect(err).To(MatchError(compute.ErrPipelineCreation))
	})
})
