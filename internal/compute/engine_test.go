package compute_test

import (
	"context"
	"errors"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/nbodyvk/internal/compute"
	"github.com/san-kum/nbodyvk/internal/hal"
	"github.com/san-kum/nbodyvk/internal/physics"
	"github.com/san-kum/nbodyvk/internal/softgpu"
)

var _ = Describe("Engine", func() {
	var drv *softgpu.Driver

	BeforeEach(func() {
		drv = softgpu.New(softgpu.Config{})
	})

	Describe("dispatch results", func() {
		It("returns one particle per input particle at full capacity", func() {
			e := newSoftEngine(drv, softOptions(128))
			Expect(e.WriteParticles(lattice(128))).To(Succeed())
			Expect(e.SetTimeStep(0.01)).To(Succeed())
			Expect(e.Dispatch()).To(Succeed())

			out, err := e.ReadOutput()
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HaveLen(128))
		})

		It("depends only on the input and dt", func() {
			run := func() []physics.Particle {
				e := newSoftEngine(softgpu.New(softgpu.Config{}), softOptions(200))
				Expect(e.WriteParticles(lattice(200))).To(Succeed())
				Expect(e.SetTimeStep(0.05)).To(Succeed())
				Expect(e.Dispatch()).To(Succeed())
				out, err := e.ReadOutput()
				Expect(err).NotTo(HaveOccurred())
				return out
			}
			Expect(run()).To(Equal(run()))
		})

		It("leaves positions, velocities and masses alone when dt is zero", func() {
			e := newSoftEngine(drv, softOptions(64))
			in := lattice(64)
			Expect(e.WriteParticles(in)).To(Succeed())
			Expect(e.SetTimeStep(0)).To(Succeed())
			Expect(e.Dispatch()).To(Succeed())

			out, err := e.ReadOutput()
			Expect(err).NotTo(HaveOccurred())
			for i := range in {
				Expect(out[i].Position).To(Equal(in[i].Position))
				Expect(out[i].Velocity).To(Equal(in[i].Velocity))
				Expect(out[i].Mass).To(Equal(in[i].Mass))
			}
		})

		It("never changes mass", func() {
			e := newSoftEngine(drv, softOptions(32))
			in := lattice(32)
			Expect(e.Step(context.Background(), in, 0.2)).To(Succeed())
			for i, p := range in {
				Expect(p.Mass).To(Equal(1 + 0.1*float32(i)))
			}
		})

		It("reads back the input it was given without dispatching", func() {
			e := newSoftEngine(drv, softOptions(16))
			in := lattice(16)
			Expect(e.WriteParticles(in)).To(Succeed())
			got, err := e.ReadInput()
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(in))
			Expect(e.Stats().Steps).To(BeZero())
		})

		It("accelerates a light body toward a heavy one over two steps", func() {
			e := newSoftEngine(drv, softOptions(2))
			ps := []physics.Particle{
				{Mass: 1000},
				{Position: mgl32.Vec3{10, 0, 0}, Mass: 1},
			}
			ctx := context.Background()

			Expect(e.Step(ctx, ps, 0.1)).To(Succeed())
			v1 := ps[1].Velocity
			Expect(v1[0]).To(BeNumerically("<", 0))

			Expect(e.Step(ctx, ps, 0.1)).To(Succeed())
			v2 := ps[1].Velocity
			Expect(v2.Len()).To(BeNumerically(">", v1.Len()))
		})

		It("covers every particle when the count is not a multiple of the local size", func() {
			e := newSoftEngine(drv, softOptions(100))
			in := lattice(100)
			Expect(e.WriteParticles(in)).To(Succeed())
			Expect(e.Groups()).To(Equal(uint32(2)))
			Expect(e.SetTimeStep(0.1)).To(Succeed())
			Expect(e.Dispatch()).To(Succeed())

			out, err := e.ReadOutput()
			Expect(err).NotTo(HaveOccurred())
			Expect(out[99].Mass).To(Equal(in[99].Mass))
			Expect(out[99].Position).NotTo(Equal(in[99].Position))
		})

		It("matches the CPU backend bit for bit over many steps", func() {
			e := newSoftEngine(drv, softOptions(96))
			cpu := compute.NewCPUBackend(96, physics.DefaultGravity()).WithWorkers(4)
			gpu, ref := lattice(96), lattice(96)
			ctx := context.Background()
			for i := 0; i < 10; i++ {
				Expect(e.Step(ctx, gpu, 0.01)).To(Succeed())
				Expect(cpu.Step(ctx, ref, 0.01)).To(Succeed())
			}
			Expect(gpu).To(Equal(ref))
			Expect(e.Stats().Steps).To(Equal(uint64(10)))
		})

		It("returns one particle per input particle at the default capacity", func() {
			opts := softOptions(compute.MaxParticleCount)
			e := newSoftEngine(drv, opts)
			in := lattice(compute.MaxParticleCount)
			Expect(e.WriteParticles(in)).To(Succeed())
			Expect(e.SetTimeStep(0.01)).To(Succeed())
			Expect(e.Groups()).To(Equal(uint32(compute.MaxParticleCount / compute.DefaultLocalSize)))
			Expect(e.Dispatch()).To(Succeed())

			out, err := e.ReadOutput()
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HaveLen(compute.MaxParticleCount))
			for i := range in {
				Expect(out[i].Mass).To(Equal(in[i].Mass))
			}
		})

		It("has no result before the first dispatch", func() {
			e := newSoftEngine(drv, softOptions(4))
			Expect(e.WriteParticles([]physics.Particle{{Position: mgl32.Vec3{1, 2, 3}, Mass: 5}})).To(Succeed())
			_, err := e.ReadOutput()
			Expect(err).To(MatchError(compute.ErrNoResult))
		})

		It("drops the previous result when new particles are written", func() {
			e := newSoftEngine(drv, softOptions(4))
			ps := []physics.Particle{{Mass: 1000}, {Position: mgl32.Vec3{10, 0, 0}, Mass: 1}}
			Expect(e.Step(context.Background(), ps, 0.1)).To(Succeed())

			Expect(e.WriteParticles([]physics.Particle{
				{Position: mgl32.Vec3{-7, 0, 0}, Mass: 3},
				{Position: mgl32.Vec3{7, 0, 0}, Mass: 3},
			})).To(Succeed())
			_, err := e.ReadOutput()
			Expect(err).To(MatchError(compute.ErrNoResult))

			Expect(e.Dispatch()).To(Succeed())
			out, err := e.ReadOutput()
			Expect(err).NotTo(HaveOccurred())
			Expect(out[0].Mass).To(Equal(float32(3)))
			Expect(out[0].Velocity[0]).To(BeNumerically(">", 0))
		})

		It("drops the previous result when dt changes", func() {
			e := newSoftEngine(drv, softOptions(8))
			Expect(e.Step(context.Background(), lattice(8), 0.1)).To(Succeed())
			Expect(e.SetTimeStep(0.2)).To(Succeed())
			_, err := e.ReadOutput()
			Expect(err).To(MatchError(compute.ErrNoResult))
		})

		It("writes the particle count and dt into the uniform block", func() {
			e := newSoftEngine(drv, softOptions(16))
			Expect(e.Params()).To(Equal(compute.StepParameters{}))
			Expect(e.WriteParticles(lattice(10))).To(Succeed())
			Expect(e.SetTimeStep(0.25)).To(Succeed())
			Expect(e.Params()).To(Equal(compute.StepParameters{ParticleCount: 10, DT: 0.25}))
		})

		It("rejects more particles than its capacity", func() {
			e := newSoftEngine(drv, softOptions(8))
			Expect(e.WriteParticles(lattice(9))).To(MatchError(compute.ErrCapacity))
		})

		It("stops before dispatching when the context is done", func() {
			e := newSoftEngine(drv, softOptions(8))
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			Expect(e.Step(ctx, lattice(8), 0.1)).To(MatchError(context.Canceled))
			Expect(e.Stats().Steps).To(BeZero())
		})
	})

	Describe("state machine", func() {
		It("walks idle, recording, submitted, complete and back to idle", func() {
			var seen []compute.State
			opts := softOptions(8)
			opts.OnTransition = func(_, to compute.State) { seen = append(seen, to) }
			e := newSoftEngine(drv, opts)

			Expect(e.State()).To(Equal(compute.StateIdle))
			Expect(e.WriteParticles(lattice(8))).To(Succeed())
			Expect(e.Dispatch()).To(Succeed())
			Expect(e.State()).To(Equal(compute.StateComplete))
			Expect(e.SetTimeStep(0.1)).To(Succeed())
			Expect(e.State()).To(Equal(compute.StateIdle))

			Expect(seen).To(Equal([]compute.State{
				compute.StateRecording,
				compute.StateSubmitted,
				compute.StateComplete,
				compute.StateIdle,
			}))
		})

		It("hands mapped memory to the device while a step is in flight", func() {
			var e *compute.Engine
			var writeErr, readErr error
			opts := softOptions(8)
			opts.OnTransition = func(_, to compute.State) {
				if to == compute.StateSubmitted {
					Expect(e.Owner()).To(Equal(compute.OwnerDevice))
					writeErr = e.WriteParticles(lattice(8))
					_, readErr = e.ReadOutput()
				}
			}
			e = newSoftEngine(drv, opts)
			Expect(e.WriteParticles(lattice(8))).To(Succeed())
			Expect(e.Dispatch()).To(Succeed())

			Expect(writeErr).To(MatchError(compute.ErrDeviceOwned))
			Expect(readErr).To(MatchError(compute.ErrDeviceOwned))
			Expect(e.Owner()).To(Equal(compute.OwnerHost))
		})

		It("is lost after a failed wait and never records again", func() {
			drv.SetFaults(softgpu.Faults{LoseDeviceOnWait: 2})
			var recordings int
			opts := softOptions(8)
			opts.OnTransition = func(_, to compute.State) {
				if to == compute.StateRecording {
					recordings++
				}
			}
			e := newSoftEngine(drv, opts)
			Expect(e.WriteParticles(lattice(8))).To(Succeed())
			Expect(e.Dispatch()).To(Succeed())

			err := e.Dispatch()
			Expect(err).To(MatchError(compute.ErrDeviceLost))
			var de *compute.DispatchError
			Expect(errors.As(err, &de)).To(BeTrue())
			Expect(de.Step).To(Equal(uint64(2)))
			Expect(e.State()).To(Equal(compute.StateLost))

			waits := drv.Waits()
			Expect(e.Dispatch()).To(MatchError(compute.ErrDeviceLost))
			Expect(e.Dispatch()).To(MatchError(compute.ErrDeviceLost))
			Expect(recordings).To(Equal(2))
			Expect(drv.Waits()).To(Equal(waits))
			Expect(e.State()).To(Equal(compute.StateLost))
		})

		It("treats an expired wait as device loss", func() {
			drv.SetFaults(softgpu.Faults{StallWaits: true})
			opts := softOptions(8)
			opts.WaitTimeout = 2 * time.Millisecond
			e := newSoftEngine(drv, opts)
			Expect(e.WriteParticles(lattice(8))).To(Succeed())

			err := e.Dispatch()
			Expect(err).To(MatchError(compute.ErrDeviceLost))
			Expect(err).To(MatchError(hal.ErrTimeout))
			Expect(e.State()).To(Equal(compute.StateLost))
		})

		It("fails for good when the queue rejects a submission", func() {
			e := newSoftEngine(drv, softOptions(8))
			Expect(e.WriteParticles(lattice(8))).To(Succeed())
			drv.SetFaults(softgpu.Faults{SubmitError: errors.New("queue full")})

			Expect(e.Dispatch()).To(MatchError(compute.ErrSubmission))
			Expect(e.State()).To(Equal(compute.StateFailed))

			drv.SetFaults(softgpu.Faults{})
			Expect(e.Dispatch()).To(MatchError(compute.ErrSubmission))
		})

		It("reports device validation failures as configuration mismatches", func() {
			drv.RegisterKernel("custom", func(inv softgpu.Invocation) error {
				_, err := inv.Buffer(3, hal.DescriptorStorageBuffer)
				return err
			})
			opts := softOptions(8)
			opts.Kernel.EntryPoint = "custom"
			opts.Kernel.Code = customKernel()
			e := newSoftEngine(drv, opts)
			Expect(e.WriteParticles(lattice(8))).To(Succeed())

			err := e.Dispatch()
			Expect(err).To(MatchError(compute.ErrConfigurationMismatch))
			Expect(err).To(MatchError(compute.ErrSubmission))
			Expect(err).To(MatchError(hal.ErrValidation))
			Expect(e.State()).To(Equal(compute.StateFailed))
		})
	})

	Describe("Close", func() {
		It("destroys every device object and refuses further work", func() {
			e, err := compute.New(drv, softOptions(32))
			Expect(err).NotTo(HaveOccurred())
			Expect(drv.LiveObjects()).To(BeNumerically(">", 0))

			Expect(e.Close()).To(Succeed())
			Expect(drv.LiveObjects()).To(BeZero())
			Expect(e.State()).To(Equal(compute.StateClosed))
			Expect(e.Close()).To(Succeed())

			Expect(e.Dispatch()).To(MatchError(compute.ErrClosed))
			Expect(e.WriteParticles(lattice(1))).To(MatchError(compute.ErrClosed))
		})

		It("tears down a lost engine", func() {
			drv.SetFaults(softgpu.Faults{LoseDeviceOnWait: 1})
			e, err := compute.New(drv, softOptions(8))
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Dispatch()).To(MatchError(compute.ErrDeviceLost))
			Expect(e.Close()).To(Succeed())
			Expect(drv.LiveObjects()).To(BeZero())
		})
	})
})
