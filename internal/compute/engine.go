package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/san-kum/nbodyvk/internal/hal"
	"github.com/san-kum/nbodyvk/internal/physics"
)

type State int

const (
	StateIdle State = iota
	StateRecording
	StateSubmitted
	StateComplete
	StateLost
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateSubmitted:
		return "submitted"
	case StateComplete:
		return "complete"
	case StateLost:
		return "lost"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further dispatch is possible.
func (s State) Terminal() bool {
	return s == StateLost || s == StateFailed || s == StateClosed
}

// Owner says who may touch the mapped buffers.
type Owner int

const (
	OwnerHost Owner = iota
	OwnerDevice
)

func (o Owner) String() string {
	if o == OwnerDevice {
		return "device"
	}
	return "host"
}

const DefaultWaitTimeout = 5 * time.Second

type Options struct {
	DeviceIndex int
	Kernel      KernelOptions
	Capacity    int
	// MemoryProperties every buffer's memory type must carry.
	MemoryProperties hal.MemoryProperty
	// WaitTimeout bounds the fence wait of one step. Expiry counts as device
	// loss.
	WaitTimeout time.Duration
	// Integrator is used by the CPU backend AutoSelect falls back to.
	Integrator Integrator
	Logger     *slog.Logger
	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

func DefaultOptions() Options {
	return Options{
		DeviceIndex: AnyDevice,
		Kernel: KernelOptions{
			EntryPoint: DefaultEntryPoint,
			LocalSize:  DefaultLocalSize,
			Schema:     SchemaV1,
		},
		Capacity:         MaxParticleCount,
		MemoryProperties: HostShared,
		WaitTimeout:      DefaultWaitTimeout,
	}
}

// Stats are running dispatch timings.
type Stats struct {
	Steps     uint64
	LastStep  time.Duration
	TotalStep time.Duration
}

func (s Stats) Mean() time.Duration {
	if s.Steps == 0 {
		return 0
	}
	return s.TotalStep / time.Duration(s.Steps)
}

// Engine runs one simulation step per Dispatch on a compute device. It is
// driven from a single goroutine.
type Engine struct {
	driver  string
	device  *Device
	kernel  *Kernel
	res     *Resources
	table   *BindingTable
	cmdPool hal.CommandPool
	cmd     hal.CommandBuffer
	fence   hal.Fence

	opts      Options
	log       *slog.Logger
	localSize uint32
	state     State
	owner     Owner
	params    StepParameters
	stats     Stats

	// outputValid is set when the output buffer holds the result of the
	// current input and dt.
	outputValid bool
}

// New builds the device, kernel, resources, binding table and command
// objects in that order. On error everything already built is destroyed.
func New(drv hal.Driver, opts Options) (*Engine, error) {
	def := DefaultOptions()
	if opts.Capacity == 0 {
		opts.Capacity = def.Capacity
	}
	if opts.MemoryProperties == 0 {
		opts.MemoryProperties = def.MemoryProperties
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = def.WaitTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		driver: drv.Name(),
		opts:   opts,
		log:    opts.Logger.With("component", "compute"),
	}
	if err := e.build(drv); err != nil {
		e.teardown()
		e.log.Error("engine setup failed", "error", err)
		return nil, err
	}
	e.log.Info("engine ready",
		"device", e.device.Properties().Name,
		"capacity", e.res.Capacity(),
		"local_size", e.kernel.LocalSize(),
		"entry_point", e.kernel.EntryPoint())
	return e, nil
}

func (e *Engine) build(drv hal.Driver) error {
	var err error
	if e.device, err = OpenDevice(drv, e.opts.DeviceIndex, e.log); err != nil {
		return &SetupError{Stage: StageDevice, Err: err}
	}
	if e.kernel, err = LoadKernel(e.device, e.opts.Kernel); err != nil {
		return &SetupError{Stage: StageKernel, Err: err}
	}
	e.localSize = e.kernel.LocalSize()
	if e.res, err = AllocateResources(e.device, e.opts.Capacity, e.opts.MemoryProperties, e.log); err != nil {
		return &SetupError{Stage: StageResources, Err: err}
	}
	if e.table, err = BuildBindingTable(e.device, e.kernel, e.res); err != nil {
		return &SetupError{Stage: StageBindings, Err: err}
	}
	dev := e.device.Handle()
	if e.cmdPool, err = dev.CreateCommandPool(e.device.Family()); err != nil {
		return &SetupError{Stage: StageCommands, Err: err}
	}
	if e.cmd, err = e.cmdPool.Allocate(); err != nil {
		return &SetupError{Stage: StageCommands, Err: err}
	}
	if e.fence, err = dev.CreateFence(); err != nil {
		return &SetupError{Stage: StageCommands, Err: err}
	}
	e.res.writeParams(e.params)
	return nil
}

func (e *Engine) teardown() {
	if e.fence != nil {
		e.fence.Destroy()
		e.fence = nil
	}
	if e.cmdPool != nil {
		e.cmdPool.Destroy()
		e.cmdPool = nil
		e.cmd = nil
	}
	if e.table != nil {
		e.table.Destroy()
		e.table = nil
	}
	if e.res != nil {
		e.res.Destroy()
		e.res = nil
	}
	if e.kernel != nil {
		e.kernel.Destroy()
		e.kernel = nil
	}
	if e.device != nil {
		e.device.Close()
		e.device = nil
	}
}

func (e *Engine) transition(to State) {
	from := e.state
	e.state = to
	if e.opts.OnTransition != nil {
		e.opts.OnTransition(from, to)
	}
}

func (e *Engine) Name() string      { return "gpu:" + e.driver }
func (e *Engine) State() State      { return e.state }
func (e *Engine) Owner() Owner      { return e.owner }
func (e *Engine) Capacity() int     { return e.opts.Capacity }
func (e *Engine) LocalSize() uint32 { return e.localSize }
func (e *Engine) Stats() Stats      { return e.stats }

// Params decodes the mapped uniform block the next dispatch reads.
func (e *Engine) Params() StepParameters {
	if e.res == nil {
		return e.params
	}
	return e.res.readParams()
}

func (e *Engine) DeviceName() string {
	if e.device == nil {
		return ""
	}
	return e.device.Properties().Name
}

// Groups is the workgroup count the next dispatch records.
func (e *Engine) Groups() uint32 {
	return WorkgroupCount(e.params.ParticleCount, e.localSize)
}

func (e *Engine) hostAccess() error {
	if e.state == StateClosed {
		return ErrClosed
	}
	if e.owner == OwnerDevice {
		return ErrDeviceOwned
	}
	return nil
}

// leaveComplete returns a completed engine to Idle before the host changes
// the next step's inputs.
func (e *Engine) leaveComplete() {
	if e.state == StateComplete {
		e.transition(StateIdle)
	}
}

// WriteParticles copies ps into the mapped input buffer and sets the
// particle count of the next dispatch to len(ps).
func (e *Engine) WriteParticles(ps []physics.Particle) error {
	if err := e.hostAccess(); err != nil {
		return err
	}
	if len(ps) > e.opts.Capacity {
		return fmt.Errorf("%w: %d particles, capacity %d", ErrCapacity, len(ps), e.opts.Capacity)
	}
	if err := e.res.writeInput(ps); err != nil {
		return err
	}
	e.leaveComplete()
	e.outputValid = false
	e.params.ParticleCount = uint32(len(ps))
	e.res.writeParams(e.params)
	return nil
}

func (e *Engine) SetTimeStep(dt float32) error {
	if err := e.hostAccess(); err != nil {
		return err
	}
	e.leaveComplete()
	e.outputValid = false
	e.params.DT = dt
	e.res.writeParams(e.params)
	return nil
}

// ReadInput returns the particles currently in the input buffer.
func (e *Engine) ReadInput() ([]physics.Particle, error) {
	if err := e.hostAccess(); err != nil {
		return nil, err
	}
	out := make([]physics.Particle, e.params.ParticleCount)
	if err := e.res.readInput(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadOutput returns the particles the last dispatch wrote, one per input
// particle. It fails with ErrNoResult until a dispatch of the current input
// has completed.
func (e *Engine) ReadOutput() ([]physics.Particle, error) {
	out := make([]physics.Particle, e.params.ParticleCount)
	if err := e.ReadOutputInto(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) ReadOutputInto(dst []physics.Particle) error {
	if err := e.hostAccess(); err != nil {
		return err
	}
	if !e.outputValid {
		return ErrNoResult
	}
	if len(dst) != int(e.params.ParticleCount) {
		return fmt.Errorf("compute: read %d particles, last write had %d", len(dst), e.params.ParticleCount)
	}
	return e.res.readOutput(dst)
}

func (e *Engine) dispatchError(err error) error {
	return &DispatchError{Step: e.stats.Steps + 1, State: e.state, Err: err}
}

// Dispatch records, submits and waits for one step. It is valid from Idle
// or Complete. A submission failure leaves the engine Failed and a failed
// wait leaves it Lost; both are final.
func (e *Engine) Dispatch() error {
	switch e.state {
	case StateIdle, StateComplete:
	case StateLost:
		return e.dispatchError(ErrDeviceLost)
	case StateFailed:
		return e.dispatchError(ErrSubmission)
	case StateClosed:
		return ErrClosed
	default:
		return e.dispatchError(fmt.Errorf("compute: dispatch while %s", e.state))
	}

	groups := e.Groups()
	start := time.Now()
	e.outputValid = false
	e.owner = OwnerDevice
	e.transition(StateRecording)
	if err := e.record(groups); err != nil {
		e.owner = OwnerHost
		e.transition(StateFailed)
		return e.dispatchError(fmt.Errorf("%w: record: %w", ErrSubmission, err))
	}

	if err := e.device.Queue().Submit(e.cmd, e.fence); err != nil {
		return e.submitFailed(err)
	}
	e.transition(StateSubmitted)

	if err := e.fence.Wait(e.opts.WaitTimeout); err != nil {
		e.transition(StateLost)
		e.owner = OwnerHost
		e.log.Error("fence wait failed", "step", e.stats.Steps+1, "timeout", e.opts.WaitTimeout, "error", err)
		if errors.Is(err, hal.ErrTimeout) {
			return e.dispatchError(fmt.Errorf("%w: no completion within %s: %w", ErrDeviceLost, e.opts.WaitTimeout, err))
		}
		return e.dispatchError(fmt.Errorf("%w: %w", ErrDeviceLost, err))
	}
	if err := e.fence.Reset(); err != nil {
		e.transition(StateLost)
		e.owner = OwnerHost
		return e.dispatchError(fmt.Errorf("%w: fence reset: %w", ErrDeviceLost, err))
	}

	elapsed := time.Since(start)
	e.stats.Steps++
	e.stats.LastStep = elapsed
	e.stats.TotalStep += elapsed
	e.owner = OwnerHost
	e.outputValid = true
	e.transition(StateComplete)
	e.log.Debug("step complete", "step", e.stats.Steps, "groups", groups, "elapsed", elapsed)
	return nil
}

func (e *Engine) record(groups uint32) error {
	if err := e.cmd.Reset(); err != nil {
		return err
	}
	if err := e.cmd.Begin(); err != nil {
		return err
	}
	e.cmd.BindPipeline(e.kernel.pipeline)
	e.cmd.BindSet(e.kernel.pipelineLayout, e.table.set)
	e.cmd.Dispatch(groups, 1, 1)
	return e.cmd.End()
}

func (e *Engine) submitFailed(err error) error {
	e.owner = OwnerHost
	switch {
	case errors.Is(err, hal.ErrDeviceLost):
		e.transition(StateLost)
		return e.dispatchError(fmt.Errorf("%w: %w", ErrDeviceLost, err))
	case errors.Is(err, hal.ErrValidation):
		e.transition(StateFailed)
		return e.dispatchError(&ConfigurationMismatch{Detail: "rejected by device validation", Err: fmt.Errorf("%w: %w", ErrSubmission, err)})
	default:
		e.transition(StateFailed)
		e.log.Error("submission rejected", "step", e.stats.Steps+1, "error", err)
		return e.dispatchError(fmt.Errorf("%w: %w", ErrSubmission, err))
	}
}

// Step writes ps and dt, dispatches once and copies the result back into ps.
func (e *Engine) Step(ctx context.Context, ps []physics.Particle, dt float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.WriteParticles(ps); err != nil {
		return err
	}
	if err := e.SetTimeStep(dt); err != nil {
		return err
	}
	if err := e.Dispatch(); err != nil {
		return err
	}
	return e.ReadOutputInto(ps)
}

// Close waits for the device to go idle and destroys everything in reverse
// creation order. It is safe to call more than once.
func (e *Engine) Close() error {
	if e.state == StateClosed {
		return nil
	}
	var err error
	if e.device != nil && e.state != StateLost {
		if werr := e.device.Handle().WaitIdle(); werr != nil && !errors.Is(werr, hal.ErrDeviceLost) {
			err = fmt.Errorf("compute: wait idle: %w", werr)
		}
	}
	e.teardown()
	e.owner = OwnerHost
	e.transition(StateClosed)
	e.log.Info("engine closed", "steps", e.stats.Steps)
	return err
}
