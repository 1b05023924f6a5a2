// Package compute runs N-body steps on a compute device.
//
// An [Engine] is built once from five parts, leaves first:
//
//   - [Device]: the first physical device with a compute queue and one queue
//   - [Kernel]: the SPIR-V binary, its pipeline layout and compute pipeline
//   - [Resources]: uniform, input and output buffers in host-visible,
//     host-coherent memory, mapped once for the engine lifetime
//   - [BindingTable]: one binding set following [SchemaV1]
//   - the command pool, one command buffer and one fence
//
// Each [Engine.Dispatch] resets and records the command buffer, submits it
// and waits on the fence:
//
//	Idle -> Recording -> Submitted -> Complete -> Idle
//
// A rejected submission ends in [StateFailed] and a failed or expired wait in
// [StateLost]. Neither is recovered; build a new engine.
//
// # Usage
//
//	e, err := compute.New(drv, opts)
//	if err != nil {
//	    return err
//	}
//	defer e.Close()
//	if err := e.Step(ctx, particles, 0.01); err != nil {
//	    return err
//	}
//
// [AutoSelect] falls back to [CPUBackend] when no compute device exists.
// Both implement [Stepper].
package compute
