package compute

import (
	"errors"
	"fmt"
)

var (
	// ErrNoComputeDevice indicates no physical device exposes a compute queue.
	ErrNoComputeDevice = errors.New("compute: no device with a compute queue")

	// ErrKernelLoad indicates the kernel binary is missing, unreadable or
	// not SPIR-V.
	ErrKernelLoad = errors.New("compute: kernel binary could not be loaded")

	// ErrPipelineCreation indicates the device rejected the kernel.
	ErrPipelineCreation = errors.New("compute: compute pipeline creation failed")

	// ErrNoSuitableMemoryType indicates no memory type satisfies both a
	// buffer's requirements and the requested properties.
	ErrNoSuitableMemoryType = errors.New("compute: no suitable memory type")

	// ErrBindingAllocation indicates the binding table could not be
	// allocated from its pool.
	ErrBindingAllocation = errors.New("compute: binding table allocation failed")

	// ErrSubmission indicates the queue rejected a step. The engine is
	// unusable afterwards.
	ErrSubmission = errors.New("compute: queue submission failed")

	// ErrDeviceLost indicates the device was lost or stopped answering. The
	// engine is unusable afterwards.
	ErrDeviceLost = errors.New("compute: device lost")

	// ErrConfigurationMismatch indicates the kernel and the binding table
	// disagree on slots, kinds or sizes.
	ErrConfigurationMismatch = errors.New("compute: kernel and bindings disagree")

	// ErrDeviceOwned indicates host access while the device owns mapped memory.
	ErrDeviceOwned = errors.New("compute: mapped memory is owned by the device")

	// ErrCapacity indicates more particles than the engine was built for.
	ErrCapacity = errors.New("compute: particle count exceeds capacity")

	// ErrNoResult indicates a read of the output buffer before a dispatch
	// has completed for the current input.
	ErrNoResult = errors.New("compute: no completed dispatch for the current input")

	ErrClosed = errors.New("compute: engine closed")
)

type Stage string

const (
	StageDevice    Stage = "device"
	StageKernel    Stage = "kernel"
	StageResources Stage = "resources"
	StageBindings  Stage = "bindings"
	StageCommands  Stage = "commands"
)

// SetupError reports a failure while building an engine. Nothing built before
// the failure survives it.
type SetupError struct {
	Stage Stage
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("compute: %s setup: %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// DispatchError reports a failed step.
type DispatchError struct {
	Step  uint64
	State State
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("compute: step %d (%s): %v", e.Step, e.State, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// ConfigurationMismatch reports a disagreement between the kernel and the
// binding table, found by the schema check at load time or by device
// validation at dispatch.
type ConfigurationMismatch struct {
	Role   Role
	Slot   uint32
	Detail string
	Err    error
}

func (e *ConfigurationMismatch) Error() string {
	msg := "compute: configuration mismatch"
	if e.Role != "" {
		msg += fmt.Sprintf(" at %s (slot %d)", e.Role, e.Slot)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationMismatch) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfigurationMismatch}
	}
	return []error{ErrConfigurationMismatch, e.Err}
}
