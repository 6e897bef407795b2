package rhi

import (
	"errors"
	"fmt"
)

// Device errors.
var (
	// ErrTimeout is returned when WaitFence times out.
	ErrTimeout = errors.New("rhi: wait timed out")

	// ErrDeviceLost is returned after the device became unusable.
	ErrDeviceLost = errors.New("rhi: device lost")

	// ErrOutOfMemory is returned when an allocation fails.
	ErrOutOfMemory = errors.New("rhi: out of memory")

	// ErrInvalidDescriptor is returned for a descriptor that cannot be satisfied.
	ErrInvalidDescriptor = errors.New("rhi: invalid descriptor")

	// ErrForeignObject is returned when an object from another backend is passed in.
	ErrForeignObject = errors.New("rhi: object belongs to a different backend")

	// ErrDestroyed is returned when a destroyed object is used.
	ErrDestroyed = errors.New("rhi: object has been destroyed")
)

// Command buffer errors, reported by End.
var (
	// ErrNotRecording is returned when a command is recorded outside Begin/End.
	ErrNotRecording = errors.New("rhi: command buffer is not recording")

	// ErrAlreadyRecording is returned by Begin on a recording command buffer.
	ErrAlreadyRecording = errors.New("rhi: command buffer is already recording")

	// ErrRenderPassActive is returned when a render pass is still open.
	ErrRenderPassActive = errors.New("rhi: render pass is still active")

	// ErrNoRenderPass is returned for pass-scoped commands outside a render pass.
	ErrNoRenderPass = errors.New("rhi: no active render pass")

	// ErrSubpassOverflow is returned by NextSubpass on the last subpass.
	ErrSubpassOverflow = errors.New("rhi: no subpass left in render pass")

	// ErrNoPipeline is returned for a draw without a bound pipeline.
	ErrNoPipeline = errors.New("rhi: no pipeline bound")
)

// Synchronization errors.
var (
	// ErrFenceInUse is returned when a fence still guarding submitted work is
	// reset or submitted again.
	ErrFenceInUse = errors.New("rhi: fence is still in flight")

	// ErrFenceSignaled is returned when a signaled fence is passed to Submit.
	ErrFenceSignaled = errors.New("rhi: fence must be reset before submit")
)

// ResultError is a failed native call. Err is the matching sentinel above,
// if any, so errors.Is keeps working across backends.
type ResultError struct {
	Op   string
	Code int32
	Err  error
}

func (e *ResultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rhi: %s: status %d: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("rhi: %s: status %d", e.Op, e.Code)
}

func (e *ResultError) Unwrap() error { return e.Err }
