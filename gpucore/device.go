// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import (
	"context"

	"github.com/gogpu/gputypes"
)

// BufferUsage is a bitmask specifying how a buffer will be used.
// It is the WebGPU usage mask shared with gogpu/wgpu.
type BufferUsage = gputypes.BufferUsage

// Buffer usage flags.
const (
	UsageMapRead = gputypes.BufferUsageMapRead
	UsageCopySrc = gputypes.BufferUsageCopySrc
	UsageCopyDst = gputypes.BufferUsageCopyDst
	UsageUniform = gputypes.BufferUsageUniform
	UsageStorage = gputypes.BufferUsageStorage
)

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	// Label is used in error messages and debug output.
	Label string

	// Size is the buffer size in bytes. It must be a positive multiple of 4.
	Size uint64

	// Usage is the set of allowed usages.
	Usage BufferUsage
}

// Buffer is a device-owned linear memory allocation.
type Buffer interface {
	Label() string
	Size() uint64
	Usage() BufferUsage

	// Release frees the buffer. Releasing twice is a no-op.
	Release()
}

// Kernel is a compiled compute kernel.
type Kernel interface {
	Label() string

	// Desc returns the descriptor the kernel was created from.
	Desc() *KernelDesc

	Release()
}

// CommandBuffer is a finished, submittable command sequence.
type CommandBuffer interface {
	Label() string
}

// Encoder records copies and dispatches into a command buffer.
//
// Recording errors are sticky: the first one is kept and returned by Finish,
// and later commands are ignored.
type Encoder interface {
	// CopyBuffer copies size bytes from src to dst. Offsets and size must be
	// multiples of 4.
	CopyBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset uint64, size uint64)

	// Dispatch runs k over an x*y*z grid of workgroups. bindings[i] is bound
	// to the kernel's binding i.
	Dispatch(k Kernel, bindings []Buffer, x, y, z uint32)

	// Finish ends recording.
	Finish() (CommandBuffer, error)
}

// MapRequest is the future returned by [Device.MapRead].
type MapRequest interface {
	// Status reports without blocking whether the map has resolved, and if
	// so whether it failed.
	Status() (ready bool, err error)

	// Wait blocks until the map resolves or ctx is done. A canceled wait
	// leaves the map pending; the caller should Unmap to cancel it.
	Wait(ctx context.Context) error
}

// Device executes pipeline work.
//
// A Device is safe for use by one host goroutine at a time. Work submitted to
// the device runs asynchronously to the host.
type Device interface {
	// Name identifies the backend and adapter, e.g. "software" or
	// "wgpu (NVIDIA GeForce RTX 4090)".
	Name() string

	CreateBuffer(desc BufferDesc) (Buffer, error)
	CreateKernel(desc KernelDesc) (Kernel, error)

	// WriteBuffer schedules a host-to-device write. The write is ordered
	// before any work submitted after it returns.
	WriteBuffer(buf Buffer, offset uint64, data []byte) error

	CreateEncoder(label string) (Encoder, error)

	// Submit queues command buffers for execution and returns the
	// submission index.
	Submit(cmds ...CommandBuffer) (uint64, error)

	// MapRead starts an asynchronous read mapping of a MapRead buffer. The
	// map resolves once all work submitted before the call has completed.
	MapRead(buf Buffer, offset, size uint64) (MapRequest, error)

	// ReadMapped copies size bytes out of a mapped range.
	ReadMapped(buf Buffer, offset, size uint64) ([]byte, error)

	// Unmap ends a mapping, or cancels a pending one.
	Unmap(buf Buffer) error

	// Poll drives completion of submitted work and pending maps. With wait
	// set it blocks until the queue is idle. It reports whether the queue
	// was idle on return.
	Poll(wait bool) bool

	// Release destroys the device. Resources created from it become invalid.
	Release()
}
