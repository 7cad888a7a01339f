// Package gpucore provides the backend-neutral device contract used by the
// orb feature pipeline.
//
// The [Device] interface abstracts over the backends that can execute the
// pipeline, allowing the same orchestration code to drive:
//   - gogpu/wgpu (Pure Go WebGPU, see backend/wgpu)
//   - the CPU reference device (see backend/software)
//
// # Architecture
//
// The contract follows the WebGPU execution model closely:
//
//	+----------------+     +-----------+     +------------------+
//	| Encoder        | --> | Command   | --> | Device.Submit    |
//	| Copy, Dispatch |     | Buffer    |     | (ordered queue)  |
//	+----------------+     +-----------+     +--------+---------+
//	                                                  |
//	                       +--------------------------v---------+
//	                       | MapRead -> MapRequest.Wait -> Read |
//	                       | -> Unmap (staging buffers only)    |
//	                       +------------------------------------+
//
// Work recorded into one command buffer executes in recording order and
// every pass observes the writes of the passes recorded before it. Nothing
// survives across submissions except buffer contents.
//
// # Kernels
//
// A [KernelDesc] carries both a WGSL body for GPU backends and a [LaneFunc]
// for the software device. Bindings are declared by resource name and access
// mode; the binding index is the position in [KernelDesc.Bindings].
//
// # Errors
//
// Backends translate their native failures into the sentinel errors of this
// package ([ErrDeviceLost], [ErrAlreadyMapped], ...) wrapped with context, so
// callers test them with [errors.Is].
package gpucore
