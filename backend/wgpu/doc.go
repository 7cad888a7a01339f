// Package wgpu implements gpucore.Device on gogpu/wgpu, the Pure Go WebGPU
// implementation (Vulkan, Metal, DX12, GLES).
//
// # Kernels
//
// Every kernel's WGSL is validated with gogpu/naga before the shader module
// is created, so shader errors carry source positions. A kernel owns one
// bind group layout derived from its binding declarations: uniform bindings
// become uniform buffers, read bindings read-only storage buffers and
// read-write bindings storage buffers. Bind groups are cached per binding
// set, so a pipeline that binds the same buffers every cycle creates them
// once.
//
// # Readback
//
// MapRead starts an asynchronous map. Wait drives Device.Poll on a helper
// goroutine while it blocks, so callers never have to poll by hand.
//
// # Usage
//
//	dev, err := wgpu.New()
//	if err != nil {
//	    // no adapter, or only the CPU one: fall back to backend/software
//	}
//	defer dev.Release()
//
// Applications that already own a device (for example a gogpu window) pass
// it in through gpucontext:
//
//	dev, err := wgpu.FromProvider(app)
package wgpu
