// Package backend selects the device a pipeline runs on.
//
// Two devices are registered by default:
//
//   - "wgpu": the GPU device of backend/wgpu (Vulkan, Metal, DX12, GLES)
//   - "software": the CPU device of backend/software, always available
//
// Open picks a device by name. The name "auto" (or "") tries devices in
// priority order, wgpu first, and falls back to the next one when a device
// cannot be opened, for example on a machine without a GPU adapter:
//
//	dev, err := backend.Open("auto")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Release()
//
//	p, err := orb.New(dev, orb.DefaultConfig())
//
// Additional devices can be added with Register.
package backend
