package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu"

	"github.com/gogpu/orb/gpucore"
	"github.com/gogpu/orb/internal/cache"
)

// maxBindings is the number of bindings a kernel may declare.
const maxBindings = 8

// maxBindGroups bounds the bind groups cached per kernel.
const maxBindGroups = 64

type buffer struct {
	dev   *Device
	buf   *wgpu.Buffer
	label string
	size  uint64
	usage gpucore.BufferUsage
	once  sync.Once
}

func (b *buffer) Label() string { return b.label }
func (b *buffer) Size() uint64 { return b.size }
func (b *buffer) Usage() gpucore.BufferUsage { return b.usage }
func (b *buffer) Release() { b.once.Do(b.buf.Release) }

// bindingKey identifies the buffers of one bind group.
type bindingKey [maxBindings]*buffer

type kernel struct {
	dev      *Device
	desc     gpucore.KernelDesc
	module   *wgpu.ShaderModule
	layout   *wgpu.BindGroupLayout
	pipeLay  *wgpu.PipelineLayout
	pipeline *wgpu.ComputePipeline

	groups *cache.Cache[bindingKey, *wgpu.BindGroup]
	once   sync.Once
}

// bindingType maps a binding access mode onto its WebGPU buffer binding type.
func bindingType(a gpucore.Access) gputypes.BufferBindingType {
	switch a {
	case gpucore.AccessUniform:
		return gputypes.BufferBindingTypeUniform
	case gpucore.AccessRead:
		return gputypes.BufferBindingTypeReadOnlyStorage
	default:
		return gputypes.BufferBindingTypeStorage
	}
}

// CreateKernel implements gpucore.Device. The WGSL source is validated with
// naga before any device object is created.
func (d *Device) CreateKernel(desc gpucore.KernelDesc) (gpucore.Kernel, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if desc.WGSL == "" || desc.Entry == "" {
		return nil, fmt.Errorf("%w: kernel %q has no WGSL entry point", gpucore.ErrInvalidKernel, desc.Label)
	}
	if len(desc.Bindings) > maxBindings {
		return nil, fmt.Errorf("%w: kernel %q declares %d bindings, at most %d supported",
			gpucore.ErrInvalidKernel, desc.Label, len(desc.Bindings), maxBindings)
	}
	if _, err := naga.Compile(desc.WGSL); err != nil {
		return nil, fmt.Errorf("%w: kernel %q: %w", gpucore.ErrInvalidKernel, desc.Label, err)
	}

	k := &kernel{dev: d, desc: desc}
	k.groups = cache.New(maxBindGroups, func(_ bindingKey, bg *wgpu.BindGroup) { bg.Release() })
	if err := k.build(); err != nil {
		k.Release()
		return nil, err
	}
	return k, nil
}

func (k *kernel) build() error {
	d, desc := k.dev, &k.desc
	var err error
	k.module, err = d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: desc.Label,
		WGSL:  desc.WGSL,
	})
	if err != nil {
		return d.translate("shader module "+desc.Label, err)
	}

	entries := make([]wgpu.BindGroupLayoutEntry, len(desc.Bindings))
	for i, b := range desc.Bindings {
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: bindingType(b.Access)},
		}
	}
	k.layout, err = d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   desc.Label + "/layout",
		Entries: entries,
	})
	if err != nil {
		return d.translate("bind group layout "+desc.Label, err)
	}
	k.pipeLay, err = d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            desc.Label + "/pipeline_layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{k.layout},
	})
	if err != nil {
		return d.translate("pipeline layout "+desc.Label, err)
	}
	k.pipeline, err = d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:      desc.Label,
		Layout:     k.pipeLay,
		Module:     k.module,
		EntryPoint: desc.Entry,
	})
	if err != nil {
		return d.translate("compute pipeline "+desc.Label, err)
	}
	return nil
}

func (k *kernel) Label() string { return k.desc.Label }
func (k *kernel) Desc() *gpucore.KernelDesc { return &k.desc }

// bindGroup returns the cached bind group for bufs, creating it on first use.
func (k *kernel) bindGroup(bufs []*buffer) (*wgpu.BindGroup, error) {
	var key bindingKey
	copy(key[:], bufs)

	return k.groups.GetOrCreate(key, func() (*wgpu.BindGroup, error) {
		entries := make([]wgpu.BindGroupEntry, len(bufs))
		for i, b := range bufs {
			entries[i] = wgpu.BindGroupEntry{Binding: uint32(i), Buffer: b.buf, Size: b.size}
		}
		bg, err := k.dev.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   k.desc.Label + "/bindings",
			Layout:  k.layout,
			Entries: entries,
		})
		if err != nil {
			return nil, k.dev.translate("bind group "+k.desc.Label, err)
		}
		return bg, nil
	})
}

func (k *kernel) Release() {
	k.once.Do(func() {
		k.groups.Clear()
		if k.pipeline != nil {
			k.pipeline.Release()
		}
		if k.pipeLay != nil {
			k.pipeLay.Release()
		}
		if k.layout != nil {
			k.layout.Release()
		}
		if k.module != nil {
			k.module.Release()
		}
	})
}

// encoder records into a wgpu command encoder. Each Dispatch is its own
// compute pass so that successive stages see each other's writes.
type encoder struct {
	dev   *Device
	enc   *wgpu.CommandEncoder
	label string
	err   error
	done  bool
}

func (e *encoder) setErr(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *encoder) CopyBuffer(src gpucore.Buffer, srcOffset uint64, dst gpucore.Buffer, dstOffset uint64, size uint64) {
	if e.err != nil || e.done {
		return
	}
	s, err := e.dev.own(src)
	if err != nil {
		e.setErr(fmt.Errorf("%s: copy source: %w", e.label, err))
		return
	}
	t, err := e.dev.own(dst)
	if err != nil {
		e.setErr(fmt.Errorf("%s: copy destination: %w", e.label, err))
		return
	}
	switch {
	case !gpucore.Aligned(srcOffset) || !gpucore.Aligned(dstOffset) || !gpucore.Aligned(size):
		e.setErr(fmt.Errorf("%s: copy %q to %q: %w", e.label, s.label, t.label, gpucore.ErrMisaligned))
		return
	case srcOffset+size > s.size || dstOffset+size > t.size:
		e.setErr(fmt.Errorf("%s: copy %q to %q: %w", e.label, s.label, t.label, gpucore.ErrOutOfBounds))
		return
	}
	e.enc.CopyBufferToBuffer(s.buf, srcOffset, t.buf, dstOffset, size)
}

func (e *encoder) Dispatch(k gpucore.Kernel, bindings []gpucore.Buffer, x, y, z uint32) {
	if e.err != nil || e.done {
		return
	}
	kk, ok := k.(*kernel)
	if !ok || kk.dev != e.dev {
		e.setErr(fmt.Errorf("%s: dispatch: %w", e.label, gpucore.ErrForeignResource))
		return
	}
	if len(bindings) != len(kk.desc.Bindings) {
		e.setErr(fmt.Errorf("%w: %s: kernel %q wants %d bindings, got %d",
			gpucore.ErrInvalidKernel, e.label, kk.desc.Label, len(kk.desc.Bindings), len(bindings)))
		return
	}
	bufs := make([]*buffer, len(bindings))
	for i, b := range bindings {
		bb, err := e.dev.own(b)
		if err != nil {
			e.setErr(fmt.Errorf("%s: dispatch %q binding %d: %w", e.label, kk.desc.Label, i, err))
			return
		}
		bufs[i] = bb
	}
	if x == 0 || y == 0 || z == 0 {
		return
	}
	bg, err := kk.bindGroup(bufs)
	if err != nil {
		e.setErr(err)
		return
	}
	pass, err := e.enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: kk.desc.Label})
	if err != nil {
		e.setErr(e.dev.translate("begin pass "+kk.desc.Label, err))
		return
	}
	pass.SetPipeline(kk.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(x, y, z)
	if err := pass.End(); err != nil {
		e.setErr(e.dev.translate("end pass "+kk.desc.Label, err))
	}
}

func (e *encoder) Finish() (gpucore.CommandBuffer, error) {
	if e.done {
		return nil, fmt.Errorf("%s: %w", e.label, gpucore.ErrReleased)
	}
	e.done = true
	if e.err != nil {
		e.enc.DiscardEncoding()
		return nil, e.err
	}
	cb, err := e.enc.Finish()
	if err != nil {
		return nil, e.dev.translate("finish "+e.label, err)
	}
	return &commandBuffer{dev: e.dev, cb: cb, label: e.label}, nil
}

type commandBuffer struct {
	dev   *Device
	cb    *wgpu.CommandBuffer
	label string
}

func (c *commandBuffer) Label() string { return c.label }
