// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"
	_ "github.com/gogpu/wgpu/hal/allbackends"

	"github.com/gogpu/orb"
	"github.com/gogpu/orb/gpucore"
)

var _ gpucore.Device = (*Device)(nil)

// Name is the backend name of the wgpu device.
const Name = "wgpu"

// ErrNoDevice is returned by FromProvider when the provider has no wgpu device.
var ErrNoDevice = errors.New("wgpu backend: provider has no *wgpu.Device")

// ErrCPUAdapter is returned by New when the only adapter is the CPU
// renderer of gogpu/wgpu. Its shader interpreter drops atomic results, so
// the append lists stay empty. Use backend/software instead.
var ErrCPUAdapter = errors.New("wgpu backend: only the CPU adapter is available")

// Option configures New.
type Option func(*options)

type options struct {
	power    wgpu.PowerPreference
	fallback bool
	label    string
}

// WithLowPower prefers an integrated adapter.
func WithLowPower() Option {
	return func(o *options) { o.power = wgpu.PowerPreferenceLowPower }
}

// WithFallbackAdapter forces the software adapter of gogpu/wgpu and lets New
// accept a CPU adapter.
func WithFallbackAdapter() Option {
	return func(o *options) { o.fallback = true }
}

// WithLabel sets the device label.
func WithLabel(label string) Option {
	return func(o *options) { o.label = label }
}

// Device is a gpucore.Device backed by a wgpu device.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	name     string

	// owned is false for devices borrowed through FromProvider.
	owned bool

	mu        sync.Mutex
	submitted uint64
	lost      bool
	released  bool
}

// New creates an instance, picks an adapter and opens a device on it.
func New(opts ...Option) (*Device, error) {
	o := options{power: wgpu.PowerPreferenceHighPerformance, label: "orb"}
	for _, opt := range opts {
		opt(&o)
	}

	inst, err := wgpu.CreateInstance(&wgpu.InstanceDescriptor{Backends: wgpu.BackendsPrimary})
	if err != nil {
		return nil, fmt.Errorf("wgpu backend: create instance: %w", err)
	}
	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference:      o.power,
		ForceFallbackAdapter: o.fallback,
	})
	if err != nil {
		inst.Release()
		return nil, fmt.Errorf("wgpu backend: request adapter: %w", err)
	}
	info := adapter.Info()
	if err := checkAdapter(info, o.fallback); err != nil {
		adapter.Release()
		inst.Release()
		return nil, err
	}
	dev, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{Label: o.label})
	if err != nil {
		adapter.Release()
		inst.Release()
		return nil, fmt.Errorf("wgpu backend: request device: %w", err)
	}

	d := &Device{
		instance: inst,
		adapter:  adapter,
		device:   dev,
		queue:    dev.Queue(),
		name:     fmt.Sprintf("%s (%s)", Name, info.Name),
		owned:    true,
	}
	orb.Logger().Info("wgpu backend: device ready",
		"adapter", info.Name,
		"backend", info.Backend.String(),
		"type", info.DeviceType.String())
	return d, nil
}

// checkAdapter rejects the CPU adapter unless it was asked for.
func checkAdapter(info wgpu.AdapterInfo, allowCPU bool) error {
	if info.DeviceType == gputypes.DeviceTypeCPU && !allowCPU {
		return fmt.Errorf("%w (%s)", ErrCPUAdapter, info.Name)
	}
	return nil
}

// FromProvider wraps a device owned by the host application. Release does
// not destroy a borrowed device.
func FromProvider(p gpucontext.DeviceProvider) (*Device, error) {
	dev, ok := p.Device().(*wgpu.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("%w (got %T)", ErrNoDevice, p.Device())
	}
	queue, ok := p.Queue().(*wgpu.Queue)
	if !ok || queue == nil {
		queue = dev.Queue()
	}
	name := Name
	if info := p.AdapterInfo(); info.Name != "" {
		name = fmt.Sprintf("%s (%s)", Name, info.Name)
	}
	orb.Logger().Info("wgpu backend: using provided device", "name", name)
	return &Device{device: dev, queue: queue, name: name}, nil
}

// Name implements gpucore.Device.
func (d *Device) Name() string { return d.name }

// usable returns the error that makes the device unusable, if any.
func (d *Device) usable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.released:
		return fmt.Errorf("wgpu backend: %w", gpucore.ErrReleased)
	case d.lost:
		return fmt.Errorf("wgpu backend: %w", gpucore.ErrDeviceLost)
	}
	return nil
}

// translate maps wgpu errors onto gpucore sentinels and records device loss.
func (d *Device) translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var sentinel error
	switch {
	case errors.Is(err, wgpu.ErrDeviceLost), errors.Is(err, wgpu.ErrMapDeviceLost):
		d.mu.Lock()
		if !d.lost {
			d.lost = true
			orb.Logger().Error("wgpu backend: device lost", "op", op, "err", err)
		}
		d.mu.Unlock()
		sentinel = gpucore.ErrDeviceLost
	case errors.Is(err, wgpu.ErrReleased):
		sentinel = gpucore.ErrReleased
	case errors.Is(err, wgpu.ErrMapAlreadyMapped), errors.Is(err, wgpu.ErrMapAlreadyPending):
		sentinel = gpucore.ErrAlreadyMapped
	case errors.Is(err, wgpu.ErrMapNotMapped):
		sentinel = gpucore.ErrNotMapped
	case errors.Is(err, wgpu.ErrMapCanceled):
		sentinel = gpucore.ErrMapCanceled
	case errors.Is(err, wgpu.ErrMapAlignment):
		sentinel = gpucore.ErrMisaligned
	case errors.Is(err, wgpu.ErrMapRangeOverflow):
		sentinel = gpucore.ErrOutOfBounds
	case errors.Is(err, wgpu.ErrSubmitBufferMapped):
		sentinel = gpucore.ErrSubmitMapped
	case errors.Is(err, wgpu.ErrSubmitBufferDestroyed):
		sentinel = gpucore.ErrReleased
	default:
		return fmt.Errorf("wgpu backend: %s: %w", op, err)
	}
	return fmt.Errorf("wgpu backend: %s: %w: %w", op, sentinel, err)
}

// CreateBuffer implements gpucore.Device.
func (d *Device) CreateBuffer(desc gpucore.BufferDesc) (gpucore.Buffer, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	if desc.Size == 0 || !gpucore.Aligned(desc.Size) {
		return nil, fmt.Errorf("%w: %q size %d is not a positive multiple of 4",
			gpucore.ErrInvalidBuffer, desc.Label, desc.Size)
	}
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage,
	})
	if err != nil {
		return nil, d.translate("create buffer "+desc.Label, err)
	}
	return &buffer{dev: d, buf: buf, label: desc.Label, size: desc.Size, usage: desc.Usage}, nil
}

// WriteBuffer implements gpucore.Device.
func (d *Device) WriteBuffer(buf gpucore.Buffer, offset uint64, data []byte) error {
	if err := d.usable(); err != nil {
		return err
	}
	b, err := d.own(buf)
	if err != nil {
		return err
	}
	if !gpucore.Aligned(offset) || !gpucore.Aligned(uint64(len(data))) {
		return fmt.Errorf("write %q: %w", b.label, gpucore.ErrMisaligned)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("write %q: %w", b.label, gpucore.ErrOutOfBounds)
	}
	return d.translate("write "+b.label, d.queue.WriteBuffer(b.buf, offset, data))
}

// CreateEncoder implements gpucore.Device.
func (d *Device) CreateEncoder(label string) (gpucore.Encoder, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	enc, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, d.translate("create encoder "+label, err)
	}
	return &encoder{dev: d, enc: enc, label: label}, nil
}

// Submit implements gpucore.Device.
func (d *Device) Submit(cmds ...gpucore.CommandBuffer) (uint64, error) {
	if err := d.usable(); err != nil {
		return 0, err
	}
	list := make([]*wgpu.CommandBuffer, 0, len(cmds))
	for _, c := range cmds {
		cb, ok := c.(*commandBuffer)
		if !ok || cb.dev != d {
			return 0, fmt.Errorf("submit: %w", gpucore.ErrForeignResource)
		}
		list = append(list, cb.cb)
	}
	index, err := d.queue.Submit(list...)
	if err != nil {
		return 0, d.translate("submit", err)
	}
	d.mu.Lock()
	d.submitted = max(d.submitted, index)
	d.mu.Unlock()
	return index, nil
}

// MapRead implements gpucore.Device.
func (d *Device) MapRead(buf gpucore.Buffer, offset, size uint64) (gpucore.MapRequest, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	b, err := d.own(buf)
	if err != nil {
		return nil, err
	}
	pending, err := b.buf.MapAsync(wgpu.MapModeRead, offset, size)
	if err != nil {
		return nil, d.translate("map "+b.label, err)
	}
	return &mapRequest{dev: d, buf: b, pending: pending}, nil
}

// ReadMapped implements gpucore.Device.
func (d *Device) ReadMapped(buf gpucore.Buffer, offset, size uint64) ([]byte, error) {
	b, err := d.own(buf)
	if err != nil {
		return nil, err
	}
	rng, err := b.buf.MappedRange(offset, size)
	if err != nil {
		return nil, d.translate("read "+b.label, err)
	}
	defer rng.Release()
	return append([]byte(nil), rng.Bytes()...), nil
}

// Unmap implements gpucore.Device. Unmapping a buffer that is not mapped is
// a no-op.
func (d *Device) Unmap(buf gpucore.Buffer) error {
	b, err := d.own(buf)
	if err != nil {
		return err
	}
	if err := b.buf.Unmap(); err != nil && !errors.Is(err, wgpu.ErrMapNotMapped) {
		return d.translate("unmap "+b.label, err)
	}
	return nil
}

// Poll implements gpucore.Device.
func (d *Device) Poll(wait bool) bool {
	if d.usable() != nil {
		return false
	}
	if wait {
		d.device.Poll(wgpu.PollWait)
	} else {
		d.device.Poll(wgpu.PollPoll)
	}
	d.mu.Lock()
	submitted := d.submitted
	d.mu.Unlock()
	return d.queue.Poll() >= submitted
}

// Release implements gpucore.Device. A device from FromProvider is left to
// its owner.
func (d *Device) Release() {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	d.released = true
	d.mu.Unlock()

	if !d.owned {
		return
	}
	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
}

func (d *Device) own(buf gpucore.Buffer) (*buffer, error) {
	b, ok := buf.(*buffer)
	if !ok || b.dev != d {
		return nil, gpucore.ErrForeignResource
	}
	return b, nil
}

// mapRequest wraps a pending wgpu map.
type mapRequest struct {
	dev     *Device
	buf     *buffer
	pending *wgpu.MapPending
}

func (r *mapRequest) Status() (bool, error) {
	r.dev.device.Poll(wgpu.PollPoll)
	ready, err := r.pending.Status()
	return ready, r.dev.translate("map "+r.buf.label, err)
}

func (r *mapRequest) Wait(ctx context.Context) error {
	if ready, err := r.Status(); ready {
		return err
	}
	go r.dev.device.Poll(wgpu.PollWait)
	err := r.pending.Wait(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	return r.dev.translate("map "+r.buf.label, err)
}
