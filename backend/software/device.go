// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package software implements gpucore.Device on the CPU.
//
// The device keeps the execution model of a real GPU: submissions are queued
// and executed by a dedicated goroutine, kernel lanes run concurrently on a
// lane pool, and host reads go through asynchronous read mappings that
// resolve only after the preceding work has completed. It is the reference
// device for tests and the fallback when no adapter is available.
package software

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/orb/gpucore"
	"github.com/gogpu/orb/internal/parallel"
)

// Name is the backend name of the software device.
const Name = "software"

type mapState uint8

const (
	mapUnmapped mapState = iota
	mapPending
	mapMapped
)

// Option configures a Device.
type Option func(*Device)

// WithLanes sets the number of lane workers. Zero or negative uses GOMAXPROCS.
func WithLanes(n int) Option {
	return func(d *Device) { d.lanes = n }
}

// Device is a CPU implementation of gpucore.Device.
type Device struct {
	lanes int
	pool  *parallel.LanePool

	ops  chan queueOp
	quit chan struct{}
	wg   sync.WaitGroup

	// submitMu orders index assignment with the queue send.
	submitMu sync.Mutex

	mu        sync.Mutex
	tick      chan struct{}
	gate      chan struct{}
	submitted uint64
	completed uint64
	lost      bool
	released  bool
	failMaps  int
}

type queueOp struct {
	index uint64
	run   func()
}

// New creates a software device and starts its queue.
func New(opts ...Option) *Device {
	d := &Device{
		ops:  make(chan queueOp, 64),
		quit: make(chan struct{}),
		tick: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.pool = parallel.NewLanePool(d.lanes)

	d.wg.Add(1)
	go d.queue()
	return d
}

// Name implements gpucore.Device.
func (d *Device) Name() string { return Name }

func (d *Device) queue() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case op := <-d.ops:
			if !d.waitGate() {
				return
			}
			d.mu.Lock()
			lost := d.lost
			d.mu.Unlock()
			if !lost {
				op.run()
			}
			d.mu.Lock()
			d.completed = op.index
			d.signalLocked()
			d.mu.Unlock()
		}
	}
}

// waitGate blocks while the queue is held. It returns false on shutdown.
func (d *Device) waitGate() bool {
	d.mu.Lock()
	g := d.gate
	d.mu.Unlock()
	if g == nil {
		return true
	}
	select {
	case <-g:
		return true
	case <-d.quit:
		return false
	}
}

// must be called with d.mu held.
func (d *Device) signalLocked() {
	close(d.tick)
	d.tick = make(chan struct{})
}

func (d *Device) progress() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tick
}

// must be called with d.mu held.
func (d *Device) usableLocked() error {
	if d.released {
		return fmt.Errorf("software device: %w", gpucore.ErrReleased)
	}
	if d.lost {
		return fmt.Errorf("software device: %w", gpucore.ErrDeviceLost)
	}
	return nil
}

// enqueue assigns the next queue index to run and queues it.
func (d *Device) enqueue(validate func() error, run func()) (uint64, error) {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	d.mu.Lock()
	if err := d.usableLocked(); err != nil {
		d.mu.Unlock()
		return 0, err
	}
	if validate != nil {
		if err := validate(); err != nil {
			d.mu.Unlock()
			return 0, err
		}
	}
	d.submitted++
	index := d.submitted
	d.mu.Unlock()

	d.ops <- queueOp{index: index, run: run}
	return index, nil
}

// CreateBuffer implements gpucore.Device.
func (d *Device) CreateBuffer(desc gpucore.BufferDesc) (gpucore.Buffer, error) {
	d.mu.Lock()
	err := d.usableLocked()
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if desc.Size == 0 || !gpucore.Aligned(desc.Size) {
		return nil, fmt.Errorf("%w: %q size %d is not a positive multiple of 4",
			gpucore.ErrInvalidBuffer, desc.Label, desc.Size)
	}
	if desc.Usage&gpucore.UsageMapRead != 0 && desc.Usage&^(gpucore.UsageMapRead|gpucore.UsageCopyDst) != 0 {
		return nil, fmt.Errorf("%w: %q combines MapRead with usages other than CopyDst",
			gpucore.ErrInvalidBuffer, desc.Label)
	}
	return &buffer{
		dev:   d,
		label: desc.Label,
		size:  desc.Size,
		usage: desc.Usage,
		words: make([]uint32, desc.Size/4),
	}, nil
}

// CreateKernel implements gpucore.Device.
func (d *Device) CreateKernel(desc gpucore.KernelDesc) (gpucore.Kernel, error) {
	d.mu.Lock()
	err := d.usableLocked()
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if desc.Lane == nil {
		return nil, fmt.Errorf("%w: kernel %q has no CPU lane body", gpucore.ErrInvalidKernel, desc.Label)
	}
	desc.Bindings = append([]gpucore.BindingDecl(nil), desc.Bindings...)
	return &kernel{dev: d, desc: desc}, nil
}

// WriteBuffer implements gpucore.Device.
func (d *Device) WriteBuffer(buf gpucore.Buffer, offset uint64, data []byte) error {
	b, err := d.own(buf)
	if err != nil {
		return err
	}
	size := uint64(len(data))
	if !gpucore.Aligned(offset) || !gpucore.Aligned(size) {
		return fmt.Errorf("write %q: %w (offset %d, size %d)", b.label, gpucore.ErrMisaligned, offset, size)
	}
	if offset+size > b.size {
		return fmt.Errorf("write %q: %w", b.label, gpucore.ErrOutOfBounds)
	}
	if b.usage&gpucore.UsageCopyDst == 0 {
		return fmt.Errorf("write %q: %w: missing CopyDst usage", b.label, gpucore.ErrInvalidBuffer)
	}

	words := gpucore.BytesToWords(data)
	_, err = d.enqueue(func() error {
		if b.released {
			return fmt.Errorf("write %q: %w", b.label, gpucore.ErrReleased)
		}
		if b.state != mapUnmapped {
			return fmt.Errorf("write %q: %w", b.label, gpucore.ErrSubmitMapped)
		}
		return nil
	}, func() {
		copy(b.words[offset/4:], words)
	})
	return err
}

// CreateEncoder implements gpucore.Device.
func (d *Device) CreateEncoder(label string) (gpucore.Encoder, error) {
	d.mu.Lock()
	err := d.usableLocked()
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &encoder{dev: d, label: label, refs: make(map[*buffer]struct{})}, nil
}

// Submit implements gpucore.Device.
func (d *Device) Submit(cmds ...gpucore.CommandBuffer) (uint64, error) {
	list := make([]*commandBuffer, 0, len(cmds))
	for _, c := range cmds {
		cb, ok := c.(*commandBuffer)
		if !ok || cb.dev != d {
			return 0, fmt.Errorf("submit: %w", gpucore.ErrForeignResource)
		}
		list = append(list, cb)
	}

	return d.enqueue(func() error {
		for _, cb := range list {
			if cb.submitted {
				return fmt.Errorf("submit %q: command buffer already submitted", cb.label)
			}
			for b := range cb.refs {
				if b.released {
					return fmt.Errorf("submit %q: %q: %w", cb.label, b.label, gpucore.ErrReleased)
				}
				if b.state != mapUnmapped {
					return fmt.Errorf("submit %q: %q: %w", cb.label, b.label, gpucore.ErrSubmitMapped)
				}
			}
		}
		for _, cb := range list {
			cb.submitted = true
		}
		return nil
	}, func() {
		for _, cb := range list {
			for _, cmd := range cb.cmds {
				cmd()
			}
		}
	})
}

// MapRead implements gpucore.Device.
func (d *Device) MapRead(buf gpucore.Buffer, offset, size uint64) (gpucore.MapRequest, error) {
	b, err := d.own(buf)
	if err != nil {
		return nil, err
	}
	if b.usage&gpucore.UsageMapRead == 0 {
		return nil, fmt.Errorf("map %q: %w: missing MapRead usage", b.label, gpucore.ErrInvalidBuffer)
	}
	if !gpucore.Aligned(offset) || !gpucore.Aligned(size) {
		return nil, fmt.Errorf("map %q: %w", b.label, gpucore.ErrMisaligned)
	}
	if offset+size > b.size {
		return nil, fmt.Errorf("map %q: %w", b.label, gpucore.ErrOutOfBounds)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usableLocked(); err != nil {
		return nil, err
	}
	if b.released {
		return nil, fmt.Errorf("map %q: %w", b.label, gpucore.ErrReleased)
	}
	if b.state != mapUnmapped {
		return nil, fmt.Errorf("map %q: %w", b.label, gpucore.ErrAlreadyMapped)
	}
	b.state = mapPending
	b.mapOffset, b.mapSize = offset, size
	req := &mapRequest{dev: d, buf: b, gate: d.submitted}
	if d.failMaps > 0 {
		d.failMaps--
		req.fail = true
	}
	b.req = req
	return req, nil
}

// ReadMapped implements gpucore.Device.
func (d *Device) ReadMapped(buf gpucore.Buffer, offset, size uint64) ([]byte, error) {
	b, err := d.own(buf)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if b.state != mapMapped {
		return nil, fmt.Errorf("read %q: %w", b.label, gpucore.ErrNotMapped)
	}
	if !gpucore.Aligned(offset) || !gpucore.Aligned(size) {
		return nil, fmt.Errorf("read %q: %w", b.label, gpucore.ErrMisaligned)
	}
	if offset < b.mapOffset || offset+size > b.mapOffset+b.mapSize {
		return nil, fmt.Errorf("read %q: %w: outside mapped range", b.label, gpucore.ErrOutOfBounds)
	}
	return gpucore.WordsToBytes(b.words[offset/4 : (offset+size)/4]), nil
}

// Unmap implements gpucore.Device.
func (d *Device) Unmap(buf gpucore.Buffer) error {
	b, err := d.own(buf)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	b.state = mapUnmapped
	b.req = nil
	return nil
}

// Poll implements gpucore.Device.
func (d *Device) Poll(wait bool) bool {
	for {
		tick := d.progress()
		d.mu.Lock()
		idle := d.completed == d.submitted
		stop := d.lost || d.released
		d.mu.Unlock()
		if idle || !wait || stop {
			return idle
		}
		<-tick
	}
}

// Release implements gpucore.Device.
func (d *Device) Release() {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	d.released = true
	d.signalLocked()
	d.mu.Unlock()

	close(d.quit)
	d.wg.Wait()
	d.pool.Close()
}

// Lose simulates device loss. Pending maps fail, queued work is dropped and
// every later call reports gpucore.ErrDeviceLost.
func (d *Device) Lose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return
	}
	d.lost = true
	d.signalLocked()
}

// FailMaps makes the next n map requests resolve with gpucore.ErrMapCanceled.
func (d *Device) FailMaps(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failMaps = n
}

// Hold pauses the queue before its next operation until Resume is called.
// Poll(true) blocks while the queue is held.
func (d *Device) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate == nil {
		d.gate = make(chan struct{})
	}
}

// Resume releases a queue paused by Hold.
func (d *Device) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate != nil {
		close(d.gate)
		d.gate = nil
	}
}

// Submitted returns the index of the last queued operation.
func (d *Device) Submitted() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitted
}

func (d *Device) own(buf gpucore.Buffer) (*buffer, error) {
	b, ok := buf.(*buffer)
	if !ok || b.dev != d {
		return nil, gpucore.ErrForeignResource
	}
	return b, nil
}

// mapRequest resolves lazily: the first Status or Wait after the queue has
// passed gate moves the buffer to the mapped state.
type mapRequest struct {
	dev  *Device
	buf  *buffer
	gate uint64
	fail bool

	// guarded by dev.mu
	done bool
	err  error
}

func (r *mapRequest) Status() (bool, error) {
	r.dev.mu.Lock()
	defer r.dev.mu.Unlock()
	return r.resolveLocked()
}

// must be called with dev.mu held.
func (r *mapRequest) resolveLocked() (bool, error) {
	if r.done {
		return true, r.err
	}
	b := r.buf
	switch {
	case b.req != r || b.state != mapPending:
		r.err = fmt.Errorf("map %q: %w", b.label, gpucore.ErrMapCanceled)
	case r.dev.released:
		r.err = fmt.Errorf("map %q: %w", b.label, gpucore.ErrReleased)
	case r.dev.lost:
		b.state = mapUnmapped
		b.req = nil
		r.err = fmt.Errorf("map %q: %w", b.label, gpucore.ErrDeviceLost)
	case r.dev.completed < r.gate:
		return false, nil
	case r.fail:
		b.state = mapUnmapped
		b.req = nil
		r.err = fmt.Errorf("map %q: rejected by device: %w", b.label, gpucore.ErrMapCanceled)
	default:
		b.state = mapMapped
	}
	r.done = true
	return true, r.err
}

func (r *mapRequest) Wait(ctx context.Context) error {
	for {
		tick := r.dev.progress()
		if ready, err := r.Status(); ready {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		}
	}
}
