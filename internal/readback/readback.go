// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package readback moves device results to the host through staging mirrors.
//
// Each readable buffer has a host-mappable mirror. A cycle records a copy of
// the source into its mirror (Request); after submission the host maps the
// mirror, waits for the device, copies the bytes out and unmaps (Resolve).
// Resolve is the only blocking point of the pipeline. Callers that must not
// block can check Ready first.
//
// Mirror states follow the buffer map protocol:
//
//	Unmapped --Resolve/Map--> Pending --device done--> Mapped --Unmap--> Unmapped
//
// Recording a copy into a mirror that is not Unmapped fails with ErrBusy
// instead of racing the host's view of the data.
package readback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/orb/gpucore"
)

// Readback errors.
var (
	// ErrBusy is returned when a mirror is still mapped or has a map pending.
	ErrBusy = errors.New("readback: staging mirror is still mapped")

	// ErrStale is returned for a handle recorded in an earlier generation.
	ErrStale = errors.New("readback: handle belongs to an earlier cycle")

	// ErrMapFailed is returned when the device rejects or cancels a map.
	ErrMapFailed = errors.New("readback: map failed")

	// ErrUnknownMirror is returned for a name without a mirror.
	ErrUnknownMirror = errors.New("readback: no mirror for buffer")
)

// MapState is the host-visible state of a mirror.
type MapState uint8

const (
	Unmapped MapState = iota
	Pending
	Mapped
)

// String returns the state name.
func (s MapState) String() string {
	switch s {
	case Unmapped:
		return "unmapped"
	case Pending:
		return "pending"
	case Mapped:
		return "mapped"
	default:
		return fmt.Sprintf("MapState(%d)", s)
	}
}

// mirror pairs a source buffer with its staging copy.
type mirror struct {
	name    string
	src     gpucore.Buffer
	staging gpucore.Buffer

	state MapState
	// copied is the generation whose copy the staging buffer holds.
	copied uint64
	maps   uint64
}

// Reader owns the staging mirrors of one pipeline.
type Reader struct {
	dev gpucore.Device

	mu         sync.Mutex
	mirrors    map[string]*mirror
	generation uint64
	maps       uint64
	requests   uint64
}

// New creates a reader for dev.
func New(dev gpucore.Device) *Reader {
	return &Reader{dev: dev, mirrors: make(map[string]*mirror)}
}

// Mirror creates the staging mirror of src under name.
func (r *Reader) Mirror(name string, src gpucore.Buffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.mirrors[name]; ok {
		return fmt.Errorf("readback: mirror %q already exists", name)
	}
	staging, err := r.dev.CreateBuffer(gpucore.BufferDesc{
		Label: name + "/staging",
		Size:  src.Size(),
		Usage: gpucore.UsageMapRead | gpucore.UsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("readback: mirror %q: %w", name, err)
	}
	r.mirrors[name] = &mirror{name: name, src: src, staging: staging}
	return nil
}

// Begin starts a new generation. Handles from earlier generations become
// stale. It returns the new generation number.
func (r *Reader) Begin() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	return r.generation
}

// Handle is a pending readback of one mirror.
type Handle struct {
	name       string
	generation uint64
}

// Name returns the mirrored buffer name.
func (h *Handle) Name() string { return h.name }

// Request records the copy of the named source into its mirror. It fails
// fast with ErrBusy when the mirror is not Unmapped.
func (r *Reader) Request(enc gpucore.Encoder, name string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mirrors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMirror, name)
	}
	if m.state != Unmapped {
		return nil, fmt.Errorf("%w: %q is %s", ErrBusy, name, m.state)
	}
	enc.CopyBuffer(m.src, 0, m.staging, 0, m.src.Size())
	m.copied = r.generation
	r.requests++
	return &Handle{name: name, generation: r.generation}, nil
}

// lookup checks h against the current generation.
func (r *Reader) lookup(h *Handle) (*mirror, error) {
	m, ok := r.mirrors[h.name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMirror, h.name)
	}
	if h.generation != r.generation || m.copied != h.generation {
		return nil, fmt.Errorf("%w: %q from generation %d, current %d",
			ErrStale, h.name, h.generation, r.generation)
	}
	return m, nil
}

// View is a mapped range of a mirror. The bytes stay valid until Unmap.
type View struct {
	r    *Reader
	m    *mirror
	data []byte
}

// Bytes returns the mapped bytes.
func (v *View) Bytes() []byte { return v.data }

// Unmap releases the mirror for the next cycle.
func (v *View) Unmap() error {
	v.r.mu.Lock()
	defer v.r.mu.Unlock()
	if v.m.state != Mapped {
		return nil
	}
	v.m.state = Unmapped
	v.data = nil
	return v.r.dev.Unmap(v.m.staging)
}

// Map maps size bytes at the start of h's mirror and blocks until the
// device has finished the work that wrote them. The mirror stays mapped
// until the view is unmapped; recording into it before then fails with
// ErrBusy.
func (r *Reader) Map(ctx context.Context, h *Handle, size uint64) (*View, error) {
	r.mu.Lock()
	m, err := r.lookup(h)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if m.state != Unmapped {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q is %s", ErrBusy, m.name, m.state)
	}
	if size > m.staging.Size() {
		r.mu.Unlock()
		return nil, fmt.Errorf("readback: %q: %w: %d > %d", m.name, gpucore.ErrOutOfBounds, size, m.staging.Size())
	}
	req, err := r.dev.MapRead(m.staging, 0, size)
	if err != nil {
		r.mu.Unlock()
		return nil, mapError(m.name, err)
	}
	m.state = Pending
	m.maps++
	r.maps++
	r.mu.Unlock()

	// Wait outside the lock: this is the blocking point.
	waitErr := req.Wait(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if waitErr != nil {
		m.state = Unmapped
		_ = r.dev.Unmap(m.staging)
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(waitErr, ctxErr) {
			return nil, fmt.Errorf("readback: %q: %w", m.name, waitErr)
		}
		return nil, mapError(m.name, waitErr)
	}
	data, err := r.dev.ReadMapped(m.staging, 0, size)
	if err != nil {
		m.state = Unmapped
		_ = r.dev.Unmap(m.staging)
		return nil, mapError(m.name, err)
	}
	m.state = Mapped
	return &View{r: r, m: m, data: data}, nil
}

// Resolve maps, copies and unmaps the first size bytes of h's mirror.
// A zero size returns nil without mapping.
func (r *Reader) Resolve(ctx context.Context, h *Handle, size uint64) ([]byte, error) {
	if size == 0 {
		r.mu.Lock()
		_, err := r.lookup(h)
		r.mu.Unlock()
		return nil, err
	}
	v, err := r.Map(ctx, h, size)
	if err != nil {
		return nil, err
	}
	data := v.Bytes()
	if err := v.Unmap(); err != nil {
		return nil, mapError(h.name, err)
	}
	return data, nil
}

// Ready reports without blocking whether the device has finished the work
// recorded before the last submission.
func (r *Reader) Ready() bool {
	return r.dev.Poll(false)
}

// State returns the map state of the named mirror.
func (r *Reader) State(name string) (MapState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mirrors[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMirror, name)
	}
	return m.state, nil
}

// Stats is a snapshot of reader counters.
type Stats struct {
	Requests uint64
	Maps     uint64

	// MapsByMirror counts maps per mirrored buffer name.
	MapsByMirror map[string]uint64
}

// Stats returns the reader counters.
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	by := make(map[string]uint64, len(r.mirrors))
	for name, m := range r.mirrors {
		by[name] = m.maps
	}
	return Stats{Requests: r.requests, Maps: r.maps, MapsByMirror: by}
}

// Release unmaps and releases every mirror.
func (r *Reader) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mirrors {
		if m.state != Unmapped {
			_ = r.dev.Unmap(m.staging)
		}
		m.staging.Release()
	}
	r.mirrors = map[string]*mirror{}
}

// mapError classifies a device map failure.
func mapError(name string, err error) error {
	if errors.Is(err, gpucore.ErrDeviceLost) {
		return fmt.Errorf("readback: %q: %w", name, err)
	}
	return fmt.Errorf("%w: %q: %w", ErrMapFailed, name, err)
}
