// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package orb

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/gogpu/orb/gpucore"
	"github.com/gogpu/orb/internal/appendbuf"
	"github.com/gogpu/orb/internal/cycle"
	"github.com/gogpu/orb/internal/keyframe"
	"github.com/gogpu/orb/internal/kernels"
	"github.com/gogpu/orb/internal/readback"
	"github.com/gogpu/orb/internal/store"
)

// Option configures a Pipeline.
type Option func(*options)

type options struct {
	logger *slog.Logger
	stages *kernels.Set
}

// WithLogger sets the pipeline logger. Without it the pipeline logs to the
// package logger (see SetLogger).
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// withStages replaces the stage contracts.
func withStages(s kernels.Set) Option {
	return func(o *options) { o.stages = &s }
}

// CycleOptions selects the optional passes of a cycle.
type CycleOptions struct {
	// RecordKeyframe copies the cycle's features into the keyframe after
	// detection, description and matching.
	RecordKeyframe bool

	// ComputeMatches matches the cycle's descriptors against the keyframe
	// recorded by an earlier cycle.
	ComputeMatches bool
}

// Buffer usages.
const (
	listUsage    = gpucore.UsageStorage | gpucore.UsageCopySrc | gpucore.UsageCopyDst
	surfaceUsage = gpucore.UsageStorage
)

// mirrored lists the buffers with staging mirrors.
var mirrored = []string{
	kernels.LatestCounter,
	kernels.LatestCorners,
	kernels.LatestDescriptors,
	kernels.MatchCounter,
	kernels.Matches,
	kernels.PreviousCounter,
	kernels.PreviousCorners,
	kernels.PreviousDescriptors,
}

// Pipeline runs the feature pipeline on one device.
//
// A Pipeline is driven by a single host goroutine at a time; its methods
// serialize on an internal lock. The device and the resources created on it
// belong to the caller and to the pipeline respectively: Close releases the
// pipeline's resources but not the device.
type Pipeline struct {
	id     uuid.UUID
	cfg    Config
	params kernels.Params
	dev    gpucore.Device
	stages kernels.Set
	log    *slog.Logger

	store  *store.Store
	keys   *keyframe.Store
	reader *readback.Reader

	mu      sync.Mutex
	machine cycle.Machine
	cycles  uint64
	last    *cycleResult
	err     error
	closed  bool

	cornerSaturations uint64
	matchSaturations  uint64
}

// New configures a pipeline on dev: it validates cfg, creates every buffer
// and kernel the cycle uses and uploads the parameters and the descriptor
// sampling pattern.
func New(dev gpucore.Device, cfg Config, opts ...Option) (*Pipeline, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pipeline{
		id:     uuid.New(),
		cfg:    cfg,
		params: cfg.params(),
		dev:    dev,
		stages: kernels.Default(),
		store:  store.New(dev),
		reader: readback.New(dev),
	}
	if o.stages != nil {
		p.stages = *o.stages
	}
	p.log = o.logger
	if err := p.init(); err != nil {
		p.release()
		return nil, err
	}
	p.logger().Info("orb: pipeline created",
		"device", dev.Name(),
		"width", cfg.Width,
		"height", cfg.Height,
		"maxFeatures", cfg.MaxFeatures,
		"maxMatches", cfg.MaxMatches,
		"bytes", p.store.Bytes())
	return p, nil
}

func (p *Pipeline) init() error {
	w, h := p.params.Width, p.params.Height
	nf, nm := uint64(p.params.MaxFeatures), uint64(p.params.MaxMatches)

	buffers := []struct {
		name  string
		size  uint64
		usage gpucore.BufferUsage
	}{
		{kernels.ParamsBuffer, kernels.ParamsBytes, gpucore.UsageUniform | gpucore.UsageCopyDst},
		{kernels.Frame, uint64(w) * uint64(h) * 4, gpucore.UsageStorage | gpucore.UsageCopyDst},
		{kernels.Pattern, kernels.PatternWords * 4, gpucore.UsageStorage | gpucore.UsageCopyDst},
		{kernels.ZeroWord, appendbuf.CounterBytes, gpucore.UsageCopySrc},
		{kernels.LatestCorners, nf * kernels.CornerWords * 4, listUsage},
		{kernels.LatestCounter, appendbuf.CounterBytes, listUsage},
		{kernels.LatestDescriptors, nf * kernels.DescriptorWords * 4, listUsage},
		{kernels.PreviousCorners, nf * kernels.CornerWords * 4, listUsage},
		{kernels.PreviousCounter, appendbuf.CounterBytes, listUsage},
		{kernels.PreviousDescriptors, nf * kernels.DescriptorWords * 4, listUsage},
		{kernels.Matches, nm * kernels.MatchWords * 4, listUsage},
		{kernels.MatchCounter, appendbuf.CounterBytes, listUsage},
	}
	for _, b := range buffers {
		if _, err := p.store.CreateBuffer(b.name, b.size, b.usage); err != nil {
			return err
		}
	}
	for _, name := range []string{kernels.Gray, kernels.BlurTmp, kernels.Blurred} {
		if _, err := p.store.CreateSurface(name, w, h, surfaceUsage); err != nil {
			return err
		}
	}
	for _, st := range p.stages.Stages() {
		if _, err := p.store.CreateKernel(st.Kernel); err != nil {
			return err
		}
	}

	latest, err := p.set(kernels.LatestCorners, kernels.LatestCounter, kernels.LatestDescriptors)
	if err != nil {
		return err
	}
	previous, err := p.set(kernels.PreviousCorners, kernels.PreviousCounter, kernels.PreviousDescriptors)
	if err != nil {
		return err
	}
	if p.keys, err = keyframe.New(latest, previous); err != nil {
		return err
	}

	for _, name := range mirrored {
		src, err := p.store.Buffer(name)
		if err != nil {
			return err
		}
		if err := p.reader.Mirror(name, src); err != nil {
			return err
		}
	}

	if err := p.write(kernels.ParamsBuffer, p.params.Bytes()); err != nil {
		return err
	}
	return p.write(kernels.Pattern, kernels.PatternBytes(kernels.BriefPattern()))
}

func (p *Pipeline) set(corners, counter, descriptors string) (keyframe.Set, error) {
	bufs, err := p.store.Resolve([]string{corners, counter, descriptors})
	if err != nil {
		return keyframe.Set{}, err
	}
	return keyframe.Set{Corners: bufs[0], Counter: bufs[1], Descriptors: bufs[2]}, nil
}

func (p *Pipeline) write(name string, data []byte) error {
	buf, err := p.store.Buffer(name)
	if err != nil {
		return err
	}
	if err := p.dev.WriteBuffer(buf, 0, data); err != nil {
		return fmt.Errorf("orb: write %q: %w", name, err)
	}
	return nil
}

func (p *Pipeline) logger() *slog.Logger {
	l := p.log
	if l == nil {
		l = Logger()
	}
	return l.With("pipeline", p.id.String())
}

// ID returns the pipeline's identity as used in logs.
func (p *Pipeline) ID() uuid.UUID { return p.id }

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// check returns the error that makes the pipeline unusable, if any.
// must be called with p.mu held.
func (p *Pipeline) check() error {
	if p.closed {
		return ErrClosed
	}
	return p.err
}

// fail records device loss. must be called with p.mu held.
func (p *Pipeline) fail(err error) error {
	if errors.Is(err, gpucore.ErrDeviceLost) && p.err == nil {
		p.err = fmt.Errorf("orb: pipeline %s: %w", p.id, gpucore.ErrDeviceLost)
		p.last = nil
		p.logger().Error("orb: device lost", "err", err)
	}
	return err
}

// WriteFrame uploads an RGBA8 frame of Width*Height*4 bytes. The frame is
// used by every following cycle until it is overwritten.
func (p *Pipeline) WriteFrame(pix []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.check(); err != nil {
		return err
	}
	want := p.cfg.Width * p.cfg.Height * 4
	if len(pix) != want {
		return fmt.Errorf("%w: got %d bytes, want %d (%dx%d RGBA)",
			ErrFrameSize, len(pix), want, p.cfg.Width, p.cfg.Height)
	}
	return p.fail(p.write(kernels.Frame, pix))
}

// WriteImage converts img with FrameFromImage and uploads it.
func (p *Pipeline) WriteImage(img image.Image) error {
	return p.WriteFrame(FrameFromImage(img, p.cfg.Width, p.cfg.Height))
}

// RunCycle records and submits one cycle. It does not wait for the device.
// Results of earlier cycles become unreadable once it returns.
//
// ctx is checked before submission only; a submitted cycle cannot be
// canceled.
func (p *Pipeline) RunCycle(ctx context.Context, opts CycleOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.check(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	number := p.cycles + 1
	p.reader.Begin()
	p.last = nil

	res := &cycleResult{number: number, matches: opts.ComputeMatches, handles: make(map[string]*readback.Handle)}
	plan, err := p.plan(opts, res)
	if err != nil {
		return err
	}
	enc, err := p.dev.CreateEncoder(fmt.Sprintf("cycle %d", number))
	if err != nil {
		return p.fail(fmt.Errorf("orb: cycle %d: %w", number, err))
	}
	if err := plan.Record(&p.machine, enc); err != nil {
		// The recorded commands are dropped, but the encoder still has to end.
		_, _ = enc.Finish()
		p.keys.Discard()
		return p.fail(fmt.Errorf("orb: cycle %d: %w", number, err))
	}
	cmd, err := enc.Finish()
	if err == nil {
		_, err = p.dev.Submit(cmd)
	}
	if err != nil {
		p.keys.Discard()
		p.machine.Abort()
		return p.fail(fmt.Errorf("orb: cycle %d: %w", number, err))
	}
	p.keys.Confirm(number)
	if err := p.machine.Advance(cycle.Idle); err != nil {
		return err
	}

	p.cycles = number
	p.last = res
	p.logger().Debug("orb: cycle submitted",
		"cycle", number,
		"states", plan.States(),
		"keyframe", opts.RecordKeyframe,
		"matches", opts.ComputeMatches)
	return nil
}

// plan builds the pass plan of one cycle. Readback handles are stored in res
// as the plan is recorded.
func (p *Pipeline) plan(opts CycleOptions, res *cycleResult) (*cycle.Plan, error) {
	plan := &cycle.Plan{
		Persistent: []string{
			kernels.ParamsBuffer, kernels.Frame, kernels.Pattern, kernels.ZeroWord,
			kernels.PreviousCorners, kernels.PreviousCounter, kernels.PreviousDescriptors,
		},
		Counters: []string{kernels.LatestCounter, kernels.MatchCounter},
	}

	zero, err := p.store.Buffer(kernels.ZeroWord)
	if err != nil {
		return nil, err
	}
	counters, err := p.store.Resolve([]string{kernels.LatestCounter, kernels.MatchCounter})
	if err != nil {
		return nil, err
	}
	plan.Add(cycle.Step{
		State:  cycle.CounterReset,
		Reads:  []string{kernels.ZeroWord},
		Writes: []string{kernels.LatestCounter, kernels.MatchCounter},
		Record: func(enc gpucore.Encoder) error {
			for _, c := range counters {
				enc.CopyBuffer(zero, 0, c, 0, appendbuf.CounterBytes)
			}
			return nil
		},
	})

	plan.Add(p.dispatch(cycle.Grayscale, &p.stages.Grayscale))
	plan.Add(p.dispatch(cycle.BlurX, &p.stages.BlurX))
	plan.Add(p.dispatch(cycle.BlurY, &p.stages.BlurY))
	plan.Add(p.dispatch(cycle.CornerDetect, &p.stages.Corners))
	plan.Add(p.dispatch(cycle.DescriptorCompute, &p.stages.Descriptors))
	if opts.ComputeMatches {
		plan.Add(p.dispatch(cycle.MatchDetect, &p.stages.Match))
	}
	if opts.RecordKeyframe {
		plan.Add(cycle.Step{
			State:  cycle.KeyframeCommit,
			Reads:  []string{kernels.LatestCorners, kernels.LatestCounter, kernels.LatestDescriptors},
			Writes: []string{kernels.PreviousCorners, kernels.PreviousCounter, kernels.PreviousDescriptors},
			Record: func(enc gpucore.Encoder) error {
				p.keys.Commit(enc)
				return nil
			},
		})
	}

	var reads, writes []string
	for _, name := range mirrored {
		if !opts.ComputeMatches && (name == kernels.Matches || name == kernels.MatchCounter) {
			continue
		}
		reads = append(reads, name)
		writes = append(writes, name+"/staging")
	}
	plan.Add(cycle.Step{
		State:  cycle.ReadbackRequested,
		Reads:  reads,
		Writes: writes,
		Record: func(enc gpucore.Encoder) error {
			for _, name := range reads {
				h, err := p.reader.Request(enc, name)
				if err != nil {
					return err
				}
				res.handles[name] = h
			}
			return nil
		},
	})
	return plan, nil
}

// dispatch returns the plan step that runs one stage.
func (p *Pipeline) dispatch(state cycle.State, st *kernels.Stage) cycle.Step {
	desc := &st.Kernel
	names := make([]string, len(desc.Bindings))
	for i, b := range desc.Bindings {
		names[i] = b.Name
	}
	return cycle.Step{
		State:  state,
		Reads:  desc.Reads(),
		Writes: desc.Writes(),
		Record: func(enc gpucore.Encoder) error {
			k, err := p.store.Kernel(desc.Label)
			if err != nil {
				return err
			}
			bindings, err := p.store.Resolve(names)
			if err != nil {
				return err
			}
			g := st.Grid(p.params)
			enc.Dispatch(k, bindings, g[0], g[1], g[2])
			return nil
		},
	}
}

// Poll reports without blocking whether the device has completed the last
// submitted cycle. Once it returns true, reads of that cycle do not wait on
// the device.
func (p *Pipeline) Poll() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.check() != nil {
		return false
	}
	return p.reader.Ready()
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	ID     uuid.UUID
	Device string

	// Cycles is the number of submitted cycles.
	Cycles uint64

	// Keyframes is the number of committed keyframes.
	Keyframes uint64

	// Maps is the number of staging mirror maps issued by reads.
	Maps uint64

	// MapsByBuffer counts maps per mirrored buffer.
	MapsByBuffer map[string]uint64

	// CornerSaturations and MatchSaturations count cycles whose list
	// reached capacity, as observed by reads.
	CornerSaturations uint64
	MatchSaturations  uint64

	// Bytes is the device memory held by the pipeline, staging excluded.
	Bytes uint64
}

// Stats returns the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs := p.reader.Stats()
	return Stats{
		ID:                p.id,
		Device:            p.dev.Name(),
		Cycles:            p.cycles,
		Keyframes:         p.keys.Snapshot().Generation,
		Maps:              rs.Maps,
		MapsByBuffer:      rs.MapsByMirror,
		CornerSaturations: p.cornerSaturations,
		MatchSaturations:  p.matchSaturations,
		Bytes:             p.store.Bytes(),
	}
}

// Close releases the pipeline's device resources. It does not release the
// device. Close is idempotent.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.last = nil
	p.release()
	p.logger().Debug("orb: pipeline closed", "cycles", p.cycles)
	return nil
}

func (p *Pipeline) release() {
	p.reader.Release()
	p.store.Release()
}
