package software

import (
	"errors"
	"fmt"

	"github.com/gogpu/orb/gpucore"
)

type buffer struct {
	dev   *Device
	label string
	size  uint64
	usage gpucore.BufferUsage

	// words is only touched by the queue goroutine, or by the host while
	// the buffer is mapped.
	words []uint32

	// guarded by dev.mu
	state     mapState
	req       *mapRequest
	mapOffset uint64
	mapSize   uint64
	released  bool
}

func (b *buffer) Label() string              { return b.label }
func (b *buffer) Size() uint64               { return b.size }
func (b *buffer) Usage() gpucore.BufferUsage { return b.usage }
func (b *buffer) String() string             { return fmt.Sprintf("buffer %q (%d bytes)", b.label, b.size) }

func (b *buffer) Release() {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	b.released = true
}

type kernel struct {
	dev  *Device
	desc gpucore.KernelDesc
}

func (k *kernel) Label() string             { return k.desc.Label }
func (k *kernel) Desc() *gpucore.KernelDesc { return &k.desc }
func (k *kernel) Release()                  {}

type commandBuffer struct {
	dev       *Device
	label     string
	cmds      []func()
	refs      map[*buffer]struct{}
	submitted bool // guarded by dev.mu
}

func (c *commandBuffer) Label() string { return c.label }

var errEncoderFinished = errors.New("software: encoder already finished")

// encoder records commands as closures executed by the queue goroutine.
type encoder struct {
	dev      *Device
	label    string
	cmds     []func()
	refs     map[*buffer]struct{}
	err      error
	finished bool
}

func (e *encoder) setError(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *encoder) recording() bool {
	if e.finished {
		e.setError(errEncoderFinished)
		return false
	}
	return e.err == nil
}

func (e *encoder) CopyBuffer(src gpucore.Buffer, srcOffset uint64, dst gpucore.Buffer, dstOffset uint64, size uint64) {
	if !e.recording() {
		return
	}
	s, err := e.dev.own(src)
	if err != nil {
		e.setError(fmt.Errorf("copy: source: %w", err))
		return
	}
	t, err := e.dev.own(dst)
	if err != nil {
		e.setError(fmt.Errorf("copy: destination: %w", err))
		return
	}
	switch {
	case s == t:
		e.setError(fmt.Errorf("copy %q: %w: source and destination are the same buffer", s.label, gpucore.ErrInvalidBuffer))
		return
	case s.usage&gpucore.UsageCopySrc == 0:
		e.setError(fmt.Errorf("copy: %q: %w: missing CopySrc usage", s.label, gpucore.ErrInvalidBuffer))
		return
	case t.usage&gpucore.UsageCopyDst == 0:
		e.setError(fmt.Errorf("copy: %q: %w: missing CopyDst usage", t.label, gpucore.ErrInvalidBuffer))
		return
	case !gpucore.Aligned(srcOffset) || !gpucore.Aligned(dstOffset) || !gpucore.Aligned(size):
		e.setError(fmt.Errorf("copy %q -> %q: %w", s.label, t.label, gpucore.ErrMisaligned))
		return
	case srcOffset+size > s.size || dstOffset+size > t.size:
		e.setError(fmt.Errorf("copy %q -> %q: %w", s.label, t.label, gpucore.ErrOutOfBounds))
		return
	}

	e.refs[s] = struct{}{}
	e.refs[t] = struct{}{}
	e.cmds = append(e.cmds, func() {
		copy(t.words[dstOffset/4:(dstOffset+size)/4], s.words[srcOffset/4:(srcOffset+size)/4])
	})
}

func (e *encoder) Dispatch(k gpucore.Kernel, bindings []gpucore.Buffer, x, y, z uint32) {
	if !e.recording() {
		return
	}
	kk, ok := k.(*kernel)
	if !ok || kk.dev != e.dev {
		e.setError(fmt.Errorf("dispatch: %w", gpucore.ErrForeignResource))
		return
	}
	desc := &kk.desc
	if len(bindings) != len(desc.Bindings) {
		e.setError(fmt.Errorf("dispatch %q: %d bindings, kernel declares %d",
			desc.Label, len(bindings), len(desc.Bindings)))
		return
	}

	bufs := make([]*buffer, len(bindings))
	writable := make(map[*buffer]bool, len(bindings))
	for i, bb := range bindings {
		b, err := e.dev.own(bb)
		if err != nil {
			e.setError(fmt.Errorf("dispatch %q: binding %d: %w", desc.Label, i, err))
			return
		}
		decl := desc.Bindings[i]
		need := gpucore.UsageStorage
		if decl.Access == gpucore.AccessUniform {
			need = gpucore.UsageUniform
		}
		if b.usage&need == 0 {
			e.setError(fmt.Errorf("dispatch %q: binding %d (%s) %q: %w: usage does not allow %s",
				desc.Label, i, decl.Name, b.label, gpucore.ErrInvalidBuffer, decl.Access))
			return
		}
		if prev, seen := writable[b]; seen && (prev || decl.Access.Writes()) {
			e.setError(fmt.Errorf("dispatch %q: %q bound twice with write access", desc.Label, b.label))
			return
		}
		writable[b] = decl.Access.Writes()
		bufs[i] = b
	}

	for _, b := range bufs {
		e.refs[b] = struct{}{}
	}

	wg := desc.Workgroup
	sx, sy, sz := int(x)*int(wg[0]), int(y)*int(wg[1]), int(z)*int(wg[2])
	lane := desc.Lane
	pool := e.dev.pool
	e.cmds = append(e.cmds, func() {
		words := make([][]uint32, len(bufs))
		for i, b := range bufs {
			words[i] = b.words
		}
		total := sx * sy * sz
		pool.Range(total, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				gid := [3]uint32{
					uint32(i % sx),
					uint32((i / sx) % sy),
					uint32(i / (sx * sy)),
				}
				lane(gid, words)
			}
		})
	})
}

func (e *encoder) Finish() (gpucore.CommandBuffer, error) {
	if e.finished {
		return nil, errEncoderFinished
	}
	e.finished = true
	if e.err != nil {
		return nil, fmt.Errorf("encoder %q: %w", e.label, e.err)
	}
	return &commandBuffer{dev: e.dev, label: e.label, cmds: e.cmds, refs: e.refs}, nil
}
