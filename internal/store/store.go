// Package store keeps the device resources of a pipeline by symbolic name.
//
// The store is a non-owning registry in the borrow sense: it guarantees that
// names are unique per kind and releases everything it created, but it does
// not arbitrate access. The orchestrator's pass plan is responsible for
// ordering reads and writes.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/orb/gpucore"
)

// Store errors.
var (
	// ErrNotFound is returned when no resource of the requested kind has the name.
	ErrNotFound = errors.New("store: resource not found")

	// ErrExists is returned when creating a resource whose name is taken.
	ErrExists = errors.New("store: resource already exists")

	// ErrAmbiguous is returned when a binding name matches a buffer and a surface.
	ErrAmbiguous = errors.New("store: ambiguous resource name")

	// ErrClosed is returned after Release.
	ErrClosed = errors.New("store: closed")
)

// Kind classifies store entries.
type Kind uint8

const (
	// KindBuffer is a linear buffer (lists, counters, parameters, staging).
	KindBuffer Kind = iota

	// KindSurface is a 2-D grid stored as one 32-bit word per pixel.
	KindSurface

	// KindKernel is a compiled stage kernel.
	KindKernel
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindSurface:
		return "surface"
	case KindKernel:
		return "kernel"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Surface is a buffer with 2-D shape.
type Surface struct {
	gpucore.Buffer
	Width, Height uint32
}

// Store is a registry of named device resources.
type Store struct {
	dev gpucore.Device

	mu       sync.RWMutex
	buffers  map[string]gpucore.Buffer
	surfaces map[string]*Surface
	kernels  map[string]gpucore.Kernel
	closed   bool
}

// New creates an empty store that allocates on dev.
func New(dev gpucore.Device) *Store {
	return &Store{
		dev:      dev,
		buffers:  make(map[string]gpucore.Buffer),
		surfaces: make(map[string]*Surface),
		kernels:  make(map[string]gpucore.Kernel),
	}
}

// CreateBuffer allocates a buffer named name.
func (s *Store) CreateBuffer(name string, size uint64, usage gpucore.BufferUsage) (gpucore.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNew(KindBuffer, name); err != nil {
		return nil, err
	}
	buf, err := s.dev.CreateBuffer(gpucore.BufferDesc{Label: name, Size: size, Usage: usage})
	if err != nil {
		return nil, fmt.Errorf("store: create buffer %q: %w", name, err)
	}
	s.buffers[name] = buf
	return buf, nil
}

// CreateSurface allocates a width x height surface of 32-bit texels.
func (s *Store) CreateSurface(name string, width, height uint32, usage gpucore.BufferUsage) (*Surface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNew(KindSurface, name); err != nil {
		return nil, err
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("store: surface %q has empty shape %dx%d", name, width, height)
	}
	size := uint64(width) * uint64(height) * 4
	buf, err := s.dev.CreateBuffer(gpucore.BufferDesc{Label: name, Size: size, Usage: usage})
	if err != nil {
		return nil, fmt.Errorf("store: create surface %q: %w", name, err)
	}
	surf := &Surface{Buffer: buf, Width: width, Height: height}
	s.surfaces[name] = surf
	return surf, nil
}

// CreateKernel compiles a kernel and registers it under desc.Label.
func (s *Store) CreateKernel(desc gpucore.KernelDesc) (gpucore.Kernel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNew(KindKernel, desc.Label); err != nil {
		return nil, err
	}
	k, err := s.dev.CreateKernel(desc)
	if err != nil {
		return nil, fmt.Errorf("store: create kernel %q: %w", desc.Label, err)
	}
	s.kernels[desc.Label] = k
	return k, nil
}

// must be called with s.mu held.
func (s *Store) checkNew(kind Kind, name string) error {
	if s.closed {
		return ErrClosed
	}
	if name == "" {
		return fmt.Errorf("store: empty %s name", kind)
	}
	var taken bool
	switch kind {
	case KindBuffer:
		_, taken = s.buffers[name]
	case KindSurface:
		_, taken = s.surfaces[name]
	case KindKernel:
		_, taken = s.kernels[name]
	}
	if taken {
		return fmt.Errorf("%w: %s %q", ErrExists, kind, name)
	}
	return nil
}

// Buffer returns the buffer named name.
func (s *Store) Buffer(name string) (gpucore.Buffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if buf, ok := s.buffers[name]; ok {
		return buf, nil
	}
	return nil, fmt.Errorf("%w: buffer %q", ErrNotFound, name)
}

// Surface returns the surface named name.
func (s *Store) Surface(name string) (*Surface, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if surf, ok := s.surfaces[name]; ok {
		return surf, nil
	}
	return nil, fmt.Errorf("%w: surface %q", ErrNotFound, name)
}

// Kernel returns the kernel named name.
func (s *Store) Kernel(name string) (gpucore.Kernel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k, ok := s.kernels[name]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: kernel %q", ErrNotFound, name)
}

// Resolve returns the buffers or surfaces bound under names, in order.
func (s *Store) Resolve(names []string) ([]gpucore.Buffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]gpucore.Buffer, len(names))
	for i, name := range names {
		buf, isBuf := s.buffers[name]
		surf, isSurf := s.surfaces[name]
		switch {
		case isBuf && isSurf:
			return nil, fmt.Errorf("%w: %q", ErrAmbiguous, name)
		case isBuf:
			out[i] = buf
		case isSurf:
			out[i] = surf.Buffer
		default:
			return nil, fmt.Errorf("%w: binding %q", ErrNotFound, name)
		}
	}
	return out, nil
}

// Names returns the sorted names registered under kind.
func (s *Store) Names(kind Kind) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	switch kind {
	case KindBuffer:
		for n := range s.buffers {
			names = append(names, n)
		}
	case KindSurface:
		for n := range s.surfaces {
			names = append(names, n)
		}
	case KindKernel:
		for n := range s.kernels {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Bytes returns the total size of the buffers and surfaces in the store.
func (s *Store) Bytes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	for _, b := range s.buffers {
		total += b.Size()
	}
	for _, surf := range s.surfaces {
		total += surf.Size()
	}
	return total
}

// Release releases every resource and closes the store.
func (s *Store) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, k := range s.kernels {
		k.Release()
	}
	for _, surf := range s.surfaces {
		surf.Release()
	}
	for _, b := range s.buffers {
		b.Release()
	}
	s.kernels = nil
	s.surfaces = nil
	s.buffers = nil
}
