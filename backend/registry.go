package backend

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/orb"
	"github.com/gogpu/orb/backend/software"
	"github.com/gogpu/orb/backend/wgpu"
	"github.com/gogpu/orb/gpucore"
)

// Backend names.
const (
	Auto     = "auto"
	WGPU     = wgpu.Name
	Software = software.Name
)

// Opener opens a device.
type Opener func() (gpucore.Device, error)

// ErrUnknownBackend is returned by Open for a name that is not registered.
var ErrUnknownBackend = errors.New("backend: unknown backend")

// registry holds the openers. Priority order: wgpu > software.
var registry = gpucontext.NewRegistry[Opener](gpucontext.WithPriority(WGPU, Software))

func init() { registerDefaults() }

func registerDefaults() {
	Register(WGPU, func() (gpucore.Device, error) { return wgpu.New() })
	Register(Software, func() (gpucore.Device, error) { return software.New(), nil })
}

// Register adds or replaces the opener for name.
func Register(name string, open Opener) {
	registry.Register(name, func() Opener { return open })
}

// Unregister removes the opener for name.
func Unregister(name string) {
	registry.Unregister(name)
}

// Available returns the registered backend names in priority order.
func Available() []string {
	names := registry.Available()
	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(rank(a), rank(b)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return names
}

func rank(name string) int {
	switch name {
	case WGPU:
		return 0
	case Software:
		return 1
	default:
		return 2
	}
}

// Open opens the named backend. For Auto or "" every registered backend is
// tried in priority order and the first one that opens is returned.
func Open(name string) (gpucore.Device, error) {
	if name != "" && name != Auto {
		if !registry.Has(name) {
			return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownBackend, name, Available())
		}
		return registry.Get(name)()
	}

	var errs []error
	for _, n := range Available() {
		dev, err := registry.Get(n)()
		if err == nil {
			orb.Logger().Debug("backend: selected", "backend", n, "device", dev.Name())
			return dev, nil
		}
		orb.Logger().Info("backend: unavailable, trying next", "backend", n, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", n, err))
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: none registered", ErrUnknownBackend)
	}
	return nil, errors.Join(errs...)
}
