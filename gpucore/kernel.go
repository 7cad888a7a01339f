package gpucore

import "fmt"

// Access is how a kernel uses one of its bindings.
type Access uint8

const (
	// AccessUniform is a small read-only parameter block.
	AccessUniform Access = iota

	// AccessRead is a read-only storage buffer.
	AccessRead

	// AccessReadWrite is a read-write storage buffer, atomics included.
	AccessReadWrite
)

// String returns the WGSL-style name of the access mode.
func (a Access) String() string {
	switch a {
	case AccessUniform:
		return "uniform"
	case AccessRead:
		return "read"
	case AccessReadWrite:
		return "read_write"
	default:
		return fmt.Sprintf("Access(%d)", a)
	}
}

// Writes reports whether the access mode allows writes.
func (a Access) Writes() bool { return a == AccessReadWrite }

// BindingDecl declares one kernel binding.
type BindingDecl struct {
	// Name is the resource name the orchestrator binds here.
	Name   string
	Access Access
}

// LaneFunc is the CPU body of a kernel, invoked once per invocation with its
// global invocation ID. words[i] is the contents of binding i as 32-bit
// little-endian words. Lanes run concurrently: shared writes must go through
// sync/atomic or target disjoint indices.
type LaneFunc func(gid [3]uint32, words [][]uint32)

// KernelDesc describes a compute kernel.
type KernelDesc struct {
	Label    string
	Bindings []BindingDecl

	// Workgroup is the workgroup size declared by the WGSL entry point.
	Workgroup [3]uint32

	// WGSL is the shader source used by GPU backends.
	WGSL string

	// Entry is the WGSL entry point name.
	Entry string

	// Lane is the body used by the software device.
	Lane LaneFunc
}

// Validate checks the descriptor for structural errors.
func (d *KernelDesc) Validate() error {
	if d.Label == "" {
		return fmt.Errorf("%w: kernel without label", ErrInvalidKernel)
	}
	if len(d.Bindings) == 0 {
		return fmt.Errorf("%w: kernel %q declares no bindings", ErrInvalidKernel, d.Label)
	}
	seen := make(map[string]bool, len(d.Bindings))
	for i, b := range d.Bindings {
		if b.Name == "" {
			return fmt.Errorf("%w: kernel %q binding %d has no name", ErrInvalidKernel, d.Label, i)
		}
		if seen[b.Name] {
			return fmt.Errorf("%w: kernel %q binds %q twice", ErrInvalidKernel, d.Label, b.Name)
		}
		seen[b.Name] = true
	}
	for _, n := range d.Workgroup {
		if n == 0 {
			return fmt.Errorf("%w: kernel %q has a zero workgroup dimension", ErrInvalidKernel, d.Label)
		}
	}
	return nil
}

// Reads returns the names of the bindings the kernel only reads.
func (d *KernelDesc) Reads() []string {
	var names []string
	for _, b := range d.Bindings {
		if !b.Access.Writes() {
			names = append(names, b.Name)
		}
	}
	return names
}

// Writes returns the names of the bindings the kernel may write.
func (d *KernelDesc) Writes() []string {
	var names []string
	for _, b := range d.Bindings {
		if b.Access.Writes() {
			names = append(names, b.Name)
		}
	}
	return names
}

// Groups returns the number of workgroups needed to cover n invocations
// with workgroups of size wg.
func Groups(n, wg uint32) uint32 {
	if wg == 0 {
		return 0
	}
	return (n + wg - 1) / wg
}
