package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/orb/backend/software"
	"github.com/gogpu/orb/gpucore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	dev := software.New(software.WithLanes(2))
	s := New(dev)
	t.Cleanup(func() {
		s.Release()
		dev.Release()
	})
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newStore(t)

	buf, err := s.CreateBuffer("latest_corners", 64, gpucore.UsageStorage)
	require.NoError(t, err)
	assert.Equal(t, uint64(64), buf.Size())

	got, err := s.Buffer("latest_corners")
	require.NoError(t, err)
	assert.Same(t, buf, got)

	surf, err := s.CreateSurface("gray", 16, 8, gpucore.UsageStorage)
	require.NoError(t, err)
	assert.Equal(t, uint64(16*8*4), surf.Size())
	assert.Equal(t, uint32(16), surf.Width)

	gotSurf, err := s.Surface("gray")
	require.NoError(t, err)
	assert.Same(t, surf, gotSurf)

	assert.Equal(t, uint64(64+16*8*4), s.Bytes())
}

func TestNotFound(t *testing.T) {
	s := newStore(t)

	_, err := s.Buffer("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Surface("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Kernel("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Resolve([]string{"missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNamesUniquePerKind(t *testing.T) {
	s := newStore(t)

	_, err := s.CreateBuffer("x", 4, gpucore.UsageStorage)
	require.NoError(t, err)
	_, err = s.CreateBuffer("x", 4, gpucore.UsageStorage)
	assert.ErrorIs(t, err, ErrExists)

	// Same name under a different kind is allowed, but cannot be bound.
	_, err = s.CreateSurface("x", 2, 2, gpucore.UsageStorage)
	require.NoError(t, err)
	_, err = s.Resolve([]string{"x"})
	assert.ErrorIs(t, err, ErrAmbiguous)
}

func TestResolveOrder(t *testing.T) {
	s := newStore(t)

	params, err := s.CreateBuffer("params", 32, gpucore.UsageUniform)
	require.NoError(t, err)
	gray, err := s.CreateSurface("gray", 4, 4, gpucore.UsageStorage)
	require.NoError(t, err)

	got, err := s.Resolve([]string{"gray", "params"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Same(t, gray.Buffer, got[0])
	assert.Same(t, params, got[1])
}

func TestKernels(t *testing.T) {
	s := newStore(t)
	desc := gpucore.KernelDesc{
		Label:     "noop",
		Bindings:  []gpucore.BindingDecl{{Name: "buf", Access: gpucore.AccessReadWrite}},
		Workgroup: [3]uint32{1, 1, 1},
		Lane:      func([3]uint32, [][]uint32) {},
	}
	k, err := s.CreateKernel(desc)
	require.NoError(t, err)
	got, err := s.Kernel("noop")
	require.NoError(t, err)
	assert.Same(t, k, got)

	_, err = s.CreateKernel(desc)
	assert.ErrorIs(t, err, ErrExists)
	assert.Equal(t, []string{"noop"}, s.Names(KindKernel))
}

func TestNamesSorted(t *testing.T) {
	s := newStore(t)
	for _, n := range []string{"b", "c", "a"} {
		_, err := s.CreateBuffer(n, 4, gpucore.UsageStorage)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, s.Names(KindBuffer))
	assert.Empty(t, s.Names(KindSurface))
}

func TestReleaseCloses(t *testing.T) {
	s := newStore(t)
	_, err := s.CreateBuffer("a", 4, gpucore.UsageStorage)
	require.NoError(t, err)

	s.Release()
	s.Release()

	_, err = s.CreateBuffer("b", 4, gpucore.UsageStorage)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Buffer("a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "buffer", KindBuffer.String())
	assert.Equal(t, "surface", KindSurface.String())
	assert.Equal(t, "kernel", KindKernel.String())
	assert.Equal(t, "Kind(7)", Kind(7).String())
}
