package readback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/orb/backend/software"
	"github.com/gogpu/orb/gpucore"
)

type fixture struct {
	dev *software.Device
	src gpucore.Buffer
	r   *Reader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := software.New(software.WithLanes(2))
	t.Cleanup(dev.Release)

	src, err := dev.CreateBuffer(gpucore.BufferDesc{
		Label: "latest_corners", Size: 16,
		Usage: gpucore.UsageStorage | gpucore.UsageCopySrc | gpucore.UsageCopyDst,
	})
	require.NoError(t, err)

	r := New(dev)
	t.Cleanup(r.Release)
	require.NoError(t, r.Mirror("latest_corners", src))
	return &fixture{dev: dev, src: src, r: r}
}

// cycle writes words into the source and records a readback of it.
func (f *fixture) cycle(t *testing.T, words ...uint32) *Handle {
	t.Helper()
	require.NoError(t, f.dev.WriteBuffer(f.src, 0, gpucore.WordsToBytes(words)))
	f.r.Begin()
	enc, err := f.dev.CreateEncoder("cycle")
	require.NoError(t, err)
	h, err := f.r.Request(enc, "latest_corners")
	require.NoError(t, err)
	cmd, err := enc.Finish()
	require.NoError(t, err)
	_, err = f.dev.Submit(cmd)
	require.NoError(t, err)
	return h
}

func TestResolve(t *testing.T) {
	f := newFixture(t)
	h := f.cycle(t, 1, 2, 3, 4)

	data, err := f.r.Resolve(context.Background(), h, 16)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3, 4}, gpucore.BytesToWords(data))

	prefix, err := f.r.Resolve(context.Background(), h, 8)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, gpucore.BytesToWords(prefix))

	st, err := f.r.State("latest_corners")
	require.NoError(t, err)
	assert.Equal(t, Unmapped, st)

	stats := f.r.Stats()
	assert.Equal(t, uint64(1), stats.Requests)
	assert.Equal(t, uint64(2), stats.Maps)
	assert.Equal(t, uint64(2), stats.MapsByMirror["latest_corners"])
}

func TestResolveZeroSizeDoesNotMap(t *testing.T) {
	f := newFixture(t)
	h := f.cycle(t, 1, 2, 3, 4)

	data, err := f.r.Resolve(context.Background(), h, 0)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Zero(t, f.r.Stats().Maps)
}

func TestStaleHandle(t *testing.T) {
	f := newFixture(t)
	old := f.cycle(t, 1, 2, 3, 4)
	fresh := f.cycle(t, 5, 6, 7, 8)

	_, err := f.r.Resolve(context.Background(), old, 16)
	assert.ErrorIs(t, err, ErrStale)

	data, err := f.r.Resolve(context.Background(), fresh, 16)
	require.NoError(t, err)
	assert.Equal(t, []uint32{5, 6, 7, 8}, gpucore.BytesToWords(data))
}

func TestRequestWhileMappedFailsFast(t *testing.T) {
	f := newFixture(t)
	h := f.cycle(t, 1, 2, 3, 4)

	view, err := f.r.Map(context.Background(), h, 16)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3, 4}, gpucore.BytesToWords(view.Bytes()))

	f.r.Begin()
	enc, err := f.dev.CreateEncoder("next")
	require.NoError(t, err)
	_, err = f.r.Request(enc, "latest_corners")
	require.ErrorIs(t, err, ErrBusy)

	_, err = f.r.Map(context.Background(), h, 16)
	assert.Error(t, err)

	require.NoError(t, view.Unmap())
	require.NoError(t, view.Unmap())

	h2 := f.cycle(t, 9, 9, 9, 9)
	data, err := f.r.Resolve(context.Background(), h2, 16)
	require.NoError(t, err)
	assert.Equal(t, []uint32{9, 9, 9, 9}, gpucore.BytesToWords(data))
}

func TestMapFailure(t *testing.T) {
	f := newFixture(t)
	h := f.cycle(t, 1, 2, 3, 4)

	f.dev.FailMaps(1)
	_, err := f.r.Resolve(context.Background(), h, 16)
	require.ErrorIs(t, err, ErrMapFailed)

	st, err := f.r.State("latest_corners")
	require.NoError(t, err)
	assert.Equal(t, Unmapped, st)

	// A retry of the same generation succeeds.
	data, err := f.r.Resolve(context.Background(), h, 16)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3, 4}, gpucore.BytesToWords(data))
}

func TestDeviceLost(t *testing.T) {
	f := newFixture(t)
	h := f.cycle(t, 1, 2, 3, 4)
	require.True(t, f.dev.Poll(true))

	f.dev.Lose()
	_, err := f.r.Resolve(context.Background(), h, 16)
	assert.ErrorIs(t, err, gpucore.ErrDeviceLost)
	assert.NotErrorIs(t, err, ErrMapFailed)
}

func TestCanceledWaitReleasesMirror(t *testing.T) {
	f := newFixture(t)
	f.dev.Hold()
	h := f.cycle(t, 1, 2, 3, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, f.r.Ready())
	_, err := f.r.Resolve(ctx, h, 16)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	st, err := f.r.State("latest_corners")
	require.NoError(t, err)
	assert.Equal(t, Unmapped, st)

	f.dev.Resume()
	data, err := f.r.Resolve(context.Background(), h, 16)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3, 4}, gpucore.BytesToWords(data))
	assert.True(t, f.r.Ready())
}

func TestUnknownMirror(t *testing.T) {
	f := newFixture(t)
	enc, err := f.dev.CreateEncoder("x")
	require.NoError(t, err)
	_, err = f.r.Request(enc, "nope")
	assert.ErrorIs(t, err, ErrUnknownMirror)
	_, err = f.r.State("nope")
	assert.ErrorIs(t, err, ErrUnknownMirror)
	assert.Error(t, f.r.Mirror("latest_corners", f.src))
}

func TestMapStateString(t *testing.T) {
	assert.Equal(t, "unmapped", Unmapped.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "mapped", Mapped.String())
}
