package keyframe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/orb/backend/software"
	"github.com/gogpu/orb/gpucore"
)

type fixture struct {
	dev      *software.Device
	latest   Set
	previous Set
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := software.New(software.WithLanes(2))
	t.Cleanup(dev.Release)

	mk := func(name string, size uint64) gpucore.Buffer {
		b, err := dev.CreateBuffer(gpucore.BufferDesc{
			Label: name, Size: size,
			Usage: gpucore.UsageStorage | gpucore.UsageCopySrc | gpucore.UsageCopyDst,
		})
		require.NoError(t, err)
		return b
	}
	return &fixture{
		dev:      dev,
		latest:   Set{Corners: mk("latest_corners", 16), Counter: mk("latest_counter", 4), Descriptors: mk("latest_descriptors", 64)},
		previous: Set{Corners: mk("previous_corners", 16), Counter: mk("previous_counter", 4), Descriptors: mk("previous_descriptors", 64)},
	}
}

func (f *fixture) write(t *testing.T, s Set, base uint32) {
	t.Helper()
	for i, b := range s.buffers() {
		words := make([]uint32, b.Size()/4)
		for j := range words {
			words[j] = base + uint32(i*100+j)
		}
		require.NoError(t, f.dev.WriteBuffer(b, 0, gpucore.WordsToBytes(words)))
	}
}

func (f *fixture) read(t *testing.T, b gpucore.Buffer) []uint32 {
	t.Helper()
	staging, err := f.dev.CreateBuffer(gpucore.BufferDesc{
		Label: b.Label() + "/staging", Size: b.Size(), Usage: gpucore.UsageMapRead | gpucore.UsageCopyDst,
	})
	require.NoError(t, err)
	enc, err := f.dev.CreateEncoder("read")
	require.NoError(t, err)
	enc.CopyBuffer(b, 0, staging, 0, b.Size())
	cmd, err := enc.Finish()
	require.NoError(t, err)
	_, err = f.dev.Submit(cmd)
	require.NoError(t, err)
	req, err := f.dev.MapRead(staging, 0, b.Size())
	require.NoError(t, err)
	require.NoError(t, req.Wait(context.Background()))
	raw, err := f.dev.ReadMapped(staging, 0, b.Size())
	require.NoError(t, err)
	require.NoError(t, f.dev.Unmap(staging))
	return gpucore.BytesToWords(raw)
}

func (f *fixture) commit(t *testing.T, s *Store, cycle uint64) {
	t.Helper()
	enc, err := f.dev.CreateEncoder("commit")
	require.NoError(t, err)
	s.Commit(enc)
	cmd, err := enc.Finish()
	require.NoError(t, err)
	_, err = f.dev.Submit(cmd)
	require.NoError(t, err)
	s.Confirm(cycle)
}

func TestCommitCopiesWholeSet(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.latest, f.previous)
	require.NoError(t, err)
	assert.Zero(t, s.Snapshot().Generation)

	f.write(t, f.latest, 1000)
	f.commit(t, s, 7)

	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Generation)
	assert.Equal(t, uint64(7), snap.Cycle)
	for i, lb := range f.latest.buffers() {
		assert.Equal(t, f.read(t, lb), f.read(t, snap.buffers()[i]), lb.Label())
	}
}

func TestSnapshotIsolatedFromLatestWrites(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.latest, f.previous)
	require.NoError(t, err)

	f.write(t, f.latest, 1000)
	f.commit(t, s, 1)
	want := f.read(t, f.previous.Descriptors)

	for cycle := range 3 {
		f.write(t, f.latest, uint32(5000+cycle*1000))
		assert.Equal(t, want, f.read(t, f.previous.Descriptors))
	}
	assert.Equal(t, uint64(1), s.Snapshot().Generation)
}

func TestDiscardDropsCommit(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.latest, f.previous)
	require.NoError(t, err)

	enc, err := f.dev.CreateEncoder("commit")
	require.NoError(t, err)
	s.Commit(enc)
	s.Discard()
	s.Confirm(3)
	assert.Zero(t, s.Snapshot().Generation)
}

func TestNewRejectsAliasing(t *testing.T) {
	f := newFixture(t)

	_, err := New(f.latest, f.latest)
	assert.ErrorIs(t, err, ErrAliased)

	bad := f.previous
	bad.Corners = f.previous.Descriptors
	_, err = New(f.latest, bad)
	assert.ErrorIs(t, err, ErrAliased)

	missing := f.previous
	missing.Counter = nil
	_, err = New(f.latest, missing)
	assert.ErrorIs(t, err, ErrAliased)
}
