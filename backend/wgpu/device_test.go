package wgpu_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sort"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/orb"
	"github.com/gogpu/orb/backend/software"
	"github.com/gogpu/orb/backend/wgpu"
	"github.com/gogpu/orb/gpucore"
)

// gpuDevice opens a wgpu device or skips the test when no hardware adapter
// exists.
func gpuDevice(t *testing.T) *wgpu.Device {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping GPU test in short mode")
	}
	d, err := wgpu.New(wgpu.WithLabel("orb-test"))
	if errors.Is(err, wgpu.ErrCPUAdapter) {
		t.Skipf("only the CPU adapter: %v", err)
	}
	if err != nil {
		t.Skipf("no GPU adapter: %v", err)
	}
	t.Cleanup(d.Release)
	return d
}

type fakeProvider struct{}

func (fakeProvider) Device() gpucontext.Device { return "not a device" }
func (fakeProvider) Queue() gpucontext.Queue { return nil }
func (fakeProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatUndefined }
func (fakeProvider) Adapter() gpucontext.Adapter { return nil }
func (fakeProvider) AdapterInfo() gpucontext.AdapterInfo { return gpucontext.AdapterInfo{} }

func TestFromProviderRejectsForeignDevice(t *testing.T) {
	_, err := wgpu.FromProvider(fakeProvider{})
	assert.ErrorIs(t, err, wgpu.ErrNoDevice)
}

func TestBufferRoundTrip(t *testing.T) {
	d := gpuDevice(t)

	src, err := d.CreateBuffer(gpucore.BufferDesc{Label: "src", Size: 16, Usage: gpucore.UsageStorage | gpucore.UsageCopySrc | gpucore.UsageCopyDst})
	require.NoError(t, err)
	defer src.Release()
	staging, err := d.CreateBuffer(gpucore.BufferDesc{Label: "staging", Size: 16, Usage: gpucore.UsageMapRead | gpucore.UsageCopyDst})
	require.NoError(t, err)
	defer staging.Release()

	_, err = d.CreateBuffer(gpucore.BufferDesc{Label: "odd", Size: 6, Usage: gpucore.UsageStorage})
	assert.ErrorIs(t, err, gpucore.ErrInvalidBuffer)

	want := []uint32{1, 2, 3, 0xdeadbeef}
	require.NoError(t, d.WriteBuffer(src, 0, gpucore.WordsToBytes(want)))
	enc, err := d.CreateEncoder("copy")
	require.NoError(t, err)
	enc.CopyBuffer(src, 0, staging, 0, 16)
	cmd, err := enc.Finish()
	require.NoError(t, err)
	_, err = d.Submit(cmd)
	require.NoError(t, err)

	req, err := d.MapRead(staging, 0, 16)
	require.NoError(t, err)
	require.NoError(t, req.Wait(context.Background()))
	b, err := d.ReadMapped(staging, 0, 16)
	require.NoError(t, err)
	require.NoError(t, d.Unmap(staging))
	require.NoError(t, d.Unmap(staging), "second unmap is a no-op")
	assert.Equal(t, want, gpucore.BytesToWords(b))
	assert.True(t, d.Poll(true))
}

func TestEncoderErrorsAreSticky(t *testing.T) {
	d := gpuDevice(t)
	buf, err := d.CreateBuffer(gpucore.BufferDesc{Label: "buf", Size: 8, Usage: gpucore.UsageCopySrc | gpucore.UsageCopyDst})
	require.NoError(t, err)
	defer buf.Release()

	enc, err := d.CreateEncoder("bad")
	require.NoError(t, err)
	enc.CopyBuffer(buf, 0, buf, 4, 8)
	enc.CopyBuffer(buf, 1, buf, 4, 4)
	_, err = enc.Finish()
	assert.ErrorIs(t, err, gpucore.ErrOutOfBounds)
}

func TestInvalidKernelIsRejected(t *testing.T) {
	d := gpuDevice(t)
	_, err := d.CreateKernel(gpucore.KernelDesc{
		Label:     "broken",
		Bindings:  []gpucore.BindingDecl{{Name: "out", Access: gpucore.AccessReadWrite}},
		Workgroup: [3]uint32{1, 1, 1},
		WGSL:      "@compute @workgroup_size(1) fn main( {",
		Entry:     "main",
	})
	assert.ErrorIs(t, err, gpucore.ErrInvalidKernel)
}

func corners(t *testing.T, dev gpucore.Device, img image.Image) []orb.Corner {
	t.Helper()
	cfg := orb.DefaultConfig()
	cfg.Width, cfg.Height = 64, 64
	cfg.MaxFeatures, cfg.MaxMatches = 256, 256
	p, err := orb.New(dev, cfg)
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.WriteImage(img))
	require.NoError(t, p.RunCycle(ctx, orb.CycleOptions{RecordKeyframe: true}))
	set, err := p.ReadCorners(ctx)
	require.NoError(t, err)
	out := append([]orb.Corner(nil), set.Corners...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

func TestPipelineMatchesSoftwareDevice(t *testing.T) {
	gpu := gpuDevice(t)
	cpu := software.New()
	defer cpu.Release()

	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 16; y < 40; y++ {
		for x := 20; x < 44; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}

	want := corners(t, cpu, img)
	require.NotEmpty(t, want)
	assert.Equal(t, want, corners(t, gpu, img))
}
