package wgpu

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"
	"github.com/stretchr/testify/assert"
)

func TestCheckAdapter(t *testing.T) {
	cpu := wgpu.AdapterInfo{Name: "Software Renderer", DeviceType: gputypes.DeviceTypeCPU}
	gpu := wgpu.AdapterInfo{Name: "Radeon", DeviceType: gputypes.DeviceTypeDiscreteGPU}

	assert.ErrorIs(t, checkAdapter(cpu, false), ErrCPUAdapter)
	assert.NoError(t, checkAdapter(cpu, true))
	assert.NoError(t, checkAdapter(gpu, false))
}
