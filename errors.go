package orb

import (
	"errors"

	"github.com/gogpu/orb/gpucore"
	"github.com/gogpu/orb/internal/readback"
	"github.com/gogpu/orb/internal/store"
)

// Pipeline errors.
var (
	// ErrConfig is returned by New and Config.Validate for invalid
	// dimensions, capacities or thresholds.
	ErrConfig = errors.New("orb: invalid configuration")

	// ErrFrameSize is returned when a frame does not match the configured
	// dimensions.
	ErrFrameSize = errors.New("orb: frame size mismatch")

	// ErrNoCycle is returned by reads before the first successful cycle.
	ErrNoCycle = errors.New("orb: no cycle has run")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orb: pipeline closed")

	// ErrDeviceLost is returned once the device is lost. The pipeline is
	// unusable afterwards.
	ErrDeviceLost = gpucore.ErrDeviceLost

	// ErrMapFailed is returned when the device rejects or cancels a
	// readback map. The read may be retried.
	ErrMapFailed = readback.ErrMapFailed

	// ErrReadbackBusy is returned when a staging mirror is still mapped by
	// an earlier read.
	ErrReadbackBusy = readback.ErrBusy

	// ErrStaleReadback is returned for a readback that belongs to a cycle
	// superseded by a newer one.
	ErrStaleReadback = readback.ErrStale

	// ErrNotFound is returned when a named resource is missing.
	ErrNotFound = store.ErrNotFound
)
