// Package orb runs a GPU visual-feature pipeline for real-time tracking.
//
// # Overview
//
// Every cycle converts an RGBA frame to grayscale, smooths it with a
// separable blur, detects corners into a bounded append list, computes a
// 256-bit binary descriptor per corner and, on request, matches the
// descriptors against a keyframe recorded by an earlier cycle. Results come
// back to the host through staging mirrors.
//
// # Quick Start
//
//	dev := software.New() // or a GPU device from backend/wgpu
//	p, err := orb.New(dev, orb.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	_ = p.WriteFrame(pixels)
//	_ = p.RunCycle(ctx, orb.CycleOptions{RecordKeyframe: true})
//	corners, err := p.ReadCorners(ctx)
//
// # Cycle
//
// A cycle is one command submission that walks the states
//
//	Idle → CounterReset → Grayscale → BlurX → BlurY → CornerDetect →
//	DescriptorCompute → [MatchDetect] → [KeyframeCommit] → ReadbackRequested → Idle
//
// RunCycle never blocks on the device. The Read methods are the only
// blocking calls: they wait until the cycle's work has completed, map the
// staging mirror and copy the results out. Poll reports completion without
// blocking.
//
// # Capacity
//
// Corner and match lists have fixed capacity. Producers that find a full
// list drop their record but still advance the counter, so results report
// both the stored count and the attempted count. A saturated list is not an
// error.
//
// # Errors
//
// Configuration problems wrap ErrConfig. Device loss wraps ErrDeviceLost and
// poisons the pipeline; create a new device and pipeline to recover. A
// failed readback map wraps ErrMapFailed; the caller may read again or run
// a new cycle.
package orb
