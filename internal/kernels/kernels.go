// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package kernels defines the stage kernels of the feature pipeline.
//
// Every stage is a fixed contract: a set of named bindings with declared
// access, a workgroup shape and a dispatch grid derived from [Params]. Each
// contract ships two bodies, a WGSL entry point for GPU devices and a lane
// function for the software device. The numeric content of a body can be
// swapped without touching the orchestrator as long as it honors the
// bounded-append and valid-prefix rules of its bindings.
//
// Binding 0 of every stage is the [Params] uniform.
package kernels

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/orb/gpucore"
)

// Resource names bound by the stages.
const (
	ParamsBuffer = "params"
	Frame        = "frame"
	Gray         = "gray"
	BlurTmp      = "blur_tmp"
	Blurred      = "blurred"
	Pattern      = "brief_pattern"
	ZeroWord     = "zero"

	LatestCorners       = "latest_corners"
	LatestCounter       = "latest_corners_counter"
	LatestDescriptors   = "latest_descriptors"
	PreviousCorners     = "previous_corners"
	PreviousCounter     = "previous_corners_counter"
	PreviousDescriptors = "previous_descriptors"
	Matches             = "feature_matches"
	MatchCounter        = "feature_matches_counter"
)

// Record sizes in 32-bit words.
const (
	CornerWords     = 2
	DescriptorWords = 8
	MatchWords      = 1
)

// ParamsBytes is the size of the params uniform.
const ParamsBytes = 32

// Params is the uniform block shared by all stages.
type Params struct {
	Width, Height uint32
	MaxFeatures   uint32
	MaxMatches    uint32

	// Threshold is the corner contrast threshold in [0, 1] intensity units.
	Threshold float32

	// MatchThreshold is the largest accepted Hamming distance in bits.
	MatchThreshold uint32
}

// Bytes encodes p in the uniform layout.
func (p Params) Bytes() []byte {
	b := make([]byte, ParamsBytes)
	binary.LittleEndian.PutUint32(b[0:], p.Width)
	binary.LittleEndian.PutUint32(b[4:], p.Height)
	binary.LittleEndian.PutUint32(b[8:], p.MaxFeatures)
	binary.LittleEndian.PutUint32(b[12:], p.MaxMatches)
	binary.LittleEndian.PutUint32(b[16:], math.Float32bits(p.Threshold))
	binary.LittleEndian.PutUint32(b[20:], p.MatchThreshold)
	return b
}

// decodeParams reads the params uniform as seen by a lane.
func decodeParams(w []uint32) Params {
	return Params{
		Width:          w[0],
		Height:         w[1],
		MaxFeatures:    w[2],
		MaxMatches:     w[3],
		Threshold:      math.Float32frombits(w[4]),
		MatchThreshold: w[5],
	}
}

// Stage is one stage contract.
type Stage struct {
	Kernel gpucore.KernelDesc

	// Grid returns the workgroup counts to dispatch for p.
	Grid func(p Params) [3]uint32
}

// Set is the full list of stage contracts used by a pipeline.
type Set struct {
	Grayscale   Stage
	BlurX       Stage
	BlurY       Stage
	Corners     Stage
	Descriptors Stage
	Match       Stage
}

// Stages returns the stages in execution order.
func (s *Set) Stages() []*Stage {
	return []*Stage{&s.Grayscale, &s.BlurX, &s.BlurY, &s.Corners, &s.Descriptors, &s.Match}
}

// Default returns the stage set with the FAST-9 corner test.
func Default() Set {
	return WithCornerTest(FAST9)
}

// WithCornerTest returns the default stage set with a different corner test.
func WithCornerTest(test CornerTest) Set {
	return Set{
		Grayscale:   GrayscaleStage(),
		BlurX:       BlurXStage(),
		BlurY:       BlurYStage(),
		Corners:     CornerStage(test),
		Descriptors: DescriptorStage(),
		Match:       MatchStage(),
	}
}

// imageGrid covers every pixel with 8x8 workgroups.
func imageGrid(p Params) [3]uint32 {
	return [3]uint32{gpucore.Groups(p.Width, 8), gpucore.Groups(p.Height, 8), 1}
}

// Surface is a read view of a single-channel float surface inside a lane.
type Surface struct {
	Words         []uint32
	Width, Height uint32
}

// At returns the texel at (x, y) with clamp-to-edge addressing.
func (s Surface) At(x, y int) float32 {
	x = max(0, min(x, int(s.Width)-1))
	y = max(0, min(y, int(s.Height)-1))
	return math.Float32frombits(s.Words[y*int(s.Width)+x])
}
