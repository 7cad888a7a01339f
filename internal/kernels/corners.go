package kernels

import (
	"github.com/gogpu/orb/gpucore"
	"github.com/gogpu/orb/internal/appendbuf"
)

// Margin is the border, in pixels, where no corner is reported.
const Margin = 3

// CornerTest is a pluggable corner predicate. WGSL must define
// `fn is_corner(x: i32, y: i32) -> bool` and may use `texel` and `params`.
type CornerTest struct {
	Name string
	WGSL string
	Lane func(gray Surface, x, y int, threshold float32) bool
}

// ring is the Bresenham circle of radius 3 used by FAST.
var ring = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1}, {3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1}, {-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// FAST9 accepts a pixel when at least nine contiguous ring pixels are all
// brighter than center+threshold or all darker than center-threshold.
var FAST9 = CornerTest{
	Name: "fast9",
	WGSL: fast9WGSL,
	Lane: fast9,
}

// AcceptAll accepts every candidate pixel.
var AcceptAll = CornerTest{
	Name: "accept_all",
	WGSL: acceptAllWGSL,
	Lane: func(Surface, int, int, float32) bool { return true },
}

func fast9(gray Surface, x, y int, threshold float32) bool {
	center := gray.At(x, y)
	var brighter, darker uint32
	for i, off := range ring {
		v := gray.At(x+off[0], y+off[1])
		if v > center+threshold {
			brighter |= 1 << i
		}
		if v < center-threshold {
			darker |= 1 << i
		}
	}
	return hasArc(brighter) || hasArc(darker)
}

// hasArc reports whether the 16-bit ring mask has a run of 9 set bits,
// wrapping around.
func hasArc(mask uint32) bool {
	m := mask | mask<<16
	run := 0
	for i := range 32 {
		if m>>i&1 != 0 {
			run++
			if run >= 9 {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

// CornerStage appends accepted pixels of gray to the latest corner list.
//
// Bindings: params, gray (read), latest_corners (read_write),
// latest_corners_counter (read_write, atomic).
func CornerStage(test CornerTest) Stage {
	return Stage{
		Kernel: gpucore.KernelDesc{
			Label: "corners_" + test.Name,
			Bindings: []gpucore.BindingDecl{
				{Name: ParamsBuffer, Access: gpucore.AccessUniform},
				{Name: Gray, Access: gpucore.AccessRead},
				{Name: LatestCorners, Access: gpucore.AccessReadWrite},
				{Name: LatestCounter, Access: gpucore.AccessReadWrite},
			},
			Workgroup: [3]uint32{8, 8, 1},
			WGSL:      source(cornersWGSL, test.WGSL),
			Entry:     "main",
			Lane:      cornerLane(test),
		},
		Grid: imageGrid,
	}
}

func cornerLane(test CornerTest) gpucore.LaneFunc {
	return func(gid [3]uint32, words [][]uint32) {
		p := decodeParams(words[0])
		x, y := gid[0], gid[1]
		if x < Margin || y < Margin || x+Margin >= p.Width || y+Margin >= p.Height {
			return
		}
		gray := Surface{Words: words[1], Width: p.Width, Height: p.Height}
		if !test.Lane(gray, int(x), int(y), p.Threshold) {
			return
		}
		corners := words[2]
		appendbuf.Append(&words[3][0], p.MaxFeatures, func(slot uint32) {
			corners[slot*CornerWords] = x
			corners[slot*CornerWords+1] = y
		})
	}
}
