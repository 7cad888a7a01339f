package kernels

import (
	"math"

	"github.com/gogpu/orb/gpucore"
)

// Luma weights (ITU-R BT.601).
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// blurWeights is the 5-tap binomial kernel.
var blurWeights = [5]float32{0.0625, 0.25, 0.375, 0.25, 0.0625}

// GrayscaleStage converts the packed RGBA8 frame into luma.
//
// Bindings: params, frame (read), gray (read_write).
func GrayscaleStage() Stage {
	return Stage{
		Kernel: gpucore.KernelDesc{
			Label: "grayscale",
			Bindings: []gpucore.BindingDecl{
				{Name: ParamsBuffer, Access: gpucore.AccessUniform},
				{Name: Frame, Access: gpucore.AccessRead},
				{Name: Gray, Access: gpucore.AccessReadWrite},
			},
			Workgroup: [3]uint32{8, 8, 1},
			WGSL:      source(grayscaleWGSL),
			Entry:     "main",
			Lane:      grayscaleLane,
		},
		Grid: imageGrid,
	}
}

func grayscaleLane(gid [3]uint32, words [][]uint32) {
	p := decodeParams(words[0])
	x, y := gid[0], gid[1]
	if x >= p.Width || y >= p.Height {
		return
	}
	i := y*p.Width + x
	px := words[1][i]
	r := float32(px&0xff) / 255
	g := float32(px>>8&0xff) / 255
	b := float32(px>>16&0xff) / 255
	words[2][i] = math.Float32bits(lumaR*r + lumaG*g + lumaB*b)
}

// BlurXStage blurs gray horizontally into blur_tmp.
func BlurXStage() Stage {
	return blurStage("blur_x", Gray, BlurTmp, 1, 0)
}

// BlurYStage blurs blur_tmp vertically into blurred.
func BlurYStage() Stage {
	return blurStage("blur_y", BlurTmp, Blurred, 0, 1)
}

func blurStage(entry, src, dst string, dx, dy int) Stage {
	return Stage{
		Kernel: gpucore.KernelDesc{
			Label: entry,
			Bindings: []gpucore.BindingDecl{
				{Name: ParamsBuffer, Access: gpucore.AccessUniform},
				{Name: src, Access: gpucore.AccessRead},
				{Name: dst, Access: gpucore.AccessReadWrite},
			},
			Workgroup: [3]uint32{8, 8, 1},
			WGSL:      source(blurWGSL),
			Entry:     entry,
			Lane:      blurLane(dx, dy),
		},
		Grid: imageGrid,
	}
}

func blurLane(dx, dy int) gpucore.LaneFunc {
	return func(gid [3]uint32, words [][]uint32) {
		p := decodeParams(words[0])
		x, y := gid[0], gid[1]
		if x >= p.Width || y >= p.Height {
			return
		}
		src := Surface{Words: words[1], Width: p.Width, Height: p.Height}
		var acc float32
		for k := -2; k <= 2; k++ {
			acc += blurWeights[k+2] * src.At(int(x)+k*dx, int(y)+k*dy)
		}
		words[2][y*p.Width+x] = math.Float32bits(acc)
	}
}
