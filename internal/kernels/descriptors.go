package kernels

import (
	"math/bits"

	"github.com/gogpu/orb/gpucore"
	"github.com/gogpu/orb/internal/appendbuf"
)

// DescriptorBits is the descriptor width.
const DescriptorBits = DescriptorWords * 32

// PatternRadius bounds the sampling offsets of the descriptor pattern.
const PatternRadius = 12

// PatternWords is the size of the pattern buffer in 32-bit words.
const PatternWords = DescriptorBits

// PatternPair is one intensity comparison of the descriptor.
type PatternPair struct {
	X1, Y1, X2, Y2 int8
}

// pack stores the pair as four signed bytes, first point in the low half.
func (p PatternPair) pack() uint32 {
	return uint32(uint8(p.X1)) | uint32(uint8(p.Y1))<<8 | uint32(uint8(p.X2))<<16 | uint32(uint8(p.Y2))<<24
}

func unpack(v uint32) PatternPair {
	return PatternPair{X1: int8(v), Y1: int8(v >> 8), X2: int8(v >> 16), Y2: int8(v >> 24)}
}

// BriefPattern returns the fixed sampling pattern: DescriptorBits pairs of
// distinct points inside a square of radius PatternRadius, drawn from a
// seeded xorshift generator so that every device computes the same bits.
func BriefPattern() []PatternPair {
	state := uint32(0x9e3779b9)
	next := func() int8 {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		return int8(int(state%(2*PatternRadius+1)) - PatternRadius)
	}

	pairs := make([]PatternPair, DescriptorBits)
	for i := range pairs {
		for {
			p := PatternPair{X1: next(), Y1: next(), X2: next(), Y2: next()}
			if p.X1 != p.X2 || p.Y1 != p.Y2 {
				pairs[i] = p
				break
			}
		}
	}
	return pairs
}

// PatternBytes encodes the pattern for the brief_pattern buffer.
func PatternBytes(pairs []PatternPair) []byte {
	words := make([]uint32, len(pairs))
	for i, p := range pairs {
		words[i] = p.pack()
	}
	return gpucore.WordsToBytes(words)
}

// DescriptorStage computes a descriptor for every valid corner.
//
// Bindings: params, blurred (read), brief_pattern (read), latest_corners
// (read), latest_corners_counter (read), latest_descriptors (read_write).
// The grid covers the full list capacity; lanes past the clamped counter
// return without writing.
func DescriptorStage() Stage {
	return Stage{
		Kernel: gpucore.KernelDesc{
			Label: "descriptors",
			Bindings: []gpucore.BindingDecl{
				{Name: ParamsBuffer, Access: gpucore.AccessUniform},
				{Name: Blurred, Access: gpucore.AccessRead},
				{Name: Pattern, Access: gpucore.AccessRead},
				{Name: LatestCorners, Access: gpucore.AccessRead},
				{Name: LatestCounter, Access: gpucore.AccessRead},
				{Name: LatestDescriptors, Access: gpucore.AccessReadWrite},
			},
			Workgroup: [3]uint32{64, 1, 1},
			WGSL:      source(descriptorsWGSL),
			Entry:     "main",
			Lane:      descriptorLane,
		},
		Grid: func(p Params) [3]uint32 {
			return [3]uint32{gpucore.Groups(p.MaxFeatures, 64), 1, 1}
		},
	}
}

func descriptorLane(gid [3]uint32, words [][]uint32) {
	p := decodeParams(words[0])
	i := gid[0]
	if i >= appendbuf.Clamp(words[4][0], p.MaxFeatures) {
		return
	}
	blurred := Surface{Words: words[1], Width: p.Width, Height: p.Height}
	pattern := words[2]
	x := int(words[3][i*CornerWords])
	y := int(words[3][i*CornerWords+1])

	out := words[5][i*DescriptorWords : (i+1)*DescriptorWords]
	for w := range DescriptorWords {
		var acc uint32
		for b := range 32 {
			pp := unpack(pattern[w*32+b])
			first := blurred.At(x+int(pp.X1), y+int(pp.Y1))
			second := blurred.At(x+int(pp.X2), y+int(pp.Y2))
			if first < second {
				acc |= 1 << b
			}
		}
		out[w] = acc
	}
}

// Hamming returns the number of differing bits between two descriptors.
func Hamming(a, b []uint32) int {
	n := 0
	for i := range a {
		n += bits.OnesCount32(a[i] ^ b[i])
	}
	return n
}
