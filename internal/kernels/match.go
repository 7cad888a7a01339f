package kernels

import (
	"github.com/gogpu/orb/gpucore"
	"github.com/gogpu/orb/internal/appendbuf"
)

// MaxMatchIndex is the largest corner index a match record can carry.
const MaxMatchIndex = 0xffff

// PackMatch encodes a latest/previous index pair as a match record.
func PackMatch(latest, previous uint32) uint32 {
	return latest<<16 | previous&0xffff
}

// UnpackMatch decodes a match record.
func UnpackMatch(v uint32) (latest, previous uint32) {
	return v >> 16, v & 0xffff
}

// MatchStage compares every valid latest descriptor against every valid
// previous descriptor and appends pairs within MatchThreshold bits.
//
// Bindings: params, latest_descriptors, latest_corners_counter,
// previous_descriptors, previous_corners_counter (all read),
// feature_matches (read_write), feature_matches_counter (read_write, atomic).
func MatchStage() Stage {
	return Stage{
		Kernel: gpucore.KernelDesc{
			Label: "match",
			Bindings: []gpucore.BindingDecl{
				{Name: ParamsBuffer, Access: gpucore.AccessUniform},
				{Name: LatestDescriptors, Access: gpucore.AccessRead},
				{Name: LatestCounter, Access: gpucore.AccessRead},
				{Name: PreviousDescriptors, Access: gpucore.AccessRead},
				{Name: PreviousCounter, Access: gpucore.AccessRead},
				{Name: Matches, Access: gpucore.AccessReadWrite},
				{Name: MatchCounter, Access: gpucore.AccessReadWrite},
			},
			Workgroup: [3]uint32{8, 8, 1},
			WGSL:      source(matchWGSL),
			Entry:     "main",
			Lane:      matchLane,
		},
		Grid: func(p Params) [3]uint32 {
			n := gpucore.Groups(p.MaxFeatures, 8)
			return [3]uint32{n, n, 1}
		},
	}
}

func matchLane(gid [3]uint32, words [][]uint32) {
	p := decodeParams(words[0])
	i, j := gid[0], gid[1]
	if i >= appendbuf.Clamp(words[2][0], p.MaxFeatures) || j >= appendbuf.Clamp(words[4][0], p.MaxFeatures) {
		return
	}
	latest := words[1][i*DescriptorWords : (i+1)*DescriptorWords]
	previous := words[3][j*DescriptorWords : (j+1)*DescriptorWords]
	if uint32(Hamming(latest, previous)) > p.MatchThreshold {
		return
	}
	matches := words[5]
	appendbuf.Append(&words[6][0], p.MaxMatches, func(slot uint32) {
		matches[slot] = PackMatch(i, j)
	})
}
