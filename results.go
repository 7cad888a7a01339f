package orb

import (
	"math/bits"

	"github.com/gogpu/orb/internal/kernels"
)

// Corner is a detected interest point in pixel coordinates.
type Corner struct {
	X, Y int
}

// CornerSet is the corner list of one cycle.
type CornerSet struct {
	// Cycle is the number of the cycle that produced the list.
	Cycle uint64

	// Corners holds the stored corners. The order is unspecified but
	// matches the order of ReadDescriptors for the same cycle.
	Corners []Corner

	// Attempted is the raw append counter: the number of pixels that
	// passed the corner test, including those dropped at capacity.
	Attempted uint32

	// Saturated reports whether the list reached capacity.
	Saturated bool
}

// Count returns the number of stored corners.
func (s CornerSet) Count() int { return len(s.Corners) }

// Descriptor is a 256-bit binary descriptor.
type Descriptor [kernels.DescriptorWords]uint32

// Distance returns the Hamming distance between d and o.
func (d Descriptor) Distance(o Descriptor) int {
	n := 0
	for i := range d {
		n += bits.OnesCount32(d[i] ^ o[i])
	}
	return n
}

// Match pairs a corner of the latest cycle with a keyframe corner.
type Match struct {
	// Latest indexes the CornerSet of the matching cycle.
	Latest int

	// Previous indexes the corners of the keyframe matched against.
	Previous int
}

// MatchSet is the match list of one cycle.
type MatchSet struct {
	Cycle uint64

	// Computed reports whether the cycle ran matching at all.
	Computed bool

	Matches []Match

	// Attempted is the raw append counter including dropped matches.
	Attempted uint32

	Saturated bool
}

// Count returns the number of stored matches.
func (s MatchSet) Count() int { return len(s.Matches) }

// Keyframe is the reference snapshot used for matching.
type Keyframe struct {
	// Generation counts committed keyframes; zero means none has been
	// recorded and the snapshot is empty.
	Generation uint64

	// Cycle is the cycle whose features the snapshot holds.
	Cycle uint64

	Corners     []Corner
	Descriptors []Descriptor
}

func decodeCorners(words []uint32) []Corner {
	out := make([]Corner, len(words)/kernels.CornerWords)
	for i := range out {
		out[i] = Corner{
			X: int(words[i*kernels.CornerWords]),
			Y: int(words[i*kernels.CornerWords+1]),
		}
	}
	return out
}

func decodeDescriptors(words []uint32) []Descriptor {
	out := make([]Descriptor, len(words)/kernels.DescriptorWords)
	for i := range out {
		copy(out[i][:], words[i*kernels.DescriptorWords:])
	}
	return out
}

func decodeMatches(words []uint32) []Match {
	out := make([]Match, len(words))
	for i, w := range words {
		latest, previous := kernels.UnpackMatch(w)
		out[i] = Match{Latest: int(latest), Previous: int(previous)}
	}
	return out
}
