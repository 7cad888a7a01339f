// Package keyframe holds the double-buffered feature state used for
// temporal matching.
//
// The latest set is rewritten every cycle. The previous set is the keyframe
// snapshot: it changes only through Commit, which records full-buffer copies
// of the latest set into the same command buffer as the cycle that produced
// it. The two sets never share a buffer, so the snapshot stays readable while
// the next cycle writes the latest set.
package keyframe

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/orb/gpucore"
)

// ErrAliased is returned when the latest and previous sets share a buffer
// or differ in shape.
var ErrAliased = errors.New("keyframe: latest and previous sets must be disjoint and equal in size")

// Set is one {corners, counter, descriptors} record.
type Set struct {
	Corners     gpucore.Buffer
	Counter     gpucore.Buffer
	Descriptors gpucore.Buffer
}

func (s Set) buffers() []gpucore.Buffer {
	return []gpucore.Buffer{s.Corners, s.Counter, s.Descriptors}
}

// Store owns the latest and previous sets.
type Store struct {
	latest   Set
	previous Set

	mu sync.Mutex
	// generation is the number of confirmed commits.
	generation uint64
	// cycle is the cycle number of the last confirmed commit.
	cycle   uint64
	pending bool
}

// New creates a store over two disjoint sets of equal shape.
func New(latest, previous Set) (*Store, error) {
	lb, pb := latest.buffers(), previous.buffers()
	for i := range lb {
		if lb[i] == nil || pb[i] == nil {
			return nil, fmt.Errorf("%w: nil buffer", ErrAliased)
		}
		if lb[i].Size() != pb[i].Size() {
			return nil, fmt.Errorf("%w: %q is %d bytes, %q is %d bytes",
				ErrAliased, lb[i].Label(), lb[i].Size(), pb[i].Label(), pb[i].Size())
		}
	}
	seen := make(map[gpucore.Buffer]bool, 6)
	for _, b := range append(lb, pb...) {
		if seen[b] {
			return nil, fmt.Errorf("%w: %q appears twice", ErrAliased, b.Label())
		}
		seen[b] = true
	}
	return &Store{latest: latest, previous: previous}, nil
}

// Latest returns the set written by the current cycle.
func (s *Store) Latest() Set { return s.latest }

// Previous returns the keyframe snapshot set.
func (s *Store) Previous() Set { return s.previous }

// Commit records copies of the whole latest set into the previous set. The
// commit takes effect for readers once the command buffer is submitted and
// Confirm is called.
func (s *Store) Commit(enc gpucore.Encoder) {
	lb, pb := s.latest.buffers(), s.previous.buffers()
	for i := range lb {
		enc.CopyBuffer(lb[i], 0, pb[i], 0, lb[i].Size())
	}
	s.mu.Lock()
	s.pending = true
	s.mu.Unlock()
}

// Confirm marks the recorded commit as submitted by cycle.
func (s *Store) Confirm(cycle uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return
	}
	s.pending = false
	s.generation++
	s.cycle = cycle
}

// Discard drops a recorded commit whose command buffer was never submitted.
func (s *Store) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = false
}

// Snapshot describes the current keyframe.
type Snapshot struct {
	Set

	// Generation counts committed keyframes; zero means none yet.
	Generation uint64

	// Cycle is the cycle whose latest state the snapshot holds.
	Cycle uint64
}

// Snapshot returns the keyframe snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Set: s.previous, Generation: s.generation, Cycle: s.cycle}
}
