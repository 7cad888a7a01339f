package orb

import (
	"context"
	"fmt"

	"github.com/gogpu/orb/gpucore"
	"github.com/gogpu/orb/internal/appendbuf"
	"github.com/gogpu/orb/internal/kernels"
	"github.com/gogpu/orb/internal/readback"
)

// cycleResult holds the readback handles of the last cycle and the results
// already read from them.
type cycleResult struct {
	number  uint64
	matches bool
	handles map[string]*readback.Handle

	counts      map[string]appendbuf.Count
	corners     *CornerSet
	descriptors []Descriptor
	matchSet    *MatchSet
	keyframe    *Keyframe
}

// current returns the last cycle's result. must be called with p.mu held.
func (p *Pipeline) current() (*cycleResult, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if p.last == nil {
		return nil, ErrNoCycle
	}
	return p.last, nil
}

// resolve reads size bytes of a mirrored buffer of res.
func (p *Pipeline) resolve(ctx context.Context, res *cycleResult, name string, size uint64) ([]uint32, error) {
	h, ok := res.handles[name]
	if !ok {
		return nil, fmt.Errorf("%w: no readback of %q in cycle %d", ErrNotFound, name, res.number)
	}
	b, err := p.reader.Resolve(ctx, h, size)
	if err != nil {
		return nil, p.fail(fmt.Errorf("orb: cycle %d: %w", res.number, err))
	}
	if size > 0 {
		p.logger().Debug("orb: readback", "cycle", res.number, "buffer", name, "bytes", size)
	}
	return gpucore.BytesToWords(b), nil
}

// count reads an append counter of res.
func (p *Pipeline) count(ctx context.Context, res *cycleResult, counter string, capacity uint32) (appendbuf.Count, error) {
	if c, ok := res.counts[counter]; ok {
		return c, nil
	}
	words, err := p.resolve(ctx, res, counter, appendbuf.CounterBytes)
	if err != nil {
		return appendbuf.Count{}, err
	}
	c, err := appendbuf.DecodeCount(gpucore.WordsToBytes(words), capacity)
	if err != nil {
		return appendbuf.Count{}, err
	}
	if res.counts == nil {
		res.counts = make(map[string]appendbuf.Count)
	}
	res.counts[counter] = c
	return c, nil
}

// records reads the valid prefix of an append list. An empty list is
// returned without mapping the record mirror.
func (p *Pipeline) records(ctx context.Context, res *cycleResult, l appendbuf.Layout) (appendbuf.Count, []uint32, error) {
	c, err := p.count(ctx, res, l.Counter, l.Capacity)
	if err != nil {
		return c, nil, err
	}
	words, err := p.resolve(ctx, res, l.Records, l.Prefix(c.Raw))
	return c, words, err
}

func (p *Pipeline) cornerLayout() appendbuf.Layout {
	return appendbuf.Layout{
		Records:     kernels.LatestCorners,
		Counter:     kernels.LatestCounter,
		RecordWords: kernels.CornerWords,
		Capacity:    p.params.MaxFeatures,
	}
}

// ReadCorners returns the corners of the last cycle, blocking until the
// cycle has completed.
func (p *Pipeline) ReadCorners(ctx context.Context) (CornerSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.current()
	if err != nil {
		return CornerSet{}, err
	}
	if res.corners != nil {
		return *res.corners, nil
	}
	c, words, err := p.records(ctx, res, p.cornerLayout())
	if err != nil {
		return CornerSet{}, err
	}
	set := CornerSet{
		Cycle:     res.number,
		Corners:   decodeCorners(words),
		Attempted: c.Raw,
		Saturated: c.Saturated(),
	}
	if set.Saturated {
		p.cornerSaturations++
		p.logger().Warn("orb: corner list saturated",
			"cycle", res.number, "capacity", c.Capacity, "dropped", c.Dropped())
	}
	res.corners = &set
	return set, nil
}

// ReadDescriptors returns the descriptors of the last cycle's corners, in
// corner order. With no corners it returns an empty slice without reading
// the descriptor table.
func (p *Pipeline) ReadDescriptors(ctx context.Context) ([]Descriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.current()
	if err != nil {
		return nil, err
	}
	if res.descriptors != nil {
		return res.descriptors, nil
	}
	l := p.cornerLayout()
	l.Records, l.RecordWords = kernels.LatestDescriptors, kernels.DescriptorWords
	_, words, err := p.records(ctx, res, l)
	if err != nil {
		return nil, err
	}
	res.descriptors = decodeDescriptors(words)
	return res.descriptors, nil
}

// ReadMatches returns the matches of the last cycle. A cycle run without
// ComputeMatches yields an empty set with Computed unset.
func (p *Pipeline) ReadMatches(ctx context.Context) (MatchSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.current()
	if err != nil {
		return MatchSet{}, err
	}
	if res.matchSet != nil {
		return *res.matchSet, nil
	}
	if !res.matches {
		return MatchSet{Cycle: res.number}, nil
	}
	c, words, err := p.records(ctx, res, appendbuf.Layout{
		Records:     kernels.Matches,
		Counter:     kernels.MatchCounter,
		RecordWords: kernels.MatchWords,
		Capacity:    p.params.MaxMatches,
	})
	if err != nil {
		return MatchSet{}, err
	}
	set := MatchSet{
		Cycle:     res.number,
		Computed:  true,
		Matches:   decodeMatches(words),
		Attempted: c.Raw,
		Saturated: c.Saturated(),
	}
	if set.Saturated {
		p.matchSaturations++
		p.logger().Warn("orb: match list saturated",
			"cycle", res.number, "capacity", c.Capacity, "dropped", c.Dropped())
	}
	res.matchSet = &set
	return set, nil
}

// ReadKeyframe returns the keyframe as of the end of the last cycle.
func (p *Pipeline) ReadKeyframe(ctx context.Context) (Keyframe, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.current()
	if err != nil {
		return Keyframe{}, err
	}
	if res.keyframe != nil {
		return *res.keyframe, nil
	}
	snap := p.keys.Snapshot()
	kf := Keyframe{Generation: snap.Generation, Cycle: snap.Cycle}
	if snap.Generation > 0 {
		l := appendbuf.Layout{
			Records:     kernels.PreviousCorners,
			Counter:     kernels.PreviousCounter,
			RecordWords: kernels.CornerWords,
			Capacity:    p.params.MaxFeatures,
		}
		_, corners, err := p.records(ctx, res, l)
		if err != nil {
			return Keyframe{}, err
		}
		l.Records, l.RecordWords = kernels.PreviousDescriptors, kernels.DescriptorWords
		_, descriptors, err := p.records(ctx, res, l)
		if err != nil {
			return Keyframe{}, err
		}
		kf.Corners = decodeCorners(corners)
		kf.Descriptors = decodeDescriptors(descriptors)
	}
	res.keyframe = &kf
	return kf, nil
}
