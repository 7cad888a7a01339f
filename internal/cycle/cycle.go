// Package cycle sequences the passes of one processing cycle.
//
// A cycle walks a fixed state machine:
//
//	Idle -> CounterReset -> Grayscale -> BlurX -> BlurY -> CornerDetect ->
//	DescriptorCompute -> [MatchDetect] -> [KeyframeCommit] ->
//	ReadbackRequested -> Idle
//
// A [Plan] is the list of steps of one cycle, each declaring the resources
// it reads and writes. [Plan.Validate] checks the plan before anything is
// recorded: every read is produced earlier in the plan or is persistent,
// and every append counter is reset before its first writer. All steps are
// recorded into one command buffer, so the recording order is the only
// ordering edge needed between them.
package cycle

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/orb/gpucore"
)

// Cycle errors.
var (
	// ErrTransition is returned for a state change the machine does not allow.
	ErrTransition = errors.New("cycle: invalid state transition")

	// ErrHazard is returned by Validate for a read before its producer, an
	// unreset counter, or a step that reads and writes the same resource.
	ErrHazard = errors.New("cycle: resource hazard")
)

// State is a step of the cycle state machine.
type State uint8

// Cycle states in execution order.
const (
	Idle State = iota
	CounterReset
	Grayscale
	BlurX
	BlurY
	CornerDetect
	DescriptorCompute
	MatchDetect
	KeyframeCommit
	ReadbackRequested
)

var stateNames = [...]string{
	Idle:              "Idle",
	CounterReset:      "CounterReset",
	Grayscale:         "Grayscale",
	BlurX:             "BlurX",
	BlurY:             "BlurY",
	CornerDetect:      "CornerDetect",
	DescriptorCompute: "DescriptorCompute",
	MatchDetect:       "MatchDetect",
	KeyframeCommit:    "KeyframeCommit",
	ReadbackRequested: "ReadbackRequested",
}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// next lists the allowed successors of each state.
var next = map[State][]State{
	Idle:              {CounterReset},
	CounterReset:      {Grayscale},
	Grayscale:         {BlurX},
	BlurX:             {BlurY},
	BlurY:             {CornerDetect},
	CornerDetect:      {DescriptorCompute},
	DescriptorCompute: {MatchDetect, KeyframeCommit, ReadbackRequested},
	MatchDetect:       {KeyframeCommit, ReadbackRequested},
	KeyframeCommit:    {ReadbackRequested},
	ReadbackRequested: {Idle},
}

// CanTransition reports whether the machine may move from one state to another.
func CanTransition(from, to State) bool {
	return slices.Contains(next[from], to)
}

// Machine tracks the current state of a pipeline.
type Machine struct {
	mu    sync.Mutex
	state State
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Advance moves to the next state.
func (m *Machine) Advance(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !CanTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, m.state, to)
	}
	m.state = to
	return nil
}

// Abort returns to Idle from any state.
func (m *Machine) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Idle
}

// Step is one entry of a plan.
type Step struct {
	State State

	// Reads and Writes are the resource names the step accesses.
	Reads  []string
	Writes []string

	// Record appends the step's commands to enc.
	Record func(enc gpucore.Encoder) error
}

// Plan is the ordered step list of one cycle.
type Plan struct {
	Steps []Step

	// Persistent names resources valid at the start of the cycle: host
	// uploads and state carried over from earlier cycles.
	Persistent []string

	// Counters names append counters. Their first writer must be the
	// CounterReset step.
	Counters []string
}

// Add appends a step.
func (p *Plan) Add(s Step) {
	p.Steps = append(p.Steps, s)
}

// States returns the states of the plan in order.
func (p *Plan) States() []State {
	out := make([]State, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.State
	}
	return out
}

// Validate checks transitions and read/write hazards.
func (p *Plan) Validate() error {
	state := Idle
	for _, s := range p.Steps {
		if !CanTransition(state, s.State) {
			return fmt.Errorf("%w: %s -> %s", ErrTransition, state, s.State)
		}
		state = s.State
	}
	if state != ReadbackRequested {
		return fmt.Errorf("%w: plan ends in %s, want %s", ErrTransition, state, ReadbackRequested)
	}

	valid := make(map[string]bool, len(p.Persistent))
	for _, name := range p.Persistent {
		valid[name] = true
	}
	counters := make(map[string]bool, len(p.Counters))
	for _, name := range p.Counters {
		counters[name] = true
	}
	reset := make(map[string]bool, len(p.Counters))

	for _, s := range p.Steps {
		for _, r := range s.Reads {
			if slices.Contains(s.Writes, r) {
				return fmt.Errorf("%w: %s reads and writes %q", ErrHazard, s.State, r)
			}
			if !valid[r] {
				return fmt.Errorf("%w: %s reads %q before any step produced it", ErrHazard, s.State, r)
			}
		}
		for _, w := range s.Writes {
			if counters[w] && !reset[w] {
				if s.State != CounterReset {
					return fmt.Errorf("%w: %s appends to %q before it was reset", ErrHazard, s.State, w)
				}
				reset[w] = true
			}
			valid[w] = true
		}
	}
	return nil
}

// Record validates the plan and records every step into enc while walking m
// through the plan's states. On failure m is returned to Idle.
func (p *Plan) Record(m *Machine, enc gpucore.Encoder) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for _, s := range p.Steps {
		if err := m.Advance(s.State); err != nil {
			m.Abort()
			return err
		}
		if s.Record == nil {
			continue
		}
		if err := s.Record(enc); err != nil {
			m.Abort()
			return fmt.Errorf("cycle: %s: %w", s.State, err)
		}
	}
	return nil
}
