package element

import (
	"fmt"

	"github.com/tutu-network/dataflow/internal/domain"
)

// GatherFunc is the user logic of an N-input element. ins has one entry per
// input position; unconnected positions are nil.
type GatherFunc[I, O any] func(ins []*Input[I], out *Sender[O]) (domain.Schedule, error)

// Gather is implemented by stateful gather logic.
type Gather[I, O any] interface {
	Process(ins []*Input[I], out *Sender[O]) (domain.Schedule, error)
}

// Process calls f.
func (f GatherFunc[I, O]) Process(ins []*Input[I], out *Sender[O]) (domain.Schedule, error) {
	return f(ins, out)
}

// GatherTask adapts a Gather into a domain.Task.
type GatherTask[I, O any] struct {
	core[O]
	inputs []*Input[I]
	view   []*Input[I]
	logic  Gather[I, O]
}

// NewGather wraps logic as a task with n inputs of the same payload type.
func NewGather[I, O any](name string, queueSize, n int, logic Gather[I, O], opts ...Option) (*GatherTask[I, O], *Output[O]) {
	if n < 0 {
		n = 0
	}
	inputs := make([]*Input[I], n)
	ports := make([]InputPort, n)
	for i := range inputs {
		inputs[i] = NewInput[I](name, i)
		ports[i] = inputs[i]
	}
	c, out := newCore[O](name, queueSize, opts, ports...)
	return &GatherTask[I, O]{core: c, inputs: inputs, view: make([]*Input[I], n), logic: logic}, out
}

// Input returns the endpoint at position n, connected or not. Positions at or
// beyond the configured count fail with domain.ErrOutOfRange.
func (t *GatherTask[I, O]) Input(n int) (*Input[I], error) {
	if n < 0 || n >= len(t.inputs) {
		return nil, fmt.Errorf("%s input %d of %d: %w", t.name, n, len(t.inputs), domain.ErrOutOfRange)
	}
	return t.inputs[n], nil
}

// Kind returns "gather".
func (t *GatherTask[I, O]) Kind() string { return "gather" }

// Execute refreshes the connected-input view and runs the gather logic once.
func (t *GatherTask[I, O]) Execute(r domain.Reporter) domain.Schedule {
	for i, in := range t.inputs {
		if in.Connected() {
			t.view[i] = in
		} else {
			t.view[i] = nil
		}
	}
	return t.track(r, func() (domain.Schedule, error) {
		return t.logic.Process(t.view, t.out)
	})
}
