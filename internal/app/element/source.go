package element

import "github.com/tutu-network/dataflow/internal/domain"

// SourceFunc is the user logic of a 0-input element. It may send any number
// of messages per execution.
type SourceFunc[O any] func(out *Sender[O]) (domain.Schedule, error)

// Source is implemented by stateful source logic.
type Source[O any] interface {
	Process(out *Sender[O]) (domain.Schedule, error)
}

// Process calls f.
func (f SourceFunc[O]) Process(out *Sender[O]) (domain.Schedule, error) { return f(out) }

// SourceTask adapts a Source into a domain.Task.
type SourceTask[O any] struct {
	core[O]
	logic Source[O]
}

// NewSource wraps logic as a task named name whose output queue holds
// queueSize messages.
func NewSource[O any](name string, queueSize int, logic Source[O], opts ...Option) (*SourceTask[O], *Output[O]) {
	c, out := newCore[O](name, queueSize, opts)
	return &SourceTask[O]{core: c, logic: logic}, out
}

// Kind returns "source".
func (t *SourceTask[O]) Kind() string { return "source" }

// Execute runs the source logic once.
func (t *SourceTask[O]) Execute(r domain.Reporter) domain.Schedule {
	return t.track(r, func() (domain.Schedule, error) {
		return t.logic.Process(t.out)
	})
}
