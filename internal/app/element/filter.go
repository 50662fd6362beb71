package element

import "github.com/tutu-network/dataflow/internal/domain"

// FilterFunc is the user logic of a 1-input element.
type FilterFunc[I, O any] func(in *Input[I], out *Sender[O]) (domain.Schedule, error)

// Filter is implemented by stateful filter logic.
type Filter[I, O any] interface {
	Process(in *Input[I], out *Sender[O]) (domain.Schedule, error)
}

// Process calls f.
func (f FilterFunc[I, O]) Process(in *Input[I], out *Sender[O]) (domain.Schedule, error) {
	return f(in, out)
}

// FilterTask adapts a Filter into a domain.Task.
type FilterTask[I, O any] struct {
	core[O]
	in    *Input[I]
	logic Filter[I, O]
}

// NewFilter wraps logic as a task with one input.
func NewFilter[I, O any](name string, queueSize int, logic Filter[I, O], opts ...Option) (*FilterTask[I, O], *Output[O]) {
	in := NewInput[I](name, 0)
	c, out := newCore[O](name, queueSize, opts, in)
	return &FilterTask[I, O]{core: c, in: in, logic: logic}, out
}

// Input returns the filter's input endpoint.
func (t *FilterTask[I, O]) Input() *Input[I] { return t.in }

// Kind returns "filter".
func (t *FilterTask[I, O]) Kind() string { return "filter" }

// Execute runs the filter logic once.
func (t *FilterTask[I, O]) Execute(r domain.Reporter) domain.Schedule {
	return t.track(r, func() (domain.Schedule, error) {
		return t.logic.Process(t.in, t.out)
	})
}

// MapFilter builds filter logic that applies fn to every pending value and
// sends the result. Acks and faults from upstream are forwarded unchanged.
// When fn fails the error is returned at once; unread messages stay queued
// for the next execution. Once the input is drained the filter waits for
// its peer.
func MapFilter[I, O any](fn func(I) (O, error)) FilterFunc[I, O] {
	return func(in *Input[I], out *Sender[O]) (domain.Schedule, error) {
		for {
			m := in.TryRecv()
			switch m.Kind {
			case domain.MessageEmpty:
				return in.Await(), nil
			case domain.MessageValue:
				v, err := fn(m.Payload)
				if err != nil {
					return domain.Loop(), err
				}
				out.SendValue(v)
			default:
				out.Send(domain.Retype[O](m))
			}
		}
	}
}
