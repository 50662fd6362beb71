package element

import "github.com/tutu-network/dataflow/internal/domain"

// YMergeFunc is the user logic of a 2-input element. Either side is nil
// while unconnected.
type YMergeFunc[A, B, O any] func(a *Input[A], b *Input[B], out *Sender[O]) (domain.Schedule, error)

// YMerge is implemented by stateful merge logic.
type YMerge[A, B, O any] interface {
	Process(a *Input[A], b *Input[B], out *Sender[O]) (domain.Schedule, error)
}

// Process calls f.
func (f YMergeFunc[A, B, O]) Process(a *Input[A], b *Input[B], out *Sender[O]) (domain.Schedule, error) {
	return f(a, b, out)
}

// YMergeTask adapts a YMerge into a domain.Task.
type YMergeTask[A, B, O any] struct {
	core[O]
	a     *Input[A]
	b     *Input[B]
	logic YMerge[A, B, O]
}

// NewYMerge wraps logic as a task with two inputs of independent types.
func NewYMerge[A, B, O any](name string, queueSize int, logic YMerge[A, B, O], opts ...Option) (*YMergeTask[A, B, O], *Output[O]) {
	a, b := NewInput[A](name, 0), NewInput[B](name, 1)
	c, out := newCore[O](name, queueSize, opts, a, b)
	return &YMergeTask[A, B, O]{core: c, a: a, b: b, logic: logic}, out
}

// InputA returns input position 0.
func (t *YMergeTask[A, B, O]) InputA() *Input[A] { return t.a }

// InputB returns input position 1.
func (t *YMergeTask[A, B, O]) InputB() *Input[B] { return t.b }

// Kind returns "ymerge".
func (t *YMergeTask[A, B, O]) Kind() string { return "ymerge" }

// Execute runs the merge logic once.
func (t *YMergeTask[A, B, O]) Execute(r domain.Reporter) domain.Schedule {
	a, b := t.a, t.b
	if !a.Connected() {
		a = nil
	}
	if !b.Connected() {
		b = nil
	}
	return t.track(r, func() (domain.Schedule, error) {
		return t.logic.Process(a, b, t.out)
	})
}
