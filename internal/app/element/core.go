// Package element adapts user processing logic into schedulable tasks.
//
// Four arities are provided: Source (0 in / 1 out), Filter (1/1), Gather
// (N/1) and YMerge (2/1). Every kind follows one processing contract: logic
// returns the next Schedule and an optional error. The shared wrapper core
// handles progress reporting, error policy and panic recovery, so variants
// only decide which inputs to hand to the logic.
package element

import (
	"fmt"
	"strings"
	"time"

	"github.com/tutu-network/dataflow/internal/domain"
)

// ─── Error Policy ───────────────────────────────────────────────────────────

// ErrorPolicy decides what an element does after its logic reports an error.
// In both cases the error is first sent downstream as a Fault message.
type ErrorPolicy uint8

const (
	ContinueOnError ErrorPolicy = iota // re-arm with Loop
	StopOnError                        // return Stop
)

// String returns the policy's configuration name.
func (p ErrorPolicy) String() string {
	if p == StopOnError {
		return "stop"
	}
	return "continue"
}

// ParsePolicy converts "continue" or "stop" into a policy. Empty means continue.
func ParsePolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue":
		return ContinueOnError, nil
	case "stop":
		return StopOnError, nil
	default:
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidPolicy, s)
	}
}

// ─── Options ────────────────────────────────────────────────────────────────

type options struct {
	policy ErrorPolicy
}

// Option configures an element at construction time.
type Option func(*options)

// WithErrorPolicy sets the element's error policy (default ContinueOnError).
func WithErrorPolicy(p ErrorPolicy) Option {
	return func(o *options) { o.policy = p }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ─── Wrapper Core ───────────────────────────────────────────────────────────

// core implements the arity-independent half of domain.Task for an element
// with one output and any number of inputs.
type core[O any] struct {
	name   string
	policy ErrorPolicy
	out    *Sender[O]
	ins    []InputPort
}

func newCore[O any](name string, queueSize int, opts []Option, ins ...InputPort) (core[O], *Output[O]) {
	tx, handle := newChannel[O](name, 0, queueSize)
	o := buildOptions(opts)
	return core[O]{name: name, policy: o.policy, out: tx, ins: ins}, handle
}

func (c *core[O]) Name() string     { return c.name }
func (c *core[O]) InputCount() int  { return len(c.ins) }
func (c *core[O]) OutputCount() int { return 1 }

// Policy returns the configured error policy.
func (c *core[O]) Policy() ErrorPolicy { return c.policy }

// InputPorts returns the type-erased input endpoints in index order.
func (c *core[O]) InputPorts() []InputPort { return c.ins }

func (c *core[O]) InputID(ch int) (domain.ChannelID, bool) {
	if ch < 0 || ch >= len(c.ins) {
		return domain.ChannelID{}, false
	}
	return c.ins[ch].Peer()
}

func (c *core[O]) OutputID(ch int) (domain.ChannelID, bool) {
	if ch != 0 {
		return domain.ChannelID{}, false
	}
	return c.out.ID(), true
}

func (c *core[O]) TxCount(ch int) uint64 {
	if ch != 0 {
		return 0
	}
	return c.out.Seqno()
}

func (c *core[O]) RxCount(ch int) uint64 {
	if ch < 0 || ch >= len(c.ins) {
		return 0
	}
	return c.ins[ch].Pos()
}

// track invokes one execution of user logic and does the bookkeeping every
// element kind shares: fault emission and error policy, MessageSent when the
// output counter advanced, WaitChannel when the task suspends on a channel.
func (c *core[O]) track(r domain.Reporter, body func() (domain.Schedule, error)) domain.Schedule {
	before := c.out.Seqno()

	sched, err := protect(body)
	if err != nil {
		c.out.Send(domain.Fault[O](r.TaskID(), err.Error()))
		if c.policy == StopOnError {
			sched = domain.Stop()
		} else {
			sched = domain.Loop()
		}
	}

	if after := c.out.Seqno(); after != before {
		r.MessageSent(c.out.ID(), after)
	}
	if sched.Kind == domain.ScheduleOnMessage {
		r.WaitChannel(sched.Channel, sched.Seqno)
	}
	return sched
}

// protect converts a panic inside user logic into an error.
func protect(body func() (domain.Schedule, error)) (sched domain.Schedule, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return body()
}

// ─── Wait Helpers ───────────────────────────────────────────────────────────

// Awaiter is satisfied by *Input of any payload type.
type Awaiter interface {
	Connected() bool
	Await() domain.Schedule
}

// AwaitAny picks a suspension for multi-input logic. With exactly one
// connected input it waits on that channel; with several it polls every
// poll interval, since a Schedule names a single channel; with none it waits
// for an external trigger.
func AwaitAny(poll time.Duration, ins ...Awaiter) domain.Schedule {
	var only Awaiter
	n := 0
	for _, in := range ins {
		if in != nil && in.Connected() {
			only = in
			n++
		}
	}
	switch n {
	case 0:
		return domain.OnExternalEvent()
	case 1:
		return only.Await()
	default:
		return domain.Delay(poll)
	}
}

// Awaiters converts a typed input view for AwaitAny. Nil entries stay
// unconnected.
func Awaiters[T any](ins []*Input[T]) []Awaiter {
	out := make([]Awaiter, len(ins))
	for i, in := range ins {
		out[i] = in
	}
	return out
}
