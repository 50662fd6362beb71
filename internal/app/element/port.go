package element

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/tutu-network/dataflow/internal/domain"
	"github.com/tutu-network/dataflow/internal/infra/lossyq"
)

// Endpoint connection states. Pairing moves an endpoint from portFree to
// portConnected exactly once; portBinding is held only inside Connect.
const (
	portFree uint32 = iota
	portBinding
	portConnected
)

// OutputPort is the type-erased view of a sender-side handle.
type OutputPort interface {
	ID() domain.ChannelID
	Connected() bool
	Peer() (domain.ChannelID, bool)
	PayloadType() string
	ConnectTo(in InputPort) error
}

// InputPort is the type-erased view of a receiver-side handle.
type InputPort interface {
	ID() domain.ChannelID
	Connected() bool
	Peer() (domain.ChannelID, bool)
	PayloadType() string
	Pos() uint64
}

// ConnectPorts pairs two type-erased endpoints. A payload type mismatch is
// reported as a *domain.ConnectError wrapping domain.ErrTypeMismatch.
func ConnectPorts(out OutputPort, in InputPort) error {
	return out.ConnectTo(in)
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

// ─── Sender ─────────────────────────────────────────────────────────────────

// Sender is the write end of an element's output channel, handed to user
// logic on every execution.
type Sender[T any] struct {
	id domain.ChannelID
	tx *lossyq.Sender[domain.Message[T]]
}

// ID returns the identity of this output.
func (s *Sender[T]) ID() domain.ChannelID { return s.id }

// Send appends m and returns the channel's new sequence number.
func (s *Sender[T]) Send(m domain.Message[T]) uint64 { return s.tx.Send(m) }

// SendValue sends a Value message.
func (s *Sender[T]) SendValue(v T) uint64 { return s.tx.Send(domain.Value(v)) }

// Seqno returns the number of messages accepted by the channel so far.
func (s *Sender[T]) Seqno() uint64 { return s.tx.Seqno() }

// ─── Output (sender-side handle) ────────────────────────────────────────────

// Output is the sender-side handle an element constructor returns. It holds
// the read half of the element's queue until it is paired with an Input.
type Output[T any] struct {
	id    domain.ChannelID
	state atomic.Uint32
	rx    *lossyq.Receiver[domain.Message[T]]
	peer  domain.ChannelID
}

func newChannel[T any](task string, index, size int) (*Sender[T], *Output[T]) {
	tx, rx := lossyq.New[domain.Message[T]](size)
	id := domain.NewChannelID(task, index)
	return &Sender[T]{id: id, tx: tx}, &Output[T]{id: id, rx: rx}
}

// ID returns the producer's channel identity.
func (o *Output[T]) ID() domain.ChannelID { return o.id }

// Connected reports whether the output has been paired.
func (o *Output[T]) Connected() bool { return o.state.Load() == portConnected }

// Peer returns the identity of the paired input.
func (o *Output[T]) Peer() (domain.ChannelID, bool) {
	if !o.Connected() {
		return domain.ChannelID{}, false
	}
	return o.peer, true
}

// PayloadType names the message payload type.
func (o *Output[T]) PayloadType() string { return typeName[T]() }

// ConnectTo pairs o with a type-erased input.
func (o *Output[T]) ConnectTo(in InputPort) error {
	if in == nil {
		return &domain.ConnectError{From: o.id, Err: domain.ErrNonExistent}
	}
	typed, ok := in.(*Input[T])
	if !ok {
		return &domain.ConnectError{
			From: o.id,
			To:   in.ID(),
			Err:  fmt.Errorf("%w: %s sends %s, %s accepts %s", domain.ErrTypeMismatch, o.id, o.PayloadType(), in.ID(), in.PayloadType()),
		}
	}
	return Connect(o, typed)
}

// ─── Input (receiver-side handle) ───────────────────────────────────────────

// Input is the receiver-side handle owned by a consuming task at one input
// position. All methods are safe on a nil *Input, which behaves as an
// unconnected endpoint.
type Input[T any] struct {
	id    domain.ChannelID
	state atomic.Uint32
	rx    *lossyq.Receiver[domain.Message[T]]
	peer  domain.ChannelID
}

// NewInput creates an unconnected input endpoint with the given identity.
// Element constructors use it for their inputs; callers outside a graph use
// it to tap an element's output.
func NewInput[T any](owner string, index int) *Input[T] {
	return &Input[T]{id: domain.NewChannelID(owner, index)}
}

// ID returns this endpoint's own identity (consumer name, input index).
func (in *Input[T]) ID() domain.ChannelID {
	if in == nil {
		return domain.ChannelID{}
	}
	return in.id
}

// Connected reports whether the input has been paired.
func (in *Input[T]) Connected() bool {
	return in != nil && in.state.Load() == portConnected
}

// Peer returns the sender identity if connected.
func (in *Input[T]) Peer() (domain.ChannelID, bool) {
	if !in.Connected() {
		return domain.ChannelID{}, false
	}
	return in.peer, true
}

// PayloadType names the accepted payload type.
func (in *Input[T]) PayloadType() string { return typeName[T]() }

// TryRecv returns the next message, or Empty when nothing is pending or the
// input is unconnected. It never blocks.
func (in *Input[T]) TryRecv() domain.Message[T] {
	if !in.Connected() {
		return domain.Empty[T]()
	}
	m, ok := in.rx.TryRecv()
	if !ok {
		return domain.Empty[T]()
	}
	return m
}

// Seqno returns the peer's sequence counter as seen by this reader.
func (in *Input[T]) Seqno() uint64 {
	if !in.Connected() {
		return 0
	}
	return in.rx.Seqno()
}

// Pos returns how many messages this reader has consumed or skipped.
func (in *Input[T]) Pos() uint64 {
	if !in.Connected() {
		return 0
	}
	return in.rx.Pos()
}

// Pending returns the number of retained unread messages.
func (in *Input[T]) Pending() int {
	if !in.Connected() {
		return 0
	}
	return in.rx.Pending()
}

// Dropped returns how many messages were overwritten before being read.
func (in *Input[T]) Dropped() uint64 {
	if !in.Connected() {
		return 0
	}
	return in.rx.Dropped()
}

// Await returns the schedule that suspends until the peer sends something
// this reader has not seen. An unconnected input can only wait for an
// external trigger.
func (in *Input[T]) Await() domain.Schedule {
	if !in.Connected() {
		return domain.OnExternalEvent()
	}
	return domain.OnMessage(in.peer, in.rx.Pos())
}

// ─── Connect ────────────────────────────────────────────────────────────────

// Connect pairs out with in. Either side already being bound fails with a
// *domain.ConnectError wrapping domain.ErrBusy; nothing is replaced.
func Connect[T any](out *Output[T], in *Input[T]) error {
	if in == nil || out == nil {
		return &domain.ConnectError{From: out.safeID(), To: in.ID(), Err: domain.ErrNonExistent}
	}
	if !out.state.CompareAndSwap(portFree, portBinding) {
		return &domain.ConnectError{From: out.id, To: in.id, Err: domain.ErrBusy}
	}
	if !in.state.CompareAndSwap(portFree, portBinding) {
		out.state.Store(portFree)
		return &domain.ConnectError{From: out.id, To: in.id, Err: domain.ErrBusy}
	}

	in.rx, in.peer = out.rx, out.id
	out.rx, out.peer = nil, in.id

	in.state.Store(portConnected)
	out.state.Store(portConnected)
	return nil
}

func (o *Output[T]) safeID() domain.ChannelID {
	if o == nil {
		return domain.ChannelID{}
	}
	return o.id
}
