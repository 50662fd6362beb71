package domain

import "fmt"

// MessageKind discriminates the variants carried by a Message.
type MessageKind uint8

const (
	MessageEmpty MessageKind = iota // no value produced this cycle
	MessageValue                    // payload
	MessageAck                      // acknowledgement from→to
	MessageError                    // in-band fault tag
)

// String returns a human-readable message kind.
func (k MessageKind) String() string {
	switch k {
	case MessageEmpty:
		return "EMPTY"
	case MessageValue:
		return "VALUE"
	case MessageAck:
		return "ACK"
	case MessageError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Message is the unit of transport on a channel. All four variants share one
// representation, so a consumer must check Kind (or use Get) before use.
type Message[T any] struct {
	Kind    MessageKind
	Payload T

	// Ack variant: source and destination slot indices.
	AckFrom int
	AckTo   int

	// Error variant: index of the originating stage and the reason.
	Origin int
	Reason string
}

// Empty returns the "nothing this cycle" message.
func Empty[T any]() Message[T] {
	return Message[T]{Kind: MessageEmpty}
}

// Value wraps a payload.
func Value[T any](v T) Message[T] {
	return Message[T]{Kind: MessageValue, Payload: v}
}

// Ack returns an acknowledgement travelling from slot from to slot to.
func Ack[T any](from, to int) Message[T] {
	return Message[T]{Kind: MessageAck, AckFrom: from, AckTo: to}
}

// Fault returns an in-band error raised by the stage at index origin.
func Fault[T any](origin int, reason string) Message[T] {
	return Message[T]{Kind: MessageError, Origin: origin, Reason: reason}
}

// Get returns the payload and true only for the Value variant.
func (m Message[T]) Get() (T, bool) {
	if m.Kind != MessageValue {
		var zero T
		return zero, false
	}
	return m.Payload, true
}

// IsEmpty reports whether m is the Empty variant.
func (m Message[T]) IsEmpty() bool { return m.Kind == MessageEmpty }

// IsFault reports whether m is the Error variant.
func (m Message[T]) IsFault() bool { return m.Kind == MessageError }

// Retype carries a non-value message across a stage whose output type differs
// from its input type. Value messages are returned as Empty.
func Retype[O, I any](m Message[I]) Message[O] {
	switch m.Kind {
	case MessageAck:
		return Ack[O](m.AckFrom, m.AckTo)
	case MessageError:
		return Fault[O](m.Origin, m.Reason)
	default:
		return Empty[O]()
	}
}

// String renders the message for logs and test failures.
func (m Message[T]) String() string {
	switch m.Kind {
	case MessageValue:
		return fmt.Sprintf("Value(%v)", m.Payload)
	case MessageAck:
		return fmt.Sprintf("Ack(%d,%d)", m.AckFrom, m.AckTo)
	case MessageError:
		return fmt.Sprintf("Error(%d,%q)", m.Origin, m.Reason)
	default:
		return "Empty"
	}
}
