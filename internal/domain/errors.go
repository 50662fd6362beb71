package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Connection and registration errors are local, recoverable conditions
// surfaced to the graph builder. None of them is ever raised as a panic.

var (
	// Connection errors
	ErrBusy          = errors.New("endpoint already bound")
	ErrNonExistent   = errors.New("referenced slot or channel does not exist")
	ErrStopping      = errors.New("graph is tearing down")
	ErrAlreadyExists = errors.New("already registered")
	ErrTypeMismatch  = errors.New("payload types differ")

	// Arity errors
	ErrOutOfRange = errors.New("channel index out of range")

	// Task table errors
	ErrGraphFull = errors.New("task table is full")
	ErrNotStored = errors.New("slot holds no task")

	// Configuration errors
	ErrInvalidRule   = errors.New("invalid scheduling rule")
	ErrInvalidPolicy = errors.New("invalid error policy")
	ErrUnknownKind   = errors.New("unknown element kind")
)

// ConnectError describes a failed attempt to pair two channel endpoints.
type ConnectError struct {
	From ChannelID // sender side
	To   ChannelID // receiver side
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s -> %s: %v", e.From, e.To, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
