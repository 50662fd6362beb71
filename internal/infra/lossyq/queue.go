// Package lossyq implements the bounded single-producer/single-consumer
// queue that backs every channel. When the consumer falls a full capacity
// behind, the oldest messages are overwritten: the sender never blocks and
// the sequence counter keeps advancing across drops.
//
// The producer and the consumer may run on different goroutines without any
// extra synchronization; all shared state is accessed through atomics.
package lossyq

import (
	"math/bits"
	"sync/atomic"
)

type cell[T any] struct {
	seq uint64 // index of the message stored in this cell
	val T
}

type ring[T any] struct {
	cells   []atomic.Pointer[cell[T]]
	mask    uint64
	written atomic.Uint64 // messages accepted so far (the seqno)
	read    atomic.Uint64 // consumer position
	dropped atomic.Uint64 // messages overwritten before being read
}

// Sender is the write half. It must be used by one goroutine at a time.
type Sender[T any] struct {
	r *ring[T]
}

// Receiver is the read half. It must be used by one goroutine at a time.
type Receiver[T any] struct {
	r *ring[T]
}

// New creates a queue holding up to capacity messages. Capacity is rounded up
// to a power of two; values below 1 become 1.
func New[T any](capacity int) (*Sender[T], *Receiver[T]) {
	if capacity < 1 {
		capacity = 1
	}
	size := uint64(1) << bits.Len64(uint64(capacity-1))
	r := &ring[T]{
		cells: make([]atomic.Pointer[cell[T]], size),
		mask:  size - 1,
	}
	return &Sender[T]{r: r}, &Receiver[T]{r: r}
}

// Send appends v, overwriting the oldest unread message when full, and
// returns the new sequence number.
func (s *Sender[T]) Send(v T) uint64 {
	w := s.r.written.Load()
	s.r.cells[w&s.r.mask].Store(&cell[T]{seq: w, val: v})
	s.r.written.Store(w + 1)
	return w + 1
}

// Seqno returns the number of messages accepted so far.
func (s *Sender[T]) Seqno() uint64 { return s.r.written.Load() }

// Capacity returns the number of messages the queue retains.
func (s *Sender[T]) Capacity() int { return len(s.r.cells) }

// TryRecv returns the oldest retained unread message, or false if none.
// It never blocks.
func (q *Receiver[T]) TryRecv() (T, bool) {
	r := q.r
	pos := r.read.Load()
	size := uint64(len(r.cells))
	for {
		w := r.written.Load()
		if pos >= w {
			var zero T
			return zero, false
		}
		if w-pos > size {
			pos = r.skip(pos, w-size)
			continue
		}
		c := r.cells[pos&r.mask].Load()
		if c.seq != pos {
			// Overwritten since w was loaded: everything older than the
			// window ending at c.seq is gone.
			pos = r.skip(pos, c.seq-size+1)
			continue
		}
		r.read.Store(pos + 1)
		return c.val, true
	}
}

func (r *ring[T]) skip(pos, to uint64) uint64 {
	r.dropped.Add(to - pos)
	r.read.Store(to)
	return to
}

// Seqno returns the writer's sequence counter as observed by the reader.
// Successive calls never decrease.
func (q *Receiver[T]) Seqno() uint64 { return q.r.written.Load() }

// Pos returns how many messages the reader has consumed or skipped.
func (q *Receiver[T]) Pos() uint64 { return q.r.read.Load() }

// Pending returns the number of retained messages not yet read.
func (q *Receiver[T]) Pending() int {
	w, pos := q.r.written.Load(), q.r.read.Load()
	n := w - pos
	if n > uint64(len(q.r.cells)) {
		n = uint64(len(q.r.cells))
	}
	return int(n)
}

// Dropped returns how many messages were overwritten before being read.
func (q *Receiver[T]) Dropped() uint64 { return q.r.dropped.Load() }
