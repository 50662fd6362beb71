package scheduler

import (
	"sync/atomic"

	"github.com/tutu-network/dataflow/internal/domain"
)

// Slot states. A slot moves Empty → Idle on Store, toggles Idle ⇄ Running
// under Acquire/Release, and ends in Stopped once its task returned Stop.
const (
	slotEmpty uint32 = iota
	slotIdle
	slotRunning
	slotStopped
)

func stateName(s uint32) string {
	switch s {
	case slotEmpty:
		return "empty"
	case slotIdle:
		return "idle"
	case slotRunning:
		return "running"
	case slotStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type boxed struct{ task domain.Task }

// Slot is the non-blocking ownership guard around one task. The task value
// lives in the table arena; the state word decides who may touch it.
type Slot struct {
	state atomic.Uint32
	task  atomic.Pointer[boxed]
}

// Acquire takes exclusive ownership of an idle task. It never blocks: a
// slot that is empty, stopped or already owned reports false.
func (s *Slot) Acquire() (domain.Task, bool) {
	if !s.state.CompareAndSwap(slotIdle, slotRunning) {
		return nil, false
	}
	return s.task.Load().task, true
}

// Release returns ownership taken by Acquire. A stopped slot is never
// acquired again.
func (s *Slot) Release(stopped bool) {
	if stopped {
		s.state.Store(slotStopped)
		return
	}
	s.state.Store(slotIdle)
}

// claim takes ownership for maintenance from any non-running state and
// returns the previous state.
func (s *Slot) claim() (uint32, bool) {
	for {
		cur := s.state.Load()
		if cur == slotRunning {
			return cur, false
		}
		if s.state.CompareAndSwap(cur, slotRunning) {
			return cur, true
		}
	}
}

// peek returns the current occupant without taking ownership. Only methods
// documented as safe for concurrent use may be called on it.
func (s *Slot) peek() domain.Task {
	if b := s.task.Load(); b != nil {
		return b.task
	}
	return nil
}

// ─── Topology ───────────────────────────────────────────────────────────────

// Dependent names a slot to reconsider when Channel advances.
type Dependent struct {
	Channel domain.ChannelID
	Slot    int
}

type probe struct {
	slot int
	out  int
	task domain.Task
}

// topology is immutable once published; writers copy it under Table.mu.
type topology struct {
	probes     map[domain.ChannelID]probe
	dependents map[int][]Dependent
	wokenBy    map[int]map[domain.ChannelID]bool
}

func (t *topology) clone() *topology {
	c := &topology{
		probes:     make(map[domain.ChannelID]probe, len(t.probes)),
		dependents: make(map[int][]Dependent, len(t.dependents)),
		wokenBy:    make(map[int]map[domain.ChannelID]bool, len(t.wokenBy)),
	}
	for k, v := range t.probes {
		c.probes[k] = v
	}
	for k, v := range t.dependents {
		c.dependents[k] = v
	}
	for k, v := range t.wokenBy {
		set := make(map[domain.ChannelID]bool, len(v))
		for ch := range v {
			set[ch] = true
		}
		c.wokenBy[k] = set
	}
	return c
}

// seqno reads the producer counter behind ch.
func (t *topology) seqno(ch domain.ChannelID) (uint64, bool) {
	p, ok := t.probes[ch]
	if !ok {
		return 0, false
	}
	return p.task.TxCount(p.out), true
}
