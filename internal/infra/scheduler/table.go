// Package scheduler runs dataflow tasks from a fixed-capacity slot table.
//
// Core concepts:
//   - Slot: a non-blocking ownership guard; acquire is a Idle→Running CAS
//   - ExecInfo: per-slot rule, wait condition and next-eligible time
//   - Evaluation pass: visit every slot, run those whose wait is satisfied
//   - Wakeups: producers un-park the dependents registered on their outputs
//
// No lock guards task state. The only mutex protects the build-time
// topology, which scanners read through an atomically published snapshot.
package scheduler

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tutu-network/dataflow/internal/domain"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the task table and its worker pool.
type Config struct {
	Capacity  int           // slot count, rounded up to a power of two (default 4096)
	Workers   int           // evaluation goroutines (default: NumCPU)
	IdleSleep time.Duration // pause after a pass that executed nothing (default 1ms)
}

// DefaultConfig returns production table defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:  4096,
		Workers:   runtime.NumCPU(),
		IdleSleep: time.Millisecond,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	c.Capacity = roundPow2(c.Capacity)
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = d.IdleSleep
	}
	return c
}

func roundPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// ─── Table ──────────────────────────────────────────────────────────────────

// Table is the fixed-capacity task arena.
type Table struct {
	cfg   Config
	obs   domain.Observer
	clock Clock

	slots []Slot
	info  []ExecInfo

	mu   sync.Mutex // serializes topology writers
	topo atomic.Pointer[topology]

	high   atomic.Int64 // one past the highest slot ever populated
	active atomic.Int64 // populated, not stopped
	closed atomic.Bool
	passes atomic.Uint64
	runs   atomic.Uint64
}

// NewTable creates an empty table. A nil observer discards events and a nil
// clock uses the process monotonic clock.
func NewTable(cfg Config, obs domain.Observer, clock Clock) *Table {
	cfg = cfg.normalized()
	if obs == nil {
		obs = nopObserver{}
	}
	if clock == nil {
		clock = NewMonotonicClock()
	}
	t := &Table{
		cfg:   cfg,
		obs:   obs,
		clock: clock,
		slots: make([]Slot, cfg.Capacity),
		info:  make([]ExecInfo, cfg.Capacity),
	}
	t.topo.Store(&topology{
		probes:     map[domain.ChannelID]probe{},
		dependents: map[int][]Dependent{},
		wokenBy:    map[int]map[domain.ChannelID]bool{},
	})
	return t
}

// Config returns the normalized configuration.
func (t *Table) Config() Config { return t.cfg }

// Capacity returns the number of slots.
func (t *Table) Capacity() int { return len(t.slots) }

// Clock returns the table's clock.
func (t *Table) Clock() Clock { return t.clock }

func (t *Table) check(slot int) error {
	if slot < 0 || slot >= len(t.slots) {
		return fmt.Errorf("slot %d of %d: %w", slot, len(t.slots), domain.ErrNonExistent)
	}
	return nil
}

// ─── Store / Add ────────────────────────────────────────────────────────────

// Store installs task at slot with the default loop rule, replacing any
// previous occupant. A replaced occupant implementing io.Closer is closed.
// A running slot cannot be replaced.
func (t *Table) Store(slot int, task domain.Task) error {
	if err := t.check(slot); err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("store slot %d: %w", slot, domain.ErrNotStored)
	}
	if t.closed.Load() {
		return domain.ErrStopping
	}
	s := &t.slots[slot]
	prev, ok := s.claim()
	if !ok {
		return fmt.Errorf("store slot %d: %w", slot, domain.ErrBusy)
	}

	old := s.peek()
	s.task.Store(&boxed{task: task})
	t.info[slot].reset(domain.LoopRule(), task.OutputCount())
	t.updateTopology(func(tp *topology) {
		if old != nil {
			dropProbes(tp, slot)
		}
		for o := 0; o < task.OutputCount(); o++ {
			if id, ok := task.OutputID(o); ok {
				tp.probes[id] = probe{slot: slot, out: o, task: task}
			}
		}
	})
	if prev != slotIdle {
		t.active.Add(1)
	}
	for {
		h := t.high.Load()
		if int64(slot) < h || t.high.CompareAndSwap(h, int64(slot)+1) {
			break
		}
	}
	s.Release(false)

	if c, ok := old.(io.Closer); ok && old != task {
		_ = c.Close()
	}
	return nil
}

// Add stores task in the lowest empty slot and returns its index.
func (t *Table) Add(task domain.Task) (int, error) {
	for i := range t.slots {
		if t.slots[i].state.Load() != slotEmpty {
			continue
		}
		err := t.Store(i, task)
		if err == nil {
			return i, nil
		}
		if errors.Is(err, domain.ErrBusy) {
			continue // lost a race for this slot
		}
		return -1, err
	}
	return -1, domain.ErrGraphFull
}

func dropProbes(tp *topology, slot int) {
	for id, p := range tp.probes {
		if p.slot == slot {
			delete(tp.probes, id)
		}
	}
}

func (t *Table) updateTopology(fn func(*topology)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.topo.Load().clone()
	fn(next)
	t.topo.Store(next)
}

// ─── Build-time configuration ───────────────────────────────────────────────

// InitInfo sets the slot's output arity and scheduling rule. A stopped slot
// keeps its terminal state and its last counters.
func (t *Table) InitInfo(slot, outputs int, rule domain.SchedulingRule) error {
	if err := t.check(slot); err != nil {
		return err
	}
	s := &t.slots[slot]
	prev, ok := s.claim()
	if !ok {
		return fmt.Errorf("init slot %d: %w", slot, domain.ErrBusy)
	}
	if prev == slotEmpty {
		s.state.Store(slotEmpty)
		return fmt.Errorf("init slot %d: %w", slot, domain.ErrNotStored)
	}
	e := &t.info[slot]
	if e.state.Terminal() {
		e.relabel(rule, outputs)
	} else {
		e.reset(rule, outputs)
	}
	s.state.Store(prev)
	return nil
}

// RegisterDependents records which slots to wake when slot's outputs
// advance. Registered consumers waiting on those channels park instead of
// polling.
func (t *Table) RegisterDependents(slot int, deps []Dependent) error {
	if err := t.check(slot); err != nil {
		return err
	}
	for _, d := range deps {
		if err := t.check(d.Slot); err != nil {
			return err
		}
	}
	t.updateTopology(func(tp *topology) {
		tp.dependents[slot] = append(append([]Dependent(nil), tp.dependents[slot]...), deps...)
		for _, d := range deps {
			set := tp.wokenBy[d.Slot]
			if set == nil {
				set = map[domain.ChannelID]bool{}
				tp.wokenBy[d.Slot] = set
			}
			set[d.Channel] = true
		}
	})
	return nil
}

// Dependents returns the wake list registered for slot.
func (t *Table) Dependents(slot int) []Dependent {
	return append([]Dependent(nil), t.topo.Load().dependents[slot]...)
}

// ─── Runtime control ────────────────────────────────────────────────────────

// Trigger delivers an external event to slot. A slot waiting for one becomes
// eligible on the next pass.
func (t *Table) Trigger(slot int) error {
	if err := t.check(slot); err != nil {
		return err
	}
	switch t.slots[slot].state.Load() {
	case slotEmpty:
		return fmt.Errorf("trigger slot %d: %w", slot, domain.ErrNotStored)
	case slotStopped:
		return fmt.Errorf("trigger slot %d: %w", slot, domain.ErrStopping)
	}
	t.info[slot].events.Add(1)
	t.info[slot].nextAt.Store(0)
	return nil
}

// Reclaim tears down a stopped or idle slot, leaving it empty. The occupant
// is closed if it implements io.Closer.
func (t *Table) Reclaim(slot int) error {
	if err := t.check(slot); err != nil {
		return err
	}
	s := &t.slots[slot]
	prev, ok := s.claim()
	if !ok {
		return fmt.Errorf("reclaim slot %d: %w", slot, domain.ErrBusy)
	}
	if prev == slotEmpty {
		s.state.Store(slotEmpty)
		return fmt.Errorf("reclaim slot %d: %w", slot, domain.ErrNotStored)
	}
	old := s.peek()
	s.task.Store(nil)
	t.updateTopology(func(tp *topology) {
		dropProbes(tp, slot)
		delete(tp.dependents, slot)
		delete(tp.wokenBy, slot)
		for p, deps := range tp.dependents {
			kept := deps[:0:0]
			for _, d := range deps {
				if d.Slot != slot {
					kept = append(kept, d)
				}
			}
			tp.dependents[p] = kept
		}
	})
	t.info[slot].reset(domain.LoopRule(), 0)
	if prev == slotIdle {
		t.active.Add(-1)
	}
	s.state.Store(slotEmpty)

	if c, ok := old.(io.Closer); ok {
		_ = c.Close()
	}
	return nil
}

// Close refuses further stores and tears down every slot not currently
// running. It returns the number of slots left populated.
func (t *Table) Close() int {
	t.closed.Store(true)
	left := 0
	hi := int(t.high.Load())
	for i := 0; i < hi; i++ {
		if t.slots[i].state.Load() == slotEmpty {
			continue
		}
		if err := t.Reclaim(i); err != nil {
			left++
		}
	}
	return left
}

// Closed reports whether Close was called.
func (t *Table) Closed() bool { return t.closed.Load() }

// ─── Introspection ──────────────────────────────────────────────────────────

// Stats summarizes table activity.
type Stats struct {
	Capacity int    `json:"capacity"`
	Active   int    `json:"active"`
	Stopped  int    `json:"stopped"`
	Passes   uint64 `json:"passes"`
	Runs     uint64 `json:"runs"`
}

// Stats returns current counters.
func (t *Table) Stats() Stats {
	st := Stats{
		Capacity: len(t.slots),
		Active:   int(t.active.Load()),
		Passes:   t.passes.Load(),
		Runs:     t.runs.Load(),
	}
	hi := int(t.high.Load())
	for i := 0; i < hi; i++ {
		if t.slots[i].state.Load() == slotStopped {
			st.Stopped++
		}
	}
	return st
}

// Active returns the number of populated slots that have not stopped.
func (t *Table) Active() int { return int(t.active.Load()) }

// Inspect returns a view of one populated slot, including stopped ones.
func (t *Table) Inspect(slot int) (domain.TaskInfo, error) {
	if err := t.check(slot); err != nil {
		return domain.TaskInfo{}, err
	}
	s := &t.slots[slot]
	task := s.peek()
	state := s.state.Load()
	if task == nil || state == slotEmpty {
		return domain.TaskInfo{}, fmt.Errorf("inspect slot %d: %w", slot, domain.ErrNotStored)
	}
	e := &t.info[slot]
	info := domain.TaskInfo{
		Slot:      slot,
		Name:      task.Name(),
		State:     e.State().String(),
		Stopped:   state == slotStopped,
		Running:   state == slotRunning,
		Runs:      e.runs.Load(),
		BusyUSec:  e.busyUSec.Load(),
		LastRunAt: e.lastRunAt.Load(),
	}
	if r := e.ruleName.Load(); r != nil {
		info.Rule = *r
	}
	info.Inputs, info.Outputs = domain.DescribePorts(task)
	return info, nil
}

// Snapshot inspects every populated slot in index order.
func (t *Table) Snapshot() []domain.TaskInfo {
	hi := int(t.high.Load())
	out := make([]domain.TaskInfo, 0, hi)
	for i := 0; i < hi; i++ {
		if info, err := t.Inspect(i); err == nil {
			out = append(out, info)
		}
	}
	return out
}

// StateOf returns the slot's ownership state name ("empty", "idle",
// "running" or "stopped").
func (t *Table) StateOf(slot int) string {
	if t.check(slot) != nil {
		return "unknown"
	}
	return stateName(t.slots[slot].state.Load())
}

// Slot exposes the ownership guard of a slot.
func (t *Table) Slot(slot int) (*Slot, error) {
	if err := t.check(slot); err != nil {
		return nil, err
	}
	return &t.slots[slot], nil
}
