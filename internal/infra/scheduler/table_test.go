package scheduler

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tutu-network/dataflow/internal/domain"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

// stubTask returns scripted schedules and counts executions.
type stubTask struct {
	name    string
	next    func(n int) domain.Schedule
	runs    atomic.Int32
	inside  atomic.Int32
	overlap atomic.Bool
	tx      atomic.Uint64
	closed  atomic.Bool
}

func newStub(name string, next func(n int) domain.Schedule) *stubTask {
	return &stubTask{name: name, next: next}
}

func (s *stubTask) Execute(domain.Reporter) domain.Schedule {
	if s.inside.Add(1) != 1 {
		s.overlap.Store(true)
	}
	defer s.inside.Add(-1)
	n := int(s.runs.Add(1))
	if s.next == nil {
		return domain.Loop()
	}
	return s.next(n)
}

func (s *stubTask) Name() string                             { return s.name }
func (s *stubTask) InputCount() int                          { return 0 }
func (s *stubTask) OutputCount() int                         { return 1 }
func (s *stubTask) InputID(int) (domain.ChannelID, bool)     { return domain.ChannelID{}, false }
func (s *stubTask) OutputID(ch int) (domain.ChannelID, bool) { return domain.NewChannelID(s.name, ch), ch == 0 }
func (s *stubTask) TxCount(int) uint64                       { return s.tx.Load() }
func (s *stubTask) RxCount(int) uint64                       { return 0 }
func (s *stubTask) Close() error                             { s.closed.Store(true); return nil }

func stopAfter(k int) func(int) domain.Schedule {
	return func(n int) domain.Schedule {
		if n >= k {
			return domain.Stop()
		}
		return domain.Loop()
	}
}

func newTestTable(t *testing.T, capacity int) (*Table, *ManualClock) {
	t.Helper()
	clock := &ManualClock{}
	return NewTable(Config{Capacity: capacity, Workers: 1}, nil, clock), clock
}

// ─── Configuration ──────────────────────────────────────────────────────────

func TestConfigNormalized(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 4096},
		{1, 1},
		{3, 4},
		{4096, 4096},
		{5000, 8192},
	}
	for _, tt := range tests {
		tbl := NewTable(Config{Capacity: tt.in}, nil, nil)
		if got := tbl.Capacity(); got != tt.want {
			t.Errorf("Capacity(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// ─── Slot Ownership ─────────────────────────────────────────────────────────

func TestSlotAcquireRelease(t *testing.T) {
	tbl, _ := newTestTable(t, 4)
	if err := tbl.Store(0, newStub("a", nil)); err != nil {
		t.Fatal(err)
	}
	s, _ := tbl.Slot(0)

	task, ok := s.Acquire()
	if !ok || task.Name() != "a" {
		t.Fatalf("Acquire() = %v, %v", task, ok)
	}
	if _, ok := s.Acquire(); ok {
		t.Error("second Acquire succeeded while owned")
	}
	s.Release(false)
	if _, ok := s.Acquire(); !ok {
		t.Error("Acquire after Release failed")
	}
	s.Release(true)
	if _, ok := s.Acquire(); ok {
		t.Error("Acquire succeeded on stopped slot")
	}
}

func TestSlotMutualExclusion(t *testing.T) {
	tbl, _ := newTestTable(t, 1)
	if err := tbl.Store(0, newStub("a", nil)); err != nil {
		t.Fatal(err)
	}
	s, _ := tbl.Slot(0)

	var holders, violations atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5000; i++ {
				if _, ok := s.Acquire(); ok {
					if holders.Add(1) != 1 {
						violations.Add(1)
					}
					holders.Add(-1)
					s.Release(false)
				}
			}
		}()
	}
	wg.Wait()
	if v := violations.Load(); v != 0 {
		t.Errorf("%d overlapping acquisitions", v)
	}
}

func TestConcurrentWorkersNeverOverlap(t *testing.T) {
	tbl, _ := newTestTable(t, 16)
	stubs := make([]*stubTask, 16)
	for i := range stubs {
		stubs[i] = newStub("t", stopAfter(200))
		if _, err := tbl.Add(stubs[i]); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tbl.Active() > 0 {
				tbl.EvaluateWorker(w, 4, 0)
			}
		}()
	}
	wg.Wait()

	for i, s := range stubs {
		if s.overlap.Load() {
			t.Errorf("task %d executed concurrently", i)
		}
		if n := s.runs.Load(); n != 200 {
			t.Errorf("task %d ran %d times, want 200", i, n)
		}
	}
}

// ─── Store / Add ────────────────────────────────────────────────────────────

func TestStoreErrors(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	if err := tbl.Store(2, newStub("x", nil)); !errors.Is(err, domain.ErrNonExistent) {
		t.Errorf("Store out of range err = %v, want ErrNonExistent", err)
	}
	if err := tbl.Store(-1, newStub("x", nil)); !errors.Is(err, domain.ErrNonExistent) {
		t.Errorf("Store(-1) err = %v, want ErrNonExistent", err)
	}

	if err := tbl.Store(0, newStub("a", nil)); err != nil {
		t.Fatal(err)
	}
	s, _ := tbl.Slot(0)
	s.Acquire()
	if err := tbl.Store(0, newStub("b", nil)); !errors.Is(err, domain.ErrBusy) {
		t.Errorf("Store on running slot err = %v, want ErrBusy", err)
	}
	s.Release(false)

	tbl.Close()
	if err := tbl.Store(1, newStub("c", nil)); !errors.Is(err, domain.ErrStopping) {
		t.Errorf("Store after Close err = %v, want ErrStopping", err)
	}
}

func TestStoreReplacesAndClosesOccupant(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	old := newStub("old", nil)
	if err := tbl.Store(0, old); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Store(0, newStub("new", nil)); err != nil {
		t.Fatal(err)
	}
	if !old.closed.Load() {
		t.Error("replaced occupant not closed")
	}
	info, _ := tbl.Inspect(0)
	if info.Name != "new" {
		t.Errorf("Inspect(0).Name = %q, want new", info.Name)
	}
	if tbl.Active() != 1 {
		t.Errorf("Active() = %d, want 1", tbl.Active())
	}
}

func TestAddGraphFull(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	for i := 0; i < 2; i++ {
		slot, err := tbl.Add(newStub("t", nil))
		if err != nil || slot != i {
			t.Fatalf("Add() = %d, %v, want %d", slot, err, i)
		}
	}
	if _, err := tbl.Add(newStub("t", nil)); !errors.Is(err, domain.ErrGraphFull) {
		t.Errorf("Add on full table err = %v, want ErrGraphFull", err)
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func TestStopIsTerminal(t *testing.T) {
	tbl, _ := newTestTable(t, 4)
	s := newStub("once", stopAfter(1))
	slot, _ := tbl.Add(s)

	ps := tbl.Evaluate(0)
	if ps.Stopped != 1 {
		t.Errorf("first pass Stopped = %d, want 1", ps.Stopped)
	}
	for i := 0; i < 5; i++ {
		tbl.Evaluate(int64(i))
	}
	if n := s.runs.Load(); n != 1 {
		t.Errorf("stopped task ran %d times, want 1", n)
	}
	info, err := tbl.Inspect(slot)
	if err != nil {
		t.Fatalf("Inspect stopped slot: %v", err)
	}
	if !info.Stopped || info.State != "STOP" || info.Runs != 1 {
		t.Errorf("Inspect = %+v, want stopped with 1 run", info)
	}
	if tbl.Active() != 0 {
		t.Errorf("Active() = %d, want 0", tbl.Active())
	}
	if err := tbl.Trigger(slot); !errors.Is(err, domain.ErrStopping) {
		t.Errorf("Trigger stopped err = %v, want ErrStopping", err)
	}
}

func TestReclaim(t *testing.T) {
	tbl, _ := newTestTable(t, 4)
	s := newStub("once", stopAfter(1))
	slot, _ := tbl.Add(s)
	tbl.Evaluate(0)

	if err := tbl.Reclaim(slot); err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if !s.closed.Load() {
		t.Error("reclaimed task not closed")
	}
	if _, err := tbl.Inspect(slot); !errors.Is(err, domain.ErrNotStored) {
		t.Errorf("Inspect reclaimed err = %v, want ErrNotStored", err)
	}
	if err := tbl.Reclaim(slot); !errors.Is(err, domain.ErrNotStored) {
		t.Errorf("second Reclaim err = %v, want ErrNotStored", err)
	}
	if got, _ := tbl.Add(newStub("next", nil)); got != slot {
		t.Errorf("Add after Reclaim = %d, want reused slot %d", got, slot)
	}
}

func TestDelaySchedule(t *testing.T) {
	tbl, clock := newTestTable(t, 4)
	s := newStub("sleepy", func(int) domain.Schedule { return domain.Delay(10 * time.Millisecond) })
	tbl.Add(s)

	tbl.Evaluate(clock.NowUSec())
	tbl.Evaluate(clock.NowUSec())
	if n := s.runs.Load(); n != 1 {
		t.Fatalf("runs before delay elapsed = %d, want 1", n)
	}
	clock.Advance(10 * time.Millisecond)
	tbl.Evaluate(clock.NowUSec())
	if n := s.runs.Load(); n != 2 {
		t.Errorf("runs after delay = %d, want 2", n)
	}
}

func TestHugeDelayDoesNotRerun(t *testing.T) {
	tbl, _ := newTestTable(t, 4)
	s := newStub("forever", func(int) domain.Schedule { return domain.DelayUSec(math.MaxUint64) })
	tbl.Add(s)

	for i := 0; i < 3; i++ {
		tbl.Evaluate(100)
	}
	if n := s.runs.Load(); n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}
}

func TestInitInfoKeepsStoppedCounters(t *testing.T) {
	tbl, _ := newTestTable(t, 4)
	s := newStub("once", stopAfter(1))
	slot, _ := tbl.Add(s)
	tbl.Evaluate(0)

	if err := tbl.InitInfo(slot, 1, domain.PeriodicRule(time.Second)); err != nil {
		t.Fatalf("InitInfo stopped slot: %v", err)
	}
	info, err := tbl.Inspect(slot)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !info.Stopped || info.Runs != 1 {
		t.Errorf("Inspect = %+v, want stopped with 1 run", info)
	}
	tbl.Evaluate(10_000_000)
	if n := s.runs.Load(); n != 1 {
		t.Errorf("runs after re-init = %d, want 1", n)
	}
}

func TestPeriodicRule(t *testing.T) {
	tbl, clock := newTestTable(t, 4)
	s := newStub("tick", nil)
	slot, _ := tbl.Add(s)
	if err := tbl.InitInfo(slot, 1, domain.PeriodicRule(time.Second)); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		tbl.Evaluate(clock.NowUSec())
		clock.Advance(100 * time.Millisecond)
	}
	if n := s.runs.Load(); n != 1 {
		t.Errorf("runs within one period = %d, want 1", n)
	}
	clock.Set(time.Second.Microseconds())
	tbl.Evaluate(clock.NowUSec())
	if n := s.runs.Load(); n != 2 {
		t.Errorf("runs after one period = %d, want 2", n)
	}
	info, _ := tbl.Inspect(slot)
	if info.Rule != "periodic(1s)" {
		t.Errorf("Rule = %q, want periodic(1s)", info.Rule)
	}
}

func TestExternalEventRule(t *testing.T) {
	tbl, _ := newTestTable(t, 4)
	s := newStub("hook", func(int) domain.Schedule { return domain.OnExternalEvent() })
	slot, _ := tbl.Add(s)
	if err := tbl.InitInfo(slot, 1, domain.ExternalEventRule()); err != nil {
		t.Fatal(err)
	}

	tbl.Evaluate(0)
	tbl.Evaluate(0)
	if n := s.runs.Load(); n != 0 {
		t.Fatalf("runs before trigger = %d, want 0", n)
	}
	if err := tbl.Trigger(slot); err != nil {
		t.Fatal(err)
	}
	tbl.Evaluate(0)
	tbl.Evaluate(0)
	if n := s.runs.Load(); n != 1 {
		t.Errorf("runs after one trigger = %d, want 1", n)
	}
	if ps := tbl.Evaluate(0); ps.Visited != 0 {
		t.Errorf("parked slot visited: %+v", ps)
	}
}

func TestInitInfoErrors(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	if err := tbl.InitInfo(0, 1, domain.LoopRule()); !errors.Is(err, domain.ErrNotStored) {
		t.Errorf("InitInfo empty err = %v, want ErrNotStored", err)
	}
	if err := tbl.InitInfo(9, 1, domain.LoopRule()); !errors.Is(err, domain.ErrNonExistent) {
		t.Errorf("InitInfo out of range err = %v, want ErrNonExistent", err)
	}
	if err := tbl.RegisterDependents(0, []Dependent{{Slot: 7}}); !errors.Is(err, domain.ErrNonExistent) {
		t.Errorf("RegisterDependents bad slot err = %v, want ErrNonExistent", err)
	}
}

func TestSnapshotAndStats(t *testing.T) {
	tbl, _ := newTestTable(t, 8)
	tbl.Add(newStub("a", stopAfter(1)))
	tbl.Add(newStub("b", nil))
	tbl.Evaluate(0)

	snap := tbl.Snapshot()
	if len(snap) != 2 || snap[0].Name != "a" || snap[1].Name != "b" {
		t.Fatalf("Snapshot() = %+v", snap)
	}
	st := tbl.Stats()
	if st.Active != 1 || st.Stopped != 1 || st.Runs != 2 || st.Passes != 1 {
		t.Errorf("Stats() = %+v", st)
	}
	if tbl.StateOf(0) != "stopped" || tbl.StateOf(1) != "idle" {
		t.Errorf("StateOf = %s/%s", tbl.StateOf(0), tbl.StateOf(1))
	}
}
