package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tutu-network/dataflow/internal/app/element"
	"github.com/tutu-network/dataflow/internal/domain"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
	sent        map[domain.ChannelID]uint64
	stopped     []int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{sent: map[domain.ChannelID]uint64{}}
}

func (o *recordingObserver) Scheduled(int, int64)                 {}
func (o *recordingObserver) Executed(int, int64)                  {}
func (o *recordingObserver) Delayed(int, domain.TaskState, int64) {}

func (o *recordingObserver) Stopped(id int, _ int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = append(o.stopped, id)
}

func (o *recordingObserver) MessageSent(ch domain.ChannelID, seqno uint64, _ int, _ int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if seqno < o.sent[ch] {
		panic("sequence number went backwards")
	}
	o.sent[ch] = seqno
}

func (o *recordingObserver) WaitChannel(domain.ChannelID, uint64, int, int64) {}

func (o *recordingObserver) Transition(from domain.TaskState, ev domain.Schedule, to domain.TaskState, id int, _ int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, from.Kind.String()+">"+to.Kind.String())
}

func counter(n int) element.SourceFunc[int] {
	next := 0
	return func(out *element.Sender[int]) (domain.Schedule, error) {
		out.SendValue(next)
		next++
		if next >= n {
			return domain.Stop(), nil
		}
		return domain.Loop(), nil
	}
}

func values(t *testing.T, in *element.Input[int]) []domain.Message[int] {
	t.Helper()
	var got []domain.Message[int]
	for m := in.TryRecv(); !m.IsEmpty(); m = in.TryRecv() {
		got = append(got, m)
	}
	return got
}

// ─── Scenarios ──────────────────────────────────────────────────────────────

func TestSourceFilterEndToEnd(t *testing.T) {
	obs := newRecordingObserver()
	tbl := NewTable(Config{Capacity: 8}, obs, &ManualClock{})

	src, srcOut := element.NewSource[int]("counter", 4, counter(3))
	dbl, dblOut := element.NewFilter[int, int]("double", 4,
		element.MapFilter(func(v int) (int, error) { return v * 2, nil }))
	if err := element.Connect(srcOut, dbl.Input()); err != nil {
		t.Fatal(err)
	}
	sink := element.NewInput[int]("sink", 0)
	if err := element.Connect(dblOut, sink); err != nil {
		t.Fatal(err)
	}

	srcSlot, _ := tbl.Add(src)
	dblSlot, _ := tbl.Add(dbl)
	ch, _ := src.OutputID(0)
	if err := tbl.RegisterDependents(srcSlot, []Dependent{{Channel: ch, Slot: dblSlot}}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		tbl.Evaluate(0)
	}

	got := values(t, sink)
	want := []int{0, 2, 4}
	if len(got) != len(want) {
		t.Fatalf("downstream = %v, want %v", got, want)
	}
	for i, m := range got {
		if v, ok := m.Get(); !ok || v != want[i] {
			t.Errorf("message %d = %v, want Value(%d)", i, m, want[i])
		}
	}
	if tx := dbl.TxCount(0); tx != 3 {
		t.Errorf("filter TxCount(0) = %d, want 3", tx)
	}
	if len(obs.stopped) != 1 || obs.stopped[0] != srcSlot {
		t.Errorf("stopped = %v, want [%d]", obs.stopped, srcSlot)
	}
	if obs.sent[ch] != 3 {
		t.Errorf("MessageSent(%s) last seqno = %d, want 3", ch, obs.sent[ch])
	}
}

func TestFilterErrorContinues(t *testing.T) {
	tbl := NewTable(Config{Capacity: 8}, nil, &ManualClock{})

	feed := element.SourceFunc[int](func(out *element.Sender[int]) (domain.Schedule, error) {
		out.SendValue(5)
		return domain.Stop(), nil
	})
	src, srcOut := element.NewSource[int]("feed", 4, feed)
	f, fOut := element.NewFilter[int, int]("strict", 4,
		element.MapFilter(func(v int) (int, error) {
			if v == 5 {
				return 0, errors.New("bad value")
			}
			return v, nil
		}), element.WithErrorPolicy(element.ContinueOnError))
	if err := element.Connect(srcOut, f.Input()); err != nil {
		t.Fatal(err)
	}
	sink := element.NewInput[int]("sink", 0)
	if err := element.Connect(fOut, sink); err != nil {
		t.Fatal(err)
	}
	tbl.Add(src)
	fSlot, _ := tbl.Add(f)

	tbl.Evaluate(0)

	got := values(t, sink)
	if len(got) != 1 || !got[0].IsFault() || got[0].Origin != fSlot || got[0].Reason != "bad value" {
		t.Fatalf("downstream = %v, want Error(%d,\"bad value\")", got, fSlot)
	}
	if f.TxCount(0) != 1 {
		t.Errorf("filter TxCount(0) = %d, want 1", f.TxCount(0))
	}
	info, _ := tbl.Inspect(fSlot)
	if info.State != "EXECUTE" || info.Stopped {
		t.Errorf("filter state = %s stopped=%v, want EXECUTE after Loop", info.State, info.Stopped)
	}
}

func TestGatherWaitWake(t *testing.T) {
	tbl := NewTable(Config{Capacity: 8}, nil, &ManualClock{})

	pulse := element.SourceFunc[int](func(out *element.Sender[int]) (domain.Schedule, error) {
		out.SendValue(1)
		return domain.OnExternalEvent(), nil
	})
	src, srcOut := element.NewSource[int]("pulse", 4, pulse)

	var last domain.Schedule
	g, _ := element.NewGather[int, int]("gather", 4, 2,
		element.GatherFunc[int, int](func(ins []*element.Input[int], out *element.Sender[int]) (domain.Schedule, error) {
			for _, in := range ins {
				for m := in.TryRecv(); !m.IsEmpty(); m = in.TryRecv() {
					out.Send(m)
				}
			}
			last = element.AwaitAny(time.Millisecond, element.Awaiters(ins)...)
			return last, nil
		}))
	in0, _ := g.Input(0)
	if err := element.Connect(srcOut, in0); err != nil {
		t.Fatal(err)
	}

	srcSlot, _ := tbl.Add(src)
	gSlot, _ := tbl.Add(g)
	ch, _ := src.OutputID(0)
	tbl.RegisterDependents(srcSlot, []Dependent{{Channel: ch, Slot: gSlot}})

	tbl.Evaluate(0)
	if last.Kind != domain.ScheduleOnMessage || last.Channel != ch {
		t.Fatalf("gather schedule = %v, want OnMessage(%s,...)", last, ch)
	}
	if ps := tbl.Evaluate(0); ps.Executed != 0 {
		t.Errorf("idle pass executed %d tasks, want 0", ps.Executed)
	}

	tbl.Trigger(srcSlot)
	tbl.Evaluate(0)

	info, _ := tbl.Inspect(gSlot)
	if info.Runs != 2 {
		t.Errorf("gather runs = %d, want 2", info.Runs)
	}
	if g.TxCount(0) != 2 {
		t.Errorf("gather TxCount(0) = %d, want 2", g.TxCount(0))
	}
}

func TestUnregisteredWaiterPolls(t *testing.T) {
	tbl := NewTable(Config{Capacity: 8}, nil, &ManualClock{})
	f, _ := element.NewFilter[int, int]("f", 4,
		element.MapFilter(func(v int) (int, error) { return v, nil }))
	src, srcOut := element.NewSource[int]("s", 4, counter(2))
	element.Connect(srcOut, f.Input())
	// Filter first so it waits before the source produces.
	fSlot, _ := tbl.Add(f)
	tbl.Add(src)

	tbl.Evaluate(0)
	tbl.Evaluate(0)
	tbl.Evaluate(0)
	if f.RxCount(0) != 2 {
		t.Errorf("filter consumed %d, want 2", f.RxCount(0))
	}
	if info, _ := tbl.Inspect(fSlot); info.Runs < 2 {
		t.Errorf("filter runs = %d, want at least 2", info.Runs)
	}
}

func TestPoolRunsToCompletion(t *testing.T) {
	tbl := NewTable(Config{Capacity: 8, Workers: 3, IdleSleep: time.Millisecond}, nil, nil)
	src, srcOut := element.NewSource[int]("counter", 64, counter(50))
	sink := element.NewInput[int]("sink", 0)
	element.Connect(srcOut, sink)
	tbl.Add(src)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := NewPool(tbl).Run(ctx); err != nil {
		t.Fatalf("Run() = %v, want nil after source stopped", err)
	}
	if src.TxCount(0) != 50 {
		t.Errorf("source TxCount = %d, want 50", src.TxCount(0))
	}
	if got := len(values(t, sink)); got != 50 {
		t.Errorf("sink received %d, want 50", got)
	}
}

func TestPoolCancel(t *testing.T) {
	tbl := NewTable(Config{Capacity: 4, Workers: 2, IdleSleep: time.Millisecond}, nil, nil)
	tbl.Add(newStub("forever", func(int) domain.Schedule { return domain.Delay(time.Millisecond) }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := NewPool(tbl).Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() = %v, want DeadlineExceeded", err)
	}
}
