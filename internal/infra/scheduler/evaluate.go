package scheduler

import (
	"github.com/tutu-network/dataflow/internal/domain"
)

// PassStats counts what one evaluation pass did.
type PassStats struct {
	Visited  int // populated slots that were due
	Executed int
	Delayed  int // acquired but wait condition not yet satisfied
	Busy     int // skipped because another worker owned them
	Stopped  int // returned Stop during this pass
}

// Idle reports whether the pass executed nothing.
func (p PassStats) Idle() bool { return p.Executed == 0 }

func (p *PassStats) add(o PassStats) {
	p.Visited += o.Visited
	p.Executed += o.Executed
	p.Delayed += o.Delayed
	p.Busy += o.Busy
	p.Stopped += o.Stopped
}

// Evaluate runs one full pass over the table as the only worker.
func (t *Table) Evaluate(now int64) PassStats {
	return t.EvaluateWorker(0, 1, now)
}

// EvaluateWorker runs one pass as worker number worker of workers. Every
// worker visits every slot, starting at its own offset so concurrent workers
// spread over the table. Slots owned by another worker are skipped.
func (t *Table) EvaluateWorker(worker, workers int, now int64) PassStats {
	var ps PassStats
	n := int(t.high.Load())
	if n == 0 {
		return ps
	}
	if workers < 1 {
		workers = 1
	}
	start := (worker % workers) * n / workers
	for k := 0; k < n; k++ {
		t.visit((start+k)%n, now, &ps)
	}
	t.passes.Add(1)
	return ps
}

func (t *Table) visit(i int, now int64, ps *PassStats) {
	s := &t.slots[i]
	e := &t.info[i]
	switch s.state.Load() {
	case slotEmpty, slotStopped:
		return
	}
	if e.nextAt.Load() > now {
		return
	}
	ps.Visited++

	task, ok := s.Acquire()
	if !ok {
		ps.Busy++
		return
	}

	topo := t.topo.Load()
	if !t.ready(topo, e, now) {
		ps.Delayed++
		t.obs.Delayed(i, e.state, now)
		t.suspend(topo, i, e)
		s.Release(false)
		return
	}

	token := e.events.Load()
	from := e.state
	t.obs.Scheduled(i, now)
	started := t.clock.NowUSec()
	sched := task.Execute(reporter{t: t, slot: i})
	at := t.clock.NowUSec()

	e.runs.Add(1)
	e.busyUSec.Add(at - started)
	e.lastRunAt.Store(at)
	e.started = started
	t.runs.Add(1)
	ps.Executed++
	t.obs.Executed(i, at)

	next := t.applyRule(e, task, domain.NextState(from, sched, at, token))
	t.obs.Transition(from, sched, next, i, at)
	e.setState(next)

	t.wake(topo, i, e, task)

	if next.Terminal() {
		e.nextAt.Store(parked)
		t.active.Add(-1)
		ps.Stopped++
		t.obs.Stopped(i, at)
		s.Release(true)
		return
	}
	t.suspend(topo, i, e)
	s.Release(false)
}

// applyRule adjusts a freshly computed state for the slot's base rule.
func (t *Table) applyRule(e *ExecInfo, task domain.Task, next domain.TaskState) domain.TaskState {
	if next.Kind != domain.StateExecute {
		return next
	}
	switch e.rule.Kind {
	case domain.RulePeriodic:
		return domain.TimeWait(domain.Deadline(e.started, e.rule.PeriodUSec))
	case domain.RuleOnMessage:
		if task.InputCount() == 0 {
			return next
		}
		if peer, ok := task.InputID(0); ok {
			return domain.MessageWait(peer, task.RxCount(0))
		}
	}
	return next
}

// ready evaluates the slot's wait condition. Called with ownership held.
func (t *Table) ready(topo *topology, e *ExecInfo, now int64) bool {
	st := e.state
	switch st.Kind {
	case domain.StateExecute:
		return true
	case domain.StateTimeWait:
		return now >= st.Until
	case domain.StateMessageWait:
		seq, known := topo.seqno(st.Channel)
		return !known || seq > st.Seqno
	case domain.StateExtEventWait:
		return e.events.Load() > st.Token
	default:
		return false
	}
}

// suspend sets the next time slot i is worth visiting. Parked slots re-check
// their condition after parking so a wakeup racing with the park is not lost.
func (t *Table) suspend(topo *topology, i int, e *ExecInfo) {
	st := e.state
	switch st.Kind {
	case domain.StateTimeWait:
		e.nextAt.Store(st.Until)
	case domain.StateMessageWait:
		if !topo.wokenBy[i][st.Channel] {
			e.nextAt.Store(0)
			return
		}
		e.nextAt.Store(parked)
		if seq, known := topo.seqno(st.Channel); !known || seq > st.Seqno {
			e.nextAt.Store(0)
		}
	case domain.StateExtEventWait:
		e.nextAt.Store(parked)
		if e.events.Load() > st.Token {
			e.nextAt.Store(0)
		}
	default:
		e.nextAt.Store(0)
	}
}

// wake un-parks dependents of slot i whose channel advanced during the
// execution that just finished.
func (t *Table) wake(topo *topology, i int, e *ExecInfo, task domain.Task) {
	deps := topo.dependents[i]
	for o := 0; o < e.outputs && o < len(e.lastTx); o++ {
		seq := task.TxCount(o)
		if seq == e.lastTx[o] {
			continue
		}
		e.lastTx[o] = seq
		id, ok := task.OutputID(o)
		if !ok {
			continue
		}
		for _, d := range deps {
			if d.Channel == id {
				t.info[d.Slot].nextAt.CompareAndSwap(parked, 0)
			}
		}
	}
}

// ─── Reporter ───────────────────────────────────────────────────────────────

type reporter struct {
	t    *Table
	slot int
}

func (r reporter) TaskID() int { return r.slot }

func (r reporter) MessageSent(ch domain.ChannelID, seqno uint64) {
	r.t.obs.MessageSent(ch, seqno, r.slot, r.t.clock.NowUSec())
}

func (r reporter) WaitChannel(ch domain.ChannelID, seqno uint64) {
	r.t.obs.WaitChannel(ch, seqno, r.slot, r.t.clock.NowUSec())
}

// ─── Nop Observer ───────────────────────────────────────────────────────────

type nopObserver struct{}

func (nopObserver) Scheduled(int, int64)                                                       {}
func (nopObserver) Executed(int, int64)                                                        {}
func (nopObserver) Stopped(int, int64)                                                         {}
func (nopObserver) Delayed(int, domain.TaskState, int64)                                       {}
func (nopObserver) MessageSent(domain.ChannelID, uint64, int, int64)                           {}
func (nopObserver) WaitChannel(domain.ChannelID, uint64, int, int64)                           {}
func (nopObserver) Transition(domain.TaskState, domain.Schedule, domain.TaskState, int, int64) {}
