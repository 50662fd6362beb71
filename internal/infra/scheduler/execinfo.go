package scheduler

import (
	"math"
	"sync/atomic"

	"github.com/tutu-network/dataflow/internal/domain"
)

// parked marks a slot that is only worth visiting after a wakeup.
const parked = math.MaxInt64

// ExecInfo is the scheduler bookkeeping of one slot. Fields without atomics
// are guarded by slot ownership.
type ExecInfo struct {
	rule    domain.SchedulingRule
	outputs int
	state   domain.TaskState
	lastTx  []uint64
	started int64 // last execution start, for periodic spacing

	// Read by scanners and the API without ownership.
	nextAt    atomic.Int64
	published atomic.Pointer[domain.TaskState]
	ruleName  atomic.Pointer[string]
	events    atomic.Uint64
	runs      atomic.Uint64
	busyUSec  atomic.Int64
	lastRunAt atomic.Int64
}

func (e *ExecInfo) reset(rule domain.SchedulingRule, outputs int) {
	e.rule = rule
	e.outputs = outputs
	e.lastTx = make([]uint64, outputs)
	e.started = 0
	e.runs.Store(0)
	e.busyUSec.Store(0)
	e.lastRunAt.Store(0)
	name := rule.String()
	e.ruleName.Store(&name)
	e.setState(rule.InitialState(e.events.Load()))
	e.nextAt.Store(0)
}

// relabel updates rule and arity without touching state or counters.
func (e *ExecInfo) relabel(rule domain.SchedulingRule, outputs int) {
	e.rule = rule
	if outputs != e.outputs {
		e.outputs = outputs
		e.lastTx = make([]uint64, outputs)
	}
	name := rule.String()
	e.ruleName.Store(&name)
}

func (e *ExecInfo) setState(s domain.TaskState) {
	e.state = s
	e.published.Store(&s)
}

// State returns the last published task state.
func (e *ExecInfo) State() domain.TaskState {
	if p := e.published.Load(); p != nil {
		return *p
	}
	return domain.Execute()
}
