// Package metrics provides Prometheus metrics for the dataflow runtime:
// scheduler activity, channel progress, journal throughput and health.
package metrics

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tutu-network/dataflow/internal/domain"
)

// ─── Scheduler ──────────────────────────────────────────────────────────────

// TasksScheduled counts executions started, per slot.
var TasksScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dataflow",
	Name:      "tasks_scheduled_total",
	Help:      "Total task executions started.",
}, []string{"task"})

// TasksExecuted counts executions finished, per slot.
var TasksExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dataflow",
	Name:      "tasks_executed_total",
	Help:      "Total task executions finished.",
}, []string{"task"})

// TasksStopped counts tasks that returned Stop.
var TasksStopped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "dataflow",
	Name:      "tasks_stopped_total",
	Help:      "Total tasks that reached the terminal state.",
})

// TaskDelays counts executions skipped because the wait condition held.
var TaskDelays = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dataflow",
	Name:      "delays_total",
	Help:      "Acquired slots released without running, by wait reason.",
}, []string{"reason"})

// Transitions counts state transitions by from/to kind.
var Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dataflow",
	Name:      "transitions_total",
	Help:      "Task state transitions.",
}, []string{"from", "to"})

// ExecLatency tracks the wall time of one task execution.
var ExecLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "dataflow",
	Name:      "exec_latency_seconds",
	Help:      "Duration of a single task execution.",
	Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
})

// TasksActive tracks populated, not stopped slots.
var TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "dataflow",
	Name:      "tasks_active",
	Help:      "Number of populated slots that have not stopped.",
})

// ─── Channels ───────────────────────────────────────────────────────────────

// MessagesSent counts messages sent per channel.
var MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dataflow",
	Name:      "messages_sent_total",
	Help:      "Messages accepted by each output channel.",
}, []string{"channel"})

// ChannelWaits counts suspensions on a channel.
var ChannelWaits = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dataflow",
	Name:      "channel_waits_total",
	Help:      "Times a task suspended waiting on a channel.",
}, []string{"channel"})

// ─── Journal ────────────────────────────────────────────────────────────────

// JournalWritten counts events persisted by the journal.
var JournalWritten = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "dataflow",
	Name:      "journal_events_written_total",
	Help:      "Observer events written to the journal.",
})

// JournalDropped counts events discarded because the journal buffer was full.
var JournalDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "dataflow",
	Name:      "journal_events_dropped_total",
	Help:      "Observer events dropped by a full journal buffer.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "dataflow",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dataflow",
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})

// ─── Observer ───────────────────────────────────────────────────────────────

// Observer feeds scheduler events into the package metrics.
type Observer struct {
	started []atomic.Int64 // per slot, Scheduled timestamp
}

// NewObserver returns an observer for a table with the given capacity.
func NewObserver(capacity int) *Observer {
	if capacity < 1 {
		capacity = 1
	}
	return &Observer{started: make([]atomic.Int64, capacity)}
}

func label(id int) string { return strconv.Itoa(id) }

func (o *Observer) Scheduled(id int, at int64) {
	TasksScheduled.WithLabelValues(label(id)).Inc()
	if id >= 0 && id < len(o.started) {
		o.started[id].Store(at)
	}
}

func (o *Observer) Executed(id int, at int64) {
	TasksExecuted.WithLabelValues(label(id)).Inc()
	if id >= 0 && id < len(o.started) {
		if d := at - o.started[id].Load(); d >= 0 {
			ExecLatency.Observe(float64(d) / 1e6)
		}
	}
}

func (o *Observer) Stopped(int, int64) {
	TasksStopped.Inc()
}

func (o *Observer) Delayed(_ int, reason domain.TaskState, _ int64) {
	TaskDelays.WithLabelValues(reason.Kind.String()).Inc()
}

func (o *Observer) MessageSent(ch domain.ChannelID, _ uint64, _ int, _ int64) {
	MessagesSent.WithLabelValues(ch.String()).Inc()
}

func (o *Observer) WaitChannel(ch domain.ChannelID, _ uint64, _ int, _ int64) {
	ChannelWaits.WithLabelValues(ch.String()).Inc()
}

func (o *Observer) Transition(from domain.TaskState, _ domain.Schedule, to domain.TaskState, _ int, _ int64) {
	Transitions.WithLabelValues(from.Kind.String(), to.Kind.String()).Inc()
}
