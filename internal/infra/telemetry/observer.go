package telemetry

import (
	"context"
	"log/slog"

	"github.com/tutu-network/dataflow/internal/domain"
)

// ─── Nop ────────────────────────────────────────────────────────────────────

// Nop discards every event.
type Nop struct{}

func (Nop) Scheduled(int, int64)                                                       {}
func (Nop) Executed(int, int64)                                                        {}
func (Nop) Stopped(int, int64)                                                         {}
func (Nop) Delayed(int, domain.TaskState, int64)                                       {}
func (Nop) MessageSent(domain.ChannelID, uint64, int, int64)                           {}
func (Nop) WaitChannel(domain.ChannelID, uint64, int, int64)                           {}
func (Nop) Transition(domain.TaskState, domain.Schedule, domain.TaskState, int, int64) {}

// ─── Multi ──────────────────────────────────────────────────────────────────

type multi []domain.Observer

// Multi fans every event out to all non-nil observers in order.
func Multi(observers ...domain.Observer) domain.Observer {
	var m multi
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	switch len(m) {
	case 0:
		return Nop{}
	case 1:
		return m[0]
	}
	return m
}

func (m multi) Scheduled(id int, at int64) {
	for _, o := range m {
		o.Scheduled(id, at)
	}
}

func (m multi) Executed(id int, at int64) {
	for _, o := range m {
		o.Executed(id, at)
	}
}

func (m multi) Stopped(id int, at int64) {
	for _, o := range m {
		o.Stopped(id, at)
	}
}

func (m multi) Delayed(id int, reason domain.TaskState, at int64) {
	for _, o := range m {
		o.Delayed(id, reason, at)
	}
}

func (m multi) MessageSent(ch domain.ChannelID, seqno uint64, id int, at int64) {
	for _, o := range m {
		o.MessageSent(ch, seqno, id, at)
	}
}

func (m multi) WaitChannel(ch domain.ChannelID, seqno uint64, id int, at int64) {
	for _, o := range m {
		o.WaitChannel(ch, seqno, id, at)
	}
}

func (m multi) Transition(from domain.TaskState, ev domain.Schedule, to domain.TaskState, id int, at int64) {
	for _, o := range m {
		o.Transition(from, ev, to, id, at)
	}
}

// ─── Log ────────────────────────────────────────────────────────────────────

// LogObserver writes events to a slog.Logger. Stops are logged at info,
// everything else at debug so a default logger stays quiet.
type LogObserver struct {
	log *slog.Logger
}

// NewLogObserver returns an observer logging to l, or slog.Default if nil.
func NewLogObserver(l *slog.Logger) *LogObserver {
	if l == nil {
		l = slog.Default()
	}
	return &LogObserver{log: l.With("component", "scheduler")}
}

func (o *LogObserver) debug(msg string, args ...any) {
	if o.log.Enabled(context.Background(), slog.LevelDebug) {
		o.log.Debug(msg, args...)
	}
}

func (o *LogObserver) Scheduled(id int, at int64) {
	o.debug("task scheduled", "task", id, "at_usec", at)
}

func (o *LogObserver) Executed(id int, at int64) {
	o.debug("task executed", "task", id, "at_usec", at)
}

func (o *LogObserver) Stopped(id int, at int64) {
	o.log.Info("task stopped", "task", id, "at_usec", at)
}

func (o *LogObserver) Delayed(id int, reason domain.TaskState, at int64) {
	o.debug("task delayed", "task", id, "reason", reason.String(), "at_usec", at)
}

func (o *LogObserver) MessageSent(ch domain.ChannelID, seqno uint64, id int, at int64) {
	o.debug("message sent", "task", id, "channel", ch.String(), "seqno", seqno, "at_usec", at)
}

func (o *LogObserver) WaitChannel(ch domain.ChannelID, seqno uint64, id int, at int64) {
	o.debug("waiting on channel", "task", id, "channel", ch.String(), "seqno", seqno, "at_usec", at)
}

func (o *LogObserver) Transition(from domain.TaskState, ev domain.Schedule, to domain.TaskState, id int, at int64) {
	o.debug("task transition", "task", id, "from", from.String(), "event", ev.String(), "to", to.String(), "at_usec", at)
}
