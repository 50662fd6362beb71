// Package telemetry provides Observer sinks for the scheduler: a no-op, a
// fan-out, a structured-log sink and a bounded in-memory recorder.
package telemetry

import (
	"github.com/tutu-network/dataflow/internal/domain"
)

// Kind names an observer event.
type Kind string

const (
	KindScheduled   Kind = "scheduled"
	KindExecuted    Kind = "executed"
	KindStopped     Kind = "stopped"
	KindDelayed     Kind = "delayed"
	KindMessageSent Kind = "message_sent"
	KindWaitChannel Kind = "wait_channel"
	KindTransition  Kind = "transition"
)

// Event is the flattened form of one observer call.
type Event struct {
	Seq     uint64            `json:"seq"`
	Kind    Kind              `json:"kind"`
	TaskID  int               `json:"task_id"`
	At      int64             `json:"at_usec"`
	Channel *domain.ChannelID `json:"channel,omitempty"`
	Seqno   uint64            `json:"seqno,omitempty"`
	From    string            `json:"from,omitempty"`
	Event   string            `json:"event,omitempty"`
	To      string            `json:"to,omitempty"`
}

// Sink receives flattened events. Recorder and the journal implement it.
type Sink interface {
	Record(e Event)
}

// Flatten adapts a Sink into a domain.Observer.
type Flatten struct {
	Sink Sink
}

func (f Flatten) Scheduled(id int, at int64) {
	f.Sink.Record(Event{Kind: KindScheduled, TaskID: id, At: at})
}

func (f Flatten) Executed(id int, at int64) {
	f.Sink.Record(Event{Kind: KindExecuted, TaskID: id, At: at})
}

func (f Flatten) Stopped(id int, at int64) {
	f.Sink.Record(Event{Kind: KindStopped, TaskID: id, At: at})
}

func (f Flatten) Delayed(id int, reason domain.TaskState, at int64) {
	f.Sink.Record(Event{Kind: KindDelayed, TaskID: id, At: at, From: reason.String()})
}

func (f Flatten) MessageSent(ch domain.ChannelID, seqno uint64, id int, at int64) {
	f.Sink.Record(Event{Kind: KindMessageSent, TaskID: id, At: at, Channel: &ch, Seqno: seqno})
}

func (f Flatten) WaitChannel(ch domain.ChannelID, seqno uint64, id int, at int64) {
	f.Sink.Record(Event{Kind: KindWaitChannel, TaskID: id, At: at, Channel: &ch, Seqno: seqno})
}

func (f Flatten) Transition(from domain.TaskState, ev domain.Schedule, to domain.TaskState, id int, at int64) {
	f.Sink.Record(Event{
		Kind:   KindTransition,
		TaskID: id,
		At:     at,
		From:   from.String(),
		Event:  ev.String(),
		To:     to.String(),
	})
}
