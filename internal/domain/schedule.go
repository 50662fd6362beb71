package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ─── Schedule ───────────────────────────────────────────────────────────────

// ScheduleKind enumerates the directives a task may return after one execution.
type ScheduleKind uint8

const (
	ScheduleLoop      ScheduleKind = iota // run again immediately
	ScheduleOnMessage                     // suspend until a channel advances
	ScheduleDelay                         // suspend for a wall-clock interval
	ScheduleExternal                      // suspend until an outside stimulus
	ScheduleStop                          // terminal
)

// String returns a human-readable schedule kind.
func (k ScheduleKind) String() string {
	switch k {
	case ScheduleLoop:
		return "LOOP"
	case ScheduleOnMessage:
		return "ON_MESSAGE"
	case ScheduleDelay:
		return "DELAY"
	case ScheduleExternal:
		return "ON_EXTERNAL_EVENT"
	case ScheduleStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// Schedule is the directive a task emits after one execution.
type Schedule struct {
	Kind ScheduleKind

	// OnMessage: wait until Channel's sequence counter exceeds Seqno.
	Channel ChannelID
	Seqno   uint64

	// Delay: suspension in microseconds.
	DelayUSec uint64
}

// Loop asks to run again immediately.
func Loop() Schedule { return Schedule{Kind: ScheduleLoop} }

// OnMessage suspends until channel ch advances past seqno.
func OnMessage(ch ChannelID, seqno uint64) Schedule {
	return Schedule{Kind: ScheduleOnMessage, Channel: ch, Seqno: seqno}
}

// DelayUSec suspends for n microseconds.
func DelayUSec(n uint64) Schedule { return Schedule{Kind: ScheduleDelay, DelayUSec: n} }

// Delay suspends for d, truncated to microseconds.
func Delay(d time.Duration) Schedule { return DelayUSec(uint64(d / time.Microsecond)) }

// OnExternalEvent suspends until the slot is triggered from outside.
func OnExternalEvent() Schedule { return Schedule{Kind: ScheduleExternal} }

// Stop is terminal. Final output must be flushed before returning it.
func Stop() Schedule { return Schedule{Kind: ScheduleStop} }

// String renders the schedule with its arguments.
func (s Schedule) String() string {
	switch s.Kind {
	case ScheduleOnMessage:
		return fmt.Sprintf("OnMessage(%s,%d)", s.Channel, s.Seqno)
	case ScheduleDelay:
		return fmt.Sprintf("DelayUSec(%d)", s.DelayUSec)
	default:
		return s.Kind.String()
	}
}

// ─── TaskState ──────────────────────────────────────────────────────────────

// StateKind enumerates the scheduler's view of a task.
type StateKind uint8

const (
	StateExecute StateKind = iota
	StateTimeWait
	StateMessageWait
	StateExtEventWait
	StateStop
)

// String returns a human-readable state kind.
func (k StateKind) String() string {
	switch k {
	case StateExecute:
		return "EXECUTE"
	case StateTimeWait:
		return "TIME_WAIT"
	case StateMessageWait:
		return "MESSAGE_WAIT"
	case StateExtEventWait:
		return "EXT_EVENT_WAIT"
	case StateStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// TaskState records why a task is not currently running.
type TaskState struct {
	Kind StateKind

	Until   int64     // TimeWait: absolute microseconds
	Channel ChannelID // MessageWait
	Seqno   uint64    // MessageWait
	Token   uint64    // ExtEventWait: trigger count already seen
}

func Execute() TaskState                  { return TaskState{Kind: StateExecute} }
func TimeWait(until int64) TaskState      { return TaskState{Kind: StateTimeWait, Until: until} }
func ExtEventWait(token uint64) TaskState { return TaskState{Kind: StateExtEventWait, Token: token} }
func Stopped() TaskState                  { return TaskState{Kind: StateStop} }

// MessageWait waits until ch's counter exceeds seqno.
func MessageWait(ch ChannelID, seqno uint64) TaskState {
	return TaskState{Kind: StateMessageWait, Channel: ch, Seqno: seqno}
}

// Terminal reports whether the state is Stop.
func (s TaskState) Terminal() bool { return s.Kind == StateStop }

// String renders the state with its arguments.
func (s TaskState) String() string {
	switch s.Kind {
	case StateTimeWait:
		return fmt.Sprintf("TimeWait(%d)", s.Until)
	case StateMessageWait:
		return fmt.Sprintf("MessageWait(%s,%d)", s.Channel, s.Seqno)
	case StateExtEventWait:
		return fmt.Sprintf("ExtEventWait(%d)", s.Token)
	default:
		return s.Kind.String()
	}
}

// NextState maps the Schedule returned by an execution to the task's next
// state. now is the current time in microseconds and token the slot's
// external-trigger count captured before the execution started.
// Stop is one-way: a terminal from-state is returned unchanged.
func NextState(from TaskState, s Schedule, now int64, token uint64) TaskState {
	if from.Terminal() {
		return from
	}
	switch s.Kind {
	case ScheduleLoop:
		return Execute()
	case ScheduleOnMessage:
		return MessageWait(s.Channel, s.Seqno)
	case ScheduleDelay:
		return TimeWait(Deadline(now, s.DelayUSec))
	case ScheduleExternal:
		return ExtEventWait(token)
	default:
		return Stopped()
	}
}

// Deadline returns now+delay in microseconds, saturating at math.MaxInt64.
func Deadline(now int64, delay uint64) int64 {
	if delay > math.MaxInt64 {
		return math.MaxInt64
	}
	d := int64(delay)
	if now > math.MaxInt64-d {
		return math.MaxInt64
	}
	return now + d
}

// ─── Scheduling Rule ────────────────────────────────────────────────────────

// RuleKind enumerates the per-slot scheduling rules set at graph-build time.
type RuleKind uint8

const (
	RuleLoop RuleKind = iota
	RuleOnMessage
	RulePeriodic
	RuleOnExternalEvent
)

// String returns the rule's configuration name.
func (k RuleKind) String() string {
	switch k {
	case RuleLoop:
		return "loop"
	case RuleOnMessage:
		return "on_message"
	case RulePeriodic:
		return "periodic"
	case RuleOnExternalEvent:
		return "external"
	default:
		return "unknown"
	}
}

// SchedulingRule is the base policy of a slot. Periodic enforces a minimum
// spacing between the starts of consecutive executions; OnExternalEvent makes
// the slot wait for its first trigger before running at all.
type SchedulingRule struct {
	Kind       RuleKind
	PeriodUSec uint64
}

func LoopRule() SchedulingRule          { return SchedulingRule{Kind: RuleLoop} }
func OnMessageRule() SchedulingRule     { return SchedulingRule{Kind: RuleOnMessage} }
func ExternalEventRule() SchedulingRule { return SchedulingRule{Kind: RuleOnExternalEvent} }

// PeriodicRule spaces executions at least period apart.
func PeriodicRule(period time.Duration) SchedulingRule {
	return SchedulingRule{Kind: RulePeriodic, PeriodUSec: uint64(period / time.Microsecond)}
}

// InitialState is the state a freshly configured slot starts in.
func (r SchedulingRule) InitialState(token uint64) TaskState {
	if r.Kind == RuleOnExternalEvent {
		return ExtEventWait(token)
	}
	return Execute()
}

// String renders the rule.
func (r SchedulingRule) String() string {
	if r.Kind == RulePeriodic {
		return fmt.Sprintf("periodic(%s)", time.Duration(r.PeriodUSec)*time.Microsecond)
	}
	return r.Kind.String()
}

// ParseRule converts a configuration name into a rule. Empty means loop.
func ParseRule(name string, period time.Duration) (SchedulingRule, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "loop":
		return LoopRule(), nil
	case "on_message":
		return OnMessageRule(), nil
	case "periodic":
		if period <= 0 {
			return SchedulingRule{}, fmt.Errorf("%w: periodic rule needs a positive period", ErrInvalidRule)
		}
		return PeriodicRule(period), nil
	case "external":
		return ExternalEventRule(), nil
	default:
		return SchedulingRule{}, fmt.Errorf("%w: %q", ErrInvalidRule, name)
	}
}
