package domain

import (
	"errors"
	"math"
	"testing"
	"time"
)

// ─── Message ────────────────────────────────────────────────────────────────

func TestMessage_Get(t *testing.T) {
	tests := []struct {
		name   string
		msg    Message[int]
		want   int
		wantOK bool
	}{
		{"empty", Empty[int](), 0, false},
		{"value", Value(42), 42, true},
		{"ack", Ack[int](1, 2), 0, false},
		{"fault", Fault[int](3, "bad value"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.msg.Get()
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Get() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMessage_String(t *testing.T) {
	if got := Fault[int](3, "bad value").String(); got != `Error(3,"bad value")` {
		t.Errorf("String() = %s", got)
	}
	if got := Value("x").String(); got != "Value(x)" {
		t.Errorf("String() = %s", got)
	}
}

func TestRetype_KeepsControlMessages(t *testing.T) {
	f := Retype[string](Fault[int](7, "boom"))
	if f.Kind != MessageError || f.Origin != 7 || f.Reason != "boom" {
		t.Errorf("Retype(fault) = %v", f)
	}
	a := Retype[string](Ack[int](1, 4))
	if a.Kind != MessageAck || a.AckFrom != 1 || a.AckTo != 4 {
		t.Errorf("Retype(ack) = %v", a)
	}
	if v := Retype[string](Value(3)); !v.IsEmpty() {
		t.Errorf("Retype(value) = %v, want Empty", v)
	}
}

// ─── Schedule → TaskState ───────────────────────────────────────────────────

func TestNextState(t *testing.T) {
	ch := NewChannelID("source", 0)
	tests := []struct {
		name  string
		sched Schedule
		want  TaskState
	}{
		{"loop", Loop(), Execute()},
		{"on message", OnMessage(ch, 5), MessageWait(ch, 5)},
		{"delay", DelayUSec(250), TimeWait(1250)},
		{"external", OnExternalEvent(), ExtEventWait(9)},
		{"stop", Stop(), Stopped()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextState(Execute(), tt.sched, 1000, 9)
			if got != tt.want {
				t.Errorf("NextState(%s) = %s, want %s", tt.sched, got, tt.want)
			}
		})
	}
}

func TestNextState_StopIsTerminal(t *testing.T) {
	for _, s := range []Schedule{Loop(), DelayUSec(1), OnExternalEvent(), OnMessage(ChannelID{}, 0)} {
		if got := NextState(Stopped(), s, 0, 0); !got.Terminal() {
			t.Errorf("NextState(Stop, %s) = %s, want STOP", s, got)
		}
	}
}

func TestNextState_DelaySaturates(t *testing.T) {
	tests := []struct {
		now   int64
		delay uint64
		want  int64
	}{
		{100, 50, 150},
		{100, math.MaxUint64, math.MaxInt64},
		{100, math.MaxInt64, math.MaxInt64},
		{math.MaxInt64 - 1, 2, math.MaxInt64},
	}
	for _, tt := range tests {
		got := NextState(Execute(), DelayUSec(tt.delay), tt.now, 0)
		if got.Kind != StateTimeWait || got.Until != tt.want {
			t.Errorf("NextState(now=%d, DelayUSec(%d)) = %s, want TimeWait(%d)", tt.now, tt.delay, got, tt.want)
		}
	}
}

func TestDelay_Truncates(t *testing.T) {
	if got := Delay(1500 * time.Nanosecond); got.DelayUSec != 1 {
		t.Errorf("Delay(1.5µs).DelayUSec = %d, want 1", got.DelayUSec)
	}
}

// ─── Rules ──────────────────────────────────────────────────────────────────

func TestParseRule(t *testing.T) {
	tests := []struct {
		name    string
		period  time.Duration
		want    RuleKind
		wantErr bool
	}{
		{"", 0, RuleLoop, false},
		{"loop", 0, RuleLoop, false},
		{"ON_MESSAGE", 0, RuleOnMessage, false},
		{"periodic", 10 * time.Millisecond, RulePeriodic, false},
		{"periodic", 0, 0, true},
		{"external", 0, RuleOnExternalEvent, false},
		{"sometimes", 0, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseRule(tt.name, tt.period)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidRule) {
				t.Errorf("ParseRule(%q) error = %v, want ErrInvalidRule", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseRule(%q) error: %v", tt.name, err)
		}
		if got.Kind != tt.want {
			t.Errorf("ParseRule(%q).Kind = %s, want %s", tt.name, got.Kind, tt.want)
		}
	}
}

func TestRule_InitialState(t *testing.T) {
	if got := ExternalEventRule().InitialState(3); got != ExtEventWait(3) {
		t.Errorf("external InitialState = %s", got)
	}
	if got := PeriodicRule(time.Second).InitialState(0); got != Execute() {
		t.Errorf("periodic InitialState = %s", got)
	}
}

// ─── Errors ─────────────────────────────────────────────────────────────────

func TestConnectError_Unwrap(t *testing.T) {
	err := error(&ConnectError{From: NewChannelID("a", 0), To: NewChannelID("b", 1), Err: ErrBusy})
	if !errors.Is(err, ErrBusy) {
		t.Error("errors.Is(ConnectError, ErrBusy) = false")
	}
	if got := err.Error(); got != "connect a[0] -> b[1]: endpoint already bound" {
		t.Errorf("Error() = %q", got)
	}
}

func TestParseChannelID(t *testing.T) {
	tests := []struct {
		in      string
		want    ChannelID
		wantErr bool
	}{
		{"src[0]", NewChannelID("src", 0), false},
		{"a[b][12]", NewChannelID("a[b]", 12), false},
		{"src", ChannelID{}, true},
		{"[1]", ChannelID{}, true},
		{"src[x]", ChannelID{}, true},
		{"src[-1]", ChannelID{}, true},
	}
	for _, tt := range tests {
		got, err := ParseChannelID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseChannelID(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseChannelID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
