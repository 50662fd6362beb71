package domain

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define the boundaries between the scheduler core, the
// element adapters and the telemetry sinks.

// Task is the scheduler-facing adapter around an element. The table stores
// tasks only through this interface.
type Task interface {
	// Execute runs the element once and returns when it should next run.
	Execute(r Reporter) Schedule

	Name() string
	InputCount() int
	OutputCount() int

	// InputID returns the peer (sender) identity of input ch if connected.
	InputID(ch int) (ChannelID, bool)

	// OutputID returns the identity of output ch.
	OutputID(ch int) (ChannelID, bool)

	// TxCount and RxCount return sequence positions of output or input ch.
	// They must be safe to call concurrently with Execute.
	TxCount(ch int) uint64
	RxCount(ch int) uint64
}

// Reporter is handed to a task for the duration of one execution. It binds
// observer calls to the executing slot and the current time.
type Reporter interface {
	TaskID() int
	MessageSent(ch ChannelID, seqno uint64)
	WaitChannel(ch ChannelID, seqno uint64)
}

// Observer receives lifecycle and progress events. Calls are fire-and-forget:
// the core never reads anything back, and implementations must not block.
// Timestamps are microseconds on the table's clock.
type Observer interface {
	Scheduled(taskID int, at int64)
	Executed(taskID int, at int64)
	Stopped(taskID int, at int64)
	Delayed(taskID int, reason TaskState, at int64)
	MessageSent(ch ChannelID, seqno uint64, taskID int, at int64)
	WaitChannel(ch ChannelID, seqno uint64, taskID int, at int64)
	Transition(from TaskState, event Schedule, to TaskState, taskID int, at int64)
}
