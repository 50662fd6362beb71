package sqlite

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tutu-network/dataflow/internal/infra/metrics"
	"github.com/tutu-network/dataflow/internal/infra/telemetry"
)

const (
	journalBatch = 256
	journalFlush = 200 * time.Millisecond
)

// Journal persists observer events for one run. Record never blocks: events
// arriving while the buffer is full are counted and dropped.
type Journal struct {
	db    *DB
	runID string
	log   *slog.Logger

	events  chan telemetry.Event
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	seq     atomic.Uint64
	written atomic.Uint64
	dropped atomic.Uint64
}

// NewJournal starts the background writer for runID.
func NewJournal(db *DB, runID string, buffer int, log *slog.Logger) *Journal {
	if buffer < 1 {
		buffer = 4096
	}
	if log == nil {
		log = slog.Default()
	}
	j := &Journal{
		db:     db,
		runID:  runID,
		log:    log.With("component", "journal", "run", runID),
		events: make(chan telemetry.Event, buffer),
		done:   make(chan struct{}),
	}
	j.wg.Add(1)
	go j.loop()
	return j
}

// Observer returns the journal as a domain.Observer.
func (j *Journal) Observer() telemetry.Flatten { return telemetry.Flatten{Sink: j} }

// RunID returns the run this journal writes to.
func (j *Journal) RunID() string { return j.runID }

// Record queues e for writing.
func (j *Journal) Record(e telemetry.Event) {
	e.Seq = j.seq.Add(1) - 1
	select {
	case j.events <- e:
	default:
		j.dropped.Add(1)
		metrics.JournalDropped.Inc()
	}
}

// Written returns how many events reached the database.
func (j *Journal) Written() uint64 { return j.written.Load() }

// Dropped returns how many events were discarded.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Close flushes queued events and stops the writer.
func (j *Journal) Close() error {
	j.once.Do(func() { close(j.done) })
	j.wg.Wait()
	return nil
}

func (j *Journal) loop() {
	defer j.wg.Done()
	ticker := time.NewTicker(journalFlush)
	defer ticker.Stop()

	batch := make([]telemetry.Event, 0, journalBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.db.InsertEvents(j.runID, batch); err != nil {
			j.log.Warn("journal write failed", "events", len(batch), "error", err)
			j.dropped.Add(uint64(len(batch)))
			metrics.JournalDropped.Add(float64(len(batch)))
		} else {
			j.written.Add(uint64(len(batch)))
			metrics.JournalWritten.Add(float64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-j.events:
			batch = append(batch, e)
			if len(batch) >= journalBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-j.done:
			for {
				select {
				case e := <-j.events:
					batch = append(batch, e)
					if len(batch) >= journalBatch {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
