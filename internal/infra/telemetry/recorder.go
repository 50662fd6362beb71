package telemetry

import (
	"sync"
)

// Recorder keeps the most recent events in a fixed-size ring.
type Recorder struct {
	mu    sync.Mutex
	buf   []Event
	next  uint64 // sequence number of the next event
	kinds map[Kind]bool
}

// NewRecorder keeps up to size events. With kinds given only those kinds
// are retained.
func NewRecorder(size int, kinds ...Kind) *Recorder {
	if size < 1 {
		size = 1
	}
	r := &Recorder{buf: make([]Event, size)}
	if len(kinds) > 0 {
		r.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			r.kinds[k] = true
		}
	}
	return r
}

// Observer returns r as a domain.Observer.
func (r *Recorder) Observer() Flatten { return Flatten{Sink: r} }

// Record stores e, assigning its sequence number.
func (r *Recorder) Record(e Event) {
	if r.kinds != nil && !r.kinds[e.Kind] {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Seq = r.next
	r.buf[r.next%uint64(len(r.buf))] = e
	r.next++
}

// Total returns how many events were recorded, including evicted ones.
func (r *Recorder) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// Events returns retained events with Seq >= since, oldest first, at most
// limit of them (0 means all).
func (r *Recorder) Events(since uint64, limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := uint64(len(r.buf))
	first := uint64(0)
	if r.next > size {
		first = r.next - size
	}
	if since > first {
		first = since
	}
	var out []Event
	for s := first; s < r.next; s++ {
		out = append(out, r.buf[s%size])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
