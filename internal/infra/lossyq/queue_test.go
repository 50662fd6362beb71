package lossyq

import (
	"sync"
	"testing"
)

func TestNew_CapacityRounding(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 1}, {1, 1}, {3, 4}, {4, 4}, {5, 8}, {4096, 4096},
	}
	for _, tt := range tests {
		tx, _ := New[int](tt.in)
		if got := tx.Capacity(); got != tt.want {
			t.Errorf("New(%d).Capacity() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestQueue_FIFO(t *testing.T) {
	tx, rx := New[int](4)
	for i := 0; i < 3; i++ {
		if seq := tx.Send(i); seq != uint64(i+1) {
			t.Fatalf("Send(%d) seqno = %d, want %d", i, seq, i+1)
		}
	}
	for want := 0; want < 3; want++ {
		got, ok := rx.TryRecv()
		if !ok || got != want {
			t.Fatalf("TryRecv() = (%d, %v), want (%d, true)", got, ok, want)
		}
	}
	if _, ok := rx.TryRecv(); ok {
		t.Error("TryRecv() on drained queue returned a value")
	}
	if rx.Pos() != 3 || rx.Seqno() != 3 {
		t.Errorf("Pos()=%d Seqno()=%d, want 3/3", rx.Pos(), rx.Seqno())
	}
}

func TestQueue_OverwritesOldest(t *testing.T) {
	tx, rx := New[int](4)
	for i := 0; i < 10; i++ {
		tx.Send(i)
	}
	if rx.Pending() != 4 {
		t.Errorf("Pending() = %d, want 4", rx.Pending())
	}
	for want := 6; want < 10; want++ {
		got, ok := rx.TryRecv()
		if !ok || got != want {
			t.Fatalf("TryRecv() = (%d, %v), want (%d, true)", got, ok, want)
		}
	}
	if rx.Dropped() != 6 {
		t.Errorf("Dropped() = %d, want 6", rx.Dropped())
	}
	if tx.Seqno() != 10 {
		t.Errorf("Seqno() = %d, want 10 (drops still advance the counter)", tx.Seqno())
	}
}

func TestQueue_CapacityOne(t *testing.T) {
	tx, rx := New[string](1)
	tx.Send("a")
	tx.Send("b")
	got, ok := rx.TryRecv()
	if !ok || got != "b" {
		t.Fatalf("TryRecv() = (%q, %v), want (b, true)", got, ok)
	}
	if rx.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", rx.Dropped())
	}
}

func TestQueue_ConcurrentProducerConsumer(t *testing.T) {
	const n = 200_000
	tx, rx := New[int](64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			tx.Send(i)
		}
	}()

	last := -1
	var lastSeq uint64
	received := 0
	for {
		seq := rx.Seqno()
		if seq < lastSeq {
			t.Fatalf("Seqno() went backwards: %d after %d", seq, lastSeq)
		}
		lastSeq = seq
		v, ok := rx.TryRecv()
		if ok {
			if v <= last {
				t.Fatalf("received %d after %d: order violated", v, last)
			}
			last = v
			received++
			continue
		}
		if seq == n && rx.Pos() >= n {
			break
		}
	}
	wg.Wait()

	if last != n-1 {
		t.Errorf("last value = %d, want %d", last, n-1)
	}
	if uint64(received)+rx.Dropped() != n {
		t.Errorf("received %d + dropped %d != %d", received, rx.Dropped(), n)
	}
}
