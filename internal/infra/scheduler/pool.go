package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pool drives a table with a fixed number of evaluation goroutines.
type Pool struct {
	table   *Table
	workers int
	idle    time.Duration
}

// NewPool returns a pool sized from the table's configuration.
func NewPool(t *Table) *Pool {
	cfg := t.Config()
	return &Pool{table: t, workers: cfg.Workers, idle: cfg.IdleSleep}
}

// Workers returns the number of evaluation goroutines.
func (p *Pool) Workers() int { return p.workers }

// Run evaluates the table until ctx is done or no active task remains.
// It returns ctx.Err() on cancellation and nil when the graph ran to
// completion.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < p.workers; w++ {
		w := w
		g.Go(func() error { return p.work(ctx, w) })
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context, w int) error {
	timer := time.NewTimer(p.idle)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ps := p.table.EvaluateWorker(w, p.workers, p.table.clock.NowUSec())
		if p.table.Active() == 0 {
			return nil
		}
		if !ps.Idle() {
			continue
		}
		timer.Reset(p.idle)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
