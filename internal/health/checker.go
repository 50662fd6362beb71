// Package health runs periodic checks over the runtime's components and
// publishes the results as metrics and through the API.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tutu-network/dataflow/internal/infra/metrics"
	"github.com/tutu-network/dataflow/internal/infra/scheduler"
	"github.com/tutu-network/dataflow/internal/infra/sqlite"
)

// DefaultInterval is the check period used when none is given.
const DefaultInterval = 30 * time.Second

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a checker running checks every interval.
func NewChecker(interval time.Duration, checks ...Check) *Checker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Checker{interval: interval, checks: checks}
}

// Add appends a check. It must be called before Run.
func (c *Checker) Add(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check once and records the results.
func (c *Checker) RunOnce(ctx context.Context) {
	c.mu.RLock()
	checks := append([]Check(nil), c.checks...)
	c.mu.RUnlock()

	statuses := make([]Status, len(checks))
	for i, check := range checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
			if check.RecoverFn != nil {
				metrics.HealthRecoveries.WithLabelValues(check.Name).Inc()
				_ = check.RecoverFn(ctx)
			}
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

var (
	ErrTableClosed  = errors.New("task table closed")
	ErrStalled      = errors.New("no evaluation pass since last check")
	ErrEventsLost   = errors.New("journal dropped events")
	ErrNotDirectory = errors.New("not a directory")
)

// SQLiteCheck pings the journal database.
func SQLiteCheck(db *sqlite.DB) Check {
	return Check{
		Name:    "sqlite",
		CheckFn: func(ctx context.Context) error { return db.Ping() },
	}
}

// SchedulerCheck fails when the table is closed, or when live tasks exist
// but no evaluation pass completed since the previous check.
func SchedulerCheck(t *scheduler.Table) Check {
	var (
		mu     sync.Mutex
		passes uint64
		seen   bool
	)
	return Check{
		Name: "scheduler",
		CheckFn: func(ctx context.Context) error {
			if t.Closed() {
				return ErrTableClosed
			}
			st := t.Stats()
			mu.Lock()
			defer mu.Unlock()
			stalled := seen && st.Active > 0 && st.Passes == passes
			passes, seen = st.Passes, true
			if stalled {
				return fmt.Errorf("%w (%d active tasks)", ErrStalled, st.Active)
			}
			return nil
		},
	}
}

// JournalCheck fails when the journal dropped events since the previous
// check.
func JournalCheck(j *sqlite.Journal) Check {
	var (
		mu      sync.Mutex
		dropped uint64
	)
	return Check{
		Name: "journal",
		CheckFn: func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			now := j.Dropped()
			lost := now - dropped
			dropped = now
			if lost > 0 {
				return fmt.Errorf("%w: %d since last check", ErrEventsLost, lost)
			}
			return nil
		},
	}
}

// DirCheck verifies that dir is a directory. A missing directory is
// recreated by the recovery action.
func DirCheck(name, dir string) Check {
	return Check{
		Name:    name,
		CheckFn: func(ctx context.Context) error { return checkDir(dir) },
		RecoverFn: func(ctx context.Context) error {
			return os.MkdirAll(dir, 0o755)
		},
	}
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", dir, ErrNotDirectory)
	}
	return nil
}
