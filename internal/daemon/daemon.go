package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tutu-network/dataflow/internal/api"
	"github.com/tutu-network/dataflow/internal/app/graph"
	"github.com/tutu-network/dataflow/internal/app/pipeline"
	"github.com/tutu-network/dataflow/internal/domain"
	"github.com/tutu-network/dataflow/internal/health"
	"github.com/tutu-network/dataflow/internal/infra/metrics"
	"github.com/tutu-network/dataflow/internal/infra/scheduler"
	"github.com/tutu-network/dataflow/internal/infra/sqlite"
	"github.com/tutu-network/dataflow/internal/infra/telemetry"
)

// Daemon runs pipelines with the configured telemetry and API.
type Daemon struct {
	Config  Config
	Log     *slog.Logger
	DB      *sqlite.DB // nil when the journal is disabled
	Version string
}

// Result summarizes one pipeline run.
type Result struct {
	RunID      string
	Pipeline   string
	Status     string
	Addr       string // API listen address, empty when disabled
	Stats      scheduler.Stats
	Collectors map[string]*pipeline.Collector
	Graph      *graph.Graph
}

var (
	errSettled    = errors.New("pipeline settled")
	errAllStopped = errors.New("all tasks stopped")
)

// New creates a daemon, opening the journal database under Home when the
// journal is enabled.
func New(cfg Config, log *slog.Logger) (*Daemon, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &Daemon{Config: cfg, Log: log, Version: "dev"}
	if cfg.Telemetry.Journal {
		db, err := sqlite.Open(dataflowHome())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		d.DB = db
	}
	return d, nil
}

// Close releases daemon resources.
func (d *Daemon) Close() {
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

type runHooks struct {
	onListen func(addr string) // called with the bound API address
}

// Run builds def and evaluates it until it completes, ctx is cancelled, or
// a component fails. A pipeline completes when every task stopped, or when
// its sources stopped and the rest has settled.
func (d *Daemon) Run(ctx context.Context, def *pipeline.Definition) (*Result, error) {
	return d.run(ctx, def, runHooks{})
}

func (d *Daemon) run(ctx context.Context, def *pipeline.Definition, hooks runHooks) (*Result, error) {
	cfg := d.Config
	log := d.Log.With("pipeline", def.Name)
	res := &Result{Pipeline: def.Name, Status: sqlite.RunRunning}

	// ─── Telemetry ──────────────────────────────────────────────────────

	var journal *sqlite.Journal
	if d.DB != nil {
		id, err := d.DB.StartRun(def.Name, len(def.Elements))
		if err != nil {
			return nil, fmt.Errorf("start run: %w", err)
		}
		res.RunID = id
		journal = sqlite.NewJournal(d.DB, id, cfg.Telemetry.EventsBuffer, d.Log)
		log = log.With("run", id)
	}
	recorder := telemetry.NewRecorder(cfg.Telemetry.RecorderSize)
	observers := []domain.Observer{recorder.Observer()}
	if cfg.Telemetry.Prometheus {
		capacity := cfg.Scheduler.Capacity
		if capacity <= 0 {
			capacity = scheduler.DefaultConfig().Capacity
		}
		observers = append(observers, metrics.NewObserver(capacity))
	}
	if journal != nil {
		observers = append(observers, journal.Observer())
	}
	if cfg.Telemetry.LogEvents {
		observers = append(observers, telemetry.NewLogObserver(d.Log))
	}

	// ─── Graph ──────────────────────────────────────────────────────────

	tbl := scheduler.NewTable(cfg.Scheduler.Table(), telemetry.Multi(observers...), nil)
	defer tbl.Close()
	g := graph.New(tbl)
	res.Graph = g

	built, err := pipeline.Build(def, g, pipeline.WithLogger(log))
	if err != nil {
		d.finish(res, journal, sqlite.RunFailed, err)
		return res, err
	}
	res.Collectors = built.Collectors
	metrics.TasksActive.Set(float64(tbl.Active()))

	checker := health.NewChecker(parseDuration(cfg.Health.Interval, health.DefaultInterval),
		health.SchedulerCheck(tbl),
		health.DirCheck("data_dir", dataflowHome()),
	)
	if d.DB != nil {
		checker.Add(health.SQLiteCheck(d.DB))
		checker.Add(health.JournalCheck(journal))
	}

	// ─── Run ────────────────────────────────────────────────────────────

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	grp, gctx := errgroup.WithContext(runCtx)

	pool := scheduler.NewPool(tbl)
	grp.Go(func() error {
		err := pool.Run(gctx)
		if err == nil {
			cancel(errAllStopped)
			return nil
		}
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	grp.Go(func() error {
		d.watchSettled(gctx, built, parseDuration(cfg.Scheduler.SettleCheck, 50*time.Millisecond), cancel)
		return nil
	})
	grp.Go(func() error {
		checker.Run(gctx)
		return nil
	})

	if cfg.API.Enabled {
		srv := api.NewServer(g, d.Version)
		srv.SetRecorder(recorder)
		srv.SetChecker(checker)
		if d.DB != nil {
			srv.SetJournal(d.DB)
		}
		if cfg.Telemetry.Prometheus {
			srv.EnableMetrics()
		}
		ln, err := net.Listen("tcp", cfg.API.Addr())
		if err != nil {
			cancel(err)
			_ = grp.Wait()
			d.finish(res, journal, sqlite.RunFailed, err)
			return res, fmt.Errorf("listen: %w", err)
		}
		res.Addr = ln.Addr().String()
		httpServer := &http.Server{
			Handler:      srv.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  2 * time.Minute,
		}
		grp.Go(func() error {
			if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
		grp.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return httpServer.Shutdown(shutdownCtx)
		})
		log.Info("api listening", "addr", res.Addr)
		if hooks.onListen != nil {
			hooks.onListen(res.Addr)
		}
	}

	log.Info("pipeline started", "tasks", g.Len(), "workers", pool.Workers())
	waitErr := grp.Wait()
	res.Stats = tbl.Stats()
	metrics.TasksActive.Set(0)

	cause := context.Cause(runCtx)
	switch {
	case waitErr != nil:
		d.finish(res, journal, sqlite.RunFailed, waitErr)
		return res, waitErr
	case errors.Is(cause, errSettled), errors.Is(cause, errAllStopped):
		d.finish(res, journal, sqlite.RunCompleted, nil)
	default:
		d.finish(res, journal, sqlite.RunCancelled, nil)
	}
	log.Info("pipeline finished", "status", res.Status, "runs", res.Stats.Runs, "passes", res.Stats.Passes)
	return res, nil
}

// watchSettled cancels the run once the pipeline reports settled with an
// unchanged execution count on two consecutive checks.
func (d *Daemon) watchSettled(ctx context.Context, b *pipeline.Built, every time.Duration, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var last uint64
	armed := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		settled, runs := b.Settled()
		if settled && armed && runs == last {
			cancel(errSettled)
			return
		}
		armed, last = settled, runs
	}
}

// finish closes the journal, then records the final status.
func (d *Daemon) finish(res *Result, journal *sqlite.Journal, status string, cause error) {
	res.Status = status
	if journal != nil {
		if err := journal.Close(); err != nil {
			d.Log.Warn("journal close failed", "error", err)
		}
	}
	if d.DB == nil || res.RunID == "" {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := d.DB.FinishRun(res.RunID, status, msg); err != nil {
		d.Log.Warn("finish run failed", "run", res.RunID, "error", err)
	}
}
