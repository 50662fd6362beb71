package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tutu-network/dataflow/internal/app/pipeline"
	"github.com/tutu-network/dataflow/internal/daemon"
)

func init() {
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Evaluation workers (overrides config)")
	runCmd.Flags().StringVar(&runHost, "host", "", "API host (overrides config)")
	runCmd.Flags().IntVar(&runPort, "port", -1, "API port, 0 picks a free one (overrides config)")
	runCmd.Flags().BoolVar(&runNoAPI, "no-api", false, "Do not start the HTTP API")
	runCmd.Flags().BoolVar(&runNoJournal, "no-journal", false, "Do not record the run in the journal")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Cancel the run after this long (0 = no limit)")
	rootCmd.AddCommand(runCmd)
}

var (
	runWorkers   int
	runHost      string
	runPort      int
	runNoAPI     bool
	runNoJournal bool
	runTimeout   time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run PIPELINE",
	Short: "Run a pipeline until it completes or is interrupted",
	Long: `Run a pipeline definition (.yaml, .yml or .hcl). Finite pipelines exit
once every source has stopped and the rest has settled; others run until
interrupted with Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	def, err := pipeline.Load(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if runWorkers > 0 {
		cfg.Scheduler.Workers = runWorkers
	}
	if runHost != "" {
		cfg.API.Host = runHost
	}
	if runPort >= 0 {
		cfg.API.Port = runPort
	}
	if runNoAPI {
		cfg.API.Enabled = false
	}
	if runNoJournal {
		cfg.Telemetry.Journal = false
	}

	log := daemon.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize daemon: %w", err)
	}
	defer d.Close()
	d.Version = rootCmd.Version

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	res, err := d.Run(ctx, def)
	if res != nil {
		printResult(cmd, res)
	}
	return err
}

func printResult(cmd *cobra.Command, res *daemon.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Pipeline: %s\n", res.Pipeline)
	fmt.Fprintf(out, "Status:   %s\n", res.Status)
	if res.RunID != "" {
		fmt.Fprintf(out, "Run:      %s\n", res.RunID)
	}
	fmt.Fprintf(out, "Runs:     %d in %d passes\n", res.Stats.Runs, res.Stats.Passes)

	names := make([]string, 0, len(res.Collectors))
	for name := range res.Collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := res.Collectors[name]
		fmt.Fprintf(out, "\n%s: %d values\n", name, c.Total())
		for _, v := range c.Values() {
			fmt.Fprintf(out, "  %v\n", v)
		}
		for _, f := range c.Faults() {
			fmt.Fprintf(out, "  fault: %s\n", f)
		}
	}
}
