package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tutu-network/dataflow/internal/daemon"
	"github.com/tutu-network/dataflow/internal/infra/sqlite"
)

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list (0 = all)")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 100, "Maximum events to print (0 = all)")
	rootCmd.AddCommand(runsCmd, eventsCmd)
}

var (
	runsLimit   int
	eventsLimit int
)

var runsCmd = &cobra.Command{
	Use:     "runs",
	Aliases: []string{"ls"},
	Short:   "List recorded pipeline runs",
	Args:    cobra.NoArgs,
	RunE:    runRuns,
}

var eventsCmd = &cobra.Command{
	Use:   "events RUN_ID",
	Short: "Print the journaled scheduler events of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

func openJournal() (*sqlite.DB, error) {
	return sqlite.Open(daemon.Home())
}

func runRuns(cmd *cobra.Command, args []string) error {
	db, err := openJournal()
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.Runs(runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded. Run 'dataflow run <pipeline>' to get started.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPIPELINE\tTASKS\tSTATUS\tSTARTED\tDURATION")
	for _, r := range runs {
		dur := "-"
		if !r.FinishedAt.IsZero() {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID,
			r.Pipeline,
			r.Tasks,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			dur,
		)
	}
	return w.Flush()
}

func runEvents(cmd *cobra.Command, args []string) error {
	db, err := openJournal()
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := db.GetRun(args[0])
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", args[0])
	}
	events, err := db.Events(run.ID, eventsLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tAT(us)\tTASK\tKIND\tDETAIL")
	for _, e := range events {
		detail := ""
		switch {
		case e.Channel != nil:
			detail = fmt.Sprintf("%s seqno=%d", e.Channel, e.Seqno)
		case e.From != "" || e.To != "":
			detail = fmt.Sprintf("%s --%s--> %s", e.From, e.Event, e.To)
		}
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\n", e.Seq, e.At, e.TaskID, e.Kind, detail)
	}
	return w.Flush()
}
