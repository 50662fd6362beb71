package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/tutu-network/dataflow/internal/app/graph"
	"github.com/tutu-network/dataflow/internal/app/pipeline"
	"github.com/tutu-network/dataflow/internal/infra/scheduler"
)

func init() {
	graphCmd.Flags().StringVar(&graphFormat, "format", "dot", "Output format: dot or json")
	rootCmd.AddCommand(graphCmd, validateCmd, kindsCmd)
}

var graphFormat string

var graphCmd = &cobra.Command{
	Use:   "graph PIPELINE",
	Short: "Build a pipeline without running it and print its graph",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraph,
}

var validateCmd = &cobra.Command{
	Use:   "validate PIPELINE...",
	Short: "Check that pipeline definitions load and connect",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List the available element kinds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, k := range pipeline.Kinds() {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	},
}

// buildOffline loads and builds path into a fresh table that is never
// evaluated.
func buildOffline(path string) (*pipeline.Built, error) {
	def, err := pipeline.Load(path)
	if err != nil {
		return nil, err
	}
	tbl := scheduler.NewTable(scheduler.Config{Capacity: len(def.Elements)}, nil, nil)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return pipeline.Build(def, graph.New(tbl), pipeline.WithLogger(quiet))
}

func runGraph(cmd *cobra.Command, args []string) error {
	b, err := buildOffline(args[0])
	if err != nil {
		return err
	}
	defer b.Graph.Table().Close()

	out := cmd.OutOrStdout()
	switch graphFormat {
	case "dot":
		_, err = io.WriteString(out, b.Graph.DOT(b.Name))
		return err
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(b.Graph.Snapshot())
	default:
		return fmt.Errorf("unknown format %q (want dot or json)", graphFormat)
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	failed := 0
	for _, path := range args {
		b, err := buildOffline(path)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d elements)\n", path, len(b.Slots))
		b.Graph.Table().Close()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d definitions invalid", failed, len(args))
	}
	return nil
}
