// Package cli implements the dataflow command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tutu-network/dataflow/internal/daemon"
)

var rootCmd = &cobra.Command{
	Use:   "dataflow",
	Short: "dataflow runs declarative pipelines on a lock-free task table",
	Long: `dataflow builds pipelines of sources, filters, gathers and merges from
YAML or HCL definitions and evaluates them on a fixed pool of workers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var logLevel string

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies persistent flag overrides.
func loadConfig() (daemon.Config, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}
