package clauselens

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagLogLevel string
	flagJSONLogs bool
	flagNoColor  bool
	flagNoCache  bool
	flagWorkers  int

	version = "0.1.0"
)

// rootCmd is the base Cobra command for the clauselens CLI.
var rootCmd = &cobra.Command{
	Use:           "clauselens",
	Short:         "Explain and risk-score smart contracts with cited evidence",
	Long:          "clauselens verifies a contract, runs static analyzers over it, explains its behaviour citing only source evidence, and scores the result as risks.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the clauselens CLI. It should be called by the main package.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (overrides local and global config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug|info|warn|error")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "emit logs as JSON")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colorized output")
	rootCmd.PersistentFlags().BoolVar(&flagNoCache, "no-cache", false, "disable the analyzer result cache")
	rootCmd.PersistentFlags().IntVar(&flagWorkers, "workers", 0, "pipeline workers (0 = config or NumCPU)")
}
