package clauselens

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/clauselens/clauselens/pkg/core"
)

var repOutput outputFlags

func init() {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the last saved run again",
		Long: `Report re-renders the run saved by the last analyze in this project
without re-running the pipeline. Cited excerpts are available when the
evidence store is persistent.`,
		Example: `  clauselens report --format json --sections summary,risks
  clauselens report --format sarif > clauselens.sarif`,
		RunE: runReport,
	}
	rootCmd.AddCommand(cmd)
	repOutput.register(cmd)
}

func runReport(cmd *cobra.Command, _ []string) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}
	res, err := core.LoadLast(root)
	if err != nil {
		return err
	}
	s, err := openSession(cmd.Context(), root, "warn")
	if err != nil {
		return err
	}
	defer s.Close()
	return repOutput.render(os.Stdout, res, s.engine.Store, 0)
}
