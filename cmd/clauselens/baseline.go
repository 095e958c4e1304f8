package clauselens

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clauselens/clauselens/internal/report"
	"github.com/clauselens/clauselens/pkg/core"
)

func init() {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Manage baselines",
	}

	var path string
	update := &cobra.Command{
		Use:   "update",
		Short: "Accept every finding of the last saved run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, _ := os.Getwd()
			res, err := core.LoadLast(root)
			if err != nil {
				return fmt.Errorf("no saved run; run clauselens analyze first: %w", err)
			}
			if err := report.SaveBaseline(path, res.Findings); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "Baseline updated.")
			return nil
		},
	}
	update.Flags().StringVar(&path, "path", "clauselens.baseline.json", "baseline file")

	rootCmd.AddCommand(cmd)
	cmd.AddCommand(update)
}
