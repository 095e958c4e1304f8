package clauselens

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/clauselens/clauselens/internal/analyzer/builtin"
	"github.com/clauselens/clauselens/internal/analyzer/factory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "adapters",
		Short: "List analyzer adapters and whether their tools are installed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, _ := os.Getwd()
			fc, err := loadConfig(root)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.Header("ADAPTER", "STATUS", "VERSION", "BINARY")
			if err := table.Append([]string{builtin.Name, "built in", version, "-"}); err != nil {
				return err
			}
			for _, t := range factory.Tools(cmd.Context(), fc.GetAnalyzers()) {
				status, bin := "missing", "-"
				if t.Found {
					status, bin = "found", t.Binary
				}
				if err := table.Append([]string{t.Name, status, t.Version, bin}); err != nil {
					return err
				}
			}
			if err := table.Render(); err != nil {
				return err
			}
			if enabled := fc.GetAnalyzers().Enabled; len(enabled) > 0 {
				fmt.Printf("enabled by config: %v\n", enabled)
			}
			return nil
		},
	}
	rootCmd.AddCommand(cmd)
}
