package clauselens

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/clauselens/clauselens/internal/ingest"
)

var (
	ingInputs inputFlags
	ingJSON   bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest [paths...]",
		Short: "Store contract sources in the evidence store",
		Long: `Ingest uploads sources, ABIs and standards documents without running an
analysis. It is useful with a persistent evidence store (evidence.db_path),
where the printed artifact ids can be submitted later through the server.`,
		Example: `  clauselens ingest ./contracts
  clauselens ingest --repo . --rev main --json`,
		RunE: runIngest,
	}
	rootCmd.AddCommand(cmd)
	ingInputs.register(cmd)
	cmd.Flags().BoolVar(&ingJSON, "json", false, "emit JSON")
}

func runIngest(cmd *cobra.Command, args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}
	s, err := openSession(cmd.Context(), root, "warn")
	if err != nil {
		return err
	}
	defer s.Close()
	if s.cfg.GetEvidence().GetDBPath() == "" {
		fmt.Fprintln(os.Stderr, "note: evidence.db_path is not set; artifacts are discarded on exit")
	}
	res, err := collect(cmd.Context(), s.engine.Store, &ingInputs, args)
	if err != nil {
		return err
	}
	if ingJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return printIngest(os.Stdout, res)
}

func printIngest(w io.Writer, res *ingest.Result) error {
	if res.Commit != "" {
		fmt.Fprintf(w, "Commit %s", shortCommit(res.Commit))
		if res.Branch != "" {
			fmt.Fprintf(w, " (%s)", res.Branch)
		}
		fmt.Fprintln(w)
	}
	table := tablewriter.NewWriter(w)
	table.Header("KIND", "NAME", "SIZE", "ID")
	for _, a := range res.Artifacts {
		if err := table.Append([]string{string(a.Kind), a.Name, strconv.Itoa(a.Size), a.ID}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	for _, sk := range res.Skipped {
		fmt.Fprintf(w, "skipped %s: %s\n", sk.Path, sk.Reason)
	}
	fmt.Fprintf(w, "%d artifact(s) stored, %d skipped\n", len(res.Artifacts), len(res.Skipped))
	return nil
}
