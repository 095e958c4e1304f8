package clauselens

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/clauselens/clauselens/internal/report"
	"github.com/clauselens/clauselens/pkg/core"
)

// outputFlags choose how a run is rendered.
type outputFlags struct {
	format    string
	sections  string
	highlight bool
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.format, "format", "f", "table", "output format: table|text|json|sarif")
	cmd.Flags().StringVar(&o.sections, "sections", "", "comma-separated report sections (default all): summary,findings,claims,risks,privileges,diff,diagrams")
	cmd.Flags().BoolVar(&o.highlight, "highlight", false, "syntax-highlight cited source excerpts")
}

// human reports whether the output is meant for a terminal rather than a
// machine, so progress may go to stderr.
func (o *outputFlags) human() bool {
	return o.format == "table" || o.format == "text"
}

func (o *outputFlags) render(w io.Writer, res core.Results, spans report.SpanSource, took time.Duration) error {
	if o.format == "sarif" {
		return report.WriteSARIF(w, res.RunID, res.Findings)
	}
	sections, err := report.ParseSections(splitList(o.sections))
	if err != nil {
		return err
	}
	rep, err := report.Compose(res, sections, report.Options{Spans: spans})
	if err != nil {
		return err
	}
	popts := report.PrintOptions{NoColor: noColor(), Highlight: o.highlight, Duration: took}
	switch o.format {
	case "json":
		return report.WriteJSON(w, rep)
	case "text":
		report.PrintText(w, rep, popts)
		return nil
	case "table":
		return report.PrintTable(w, rep, popts)
	default:
		return fmt.Errorf("unknown format %q (use table, text, json or sarif)", o.format)
	}
}
