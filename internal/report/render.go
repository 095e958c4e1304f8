package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/clauselens/clauselens/internal/types"
)

type PrintOptions struct {
	NoColor bool
	// Highlight syntax-colours cited evidence excerpts. Ignored with NoColor.
	Highlight bool
	Duration  time.Duration
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintText writes a line-oriented rendering of the report.
func PrintText(w io.Writer, r *Report, opts PrintOptions) {
	printHeader(w, r, opts)
	if r.Has(SectionFindings) {
		if len(r.Findings) == 0 {
			fmt.Fprintln(w, "No findings ✅")
		} else {
			maxRule := 8
			for _, f := range r.Findings {
				if l := len(f.RuleID); l > maxRule {
					maxRule = l
				}
			}
			fmt.Fprintf(w, "Findings: %d\n", len(r.Findings))
			for _, f := range r.Findings {
				sev := fmt.Sprintf("%-13s", f.Severity)
				if !opts.NoColor {
					sev = colorSeverity(f.Severity) + strings.Repeat(" ", max(13-len(f.Severity), 0))
				}
				fmt.Fprintf(w, "%s %-*s %s  %s\n", sev, maxRule, f.RuleID, location(f.Location), f.Title)
			}
		}
	}
	if r.Has(SectionRisks) && len(r.Risks) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Risks: %d\n", len(r.Risks))
		for _, k := range r.Risks {
			fmt.Fprintf(w, "%.4f %-13s %-14s %s\n", k.Score, k.Severity, k.Category, k.Title)
		}
	}
	printClaims(w, r, opts)
	printPrivileges(w, r)
	printDiff(w, r)
	printFooter(w, r, opts)
}

// PrintTable renders findings and risks as bordered tables and the rest of
// the report as text.
func PrintTable(w io.Writer, r *Report, opts PrintOptions) error {
	printHeader(w, r, opts)
	if r.Has(SectionFindings) {
		if len(r.Findings) == 0 {
			fmt.Fprintln(w, "No findings ✅")
		} else {
			table := tablewriter.NewWriter(w)
			table.Header("SEVERITY", "TOOL", "RULE", "LOCATION", "TITLE")
			for _, f := range r.Findings {
				sev := string(f.Severity)
				if !opts.NoColor {
					sev = colorSeverity(f.Severity)
				}
				if err := table.Append([]string{sev, f.Tool, f.RuleID, location(f.Location), f.Title}); err != nil {
					return err
				}
			}
			if err := table.Render(); err != nil {
				return err
			}
		}
	}
	if r.Has(SectionRisks) && len(r.Risks) > 0 {
		fmt.Fprintln(w)
		table := tablewriter.NewWriter(w)
		table.Header("SCORE", "SEVERITY", "CATEGORY", "TITLE", "SOURCES")
		for _, k := range r.Risks {
			sev := string(k.Severity)
			if !opts.NoColor {
				sev = colorSeverity(k.Severity)
			}
			row := []string{fmt.Sprintf("%.4f", k.Score), sev, string(k.Category), k.Title, fmt.Sprint(len(k.Sources))}
			if err := table.Append(row); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}
	printClaims(w, r, opts)
	printPrivileges(w, r)
	printDiff(w, r)
	printFooter(w, r, opts)
	return nil
}

func printHeader(w io.Writer, r *Report, opts PrintOptions) {
	title := fmt.Sprintf("Run %s (%s)", r.RunID, r.State)
	fmt.Fprintln(w, paint(headingStyle, title, opts.NoColor))
	if c := r.Contract; c != nil {
		fmt.Fprintf(w, "Contract: %s [%s]", c.Name, c.VerificationStatus)
		if c.ProxyKind != "" {
			fmt.Fprintf(w, " %s proxy -> %s", c.ProxyKind, c.Implementation)
		}
		fmt.Fprintln(w)
		if c.VerificationNote != "" {
			fmt.Fprintln(w, paint(caveatStyle, "Note: "+c.VerificationNote, opts.NoColor))
		}
	}
	if r.Failure != nil {
		fmt.Fprintln(w, paint(sevHighStyle, "Failed: "+r.Failure.Error(), opts.NoColor))
	}
	fmt.Fprintln(w)
}

func printClaims(w io.Writer, r *Report, opts PrintOptions) {
	if !r.Has(SectionClaims) || len(r.Claims) == 0 {
		return
	}
	spans := map[string]types.EvidenceSpan{}
	for _, sp := range r.Evidence {
		spans[sp.ID] = sp
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Claims: %d\n", len(r.Claims))
	for _, c := range r.Claims {
		if c.Refused() {
			msg := "REFUSED: " + c.Refusal.Reason
			if c.Refusal.Detail != "" {
				msg += " (" + c.Refusal.Detail + ")"
			}
			fmt.Fprintf(w, "[%s] %s: %s\n", c.Mode, c.Topic, paint(refusedStyle, msg, opts.NoColor))
			continue
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", c.Mode, c.Topic, c.Text())
		for _, cv := range c.Caveats {
			fmt.Fprintf(w, "    ! %s\n", paint(caveatStyle, cv, opts.NoColor))
		}
		for _, id := range c.Citations {
			sp, ok := spans[id]
			if !ok {
				fmt.Fprintf(w, "    cites %s\n", id)
				continue
			}
			fmt.Fprintf(w, "    cites %s:%d-%d\n", sp.Path, sp.StartLine, sp.EndLine)
			if opts.Highlight && !opts.NoColor {
				for _, line := range strings.Split(highlightCode(sp.Text, sp.Path), "\n") {
					fmt.Fprintf(w, "      %s\n", line)
				}
			}
		}
	}
}

func printPrivileges(w io.Writer, r *Report) {
	if !r.Has(SectionPrivileges) || len(r.Privileges) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Privileges:")
	for _, p := range r.Privileges {
		fmt.Fprintf(w, "  %s: %s\n", p.Role, strings.Join(p.Symbols, ", "))
	}
}

func printDiff(w io.Writer, r *Report) {
	d := r.Diff
	if !r.Has(SectionDiff) || d == nil {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Diff against %s:\n", d.BaseRunID)
	for _, s := range d.AddedSymbols {
		fmt.Fprintf(w, "  + %s\n", s.Signature)
	}
	for _, s := range d.RemovedSymbols {
		fmt.Fprintf(w, "  - %s\n", s.Signature)
	}
	for _, c := range d.ModifiedSymbols {
		fmt.Fprintf(w, "  ~ %s (%s)\n", c.Signature, strings.Join(c.Fields, ", "))
	}
	if d.Incompatible {
		fmt.Fprintln(w, "  storage layout is incompatible")
	}
	fmt.Fprintf(w, "  risks: %d new, %d resolved, %d modified\n", len(d.NewRisks), len(d.ResolvedRisks), len(d.ModifiedRisks))
}

func printFooter(w io.Writer, r *Report, opts PrintOptions) {
	if !r.Has(SectionSummary) && opts.Duration <= 0 {
		return
	}
	fmt.Fprintln(w)
	if s := r.Summary; r.Has(SectionSummary) && s != nil {
		fmt.Fprintln(w, s.Text)
		fmt.Fprintf(w, "Overall risk score: %.4f\n", s.OverallScore)
	}
	if opts.Duration > 0 {
		fmt.Fprintf(w, "Analysis duration: %.2fs\n", opts.Duration.Seconds())
	}
}

func location(l types.Location) string {
	switch {
	case l.Path == "":
		return "-"
	case l.StartLine == 0:
		return l.Path
	default:
		return fmt.Sprintf("%s:%d", l.Path, l.StartLine)
	}
}
