package clauselens

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/pipeline"
	"github.com/clauselens/clauselens/internal/report"
	"github.com/clauselens/clauselens/internal/types"
	"github.com/clauselens/clauselens/pkg/core"
)

var (
	anInputs     inputFlags
	anOutput     outputFlags
	anChain      string
	anAddress    string
	anName       string
	anVersion    string
	anAnalyzers  string
	anExplain    string
	anQuestions  []string
	anDiffLast   bool
	anFailOn     string
	anBaseline   string
	anNoSave     bool
	anNoProgress bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "analyze [paths...]",
		Short: "Analyze a deployed contract or local sources",
		Long: `Analyze runs the full pipeline: verify, analyze, explain, aggregate and
optionally diff against the previous run. With --address the sources come
from the configured explorer; otherwise the given files and directories
(default ".") or a git revision (--repo/--rev) are uploaded.`,
		Example: `  clauselens analyze ./src
  clauselens analyze --repo . --rev v1.2.0 --diff-last
  clauselens analyze --chain 1 --address 0xA0b8...eB48 --format json`,
		RunE: runAnalyze,
	}
	rootCmd.AddCommand(cmd)

	anInputs.register(cmd)
	anOutput.register(cmd)
	cmd.Flags().StringVar(&anChain, "chain", "1", "chain id for --address")
	cmd.Flags().StringVar(&anAddress, "address", "", "deployed contract address")
	cmd.Flags().StringVar(&anName, "name", "", "contract name for uploaded sources (default derived from the inputs)")
	cmd.Flags().StringVar(&anVersion, "contract-version", "", "version label (default the git commit)")
	cmd.Flags().StringVar(&anAnalyzers, "analyzers", "", "comma-separated adapters to run (default analyzers.enabled or all)")
	cmd.Flags().StringVar(&anExplain, "explain", "", "comma-separated explain modes: eli5, engineer, auditor (default engineer)")
	cmd.Flags().StringArrayVarP(&anQuestions, "question", "q", nil, "free-text question to answer from the evidence (repeatable)")
	cmd.Flags().BoolVar(&anDiffLast, "diff-last", false, "diff against the last saved run of this project")
	cmd.Flags().StringVar(&anFailOn, "fail-on", "high", "exit 1 when a finding is at least this severe: info|low|medium|high|critical")
	cmd.Flags().StringVar(&anBaseline, "baseline", "clauselens.baseline.json", "hide findings accepted in this baseline file")
	cmd.Flags().BoolVar(&anNoSave, "no-save", false, "do not save the run for report and --diff-last")
	cmd.Flags().BoolVar(&anNoProgress, "no-progress", false, "do not print stage progress to stderr")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := os.Getwd()
	if err != nil {
		return err
	}
	if anInputs.repo != "" {
		root = anInputs.repo
	}
	s, err := openSession(ctx, root, "warn")
	if err != nil {
		return err
	}
	defer s.Close()
	eng := s.engine

	ref := core.Ref{ChainID: anChain, Address: anAddress, Name: anName, Version: anVersion}
	if anAddress == "" {
		ref.ChainID = ""
		res, err := collect(ctx, eng.Store, &anInputs, args)
		if err != nil {
			return err
		}
		if len(res.Artifacts) == 0 {
			return fmt.Errorf("no contract sources found (include globs: %v)", anInputs.options().Include)
		}
		for _, sk := range res.Skipped {
			s.log.Warn("skipped input", zap.String("path", sk.Path), zap.String("reason", sk.Reason))
		}
		ref.ArtifactIDs = res.IDs()
		if ref.Name == "" {
			ref.Name = defaultName(&anInputs, args, res)
		}
		if ref.Version == "" {
			ref.Version = shortCommit(res.Commit)
		}
	} else if len(args) > 0 || anInputs.repo != "" {
		return fmt.Errorf("--address cannot be combined with local sources")
	}

	opts := core.Options{Analyzers: splitList(anAnalyzers), Questions: anQuestions}
	for _, m := range splitList(anExplain) {
		opts.ExplainModes = append(opts.ExplainModes, types.ExplainMode(m))
	}
	if anDiffLast {
		id, err := eng.ImportLast(root)
		if err != nil {
			fmt.Fprintln(os.Stderr, "no previous run to diff against; skipping diff")
		} else {
			opts.IncludeDiffAgainst = id
		}
	}

	start := time.Now()
	id, err := eng.Submit(ctx, ref, opts)
	if err != nil {
		return err
	}
	progress := closedChan()
	if !anNoProgress && anOutput.human() {
		progress = followProgress(ctx, eng, id, os.Stderr)
	}
	if _, err := eng.Wait(ctx, id); err != nil {
		_ = eng.Cancel(id)
		return fmt.Errorf("run %s interrupted: %w", id, err)
	}
	<-progress
	res, err := eng.Results(id)
	if err != nil {
		return err
	}
	if !anNoSave {
		if err := core.SaveLast(root, res); err != nil {
			s.log.Warn("could not save run", zap.Error(err))
		}
	}

	if base, err := report.LoadBaseline(anBaseline); err == nil {
		res.Findings = report.FilterNewFindings(res.Findings, base)
	}
	if err := anOutput.render(os.Stdout, res, eng.Store, time.Since(start)); err != nil {
		return err
	}
	if res.Error != nil {
		return res.Error
	}
	if report.ShouldFail(res.Findings, anFailOn) {
		os.Exit(1)
	}
	return nil
}

func closedChan() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

// followProgress prints stage transitions until the run's event log closes.
func followProgress(ctx context.Context, eng *core.Engine, runID string, w io.Writer) <-chan struct{} {
	ch, err := eng.Subscribe(ctx, runID, 0)
	if err != nil {
		return closedChan()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		claims := 0
		for ev := range ch {
			switch ev.Type {
			case pipeline.EventStageEntered:
				fmt.Fprintf(w, "→ %s\n", ev.Stage)
			case pipeline.EventClaimProduced:
				claims++
			case pipeline.EventStageFailed:
				fmt.Fprintf(w, "✗ %s: %v\n", ev.Stage, ev.Payload["error"])
			case pipeline.EventStageCompleted:
				if ev.Stage == pipeline.StateExplained && claims > 0 {
					fmt.Fprintf(w, "  %d claims\n", claims)
				}
			}
		}
	}()
	return done
}
