package clauselens

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clauselens/clauselens/internal/analyzer/builtin"
	"github.com/clauselens/clauselens/internal/config"
)

var (
	cfgOutput    string
	cfgBackend   string
	cfgAnalyzers string
	cfgDBPath    string
	cfgWorkers   int
	cfgForce     bool
)

func init() {
	cfgCmd := &cobra.Command{Use: "config", Short: "Configuration helpers"}
	rootCmd.AddCommand(cfgCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a .clauselens.yml with the selected analyzers and backend",
		RunE:  runConfigInit,
	}
	cfgCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&cfgOutput, "output", ".clauselens.yml", "output file path")
	initCmd.Flags().StringVar(&cfgBackend, "synth", "extractive", "explanation backend: extractive | llm")
	initCmd.Flags().StringVar(&cfgAnalyzers, "analyzers", builtin.Name, "comma-separated analyzers to enable")
	initCmd.Flags().StringVar(&cfgDBPath, "db-path", "", "persist evidence in this SQLite file")
	initCmd.Flags().IntVar(&cfgWorkers, "workers", 0, "pipeline workers (0=NumCPU)")
	initCmd.Flags().BoolVar(&cfgForce, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(_ *cobra.Command, _ []string) error {
			root, _ := os.Getwd()
			fc, err := loadConfig(root)
			if err != nil {
				return err
			}
			b, err := yaml.Marshal(masked(fc))
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(b)
			return err
		},
	}
	cfgCmd.AddCommand(showCmd)
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	if cfgBackend != "extractive" && cfgBackend != "llm" {
		return fmt.Errorf("unsupported synth backend: %s (use 'extractive' or 'llm')", cfgBackend)
	}
	if _, err := os.Stat(cfgOutput); err == nil && !cfgForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", cfgOutput)
	}
	fc := config.FileConfig{
		Pipeline:  &config.PipelineConfig{Workers: intPtr(cfgWorkers)},
		Analyzers: &config.AnalyzersConfig{Enabled: splitList(cfgAnalyzers)},
		Synth:     &config.SynthConfig{Backend: strPtr(cfgBackend)},
	}
	if cfgDBPath != "" {
		fc.Evidence = &config.EvidenceConfig{DBPath: strPtr(cfgDBPath)}
	}
	b, err := yaml.Marshal(&fc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfgOutput, b, 0644); err != nil {
		return err
	}
	fmt.Println("Wrote", cfgOutput)
	return nil
}

// masked returns a copy of fc with API keys replaced.
func masked(fc config.FileConfig) config.FileConfig {
	hide := func(p *string) *string {
		if p == nil || *p == "" {
			return p
		}
		return strPtr("****")
	}
	if fc.Verifier != nil && fc.Verifier.Explorer != nil {
		v, e := *fc.Verifier, *fc.Verifier.Explorer
		e.APIKey = hide(e.APIKey)
		v.Explorer = &e
		fc.Verifier = &v
	}
	if fc.Synth != nil {
		s := *fc.Synth
		s.APIKey = hide(s.APIKey)
		fc.Synth = &s
	}
	if fc.Embedding != nil {
		e := *fc.Embedding
		e.APIKey = hide(e.APIKey)
		fc.Embedding = &e
	}
	return fc
}

func strPtr(s string) *string { return &s }
func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
