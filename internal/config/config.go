package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk YAML configuration shape. Every field is a
// pointer or map so an absent key can be told apart from a zero value.
type FileConfig struct {
	Log       *LogConfig       `yaml:"log"`
	Pipeline  *PipelineConfig  `yaml:"pipeline"`
	Verifier  *VerifierConfig  `yaml:"verifier"`
	Analyzers *AnalyzersConfig `yaml:"analyzers"`
	Retrieval *RetrievalConfig `yaml:"retrieval"`
	Synth     *SynthConfig     `yaml:"synth"`
	Risk      *RiskConfig      `yaml:"risk"`
	Evidence  *EvidenceConfig  `yaml:"evidence"`
	Embedding *EmbeddingConfig `yaml:"embedding"`
	Server    *ServerConfig    `yaml:"server"`
	Audit     *AuditConfig     `yaml:"audit"`
}

type LogConfig struct {
	Level *string `yaml:"level"`
	JSON  *bool   `yaml:"json"`
}

// PipelineConfig controls the orchestrator's worker pool and stage policy.
type PipelineConfig struct {
	Workers      *int    `yaml:"workers"`
	StageTimeout *string `yaml:"stage_timeout"`

	// StageTimeouts overrides StageTimeout per stage name (verify, analyze, explain, diff, report).
	StageTimeouts map[string]string `yaml:"stage_timeouts"`
	Retries       *int              `yaml:"retries"`
	BackoffBase   *string           `yaml:"backoff_base"`
	BackoffMax    *string           `yaml:"backoff_max"`
}

type VerifierConfig struct {
	MaxProxyHops *int            `yaml:"max_proxy_hops"`
	Explorer     *ExplorerConfig `yaml:"explorer"`
}

// ExplorerConfig configures the Etherscan-compatible source explorer.
type ExplorerConfig struct {
	URL       *string  `yaml:"url"`
	APIKey    *string  `yaml:"api_key"`
	RateLimit *float64 `yaml:"rate_limit"`
}

// AnalyzersConfig selects adapters and tunes external tools.
type AnalyzersConfig struct {
	Enabled   []string              `yaml:"enabled"`
	Retries   *int                  `yaml:"retries"`
	Cache     *bool                 `yaml:"cache"`
	CachePath *string               `yaml:"cache_path"`
	CacheTTL  *string               `yaml:"cache_ttl"`
	Tools     map[string]ToolConfig `yaml:"tools"`
}

// ToolConfig holds per-adapter settings.
type ToolConfig struct {
	// Binary is an explicit path; if empty $PATH and ~/.clauselens/bin are searched.
	Binary  *string           `yaml:"binary"`
	Timeout *string           `yaml:"timeout"`
	Rules   *string           `yaml:"rules"`
	Options map[string]string `yaml:"options"`
}

type RetrievalConfig struct {
	LexicalWeight *float64 `yaml:"lexical_weight"`
	VectorWeight  *float64 `yaml:"vector_weight"`
	MinScore      *float64 `yaml:"min_score"`
	Limit         *int     `yaml:"limit"`
}

// SynthConfig selects the explanation backend.
type SynthConfig struct {
	// Backend is "extractive" (offline) or "llm".
	Backend          *string  `yaml:"backend"`
	Model            *string  `yaml:"model"`
	BaseURL          *string  `yaml:"base_url"`
	APIKey           *string  `yaml:"api_key"`
	MaxRetries       *int     `yaml:"max_retries"`
	SupportThreshold *float64 `yaml:"support_threshold"`
	Concurrency      *int     `yaml:"concurrency"`
}

// RiskConfig overrides the severity table, keyed by severity name.
type RiskConfig struct {
	Severity map[string]SeverityWeights `yaml:"severity"`
}

type SeverityWeights struct {
	Probability float64 `yaml:"probability"`
	Impact      float64 `yaml:"impact"`
}

type EvidenceConfig struct {
	DBPath       *string `yaml:"db_path"`
	ChunkLines   *int    `yaml:"chunk_lines"`
	ChunkOverlap *int    `yaml:"chunk_overlap"`
}

type EmbeddingConfig struct {
	Provider   *string `yaml:"provider"`
	Model      *string `yaml:"model"`
	APIKey     *string `yaml:"api_key"`
	Dimensions *int    `yaml:"dimensions"`
}

type ServerConfig struct {
	Addr *string `yaml:"addr"`
}

type AuditConfig struct {
	Path     *string `yaml:"path"`
	Disabled *bool   `yaml:"disabled"`
}

// LoadFile reads a YAML config file from the provided path.
func LoadFile(path string) (FileConfig, error) {
	var cfg FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadLocal searches for a project-local config file in the given root.
// It supports .clauselens.yml/.yaml and clauselens.yml/.yaml.
func LoadLocal(root string) (FileConfig, error) {
	var cfg FileConfig
	for _, name := range []string{".clauselens.yml", ".clauselens.yaml", "clauselens.yml", "clauselens.yaml"} {
		p := filepath.Join(root, name)
		if _, err := os.Stat(p); err == nil {
			return LoadFile(p)
		}
	}
	return cfg, errors.New("no local config")
}

// LoadGlobal loads the global config file from XDG base directory or ~/.config.
func LoadGlobal() (FileConfig, error) {
	var cfg FileConfig
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			base = filepath.Join(home, ".config")
		}
	}
	if base == "" {
		return cfg, errors.New("no config dir")
	}
	p := filepath.Join(base, "clauselens", "config.yml")
	if _, err := os.Stat(p); err == nil {
		return LoadFile(p)
	}
	return cfg, errors.New("no global config")
}

// Merge overlays over on base section by section: a section present in
// over replaces the one in base.
func Merge(base, over FileConfig) FileConfig {
	out := base
	if over.Log != nil {
		out.Log = over.Log
	}
	if over.Pipeline != nil {
		out.Pipeline = over.Pipeline
	}
	if over.Verifier != nil {
		out.Verifier = over.Verifier
	}
	if over.Analyzers != nil {
		out.Analyzers = over.Analyzers
	}
	if over.Retrieval != nil {
		out.Retrieval = over.Retrieval
	}
	if over.Synth != nil {
		out.Synth = over.Synth
	}
	if over.Risk != nil {
		out.Risk = over.Risk
	}
	if over.Evidence != nil {
		out.Evidence = over.Evidence
	}
	if over.Embedding != nil {
		out.Embedding = over.Embedding
	}
	if over.Server != nil {
		out.Server = over.Server
	}
	if over.Audit != nil {
		out.Audit = over.Audit
	}
	return out
}

// Load resolves the effective configuration for root: global, then local,
// then environment. Missing files are not an error; malformed ones are.
func Load(root string) (FileConfig, error) {
	var cfg FileConfig
	if g, err := LoadGlobal(); err == nil {
		cfg = g
	} else if !isAbsent(err) {
		return cfg, err
	}
	if l, err := LoadLocal(root); err == nil {
		cfg = Merge(cfg, l)
	} else if !isAbsent(err) {
		return cfg, err
	}
	LoadDotEnv(filepath.Join(root, ".env"))
	ApplyEnv(&cfg)
	return cfg, nil
}

func isAbsent(err error) bool {
	switch err.Error() {
	case "no local config", "no global config", "no config dir":
		return true
	}
	return errors.Is(err, os.ErrNotExist)
}

func str(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func num[T int | float64](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func dur(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
