package config

import (
	"runtime"
	"time"
)

// Defaults applied by the getters when a key is absent.
const (
	DefaultStageTimeout     = 15 * time.Minute
	DefaultStageRetries     = 2
	DefaultBackoffBase      = 500 * time.Millisecond
	DefaultBackoffMax       = 30 * time.Second
	DefaultMaxProxyHops     = 8
	DefaultAnalyzerRetries  = 1
	DefaultCacheTTL         = 7 * 24 * time.Hour
	DefaultSynthRetries     = 2
	DefaultSupportThreshold = 0.5
	DefaultSynthConcurrency = 4
	DefaultChunkLines       = 40
	DefaultChunkOverlap     = 10
	DefaultServerAddr       = "127.0.0.1:8645"
	DefaultExplorerURL      = "https://api.etherscan.io/v2/api"
	DefaultExplorerRate     = 5.0
)

func (fc FileConfig) GetLog() LogConfig {
	if fc.Log == nil {
		return LogConfig{}
	}
	return *fc.Log
}

// GetLevel returns the log level name, "info" when unset.
func (c LogConfig) GetLevel() string { return str(c.Level, "info") }

func (c LogConfig) IsJSON() bool { return c.JSON != nil && *c.JSON }

func (fc FileConfig) GetPipeline() PipelineConfig {
	if fc.Pipeline == nil {
		return PipelineConfig{}
	}
	return *fc.Pipeline
}

// GetWorkers defaults to the number of CPUs.
func (c PipelineConfig) GetWorkers() int {
	if n := num(c.Workers, 0); n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// GetStageTimeout returns the timeout for the named stage.
func (c PipelineConfig) GetStageTimeout(stage string) time.Duration {
	def := dur(c.StageTimeout, DefaultStageTimeout)
	if s, ok := c.StageTimeouts[stage]; ok {
		return dur(&s, def)
	}
	return def
}

func (c PipelineConfig) GetRetries() int {
	if n := num(c.Retries, DefaultStageRetries); n >= 0 {
		return n
	}
	return 0
}

func (c PipelineConfig) GetBackoff() (base, ceiling time.Duration) {
	return dur(c.BackoffBase, DefaultBackoffBase), dur(c.BackoffMax, DefaultBackoffMax)
}

func (fc FileConfig) GetVerifier() VerifierConfig {
	if fc.Verifier == nil {
		return VerifierConfig{}
	}
	return *fc.Verifier
}

func (c VerifierConfig) GetMaxProxyHops() int {
	if n := num(c.MaxProxyHops, DefaultMaxProxyHops); n > 0 {
		return n
	}
	return DefaultMaxProxyHops
}

func (c VerifierConfig) GetExplorer() ExplorerConfig {
	if c.Explorer == nil {
		return ExplorerConfig{}
	}
	return *c.Explorer
}

func (c ExplorerConfig) GetURL() string { return str(c.URL, DefaultExplorerURL) }

func (c ExplorerConfig) GetAPIKey() string { return str(c.APIKey, "") }

func (c ExplorerConfig) GetRateLimit() float64 {
	if r := num(c.RateLimit, DefaultExplorerRate); r > 0 {
		return r
	}
	return DefaultExplorerRate
}

func (fc FileConfig) GetAnalyzers() AnalyzersConfig {
	if fc.Analyzers == nil {
		return AnalyzersConfig{}
	}
	return *fc.Analyzers
}

func (c AnalyzersConfig) GetRetries() int { return max(num(c.Retries, DefaultAnalyzerRetries), 0) }

// IsCacheEnabled returns true unless caching is switched off.
func (c AnalyzersConfig) IsCacheEnabled() bool { return c.Cache == nil || *c.Cache }

func (c AnalyzersConfig) GetCachePath() string { return str(c.CachePath, "") }

func (c AnalyzersConfig) GetCacheTTL() time.Duration { return dur(c.CacheTTL, DefaultCacheTTL) }

// GetTool returns the settings for the named adapter, zero if absent.
func (c AnalyzersConfig) GetTool(name string) ToolConfig { return c.Tools[name] }

// Options collects every tool's free-form options keyed by adapter name.
func (c AnalyzersConfig) Options() map[string]map[string]string {
	out := map[string]map[string]string{}
	for name, t := range c.Tools {
		if len(t.Options) > 0 {
			out[name] = t.Options
		}
	}
	return out
}

func (t ToolConfig) GetBinary() string { return str(t.Binary, "") }

// GetTimeout returns the configured timeout or def.
func (t ToolConfig) GetTimeout(def time.Duration) time.Duration { return dur(t.Timeout, def) }

func (t ToolConfig) GetRules() string { return str(t.Rules, "") }

func (fc FileConfig) GetRetrieval() RetrievalConfig {
	if fc.Retrieval == nil {
		return RetrievalConfig{}
	}
	return *fc.Retrieval
}

func (fc FileConfig) GetSynth() SynthConfig {
	if fc.Synth == nil {
		return SynthConfig{}
	}
	return *fc.Synth
}

// GetBackend returns "extractive" unless an LLM backend is configured.
func (c SynthConfig) GetBackend() string { return str(c.Backend, "extractive") }

func (c SynthConfig) GetModel() string { return str(c.Model, "gpt-4o-mini") }

func (c SynthConfig) GetBaseURL() string { return str(c.BaseURL, "") }

func (c SynthConfig) GetAPIKey() string { return str(c.APIKey, "") }

func (c SynthConfig) GetMaxRetries() int { return max(num(c.MaxRetries, DefaultSynthRetries), 0) }

func (c SynthConfig) GetSupportThreshold() float64 {
	v := num(c.SupportThreshold, DefaultSupportThreshold)
	if v <= 0 || v > 1 {
		return DefaultSupportThreshold
	}
	return v
}

func (c SynthConfig) GetConcurrency() int {
	if n := num(c.Concurrency, DefaultSynthConcurrency); n > 0 {
		return n
	}
	return DefaultSynthConcurrency
}

func (fc FileConfig) GetRisk() RiskConfig {
	if fc.Risk == nil {
		return RiskConfig{}
	}
	return *fc.Risk
}

func (fc FileConfig) GetEvidence() EvidenceConfig {
	if fc.Evidence == nil {
		return EvidenceConfig{}
	}
	return *fc.Evidence
}

// GetDBPath returns the SQLite path; empty keeps the store in memory.
func (c EvidenceConfig) GetDBPath() string { return str(c.DBPath, "") }

func (c EvidenceConfig) GetChunkLines() int {
	if n := num(c.ChunkLines, DefaultChunkLines); n > 0 {
		return n
	}
	return DefaultChunkLines
}

func (c EvidenceConfig) GetChunkOverlap() int {
	n := num(c.ChunkOverlap, DefaultChunkOverlap)
	if n < 0 || n >= c.GetChunkLines() {
		return c.GetChunkLines() / 4
	}
	return n
}

func (fc FileConfig) GetEmbedding() EmbeddingConfig {
	if fc.Embedding == nil {
		return EmbeddingConfig{}
	}
	return *fc.Embedding
}

// GetProvider returns "hash" unless another embedder is configured.
func (c EmbeddingConfig) GetProvider() string { return str(c.Provider, "hash") }

func (c EmbeddingConfig) GetModel() string { return str(c.Model, "") }

func (c EmbeddingConfig) GetAPIKey() string { return str(c.APIKey, "") }

func (c EmbeddingConfig) GetDimensions() int { return num(c.Dimensions, 0) }

func (fc FileConfig) GetServer() ServerConfig {
	if fc.Server == nil {
		return ServerConfig{}
	}
	return *fc.Server
}

func (c ServerConfig) GetAddr() string { return str(c.Addr, DefaultServerAddr) }

func (fc FileConfig) GetAudit() AuditConfig {
	if fc.Audit == nil {
		return AuditConfig{}
	}
	return *fc.Audit
}

// GetPath returns the audit log path; empty means the default location.
func (c AuditConfig) GetPath() string { return str(c.Path, "") }

func (c AuditConfig) IsEnabled() bool { return c.Disabled == nil || !*c.Disabled }
