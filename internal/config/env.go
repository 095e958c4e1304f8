package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Environment variables recognised by ApplyEnv.
const (
	EnvEtherscanKey = "ETHERSCAN_API_KEY"
	EnvEtherscanURL = "ETHERSCAN_API_URL"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvOpenAIURL    = "OPENAI_BASE_URL"
	EnvGeminiKey    = "GEMINI_API_KEY"
	EnvLogLevel     = "CLAUSELENS_LOG_LEVEL"
)

// LoadDotEnv loads the given .env files into the process environment.
// Variables already set win; missing files are skipped.
func LoadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

// ApplyEnv overlays environment variables on cfg. Environment wins over
// files for secrets and endpoints.
func ApplyEnv(cfg *FileConfig) {
	if v := os.Getenv(EnvEtherscanKey); v != "" {
		explorer(cfg).APIKey = &v
	}
	if v := os.Getenv(EnvEtherscanURL); v != "" {
		explorer(cfg).URL = &v
	}
	if v := os.Getenv(EnvOpenAIKey); v != "" {
		synth(cfg).APIKey = &v
	}
	if v := os.Getenv(EnvOpenAIURL); v != "" {
		synth(cfg).BaseURL = &v
	}
	if v := os.Getenv(EnvGeminiKey); v != "" {
		if cfg.Embedding == nil {
			cfg.Embedding = &EmbeddingConfig{}
		}
		cfg.Embedding.APIKey = &v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		if cfg.Log == nil {
			cfg.Log = &LogConfig{}
		}
		cfg.Log.Level = &v
	}
}

func explorer(cfg *FileConfig) *ExplorerConfig {
	if cfg.Verifier == nil {
		cfg.Verifier = &VerifierConfig{}
	}
	if cfg.Verifier.Explorer == nil {
		cfg.Verifier.Explorer = &ExplorerConfig{}
	}
	return cfg.Verifier.Explorer
}

func synth(cfg *FileConfig) *SynthConfig {
	if cfg.Synth == nil {
		cfg.Synth = &SynthConfig{}
	}
	return cfg.Synth
}
