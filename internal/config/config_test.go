package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return p
}

func TestLoadFile_Basic(t *testing.T) {
	dir := t.TempDir()
	p := writeTemp(t, dir, "clauselens.yaml", `
pipeline:
  workers: 4
  stage_timeout: 2m
  stage_timeouts:
    analyze: 20m
retrieval:
  min_score: 0.5
analyzers:
  enabled: [patterns, slither]
  tools:
    slither:
      binary: /opt/slither
      timeout: 90s
      options:
        exclude: naming-convention
`)
	cfg, err := LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	pc := cfg.GetPipeline()
	if got := pc.GetWorkers(); got != 4 {
		t.Fatalf("expected workers=4, got %d", got)
	}
	if got := pc.GetStageTimeout("analyze"); got != 20*time.Minute {
		t.Fatalf("expected analyze timeout 20m, got %s", got)
	}
	if got := pc.GetStageTimeout("verify"); got != 2*time.Minute {
		t.Fatalf("expected verify timeout 2m, got %s", got)
	}
	if cfg.Retrieval == nil || cfg.Retrieval.MinScore == nil || *cfg.Retrieval.MinScore != 0.5 {
		t.Fatalf("expected min_score=0.5, got %#v", cfg.Retrieval)
	}
	ac := cfg.GetAnalyzers()
	if len(ac.Enabled) != 2 || ac.Enabled[1] != "slither" {
		t.Fatalf("unexpected enabled list %v", ac.Enabled)
	}
	tool := ac.GetTool("slither")
	if tool.GetBinary() != "/opt/slither" || tool.GetTimeout(time.Minute) != 90*time.Second {
		t.Fatalf("unexpected slither config %#v", tool)
	}
	if ac.Options()["slither"]["exclude"] != "naming-convention" {
		t.Fatalf("expected slither options, got %v", ac.Options())
	}
}

func TestDefaults(t *testing.T) {
	var cfg FileConfig
	if got := cfg.GetPipeline().GetRetries(); got != DefaultStageRetries {
		t.Fatalf("retries default: got %d", got)
	}
	if got := cfg.GetVerifier().GetMaxProxyHops(); got != DefaultMaxProxyHops {
		t.Fatalf("max hops default: got %d", got)
	}
	if got := cfg.GetSynth().GetBackend(); got != "extractive" {
		t.Fatalf("backend default: got %q", got)
	}
	if got := cfg.GetEmbedding().GetProvider(); got != "hash" {
		t.Fatalf("provider default: got %q", got)
	}
	if !cfg.GetAnalyzers().IsCacheEnabled() || !cfg.GetAudit().IsEnabled() {
		t.Fatal("cache and audit should default to enabled")
	}
	ec := cfg.GetEvidence()
	if ec.GetChunkLines() != 40 || ec.GetChunkOverlap() != 10 {
		t.Fatalf("chunk defaults: %d/%d", ec.GetChunkLines(), ec.GetChunkOverlap())
	}
	bad := "soon"
	if got := (PipelineConfig{StageTimeout: &bad}).GetStageTimeout("verify"); got != DefaultStageTimeout {
		t.Fatalf("invalid duration should fall back, got %s", got)
	}
}

func TestLoadLocal_PrefersDotfile(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "clauselens.yaml", "pipeline:\n  workers: 1\n")
	writeTemp(t, dir, ".clauselens.yaml", "pipeline:\n  workers: 7\n")
	cfg, err := LoadLocal(dir)
	if err != nil {
		t.Fatalf("LoadLocal: %v", err)
	}
	if got := cfg.GetPipeline().GetWorkers(); got != 7 {
		t.Fatalf("expected workers=7 from .clauselens.yaml, got %d", got)
	}
}

func TestLoadLocal_NoConfig(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadLocal(dir); err == nil {
		t.Fatal("expected error when no local config exists")
	}
}

func TestLoadGlobal_XDG_Config(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "clauselens")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeTemp(t, cfgDir, "config.yml", "server:\n  addr: :9000\n")
	t.Setenv("XDG_CONFIG_HOME", dir)
	cfg, err := LoadGlobal()
	if err != nil {
		t.Fatalf("LoadGlobal: %v", err)
	}
	if got := cfg.GetServer().GetAddr(); got != ":9000" {
		t.Fatalf("expected addr :9000 from global config, got %q", got)
	}
}

func TestLoadGlobal_NoConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "")
	if _, err := LoadGlobal(); err == nil {
		t.Fatal("expected error when no global config dir exists")
	}
}

func TestLoad_LocalOverridesGlobalAndEnvWins(t *testing.T) {
	xdg := t.TempDir()
	if err := os.MkdirAll(filepath.Join(xdg, "clauselens"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeTemp(t, filepath.Join(xdg, "clauselens"), "config.yml", "server:\n  addr: :1\nlog:\n  level: debug\n")
	t.Setenv("XDG_CONFIG_HOME", xdg)

	root := t.TempDir()
	writeTemp(t, root, ".clauselens.yml", "server:\n  addr: :2\n")
	writeTemp(t, root, ".env", "ETHERSCAN_API_KEY=from-dotenv\n")
	t.Setenv(EnvEtherscanKey, "")
	os.Unsetenv(EnvEtherscanKey)
	t.Setenv(EnvLogLevel, "warn")
	t.Cleanup(func() { os.Unsetenv(EnvEtherscanKey) })

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.GetServer().GetAddr(); got != ":2" {
		t.Fatalf("local should override global, got %q", got)
	}
	if got := cfg.GetLog().GetLevel(); got != "warn" {
		t.Fatalf("env should override files, got %q", got)
	}
	if got := cfg.GetVerifier().GetExplorer().GetAPIKey(); got != "from-dotenv" {
		t.Fatalf("expected key from .env, got %q", got)
	}
}

func TestLoad_MalformedLocal(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := t.TempDir()
	writeTemp(t, root, "clauselens.yml", "pipeline: [not, a, map]\n")
	if _, err := Load(root); err == nil {
		t.Fatal("expected error for malformed local config")
	}
}
