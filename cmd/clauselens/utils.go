package clauselens

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/config"
	"github.com/clauselens/clauselens/internal/logging"
	"github.com/clauselens/clauselens/internal/report"
	"github.com/clauselens/clauselens/pkg/core"
)

// loadConfig resolves configuration for root. Precedence: flags, --config
// file, environment, local file, global file.
func loadConfig(root string) (config.FileConfig, error) {
	fc, err := config.Load(root)
	if err != nil {
		return fc, err
	}
	if flagConfig != "" {
		c, err := config.LoadFile(flagConfig)
		if err != nil {
			return fc, err
		}
		fc = config.Merge(fc, c)
		config.ApplyEnv(&fc)
	}
	if flagWorkers > 0 {
		pc := fc.GetPipeline()
		pc.Workers = &flagWorkers
		fc.Pipeline = &pc
	}
	if flagLogLevel != "" {
		lc := fc.GetLog()
		lc.Level = &flagLogLevel
		fc.Log = &lc
	}
	if flagJSONLogs {
		lc := fc.GetLog()
		lc.JSON = &flagJSONLogs
		fc.Log = &lc
	}
	return fc, nil
}

// newLogger builds the process logger. fallback applies when neither the
// config nor a flag set a level.
func newLogger(fc config.FileConfig, fallback string) (*zap.Logger, error) {
	lc := fc.GetLog()
	level := fallback
	if lc.Level != nil {
		level = lc.GetLevel()
	}
	l, _, err := logging.New(logging.Options{Level: level, JSON: lc.IsJSON()})
	return l, err
}

type session struct {
	root   string
	cfg    config.FileConfig
	log    *zap.Logger
	engine *core.Engine
}

func (s *session) Close() {
	_ = s.engine.Close()
	_ = s.log.Sync()
}

// openSession loads config for root and starts an engine.
func openSession(ctx context.Context, root, logFallback string) (*session, error) {
	fc, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(fc, logFallback)
	if err != nil {
		return nil, err
	}
	eng, err := core.Open(ctx, core.Settings{Config: fc, Root: root, NoCache: flagNoCache, Logger: log})
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	return &session{root: root, cfg: fc, log: log, engine: eng}, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func noColor() bool {
	return flagNoColor || !report.ColorEnabled(os.Stdout)
}
