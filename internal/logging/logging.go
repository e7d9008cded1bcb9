// Package logging constructs the zap logger every binary wraps in a
// logr.Logger, so pkg/* code never depends on a concrete *zap.Logger.
package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jordigilh/medlearn-core/internal/config"
)

// New builds a logr.Logger backed by zap: console encoding for "console"
// format (local development), JSON encoding otherwise (production), matching
// internal/config's logging{level,format} fields. The returned
// zap.AtomicLevel lets a config.Watch callback adjust verbosity without
// rebuilding the logger or restarting the process.
func New(cfg config.LoggingConfig) (logr.Logger, zap.AtomicLevel, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return logr.Logger{}, zap.AtomicLevel{}, fmt.Errorf("invalid logging level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.Encoding = "console"
	} else {
		zapCfg = zap.NewProductionConfig()
		zapCfg.Encoding = "json"
	}
	atomicLevel := zap.NewAtomicLevelAt(level)
	zapCfg.Level = atomicLevel

	zl, err := zapCfg.Build()
	if err != nil {
		return logr.Logger{}, zap.AtomicLevel{}, fmt.Errorf("failed to build zap logger: %w", err)
	}
	return zapr.NewLogger(zl), atomicLevel, nil
}

// SetLevel applies a new logging.level value to an already-running logger's
// atomic level, parsing it the same way New does.
func SetLevel(atomicLevel zap.AtomicLevel, level string) error {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid logging level %q: %w", level, err)
	}
	atomicLevel.SetLevel(parsed)
	return nil
}
