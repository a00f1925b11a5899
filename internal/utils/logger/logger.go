package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global *zap.SugaredLogger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init builds the process-wide logger. Format is "console" (default) or "json".
func Init(format string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	switch strings.ToLower(format) {
	case "json":
		cfg = zap.NewProductionConfig()
	case "", "console", "text":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
	cfg.Level = level
	cfg.DisableCaller = true

	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	global = z.Sugar()
	zap.ReplaceGlobals(z)
	return global, nil
}

// Logger returns the process-wide logger, or a no-op logger before Init.
func Logger() *zap.SugaredLogger {
	if global == nil {
		return zap.NewNop().Sugar()
	}
	return global
}

// SetLevel changes the level of every logger handed out so far.
func SetLevel(lvl string) error {
	parsed, err := zapcore.ParseLevel(strings.ToLower(lvl))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", lvl, err)
	}
	level.SetLevel(parsed)
	return nil
}

// Level reports the current level name.
func Level() string {
	return level.Level().String()
}

// Sync flushes buffered entries; errors from syncing a terminal are ignored.
func Sync() {
	if global != nil {
		_ = global.Sync()
	}
}

// With attaches fields to the process-wide logger for the rest of the run.
func With(args ...interface{}) *zap.SugaredLogger {
	global = Logger().With(args...)
	return global
}

// Replace installs l as the process-wide logger and returns a func restoring
// the previous one.
func Replace(l *zap.SugaredLogger) func() {
	prev := global
	global = l
	return func() { global = prev }
}
