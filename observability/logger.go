// Package observability contains logging setup for the troupe runtime.
package observability

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/troupekit/troupe/config"
)

// SetupLogger builds a zap.Logger from the provided configuration, sets
// it as the global logger, and redirects the stdlib log package. The
// caller should defer logger.Sync().
func SetupLogger(c config.LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	switch c.Level {
	case config.LogLevelDebug:
		level.SetLevel(zap.DebugLevel)
	case config.LogLevelInfo:
		level.SetLevel(zap.InfoLevel)
	case config.LogLevelWarn:
		level.SetLevel(zap.WarnLevel)
	case config.LogLevelError:
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}

	core := zapcore.NewCore(buildEncoder(c), buildSink(c), level)

	logger := zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if len(c.Fields) > 0 {
		logger = logger.With(sortedFields(c.Fields)...)
	}

	zap.ReplaceGlobals(logger)
	// redirect stdlib log to zap at Info level
	_, _ = zap.RedirectStdLogAt(logger, zap.InfoLevel)
	return logger, nil
}

func buildEncoder(c config.LogConfig) zapcore.Encoder {
	if strings.ToLower(c.Format) == "json" {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	cfg := zap.NewDevelopmentEncoderConfig()
	if c.Color {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func buildSink(c config.LogConfig) zapcore.WriteSyncer {
	switch strings.ToLower(c.Output) {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout)
	case "stderr":
		return zapcore.AddSync(os.Stderr)
	}

	if c.Rotation.Enabled {
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.Output,
			MaxSize:    c.Rotation.MaxSize,
			MaxBackups: c.Rotation.MaxBackups,
			MaxAge:     c.Rotation.MaxAge,
			Compress:   c.Rotation.Compress,
		})
	}

	if dir := filepath.Dir(c.Output); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(c.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		// fallback to stderr on failure
		return zapcore.AddSync(os.Stderr)
	}
	return zapcore.AddSync(f)
}

func sortedFields(m map[string]interface{}) []zap.Field {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.Any(k, m[k]))
	}
	return fields
}
