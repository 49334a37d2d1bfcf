package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line and reported by /health.
const ServiceName = "waterlogging-dashboard"

// NewLogger builds the process logger. LOG_LEVEL picks the level (default
// info) and LOG_FORMAT=console switches from JSON to human-readable output.
func NewLogger() (*zap.Logger, error) {
	return loggerConfig(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")).Build()
}

func loggerConfig(level, format string) zap.Config {
	config := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = parseLogLevel(level)
	config.InitialFields = map[string]any{"service": ServiceName}
	return config
}

// parseLogLevel accepts any zap level name, case-insensitively. Unknown
// values fall back to info.
func parseLogLevel(s string) zap.AtomicLevel {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || s == "" {
		lvl = zapcore.InfoLevel
	}
	return zap.NewAtomicLevelAt(lvl)
}
