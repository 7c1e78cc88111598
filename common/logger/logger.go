// Package logger builds the zap loggers used across the service.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Formats accepted by NewLogger
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// NewLogger builds a logger writing level and above. JSON goes to stdout
// with ISO8601 timestamps; console is the colored development layout.
// Every entry carries service_name (when set) and hostname.
func NewLogger(level, format, serviceName string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level = strings.TrimSpace(level); level != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatConsole:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case FormatJSON, "":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	cfg.InitialFields = map[string]any{}
	if serviceName != "" {
		cfg.InitialFields["service_name"] = serviceName
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		cfg.InitialFields["hostname"] = hostname
	}

	return cfg.Build()
}
