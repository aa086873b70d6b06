// Package logger provides structured logging utilities.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger.
type Logger struct {
	*zap.Logger
}

// Config selects the level and output format of a logger.
type Config struct {
	Level string
	// Format is "json" or "console". Empty means console when ENV is
	// "development" and json otherwise.
	Format string
	// Service is attached to every entry when set.
	Service string
}

// Build creates a logger writing to stdout.
func Build(cfg Config) (*Logger, error) {
	format := cfg.Format
	if format == "" {
		format = "json"
		if os.Getenv("ENV") == "development" {
			format = "console"
		}
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(cfg.Level)),
		Development:      format == "console",
		Encoding:         format,
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Service != "" {
		zcfg.InitialFields = map[string]interface{}{"service": cfg.Service}
	}

	l, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: l}, nil
}

// New creates a logger at level with the default format.
func New(level string) (*Logger, error) {
	return Build(Config{Level: level})
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// ForRequest tags entries with the request's correlation id.
func (l *Logger) ForRequest(correlationID string) *Logger {
	if correlationID == "" {
		return l
	}
	return l.With(zap.String("correlation_id", correlationID))
}

// ForConversation tags entries with the Viber user id of a conversation.
func (l *Logger) ForConversation(viberID string) *Logger {
	return l.With(zap.String("viber_id", viberID))
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetGlobal makes l the logger returned by zap.L and zap.S.
func SetGlobal(l *Logger) {
	zap.ReplaceGlobals(l.Logger)
}
