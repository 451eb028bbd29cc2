package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig selects level, sink and encoding of the service logger
type LoggerConfig struct {
	Level      string // debug, info, warn, error; anything else is info
	OutputPath string // stdout, stderr or a file path
	Format     string // json or console
}

// NewLogger builds the zap logger shared by the server and the CLI.
// Errors carry a stack trace.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = zapcore.InfoLevel
		}
	}

	sink, err := openSink(cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("open log output %q: %w", cfg.OutputPath, err)
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), sink, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// NewCLILogger logs to stderr so budgetctl output on stdout stays parseable
func NewCLILogger(level string) (*zap.Logger, error) {
	return NewLogger(LoggerConfig{Level: level, OutputPath: "stderr", Format: "console"})
}

func newEncoder(format string) zapcore.Encoder {
	if format == "json" {
		enc := zap.NewProductionEncoderConfig()
		enc.TimeKey = "timestamp"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(enc)
	}

	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(enc)
}

func openSink(path string) (zapcore.WriteSyncer, error) {
	switch path {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return zapcore.AddSync(f), nil
}
