package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel is the minimum severity a logger writes.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// String returns the lower-case name of the level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLogLevel parses a level name. Unknown names are an error.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	}
	return LogLevelInfo, fmt.Errorf("%w: log level %q", ErrInvalidConfig, s)
}

// zapLevel maps the level onto zap. logr's V(1) is zap's debug level.
func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Log formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// LoggerConfig configures the root logger.
type LoggerConfig struct {
	Level LogLevel
	// Format is FormatConsole or FormatJSON.
	Format string
	// File, when set, receives the log through a rotating writer
	// instead of Output.
	File       string
	MaxSizeMB  int
	MaxBackups int

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultLoggerConfig returns the default logger configuration.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:      LogLevelInfo,
		Format:     FormatConsole,
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// Logger is the root logger and the handles to change and flush it.
type Logger struct {
	logr.Logger

	level zap.AtomicLevel
	sync  func() error
	close func() error
}

// NewLogger builds the root logger.
func NewLogger(cfg LoggerConfig) (*Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "", FormatConsole:
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case FormatJSON:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("%w: log format %q", ErrInvalidConfig, cfg.Format)
	}

	closer := func() error { return nil }
	var sink zapcore.WriteSyncer
	switch {
	case cfg.File != "":
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		sink = zapcore.AddSync(rotator)
		closer = rotator.Close
	case cfg.Output != nil:
		sink = zapcore.AddSync(cfg.Output)
	default:
		sink = zapcore.Lock(os.Stderr)
	}

	level := zap.NewAtomicLevelAt(cfg.Level.zapLevel())
	zl := zap.New(zapcore.NewCore(encoder, sink, level))

	return &Logger{
		Logger: zapr.NewLogger(zl),
		level:  level,
		sync:   zl.Sync,
		close:  closer,
	}, nil
}

// SetLevel changes the level of a running logger.
func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// Level returns the current level.
func (l *Logger) Level() LogLevel {
	switch l.level.Level() {
	case zapcore.DebugLevel:
		return LogLevelDebug
	case zapcore.WarnLevel:
		return LogLevelWarn
	case zapcore.ErrorLevel:
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Close flushes buffered entries and releases the log file.
func (l *Logger) Close() error {
	// Sync on a terminal returns EINVAL on some platforms.
	_ = l.sync()
	return l.close()
}
