package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerConfig mirrors the logging section of the config file.
type LoggerConfig struct {
	Level      string // debug, info, warn or error
	FilePath   string // empty: stderr only
	MaxSize    int    // MB per file before rotating
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	Console    bool // tee to stderr even when FilePath is set
}

// NewLogger builds a JSON logger. Rotation is handled by lumberjack.
func NewLogger(config LoggerConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	out, err := outputs(config)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetLevel(level)
	log.SetOutput(out)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
			logrus.FieldKeyFunc:  "function",
		},
	})
	return log, nil
}

// outputs never includes stdout: the CLI streams compressed images there.
func outputs(config LoggerConfig) (io.Writer, error) {
	if config.FilePath == "" {
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
		return nil, err
	}

	rotating := &lumberjack.Logger{
		Filename:   config.FilePath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
	if !config.Console {
		return rotating, nil
	}
	return io.MultiWriter(rotating, os.Stderr), nil
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func WithFields(log logrus.FieldLogger, fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}

func WithOperation(log logrus.FieldLogger, operation string) *logrus.Entry {
	return log.WithField("operation", operation)
}

// WithSource tags an entry with the image being processed (file name or URL).
func WithSource(log logrus.FieldLogger, source, operation string) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"source":    source,
		"operation": operation,
	})
}

// DefaultConfig logs info and above to stderr.
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:      "info",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
		Console:    true,
	}
}
