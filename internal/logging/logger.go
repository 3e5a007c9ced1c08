// Package logging provides the structured, rotating logger used throughout
// the scenario engine. Every entry touching a run carries run_id/config_id
// and, on failures, the error's stable tag, per spec section 7.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps logrus with an immutable field set, so WithField/WithFields
// return a new Logger rather than mutating the receiver.
type Logger struct {
	logger *logrus.Logger
	fields logrus.Fields
	mu     sync.RWMutex
}

// Config controls logger construction.
type Config struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "json" or "text"
	Output     string `yaml:"output"` // "stdout", "stderr", or "file"
	LogDir     string `yaml:"log_dir"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// New creates a new structured logger from Config.
func New(cfg *Config) (*Logger, error) {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	}

	if err := setOutput(l, cfg); err != nil {
		return nil, err
	}

	return &Logger{logger: l, fields: make(logrus.Fields)}, nil
}

func setOutput(l *logrus.Logger, cfg *Config) error {
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	case "file":
		dir := cfg.LogDir
		if dir == "" {
			dir = "logs"
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		writer := &lumberjack.Logger{
			Filename:   filepath.Join(dir, "qscenario.log"),
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		if strings.EqualFold(cfg.Level, "debug") {
			l.SetOutput(io.MultiWriter(writer, os.Stdout))
		} else {
			l.SetOutput(writer)
		}
	default:
		l.SetOutput(os.Stdout)
	}
	return nil
}

func (l *Logger) clone(add logrus.Fields) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	merged := make(logrus.Fields, len(l.fields)+len(add))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range add {
		merged[k] = v
	}
	return &Logger{logger: l.logger, fields: merged}
}

// WithField returns a derived logger with an extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.clone(logrus.Fields{key: value})
}

// WithFields returns a derived logger with the given fields merged in.
func (l *Logger) WithFields(fields logrus.Fields) *Logger {
	return l.clone(fields)
}

// WithRun attaches the run_id/config_id pair every structured log for a run
// must carry.
func (l *Logger) WithRun(runID, configID string) *Logger {
	return l.clone(logrus.Fields{"run_id": runID, "config_id": configID})
}

// WithErrorTag attaches a stable machine-readable error tag (e.g.
// "FitError:NonStationary") to the derived logger.
func (l *Logger) WithErrorTag(tag string) *Logger {
	return l.clone(logrus.Fields{"error_tag": tag})
}

func (l *Logger) entry() *logrus.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger.WithFields(l.fields)
}

func (l *Logger) Debug(args ...interface{})            { l.entry().Debug(args...) }
func (l *Logger) Debugf(f string, a ...interface{})    { l.entry().Debugf(f, a...) }
func (l *Logger) Info(args ...interface{})             { l.entry().Info(args...) }
func (l *Logger) Infof(f string, a ...interface{})     { l.entry().Infof(f, a...) }
func (l *Logger) Warn(args ...interface{})             { l.entry().Warn(args...) }
func (l *Logger) Warnf(f string, a ...interface{})     { l.entry().Warnf(f, a...) }
func (l *Logger) Error(args ...interface{})            { l.entry().Error(args...) }
func (l *Logger) Errorf(f string, a ...interface{})    { l.entry().Errorf(f, a...) }

// GetLogger returns the underlying logrus logger for advanced use.
func (l *Logger) GetLogger() *logrus.Logger { return l.logger }

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// SetDefault installs the process-wide default logger.
func SetDefault(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Default returns the process-wide default logger, creating a
// stdout/JSON/info logger lazily if none was installed.
func Default() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}
	fallback, err := New(&Config{Level: "info", Format: "json", Output: "stdout"})
	if err != nil {
		// ParseLevel("info") cannot fail; this path is unreachable in
		// practice but keeps New's error return meaningful elsewhere.
		panic(err)
	}
	SetDefault(fallback)
	return fallback
}
