package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps slog with configuration and lifecycle management
type Logger struct {
	mu     sync.Mutex
	config *Config
	file   io.WriteCloser
	level  slog.LevelVar
	logger *slog.Logger
}

// Config holds logging configuration
type Config struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	File       string `yaml:"file"`        // log file path (optional)
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // number of old log files to keep
	MaxAge     int    `yaml:"max_age"`     // days
	Console    bool   `yaml:"console"`     // also log to stderr
	JSON       bool   `yaml:"json"`        // JSON format instead of text

	// Output replaces console output when set. Used by tests.
	Output io.Writer `yaml:"-"`
}

// DefaultConfig returns console logging at info level
func DefaultConfig() *Config {
	return &Config{
		Level:   "info",
		Console: true,
	}
}

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// Initialize sets up the global logger
func Initialize(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{config: cfg}
	if err := l.configure(); err != nil {
		return err
	}

	globalMu.Lock()
	old := globalLogger
	globalLogger = l
	globalMu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		// Create default console logger if not initialized
		globalLogger = &Logger{config: DefaultConfig()}
		_ = globalLogger.configure()
	}
	return globalLogger
}

// configure sets up the logger based on config
func (l *Logger) configure() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.level.Set(parseLevel(l.config.Level))

	var writers []io.Writer
	switch {
	case l.config.Output != nil:
		writers = append(writers, l.config.Output)
	case l.config.Console:
		writers = append(writers, os.Stderr)
	}

	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if l.config.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   l.config.File,
			MaxSize:    l.config.MaxSize, // megabytes
			MaxBackups: l.config.MaxBackups,
			MaxAge:     l.config.MaxAge, // days
			Compress:   true,
		}
		l.file = rotator
		writers = append(writers, rotator)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stderr
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{Level: &l.level}
	var handler slog.Handler
	if l.config.JSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	l.logger = slog.New(handler)
	slog.SetDefault(l.logger)
	return nil
}

// parseLevel converts string level to slog.Level
func parseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether s names a log level
func ValidLevel(s string) bool {
	switch strings.ToLower(s) {
	case "", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// Reload reconfigures the logger with new settings. Loggers derived with
// With before the reload keep their old handler but follow level changes.
func (l *Logger) Reload(cfg *Config) error {
	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return l.configure()
}

// SetLevel changes the minimum level without touching outputs
func (l *Logger) SetLevel(level string) {
	l.level.Set(parseLevel(level))
}

// Close closes any open file handles
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Underlying returns the underlying *slog.Logger for advanced usage
func (l *Logger) Underlying() *slog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logger
}

func (l *Logger) Debug(msg string, args ...any) {
	l.Underlying().Debug(msg, args...)
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	l.Underlying().Debug(fmt.Sprintf(format, v...))
}

func (l *Logger) Info(msg string, args ...any) {
	l.Underlying().Info(msg, args...)
}

func (l *Logger) Infof(format string, v ...interface{}) {
	l.Underlying().Info(fmt.Sprintf(format, v...))
}

func (l *Logger) Warn(msg string, args ...any) {
	l.Underlying().Warn(msg, args...)
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	l.Underlying().Warn(fmt.Sprintf(format, v...))
}

func (l *Logger) Error(msg string, args ...any) {
	l.Underlying().Error(msg, args...)
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.Underlying().Error(fmt.Sprintf(format, v...))
}

func (l *Logger) Fatal(msg string, args ...any) {
	l.Underlying().Error(msg, args...)
	os.Exit(1)
}

// With returns a logger with the given attributes added
func (l *Logger) With(args ...any) *slog.Logger {
	return l.Underlying().With(args...)
}

// WithError returns a logger with an error field
func (l *Logger) WithError(err error) *slog.Logger {
	return l.Underlying().With(Err(err))
}

// Package-level convenience functions

func Debug(msg string, args ...any) {
	GetLogger().Debug(msg, args...)
}

func Debugf(format string, v ...interface{}) {
	GetLogger().Debugf(format, v...)
}

func Info(msg string, args ...any) {
	GetLogger().Info(msg, args...)
}

func Infof(format string, v ...interface{}) {
	GetLogger().Infof(format, v...)
}

func Warn(msg string, args ...any) {
	GetLogger().Warn(msg, args...)
}

func Warnf(format string, v ...interface{}) {
	GetLogger().Warnf(format, v...)
}

func Error(msg string, args ...any) {
	GetLogger().Error(msg, args...)
}

func Errorf(format string, v ...interface{}) {
	GetLogger().Errorf(format, v...)
}

// Fatal logs at error level and exits
func Fatal(msg string, args ...any) {
	GetLogger().Fatal(msg, args...)
}

// With returns a logger with the given attributes added
func With(args ...any) *slog.Logger {
	return GetLogger().With(args...)
}

// WithError returns a logger with an error field
func WithError(err error) *slog.Logger {
	return GetLogger().WithError(err)
}

// Discard returns a logger that drops everything, for tests
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}
