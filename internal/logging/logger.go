// Package logging provides structured, component-tagged logging for the
// controller, built on logrus with optional rotating file output.
package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps logrus.Logger and adds correlation-ID and component tagging,
// matching the conventions directives and policies are traced with end to end.
type Logger struct {
	*logrus.Logger
	correlationID string
	component     string
	mu            sync.RWMutex
}

// Config mirrors the logging section of the main configuration.
type Config struct {
	Level          string `mapstructure:"level"`
	Format         string `mapstructure:"format"`
	FileEnabled    bool   `mapstructure:"file_enabled"`
	FilePath       string `mapstructure:"file_path"`
	MaxFileSizeMB  int    `mapstructure:"max_file_size_mb"`
	BackupCount    int    `mapstructure:"backup_count"`
	ConsoleEnabled bool   `mapstructure:"console_enabled"`
}

// CorrelationIDKey is the context key correlation IDs are stored under.
const CorrelationIDKey = "correlation_id"

// Fields is a clean alias over logrus.Fields for callers of this package.
type Fields = logrus.Fields

var (
	globalLogger *Logger
	once         sync.Once
)

// NewLogger creates a logger instance tagged with the given component name.
func NewLogger(component string) *Logger {
	logger := &Logger{
		Logger:    logrus.New(),
		component: component,
	}
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return logger
}

// GetLogger returns the process-wide logger, created on first use.
func GetLogger() *Logger {
	once.Do(func() {
		globalLogger = NewLogger("ibs-controller")
	})
	return globalLogger
}

// Setup configures the global logger's level, format, and output handlers.
func Setup(cfg *Config) error {
	logger := GetLogger()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.ReplaceHooks(logrus.LevelHooks{})

	if cfg.ConsoleEnabled {
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(consoleFormatter(cfg.Format))
	}

	if cfg.FileEnabled && cfg.FilePath != "" {
		if err := setupFileHandler(logger, cfg); err != nil {
			return fmt.Errorf("failed to set up log file handler: %w", err)
		}
	}

	return nil
}

func setupFileHandler(logger *Logger, cfg *Config) error {
	logDir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logger.SetOutput(&lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxFileSizeMB,
		MaxBackups: cfg.BackupCount,
		MaxAge:     30,
		Compress:   true,
	})
	logger.SetFormatter(fileFormatter(cfg.Format))
	return nil
}

func consoleFormatter(format string) logrus.Formatter {
	if strings.Contains(strings.ToLower(format), "json") {
		return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05"}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
	}
}

func fileFormatter(format string) logrus.Formatter {
	if strings.Contains(strings.ToLower(format), "json") || os.Getenv("IBS_ENV") == "production" {
		return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05"}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	}
}

// WithCorrelationID returns a derived logger tagged with the given correlation ID.
func (l *Logger) WithCorrelationID(id string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{Logger: l.Logger, correlationID: id, component: l.component}
}

// WithField returns a derived logger with one extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Logger: l.Logger.WithField(key, value).Logger, correlationID: l.correlationID, component: l.component}
}

// WithError returns a derived logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.Logger.WithError(err).Logger, correlationID: l.correlationID, component: l.component}
}

// WithFields returns a derived logger with the given fields attached.
func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{Logger: l.Logger.WithFields(fields).Logger, correlationID: l.correlationID, component: l.component}
}

// GenerateCorrelationID returns a fresh UUIDv4 for directive/policy tracing.
func GenerateCorrelationID() string {
	return uuid.New().String()
}

// GetCorrelationIDFromContext extracts a correlation ID set by WithCorrelationIDContext.
func GetCorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(CorrelationIDKey).(string)
	return id
}

// WithCorrelationIDContext attaches a correlation ID to a context.
func WithCorrelationIDContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}
