package logging

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Factory creates component loggers that all share one global configuration.
type Factory struct {
	cfg *Config
	mu  sync.RWMutex
}

var (
	factory     *Factory
	factoryOnce sync.Once
)

// GetFactory returns the process-wide logger factory.
func GetFactory() *Factory {
	factoryOnce.Do(func() {
		factory = &Factory{
			cfg: &Config{Level: "info", Format: "text", ConsoleEnabled: true},
		}
	})
	return factory
}

// Configure replaces the factory's shared configuration.
func Configure(cfg *Config) {
	f := GetFactory()
	f.mu.Lock()
	defer f.mu.Unlock()
	if cfg != nil {
		f.cfg = cfg
	}
}

// CreateLogger returns a new logger for component, configured per the factory's
// current settings.
func (f *Factory) CreateLogger(component string) *Logger {
	f.mu.RLock()
	cfg := f.cfg
	f.mu.RUnlock()

	logger := &Logger{Logger: logrus.New(), component: component}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(consoleFormatter(cfg.Format))
	return logger
}

// GetComponentLogger creates a component logger from the global factory.
func GetComponentLogger(component string) *Logger {
	return GetFactory().CreateLogger(component)
}

// ConfigureGlobal configures both the factory and the process-wide logger.
func ConfigureGlobal(cfg *Config) error {
	Configure(cfg)
	return Setup(cfg)
}
