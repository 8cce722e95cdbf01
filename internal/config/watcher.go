package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher hot-reloads a configuration file using fsnotify, debouncing rapid
// writes and waiting for the file to stabilize before reparsing it. The
// freshly loaded Config is handed to the onReload callback; components that
// were already built from the previous Config are not rebuilt by the watcher.
type Watcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	onReload   func(*Config) error
	logger     *logrus.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
}

// NewWatcher creates a watcher that calls onReload with the freshly loaded
// config whenever configPath changes.
func NewWatcher(configPath string, onReload func(*Config) error) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{watcher: w, configPath: configPath, onReload: onReload, logger: logrus.New()}, nil
}

// Start begins watching the configuration file's directory for changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("config watcher already running")
	}
	if _, err := os.Stat(w.configPath); os.IsNotExist(err) {
		return fmt.Errorf("configuration file does not exist: %s", w.configPath)
	}

	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.isRunning = true

	go w.loop(ctx)
	w.logger.Info("configuration hot reload started")
	return nil
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning {
		return nil
	}
	w.cancel()
	w.isRunning = false
	return w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	const debounce = 500 * time.Millisecond
	var lastReload time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if time.Since(lastReload) < debounce {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
				if err := w.reload(); err != nil {
					w.logger.WithError(err).Error("failed to reload configuration")
				} else {
					lastReload = time.Now()
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("file watcher error")
		}
	}
}

func (w *Watcher) reload() error {
	if err := w.waitStable(); err != nil {
		return err
	}
	cfg, err := NewLoader().Load(w.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if w.onReload != nil {
		return w.onReload(cfg)
	}
	return nil
}

func (w *Watcher) waitStable() error {
	const (
		maxWait       = 5 * time.Second
		checkInterval = 100 * time.Millisecond
		stableStreak  = 3
	)
	start := time.Now()
	lastSize := int64(-1)
	streak := 0

	for time.Since(start) < maxWait {
		stat, err := os.Stat(w.configPath)
		if err != nil {
			time.Sleep(checkInterval)
			continue
		}
		if stat.Size() == lastSize {
			streak++
			if streak >= stableStreak {
				return nil
			}
		} else {
			streak = 0
			lastSize = stat.Size()
		}
		time.Sleep(checkInterval)
	}
	return fmt.Errorf("configuration file did not stabilize within %v", maxWait)
}
