package config

import (
	"fmt"
	"sync/atomic"
)

// Manager owns the live configuration, swapped atomically on hot reload so
// readers never observe a half-updated Config.
type Manager struct {
	cfg        atomic.Pointer[Config]
	configPath string
	watcher    *Watcher
	onUpdate   []func(*Config)
}

// NewManager creates an unconfigured Manager; call Load before use.
func NewManager() *Manager {
	return &Manager{}
}

// Load reads and validates configPath, making it the active configuration.
func (m *Manager) Load(configPath string) error {
	cfg, err := NewLoader().Load(configPath)
	if err != nil {
		return err
	}
	m.configPath = configPath
	m.cfg.Store(cfg)
	return nil
}

// Get returns the currently active configuration. Safe for concurrent use
// from any number of readers while a reload is in flight.
func (m *Manager) Get() *Config {
	return m.cfg.Load()
}

// OnUpdate registers a callback invoked (in registration order) after each
// successful hot reload, e.g. to reconfigure the logger or registry seed.
func (m *Manager) OnUpdate(fn func(*Config)) {
	m.onUpdate = append(m.onUpdate, fn)
}

// WatchForChanges starts hot-reloading configPath in the background.
func (m *Manager) WatchForChanges() error {
	if m.configPath == "" {
		return fmt.Errorf("no configuration loaded yet")
	}
	w, err := NewWatcher(m.configPath, m.applyReload)
	if err != nil {
		return err
	}
	m.watcher = w
	return w.Start()
}

// StopWatching stops the hot-reload watcher, if running.
func (m *Manager) StopWatching() error {
	if m.watcher == nil {
		return nil
	}
	return m.watcher.Stop()
}

func (m *Manager) applyReload(cfg *Config) error {
	m.cfg.Store(cfg)
	for _, fn := range m.onUpdate {
		fn(cfg)
	}
	return nil
}
