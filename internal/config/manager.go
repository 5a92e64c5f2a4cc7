package config

import (
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"lookout/pkg/logging"
)

// Manager holds the live configuration and supports keyed lookups and
// reloads.
type Manager struct {
	mu     sync.RWMutex
	cfg    *Config
	logger logging.Logger
}

// NewManager wraps an already loaded configuration.
func NewManager(cfg *Config, logger logging.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger}
}

// Current returns the active configuration.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Reload re-runs the full load sequence and swaps the configuration on
// success. On failure the previous configuration stays active.
func (m *Manager) Reload() error {
	cfg, err := Load(m.logger)
	if err != nil {
		m.logger.WithError(err).Warn("Config reload failed, keeping previous configuration")
		return err
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	m.logger.Info("Configuration reloaded")
	return nil
}

// Get resolves a dotted key like "crawler.base_url" against the active
// configuration. Secret fields are not reachable this way.
func (m *Manager) Get(key string) (any, bool) {
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, false
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, false
	}

	var cur any = tree
	for _, part := range strings.Split(key, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString is Get with a string conversion.
func (m *Manager) GetString(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	return fmt.Sprint(v), true
}
