package features

import (
	"sync"
)

// FeatureFlag represents a feature flag configuration.
type FeatureFlag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Manager manages feature flags.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*FeatureFlag
}

// NewManager creates a new feature flag manager.
func NewManager() *Manager {
	return &Manager{
		flags: make(map[string]*FeatureFlag),
	}
}

// Register registers a new feature flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &FeatureFlag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled checks if a feature flag is enabled.
func (m *Manager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	if !exists {
		return false // Default to disabled if flag doesn't exist
	}

	return flag.Enabled
}

// Enable enables a feature flag.
func (m *Manager) Enable(name string) {
	m.set(name, true)
}

// Disable disables a feature flag.
func (m *Manager) Disable(name string) {
	m.set(name, false)
}

func (m *Manager) set(name string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flag, exists := m.flags[name]; exists {
		flag.Enabled = enabled
	}
}

// GetAll returns a copy of all feature flags.
func (m *Manager) GetAll() map[string]FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]FeatureFlag, len(m.flags))
	for k, v := range m.flags {
		result[k] = *v
	}
	return result
}

// Predefined feature flag names
const (
	// FeatureWeeklyClaims exposes the weekly cadence next to the daily one
	FeatureWeeklyClaims = "weekly_claims"
	// FeatureCacheFallback serves reads from the claim mirror when the ledger fails
	FeatureCacheFallback = "cache_fallback"
	// FeatureEventHooks enables/disables event-driven hooks
	FeatureEventHooks = "event_hooks"
)

// NewDefaultManager registers the service's flags with their initial state.
func NewDefaultManager(weeklyClaims, cacheFallback, eventHooks bool) *Manager {
	m := NewManager()
	m.Register(FeatureWeeklyClaims, weeklyClaims, "expose the weekly claim cadence")
	m.Register(FeatureCacheFallback, cacheFallback, "answer availability from the local mirror when the ledger is unreachable")
	m.Register(FeatureEventHooks, eventHooks, "publish claim lifecycle events")
	return m
}
