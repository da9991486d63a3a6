package features

import (
	"sync"
)

// FeatureFlag represents a feature flag configuration.
type FeatureFlag struct {
	Name        string
	Enabled     bool
	Description string
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

// Defaults returns a manager with the service's standard flags registered.
func Defaults() *Manager {
	m := NewManager()
	m.Register(FeatureCandidateCache, true, "Cache candidate timer sets per shop")
	m.Register(FeatureViewTracking, true, "Accept and persist storefront view beacons")
	m.Register(FeatureEmailGIF, true, "Serve animated countdown GIFs for email timers")
	m.Register(FeaturePlanLimits, true, "Enforce plan limits on timer creation and views")
	return m
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

// IsEnabled checks if a feature flag is enabled. Unknown flags are disabled.
func (m *Manager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	if !exists {
		return false
	}

	return flag.Enabled
}

// Enable enables a feature flag.
func (m *Manager) Enable(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flag, exists := m.flags[name]; exists {
		flag.Enabled = true
	}
}

// Disable disables a feature flag.
func (m *Manager) Disable(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flag, exists := m.flags[name]; exists {
		flag.Enabled = false
	}
}

// GetAll returns a copy of all feature flags.
func (m *Manager) GetAll() map[string]*FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*FeatureFlag)
	for k, v := range m.flags {
		result[k] = &FeatureFlag{
			Name:        v.Name,
			Enabled:     v.Enabled,
			Description: v.Description,
		}
	}
	return result
}

// Predefined feature flag names
const (
	// FeatureCandidateCache enables/disables the candidate-timer cache
	FeatureCandidateCache = "candidate_cache"
	// FeatureViewTracking enables/disables view beacon ingestion
	FeatureViewTracking = "view_tracking"
	// FeatureEmailGIF enables/disables the email countdown GIF endpoint
	FeatureEmailGIF = "email_gif"
	// FeaturePlanLimits enables/disables plan limit enforcement
	FeaturePlanLimits = "plan_limits"
)
