package config

import (
	"sync"
)

var (
	// globalManager is the singleton configuration manager instance
	globalManager *Manager
	globalMu      sync.Mutex
)

// Initialize creates the global configuration manager backed by the JSON file at
// configPath (empty selects ~/.browsermux/config.json) and loads it.
// This should be called once at process startup.
func Initialize(configPath string) error {
	store, err := NewFileStore(configPath)
	if err != nil {
		return err
	}

	manager, err := NewDefaultManager(store)
	if err != nil {
		return err
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	globalManager = manager
	return nil
}

// NewDefaultManager registers the sessions, connector and pool sections on a new
// manager and loads their persisted values from store.
func NewDefaultManager(store Store) (*Manager, error) {
	manager := NewManager(store)

	for _, section := range []Section{
		NewSessionsSection(),
		NewConnectorSection(),
		NewPoolSection(),
	} {
		if err := manager.RegisterSection(section); err != nil {
			return nil, err
		}
	}

	if err := manager.LoadAll(); err != nil {
		return nil, err
	}

	for _, section := range manager.GetSections() {
		if err := section.Validate(); err != nil {
			return nil, err
		}
	}

	return manager, nil
}

// Global returns the global configuration manager.
// Panics if Initialize has not been called.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("config not initialized: call config.Initialize first")
	}

	return globalManager
}

// IsInitialized returns true if the global configuration has been initialized.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager != nil
}

// GetSessions returns the sessions section from global config.
// Returns nil if config is not initialized.
func GetSessions() *SessionsSection {
	return globalSection[*SessionsSection](SectionIDSessions)
}

// GetConnector returns the connector section from global config.
// Returns nil if config is not initialized.
func GetConnector() *ConnectorSection {
	return globalSection[*ConnectorSection](SectionIDConnector)
}

// GetPool returns the pool section from global config.
// Returns nil if config is not initialized.
func GetPool() *PoolSection {
	return globalSection[*PoolSection](SectionIDPool)
}

func globalSection[T Section](id string) T {
	var zero T
	if !IsInitialized() {
		return zero
	}

	section, ok := Global().GetSection(id)
	if !ok {
		return zero
	}

	typed, ok := section.(T)
	if !ok {
		return zero
	}
	return typed
}
