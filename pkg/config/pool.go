package config

import (
	"fmt"
	"sync"
	"time"
)

const (
	// SectionIDPool is the identifier for the context pool section
	SectionIDPool = "pool"

	defaultMaxContexts       = 5
	defaultAcquireTimeout    = 30 * time.Second
	defaultIgnoreHTTPSErrors = false
)

// PoolSection configures the execution context pool.
type PoolSection struct {
	MaxContexts       int           `json:"max_contexts"`
	AcquireTimeout    time.Duration `json:"acquire_timeout"`
	IgnoreHTTPSErrors bool          `json:"ignore_https_errors"`
	mu                sync.RWMutex
}

// NewPoolSection creates a pool section with default settings.
func NewPoolSection() *PoolSection {
	s := &PoolSection{}
	s.Reset()
	return s
}

// ID returns the section identifier.
func (s *PoolSection) ID() string {
	return SectionIDPool
}

// Title returns the section title.
func (s *PoolSection) Title() string {
	return "Context Pool"
}

// Description returns the section description.
func (s *PoolSection) Description() string {
	return "Maximum pooled browser contexts and how long an acquire may wait for one."
}

// Data returns the current configuration data.
func (s *PoolSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"max_contexts":        s.MaxContexts,
		"acquire_timeout":     s.AcquireTimeout.String(),
		"ignore_https_errors": s.IgnoreHTTPSErrors,
	}
}

// SetData updates the configuration from the provided data.
func (s *PoolSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "max_contexts":
			s.MaxContexts, err = intValue(key, value)
		case "acquire_timeout":
			s.AcquireTimeout, err = durationValue(key, value)
		case "ignore_https_errors":
			s.IgnoreHTTPSErrors, err = boolValue(key, value)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Validate validates the current configuration.
func (s *PoolSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.MaxContexts < 1 {
		return fmt.Errorf("max_contexts must be at least 1, got %d", s.MaxContexts)
	}
	if s.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire_timeout must be positive, got %v", s.AcquireTimeout)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *PoolSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.MaxContexts = defaultMaxContexts
	s.AcquireTimeout = defaultAcquireTimeout
	s.IgnoreHTTPSErrors = defaultIgnoreHTTPSErrors
}

// GetMaxContexts returns the pool capacity.
func (s *PoolSection) GetMaxContexts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.MaxContexts
}

// GetAcquireTimeout returns how long AcquireContext waits for capacity.
func (s *PoolSection) GetAcquireTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.AcquireTimeout
}

// GetIgnoreHTTPSErrors reports whether pooled contexts skip TLS verification.
func (s *PoolSection) GetIgnoreHTTPSErrors() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.IgnoreHTTPSErrors
}
