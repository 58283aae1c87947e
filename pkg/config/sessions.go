package config

import (
	"fmt"
	"sync"
	"time"
)

const (
	// SectionIDSessions is the identifier for the session manager section
	SectionIDSessions = "sessions"

	defaultSessionTimeout = 5 * time.Minute
	defaultSweepInterval  = 30 * time.Second
	defaultActionTimeout  = 30 * time.Second
	defaultRefPrefix      = "@"
	defaultMaxSessions    = 0
)

// SessionsSection configures session TTLs, the expiry sweep and ref handling.
type SessionsSection struct {
	DefaultTimeout time.Duration `json:"default_timeout"`
	SweepInterval  time.Duration `json:"sweep_interval"`
	ActionTimeout  time.Duration `json:"action_timeout"`
	RefPrefix      string        `json:"ref_prefix"`
	MaxSessions    int           `json:"max_sessions"`
	mu             sync.RWMutex
}

// NewSessionsSection creates a sessions section with default settings.
func NewSessionsSection() *SessionsSection {
	s := &SessionsSection{}
	s.Reset()
	return s
}

// ID returns the section identifier.
func (s *SessionsSection) ID() string {
	return SectionIDSessions
}

// Title returns the section title.
func (s *SessionsSection) Title() string {
	return "Sessions"
}

// Description returns the section description.
func (s *SessionsSection) Description() string {
	return "Session time-to-live, background expiry sweep, default page action timeout and ref prefix."
}

// Data returns the current configuration data.
func (s *SessionsSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"default_timeout": s.DefaultTimeout.String(),
		"sweep_interval":  s.SweepInterval.String(),
		"action_timeout":  s.ActionTimeout.String(),
		"ref_prefix":      s.RefPrefix,
		"max_sessions":    s.MaxSessions,
	}
}

// SetData updates the configuration from the provided data.
func (s *SessionsSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "default_timeout":
			s.DefaultTimeout, err = durationValue(key, value)
		case "sweep_interval":
			s.SweepInterval, err = durationValue(key, value)
		case "action_timeout":
			s.ActionTimeout, err = durationValue(key, value)
		case "ref_prefix":
			s.RefPrefix, err = stringValue(key, value)
		case "max_sessions":
			s.MaxSessions, err = intValue(key, value)
		default:
			// Ignore unknown keys for forward compatibility
			continue
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Validate validates the current configuration.
func (s *SessionsSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be positive, got %v", s.DefaultTimeout)
	}
	if s.SweepInterval < time.Second {
		return fmt.Errorf("sweep_interval must be at least 1s, got %v", s.SweepInterval)
	}
	if s.ActionTimeout <= 0 {
		return fmt.Errorf("action_timeout must be positive, got %v", s.ActionTimeout)
	}
	if s.RefPrefix == "" {
		return fmt.Errorf("ref_prefix must not be empty")
	}
	if s.MaxSessions < 0 {
		return fmt.Errorf("max_sessions must not be negative, got %d", s.MaxSessions)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *SessionsSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.DefaultTimeout = defaultSessionTimeout
	s.SweepInterval = defaultSweepInterval
	s.ActionTimeout = defaultActionTimeout
	s.RefPrefix = defaultRefPrefix
	s.MaxSessions = defaultMaxSessions
}

// GetDefaultTimeout returns the TTL applied when a session is created without one.
func (s *SessionsSection) GetDefaultTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.DefaultTimeout
}

// GetSweepInterval returns how often expired sessions are swept.
func (s *SessionsSection) GetSweepInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.SweepInterval
}

// GetActionTimeout returns the default timeout set on every session page.
func (s *SessionsSection) GetActionTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ActionTimeout
}

// GetRefPrefix returns the sigil marking a selector as a ref.
func (s *SessionsSection) GetRefPrefix() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.RefPrefix
}

// GetMaxSessions returns the session cap, 0 meaning unlimited.
func (s *SessionsSection) GetMaxSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.MaxSessions
}

// SetDefaultTimeout sets the default session TTL.
func (s *SessionsSection) SetDefaultTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DefaultTimeout = d
}

// SetMaxSessions sets the session cap.
func (s *SessionsSection) SetMaxSessions(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MaxSessions = n
}
