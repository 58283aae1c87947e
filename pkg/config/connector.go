package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

const (
	// SectionIDConnector is the identifier for the CDP connector section
	SectionIDConnector = "connector"

	defaultConnectTimeout   = 30 * time.Second
	defaultDiscoveryTimeout = 5 * time.Second
)

// ConnectorSection configures attaching to externally launched browsers.
type ConnectorSection struct {
	ConnectTimeout   time.Duration `json:"connect_timeout"`
	DiscoveryTimeout time.Duration `json:"discovery_timeout"`
	// AllowedHosts are glob patterns matched against the endpoint host.
	// Empty allows any host.
	AllowedHosts []string `json:"allowed_hosts"`
	mu           sync.RWMutex
}

// NewConnectorSection creates a connector section with default settings.
func NewConnectorSection() *ConnectorSection {
	s := &ConnectorSection{}
	s.Reset()
	return s
}

// ID returns the section identifier.
func (s *ConnectorSection) ID() string {
	return SectionIDConnector
}

// Title returns the section title.
func (s *ConnectorSection) Title() string {
	return "Connector"
}

// Description returns the section description.
func (s *ConnectorSection) Description() string {
	return "Remote debugging attach timeout, discovery timeout and the hosts a connection may target."
}

// Data returns the current configuration data.
func (s *ConnectorSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"connect_timeout":   s.ConnectTimeout.String(),
		"discovery_timeout": s.DiscoveryTimeout.String(),
		"allowed_hosts":     append([]string(nil), s.AllowedHosts...),
	}
}

// SetData updates the configuration from the provided data.
func (s *ConnectorSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "connect_timeout":
			s.ConnectTimeout, err = durationValue(key, value)
		case "discovery_timeout":
			s.DiscoveryTimeout, err = durationValue(key, value)
		case "allowed_hosts":
			s.AllowedHosts, err = stringsValue(key, value)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Validate checks timeouts and that every host pattern compiles.
func (s *ConnectorSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %v", s.ConnectTimeout)
	}
	if s.DiscoveryTimeout <= 0 {
		return fmt.Errorf("discovery_timeout must be positive, got %v", s.DiscoveryTimeout)
	}
	for _, pattern := range s.AllowedHosts {
		if _, err := glob.Compile(pattern, '.'); err != nil {
			return fmt.Errorf("invalid allowed_hosts pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *ConnectorSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ConnectTimeout = defaultConnectTimeout
	s.DiscoveryTimeout = defaultDiscoveryTimeout
	s.AllowedHosts = nil
}

// GetConnectTimeout returns the default bound on a protocol attach.
func (s *ConnectorSection) GetConnectTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ConnectTimeout
}

// GetDiscoveryTimeout returns the bound on the /json/version lookup.
func (s *ConnectorSection) GetDiscoveryTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.DiscoveryTimeout
}

// GetAllowedHosts returns a copy of the host patterns.
func (s *ConnectorSection) GetAllowedHosts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.AllowedHosts...)
}

// SetAllowedHosts replaces the host patterns.
func (s *ConnectorSection) SetAllowedHosts(patterns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AllowedHosts = append([]string(nil), patterns...)
}
