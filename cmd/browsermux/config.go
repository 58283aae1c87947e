package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Log verbosity levels accepted in the run file.
const (
	VerbosityQuiet   = "quiet"
	VerbosityNormal  = "normal"
	VerbosityVerbose = "verbose"
	VerbosityDebug   = "debug"
)

// Environment variables that override the run file.
const (
	envWSEndpoint  = "BROWSERMUX_WS_ENDPOINT"
	envCDPPort     = "BROWSERMUX_CDP_PORT"
	envMetricsAddr = "BROWSERMUX_METRICS_ADDR"
)

// RunConfig describes one daemon run: which browser to drive and where to expose metrics.
type RunConfig struct {
	// WSEndpoint attaches to a running browser at this ws:// or wss:// URL
	WSEndpoint string `yaml:"ws_endpoint" json:"ws_endpoint"`

	// Port attaches to a running browser by discovering its endpoint on localhost
	Port int `yaml:"port" json:"port"`

	// Launch starts a local Chromium instead of attaching
	Launch *LaunchConfig `yaml:"launch" json:"launch"`

	// MetricsAddr serves /metrics and /sessions; empty disables the listener
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`

	// ConfigPath points at the JSON settings file; empty uses ~/.browsermux/config.json
	ConfigPath string `yaml:"config_path" json:"config_path"`

	// LogVerbosity is one of quiet (no log file), normal (info and up),
	// verbose (adds debug entries) or debug (verbose, mirrored to stderr)
	LogVerbosity string `yaml:"log_verbosity" json:"log_verbosity"`
}

// LaunchConfig controls a locally launched browser.
type LaunchConfig struct {
	Headless bool     `yaml:"headless" json:"headless"`
	Args     []string `yaml:"args" json:"args"`
}

// DefaultRunConfig returns a run config with sensible defaults.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		MetricsAddr:  "127.0.0.1:9464",
		LogVerbosity: VerbosityNormal,
	}
}

// Validate validates the run config
func (c *RunConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}

	attach := c.WSEndpoint != "" || c.Port != 0
	if attach && c.Launch != nil {
		return fmt.Errorf("launch cannot be combined with ws_endpoint or port")
	}
	if !attach && c.Launch == nil {
		return fmt.Errorf("one of ws_endpoint, port or launch is required")
	}

	switch c.LogVerbosity {
	case "", VerbosityQuiet, VerbosityNormal, VerbosityVerbose, VerbosityDebug:
	default:
		return fmt.Errorf("invalid log_verbosity: %s (must be quiet, normal, verbose or debug)", c.LogVerbosity)
	}

	return nil
}

// loadRunConfig reads a YAML run file over the defaults.
func loadRunConfig(path string) (*RunConfig, error) {
	cfg := DefaultRunConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse run file: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides cfg with any BROWSERMUX_* variables that are set.
func applyEnv(cfg *RunConfig, getenv func(string) string) error {
	if v := getenv(envWSEndpoint); v != "" {
		cfg.WSEndpoint = v
	}
	if v := getenv(envCDPPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envCDPPort, err)
		}
		cfg.Port = port
	}
	if v := getenv(envMetricsAddr); v != "" {
		cfg.MetricsAddr = v
	}
	return nil
}
