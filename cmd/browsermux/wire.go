package main

import (
	"io"
	"os"

	"github.com/entrhq/browsermux/pkg/browser"
	"github.com/entrhq/browsermux/pkg/browser/pool"
	"github.com/entrhq/browsermux/pkg/config"
	"github.com/entrhq/browsermux/pkg/logging"
	"github.com/entrhq/browsermux/pkg/metrics"
)

// sessionOptions maps the sessions section onto manager options.
func sessionOptions(s *config.SessionsSection, logger *logging.Logger, collector *metrics.Collector) []browser.ManagerOption {
	opts := []browser.ManagerOption{
		browser.WithManagerLogger(logger),
		browser.WithManagerMetrics(collector),
	}
	if s == nil {
		return opts
	}
	return append(opts,
		browser.WithDefaultTimeout(s.GetDefaultTimeout()),
		browser.WithSweepInterval(s.GetSweepInterval()),
		browser.WithActionTimeout(s.GetActionTimeout()),
		browser.WithRefPrefix(s.GetRefPrefix()),
		browser.WithMaxSessions(s.GetMaxSessions()),
	)
}

// connectorOptions maps the connector section onto connector options.
func connectorOptions(s *config.ConnectorSection, logger *logging.Logger, collector *metrics.Collector) []browser.ConnectorOption {
	opts := []browser.ConnectorOption{
		browser.WithConnectorLogger(logger),
		browser.WithConnectorMetrics(collector),
	}
	if s == nil {
		return opts
	}
	return append(opts,
		browser.WithConnectTimeout(s.GetConnectTimeout()),
		browser.WithDiscoveryTimeout(s.GetDiscoveryTimeout()),
		browser.WithAllowedHosts(s.GetAllowedHosts()...),
	)
}

// poolOptions maps the pool section onto pool options.
func poolOptions(s *config.PoolSection, logger *logging.Logger, collector *metrics.Collector) []pool.Option {
	opts := []pool.Option{
		pool.WithLogger(logger),
		pool.WithMetrics(collector),
	}
	if s == nil {
		return opts
	}
	return append(opts,
		pool.WithMaxContexts(s.GetMaxContexts()),
		pool.WithAcquireTimeout(s.GetAcquireTimeout()),
		pool.WithIgnoreHTTPSErrors(s.GetIgnoreHTTPSErrors()),
	)
}

// rootLogger returns the daemon's file logger tuned to verbosity, or a discard
// logger in quiet mode. NewLogger already falls back to stderr when the log file
// cannot be opened.
func rootLogger(verbosity string) *logging.Logger {
	if verbosity == VerbosityQuiet {
		return logging.Nop()
	}
	logger, _ := logging.NewLogger("browsermux")
	applyVerbosity(logger, verbosity, os.Stderr)
	return logger
}

// applyVerbosity sets the level: normal hides debug entries, verbose keeps them
// and debug also mirrors every entry to stderr.
func applyVerbosity(logger *logging.Logger, verbosity string, stderr io.Writer) {
	switch verbosity {
	case VerbosityVerbose:
		logger.SetLevel(logging.LevelDebug)
	case VerbosityDebug:
		logger.SetLevel(logging.LevelDebug)
		logger.Mirror(stderr)
	default:
		logger.SetLevel(logging.LevelInfo)
	}
}
