// Package main provides the browsermux daemon. It attaches to a running Chromium
// (or launches one), pools its contexts and keeps a registry of automation
// sessions until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/playwright-community/playwright-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/entrhq/browsermux/pkg/browser"
	"github.com/entrhq/browsermux/pkg/browser/pool"
	appconfig "github.com/entrhq/browsermux/pkg/config"
	"github.com/entrhq/browsermux/pkg/metrics"
)

const (
	version = "0.1.0"

	// shutdownTimeout bounds session teardown and listener shutdown
	shutdownTimeout = 30 * time.Second
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	WSEndpoint  string
	Port        int
	ConfigPath  string
	RunFile     string
	MetricsAddr string
	Probe       bool
	ShowVersion bool
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Ignoring .env: %v", err)
	}

	cli, set := parseFlags(os.Args[1:])

	if cli.ShowVersion {
		fmt.Printf("browsermux v%s\n", version)
		return
	}

	cfg, err := buildRunConfig(cli, set, os.Getenv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cli.Probe {
		os.Exit(probe(ctx, cfg))
	}

	if err := run(ctx, cfg); err != nil {
		stop()
		log.Printf("browsermux failed: %v", err)
		os.Exit(1)
	}
}

// parseFlags parses args and reports which flags were set explicitly.
func parseFlags(args []string) (*CLIConfig, map[string]bool) {
	cli := &CLIConfig{}
	fset := flag.NewFlagSet("browsermux", flag.ExitOnError)

	fset.StringVar(&cli.WSEndpoint, "ws-endpoint", "", "Attach to a browser at this ws:// or wss:// URL")
	fset.IntVar(&cli.Port, "port", 0, "Attach to a browser listening on this remote debugging port")
	fset.StringVar(&cli.ConfigPath, "config", "", "Path to the JSON settings file")
	fset.StringVar(&cli.RunFile, "run-file", "", "Path to a YAML run file")
	fset.StringVar(&cli.MetricsAddr, "metrics-addr", "", "Listen address for /metrics and /sessions")
	fset.BoolVar(&cli.Probe, "probe", false, "Report whether -port exposes a debugging endpoint and exit")
	fset.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	fset.Usage = func() {
		fmt.Fprintf(os.Stderr, "browsermux - browser session manager\n\n")
		fmt.Fprintf(os.Stderr, "Usage: browsermux [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fset.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Attach to Chrome started with --remote-debugging-port=9222\n")
		fmt.Fprintf(os.Stderr, "  browsermux -port 9222\n\n")
		fmt.Fprintf(os.Stderr, "  # Run from a YAML run file\n")
		fmt.Fprintf(os.Stderr, "  browsermux -run-file browsermux.yaml\n\n")
	}

	_ = fset.Parse(args)

	set := make(map[string]bool)
	fset.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return cli, set
}

// buildRunConfig layers run file, environment and explicit flags, in that order.
func buildRunConfig(cli *CLIConfig, set map[string]bool, getenv func(string) string) (*RunConfig, error) {
	cfg, err := loadRunConfig(cli.RunFile)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}

	if set["ws-endpoint"] {
		cfg.WSEndpoint = cli.WSEndpoint
	}
	if set["port"] {
		cfg.Port = cli.Port
	}
	if set["config"] {
		cfg.ConfigPath = cli.ConfigPath
	}
	if set["metrics-addr"] {
		cfg.MetricsAddr = cli.MetricsAddr
	}

	if cli.Probe {
		if cfg.Port <= 0 {
			return nil, fmt.Errorf("-probe requires a port")
		}
		return cfg, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// probe prints whether the configured port advertises a debugging endpoint.
// The exit code is 0 when it does.
func probe(ctx context.Context, cfg *RunConfig) int {
	connector, err := browser.NewConnector(nil)
	if err != nil {
		log.Printf("Probe failed: %v", err)
		return 1
	}
	if connector.IsPortAvailable(ctx, cfg.Port) {
		fmt.Printf("port %d: remote debugging endpoint available\n", cfg.Port)
		return 0
	}
	fmt.Printf("port %d: no remote debugging endpoint\n", cfg.Port)
	return 1
}

// run starts the daemon and blocks until ctx is canceled.
//
//nolint:gocyclo
func run(ctx context.Context, cfg *RunConfig) error {
	if err := appconfig.Initialize(cfg.ConfigPath); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	logger := rootLogger(cfg.LogVerbosity)
	defer logger.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector("browsermux", reg)

	var (
		contexts  *pool.Pool
		connector *browser.Connector
		pw        *playwright.Playwright
		err       error
	)

	poolOpts := poolOptions(appconfig.GetPool(), logger.With("pool"), collector)

	if cfg.Launch != nil {
		contexts, err = pool.Launch(pool.LaunchOptions{
			Headless: cfg.Launch.Headless,
			Args:     cfg.Launch.Args,
		}, poolOpts...)
		if err != nil {
			return err
		}
		logger.Infof("Launched local chromium (headless=%t)", cfg.Launch.Headless)
	} else {
		pw, err = playwright.Run()
		if err != nil {
			return fmt.Errorf("failed to start playwright: %w", err)
		}
		defer func() {
			if stopErr := pw.Stop(); stopErr != nil {
				logger.Warnf("Stopping playwright failed: %v", stopErr)
			}
		}()

		connector, err = browser.NewConnector(pw.Chromium,
			connectorOptions(appconfig.GetConnector(), logger.With("connector"), collector)...)
		if err != nil {
			return err
		}
		defer connector.Close()

		conn, connErr := connector.Connect(ctx, browser.ConnectOptions{
			WSEndpoint: cfg.WSEndpoint,
			Port:       cfg.Port,
		})
		if connErr != nil {
			return connErr
		}

		contexts, err = pool.New(conn.Browser, poolOpts...)
		if err != nil {
			return err
		}
	}

	manager := browser.NewSessionManager(contexts,
		sessionOptions(appconfig.GetSessions(), logger.With("sessions"), collector)...)

	var server *http.Server
	if cfg.MetricsAddr != "" {
		server = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           newMux(reg, manager),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Errorf("Metrics listener failed: %v", serveErr)
			}
		}()
		logger.Infof("Serving metrics on %s", cfg.MetricsAddr)
	}

	log.Printf("browsermux v%s ready (log: %s)", version, logger.LogPath())
	<-ctx.Done()
	log.Printf("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	manager.Shutdown(shutdownCtx)
	if closeErr := contexts.Close(shutdownCtx); closeErr != nil {
		logger.Warnf("Closing context pool failed: %v", closeErr)
	}
	if server != nil {
		if closeErr := server.Shutdown(shutdownCtx); closeErr != nil {
			logger.Warnf("Stopping metrics listener failed: %v", closeErr)
		}
	}
	return nil
}

// newMux serves Prometheus metrics and a JSON listing of live sessions.
func newMux(reg *prometheus.Registry, manager *browser.SessionManager) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(manager.ListSessions())
	})
	return mux
}
