package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/browsermux/pkg/logging"
	"github.com/entrhq/browsermux/pkg/metrics"
)

// Attacher performs the protocol attach. playwright.BrowserType satisfies it.
type Attacher interface {
	ConnectOverCDP(endpointURL string, options ...playwright.BrowserTypeConnectOverCDPOptions) (playwright.Browser, error)
}

// ConnectOptions describes where to attach. WSEndpoint wins over Port.
type ConnectOptions struct {
	WSEndpoint string
	Port       int
	// Timeout bounds the attach; zero uses the connector default
	Timeout time.Duration
}

// ConnectionState is attached until the connection is detached; detached is terminal.
type ConnectionState string

const (
	StateAttached ConnectionState = "attached"
	StateDetached ConnectionState = "detached"
)

// Connection is one attachment to an externally launched browser.
type Connection struct {
	// WSEndpoint is the connection's identity in the connector registry
	WSEndpoint string

	// Browser is owned by the automation engine; the connector only tracks it
	Browser playwright.Browser

	// IsExternal is always true: disconnecting never terminates the browser process
	IsExternal bool

	ConnectedAt time.Time

	mu        sync.Mutex
	state     ConnectionState
	closeOnce sync.Once
}

// State reports whether the connection is still attached.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) markDetached() {
	c.mu.Lock()
	c.state = StateDetached
	c.mu.Unlock()
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithConnectTimeout sets the default attach timeout.
func WithConnectTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) { c.connectTimeout = d }
}

// WithDiscoveryTimeout bounds the /json/version lookup.
func WithDiscoveryTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) { c.discoveryTimeout = d }
}

// WithDiscoveryHost replaces "localhost" in the discovery URL.
func WithDiscoveryHost(host string) ConnectorOption {
	return func(c *Connector) { c.discoveryHost = host }
}

// WithHTTPClient sets the client used for endpoint discovery.
func WithHTTPClient(client *http.Client) ConnectorOption {
	return func(c *Connector) { c.httpClient = client }
}

// WithAllowedHosts restricts endpoints, explicit or discovered, to hosts matching
// one of the glob patterns. An empty list allows any host.
func WithAllowedHosts(patterns ...string) ConnectorOption {
	return func(c *Connector) { c.hostPatterns = append(c.hostPatterns, patterns...) }
}

// WithConnectorLogger sets the connector's logger.
func WithConnectorLogger(logger *logging.Logger) ConnectorOption {
	return func(c *Connector) { c.logger = logger }
}

// WithConnectorMetrics reports connection counts to collector.
func WithConnectorMetrics(collector *metrics.Collector) ConnectorOption {
	return func(c *Connector) { c.metrics = collector }
}

// Connector attaches to running browsers and tracks one Connection per endpoint.
type Connector struct {
	attacher         Attacher
	httpClient       *http.Client
	connectTimeout   time.Duration
	discoveryTimeout time.Duration
	discoveryHost    string
	hostPatterns     []string
	allowedHosts     []glob.Glob
	logger           *logging.Logger
	metrics          *metrics.Collector

	mu          sync.Mutex
	connections map[string]*Connection
}

// NewConnector creates a connector. It fails only if an allowed host pattern
// does not compile.
func NewConnector(attacher Attacher, opts ...ConnectorOption) (*Connector, error) {
	c := &Connector{
		attacher:         attacher,
		httpClient:       http.DefaultClient,
		connectTimeout:   DefaultConnectTimeout,
		discoveryTimeout: DefaultDiscoveryTimeout,
		discoveryHost:    "localhost",
		logger:           logging.Nop(),
		connections:      make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, pattern := range c.hostPatterns {
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("invalid allowed host pattern %q: %w", pattern, err)
		}
		c.allowedHosts = append(c.allowedHosts, g)
	}

	return c, nil
}

// Connect resolves an endpoint and attaches to it.
//
// An explicit WSEndpoint must use ws: or wss: and is validated without any network
// call. A Port is resolved through http://localhost:<port>/json/version and the
// advertised URL passes the same checks. The attach is bounded by opts.Timeout and
// by ctx; on failure nothing is registered. Connecting again to a tracked endpoint
// detaches the previous connection.
func (c *Connector) Connect(ctx context.Context, opts ConnectOptions) (*Connection, error) {
	endpoint, err := c.resolveEndpoint(ctx, opts)
	if err != nil {
		c.metrics.ConnectAttempt(false)
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.connectTimeout
	}

	browser, err := c.attach(ctx, endpoint, timeout)
	if err != nil {
		c.metrics.ConnectAttempt(false)
		return nil, err
	}

	conn := &Connection{
		WSEndpoint:  endpoint,
		Browser:     browser,
		IsExternal:  true,
		ConnectedAt: time.Now(),
		state:       StateAttached,
	}

	c.mu.Lock()
	old := c.connections[endpoint]
	c.connections[endpoint] = conn
	count := len(c.connections)
	c.mu.Unlock()

	if old != nil {
		c.logger.Warnf("Replacing tracked connection for %s", endpoint)
		old.markDetached()
		c.release(old)
	}

	browser.OnDisconnected(func(playwright.Browser) {
		c.logger.Infof("Remote browser at %s disconnected", endpoint)
		c.forget(conn)
	})
	if !browser.IsConnected() {
		c.forget(conn)
	}

	c.metrics.ConnectAttempt(true)
	c.metrics.SetActiveConnections(count)
	c.logger.Infof("Attached to %s (version %s)", endpoint, browser.Version())
	return conn, nil
}

func (c *Connector) resolveEndpoint(ctx context.Context, opts ConnectOptions) (string, error) {
	if opts.WSEndpoint != "" {
		return opts.WSEndpoint, c.validateEndpoint(opts.WSEndpoint)
	}

	if opts.Port != 0 {
		if opts.Port < 0 || opts.Port > 65535 {
			return "", &EndpointError{Endpoint: strconv.Itoa(opts.Port), Reason: "port out of range"}
		}
		endpoint := c.discover(ctx, opts.Port)
		if endpoint == "" {
			return "", &ConnectionError{
				Message: fmt.Sprintf("no remote debugging endpoint found on port %d; "+
					"launch the browser with --remote-debugging-port=%d", opts.Port, opts.Port),
			}
		}
		if err := c.validateEndpoint(endpoint); err != nil {
			return "", &ConnectionError{
				Endpoint: endpoint,
				Message:  fmt.Sprintf("port %d advertised an endpoint that was rejected", opts.Port),
				Cause:    err,
			}
		}
		return endpoint, nil
	}

	return "", &ConnectionError{Message: "one of wsEndpoint or port required"}
}

func (c *Connector) validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return &EndpointError{Endpoint: endpoint, Reason: err.Error()}
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return &EndpointError{Endpoint: endpoint, Reason: "scheme must be ws or wss"}
	}
	if u.Host == "" {
		return &EndpointError{Endpoint: endpoint, Reason: "missing host"}
	}
	if !c.hostAllowed(u.Hostname()) {
		return &EndpointError{Endpoint: endpoint, Reason: fmt.Sprintf("host %q is not allowed", u.Hostname())}
	}
	return nil
}

func (c *Connector) hostAllowed(host string) bool {
	if len(c.allowedHosts) == 0 {
		return true
	}
	for _, g := range c.allowedHosts {
		if g.Match(host) {
			return true
		}
	}
	return false
}

// discover returns the advertised WebSocket URL, or "" for any failure.
func (c *Connector) discover(ctx context.Context, port int) string {
	ctx, cancel := context.WithTimeout(ctx, c.discoveryTimeout)
	defer cancel()

	discoveryURL := fmt.Sprintf("http://%s/json/version", net.JoinHostPort(c.discoveryHost, strconv.Itoa(port)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		c.logger.Debugf("Discovery request for %s failed: %v", discoveryURL, err)
		return ""
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debugf("Discovery at %s unreachable: %v", discoveryURL, err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debugf("Discovery at %s returned HTTP %d", discoveryURL, resp.StatusCode)
		return ""
	}

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		c.logger.Debugf("Discovery at %s returned invalid JSON: %v", discoveryURL, err)
		return ""
	}
	return version.WebSocketDebuggerURL
}

type attachResult struct {
	browser playwright.Browser
	err     error
}

func (c *Connector) attach(ctx context.Context, endpoint string, timeout time.Duration) (playwright.Browser, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attachResult, 1)
	go func() {
		b, err := c.attacher.ConnectOverCDP(endpoint, playwright.BrowserTypeConnectOverCDPOptions{
			Timeout: playwright.Float(float64(timeout.Milliseconds())),
		})
		done <- attachResult{browser: b, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, &ConnectionError{Endpoint: endpoint, Message: "failed to attach to browser", Cause: res.err}
		}
		return res.browser, nil
	case <-ctx.Done():
		// A late success must not leak a client handle
		go func() {
			if res := <-done; res.browser != nil {
				_ = res.browser.Close()
			}
		}()
		return nil, &ConnectionError{Endpoint: endpoint, Message: "timed out attaching to browser", Cause: ctx.Err()}
	}
}

// forget drops conn from the registry if it is still the tracked entry.
func (c *Connector) forget(conn *Connection) {
	conn.markDetached()

	c.mu.Lock()
	if c.connections[conn.WSEndpoint] == conn {
		delete(c.connections, conn.WSEndpoint)
	}
	count := len(c.connections)
	c.mu.Unlock()

	c.metrics.SetActiveConnections(count)
}

// CreateContext returns the browser's first existing context, or a new one that
// ignores TLS errors. Externally launched browsers usually carry a default context
// with the user's state.
func (c *Connector) CreateContext(conn *Connection) (playwright.BrowserContext, error) {
	if conn.State() == StateDetached {
		return nil, ErrConnectionDetached
	}

	if existing := conn.Browser.Contexts(); len(existing) > 0 {
		return existing[0], nil
	}

	bc, err := conn.Browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create context on %s: %w", conn.WSEndpoint, err)
	}
	return bc, nil
}

// Disconnect releases the local client handle. The remote browser keeps running.
// Detach failures are logged, never returned.
func (c *Connector) Disconnect(conn *Connection) {
	if conn == nil {
		return
	}

	c.forget(conn)
	c.release(conn)
}

// release closes the local client handle once.
func (c *Connector) release(conn *Connection) {
	conn.closeOnce.Do(func() {
		// Close on a CDP-attached browser only drops the client connection
		if err := conn.Browser.Close(); err != nil {
			c.logger.Warnf("Detaching from %s failed: %v", conn.WSEndpoint, err)
			return
		}
		c.logger.Infof("Detached from %s", conn.WSEndpoint)
	})
}

// Close disconnects every tracked connection.
func (c *Connector) Close() {
	c.mu.Lock()
	conns := make([]*Connection, 0, len(c.connections))
	for _, conn := range c.connections {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		c.Disconnect(conn)
	}
}

// ActiveConnectionCount returns the number of tracked connections.
func (c *Connector) ActiveConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connections)
}

// IsPortAvailable reports whether a browser on port advertises a debugging endpoint.
func (c *Connector) IsPortAvailable(ctx context.Context, port int) bool {
	if port <= 0 || port > 65535 {
		return false
	}
	return c.discover(ctx, port) != ""
}
