// Package pool lends out reusable browser contexts with a hard cap on how many
// are in use at once.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/entrhq/browsermux/pkg/browser"
	"github.com/entrhq/browsermux/pkg/logging"
	"github.com/entrhq/browsermux/pkg/metrics"
)

// Defaults for a new pool.
const (
	DefaultMaxContexts    = 5
	DefaultAcquireTimeout = 30 * time.Second
)

var (
	// ErrPoolClosed is returned by AcquireContext after Close.
	ErrPoolClosed = errors.New("context pool is closed")

	// ErrAcquireTimeout is returned when no context frees up in time.
	ErrAcquireTimeout = errors.New("timed out waiting for a free browser context")

	// ErrUnknownContext is returned when releasing a context this pool does not have on loan.
	ErrUnknownContext = errors.New("context was not acquired from this pool")
)

// Factory creates a fresh browser context.
type Factory func(ctx context.Context) (playwright.BrowserContext, error)

// ResetFunc scrubs a released context before it is lent out again.
type ResetFunc func(ctx context.Context, bc playwright.BrowserContext) error

// Option configures a Pool.
type Option func(*Pool)

// WithMaxContexts caps how many contexts may be on loan at once.
func WithMaxContexts(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxContexts = n
		}
	}
}

// WithAcquireTimeout bounds how long AcquireContext waits for a free slot.
func WithAcquireTimeout(d time.Duration) Option {
	return func(p *Pool) { p.acquireTimeout = d }
}

// WithIgnoreHTTPSErrors makes contexts created by the default factory accept
// invalid certificates.
func WithIgnoreHTTPSErrors(ignore bool) Option {
	return func(p *Pool) { p.ignoreHTTPSErrors = ignore }
}

// WithFactory replaces browser.NewContext as the source of new contexts.
func WithFactory(f Factory) Option {
	return func(p *Pool) { p.factory = f }
}

// WithReset replaces the default reset, which closes open pages and clears cookies.
func WithReset(r ResetFunc) Option {
	return func(p *Pool) { p.reset = r }
}

// WithLogger sets the pool's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithMetrics reports idle and in-use counts to collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(p *Pool) { p.metrics = collector }
}

// Stats is a snapshot of the pool's occupancy.
type Stats struct {
	Idle  int
	InUse int
	Max   int
}

var _ browser.ContextPool = (*Pool)(nil)

// Pool hands out browser contexts. It is safe for concurrent use.
type Pool struct {
	browser           playwright.Browser
	factory           Factory
	reset             ResetFunc
	logger            *logging.Logger
	metrics           *metrics.Collector
	maxContexts       int
	acquireTimeout    time.Duration
	ignoreHTTPSErrors bool

	sem *semaphore.Weighted

	mu     sync.Mutex
	idle   []playwright.BrowserContext
	inUse  map[playwright.BrowserContext]struct{}
	closed bool

	// set by Launch; stopped on Close
	pw *playwright.Playwright
}

// New creates a pool over b. b may be nil when WithFactory is given.
func New(b playwright.Browser, opts ...Option) (*Pool, error) {
	p := &Pool{
		browser:        b,
		logger:         logging.Nop(),
		maxContexts:    DefaultMaxContexts,
		acquireTimeout: DefaultAcquireTimeout,
		inUse:          make(map[playwright.BrowserContext]struct{}),
		reset:          resetContext,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.factory == nil {
		if b == nil {
			return nil, fmt.Errorf("pool needs a browser or a context factory")
		}
		p.factory = p.newContext
	}
	p.sem = semaphore.NewWeighted(int64(p.maxContexts))

	p.logger.Infof("Context pool ready (max %d)", p.maxContexts)
	return p, nil
}

// LaunchOptions controls the browser started by Launch.
type LaunchOptions struct {
	Headless bool
	Args     []string
}

// Launch starts a local Chromium through Playwright and pools its contexts.
// Close stops both the browser and the Playwright driver.
func Launch(launch LaunchOptions, opts ...Option) (*Pool, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	chromium, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(launch.Headless),
		Args:     launch.Args,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	p, err := New(chromium, opts...)
	if err != nil {
		_ = chromium.Close()
		_ = pw.Stop()
		return nil, err
	}
	p.pw = pw
	return p, nil
}

// Browser returns the browser contexts are created on, or nil for factory pools.
func (p *Pool) Browser() playwright.Browser {
	return p.browser
}

func (p *Pool) newContext(ctx context.Context) (playwright.BrowserContext, error) {
	return p.browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(p.ignoreHTTPSErrors),
	})
}

func resetContext(ctx context.Context, bc playwright.BrowserContext) error {
	for _, page := range bc.Pages() {
		if err := page.Close(); err != nil {
			return fmt.Errorf("failed to close page: %w", err)
		}
	}
	if err := bc.ClearCookies(); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	return nil
}

// AcquireContext lends out an idle context, or creates one when none is idle.
// It blocks while the pool is at capacity, up to the acquire timeout.
func (p *Pool) AcquireContext(ctx context.Context) (playwright.BrowserContext, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	waitCtx := ctx
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}
	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w (%s)", ErrAcquireTimeout, p.acquireTimeout)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		bc := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse[bc] = struct{}{}
		p.mu.Unlock()
		p.report()
		p.logger.Debugf("Reusing idle context")
		return bc, nil
	}
	p.mu.Unlock()

	bc, err := p.factory(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		_ = bc.Close()
		return nil, ErrPoolClosed
	}
	p.inUse[bc] = struct{}{}
	p.mu.Unlock()
	p.report()
	p.logger.Debugf("Created new context")
	return bc, nil
}

// ReleaseContext returns bc to the pool. A context that fails to reset, or is
// released after Close, is closed instead of reused.
func (p *Pool) ReleaseContext(ctx context.Context, bc playwright.BrowserContext) error {
	p.mu.Lock()
	if _, ok := p.inUse[bc]; !ok {
		p.mu.Unlock()
		return ErrUnknownContext
	}
	delete(p.inUse, bc)
	closed := p.closed
	p.mu.Unlock()
	defer p.sem.Release(1)

	if closed {
		p.report()
		return closeContext(bc)
	}

	if err := p.reset(ctx, bc); err != nil {
		p.logger.Warnf("Discarding context that failed to reset: %v", err)
		p.report()
		_ = closeContext(bc)
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.report()
		return closeContext(bc)
	}
	p.idle = append(p.idle, bc)
	p.mu.Unlock()
	p.report()
	return nil
}

// Stats reports the current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: len(p.idle), InUse: len(p.inUse), Max: p.maxContexts}
}

// Close closes every idle context and, for launched pools, the browser itself.
// Contexts still on loan are closed as they are released.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, bc := range idle {
		bc := bc
		g.Go(func() error { return closeContext(bc) })
	}
	err := g.Wait()
	p.report()

	if p.pw != nil {
		if cerr := p.browser.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close browser: %w", cerr))
		}
		if serr := p.pw.Stop(); serr != nil {
			err = errors.Join(err, fmt.Errorf("failed to stop playwright: %w", serr))
		}
	}

	p.logger.Infof("Context pool closed (%d idle contexts)", len(idle))
	return err
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) report() {
	if p.metrics == nil {
		return
	}
	s := p.Stats()
	p.metrics.SetPoolContexts(s.Idle, s.InUse)
}

func closeContext(bc playwright.BrowserContext) error {
	if err := bc.Close(); err != nil {
		return fmt.Errorf("failed to close context: %w", err)
	}
	return nil
}
