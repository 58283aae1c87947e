package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"
)

// pwLocator aliases playwright.Locator so the embedded field is not named
// Locator, which would shadow the interface's Locator method.
type pwLocator = playwright.Locator

// fakeLocator records how it was built.
type fakeLocator struct {
	pwLocator
	selector string
	role     playwright.AriaRole
	opts     playwright.PageGetByRoleOptions
	nth      *int
}

func (l *fakeLocator) Nth(index int) playwright.Locator {
	cp := *l
	cp.nth = &index
	return &cp
}

type fakePage struct {
	playwright.Page
	url            string
	closeErr       error
	closes         atomic.Int32
	viewportErr    error
	viewport       [2]int
	defaultTimeout float64
}

func (p *fakePage) Close(options ...playwright.PageCloseOptions) error {
	p.closes.Add(1)
	return p.closeErr
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) SetViewportSize(width, height int) error {
	if p.viewportErr != nil {
		return p.viewportErr
	}
	p.viewport = [2]int{width, height}
	return nil
}

func (p *fakePage) SetDefaultTimeout(timeout float64) { p.defaultTimeout = timeout }

func (p *fakePage) Locator(selector string, options ...playwright.PageLocatorOptions) playwright.Locator {
	return &fakeLocator{selector: selector}
}

func (p *fakePage) GetByRole(role playwright.AriaRole, options ...playwright.PageGetByRoleOptions) playwright.Locator {
	l := &fakeLocator{role: role}
	if len(options) > 0 {
		l.opts = options[0]
	}
	return l
}

type fakeContext struct {
	playwright.BrowserContext
	id      int
	page    *fakePage
	pageErr error
	closes  atomic.Int32
}

func (c *fakeContext) NewPage() (playwright.Page, error) {
	if c.pageErr != nil {
		return nil, c.pageErr
	}
	if c.page == nil {
		c.page = &fakePage{}
	}
	return c.page, nil
}

func (c *fakeContext) Close(options ...playwright.BrowserContextCloseOptions) error {
	c.closes.Add(1)
	return nil
}

// fakePool hands out fresh fakeContexts and counts releases per context.
type fakePool struct {
	mu          sync.Mutex
	next        int
	acquireErr  error
	releaseErr  error
	pageErr     error
	viewportErr error
	pageURL     string
	acquired    []*fakeContext
	releases    map[playwright.BrowserContext]int
	releaseDur  time.Duration
}

func newFakePool() *fakePool {
	return &fakePool{releases: make(map[playwright.BrowserContext]int)}
}

func (p *fakePool) AcquireContext(ctx context.Context) (playwright.BrowserContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.next++
	bc := &fakeContext{id: p.next, pageErr: p.pageErr, page: &fakePage{url: p.pageURL, viewportErr: p.viewportErr}}
	p.acquired = append(p.acquired, bc)
	return bc, nil
}

func (p *fakePool) ReleaseContext(ctx context.Context, bc playwright.BrowserContext) error {
	if p.releaseDur > 0 {
		time.Sleep(p.releaseDur)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases[bc]++
	return p.releaseErr
}

func (p *fakePool) releaseCount(bc playwright.BrowserContext) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releases[bc]
}

func (p *fakePool) totalReleases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.releases {
		total += n
	}
	return total
}

// fakeBrowser is an attached remote browser.
type fakeBrowser struct {
	playwright.Browser
	mu           sync.Mutex
	connected    bool
	closes       atomic.Int32
	closeErr     error
	contexts     []playwright.BrowserContext
	newContexts  atomic.Int32
	newCtxOpts   []playwright.BrowserNewContextOptions
	onDisconnect []func(playwright.Browser)
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{connected: true}
}

func (b *fakeBrowser) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBrowser) Version() string { return "fake/1.0" }

func (b *fakeBrowser) OnDisconnected(fn func(playwright.Browser)) {
	b.mu.Lock()
	b.onDisconnect = append(b.onDisconnect, fn)
	b.mu.Unlock()
}

// drop simulates the remote browser going away.
func (b *fakeBrowser) drop() {
	b.mu.Lock()
	b.connected = false
	handlers := append([]func(playwright.Browser){}, b.onDisconnect...)
	b.mu.Unlock()
	for _, fn := range handlers {
		fn(b)
	}
}

func (b *fakeBrowser) Close(options ...playwright.BrowserCloseOptions) error {
	b.closes.Add(1)
	return b.closeErr
}

func (b *fakeBrowser) Contexts() []playwright.BrowserContext { return b.contexts }

func (b *fakeBrowser) NewContext(options ...playwright.BrowserNewContextOptions) (playwright.BrowserContext, error) {
	b.newContexts.Add(1)
	b.mu.Lock()
	b.newCtxOpts = append(b.newCtxOpts, options...)
	b.mu.Unlock()
	return &fakeContext{}, nil
}

// fakeAttacher returns a preset browser or error, optionally after a delay.
type fakeAttacher struct {
	browser  *fakeBrowser
	err      error
	delay    time.Duration
	calls    atomic.Int32
	lastURL  atomic.Value
	lastOpts []playwright.BrowserTypeConnectOverCDPOptions
}

func (a *fakeAttacher) ConnectOverCDP(endpointURL string, options ...playwright.BrowserTypeConnectOverCDPOptions) (playwright.Browser, error) {
	a.calls.Add(1)
	a.lastURL.Store(endpointURL)
	a.lastOpts = options
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.err != nil {
		return nil, a.err
	}
	return a.browser, nil
}

var errBoom = errors.New("boom")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
