package pool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browsermux/pkg/metrics"
)

type fakeContext struct {
	playwright.BrowserContext
	id     int
	closes atomic.Int32
}

func (c *fakeContext) Close(options ...playwright.BrowserContextCloseOptions) error {
	c.closes.Add(1)
	return nil
}

type fakeBrowser struct {
	playwright.Browser
	mu   sync.Mutex
	opts []playwright.BrowserNewContextOptions
}

func (b *fakeBrowser) NewContext(options ...playwright.BrowserNewContextOptions) (playwright.BrowserContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts = append(b.opts, options...)
	return &fakeContext{}, nil
}

// factory counts created contexts.
type factory struct {
	created atomic.Int32
	err     error
}

func (f *factory) create(ctx context.Context) (playwright.BrowserContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	n := f.created.Add(1)
	return &fakeContext{id: int(n)}, nil
}

func noReset(ctx context.Context, bc playwright.BrowserContext) error { return nil }

func newTestPool(t *testing.T, f *factory, opts ...Option) *Pool {
	t.Helper()
	opts = append([]Option{WithFactory(f.create), WithReset(noReset)}, opts...)
	p, err := New(nil, opts...)
	require.NoError(t, err)
	return p
}

func TestNew_RequiresBrowserOrFactory(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestPool_AcquireRelease_Reuses(t *testing.T) {
	f := &factory{}
	p := newTestPool(t, f)

	bc, err := p.AcquireContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Idle: 0, InUse: 1, Max: DefaultMaxContexts}, p.Stats())

	require.NoError(t, p.ReleaseContext(context.Background(), bc))
	assert.Equal(t, Stats{Idle: 1, InUse: 0, Max: DefaultMaxContexts}, p.Stats())

	again, err := p.AcquireContext(context.Background())
	require.NoError(t, err)
	assert.Same(t, bc, again)
	assert.Equal(t, int32(1), f.created.Load())
}

func TestPool_NeverLendsSameContextTwice(t *testing.T) {
	f := &factory{}
	p := newTestPool(t, f, WithMaxContexts(8))

	var (
		mu   sync.Mutex
		seen = make(map[playwright.BrowserContext]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bc, err := p.AcquireContext(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[bc])
			seen[bc] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8)
}

func TestPool_BlocksAtCapacity(t *testing.T) {
	p := newTestPool(t, &factory{}, WithMaxContexts(1), WithAcquireTimeout(time.Second))

	first, err := p.AcquireContext(context.Background())
	require.NoError(t, err)

	got := make(chan playwright.BrowserContext, 1)
	go func() {
		bc, err := p.AcquireContext(context.Background())
		if err == nil {
			got <- bc
		}
	}()

	select {
	case <-got:
		t.Fatal("acquired past capacity")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, p.ReleaseContext(context.Background(), first))

	select {
	case bc := <-got:
		assert.Same(t, first, bc)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestPool_AcquireTimeout(t *testing.T) {
	p := newTestPool(t, &factory{}, WithMaxContexts(1), WithAcquireTimeout(20*time.Millisecond))

	_, err := p.AcquireContext(context.Background())
	require.NoError(t, err)

	_, err = p.AcquireContext(context.Background())
	assert.ErrorIs(t, err, ErrAcquireTimeout)
}

func TestPool_AcquireCanceled(t *testing.T) {
	p := newTestPool(t, &factory{}, WithMaxContexts(1))

	_, err := p.AcquireContext(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.AcquireContext(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPool_FactoryErrorFreesSlot(t *testing.T) {
	f := &factory{err: errors.New("boom")}
	p := newTestPool(t, f, WithMaxContexts(1), WithAcquireTimeout(20*time.Millisecond))

	_, err := p.AcquireContext(context.Background())
	assert.ErrorContains(t, err, "boom")

	f.err = nil
	_, err = p.AcquireContext(context.Background())
	assert.NoError(t, err)
}

func TestPool_ReleaseUnknown(t *testing.T) {
	p := newTestPool(t, &factory{})

	err := p.ReleaseContext(context.Background(), &fakeContext{})
	assert.ErrorIs(t, err, ErrUnknownContext)

	bc, err := p.AcquireContext(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.ReleaseContext(context.Background(), bc))
	assert.ErrorIs(t, p.ReleaseContext(context.Background(), bc), ErrUnknownContext)
}

func TestPool_ResetFailureDiscardsContext(t *testing.T) {
	f := &factory{}
	p := newTestPool(t, f, WithReset(func(ctx context.Context, bc playwright.BrowserContext) error {
		return errors.New("dirty")
	}))

	bc, err := p.AcquireContext(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.ReleaseContext(context.Background(), bc))

	assert.Equal(t, int32(1), bc.(*fakeContext).closes.Load())
	assert.Equal(t, 0, p.Stats().Idle)

	next, err := p.AcquireContext(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, bc, next)
}

func TestPool_Close(t *testing.T) {
	f := &factory{}
	p := newTestPool(t, f)

	idle, err := p.AcquireContext(context.Background())
	require.NoError(t, err)
	busy, err := p.AcquireContext(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.ReleaseContext(context.Background(), idle))

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, int32(1), idle.(*fakeContext).closes.Load())
	assert.Equal(t, int32(0), busy.(*fakeContext).closes.Load())

	_, err = p.AcquireContext(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)

	// contexts on loan are closed when they come back
	require.NoError(t, p.ReleaseContext(context.Background(), busy))
	assert.Equal(t, int32(1), busy.(*fakeContext).closes.Load())

	assert.NoError(t, p.Close(context.Background()))
}

func TestPool_DefaultFactoryUsesBrowser(t *testing.T) {
	browser := &fakeBrowser{}
	p, err := New(browser, WithIgnoreHTTPSErrors(true), WithReset(noReset))
	require.NoError(t, err)

	_, err = p.AcquireContext(context.Background())
	require.NoError(t, err)

	require.Len(t, browser.opts, 1)
	require.NotNil(t, browser.opts[0].IgnoreHttpsErrors)
	assert.True(t, *browser.opts[0].IgnoreHttpsErrors)
	assert.Same(t, browser, p.Browser())
}

func TestPool_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("browsermux", reg)
	p := newTestPool(t, &factory{}, WithMetrics(collector))

	a, err := p.AcquireContext(context.Background())
	require.NoError(t, err)
	_, err = p.AcquireContext(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.ReleaseContext(context.Background(), a))

	expected := `
# HELP browsermux_pool_contexts Pooled browser contexts, by state
# TYPE browsermux_pool_contexts gauge
browsermux_pool_contexts{state="idle"} 1
browsermux_pool_contexts{state="in_use"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "browsermux_pool_contexts"))
}
