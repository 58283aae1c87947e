package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/browsermux/pkg/logging"
	"github.com/entrhq/browsermux/pkg/metrics"
)

// ContextPool lends out browser contexts. It must never hand the same context to
// two concurrent AcquireContext callers.
type ContextPool interface {
	AcquireContext(ctx context.Context) (playwright.BrowserContext, error)
	ReleaseContext(ctx context.Context, bc playwright.BrowserContext) error
}

// ManagerOption configures a SessionManager.
type ManagerOption func(*SessionManager)

// WithDefaultTimeout sets the TTL used when CreateOptions.Timeout is zero.
func WithDefaultTimeout(d time.Duration) ManagerOption {
	return func(m *SessionManager) { m.defaultTimeout = d }
}

// WithActionTimeout sets the default timeout applied to every session page.
func WithActionTimeout(d time.Duration) ManagerOption {
	return func(m *SessionManager) { m.actionTimeout = d }
}

// WithSweepInterval sets how often expired sessions are swept. A non-positive
// interval disables the background sweep; SweepExpired still works.
func WithSweepInterval(d time.Duration) ManagerOption {
	return func(m *SessionManager) { m.sweepInterval = d }
}

// WithRefPrefix changes the sigil that marks a selector as a ref.
func WithRefPrefix(prefix string) ManagerOption {
	return func(m *SessionManager) { m.refPrefix = prefix }
}

// WithMaxSessions caps the registry size. Zero means unlimited.
func WithMaxSessions(n int) ManagerOption {
	return func(m *SessionManager) { m.maxSessions = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *SessionManager) { m.now = now }
}

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(logger *logging.Logger) ManagerOption {
	return func(m *SessionManager) { m.logger = logger }
}

// WithManagerMetrics reports session counts to collector.
func WithManagerMetrics(collector *metrics.Collector) ManagerOption {
	return func(m *SessionManager) { m.metrics = collector }
}

// SessionManager is the registry of live sessions.
//
// Every teardown path (CloseSession, lazy expiry in GetSession, the sweep and
// Shutdown) first removes the session from the registry under the lock. Only the
// caller that removed it releases the context, so each context goes back to the
// pool exactly once.
type SessionManager struct {
	pool           ContextPool
	logger         *logging.Logger
	metrics        *metrics.Collector
	now            func() time.Time
	defaultTimeout time.Duration
	actionTimeout  time.Duration
	sweepInterval  time.Duration
	refPrefix      string
	maxSessions    int

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	stopSweep chan struct{}
	sweepDone chan struct{}
	stopOnce  sync.Once

	// background tracks teardowns started by lazy expiry
	background sync.WaitGroup
}

// NewSessionManager creates a manager over pool and starts the expiry sweep.
func NewSessionManager(pool ContextPool, opts ...ManagerOption) *SessionManager {
	m := &SessionManager{
		pool:           pool,
		logger:         logging.Nop(),
		now:            time.Now,
		defaultTimeout: DefaultSessionTimeout,
		actionTimeout:  DefaultActionTimeout,
		sweepInterval:  DefaultSweepInterval,
		refPrefix:      DefaultRefPrefix,
		sessions:       make(map[string]*Session),
		stopSweep:      make(chan struct{}),
		sweepDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.sweepInterval > 0 {
		go m.sweepLoop()
	} else {
		close(m.sweepDone)
	}
	return m
}

// CreateSession acquires a context, opens a page on it and registers the session.
// Pool errors are returned unchanged and nothing is registered on failure.
func (m *SessionManager) CreateSession(ctx context.Context, opts CreateOptions) (*Session, error) {
	if err := m.checkCapacity(); err != nil {
		return nil, err
	}

	bc, err := m.pool.AcquireContext(ctx)
	if err != nil {
		return nil, err
	}

	page, err := bc.NewPage()
	if err != nil {
		m.releaseContext(ctx, bc, "")
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	if opts.Viewport != nil {
		if err := page.SetViewportSize(opts.Viewport.Width, opts.Viewport.Height); err != nil {
			m.closePage(page, "")
			m.releaseContext(ctx, bc, "")
			return nil, fmt.Errorf("failed to set viewport: %w", err)
		}
	}
	page.SetDefaultTimeout(float64(m.actionTimeout.Milliseconds()))

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	now := m.now()
	session := &Session{
		Context:        bc,
		Page:           page,
		CreatedAt:      now,
		lastAccessedAt: now,
		expiresAt:      now.Add(timeout),
		refs:           make(map[string]RefData),
	}

	m.mu.Lock()
	if err := m.capacityLocked(); err != nil {
		m.mu.Unlock()
		m.closePage(page, "")
		m.releaseContext(ctx, bc, "")
		return nil, err
	}
	session.ID = m.newIDLocked(now)
	m.sessions[session.ID] = session
	active := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SessionCreated(active)
	m.logger.Infof("Created session %s (expires %s)", session.ID, session.expiresAt.Format(time.RFC3339))
	return session, nil
}

func (m *SessionManager) checkCapacity() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacityLocked()
}

func (m *SessionManager) capacityLocked() error {
	if m.closed {
		return ErrManagerClosed
	}
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return fmt.Errorf("%w (%d)", ErrMaxSessions, m.maxSessions)
	}
	return nil
}

// newIDLocked builds "session_<unix-ms>_<random>" and retries on the
// (practically impossible) registry collision.
func (m *SessionManager) newIDLocked(now time.Time) string {
	for {
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		id := fmt.Sprintf("session_%d_%s", now.UnixMilli(), suffix)
		if _, taken := m.sessions[id]; !taken {
			return id
		}
	}
}

// GetSession returns a live session and records the access.
//
// A session at or past its expiry is removed from the registry before this returns
// a *SessionExpiredError; its context is released in the background.
func (m *SessionManager) GetSession(id string) (*Session, error) {
	now := m.now()

	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, &SessionNotFoundError{ID: id}
	}
	if session.expired(now) {
		delete(m.sessions, id)
		active := len(m.sessions)
		m.background.Add(1)
		m.mu.Unlock()

		go func() {
			defer m.background.Done()
			m.teardown(context.Background(), session, metrics.ReasonExpired, active)
		}()
		return nil, &SessionExpiredError{ID: id, ExpiredAt: session.ExpiresAt()}
	}
	m.mu.Unlock()

	session.touch(now)
	return session, nil
}

// ExtendSession pushes the session's expiry forward by additional.
func (m *SessionManager) ExtendSession(id string, additional time.Duration) error {
	session, err := m.GetSession(id)
	if err != nil {
		return err
	}
	session.extend(additional)
	return nil
}

// CloseSession removes the session and returns its context to the pool.
// Unknown ids are a no-op and pool release failures are only logged.
func (m *SessionManager) CloseSession(ctx context.Context, id string) {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, id)
	active := len(m.sessions)
	m.mu.Unlock()

	m.teardown(ctx, session, metrics.ReasonExplicit, active)
}

// teardown runs only for a session its caller already removed from the registry.
func (m *SessionManager) teardown(ctx context.Context, session *Session, reason string, active int) error {
	m.closePage(session.Page, session.ID)
	err := m.releaseContext(ctx, session.Context, session.ID)

	m.metrics.SessionClosed(reason, active)
	m.logger.Infof("Closed session %s (%s)", session.ID, reason)
	return err
}

func (m *SessionManager) closePage(page playwright.Page, sessionID string) {
	if page == nil {
		return
	}
	if err := page.Close(); err != nil {
		m.logger.Debugf("Closing page of session %s failed: %v", sessionID, err)
	}
}

func (m *SessionManager) releaseContext(ctx context.Context, bc playwright.BrowserContext, sessionID string) error {
	if err := m.pool.ReleaseContext(ctx, bc); err != nil {
		m.logger.Warnf("Returning context of session %s to the pool failed: %v", sessionID, err)
		return err
	}
	return nil
}

// UpdateRefs replaces the session's ref snapshot wholesale.
func (m *SessionManager) UpdateRefs(id string, refs map[string]RefData) error {
	session, err := m.GetSession(id)
	if err != nil {
		return err
	}
	session.replaceRefs(refs)
	return nil
}

// ResolveSelector turns selector into a locator on the session's page.
//
// "@key" resolves through the ref snapshot to an exact role and accessible name
// match, narrowed with Nth when the ref carries one. Anything else is passed to
// the page as a literal selector.
func (m *SessionManager) ResolveSelector(session *Session, selector string) (playwright.Locator, error) {
	key, isRef := ParseRef(selector, m.refPrefix)
	if !isRef {
		return session.Page.Locator(selector), nil
	}

	ref, ok := session.Ref(key)
	if !ok {
		return nil, &RefNotFoundError{Ref: key}
	}

	opts := playwright.PageGetByRoleOptions{}
	if ref.Name != "" {
		opts.Name = ref.Name
		opts.Exact = playwright.Bool(true)
	}

	locator := session.Page.GetByRole(playwright.AriaRole(ref.Role), opts)
	if ref.Nth != nil {
		locator = locator.Nth(*ref.Nth)
	}
	return locator, nil
}

// GetSessionInfo describes a live session. It counts as an access.
func (m *SessionManager) GetSessionInfo(id string) (SessionInfo, error) {
	session, err := m.GetSession(id)
	if err != nil {
		return SessionInfo{}, err
	}
	return describe(session), nil
}

// ListSessions describes every registered session without touching them.
func (m *SessionManager) ListSessions() []SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, describe(s))
	}
	return infos
}

func describe(s *Session) SessionInfo {
	info := SessionInfo{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt(),
	}
	if s.Page != nil {
		if u := s.Page.URL(); u != "" {
			info.URL = &u
		}
	}
	return info
}

// ActiveSessionCount returns the registry size.
func (m *SessionManager) ActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// SweepExpired tears down every expired session and returns how many it removed.
func (m *SessionManager) SweepExpired(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.expired(now) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	active := len(m.sessions)
	m.mu.Unlock()

	for _, s := range expired {
		m.teardown(ctx, s, metrics.ReasonSweep, active)
	}
	if len(expired) > 0 {
		m.logger.Infof("Sweep removed %d expired sessions", len(expired))
	}
	return len(expired)
}

func (m *SessionManager) sweepLoop() {
	defer close(m.sweepDone)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.SweepExpired(context.Background())
		}
	}
}

// Shutdown stops the sweep, then closes every remaining session concurrently.
// Individual failures are logged so one stuck session cannot block the rest.
// Later CreateSession calls fail with ErrManagerClosed.
func (m *SessionManager) Shutdown(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stopSweep) })
	<-m.sweepDone

	m.mu.Lock()
	m.closed = true
	remaining := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		remaining = append(remaining, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var (
		g        errgroup.Group
		failures atomic.Int32
	)
	for _, s := range remaining {
		s := s
		g.Go(func() error {
			if err := m.teardown(ctx, s, metrics.ReasonShutdown, 0); err != nil {
				failures.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	m.background.Wait()

	if n := failures.Load(); n > 0 {
		m.logger.Errorf("Shutdown closed %d sessions, %d failed to return their context", len(remaining), n)
		return
	}
	m.logger.Infof("Shutdown closed %d sessions", len(remaining))
}
