package browser

import (
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Default values for sessions and connections
const (
	DefaultSessionTimeout   = 5 * time.Minute
	DefaultActionTimeout    = 30 * time.Second
	DefaultSweepInterval    = 30 * time.Second
	DefaultConnectTimeout   = 30 * time.Second
	DefaultDiscoveryTimeout = 5 * time.Second
)

// Session is one automation session: a pooled context plus the page opened on it.
type Session struct {
	// ID is unique for the lifetime of the process
	ID string

	// Context is borrowed from the pool and handed back on close
	Context playwright.BrowserContext

	// Page is opened once at creation
	Page playwright.Page

	CreatedAt time.Time

	mu             sync.RWMutex
	lastAccessedAt time.Time
	expiresAt      time.Time
	refs           map[string]RefData
}

// LastAccessedAt returns when GetSession last returned this session.
func (s *Session) LastAccessedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAccessedAt
}

// ExpiresAt returns the instant the session stops being resolvable.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Refs returns a copy of the current ref snapshot.
func (s *Session) Refs() map[string]RefData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRefs(s.refs)
}

// Ref looks up a single ref in the current snapshot.
func (s *Session) Ref(key string) (RefData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.refs[key]
	return ref, ok
}

func (s *Session) expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt())
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastAccessedAt = now
	s.mu.Unlock()
}

func (s *Session) extend(d time.Duration) {
	s.mu.Lock()
	s.expiresAt = s.expiresAt.Add(d)
	s.mu.Unlock()
}

func (s *Session) replaceRefs(refs map[string]RefData) {
	snapshot := copyRefs(refs)
	s.mu.Lock()
	s.refs = snapshot
	s.mu.Unlock()
}

// CreateOptions configures a new session.
type CreateOptions struct {
	// Timeout is the session TTL; zero uses the manager default
	Timeout time.Duration

	// Viewport is applied to the page after it is opened
	Viewport *Viewport
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SessionInfo is a point-in-time description of a session.
// Title is always nil here; reading it needs a round trip to the page.
type SessionInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	URL       *string   `json:"url"`
	Title     *string   `json:"title"`
}
