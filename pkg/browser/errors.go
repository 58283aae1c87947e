package browser

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is. The typed errors below match their sentinel.
var (
	ErrEndpoint           = errors.New("invalid remote debugging endpoint")
	ErrConnection         = errors.New("remote debugging connection failed")
	ErrConnectionDetached = errors.New("connection is detached")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrRefNotFound        = errors.New("unknown element ref")
	ErrMaxSessions        = errors.New("maximum number of sessions reached")
	ErrManagerClosed      = errors.New("session manager is shut down")
)

// EndpointError reports an endpoint rejected before any network call.
type EndpointError struct {
	Endpoint string
	Reason   string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("invalid endpoint %q: %s", e.Endpoint, e.Reason)
}

func (e *EndpointError) Is(target error) bool { return target == ErrEndpoint }

// ConnectionError reports a failed attach. Cause is the underlying failure, if any.
type ConnectionError struct {
	Endpoint string
	Message  string
	Cause    error
}

func (e *ConnectionError) Error() string {
	msg := e.Message
	if e.Endpoint != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Endpoint)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// SessionNotFoundError means the id never existed or was already closed.
type SessionNotFoundError struct {
	ID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.ID)
}

func (e *SessionNotFoundError) Is(target error) bool { return target == ErrSessionNotFound }

// SessionExpiredError means the session existed but its TTL had elapsed.
type SessionExpiredError struct {
	ID        string
	ExpiredAt time.Time
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session %q expired at %s", e.ID, e.ExpiredAt.Format(time.RFC3339))
}

func (e *SessionExpiredError) Is(target error) bool { return target == ErrSessionExpired }

// RefNotFoundError is a usage error: the ref is not in the session's snapshot.
type RefNotFoundError struct {
	Ref string
}

func (e *RefNotFoundError) Error() string {
	return fmt.Sprintf("ref %q not found in the current snapshot; take a new snapshot to refresh element refs", e.Ref)
}

func (e *RefNotFoundError) Is(target error) bool { return target == ErrRefNotFound }
