package monitor

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by the runner's admission gate when a
// trigger arrives while a cycle is in flight. Triggers are dropped, not
// queued.
var ErrAlreadyRunning = errors.New("monitor cycle already running")

// AuthError is a terminal session-acquisition failure: the portal
// rejected the credentials. The cycle fails and is not retried until the
// next scheduled trigger.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "portal authentication failed"
	}
	return fmt.Sprintf("portal authentication failed: %s", e.Reason)
}

// FetchError is a transient content-retrieval failure. Nothing was
// discovered this cycle; the next scheduled cycle retries from scratch.
type FetchError struct {
	Page string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Page, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DeliveryError is a per-posting notification failure. Transient
// failures (rate limiting, timeouts, 5xx) are retried with backoff;
// permanent ones are not.
type DeliveryError struct {
	StatusCode int
	Transient  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery failed (%s, status %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("delivery failed (%s): %v", kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is a terminal authentication failure.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
