package cachesync

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Every error returned by this package wraps exactly one of
// these, so callers classify with errors.Is.
var (
	// ErrNetwork is a transient transport failure. Retryable.
	ErrNetwork = errors.New("network error")
	// ErrValidation is a bad query, page size or request body. Fix the input.
	ErrValidation = errors.New("validation error")
	// ErrRateLimited is retryable after the window resets.
	ErrRateLimited = errors.New("rate limited")
	// ErrConcurrentUpdate is retryable immediately with a fresh read.
	ErrConcurrentUpdate = errors.New("concurrent update")
	// ErrUnauthorized requires re-authentication.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUpstreamUnavailable means the content store is down.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// ErrAlreadyCommitted is returned by a second Commit on the same Pending.
var ErrAlreadyCommitted = errors.New("mutation already committed")

// StatusError is a non-2xx HTTP response classified into an error kind.
type StatusError struct {
	Kind       error
	Status     int
	Detail     string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v: HTTP %d: %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("%v: HTTP %d", e.Kind, e.Status)
}

func (e *StatusError) Unwrap() error { return e.Kind }

// RetryAfter reports how long to wait before retrying err, when the server said.
func RetryAfter(err error) (time.Duration, bool) {
	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter, true
	}
	return 0, false
}
