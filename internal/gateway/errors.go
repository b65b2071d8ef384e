package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error categorises commerce API failures so controllers can pick a retry
// policy without inspecting raw status codes.
type Error struct {
	op          string
	status      int
	err         error
	notFound    bool
	rateLimited bool
	unavailable bool
	retryAfter  time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.err != nil {
		if e.op != "" {
			return fmt.Sprintf("%s: %v", e.op, e.err)
		}
		return e.err.Error()
	}
	return fmt.Sprintf("%s: status %d", e.op, e.status)
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Status returns the HTTP status that produced the error, zero for transport
// failures.
func (e *Error) Status() int {
	if e == nil {
		return 0
	}
	return e.status
}

// IsNotFound reports whether the upstream answered 404; terminal for paging.
func (e *Error) IsNotFound() bool {
	return e != nil && e.notFound
}

// IsRateLimited reports whether the upstream answered 429.
func (e *Error) IsRateLimited() bool {
	return e != nil && e.rateLimited
}

// IsUnavailable reports whether the failure is transient (network or 5xx).
func (e *Error) IsUnavailable() bool {
	return e != nil && e.unavailable
}

// RetryAfter returns the server-suggested backoff for rate-limited calls,
// zero when the upstream provided none.
func (e *Error) RetryAfter() time.Duration {
	if e == nil {
		return 0
	}
	return e.retryAfter
}

// NewStatusError builds a classified error from an HTTP response status.
func NewStatusError(op string, status int, body string, retryAfter time.Duration) *Error {
	e := &Error{op: op, status: status, retryAfter: retryAfter}
	if body != "" {
		e.err = errors.New(body)
	}
	switch {
	case status == http.StatusNotFound:
		e.notFound = true
	case status == http.StatusTooManyRequests:
		e.rateLimited = true
	case status >= 500:
		e.unavailable = true
	}
	return e
}

func wrapTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{op: op, err: err, unavailable: true}
}

// IsNotFound reports whether err carries the not-found classification.
func IsNotFound(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.IsNotFound()
}

// IsRateLimited reports whether err carries the rate-limited classification.
func IsRateLimited(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.IsRateLimited()
}

// IsTransient reports whether err is worth retrying with a short fixed backoff.
func IsTransient(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.IsUnavailable()
}

// RetryAfter extracts the server-suggested pause from a rate-limit error.
func RetryAfter(err error) time.Duration {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.RetryAfter()
	}
	return 0
}
