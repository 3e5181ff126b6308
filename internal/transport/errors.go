package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrMalformedResponse is returned when a 2xx body cannot be decoded into the
// caller's type.
var ErrMalformedResponse = errors.New("malformed response")

// ErrResponseTooLarge is returned when a body exceeds the configured cap.
var ErrResponseTooLarge = errors.New("response too large")

// StatusError is a non-2xx answer from the backend. Callers extract it with
// errors.As:
//
//	var statusErr *transport.StatusError
//	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusForbidden { ... }
type StatusError struct {
	StatusCode int
	// Detail is the backend's human-readable reason, when it sent one.
	Detail string
	Method string
	Path   string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("transport: %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("transport: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
}

// NetworkError means no HTTP response arrived: connection failure, DNS,
// timeout, or cancellation.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the request ran out of time.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not a
// [StatusError].
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
