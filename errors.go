package impactlog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/impactlog/impactlog/internal/transport"
	"github.com/impactlog/impactlog/session"
)

var (
	// ErrInvalidCredentials means the backend rejected an email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotFound means sign-in named an account the backend does not know.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned by SignUp when the email is already registered.
	ErrAccountExists = errors.New("account already exists")
	// ErrUnauthorized means the backend rejected the session token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the token was accepted but the role may not perform the call.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when a referenced resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrServerError covers 5xx answers and bodies the client cannot use.
	ErrServerError = errors.New("server error")
	// ErrNetworkError means no answer arrived: connection failure or timeout.
	ErrNetworkError = errors.New("network error")
	// ErrValidation is returned for input rejected before or by the backend.
	ErrValidation = errors.New("validation failed")
	// ErrStorageUnavailable is the durable token slot failing. It is the same
	// value as session.ErrStorageUnavailable.
	ErrStorageUnavailable = session.ErrStorageUnavailable
	// ErrRateLimited means sign-in was refused locally after too many
	// failed attempts for the address; no request was sent.
	ErrRateLimited = errors.New("too many sign-in attempts")
	// ErrControllerNotReady is returned by methods on a nil or closed Controller.
	ErrControllerNotReady = errors.New("controller not initialized")
)

type callKind uint8

const (
	callDomain callKind = iota
	callSignIn
	callSignUp
	callIdentity
)

// classify maps a transport failure onto the error taxonomy. The result
// wraps both the sentinel and the original error, so callers can use
// errors.Is for the class and errors.As for *transport.StatusError.
func classify(kind callKind, err error) error {
	if err == nil {
		return nil
	}

	var networkErr *transport.NetworkError
	if errors.As(err, &networkErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrNetworkError, err)
	}
	if errors.Is(err, transport.ErrMalformedResponse) || errors.Is(err, transport.ErrResponseTooLarge) {
		return fmt.Errorf("%w: %w", ErrServerError, err)
	}

	var statusErr *transport.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}

	detail := strings.ToLower(statusErr.Detail)
	code := statusErr.StatusCode

	switch {
	case code >= 500:
		return fmt.Errorf("%w: %w", ErrServerError, err)
	case kind == callSignIn && (code == http.StatusNotFound || strings.Contains(detail, "not found")):
		return fmt.Errorf("%w: %w", ErrAccountNotFound, err)
	case kind == callSignIn && code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	case kind == callSignUp && code == http.StatusBadRequest && strings.Contains(detail, "already exists"):
		return fmt.Errorf("%w: %w", ErrAccountExists, err)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %w", ErrValidation, err)
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case code == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrServerError, err)
	}
}

// isIdentityRejection reports whether err is the backend explicitly refusing
// the token on the identity endpoint. Only these failures clear a hydrating
// session; everything else is treated as transient.
func isIdentityRejection(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
