package impactlog

import (
	"time"

	"github.com/impactlog/impactlog/session"
)

// AuthResult is the backend's answer to a successful sign-in or sign-up.
type AuthResult struct {
	Token   string
	Profile session.Profile
}

// InvalidationReason says why a session was dropped without the user asking.
type InvalidationReason string

const (
	// ReasonUnauthorized: a backend call was answered 401.
	ReasonUnauthorized InvalidationReason = "unauthorized"
)

// Invalidation is emitted when the controller clears the session because
// the backend rejected its token. Views translate it into navigation:
// RedirectTo is the login view, or "" when the current view is public and
// should stay.
type Invalidation struct {
	Reason     InvalidationReason
	Method     string
	Request    string
	View       string
	RedirectTo string
	Generation uint64
	At         time.Time
}

// Redirects reports whether the current view should navigate away.
func (i Invalidation) Redirects() bool {
	return i.RedirectTo != ""
}

// wire shapes of the auth endpoints

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type profilePayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type tokenResponse struct {
	Token string         `json:"token"`
	User  profilePayload `json:"user"`
}
