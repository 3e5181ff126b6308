package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole is returned by [ParseRole] for anything outside the closed
// role enumeration.
var ErrUnknownRole = errors.New("unknown role")

// Role is the authorization tier returned by the backend. The set is closed:
// only [RoleUser] and [RoleAdmin] exist, and the client never invents one.
type Role string

const (
	// RoleUser is a citizen reporter.
	RoleUser Role = "user"
	// RoleAdmin triages and resolves impact logs.
	RoleAdmin Role = "admin"
)

// Roles lists every valid role in a stable order.
var Roles = []Role{RoleUser, RoleAdmin}

// ParseRole maps a backend role string onto the enumeration.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.TrimSpace(raw)) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
}

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

func (r Role) String() string {
	return string(r)
}

// Identity is the minimal principal derived from a hydrated profile.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Profile is the principal record returned by the identity endpoint and by
// sign-in/sign-up.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// Identity derives the minimal principal from p.
func (p Profile) Identity() Identity {
	return Identity{ID: p.ID, Email: p.Email}
}

// Validate checks the fields the session relies on. A profile without an id
// or with a role outside the enumeration never enters the session.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("profile id empty")
	}
	if !p.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, string(p.Role))
	}
	return nil
}

// Snapshot is an immutable copy of the session at one point in time.
//
// Identity and Profile are both set or both nil. Token may be set while
// Identity is nil: a stored token whose hydration has not succeeded yet.
type Snapshot struct {
	Token      string
	Identity   *Identity
	Profile    *Profile
	Loading    bool
	Generation uint64
}

// Authenticated reports whether the snapshot carries a hydrated principal.
func (s Snapshot) Authenticated() bool {
	return s.Identity != nil && s.Profile != nil
}

// HasToken reports whether a bearer credential is held.
func (s Snapshot) HasToken() bool {
	return s.Token != ""
}

// Role returns the hydrated role, or "" when anonymous.
func (s Snapshot) Role() Role {
	if s.Profile == nil {
		return ""
	}
	return s.Profile.Role
}
