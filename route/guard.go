package route

import (
	"fmt"

	"github.com/impactlog/impactlog/session"
)

// Kind is the navigational outcome of a guard decision.
type Kind uint8

const (
	// Wait means hydration is still in flight: show a loading indicator and
	// decide again on the next session change.
	Wait Kind = iota
	// Render means the requested view may be shown.
	Render
	// Redirect means navigate to Decision.Path instead.
	Redirect
)

func (k Kind) String() string {
	switch k {
	case Wait:
		return "wait"
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Decision is the result of [Decide]. Path is set only for [Redirect].
type Decision struct {
	Kind Kind
	Path string
}

func (d Decision) String() string {
	if d.Kind == Redirect {
		return "redirect " + d.Path
	}
	return d.Kind.String()
}

// State is the guard-visible state of a session.
type State uint8

const (
	Loading State = iota
	Anonymous
	Authenticated
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// StateOf classifies a snapshot. Loading wins over everything else.
func StateOf(snap session.Snapshot) State {
	switch {
	case snap.Loading:
		return Loading
	case snap.Identity == nil:
		return Anonymous
	default:
		return Authenticated
	}
}

// Paths names the redirect targets the guard can produce.
type Paths struct {
	Login     string
	UserHome  string
	AdminHome string
}

// DefaultPaths matches the application's router.
var DefaultPaths = Paths{
	Login:     "/login",
	UserHome:  "/dashboard",
	AdminHome: "/admin",
}

// HomeFor returns the landing view for role. It is total over the role
// enumeration; an unknown role is sent to login.
func (p Paths) HomeFor(role session.Role) string {
	switch role {
	case session.RoleAdmin:
		return p.AdminHome
	case session.RoleUser:
		return p.UserHome
	}
	return p.Login
}

// Decide is the route guard. required == "" admits any authenticated
// principal. The result is recomputed from snap on every call.
func Decide(snap session.Snapshot, required session.Role) Decision {
	return DefaultPaths.Decide(snap, required)
}

// Decide is [Decide] with custom redirect targets.
func (p Paths) Decide(snap session.Snapshot, required session.Role) Decision {
	switch StateOf(snap) {
	case Loading:
		return Decision{Kind: Wait}
	case Anonymous:
		return Decision{Kind: Redirect, Path: p.Login}
	}

	role := snap.Role()
	if required != "" && role != required {
		return Decision{Kind: Redirect, Path: p.HomeFor(role)}
	}
	return Decision{Kind: Render}
}
