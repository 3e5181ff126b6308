package middleware

import (
	"net/http"

	"github.com/impactlog/impactlog/route"
	"github.com/impactlog/impactlog/session"
)

// RequireRole guards a single handler outside any route table: anonymous
// requests go to paths.Login, a different role goes to its home view.
func RequireRole(source SessionSource, paths route.Paths, role session.Role) func(http.Handler) http.Handler {
	return decideWith(source, func(_ *http.Request, snap session.Snapshot) route.Decision {
		return paths.Decide(snap, role)
	})
}

// RequireAdmin is RequireRole for administrators.
func RequireAdmin(source SessionSource, paths route.Paths) func(http.Handler) http.Handler {
	return RequireRole(source, paths, session.RoleAdmin)
}
