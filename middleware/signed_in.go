package middleware

import (
	"net/http"

	"github.com/impactlog/impactlog/route"
)

// RequireSignedIn admits any authenticated principal regardless of role.
func RequireSignedIn(source SessionSource, paths route.Paths) func(http.Handler) http.Handler {
	return RequireRole(source, paths, "")
}
