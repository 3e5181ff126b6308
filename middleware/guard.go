package middleware

import (
	"context"
	"net/http"

	"github.com/impactlog/impactlog"
	"github.com/impactlog/impactlog/route"
	"github.com/impactlog/impactlog/session"
)

// SessionSource is what the guards read. *impactlog.Controller satisfies it.
type SessionSource interface {
	Snapshot() session.Snapshot
}

type profileContextKey struct{}

// ProfileFromContext returns the profile of the principal a guard admitted.
// Public views are rendered without one.
func ProfileFromContext(ctx context.Context) (*session.Profile, bool) {
	p, ok := ctx.Value(profileContextKey{}).(*session.Profile)
	return p, ok && p != nil
}

// Guard resolves every request path against table. While the session is
// loading it answers 503 with Retry-After; a redirect decision becomes a
// 303 to the decided path. Rendered requests carry the current view for
// the controller's 401 policy and, when signed in, the profile.
func Guard(source SessionSource, table *route.Table) func(http.Handler) http.Handler {
	return decideWith(source, func(r *http.Request, snap session.Snapshot) route.Decision {
		return table.Resolve(r.URL.Path, snap)
	})
}

func decideWith(source SessionSource, decide func(*http.Request, session.Snapshot) route.Decision) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if source == nil {
				http.Error(w, "session unavailable", http.StatusServiceUnavailable)
				return
			}

			snap := source.Snapshot()
			decision := decide(r, snap)
			switch decision.Kind {
			case route.Wait:
				w.Header().Set("Retry-After", "1")
				http.Error(w, "session loading", http.StatusServiceUnavailable)
				return
			case route.Redirect:
				http.Redirect(w, r, decision.Path, http.StatusSeeOther)
				return
			}

			ctx := impactlog.WithCurrentPath(r.Context(), r.URL.Path)
			if snap.Profile != nil {
				ctx = context.WithValue(ctx, profileContextKey{}, snap.Profile)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
