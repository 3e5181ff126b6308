package flows

import (
	"context"
	"time"

	"github.com/impactlog/impactlog/internal/transport"
)

// InvalidateDeps captures dependencies of the 401 policy.
type InvalidateDeps struct {
	ClearIfGeneration func(context.Context, uint64) (bool, error)
	CurrentPath       func(context.Context) string
	StayOn401         func(string) bool
	LoginPath         string
	Now               func() time.Time

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, generation uint64, err error, metadata map[string]string)
	Warn      func(string, ...any)

	Metric int
	Event  string
}

// InvalidateResult describes an applied invalidation. Cleared is false when
// the 401 was stale or the request carried no token; nothing else is set
// then.
type InvalidateResult struct {
	Cleared    bool
	View       string
	RedirectTo string
	Generation uint64
	At         time.Time
	Err        error
}

// RunInvalidate applies the 401 policy to one rejected request: the session
// is cleared only if it is still the one whose token was rejected, and the
// result says whether the current view must move to the login page.
func RunInvalidate(ctx context.Context, u transport.Unauthorized, deps InvalidateDeps) InvalidateResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, uint64, error, map[string]string) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.CurrentPath == nil {
		deps.CurrentPath = func(context.Context) string { return "" }
	}
	if deps.StayOn401 == nil {
		deps.StayOn401 = func(string) bool { return false }
	}
	if !u.HadToken || deps.ClearIfGeneration == nil {
		return InvalidateResult{}
	}

	cleared, err := deps.ClearIfGeneration(ctx, u.Generation)
	if !cleared {
		return InvalidateResult{}
	}
	if err != nil {
		deps.Warn("stored token not removed", "error", err)
	}

	view := deps.CurrentPath(ctx)
	redirect := deps.LoginPath
	if view != "" && deps.StayOn401(view) {
		redirect = ""
	}

	deps.MetricInc(deps.Metric)
	deps.EmitAudit(ctx, deps.Event, u.Generation, err, map[string]string{
		"method":  u.Method,
		"request": u.Path,
	})

	return InvalidateResult{
		Cleared:    true,
		View:       view,
		RedirectTo: redirect,
		Generation: u.Generation,
		At:         deps.Now(),
		Err:        err,
	}
}
