package flows

import (
	"context"

	"github.com/impactlog/impactlog/session"
)

// HydrateOutcome classifies how a hydration ended.
type HydrateOutcome uint8

const (
	// HydrateSkipped: no stored token, nothing was fetched.
	HydrateSkipped HydrateOutcome = iota
	// HydrateApplied: the profile was written into the session.
	HydrateApplied
	// HydrateRejected: the backend refused the token; the session is anonymous.
	HydrateRejected
	// HydrateRetained: a transient failure; the token was kept.
	HydrateRetained
	// HydrateStale: a profile arrived after the session had changed and was dropped.
	HydrateStale
)

func (o HydrateOutcome) String() string {
	switch o {
	case HydrateSkipped:
		return "skipped"
	case HydrateApplied:
		return "applied"
	case HydrateRejected:
		return "rejected"
	case HydrateRetained:
		return "retained"
	case HydrateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// HydrateMetrics carries metric IDs used by the hydrate flow.
type HydrateMetrics struct {
	Skipped  int
	Applied  int
	Rejected int
	Retained int
	Stale    int
}

// HydrateEvents carries audit event names used by the hydrate flow.
type HydrateEvents struct {
	Applied  string
	Rejected string
	Retained string
	Stale    string
}

// HydrateDeps captures hydrate dependencies.
type HydrateDeps struct {
	// RequireToken restores the durable token first and skips the fetch when
	// there is none. Bootstrap sets it; Refresh does not.
	RequireToken bool

	Restore           func(context.Context) (string, error)
	Current           func() (token string, generation uint64)
	FetchProfile      func(context.Context) (session.Profile, error)
	IsRejection       func(error) bool
	SetIfGeneration   func(context.Context, uint64, string, session.Profile) (bool, error)
	ClearIfGeneration func(context.Context, uint64) (bool, error)
	FinishLoading     func()

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, profile *session.Profile, generation uint64, err error)
	Warn      func(string, ...any)

	Metrics  HydrateMetrics
	Events   HydrateEvents
	NotReady error
}

// HydrateResult reports the outcome. Err is informational for Retained and
// Rejected outcomes: the session is already settled when it is returned.
type HydrateResult struct {
	Outcome    HydrateOutcome
	Profile    *session.Profile
	Generation uint64
	Err        error
}

// RunHydrate fetches the current identity and reconciles the session with
// it. Writes are conditional on the generation observed before the fetch,
// so a result that arrives after a sign-out, sign-in or 401 clear is
// discarded. The loading flag is cleared on every path.
func RunHydrate(ctx context.Context, deps HydrateDeps) HydrateResult {
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, *session.Profile, uint64, error) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.FinishLoading != nil {
		defer deps.FinishLoading()
	}
	if deps.Current == nil ||
		deps.FetchProfile == nil ||
		deps.IsRejection == nil ||
		deps.SetIfGeneration == nil ||
		deps.ClearIfGeneration == nil ||
		(deps.RequireToken && deps.Restore == nil) {
		return HydrateResult{Outcome: HydrateRetained, Err: deps.NotReady}
	}

	if deps.RequireToken {
		token, err := deps.Restore(ctx)
		if err != nil {
			deps.Warn("stored token unreadable", "error", err)
			deps.MetricInc(deps.Metrics.Retained)
			deps.EmitAudit(ctx, deps.Events.Retained, false, nil, 0, err)
			return HydrateResult{Outcome: HydrateSkipped, Err: err}
		}
		if token == "" {
			deps.MetricInc(deps.Metrics.Skipped)
			return HydrateResult{Outcome: HydrateSkipped}
		}
	}

	token, generation := deps.Current()

	profile, err := deps.FetchProfile(ctx)
	if err == nil {
		applied, setErr := deps.SetIfGeneration(ctx, generation, token, profile)
		if setErr != nil {
			deps.Warn("hydrated profile not stored", "error", setErr)
			deps.MetricInc(deps.Metrics.Retained)
			deps.EmitAudit(ctx, deps.Events.Retained, false, &profile, generation, setErr)
			return HydrateResult{Outcome: HydrateRetained, Generation: generation, Err: setErr}
		}
		if !applied {
			deps.MetricInc(deps.Metrics.Stale)
			deps.EmitAudit(ctx, deps.Events.Stale, false, &profile, generation, nil)
			return HydrateResult{Outcome: HydrateStale, Generation: generation}
		}
		deps.MetricInc(deps.Metrics.Applied)
		deps.EmitAudit(ctx, deps.Events.Applied, true, &profile, generation, nil)
		return HydrateResult{Outcome: HydrateApplied, Profile: &profile, Generation: generation}
	}

	if deps.IsRejection(err) {
		// The global 401 hook may have cleared this generation already; the
		// conditional clear is then a no-op.
		if _, clearErr := deps.ClearIfGeneration(ctx, generation); clearErr != nil {
			deps.Warn("stored token not removed", "error", clearErr)
		}
		deps.MetricInc(deps.Metrics.Rejected)
		deps.EmitAudit(ctx, deps.Events.Rejected, false, nil, generation, err)
		return HydrateResult{Outcome: HydrateRejected, Generation: generation, Err: err}
	}

	deps.Warn("hydration failed, keeping stored token", "error", err)
	deps.MetricInc(deps.Metrics.Retained)
	deps.EmitAudit(ctx, deps.Events.Retained, false, nil, generation, err)
	return HydrateResult{Outcome: HydrateRetained, Generation: generation, Err: err}
}
