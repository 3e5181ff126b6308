package flows

import (
	"context"

	"github.com/impactlog/impactlog/session"
)

// ExchangeRequest is a credential exchange: sign-in when Name is unused,
// sign-up otherwise.
type ExchangeRequest struct {
	Email    string
	Password string
	Name     string
}

// ExchangeResult is the accepted session.
type ExchangeResult struct {
	Token   string
	Profile session.Profile
}

// ExchangeMetrics carries metric IDs used by the exchange flow.
type ExchangeMetrics struct {
	Success            int
	Failure            int
	ValidationRejected int
}

// ExchangeEvents carries audit event names used by the exchange flow.
type ExchangeEvents struct {
	Success string
	Failure string
}

// ExchangeDeps captures sign-in/sign-up dependencies.
type ExchangeDeps struct {
	Validate func(ExchangeRequest) error
	Exchange func(context.Context, ExchangeRequest) (ExchangeResult, error)
	Set      func(context.Context, string, session.Profile) error

	// Admit, when set, may refuse a validated request before it is sent.
	Admit func(ctx context.Context, email string) error
	// Settle, when set, observes the outcome of every admitted exchange,
	// including a failed session write after an accepted exchange.
	Settle func(ctx context.Context, email string, err error)

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, email string, profile *session.Profile, err error)

	Metrics  ExchangeMetrics
	Events   ExchangeEvents
	NotReady error
}

// RunExchange validates req, posts it and, on success, replaces the session
// with the returned token and profile. Failures are returned as the
// Exchange dependency produced them and leave the session untouched.
func RunExchange(ctx context.Context, req ExchangeRequest, deps ExchangeDeps) (*ExchangeResult, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, *session.Profile, error) {}
	}
	if deps.Exchange == nil || deps.Set == nil {
		return nil, deps.NotReady
	}

	if deps.Validate != nil {
		if err := deps.Validate(req); err != nil {
			deps.MetricInc(deps.Metrics.ValidationRejected)
			return nil, err
		}
	}

	if deps.Admit != nil {
		if err := deps.Admit(ctx, req.Email); err != nil {
			deps.MetricInc(deps.Metrics.Failure)
			deps.EmitAudit(ctx, deps.Events.Failure, false, req.Email, nil, err)
			return nil, err
		}
	}

	settle := func(err error) {
		if deps.Settle != nil {
			deps.Settle(ctx, req.Email, err)
		}
	}

	result, err := deps.Exchange(ctx, req)
	if err != nil {
		settle(err)
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, req.Email, nil, err)
		return nil, err
	}

	err = deps.Set(ctx, result.Token, result.Profile)
	settle(err)
	if err != nil {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, req.Email, &result.Profile, err)
		return nil, err
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, req.Email, &result.Profile, nil)
	return &result, nil
}
