package impactlog

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/impactlog/impactlog/internal/flows"
	"github.com/impactlog/impactlog/internal/transport"
	"github.com/impactlog/impactlog/session"
)

const (
	pathSignUp = "/auth/signup"
	pathSignIn = "/auth/login"
	pathMe     = "/auth/me"
)

func (c *Controller) buildFlowDeps() flows.Deps {
	warn := func(msg string, args ...any) { c.logger.Warn(msg, args...) }
	metricInc := func(id int) { c.metricInc(MetricID(id)) }

	hydrateAudit := func(ctx context.Context, event string, success bool, profile *session.Profile, generation uint64, err error) {
		c.emitAudit(ctx, event, success, fieldsFor(profile, generation), err, nil)
	}
	exchangeAudit := func(ctx context.Context, event string, success bool, email string, profile *session.Profile, err error) {
		fields := fieldsFor(profile, 0)
		if fields.email == "" {
			fields.email = email
		}
		c.emitAudit(ctx, event, success, fields, err, nil)
	}

	return flows.Deps{
		Hydrate: flows.HydrateDeps{
			Restore: c.writer.Restore,
			Current: func() (string, uint64) {
				snap := c.store.Get()
				return snap.Token, snap.Generation
			},
			FetchProfile:      c.fetchProfile,
			IsRejection:       isIdentityRejection,
			SetIfGeneration:   c.writer.SetIfGeneration,
			ClearIfGeneration: c.writer.ClearIfGeneration,
			FinishLoading:     c.writer.FinishLoading,
			MetricInc:         metricInc,
			EmitAudit:         hydrateAudit,
			Warn:              warn,
			Metrics: flows.HydrateMetrics{
				Skipped:  int(MetricHydrateSkipped),
				Applied:  int(MetricHydrateSuccess),
				Rejected: int(MetricHydrateRejected),
				Retained: int(MetricHydrateRetained),
				Stale:    int(MetricHydrateStaleDiscarded),
			},
			Events: flows.HydrateEvents{
				Applied:  auditEventHydrateSuccess,
				Rejected: auditEventHydrateRejected,
				Retained: auditEventHydrateRetained,
				Stale:    auditEventHydrateStale,
			},
			NotReady: ErrControllerNotReady,
		},
		SignIn: flows.ExchangeDeps{
			Validate: func(req flows.ExchangeRequest) error {
				return c.validateSignIn(req.Email, req.Password)
			},
			Exchange: func(ctx context.Context, req flows.ExchangeRequest) (flows.ExchangeResult, error) {
				return c.exchange(ctx, callSignIn, pathSignIn, credentialsRequest{Email: req.Email, Password: req.Password})
			},
			Set:       c.writer.Set,
			Admit:     c.admitSignIn,
			Settle:    c.settleSignIn,
			MetricInc: metricInc,
			EmitAudit: exchangeAudit,
			Metrics: flows.ExchangeMetrics{
				Success:            int(MetricSignInSuccess),
				Failure:            int(MetricSignInFailure),
				ValidationRejected: int(MetricValidationRejected),
			},
			Events: flows.ExchangeEvents{
				Success: auditEventSignInSuccess,
				Failure: auditEventSignInFailure,
			},
			NotReady: ErrControllerNotReady,
		},
		SignUp: flows.ExchangeDeps{
			Validate: func(req flows.ExchangeRequest) error {
				return c.validateSignUp(req.Email, req.Password, req.Name)
			},
			Exchange: func(ctx context.Context, req flows.ExchangeRequest) (flows.ExchangeResult, error) {
				body := credentialsRequest{Email: req.Email, Password: req.Password, Name: strings.TrimSpace(req.Name)}
				return c.exchange(ctx, callSignUp, pathSignUp, body)
			},
			Set:       c.writer.Set,
			MetricInc: metricInc,
			EmitAudit: exchangeAudit,
			Metrics: flows.ExchangeMetrics{
				Success:            int(MetricSignUpSuccess),
				Failure:            int(MetricSignUpFailure),
				ValidationRejected: int(MetricValidationRejected),
			},
			Events: flows.ExchangeEvents{
				Success: auditEventSignUpSuccess,
				Failure: auditEventSignUpFailure,
			},
			NotReady: ErrControllerNotReady,
		},
		Invalidate: flows.InvalidateDeps{
			ClearIfGeneration: c.writer.ClearIfGeneration,
			CurrentPath:       currentPathFromContext,
			StayOn401:         c.routes.StaysOn401,
			LoginPath:         c.routes.Paths.Login,
			Now:               c.now,
			MetricInc:         metricInc,
			EmitAudit: func(ctx context.Context, event string, generation uint64, err error, metadata map[string]string) {
				c.emitAudit(ctx, event, false, auditFields{generation: generation}, err, func() map[string]string { return metadata })
			},
			Warn:   warn,
			Metric: int(MetricSessionInvalidated),
			Event:  auditEventSessionInvalidate,
		},
	}
}

// fetchProfile calls the identity endpoint with the current token.
func (c *Controller) fetchProfile(ctx context.Context) (session.Profile, error) {
	var payload profilePayload
	if err := c.client.Do(ctx, transport.Request{Method: http.MethodGet, Path: pathMe}, &payload); err != nil {
		return session.Profile{}, classify(callIdentity, err)
	}
	return profileFromPayload(payload)
}

// exchange posts credentials. The request is marked as a credential
// exchange, so a 401 means rejected credentials and leaves the session alone.
func (c *Controller) exchange(ctx context.Context, kind callKind, path string, body credentialsRequest) (flows.ExchangeResult, error) {
	var resp tokenResponse
	req := transport.Request{Method: http.MethodPost, Path: path, Body: body, Exchange: true}
	if err := c.client.Do(ctx, req, &resp); err != nil {
		return flows.ExchangeResult{}, classify(kind, err)
	}
	if resp.Token == "" {
		return flows.ExchangeResult{}, fmt.Errorf("%w: %s returned no token", ErrServerError, path)
	}
	profile, err := profileFromPayload(resp.User)
	if err != nil {
		return flows.ExchangeResult{}, err
	}
	return flows.ExchangeResult{Token: resp.Token, Profile: profile}, nil
}

// profileFromPayload converts the backend's user object. The role must be
// one the client knows; a missing or unknown role is a malformed answer,
// never a silent downgrade.
func profileFromPayload(p profilePayload) (session.Profile, error) {
	role, err := session.ParseRole(p.Role)
	if err != nil {
		return session.Profile{}, fmt.Errorf("%w: %w", ErrServerError, err)
	}
	profile := session.Profile{ID: p.ID, Email: p.Email, Name: p.Name, Role: role}
	if err := profile.Validate(); err != nil {
		return session.Profile{}, fmt.Errorf("%w: %w", ErrServerError, err)
	}
	return profile, nil
}
