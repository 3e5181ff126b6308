package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/impactlog/impactlog"
	"github.com/impactlog/impactlog/route"
)

type globalOptions struct {
	configFile  string
	apiURL      string
	sessionFile string
	verbose     bool
}

// app carries what every command shares: configuration, the logger and a
// lazily built, bootstrapped controller.
type app struct {
	opts   globalOptions
	std    stdio
	lookup func(string) (string, bool)
	logger *slog.Logger

	ctrl         *impactlog.Controller
	bootstrapErr error
}

func newApp(opts globalOptions, std stdio, lookup func(string) (string, bool)) *app {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &app{
		opts:   opts,
		std:    std,
		lookup: lookup,
		logger: newCommandLogger(std.err, opts.verbose),
	}
}

// newCommandLogger writes text to a terminal and JSON lines otherwise, so
// scripted runs stay machine-readable.
func newCommandLogger(w io.Writer, verbose bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelWarn}
	if verbose {
		options.Level = slog.LevelDebug
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}

func (a *app) config() (impactlog.Config, error) {
	cfg := impactlog.DefaultConfig()

	path := a.opts.configFile
	if path == "" {
		path, _ = a.lookup(impactlog.EnvConfigFile)
	}
	if path != "" {
		loaded, err := impactlog.LoadConfigFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	cfg.ApplyEnv(a.lookup)
	if a.opts.apiURL != "" {
		cfg.API.BaseURL = a.opts.apiURL
	}
	if a.opts.sessionFile != "" {
		cfg.Session.Backend = "file"
		cfg.Session.FilePath = a.opts.sessionFile
	}
	return cfg, nil
}

// controller builds the controller on first use and bootstraps it. A failed
// bootstrap is reported but not fatal: the session is settled either way.
func (a *app) controller(ctx context.Context) (*impactlog.Controller, error) {
	if a.ctrl != nil {
		return a.ctrl, nil
	}

	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	c, err := impactlog.New().WithConfig(cfg).WithLogger(a.logger).Build()
	if err != nil {
		return nil, err
	}
	a.ctrl = c

	a.bootstrapErr = c.Bootstrap(ctx)
	switch {
	case a.bootstrapErr == nil:
	case errors.Is(a.bootstrapErr, impactlog.ErrUnauthorized), errors.Is(a.bootstrapErr, impactlog.ErrForbidden):
		fmt.Fprintln(a.std.err, "The saved session was rejected. Run 'impactlog login' to sign in again.")
	default:
		a.logger.Warn("session not verified", "error", a.bootstrapErr)
	}

	// Registered after Bootstrap, which reports its own rejection above.
	c.OnInvalidated(func(impactlog.Invalidation) {
		fmt.Fprintln(a.std.err, "Your session has expired. Run 'impactlog login' to sign in again.")
	})
	return c, nil
}

// redirectError means the guard sent the requested view elsewhere.
type redirectError struct {
	view  string
	to    string
	login bool
}

func (e *redirectError) Error() string {
	if e.login {
		return fmt.Sprintf("%s requires a signed-in user. Run 'impactlog login' first.", e.view)
	}
	return fmt.Sprintf("%s is not available to this account (redirected to %s).", e.view, e.to)
}

func isRedirect(err error) bool {
	var r *redirectError
	return errors.As(err, &r)
}

// enter runs the route guard for view and returns a context tagged with it.
func (a *app) enter(ctx context.Context, view string) (context.Context, *impactlog.Controller, error) {
	c, err := a.controller(ctx)
	if err != nil {
		return ctx, nil, err
	}
	decision := c.Decide(view)
	switch decision.Kind {
	case route.Render:
		return impactlog.WithCurrentPath(ctx, view), c, nil
	case route.Redirect:
		return ctx, c, &redirectError{view: view, to: decision.Path, login: decision.Path == c.Routes().Paths.Login}
	default:
		return ctx, c, fmt.Errorf("session for %s is still loading", view)
	}
}

func (a *app) close() {
	if a.ctrl != nil {
		if err := a.ctrl.Close(); err != nil {
			a.logger.Warn("closing controller", "error", err)
		}
	}
}
