package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/impactlog/impactlog"
	"github.com/impactlog/impactlog/jwt"
	promexport "github.com/impactlog/impactlog/metrics/export/prometheus"
	"github.com/impactlog/impactlog/route"
)

const dateLayout = "2006-01-02"

func allCommands() []*command {
	return []*command{
		loginCommand(),
		signupCommand(),
		logoutCommand(),
		whoamiCommand(),
		dashboardCommand(),
		adminCommand(),
		reportCommand(),
		resolveCommand(),
		feedCommand(),
		statsCommand(),
		mapCommand(),
		openCommand(),
		metricsCommand(),
	}
}

func loginCommand() *command {
	return &command{
		Name:    "login",
		Summary: "Sign in and keep the session for later commands",
		Usage:   "impactlog login <email> [--password-file FILE]",
		Flags: func(fs *pflag.FlagSet) {
			fs.String("password-file", "", "read the password from FILE (\"-\" prompts)")
		},
		Run: func(ctx context.Context, a *app, fs *pflag.FlagSet, args []string) error {
			if len(args) != 1 {
				return usagef("login takes exactly one email address")
			}
			passwordFile, _ := fs.GetString("password-file")
			password, err := a.readPassword(passwordFile)
			if err != nil {
				return err
			}
			c, err := a.controller(ctx)
			if err != nil {
				return err
			}
			result, err := c.SignIn(ctx, args[0], password)
			if err != nil {
				return err
			}
			printSignedIn(a.std.out, c, result)
			return nil
		},
	}
}

func signupCommand() *command {
	return &command{
		Name:    "signup",
		Summary: "Create a reporter account and sign in",
		Usage:   "impactlog signup <email> --name NAME [--password-file FILE]",
		Flags: func(fs *pflag.FlagSet) {
			fs.String("name", "", "display name")
			fs.String("password-file", "", "read the password from FILE (\"-\" prompts)")
		},
		Run: func(ctx context.Context, a *app, fs *pflag.FlagSet, args []string) error {
			if len(args) != 1 {
				return usagef("signup takes exactly one email address")
			}
			name, _ := fs.GetString("name")
			if strings.TrimSpace(name) == "" {
				return usagef("--name is required")
			}
			passwordFile, _ := fs.GetString("password-file")
			password, err := a.readPassword(passwordFile)
			if err != nil {
				return err
			}
			c, err := a.controller(ctx)
			if err != nil {
				return err
			}
			result, err := c.SignUp(ctx, args[0], password, name)
			if err != nil {
				return err
			}
			printSignedIn(a.std.out, c, result)
			return nil
		},
	}
}

func printSignedIn(w io.Writer, c *impactlog.Controller, result *impactlog.AuthResult) {
	p := result.Profile
	fmt.Fprintf(w, "Signed in as %s <%s> (%s). Home: %s\n", p.Name, p.Email, p.Role, c.Routes().Paths.HomeFor(p.Role))
}

func logoutCommand() *command {
	return &command{
		Name:    "logout",
		Summary: "Forget the stored session",
		Usage:   "impactlog logout",
		Run: func(ctx context.Context, a *app, fs *pflag.FlagSet, args []string) error {
			if len(args) != 0 {
				return usagef("logout takes no arguments")
			}
			c, err := a.controller(ctx)
			if err != nil {
				return err
			}
			if err := c.SignOut(ctx); err != nil {
				return err
			}
			fmt.Fprintln(a.std.out, "Signed out.")
			return nil
		},
	}
}

func whoamiCommand() *command {
	return &command{
		Name:    "whoami",
		Summary: "Show the signed-in account",
		Usage:   "impactlog whoami [--verify]",
		Flags: func(fs *pflag.FlagSet) {
			fs.Bool("verify", false, "fail unless the backend confirmed the session")
		},
		Run: func(ctx context.Context, a *app, fs *pflag.FlagSet, args []string) error {
			if len(args) != 0 {
				return usagef("whoami takes no arguments")
			}
			verify, _ := fs.GetBool("verify")
			c, err := a.controller(ctx)
			if err != nil {
				return err
			}
			if verify && a.bootstrapErr != nil {
				return a.bootstrapErr
			}

			snap := c.Snapshot()
			switch {
			case snap.Authenticated():
				p := snap.Profile
				fmt.Fprintf(a.std.out, "%s <%s>\nrole: %s\nid:   %s\n", p.Name, p.Email, p.Role, p.ID)
			case snap.HasToken():
				fmt.Fprintln(a.std.out, "A token is stored but the backend could not confirm it.")
			default:
				if verify {
					return errors.New("not signed in")
				}
				fmt.Fprintln(a.std.out, "Not signed in.")
				return nil
			}

			if claims, err := jwt.Inspect(snap.Token); err == nil {
				if exp, ok := claims.Expiry(); ok {
					fmt.Fprintf(a.std.out, "session expires %s\n", humanize.Time(exp))
				}
			}
			return nil
		},
	}
}

func dashboardCommand() *command {
	return &command{
		Name:    "dashboard",
		Summary: "List your own reports",
		Usage:   "impactlog dashboard",
		Run: func(ctx context.Context, a *app, fs *pflag.FlagSet, args []string) error {
			ctx, c, err := a.enter(ctx, "/dashboard")
			if err != nil {
				return err
			}
			logs, err := c.Logs().Mine(ctx)
			if err != nil {
				return err
			}
			printLogs(a.std.out, logs, false)
			return nil
		},
	}
}

func adminCommand() *command {
	return &command{
		Name:    "admin",
		Summary: "List every report (administrators)",
		Usage:   "impactlog admin [--status STATUS]",
		Flags: func(fs *pflag.FlagSet) {
			fs.String("status", "", "only show reports with this status")
		},
		Run: func(ctx context.Context, a *app, fs *pflag.FlagSet, args []string) error {
			var filter impactlog.Status
			if raw, _ := fs.GetString("status"); raw != "" {
				status, err := impactlog.ParseStatus(raw)
				if err != nil {
					return usagef("%v", err)
				}
				filter = status
			}
			ctx, c, err := a.enter(ctx, "/admin")
			if err != nil {
				return err
			}
			logs, err := c.Logs().All(ctx)
			if err != nil {
				return err
			}
			if filter != "" {
				kept := logs[:0]
				for _, l := range logs {
					if l.Status == filter {
						kept = append(kept, l)
					}
				}
				logs = kept
			}
			printLogs(a.std.out, logs, true)
			return nil
		},
	}
}

func reportCommand() *command {
	return &command{
		Name:    "report",
		Summary: "File a new impact report",
		Usage:   "impactlog report --name NAME --locality PLACE --lat LAT --lng LNG --category CATEGORY --description TEXT [--date YYYY-MM-DD]",
		Flags: func(fs *pflag.FlagSet) {
			fs.String("name", "", "short title")
			fs.String("locality", "", "where the issue is")
			fs.Float64("lat", 0, "GPS latitude")
			fs.Float64("lng", 0, "GPS longitude")
			fs.String("date", "", "date of the issue (default today)")
			fs.String("category", "", "one of "+categoryNames())
			fs.String("description", "", "what happened")
		},
		Run: func(ctx context.Context, a *app, fs *pflag.FlagSet, args []string) error {
			if len(args) != 0 {
				return usagef("report takes flags only")
			}
			if !fs.Changed("lat") || !fs.Changed("lng") {
				return usagef("--lat and --lng are required")
			}
			rawCategory, _ := fs.GetString("category")
			category, err := impactlog.ParseCategory(rawCategory)
			if err != nil {
				return usagef("%v", err)
			}

			report := impactlog.NewImpactLog{Category: category}
			report.Name, _ = fs.GetString("name")
			report.Locality, _ = fs.GetString("locality")
			report.Latitude, _ = fs.GetFloat64("lat")
			report.Longitude, _ = fs.GetFloat64("lng")
			report.Description, _ = fs.GetString("description")
			report.ImpactDate, _ = fs.GetString("date")
			if report.ImpactDate == "" {
				report.ImpactDate = time.Now().Format(dateLayout)
			}

			ctx, c, err := a.enter(ctx, "/dashboard")
			if err != nil {
				return err
			}
			created, err := c.Logs().Create(ctx, report)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.std.out, "Filed report %s (%s).\n", created.ID, created.Status)
			return nil
		},
	}
}

func resolveCommand() *command {
	return &command{
		Name:    "resolve",
		Summary: "Set the status of a report (administrators)",
		Usage:   "impactlog resolve <id> --status STATUS",
		Flags: func(fs *pflag.FlagSet) {
			fs.String("status", string(impactlog.StatusSolved), "new status")
		},
		Run: func(ctx context.Context, a *app, fs *pflag.FlagSet, args []string) error {
			if len(args) != 1 {
				return usagef("resolve takes exactly one report id")
			}
			raw, _ := fs.GetString("status")
			status, err := impactlog.ParseStatus(raw)
			if err != nil {
				return usagef("%v", err)
			}
			ctx, c, err := a.enter(ctx, "/admin")
			if err != nil {
				return err
			}
			updated, err := c.Logs().UpdateStatus(ctx, args[0], status)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.std.out, "Report %s is now %s.\n", updated.ID, updated.Status)
			return nil
		},
	}
}

func feedCommand() *command {
	return &command{
		Name:    "feed",
		Summary: "Show recent community activity",
		Usage:   "impactlog feed [--limit N]",
		Flags: func(fs *pflag.FlagSet) {
			fs.Int("limit", 20, "show at most N reports")
		},
		Run: func(ctx context.Context, a *app, fs *pflag.FlagSet, args []string) error {
			limit, _ := fs.GetInt("limit")
			if limit <= 0 {
				return usagef("--limit must be positive")
			}
			ctx, c, err := a.enter(ctx, "/community-activity")
			if err != nil {
				return err
			}
			logs, err := c.Logs().PublicFeed(ctx)
			if err != nil {
				return err
			}
			if len(logs) > limit {
				logs = logs[:limit]
			}
			printLogs(a.std.out, logs, false)
			return nil
		},
	}
}

func statsCommand() *command {
	return &command{
		Name:    "stats",
		Summary: "Show public impact statistics",
		Usage:   "impactlog stats",
		Run: func(ctx context.Context, a *app, fs *pflag.FlagSet, args []string) error {
			ctx, c, err := a.enter(ctx, "/impact-stats")
			if err != nil {
				return err
			}
			stats, err := c.Logs().PublicStats(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.std.out, "Reports:  %s\n", humanize.Comma(int64(stats.TotalReports)))
			fmt.Fprintf(a.std.out, "Solved:   %s\n", humanize.Comma(int64(stats.Solved)))
			fmt.Fprintf(a.std.out, "Resolved: %.1f%%\n", stats.ResolutionRate)

			categories := make([]impactlog.Category, 0, len(stats.Categories))
			for category := range stats.Categories {
				categories = append(categories, category)
			}
			sort.Slice(categories, func(i, j int) bool {
				ci, cj := stats.Categories[categories[i]], stats.Categories[categories[j]]
				if ci != cj {
					return ci > cj
				}
				return categories[i] < categories[j]
			})
			if len(categories) == 0 {
				return nil
			}
			fmt.Fprintln(a.std.out)
			tw := tabwriter.NewWriter(a.std.out, 2, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CATEGORY\tREPORTS")
			for _, category := range categories {
				fmt.Fprintf(tw, "%s\t%s\n", category, humanize.Comma(int64(stats.Categories[category])))
			}
			return tw.Flush()
		},
	}
}

func mapCommand() *command {
	return &command{
		Name:    "map",
		Summary: "List report locations",
		Usage:   "impactlog map",
		Run: func(ctx context.Context, a *app, fs *pflag.FlagSet, args []string) error {
			ctx, c, err := a.enter(ctx, "/live-maps")
			if err != nil {
				return err
			}
			logs, err := c.Logs().PublicFeed(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.std.out, 2, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "LAT\tLNG\tCATEGORY\tSTATUS\tLOCALITY")
			for _, l := range logs {
				fmt.Fprintf(tw, "%.5f\t%.5f\t%s\t%s\t%s\n", l.Latitude, l.Longitude, l.Category, l.Status, l.Locality)
			}
			return tw.Flush()
		},
	}
}

func openCommand() *command {
	return &command{
		Name:    "open",
		Summary: "Show what the route guard decides for a view",
		Usage:   "impactlog open <path>",
		Run: func(ctx context.Context, a *app, fs *pflag.FlagSet, args []string) error {
			if len(args) != 1 {
				return usagef("open takes exactly one path")
			}
			c, err := a.controller(ctx)
			if err != nil {
				return err
			}
			path := args[0]
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			decision := c.Decide(path)
			fmt.Fprintln(a.std.out, decision)
			if decision.Kind == route.Redirect {
				return &redirectError{view: path, to: decision.Path, login: decision.Path == c.Routes().Paths.Login}
			}
			return nil
		},
	}
}

func metricsCommand() *command {
	return &command{
		Name:    "metrics",
		Summary: "Print this run's client metrics in Prometheus text format",
		Usage:   "impactlog metrics",
		Run: func(ctx context.Context, a *app, fs *pflag.FlagSet, args []string) error {
			c, err := a.controller(ctx)
			if err != nil {
				return err
			}
			_, err = io.WriteString(a.std.out, promexport.NewPrometheusExporter(c).Render())
			return err
		},
	}
}

func printLogs(w io.Writer, logs []impactlog.ImpactLog, withReporter bool) {
	if len(logs) == 0 {
		fmt.Fprintln(w, "No reports.")
		return
	}
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	if withReporter {
		fmt.Fprintln(tw, "ID\tSTATUS\tCATEGORY\tNAME\tLOCALITY\tREPORTER\tFILED")
	} else {
		fmt.Fprintln(tw, "ID\tSTATUS\tCATEGORY\tNAME\tLOCALITY\tFILED")
	}
	for _, l := range logs {
		filed := l.ImpactDate
		if created, ok := l.Created(); ok {
			filed = humanize.Time(created)
		}
		if withReporter {
			reporter := "-"
			if l.Reporter != nil {
				reporter = l.Reporter.Email
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", l.ID, l.Status, l.Category, l.Name, l.Locality, reporter, filed)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", l.ID, l.Status, l.Category, l.Name, l.Locality, filed)
	}
	tw.Flush()
}

func categoryNames() string {
	names := make([]string, len(impactlog.Categories))
	for i, c := range impactlog.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
