// Command impactlog is a terminal client for the Impact Log service:
// sign in, file reports, triage them as an administrator and browse the
// public feed and statistics.
//
// The session token is kept in the configured token store (a file under
// the user config directory by default), so a login survives between runs.
//
// Environment:
//
//	IMPACTLOG_ENV           production or development backend
//	IMPACTLOG_API_URL       explicit backend URL
//	IMPACTLOG_CONFIG        YAML config file
//	IMPACTLOG_SESSION_FILE  token file location
//	IMPACTLOG_REDIS_ADDR    keep the token in Redis instead
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/pflag"
)

const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitRedirect = 3
)

type stdio struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], stdio{in: os.Stdin, out: os.Stdout, err: os.Stderr}, os.LookupEnv)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, std stdio, lookup func(string) (string, bool)) int {
	var opts globalOptions
	global := pflag.NewFlagSet("impactlog", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.SetOutput(io.Discard)
	global.StringVar(&opts.configFile, "config", "", "YAML config file (default $IMPACTLOG_CONFIG)")
	global.StringVar(&opts.apiURL, "api-url", "", "backend URL, overrides the environment")
	global.StringVar(&opts.sessionFile, "session-file", "", "token file, implies the file backend")
	global.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug detail to stderr")

	commands := allCommands()

	if err := global.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printCommands(std.out, commands, global)
			return exitOK
		}
		fmt.Fprintf(std.err, "%v\n\nRun 'impactlog --help' for usage.\n", err)
		return exitUsage
	}
	rest := global.Args()
	if len(rest) == 0 {
		printCommands(std.err, commands, global)
		return exitUsage
	}
	if isHelpFlag(rest[0]) {
		printCommands(std.out, commands, global)
		return exitOK
	}

	cmd, ok := findCommand(commands, rest[0])
	if !ok {
		fmt.Fprintf(std.err, "unknown command %q\n\nRun 'impactlog --help' for usage.\n", rest[0])
		return exitUsage
	}

	fs := cmd.flagSet()
	if err := fs.Parse(rest[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			cmd.printHelp(std.out)
			return exitOK
		}
		fmt.Fprintf(std.err, "%v\n\nRun 'impactlog %s --help' for usage.\n", err, cmd.Name)
		return exitUsage
	}

	a := newApp(opts, std, lookup)
	defer a.close()

	err := cmd.Run(ctx, a, fs, fs.Args())
	switch {
	case err == nil:
		return exitOK
	case isUsage(err):
		fmt.Fprintf(std.err, "%v\n\nUsage:\n  %s\n", err, cmd.Usage)
		return exitUsage
	case isRedirect(err):
		fmt.Fprintln(std.err, err)
		return exitRedirect
	default:
		fmt.Fprintf(std.err, "impactlog %s: %v\n", cmd.Name, err)
		return exitError
	}
}
