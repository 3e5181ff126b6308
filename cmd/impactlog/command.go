package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// command is one CLI verb. Flags is called once per invocation so flag
// state never leaks between runs.
type command struct {
	Name    string
	Summary string
	Usage   string
	Flags   func(fs *pflag.FlagSet)
	Run     func(ctx context.Context, a *app, fs *pflag.FlagSet, args []string) error
}

// usageError is returned for bad invocations; main exits 2 on it.
type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func isUsage(err error) bool {
	var u *usageError
	return errors.As(err, &u)
}

func findCommand(commands []*command, name string) (*command, bool) {
	for _, c := range commands {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

func (c *command) flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(c.Name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if c.Flags != nil {
		c.Flags(fs)
	}
	return fs
}

func (c *command) printHelp(w io.Writer) {
	fmt.Fprintf(w, "%s\n\nUsage:\n  %s\n", c.Summary, c.Usage)
	fs := c.flagSet()
	if fs.HasFlags() {
		var flagHelp strings.Builder
		fs.SetOutput(&flagHelp)
		fs.PrintDefaults()
		fmt.Fprintf(w, "\nFlags:\n%s", flagHelp.String())
	}
}

func printCommands(w io.Writer, commands []*command, global *pflag.FlagSet) {
	fmt.Fprintf(w, "impactlog is a client for the Impact Log civic reporting service.\n\n")
	fmt.Fprintf(w, "Usage:\n  impactlog [global flags] <command> [flags]\n\nCommands:\n")
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s\t%s\n", c.Name, c.Summary)
	}
	tw.Flush()

	var flagHelp strings.Builder
	global.SetOutput(&flagHelp)
	global.PrintDefaults()
	fmt.Fprintf(w, "\nGlobal flags:\n%s", flagHelp.String())
}

func isHelpFlag(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}
