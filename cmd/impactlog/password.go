package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword reads from passwordFile when one is given. Otherwise it
// prompts with echo disabled on a terminal, or takes the first line of
// stdin when input is piped.
func (a *app) readPassword(passwordFile string) (string, error) {
	if passwordFile != "" && passwordFile != "-" {
		data, err := os.ReadFile(passwordFile)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", passwordFile, err)
		}
		password := strings.TrimRight(string(data), "\r\n")
		if password == "" {
			return "", usagef("file %s is empty", passwordFile)
		}
		return password, nil
	}

	if f, ok := a.std.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.std.err, "Password: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.std.err)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(a.std.in).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil {
			return "", usagef("no password on stdin (use --password-file)")
		}
		return "", usagef("empty password")
	}
	return line, nil
}
