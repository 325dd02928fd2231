// Package procdetect finds a running remote process by matching its
// command line against a regular expression, the way an operator would
// eyeball `ps` output looking for their script.
package procdetect

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sshfleet/sshfleet/internal/sshsession"
)

// Runner is the subset of sshsession.Session this package needs: anything
// that can run a short bounded command and report whether it exited zero.
type Runner interface {
	RunShort(ctx context.Context, command string) (sshsession.RunResult, error)
}

// Match is one detected process.
type Match struct {
	PID        int
	CommandLine string
}

// Detect looks for a process whose command line matches regex. It tries
// pgrep first (fast, precise) and falls back to a ps|grep pipeline on
// hosts without pgrep installed. Returns (nil, nil) when nothing matches.
func Detect(ctx context.Context, r Runner, regex string) (*Match, error) {
	escaped := shellSingleQuote(regex)

	pgrepCmd := fmt.Sprintf("pgrep -af %s 2>/dev/null || true", escaped)
	res, err := r.RunShort(ctx, pgrepCmd)
	if err != nil {
		return nil, err
	}
	if m := parseFirstMatch(res.Stdout, "pgrep"); m != nil {
		return m, nil
	}

	fallbackCmd := fmt.Sprintf(
		"ps -eo pid,command 2>/dev/null | grep -E -i %s | grep -v grep | head -n 1",
		escaped,
	)
	res, err = r.RunShort(ctx, fallbackCmd)
	if err != nil {
		return nil, err
	}
	return parseFirstMatch(res.Stdout, "")
}

// parseFirstMatch parses "PID command..." lines, returning the first one
// whose command does not itself mention excludeSelf (used to skip the
// pgrep invocation matching its own regex argument).
func parseFirstMatch(output, excludeSelf string) *Match {
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		pid, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		cmd := ""
		if len(parts) > 1 {
			cmd = parts[1]
		}
		if excludeSelf != "" && strings.Contains(cmd, excludeSelf) {
			continue
		}
		return &Match{PID: pid, CommandLine: cmd}
	}
	return nil
}

func shellSingleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
