// Package agent defines the port through which the daemon invokes the
// underlying AI coding agent, plus an exec-based default implementation
// that shells out to a configured agent CLI.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
)

// Mode selects how an agent session is executed.
type Mode string

const (
	// ModeStandalone runs a single agent session.
	ModeStandalone Mode = "standalone"
	// ModeTeam runs the agent with its configured sub-agent teams.
	ModeTeam Mode = "team"
)

// ParseMode validates a mode string, defaulting empty to standalone.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeStandalone, nil
	case ModeStandalone, ModeTeam:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown agent mode %q", s)
	}
}

// Request describes one agent stage invocation.
type Request struct {
	// Agent is the agent label (e.g. "scout", "builder-frontend").
	Agent string
	// ProjectPath is the absolute project working tree root.
	ProjectPath string
	// Task is the full prompt for this stage.
	Task string
	// Mode is standalone or team.
	Mode Mode
}

// Result is what a runner reports back for one stage.
type Result struct {
	// SessionID identifies the agent session for later inspection.
	SessionID string
	// Output is the raw agent output, kept for logging and diagnostics.
	Output string
	// StructuredReview carries the reviewer's JSON verdict when the
	// agent emitted one. Nil when the agent only wrote REVIEW.md.
	StructuredReview json.RawMessage
}

// Runner executes one agent stage against a project working tree.
// Implementations are expected to block until the session finishes.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, req Request) (*Result, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
