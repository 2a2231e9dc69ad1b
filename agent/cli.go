package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// CLIConfig configures the exec-based runner.
type CLIConfig struct {
	// Command is the argv template for the agent CLI. Occurrences of
	// {agent}, {task}, {project} and {mode} in any element are replaced
	// per invocation. Example:
	//   ["claude", "-p", "{task}", "--agents", "{agent}"]
	Command []string `json:"command" yaml:"command"`
}

// CLIRunner invokes an agent CLI as a subprocess in the project working
// tree and scrapes the session id and any structured review JSON from
// its output.
type CLIRunner struct {
	config CLIConfig
	logger *slog.Logger
}

// NewCLIRunner creates a runner from config. The command template must
// have at least one element.
func NewCLIRunner(config CLIConfig, logger *slog.Logger) (*CLIRunner, error) {
	if len(config.Command) == 0 {
		return nil, fmt.Errorf("agent runner command is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIRunner{config: config, logger: logger}, nil
}

// Run implements Runner.
func (r *CLIRunner) Run(ctx context.Context, req Request) (*Result, error) {
	argv := make([]string, len(r.config.Command))
	replacer := strings.NewReplacer(
		"{agent}", req.Agent,
		"{task}", req.Task,
		"{project}", req.ProjectPath,
		"{mode}", string(req.Mode),
	)
	for i, arg := range r.config.Command {
		argv[i] = replacer.Replace(arg)
	}

	r.logger.Info("running agent",
		"agent", req.Agent,
		"mode", req.Mode,
		"project", req.ProjectPath,
		"command", argv[0])

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = req.ProjectPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("agent %s failed: %w: %s", req.Agent, err, firstLine(stderr.String()))
	}

	output := stdout.String()
	result := &Result{
		SessionID:        extractSessionID(output),
		Output:           output,
		StructuredReview: extractReviewJSON(output),
	}
	if result.SessionID == "" {
		result.SessionID = uuid.New().String()
	}
	return result, nil
}

// sessionIDPattern matches an agent-reported session line, e.g.
// "Session: 4f1c..." or a top-level "session_id" JSON field.
var sessionIDPattern = regexp.MustCompile(`(?im)^session(?:[ _-]?id)?:\s*([A-Za-z0-9_-]+)\s*$`)

func extractSessionID(output string) string {
	if m := sessionIDPattern.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	var envelope struct {
		SessionID string `json:"session_id"`
	}
	if raw := ExtractJSON(output); raw != "" {
		if err := json.Unmarshal([]byte(raw), &envelope); err == nil && envelope.SessionID != "" {
			return envelope.SessionID
		}
	}
	return ""
}

// extractReviewJSON pulls a candidate review object out of the output.
// Only objects carrying a "verdict" key are returned; anything else is
// left for the REVIEW.md fallback channel.
func extractReviewJSON(output string) json.RawMessage {
	raw := ExtractJSON(output)
	if raw == "" {
		return nil
	}
	var probe struct {
		Verdict string `json:"verdict"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil || probe.Verdict == "" {
		return nil
	}
	return json.RawMessage(raw)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
