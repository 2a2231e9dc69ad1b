// Package config provides configuration loading and management for the
// overseer daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/c360studio/overseer/agent"
	"github.com/c360studio/overseer/budget"
	"github.com/c360studio/overseer/trigger"
	"github.com/c360studio/overseer/watcher"
	"github.com/c360studio/overseer/webhook"
)

// ProjectEntry pre-registers a project at startup.
type ProjectEntry struct {
	Path string `json:"path" yaml:"path"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PipelineStage is one stage of a named pipeline definition.
type PipelineStage struct {
	Agent string   `json:"agent" yaml:"agent"`
	Teams []string `json:"teams,omitempty" yaml:"teams,omitempty"`
}

// Config is the complete daemon configuration.
type Config struct {
	// StateDir hosts all daemon state files and the control socket.
	StateDir string `json:"stateDir,omitempty" yaml:"stateDir,omitempty"`

	Projects []ProjectEntry   `json:"projects,omitempty" yaml:"projects,omitempty"`
	Triggers []trigger.Config `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Budget   budget.Config    `json:"budget" yaml:"budget"`

	// HeartbeatIntervalMs is the tick cadence; 0 uses the default.
	HeartbeatIntervalMs int `json:"heartbeatIntervalMs,omitempty" yaml:"heartbeatIntervalMs,omitempty"`
	// StallMinutes is the stall sweep staleness cutoff; 0 uses the default.
	StallMinutes int `json:"stallMinutes,omitempty" yaml:"stallMinutes,omitempty"`
	// MaxRetries is the per-batch review retry budget; 0 uses the default.
	MaxRetries int `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	// BatchSize is how many plan tasks one builder/reviewer pair covers.
	BatchSize int `json:"batchSize,omitempty" yaml:"batchSize,omitempty"`

	Webhook  *webhook.Config  `json:"webhook,omitempty" yaml:"webhook,omitempty"`
	Watchers []watcher.Config `json:"watchers,omitempty" yaml:"watchers,omitempty"`

	// Runner is the agent CLI invocation template.
	Runner agent.CLIConfig `json:"runner" yaml:"runner"`

	// Pipelines maps an agent label to a full stage list. A work item
	// whose agent has no entry here runs as a single stage.
	Pipelines map[string][]PipelineStage `json:"pipelines,omitempty" yaml:"pipelines,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults. The built-in
// "team-lead" pipeline is the full research-architecture-build-review
// sequence.
func DefaultConfig() *Config {
	return &Config{
		Budget: budget.DefaultConfig(),
		Pipelines: map[string][]PipelineStage{
			"team-lead": {
				{Agent: "scout"},
				{Agent: "architect"},
				{Agent: "builder"},
				{Agent: "reviewer"},
			},
		},
	}
}

// Validate checks that the configuration is coherent. Configuration
// errors fail loudly at daemon startup.
func (c *Config) Validate() error {
	if err := c.Budget.Validate(); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, t := range c.Triggers {
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate trigger name %q", t.Name)
		}
		seen[t.Name] = true
	}
	if c.Webhook != nil {
		if err := c.Webhook.Validate(); err != nil {
			return err
		}
	}
	for _, w := range c.Watchers {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	for name, stages := range c.Pipelines {
		if len(stages) == 0 {
			return fmt.Errorf("pipeline %q has no stages", name)
		}
		for i, st := range stages {
			if st.Agent == "" {
				return fmt.Errorf("pipeline %q stage %d has no agent", name, i)
			}
		}
	}
	if c.HeartbeatIntervalMs < 0 {
		return fmt.Errorf("heartbeatIntervalMs must not be negative")
	}
	return nil
}

// HeartbeatInterval returns the configured tick cadence.
func (c *Config) HeartbeatInterval() time.Duration {
	if c.HeartbeatIntervalMs > 0 {
		return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
	}
	return time.Minute
}

// StallThreshold returns the stall sweep cutoff.
func (c *Config) StallThreshold() time.Duration {
	if c.StallMinutes > 0 {
		return time.Duration(c.StallMinutes) * time.Minute
	}
	return 30 * time.Minute
}

// State file locations inside StateDir.

func (c *Config) BudgetFile() string      { return filepath.Join(c.StateDir, "budget.json") }
func (c *Config) QueueFile() string       { return filepath.Join(c.StateDir, "queue.json") }
func (c *Config) ProjectsFile() string    { return filepath.Join(c.StateDir, "projects.json") }
func (c *Config) SessionsFile() string    { return filepath.Join(c.StateDir, "sessions.json") }
func (c *Config) SocketPath() string      { return filepath.Join(c.StateDir, "overseer.sock") }
func (c *Config) TriggerStateDir() string { return c.StateDir }

// DefaultStateDir is ~/.overseer, falling back to the working
// directory when the home directory cannot be determined.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".overseer"
	}
	return filepath.Join(home, ".overseer")
}
