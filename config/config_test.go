package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/overseer/agent"
	"github.com/c360studio/overseer/budget"
	"github.com/c360studio/overseer/trigger"
)

func triggerFixture() trigger.Config {
	return trigger.Config{
		Name:     "nightly",
		Schedule: "0 2 * * *",
		Project:  "alpha",
		Agent:    "team-lead",
		Task:     "nightly maintenance",
		Mode:     agent.ModeStandalone,
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"stateDir": "/var/lib/overseer",
		"projects": [{"path": "/work/alpha", "name": "alpha"}],
		"triggers": [{
			"name": "nightly",
			"schedule": "0 2 * * *",
			"project": "alpha",
			"agent": "team-lead",
			"task": "nightly maintenance",
			"mode": "standalone"
		}],
		"budget": {"maxPromptsPerWindow": 200, "reserveForInteractive": 0.3, "windowHours": 5},
		"heartbeatIntervalMs": 30000,
		"stallMinutes": 45,
		"runner": {"command": ["claude", "-p", "{task}"]}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/overseer", cfg.StateDir)
	require.Len(t, cfg.Projects, 1)
	assert.Equal(t, "alpha", cfg.Projects[0].Name)
	require.Len(t, cfg.Triggers, 1)
	assert.Equal(t, "0 2 * * *", cfg.Triggers[0].Schedule)
	assert.Equal(t, 200, cfg.Budget.MaxPromptsPerWindow)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 45*time.Minute, cfg.StallThreshold())
	assert.Equal(t, []string{"claude", "-p", "{task}"}, cfg.Runner.Command)

	// The built-in team-lead pipeline survives the merge.
	require.Contains(t, cfg.Pipelines, "team-lead")
	assert.Len(t, cfg.Pipelines["team-lead"], 4)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
stateDir: /var/lib/overseer
budget:
  maxPromptsPerWindow: 150
  reserveForInteractive: 0.2
  windowHours: 5
triggers:
  - name: weekly
    schedule: "0 9 * * 1"
    project: alpha
    agent: builder
    task: weekly cleanup
    mode: team
runner:
  command: ["agent-cli", "{task}"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 150, cfg.Budget.MaxPromptsPerWindow)
	require.Len(t, cfg.Triggers, 1)
	assert.Equal(t, "weekly", cfg.Triggers[0].Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadInvalidTrigger(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"budget": {"maxPromptsPerWindow": 100, "reserveForInteractive": 0.2, "windowHours": 5},
		"triggers": [{"name": "bad", "schedule": "whenever", "project": "p", "agent": "a"}]
	}`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule")
}

func TestLoadDefaultsStateDir(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"budget": {"maxPromptsPerWindow": 100, "reserveForInteractive": 0.2, "windowHours": 5}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.StateDir)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := DefaultConfig()
		c.StateDir = "/tmp/overseer-test"
		return c
	}

	t.Run("defaults pass", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("duplicate trigger names", func(t *testing.T) {
		c := base()
		tr := triggerFixture()
		c.Triggers = append(c.Triggers, tr, tr)
		assert.ErrorContains(t, c.Validate(), "duplicate trigger name")
	})

	t.Run("empty pipeline", func(t *testing.T) {
		c := base()
		c.Pipelines["broken"] = nil
		assert.ErrorContains(t, c.Validate(), "no stages")
	})

	t.Run("stage without agent", func(t *testing.T) {
		c := base()
		c.Pipelines["broken"] = []PipelineStage{{}}
		assert.ErrorContains(t, c.Validate(), "no agent")
	})

	t.Run("bad budget", func(t *testing.T) {
		c := base()
		c.Budget = budget.Config{MaxPromptsPerWindow: -1}
		assert.Error(t, c.Validate())
	})

	t.Run("negative interval", func(t *testing.T) {
		c := base()
		c.HeartbeatIntervalMs = -5
		assert.Error(t, c.Validate())
	})
}

func TestStateFilePaths(t *testing.T) {
	c := &Config{StateDir: "/var/lib/overseer"}
	assert.Equal(t, "/var/lib/overseer/budget.json", c.BudgetFile())
	assert.Equal(t, "/var/lib/overseer/queue.json", c.QueueFile())
	assert.Equal(t, "/var/lib/overseer/projects.json", c.ProjectsFile())
	assert.Equal(t, "/var/lib/overseer/sessions.json", c.SessionsFile())
	assert.Equal(t, "/var/lib/overseer/overseer.sock", c.SocketPath())
}

func TestDurationDefaults(t *testing.T) {
	c := &Config{}
	assert.Equal(t, time.Minute, c.HeartbeatInterval())
	assert.Equal(t, 30*time.Minute, c.StallThreshold())
}
