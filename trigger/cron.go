// Package trigger provides cron-scheduled triggers for the heartbeat.
// Each trigger persists its last-fired timestamp so a daemon restart
// neither drops nor double-fires a schedule.
package trigger

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/c360studio/overseer/agent"
	"github.com/c360studio/overseer/statefile"
)

// cronParser is the standard 5-field cron parser.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule checks a cron expression at config-load time.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return nil
}

// Config defines one trigger rule.
type Config struct {
	// Name uniquely identifies the trigger.
	Name string `json:"name" yaml:"name"`
	// Schedule is a 5-field cron expression.
	Schedule string `json:"schedule" yaml:"schedule"`
	// Project is a registered project name or path.
	Project string `json:"project" yaml:"project"`
	// Agent is the agent label to run.
	Agent string `json:"agent" yaml:"agent"`
	// Task is the prompt text.
	Task string `json:"task" yaml:"task"`
	// Mode is standalone or team.
	Mode agent.Mode `json:"mode" yaml:"mode"`
}

// Validate checks the rule.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("trigger name is required")
	}
	if err := ValidateSchedule(c.Schedule); err != nil {
		return fmt.Errorf("trigger %s: %w", c.Name, err)
	}
	if c.Project == "" {
		return fmt.Errorf("trigger %s: project is required", c.Name)
	}
	if c.Agent == "" {
		return fmt.Errorf("trigger %s: agent is required", c.Name)
	}
	if _, err := agent.ParseMode(string(c.Mode)); err != nil {
		return fmt.Errorf("trigger %s: %w", c.Name, err)
	}
	return nil
}

// startupCatchUp is how far back a freshly constructed trigger looks:
// a schedule that passed within the last minute still fires once.
const startupCatchUp = time.Minute

// cronState is the persisted per-trigger document.
type cronState struct {
	LastFiredAt *time.Time `json:"lastFiredAt"`
}

// CronTrigger evaluates one schedule and persists its fired-at state.
type CronTrigger struct {
	config      Config
	schedule    cron.Schedule
	stateFile   string
	lastFiredAt *time.Time
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a CronTrigger.
type Option func(*CronTrigger)

// WithLogger sets the trigger's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *CronTrigger) { t.logger = logger }
}

// WithClock overrides the trigger's time source.
func WithClock(now func() time.Time) Option {
	return func(t *CronTrigger) { t.now = now }
}

// NewCron creates a trigger from config, loading any persisted
// fired-at state from stateDir.
func NewCron(config Config, stateDir string, opts ...Option) (*CronTrigger, error) {
	schedule, err := cronParser.Parse(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: invalid schedule %q: %w", config.Name, config.Schedule, err)
	}
	t := &CronTrigger{
		config:    config,
		schedule:  schedule,
		stateFile: filepath.Join(stateDir, "cron-"+sanitizeName(config.Name)+".json"),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.loadState(); err != nil {
		return nil, err
	}
	return t, nil
}

// Config returns the trigger's rule.
func (t *CronTrigger) Config() Config {
	return t.config
}

// Name returns the trigger's unique name.
func (t *CronTrigger) Name() string {
	return t.config.Name
}

// IsDue reports whether the schedule's next moment strictly after
// max(lastFiredAt, now-1min) has arrived. A freshly constructed trigger
// therefore fires once at startup if its schedule passed within the
// last minute, then resumes normal cadence.
func (t *CronTrigger) IsDue() bool {
	now := t.now()
	after := now.Add(-startupCatchUp)
	if t.lastFiredAt != nil && t.lastFiredAt.After(after) {
		after = *t.lastFiredAt
	}
	next := t.schedule.Next(after)
	return !next.After(now)
}

// MarkFired stamps lastFiredAt=now and persists it. Persistence failure
// is logged but non-fatal: the in-memory stamp still prevents refiring.
func (t *CronTrigger) MarkFired() {
	now := t.now()
	t.lastFiredAt = &now
	if err := statefile.WriteJSON(t.stateFile, &cronState{LastFiredAt: &now}); err != nil {
		t.logger.Warn("failed to persist trigger state",
			"trigger", t.config.Name, "error", err)
	}
}

// LastFiredAt returns the most recent fired timestamp, if any.
func (t *CronTrigger) LastFiredAt() *time.Time {
	return t.lastFiredAt
}

func (t *CronTrigger) loadState() error {
	var s cronState
	if _, err := statefile.ReadJSON(t.stateFile, &s); err != nil {
		return err
	}
	t.lastFiredAt = s.LastFiredAt
	return nil
}

// nameSanitizer collapses anything unsafe for a filename.
var nameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func sanitizeName(name string) string {
	return strings.Trim(nameSanitizer.ReplaceAllString(name, "-"), "-")
}
