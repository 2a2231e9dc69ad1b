// Package budget tracks prompt consumption over a rolling window and
// advises the heartbeat on whether another autonomous run may start.
//
// The tracker is observational: it never blocks a caller from recording
// usage past the cap, it only reports what is left. A configurable slice
// of the window is held back for interactive use so the daemon cannot
// starve a human sitting at the same account.
package budget

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/overseer/statefile"
)

// Entry records one pipeline run's prompt consumption.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
}

// state is the on-disk document shape.
type state struct {
	Entries []Entry `json:"entries"`
}

// Config configures the tracker.
type Config struct {
	// MaxPromptsPerWindow is the prompt cap for one rolling window.
	MaxPromptsPerWindow int `json:"maxPromptsPerWindow" yaml:"maxPromptsPerWindow"`
	// ReserveForInteractive is the fraction of the cap held back for
	// interactive sessions. Must be in [0, 1].
	ReserveForInteractive float64 `json:"reserveForInteractive" yaml:"reserveForInteractive"`
	// WindowHours is the rolling window length.
	WindowHours int `json:"windowHours" yaml:"windowHours"`
}

// DefaultConfig returns the tracker defaults.
func DefaultConfig() Config {
	return Config{
		MaxPromptsPerWindow:   100,
		ReserveForInteractive: 0.2,
		WindowHours:           5,
	}
}

// Validate checks config sanity.
func (c Config) Validate() error {
	if c.MaxPromptsPerWindow <= 0 {
		return fmt.Errorf("budget.maxPromptsPerWindow must be positive")
	}
	if c.ReserveForInteractive < 0 || c.ReserveForInteractive > 1 {
		return fmt.Errorf("budget.reserveForInteractive must be between 0 and 1")
	}
	if c.WindowHours <= 0 {
		return fmt.Errorf("budget.windowHours must be positive")
	}
	return nil
}

// Tracker is the rolling-window budget tracker.
type Tracker struct {
	config    Config
	stateFile string
	lock      *statefile.Lock
	logger    *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the tracker's time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the tracker's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// New creates a tracker persisting to stateFile.
func New(config Config, stateFile string, opts ...Option) *Tracker {
	t := &Tracker{
		config:    config,
		stateFile: stateFile,
		lock:      statefile.NewLock(stateFile),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordUsage appends a consumption entry of n prompts. The write holds
// the advisory lock, rereads state, prunes expired entries and rewrites
// the document atomically.
func (t *Tracker) RecordUsage(n int) error {
	now := t.now()
	return t.lock.WithLock(func() error {
		var s state
		if _, err := statefile.ReadJSON(t.stateFile, &s); err != nil {
			return err
		}
		s.Entries = prune(s.Entries, t.cutoff(now))
		s.Entries = append(s.Entries, Entry{Timestamp: now, Count: n})
		return statefile.WriteJSON(t.stateFile, &s)
	})
}

// UsedInWindow returns the prompt count consumed inside the current
// window. The read prunes in memory but does not write back.
func (t *Tracker) UsedInWindow() (int, error) {
	now := t.now()
	var s state
	if _, err := statefile.ReadJSON(t.stateFile, &s); err != nil {
		return 0, err
	}
	used := 0
	for _, e := range prune(s.Entries, t.cutoff(now)) {
		used += e.Count
	}
	return used, nil
}

// Remaining returns max(0, cap - used).
func (t *Tracker) Remaining() (int, error) {
	used, err := t.UsedInWindow()
	if err != nil {
		return 0, err
	}
	remaining := t.config.MaxPromptsPerWindow - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// CanRun reports whether an autonomous run may start: the remainder must
// strictly exceed the interactive reserve. Equality yields false.
func (t *Tracker) CanRun() (bool, error) {
	remaining, err := t.Remaining()
	if err != nil {
		return false, err
	}
	reserve := float64(t.config.MaxPromptsPerWindow) * t.config.ReserveForInteractive
	return float64(remaining) > reserve, nil
}

func (t *Tracker) cutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(t.config.WindowHours) * time.Hour)
}

// prune drops entries at or before the cutoff, keeping source order.
func prune(entries []Entry, cutoff time.Time) []Entry {
	kept := entries[:0:0]
	for _, e := range entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}
