// Package watcher turns filesystem activity into work queue items.
// Watchers are pure queue producers: like webhooks and deferred
// triggers, they never execute work directly.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/overseer/agent"
	"github.com/c360studio/overseer/queue"
)

// DefaultDebounce batches rapid file events into one queue item.
const DefaultDebounce = 2 * time.Second

// Config defines one watch rule.
type Config struct {
	// Name uniquely identifies the watcher; items carry
	// triggerName "watch:<name>".
	Name string `json:"name" yaml:"name"`
	// Project is a registered project name or path for the queue item.
	Project string `json:"project" yaml:"project"`
	// Path is the directory tree to watch.
	Path string `json:"path" yaml:"path"`
	// Patterns are doublestar globs matched against paths relative to
	// Path. Empty means match everything.
	Patterns []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	// Agent and Task shape the produced queue item.
	Agent string     `json:"agent" yaml:"agent"`
	Task  string     `json:"task" yaml:"task"`
	Mode  agent.Mode `json:"mode" yaml:"mode"`
	// DebounceMs overrides the default event debounce.
	DebounceMs int `json:"debounceMs,omitempty" yaml:"debounceMs,omitempty"`
}

// Validate checks the rule.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("watcher name is required")
	}
	if c.Path == "" {
		return fmt.Errorf("watcher %s: path is required", c.Name)
	}
	if c.Agent == "" {
		return fmt.Errorf("watcher %s: agent is required", c.Name)
	}
	for _, p := range c.Patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("watcher %s: invalid pattern %q", c.Name, p)
		}
	}
	if _, err := agent.ParseMode(string(c.Mode)); err != nil {
		return fmt.Errorf("watcher %s: %w", c.Name, err)
	}
	return nil
}

// Enqueuer accepts produced queue items.
type Enqueuer func(item queue.Item) error

// Watcher watches one directory tree and debounces matching events
// into queue items.
type Watcher struct {
	config   Config
	enqueue  Enqueuer
	logger   *slog.Logger
	fs       *fsnotify.Watcher
	debounce time.Duration
}

// New creates a watcher from config.
func New(config Config, enqueue Enqueuer, logger *slog.Logger) (*Watcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	debounce := DefaultDebounce
	if config.DebounceMs > 0 {
		debounce = time.Duration(config.DebounceMs) * time.Millisecond
	}
	return &Watcher{
		config:   config,
		enqueue:  enqueue,
		logger:   logger,
		debounce: debounce,
	}, nil
}

// Start begins watching. The event loop runs until ctx is cancelled or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fs watcher: %w", err)
	}
	w.fs = fsw

	// fsnotify is non-recursive; register every directory in the tree.
	err = filepath.WalkDir(w.config.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
			return fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return fmt.Errorf("watcher %s: failed to register %s: %w", w.config.Name, w.config.Path, err)
	}

	go w.loop(ctx)
	w.logger.Info("watcher started", "name", w.config.Name, "path", w.config.Path)
	return nil
}

// Stop closes the underlying watcher.
func (w *Watcher) Stop() error {
	if w.fs == nil {
		return nil
	}
	return w.fs.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			// Newly created directories join the watch set.
			if event.Op.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					_ = w.fs.Add(event.Name)
				}
			}
			if !w.matches(event.Name) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "name", w.config.Name, "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			w.fire()
		}
	}
}

// matches tests an absolute event path against the configured globs.
func (w *Watcher) matches(path string) bool {
	rel, err := filepath.Rel(w.config.Path, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, ".") {
		return false
	}
	if len(w.config.Patterns) == 0 {
		return true
	}
	for _, pattern := range w.config.Patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func (w *Watcher) fire() {
	item := queue.Item{
		TriggerName: "watch:" + w.config.Name,
		ProjectPath: w.config.Project,
		Agent:       w.config.Agent,
		Task:        w.config.Task,
		Mode:        w.config.Mode,
	}
	if err := w.enqueue(item); err != nil {
		w.logger.Error("failed to enqueue watch item", "name", w.config.Name, "error", err)
		return
	}
	w.logger.Info("file activity queued", "name", w.config.Name, "agent", w.config.Agent)
}
