// Package heartbeat implements the daemon's tick loop: the single
// writer that reconciles stalled pipelines, due triggers, queued work
// and the prompt budget into at most one active agent pipeline.
package heartbeat

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360studio/overseer/agent"
	"github.com/c360studio/overseer/metrics"
	"github.com/c360studio/overseer/pipeline"
	"github.com/c360studio/overseer/queue"
	"github.com/c360studio/overseer/trigger"
)

// Action is the outcome of one tick.
type Action string

const (
	ActionIdle     Action = "idle"
	ActionRanAgent Action = "ran_agent"
	ActionQueued   Action = "queued"
	ActionBusy     Action = "busy"
	ActionError    Action = "error"
)

// Source says where executed work came from.
type Source string

const (
	SourceTrigger Source = "trigger"
	SourceQueue   Source = "queue"
)

// TickResult reports what one tick did.
type TickResult struct {
	Action      Action
	TriggerName string
	Source      Source
	Err         error
}

// Budget accounting: expected prompt usage per stage by mode, and the
// conservative default recorded when no structured result is available.
const (
	promptsPerStandaloneStage = 10
	promptsPerTeamStage       = 50
	defaultPromptEstimate     = 10
)

// DefaultStallThreshold is how stale a running pipeline's updatedAt may
// be before the stall sweep flips it to stalled.
const DefaultStallThreshold = 30 * time.Minute

// DefaultInterval is the tick cadence.
const DefaultInterval = time.Minute

// Deps is the record of closures injected into the scheduler. The
// heartbeat owns no concrete budget, pipeline or registry types.
type Deps struct {
	// CanRun reports whether the budget allows an autonomous run.
	CanRun func() (bool, error)
	// RecordUsage books estimated prompt consumption.
	RecordUsage func(n int) error
	// RunPipeline executes one work item to completion.
	RunPipeline func(ctx context.Context, item queue.Item) (*pipeline.Result, error)
	// Resolve maps a short project name to an absolute path,
	// passing unresolved references through.
	Resolve func(ref string) string
	// ProjectPaths lists registered project roots for the stall sweep.
	ProjectPaths func() ([]string, error)
	// Logger receives tick-level logging.
	Logger *slog.Logger
}

// Scheduler is the heartbeat.
type Scheduler struct {
	deps       Deps
	queue      *queue.Queue
	triggers   []*trigger.CronTrigger
	interval   time.Duration
	stallAfter time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time

	busy      atomic.Bool
	running   atomic.Bool
	tickCount atomic.Int64
	stopCh    chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the tick cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithStallThreshold sets the stall sweep staleness cutoff.
func WithStallThreshold(d time.Duration) Option {
	return func(s *Scheduler) { s.stallAfter = d }
}

// WithMetrics wires the daemon collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock overrides the scheduler's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler. Triggers are evaluated in the given order;
// that order also decides ties when several are due at once.
func New(deps Deps, q *queue.Queue, triggers []*trigger.CronTrigger, opts ...Option) *Scheduler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Scheduler{
		deps:       deps,
		queue:      q,
		triggers:   triggers,
		interval:   DefaultInterval,
		stallAfter: DefaultStallThreshold,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tick runs one heartbeat pass. Exactly one tick body runs at a time:
// a tick invoked while the previous is active returns busy immediately
// without touching any state. The latch acquisition is the first
// statement and has no suspension point before it.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	if !s.busy.CompareAndSwap(false, true) {
		return TickResult{Action: ActionBusy}
	}
	defer s.busy.Store(false)

	s.tickCount.Add(1)
	result := s.tick(ctx)
	if s.metrics != nil {
		s.metrics.HeartbeatTicks.WithLabelValues(string(result.Action)).Inc()
		if depth, err := s.queue.Size(); err == nil {
			s.metrics.QueueDepth.Set(float64(depth))
		}
	}
	if result.Err != nil {
		s.deps.Logger.Error("tick failed",
			"action", result.Action, "trigger", result.TriggerName, "error", result.Err)
	}
	return result
}

// tick is the ordered tick body: stall sweep, due triggers, queue
// drain, idle.
func (s *Scheduler) tick(ctx context.Context) TickResult {
	if res, done := s.sweepStalls(); done {
		return res
	}

	for _, t := range s.triggers {
		if !t.IsDue() {
			continue
		}
		ok, err := s.deps.CanRun()
		if err != nil {
			return TickResult{Action: ActionError, TriggerName: t.Name(), Err: err}
		}
		if !ok {
			item := itemFromTrigger(t)
			if err := s.queue.Enqueue(item); err != nil {
				return TickResult{Action: ActionError, TriggerName: t.Name(), Err: err}
			}
			t.MarkFired()
			s.deps.Logger.Info("budget low, trigger deferred to queue", "trigger", t.Name())
			return TickResult{Action: ActionQueued, TriggerName: t.Name()}
		}
		return s.execute(ctx, itemFromTrigger(t), SourceTrigger, t)
	}

	empty, err := s.queue.IsEmpty()
	if err != nil {
		return TickResult{Action: ActionError, Err: err}
	}
	if !empty {
		ok, err := s.deps.CanRun()
		if err != nil {
			return TickResult{Action: ActionError, Err: err}
		}
		if ok {
			item, err := s.queue.Dequeue()
			if err != nil {
				return TickResult{Action: ActionError, Err: err}
			}
			if item != nil {
				return s.execute(ctx, *item, SourceQueue, nil)
			}
		}
	}

	return TickResult{Action: ActionIdle}
}

// sweepStalls scans registered projects for running pipelines whose
// updatedAt has gone stale, flips them to stalled and enqueues a
// recovery item. The flip is the one sanctioned write the heartbeat
// makes to a project's pipeline state.
func (s *Scheduler) sweepStalls() (TickResult, bool) {
	paths, err := s.deps.ProjectPaths()
	if err != nil {
		return TickResult{Action: ActionError, Err: err}, true
	}
	now := s.now()
	for _, path := range paths {
		st, err := pipeline.LoadState(path)
		if err != nil || st == nil {
			continue
		}
		if st.Status != pipeline.StatusRunning || now.Sub(st.UpdatedAt) <= s.stallAfter {
			continue
		}

		st.Status = pipeline.StatusStalled
		if err := pipeline.SaveState(path, st); err != nil {
			return TickResult{Action: ActionError, TriggerName: "stall-recovery", Err: err}, true
		}

		recoveryAgent := "builder"
		if st.CurrentStage >= 0 && st.CurrentStage < len(st.Pipeline) {
			recoveryAgent = st.Pipeline[st.CurrentStage]
		}
		item := queue.Item{
			TriggerName: "stall-recovery",
			ProjectPath: path,
			Agent:       recoveryAgent,
			Task:        st.Task,
			Mode:        agent.ModeStandalone,
		}
		if err := s.queue.Enqueue(item); err != nil {
			return TickResult{Action: ActionError, TriggerName: "stall-recovery", Err: err}, true
		}
		s.deps.Logger.Warn("stalled pipeline detected",
			"project", path, "stage", st.CurrentStage, "agent", recoveryAgent)
		return TickResult{Action: ActionQueued, TriggerName: "stall-recovery"}, true
	}
	return TickResult{}, false
}

// execute runs one work item. When the item came from a trigger, the
// trigger is marked fired on success or failure so a misconfigured rule
// cannot loop every tick.
func (s *Scheduler) execute(ctx context.Context, item queue.Item, source Source, t *trigger.CronTrigger) TickResult {
	item.ProjectPath = s.deps.Resolve(item.ProjectPath)

	result, err := s.deps.RunPipeline(ctx, item)
	if t != nil {
		t.MarkFired()
	}
	s.recordUsage(result)

	name := item.TriggerName
	if err != nil {
		return TickResult{Action: ActionError, TriggerName: name, Source: source, Err: err}
	}
	if s.metrics != nil {
		outcome := "completed"
		if !result.Completed {
			outcome = "failed"
		}
		s.metrics.PipelineRuns.WithLabelValues(outcome).Inc()
	}
	return TickResult{Action: ActionRanAgent, TriggerName: name, Source: source}
}

// recordUsage books the estimated prompt spend for a run. Without a
// structured result a conservative default is recorded.
func (s *Scheduler) recordUsage(result *pipeline.Result) {
	n := defaultPromptEstimate
	if result != nil {
		n = result.StandaloneStagesRun*promptsPerStandaloneStage +
			result.TeamStagesRun*promptsPerTeamStage
	}
	if err := s.deps.RecordUsage(n); err != nil {
		s.deps.Logger.Error("failed to record budget usage", "prompts", n, "error", err)
	}
}

// Start schedules ticks at the configured interval and runs an
// immediate first tick. It returns right away; ticks run on a
// background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.stopCh = make(chan struct{})
	go func() {
		s.Tick(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				s.running.Store(false)
				return
			}
		}
	}()
}

// Stop cancels future ticks. An in-flight pipeline is not interrupted:
// agent sessions are long-running and unsafe to kill mid-validation.
func (s *Scheduler) Stop() {
	if s.running.CompareAndSwap(true, false) {
		close(s.stopCh)
	}
}

// IsRunning reports whether the tick loop is scheduled.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// TickCount returns how many tick bodies have started.
func (s *Scheduler) TickCount() int64 {
	return s.tickCount.Load()
}

// itemFromTrigger shapes a trigger's rule into a work item.
func itemFromTrigger(t *trigger.CronTrigger) queue.Item {
	cfg := t.Config()
	mode, _ := agent.ParseMode(string(cfg.Mode))
	return queue.Item{
		TriggerName: cfg.Name,
		ProjectPath: cfg.Project,
		Agent:       cfg.Agent,
		Task:        cfg.Task,
		Mode:        mode,
	}
}
