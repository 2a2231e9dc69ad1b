package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/c360studio/overseer/agent"
	"github.com/c360studio/overseer/budget"
	"github.com/c360studio/overseer/config"
	"github.com/c360studio/overseer/heartbeat"
	"github.com/c360studio/overseer/ipc"
	"github.com/c360studio/overseer/metrics"
	"github.com/c360studio/overseer/pipeline"
	"github.com/c360studio/overseer/project"
	"github.com/c360studio/overseer/queue"
	"github.com/c360studio/overseer/session"
	"github.com/c360studio/overseer/trigger"
	"github.com/c360studio/overseer/watcher"
	"github.com/c360studio/overseer/webhook"
)

// App wires the daemon together: durable substrate, pipeline engine,
// triggers, webhook ingester, watchers, heartbeat and IPC server.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	tracker  *budget.Tracker
	workq    *queue.Queue
	registry *project.Registry
	sessions *session.Log
	engine   *pipeline.Engine

	scheduler *heartbeat.Scheduler
	webhookS  *webhook.Server
	watchers  []*watcher.Watcher
	ipcServer *ipc.Server

	startedAt    time.Time
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func newApp(cfg *config.Config) (*App, error) {
	logger := slog.Default()

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.New(),
		tracker:  budget.New(cfg.Budget, cfg.BudgetFile(), budget.WithLogger(logger)),
		workq:    queue.New(cfg.QueueFile(), queue.WithLogger(logger)),
		registry: project.New(cfg.ProjectsFile(), project.WithLogger(logger)),
		sessions: session.NewLog(cfg.SessionsFile(), logger),
		shutdown: make(chan struct{}),
	}

	runner, err := a.buildRunner()
	if err != nil {
		return nil, err
	}
	engineOpts := []pipeline.EngineOption{pipeline.WithEngineLogger(logger)}
	if cfg.MaxRetries > 0 {
		engineOpts = append(engineOpts, pipeline.WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.BatchSize > 0 {
		engineOpts = append(engineOpts, pipeline.WithBatchSize(cfg.BatchSize))
	}
	a.engine = pipeline.NewEngine(runner, engineOpts...)

	// Pre-register configured projects; already-known paths are fine.
	for _, p := range cfg.Projects {
		if err := a.registry.Register(p.Path, p.Name); err != nil &&
			!strings.Contains(err.Error(), "already") {
			return nil, err
		}
	}

	triggers := make([]*trigger.CronTrigger, 0, len(cfg.Triggers))
	for _, tc := range cfg.Triggers {
		t, err := trigger.NewCron(tc, cfg.TriggerStateDir(), trigger.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}

	a.scheduler = heartbeat.New(heartbeat.Deps{
		CanRun:       a.tracker.CanRun,
		RecordUsage:  a.tracker.RecordUsage,
		RunPipeline:  a.runPipeline,
		Resolve:      a.registry.Resolve,
		ProjectPaths: a.projectPaths,
		Logger:       logger,
	}, a.workq, triggers,
		heartbeat.WithInterval(cfg.HeartbeatInterval()),
		heartbeat.WithStallThreshold(cfg.StallThreshold()),
		heartbeat.WithMetrics(a.metrics),
	)

	if cfg.Webhook != nil {
		a.webhookS = webhook.NewServer(*cfg.Webhook, a.workq.Enqueue,
			webhook.WithLogger(logger), webhook.WithMetrics(a.metrics))
	}
	for _, wc := range cfg.Watchers {
		w, err := watcher.New(wc, a.workq.Enqueue, logger)
		if err != nil {
			return nil, err
		}
		a.watchers = append(a.watchers, w)
	}

	a.ipcServer = ipc.NewServer(cfg.SocketPath(), logger)
	a.registerIPCHandlers()

	return a, nil
}

// buildRunner creates the agent runner. Without a configured command
// the daemon still starts, but any attempted run fails loudly.
func (a *App) buildRunner() (agent.Runner, error) {
	if len(a.cfg.Runner.Command) == 0 {
		a.logger.Warn("no agent runner command configured; pipeline runs will fail")
		return agent.RunnerFunc(func(ctx context.Context, req agent.Request) (*agent.Result, error) {
			return nil, fmt.Errorf("no agent runner configured")
		}), nil
	}
	return agent.NewCLIRunner(a.cfg.Runner, a.logger)
}

// Run starts everything and blocks until a signal or a shutdown command.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.startedAt = time.Now()

	if err := a.ipcServer.Start(ctx); err != nil {
		return err
	}
	if a.webhookS != nil {
		if err := a.webhookS.Start(); err != nil {
			a.ipcServer.Stop()
			return err
		}
	}
	for _, w := range a.watchers {
		if err := w.Start(ctx); err != nil {
			a.logger.Error("watcher failed to start", "error", err)
		}
	}
	a.scheduler.Start(ctx)
	a.logger.Info("overseer daemon started",
		"state_dir", a.cfg.StateDir, "triggers", len(a.cfg.Triggers))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		a.logger.Info("signal received, shutting down", "signal", sig.String())
	case <-a.shutdown:
		a.logger.Info("shutdown requested over ipc")
	case <-ctx.Done():
	}

	// Stop scheduling new ticks; an in-flight pipeline runs to
	// completion before the process exits.
	a.scheduler.Stop()
	for _, w := range a.watchers {
		_ = w.Stop()
	}
	if a.webhookS != nil {
		_ = a.webhookS.Stop()
	}
	_ = a.ipcServer.Stop()
	return nil
}

// runPipeline is the heartbeat's execution closure: it expands the work
// item into stages, drives the engine and books the session record.
func (a *App) runPipeline(ctx context.Context, item queue.Item) (*pipeline.Result, error) {
	stages := a.stagesFor(item)
	started := time.Now().UTC()

	result, err := a.engine.Run(ctx, stages, item.ProjectPath, item.Task)

	rec := session.Record{
		TriggerName: item.TriggerName,
		Project:     item.ProjectPath,
		Agent:       item.Agent,
		Mode:        item.Mode,
		Task:        item.Task,
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
	} else {
		rec.Completed = result.Completed
		rec.FinalVerdict = result.FinalVerdict
		rec.StagesRun = result.StagesRun
		rec.Retries = result.Retries
	}
	if aerr := a.sessions.Append(rec); aerr != nil {
		a.logger.Error("failed to record session", "error", aerr)
	}
	if terr := a.registry.TouchSession(item.ProjectPath); terr != nil {
		a.logger.Debug("could not stamp lastSession", "project", item.ProjectPath, "error", terr)
	}
	if remaining, rerr := a.tracker.Remaining(); rerr == nil {
		a.metrics.BudgetRemaining.Set(float64(remaining))
	}
	return result, err
}

// stagesFor maps an item's agent to a configured pipeline definition,
// falling back to a single stage.
func (a *App) stagesFor(item queue.Item) []pipeline.Stage {
	if def, ok := a.cfg.Pipelines[item.Agent]; ok {
		stages := make([]pipeline.Stage, len(def))
		for i, st := range def {
			stages[i] = pipeline.Stage{Agent: st.Agent, Teams: st.Teams}
		}
		return stages
	}
	st := pipeline.Stage{Agent: item.Agent}
	if item.Mode == agent.ModeTeam {
		st.Teams = []string{item.Agent}
	}
	return []pipeline.Stage{st}
}

func (a *App) projectPaths() ([]string, error) {
	projects, err := a.registry.List()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(projects))
	for i, p := range projects {
		paths[i] = p.Path
	}
	return paths, nil
}

// registerIPCHandlers exposes daemon control and introspection.
func (a *App) registerIPCHandlers() {
	s := a.ipcServer

	s.Handle("status", func(ctx context.Context, _ json.RawMessage) (any, error) {
		remaining, err := a.tracker.Remaining()
		if err != nil {
			return nil, err
		}
		depth, err := a.workq.Size()
		if err != nil {
			return nil, err
		}
		projects, err := a.registry.List()
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"running":         a.scheduler.IsRunning(),
			"tickCount":       a.scheduler.TickCount(),
			"budgetRemaining": remaining,
			"queueDepth":      depth,
			"projects":        len(projects),
			"uptimeSeconds":   int(time.Since(a.startedAt).Seconds()),
		}, nil
	})

	s.Handle("run", func(ctx context.Context, args json.RawMessage) (any, error) {
		var ra ipc.RunArgs
		if err := json.Unmarshal(args, &ra); err != nil {
			return nil, fmt.Errorf("invalid run args: %w", err)
		}
		if ra.Agent == "" || ra.Project == "" || ra.Task == "" {
			return nil, fmt.Errorf("run requires agent, project and task")
		}
		mode, err := agent.ParseMode(ra.Mode)
		if err != nil {
			return nil, err
		}
		item := queue.Item{
			TriggerName: "ipc:run",
			ProjectPath: ra.Project,
			Agent:       ra.Agent,
			Task:        ra.Task,
			Mode:        mode,
		}
		// Queued rather than run inline so the heartbeat's
		// at-most-one-agent latch stays authoritative.
		if err := a.workq.Enqueue(item); err != nil {
			return nil, err
		}
		return map[string]any{"queued": true}, nil
	})

	s.Handle("projects-list", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return a.registry.List()
	})
	s.Handle("projects-add", func(ctx context.Context, args json.RawMessage) (any, error) {
		var pa ipc.ProjectArgs
		if err := json.Unmarshal(args, &pa); err != nil {
			return nil, fmt.Errorf("invalid project args: %w", err)
		}
		if err := a.registry.Register(pa.Path, pa.Name); err != nil {
			return nil, err
		}
		return map[string]any{"registered": pa.Path}, nil
	})
	s.Handle("projects-remove", func(ctx context.Context, args json.RawMessage) (any, error) {
		var pa ipc.ProjectArgs
		if err := json.Unmarshal(args, &pa); err != nil {
			return nil, fmt.Errorf("invalid project args: %w", err)
		}
		ref := pa.Name
		if ref == "" {
			ref = pa.Path
		}
		if err := a.registry.Unregister(ref); err != nil {
			return nil, err
		}
		return map[string]any{"removed": ref}, nil
	})

	s.Handle("queue-list", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return a.workq.List()
	})

	s.Handle("sessions-list", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return a.sessions.List()
	})
	s.Handle("sessions-active", func(ctx context.Context, _ json.RawMessage) (any, error) {
		paths, err := a.projectPaths()
		if err != nil {
			return nil, err
		}
		active := []map[string]any{}
		for _, path := range paths {
			st, err := pipeline.LoadState(path)
			if err != nil || st == nil || st.Status != pipeline.StatusRunning {
				continue
			}
			active = append(active, map[string]any{
				"project":      path,
				"task":         st.Task,
				"currentStage": st.CurrentStage,
				"startedAt":    st.StartedAt,
				"updatedAt":    st.UpdatedAt,
			})
		}
		return active, nil
	})

	s.Handle("shutdown", func(ctx context.Context, _ json.RawMessage) (any, error) {
		// Respond before the daemon tears the socket down. Repeated
		// shutdown commands must not close the channel twice.
		go func() {
			time.Sleep(100 * time.Millisecond)
			a.shutdownOnce.Do(func() { close(a.shutdown) })
		}()
		return map[string]any{"stopping": true}, nil
	})
}
