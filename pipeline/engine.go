package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360studio/overseer/agent"
)

// ErrEmptyStages is returned when Run is handed no stages.
var ErrEmptyStages = errors.New("pipeline received empty stages array")

const (
	// DefaultMaxRetries is the per-batch-scope retry budget for
	// non-APPROVE verdicts.
	DefaultMaxRetries = 2
	// ProjectFileName is the project context file inside .brain/.
	ProjectFileName = "PROJECT.md"
	// projectStubThreshold: a PROJECT.md shorter than this is treated
	// as absent and replaced with a stub derived from the task.
	projectStubThreshold = 80
)

// Engine drives a staged agent conversation against one project.
type Engine struct {
	runner     agent.Runner
	validator  Validator
	maxRetries int
	batchSize  int
	logger     *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithValidator replaces the artifact validator.
func WithValidator(v Validator) EngineOption {
	return func(e *Engine) { e.validator = v }
}

// WithMaxRetries sets the per-batch retry budget.
func WithMaxRetries(n int) EngineOption {
	return func(e *Engine) { e.maxRetries = n }
}

// WithBatchSize sets how many plan tasks each expanded pair covers.
func WithBatchSize(n int) EngineOption {
	return func(e *Engine) { e.batchSize = n }
}

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a pipeline engine around an agent runner.
func NewEngine(runner agent.Runner, opts ...EngineOption) *Engine {
	e := &Engine{
		runner:     runner,
		maxRetries: DefaultMaxRetries,
		batchSize:  DefaultBatchSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.validator == nil {
		e.validator = NewArtifactValidator(e.logger)
	}
	return e
}

// Run executes the stage list against projectRoot. It returns an error
// only when the runner itself fails or state cannot be persisted;
// validation failures and exhausted retries are reported through Result
// with Completed=false.
func (e *Engine) Run(ctx context.Context, stages []Stage, projectRoot, task string) (*Result, error) {
	if len(stages) == 0 {
		return nil, ErrEmptyStages
	}

	if err := e.bootstrapProjectContext(projectRoot, task); err != nil {
		return nil, err
	}

	state := newState(projectRoot, task, stages)
	if err := SaveState(projectRoot, state); err != nil {
		return nil, err
	}

	result := &Result{}
	retries := map[string]int{}
	expanded := false
	retrying := false

	i := 0
	for i < len(stages) {
		st := stages[i]
		role := RoleOf(st.Agent)

		state.CurrentStage = i
		markStageRunning(state, i)
		if err := SaveState(projectRoot, state); err != nil {
			return nil, err
		}

		e.logger.Info("running pipeline stage",
			"project", projectRoot,
			"stage", i,
			"agent", st.Agent,
			"scope", st.BatchScope,
			"mode", st.Mode())

		res, err := e.runner.Run(ctx, agent.Request{
			Agent:       st.Agent,
			ProjectPath: projectRoot,
			Task:        buildStageTask(stages, i, task, retrying),
			Mode:        st.Mode(),
		})
		if err != nil {
			state.Stages[i].Status = StageFailed
			state.Status = StatusFailed
			state.Error = err.Error()
			if serr := SaveState(projectRoot, state); serr != nil {
				e.logger.Error("failed to persist pipeline failure", "error", serr)
			}
			return nil, fmt.Errorf("stage %d (%s) runner failed: %w", i, st.Agent, err)
		}

		state.Stages[i].SessionID = res.SessionID
		result.StagesRun++
		if st.Mode() == agent.ModeTeam {
			result.TeamStagesRun++
		} else {
			result.StandaloneStagesRun++
		}

		if role == RoleArchitect {
			if _, err := SweepPlanParts(projectRoot, e.logger); err != nil {
				e.logger.Warn("plan fragment sweep failed", "error", err)
			}
		}

		if verr := e.validateStage(ctx, role, projectRoot, res); verr != nil {
			state.Stages[i].Status = StageFailed
			state.Stages[i].Validation = verr.Error()
			state.Status = StatusFailed
			state.FinalVerdict = "VALIDATION_FAILED: " + verr.Error()
			if serr := SaveState(projectRoot, state); serr != nil {
				return nil, serr
			}
			result.FinalVerdict = state.FinalVerdict
			result.Retries = sumRetries(retries)
			return result, nil
		}

		markStageCompleted(state, i)
		if err := SaveState(projectRoot, state); err != nil {
			return nil, err
		}

		if role == RoleArchitect && !expanded {
			var err error
			stages, expanded, err = e.maybeExpand(projectRoot, state, stages)
			if err != nil {
				return nil, err
			}
		}

		if role == RoleReviewer {
			verdict, review := e.detectVerdict(projectRoot, res)

			if verdict == VerdictApprove {
				retrying = false
				i++
				continue
			}

			batchKey := st.BatchScope
			if batchKey == "" {
				batchKey = "*"
			}
			if retries[batchKey] >= e.maxRetries {
				state.Status = StatusFailed
				state.FinalVerdict = string(verdict)
				if serr := SaveState(projectRoot, state); serr != nil {
					return nil, serr
				}
				result.FinalVerdict = string(verdict)
				result.Retries = sumRetries(retries)
				e.logger.Warn("retry budget exhausted",
					"project", projectRoot, "scope", batchKey, "verdict", verdict)
				return result, nil
			}
			retries[batchKey]++
			state.Retries = sumRetries(retries)

			if review != nil {
				if err := WriteReviewFile(projectRoot, review); err != nil {
					return nil, err
				}
			}

			if verdict == VerdictRedesign {
				i = firstArchitectIndex(stages)
			} else {
				i = lastBuilderIndexAtOrBefore(stages, i)
			}
			retrying = true
			resetStagesFrom(state, i)
			if err := SaveState(projectRoot, state); err != nil {
				return nil, err
			}
			e.logger.Info("review loop rewinding",
				"project", projectRoot, "verdict", verdict, "resume_stage", i, "scope", batchKey)
			continue
		}

		i++
	}

	state.Status = StatusCompleted
	state.FinalVerdict = string(VerdictApprove)
	if err := SaveState(projectRoot, state); err != nil {
		return nil, err
	}

	result.Completed = true
	result.FinalVerdict = string(VerdictApprove)
	result.Retries = sumRetries(retries)
	return result, nil
}

// validateStage applies the role's artifact contract. A reviewer that
// returned a conforming structured verdict needs no REVIEW.md on disk;
// a malformed structured payload does not earn the exemption.
func (e *Engine) validateStage(ctx context.Context, role Role, projectRoot string, res *agent.Result) error {
	if role == RoleReviewer && res.StructuredReview != nil {
		if _, err := ParseReview(res.StructuredReview); err == nil {
			return nil
		}
	}
	return e.validator.ValidateStage(ctx, role, projectRoot)
}

// maybeExpand runs plan expansion after the architect completes. When
// the stage list changes, the remaining pipeline-state entries are
// reinitialized with their batch scopes in one atomic write.
func (e *Engine) maybeExpand(projectRoot string, state *State, stages []Stage) ([]Stage, bool, error) {
	data, err := os.ReadFile(filepath.Join(BrainDir(projectRoot), PlanFileName))
	if err != nil {
		return stages, false, fmt.Errorf("failed to read %s: %w", PlanFileName, err)
	}
	tasks := ParsePlanTasks(string(data))
	if len(tasks) == 0 {
		return stages, false, nil
	}

	expanded := ExpandStages(stages, len(tasks), string(RoleBuilder), e.batchSize)
	if len(expanded) == len(stages) && !hasBatchScopes(expanded) {
		return stages, false, nil
	}

	expandIdx := firstScopedIndex(expanded)
	kept := state.Stages
	if expandIdx < len(kept) {
		kept = kept[:expandIdx]
	}
	state.Pipeline = agentNames(expanded)
	state.Stages = make([]StageState, 0, len(expanded))
	state.Stages = append(state.Stages, kept...)
	for j := expandIdx; j < len(expanded); j++ {
		state.Stages = append(state.Stages, StageState{
			Agent:      expanded[j].Agent,
			Status:     StagePending,
			BatchScope: expanded[j].BatchScope,
		})
	}
	if err := SaveState(projectRoot, state); err != nil {
		return stages, false, err
	}

	e.logger.Info("plan expanded into batches",
		"project", projectRoot, "tasks", len(tasks), "stages", len(expanded))
	return expanded, true, nil
}

// detectVerdict checks the structured channel first, then falls back to
// parsing REVIEW.md. An unreadable structured payload degrades to the
// file channel; an unreadable or absent REVIEW.md fails closed to
// REVISE so a malformed reviewer can never wedge the run.
func (e *Engine) detectVerdict(projectRoot string, res *agent.Result) (Verdict, *Review) {
	if res.StructuredReview != nil {
		review, err := ParseReview(res.StructuredReview)
		if err == nil {
			return review.Verdict, review
		}
		e.logger.Warn("structured review unusable, falling back to REVIEW.md", "error", err)
	}
	verdict, err := VerdictFromReviewFile(projectRoot)
	if err != nil {
		e.logger.Warn("review verdict unavailable, failing closed", "error", err)
		return VerdictRevise, nil
	}
	return verdict, nil
}

// bootstrapProjectContext writes a PROJECT.md stub derived from the task
// when none exists. An existing substantive file is never overwritten.
func (e *Engine) bootstrapProjectContext(projectRoot, task string) error {
	path := filepath.Join(BrainDir(projectRoot), ProjectFileName)
	if data, err := os.ReadFile(path); err == nil && len(strings.TrimSpace(string(data))) >= projectStubThreshold {
		return nil
	}
	if err := os.MkdirAll(BrainDir(projectRoot), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", BrainDirName, err)
	}
	stub := fmt.Sprintf("# Project\n\nThis working tree is managed by an autonomous agent pipeline.\n\nCurrent objective:\n\n%s\n", task)
	if err := os.WriteFile(path, []byte(stub), 0o644); err != nil {
		return fmt.Errorf("failed to write %s stub: %w", ProjectFileName, err)
	}
	return nil
}

func markStageRunning(state *State, i int) {
	now := time.Now().UTC()
	state.Stages[i].Status = StageRunning
	state.Stages[i].StartedAt = &now
}

func markStageCompleted(state *State, i int) {
	now := time.Now().UTC()
	state.Stages[i].Status = StageCompleted
	state.Stages[i].CompletedAt = &now
	state.Stages[i].Validation = "passed"
}

// resetStagesFrom rewinds stages [i..end] to pending for a retry pass.
func resetStagesFrom(state *State, i int) {
	for j := i; j < len(state.Stages); j++ {
		state.Stages[j].Status = StagePending
		state.Stages[j].StartedAt = nil
		state.Stages[j].CompletedAt = nil
		state.Stages[j].SessionID = ""
		state.Stages[j].Validation = ""
	}
	state.CurrentStage = i
}

func firstArchitectIndex(stages []Stage) int {
	for i, st := range stages {
		if RoleOf(st.Agent) == RoleArchitect {
			return i
		}
	}
	return 0
}

func lastBuilderIndexAtOrBefore(stages []Stage, i int) int {
	for j := i; j >= 0; j-- {
		if RoleOf(stages[j].Agent) == RoleBuilder {
			return j
		}
	}
	if i > 0 {
		return i - 1
	}
	return 0
}

func firstScopedIndex(stages []Stage) int {
	for i, st := range stages {
		if st.BatchScope != "" {
			return i
		}
	}
	return len(stages)
}

func hasBatchScopes(stages []Stage) bool {
	return firstScopedIndex(stages) < len(stages)
}

func sumRetries(retries map[string]int) int {
	total := 0
	for _, n := range retries {
		total += n
	}
	return total
}
