package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/overseer/agent"
)

// fakeRunner plays the agent side of the pipeline. The architect writes
// the configured plan, the reviewer consumes one scripted verdict per
// call, and every request is recorded for order assertions.
type fakeRunner struct {
	calls    []agent.Request
	verdicts []Verdict
	planText string
	// fileVerdicts switches the reviewer to the REVIEW.md channel
	// instead of the structured one.
	fileVerdicts bool
	// brokenStructured makes the reviewer emit unparseable structured
	// JSON alongside a REVIEW.md verdict.
	brokenStructured bool
}

func (f *fakeRunner) Run(_ context.Context, req agent.Request) (*agent.Result, error) {
	f.calls = append(f.calls, req)

	switch RoleOf(req.Agent) {
	case RoleArchitect:
		dir := BrainDir(req.ProjectPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(dir, PlanFileName), []byte(f.planText), 0o644); err != nil {
			return nil, err
		}
	case RoleReviewer:
		v := f.verdicts[0]
		f.verdicts = f.verdicts[1:]

		if f.fileVerdicts || f.brokenStructured {
			md := fmt.Sprintf("# Review\n\nScore: 5/10\nVerdict: %s\n", v)
			if err := os.WriteFile(ReviewPath(req.ProjectPath), []byte(md), 0o644); err != nil {
				return nil, err
			}
			if f.brokenStructured {
				return &agent.Result{SessionID: "s-review", StructuredReview: json.RawMessage(`{"verdict":`)}, nil
			}
			return &agent.Result{SessionID: "s-review"}, nil
		}

		raw := fmt.Sprintf(`{"verdict":%q,"score":5,"summary":"scripted","patternsCompliance":true}`, v)
		return &agent.Result{SessionID: "s-review", StructuredReview: json.RawMessage(raw)}, nil
	}
	return &agent.Result{SessionID: "s-" + req.Agent}, nil
}

func (f *fakeRunner) agents() []string {
	names := make([]string, len(f.calls))
	for i, c := range f.calls {
		names[i] = c.Agent
	}
	return names
}

type allPass struct{}

func (allPass) ValidateStage(context.Context, Role, string) error { return nil }

type failRole struct {
	role Role
	err  error
}

func (f failRole) ValidateStage(_ context.Context, role Role, _ string) error {
	if role == f.role {
		return f.err
	}
	return nil
}

func newTestEngine(runner agent.Runner, opts ...EngineOption) *Engine {
	return NewEngine(runner, append([]EngineOption{WithValidator(allPass{})}, opts...)...)
}

func TestRunEmptyStages(t *testing.T) {
	e := newTestEngine(&fakeRunner{})
	_, err := e.Run(context.Background(), nil, t.TempDir(), "task")
	assert.ErrorIs(t, err, ErrEmptyStages)
}

func TestRunSingleApprove(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{verdicts: []Verdict{VerdictApprove}}
	e := newTestEngine(runner)

	res, err := e.Run(context.Background(), []Stage{{Agent: "builder"}, {Agent: "reviewer"}}, root, "do the thing")
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.Equal(t, "APPROVE", res.FinalVerdict)
	assert.Equal(t, 2, res.StagesRun)
	assert.Zero(t, res.Retries)
	assert.Equal(t, []string{"builder", "reviewer"}, runner.agents())

	st, err := LoadState(root)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, "APPROVE", st.FinalVerdict)
}

func TestRunReviseThenApprove(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{verdicts: []Verdict{VerdictRevise, VerdictApprove}}
	e := newTestEngine(runner)

	res, err := e.Run(context.Background(), []Stage{{Agent: "builder"}, {Agent: "reviewer"}}, root, "fix the bug")
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, 4, res.StagesRun)
	assert.Equal(t, []string{"builder", "reviewer", "builder", "reviewer"}, runner.agents())

	// The structured REVISE was rendered to REVIEW.md for the retry pass,
	// and the retried builder was pointed at it.
	data, err := os.ReadFile(ReviewPath(root))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Verdict: REVISE")
	assert.Contains(t, runner.calls[2].Task, "REVIEW.md")
}

func TestRunRedesignRewindsToArchitect(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{
		planText: "# Plan\n\nsingle deliverable, no task breakdown\n",
		verdicts: []Verdict{VerdictRedesign, VerdictApprove},
	}
	e := newTestEngine(runner)

	stages := []Stage{{Agent: "architect"}, {Agent: "builder"}, {Agent: "reviewer"}}
	res, err := e.Run(context.Background(), stages, root, "redesign me")
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t,
		[]string{"architect", "builder", "reviewer", "architect", "builder", "reviewer"},
		runner.agents())
}

func TestRunPlanExpansion(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{
		planText: "# Plan\n\n### Task 1: one\n### Task 2: two\n### Task 3: three\n### Task 4: four\n",
		verdicts: []Verdict{VerdictApprove, VerdictApprove},
	}
	e := newTestEngine(runner)

	stages := []Stage{{Agent: "architect"}, {Agent: "builder"}, {Agent: "reviewer"}}
	res, err := e.Run(context.Background(), stages, root, "big feature")
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.Equal(t,
		[]string{"architect", "builder", "reviewer", "builder", "reviewer"},
		runner.agents())

	// Each expanded stage is scoped to its batch in the prompt.
	assert.Contains(t, runner.calls[1].Task, "Tasks 1-3")
	assert.Contains(t, runner.calls[2].Task, "Tasks 1-3")
	assert.Contains(t, runner.calls[3].Task, "Task 4")

	st, err := LoadState(root)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, []string{"architect", "builder", "reviewer", "builder", "reviewer"}, st.Pipeline)
	assert.Equal(t, "Tasks 1-3", st.Stages[1].BatchScope)
	assert.Equal(t, "Task 4", st.Stages[3].BatchScope)
	assert.Equal(t, StatusCompleted, st.Status)
}

func TestRunRetryBudgetPerBatch(t *testing.T) {
	root := t.TempDir()
	// Batch one needs a retry, batch two approves straight away. Separate
	// scopes keep separate budgets, so one retry each side never exhausts.
	runner := &fakeRunner{
		planText: "### Task 1: a\n### Task 2: b\n### Task 3: c\n### Task 4: d\n",
		verdicts: []Verdict{VerdictRevise, VerdictApprove, VerdictRevise, VerdictApprove},
	}
	e := newTestEngine(runner, WithMaxRetries(1))

	stages := []Stage{{Agent: "architect"}, {Agent: "builder"}, {Agent: "reviewer"}}
	res, err := e.Run(context.Background(), stages, root, "batched work")
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.Equal(t, 2, res.Retries)
	assert.Equal(t,
		[]string{"architect", "builder", "reviewer", "builder", "reviewer", "builder", "reviewer", "builder", "reviewer"},
		runner.agents())
}

func TestRunRetriesExhausted(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{verdicts: []Verdict{VerdictRevise, VerdictRevise}}
	e := newTestEngine(runner, WithMaxRetries(1))

	res, err := e.Run(context.Background(), []Stage{{Agent: "builder"}, {Agent: "reviewer"}}, root, "hopeless")
	require.NoError(t, err)

	assert.False(t, res.Completed)
	assert.Equal(t, "REVISE", res.FinalVerdict)
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, []string{"builder", "reviewer", "builder", "reviewer"}, runner.agents())

	st, err := LoadState(root)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, "REVISE", st.FinalVerdict)
}

func TestRunValidationFailure(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{}
	e := NewEngine(runner, WithValidator(failRole{role: RoleBuilder, err: fmt.Errorf("builder produced no changes")}))

	res, err := e.Run(context.Background(), []Stage{{Agent: "builder"}}, root, "noop")
	require.NoError(t, err)

	assert.False(t, res.Completed)
	assert.Contains(t, res.FinalVerdict, "VALIDATION_FAILED")
	assert.Contains(t, res.FinalVerdict, "no changes")

	st, err := LoadState(root)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, StageFailed, st.Stages[0].Status)
}

func TestRunRunnerError(t *testing.T) {
	root := t.TempDir()
	boom := fmt.Errorf("agent binary missing")
	e := newTestEngine(agent.RunnerFunc(func(context.Context, agent.Request) (*agent.Result, error) {
		return nil, boom
	}))

	_, err := e.Run(context.Background(), []Stage{{Agent: "builder"}}, root, "task")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	st, lerr := LoadState(root)
	require.NoError(t, lerr)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Contains(t, st.Error, "agent binary missing")
}

func TestRunVerdictFromReviewFile(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{fileVerdicts: true, verdicts: []Verdict{VerdictApprove}}
	e := newTestEngine(runner)

	res, err := e.Run(context.Background(), []Stage{{Agent: "builder"}, {Agent: "reviewer"}}, root, "file channel")
	require.NoError(t, err)
	assert.True(t, res.Completed)
}

func TestRunInvalidStructuredNoReviewFileFailsClosed(t *testing.T) {
	root := t.TempDir()
	reviewerCalls := 0
	runner := agent.RunnerFunc(func(_ context.Context, req agent.Request) (*agent.Result, error) {
		if RoleOf(req.Agent) != RoleReviewer {
			return &agent.Result{SessionID: "s-builder"}, nil
		}
		reviewerCalls++
		if reviewerCalls == 1 {
			// Non-conforming verdict, and nothing written to REVIEW.md.
			return &agent.Result{StructuredReview: json.RawMessage(`{"verdict":"MAYBE","score":5}`)}, nil
		}
		return &agent.Result{StructuredReview: json.RawMessage(`{"verdict":"APPROVE","score":8,"patternsCompliance":true}`)}, nil
	})
	e := newTestEngine(runner)

	// The missing verdict is treated as REVISE: the run retries instead
	// of erroring out with the state stuck at running.
	res, err := e.Run(context.Background(), []Stage{{Agent: "builder"}, {Agent: "reviewer"}}, root, "garbled reviewer")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, 2, reviewerCalls)

	st, err := LoadState(root)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)
}

func TestRunInvalidStructuredFailsArtifactValidation(t *testing.T) {
	root := t.TempDir()
	runner := agent.RunnerFunc(func(context.Context, agent.Request) (*agent.Result, error) {
		return &agent.Result{StructuredReview: json.RawMessage(`{"verdict":"MAYBE","score":5}`)}, nil
	})
	// A malformed structured payload does not exempt the reviewer from
	// the artifact check, so a missing REVIEW.md terminates the run with
	// a persisted failure.
	e := NewEngine(runner, WithValidator(failRole{
		role: RoleReviewer,
		err:  fmt.Errorf("reviewer produced no REVIEW.md and no structured verdict"),
	}))

	res, err := e.Run(context.Background(), []Stage{{Agent: "reviewer"}}, root, "garbled reviewer")
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Contains(t, res.FinalVerdict, "VALIDATION_FAILED")

	st, err := LoadState(root)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
}

func TestRunBrokenStructuredFallsBackToFile(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{brokenStructured: true, verdicts: []Verdict{VerdictApprove}}
	e := newTestEngine(runner)

	res, err := e.Run(context.Background(), []Stage{{Agent: "builder"}, {Agent: "reviewer"}}, root, "degraded channel")
	require.NoError(t, err)
	assert.True(t, res.Completed)
}

func TestRunCountsStageModes(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{verdicts: []Verdict{VerdictApprove}}
	e := newTestEngine(runner)

	stages := []Stage{
		{Agent: "builder", Teams: []string{"core", "infra"}},
		{Agent: "reviewer"},
	}
	res, err := e.Run(context.Background(), stages, root, "mixed modes")
	require.NoError(t, err)

	assert.Equal(t, 1, res.TeamStagesRun)
	assert.Equal(t, 1, res.StandaloneStagesRun)
	assert.Equal(t, agent.ModeTeam, runner.calls[0].Mode)
	assert.Equal(t, agent.ModeStandalone, runner.calls[1].Mode)
}

func TestBootstrapProjectContext(t *testing.T) {
	t.Run("stub written when absent", func(t *testing.T) {
		root := t.TempDir()
		runner := &fakeRunner{}
		e := newTestEngine(runner)

		_, err := e.Run(context.Background(), []Stage{{Agent: "builder"}}, root, "seed objective")
		require.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(BrainDir(root), ProjectFileName))
		require.NoError(t, err)
		assert.Contains(t, string(data), "seed objective")
	})

	t.Run("substantive file preserved", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(BrainDir(root), 0o755))
		existing := "# Project\n\nA carefully curated project description that is well past the stub threshold in length.\n"
		path := filepath.Join(BrainDir(root), ProjectFileName)
		require.NoError(t, os.WriteFile(path, []byte(existing), 0o644))

		e := newTestEngine(&fakeRunner{})
		_, err := e.Run(context.Background(), []Stage{{Agent: "builder"}}, root, "other task")
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, existing, string(data))
	})
}

func TestFirstStagePromptIsVerbatim(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{}
	e := newTestEngine(runner)

	task := "Resolve GitHub issue #12: flaky retry loop"
	_, err := e.Run(context.Background(), []Stage{{Agent: "builder"}}, root, task)
	require.NoError(t, err)
	assert.Equal(t, task, runner.calls[0].Task)
}
