// Package pipeline implements the review-loop pipeline engine: an
// ordered sequence of agent stages (scout, architect, builder, reviewer)
// driven against a project working tree, with artifact validation,
// verdict routing and per-batch retry.
package pipeline

import (
	"time"

	"github.com/c360studio/overseer/agent"
)

// Status is the lifecycle state of a pipeline run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStalled   Status = "stalled"
)

// StageStatus is the lifecycle state of one stage.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// Stage describes one agent invocation in a pipeline definition.
type Stage struct {
	// Agent is the agent label. The engine recognizes the role by
	// prefix match against scout|architect|builder|reviewer.
	Agent string `json:"agent"`
	// Teams lists sub-agent teams; a non-empty list switches the stage
	// to team mode.
	Teams []string `json:"teams,omitempty"`
	// BatchScope labels which plan tasks a (builder, reviewer) pair
	// covers, e.g. "Tasks 1-3". Empty until plan expansion runs.
	BatchScope string `json:"batchScope,omitempty"`
}

// Mode returns the execution mode implied by the stage definition.
func (s Stage) Mode() agent.Mode {
	if len(s.Teams) > 0 {
		return agent.ModeTeam
	}
	return agent.ModeStandalone
}

// StageState is the persisted record of one stage's progress.
type StageState struct {
	Agent       string      `json:"agent"`
	Status      StageStatus `json:"status"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	SessionID   string      `json:"sessionId,omitempty"`
	Validation  string      `json:"validation,omitempty"`
	BatchScope  string      `json:"batchScope,omitempty"`
}

// State is the per-project pipeline document, written at every stage
// transition. Terminal states (completed, failed) freeze the document.
type State struct {
	Project      string       `json:"project"`
	Task         string       `json:"task"`
	Pipeline     []string     `json:"pipeline"`
	Status       Status       `json:"status"`
	CurrentStage int          `json:"currentStage"`
	StartedAt    time.Time    `json:"startedAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	Retries      int          `json:"retries"`
	FinalVerdict string       `json:"finalVerdict,omitempty"`
	Error        string       `json:"error,omitempty"`
	Stages       []StageState `json:"stages"`
}

// Result summarizes a finished engine run for the heartbeat.
type Result struct {
	// Completed is true when every stage passed and the final verdict
	// was APPROVE.
	Completed bool
	// FinalVerdict is "APPROVE", the exhausted reviewer verdict, or a
	// "VALIDATION_FAILED: ..." detail.
	FinalVerdict string
	// StagesRun counts agent invocations, including re-runs.
	StagesRun int
	// StandaloneStagesRun and TeamStagesRun split StagesRun by mode for
	// budget accounting.
	StandaloneStagesRun int
	TeamStagesRun       int
	// Retries is the total retry count summed across batch scopes.
	Retries int
}
