package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/c360studio/overseer/statefile"
)

const (
	// BrainDirName is the per-project directory hosting pipeline
	// artifacts (PROJECT.md, PLAN.md, REVIEW.md, RESEARCH/).
	BrainDirName = ".brain"
	// StateFileName is the pipeline state document inside .brain/.
	StateFileName = "pipeline-state.json"
)

// BrainDir returns the artifact directory for a project root.
func BrainDir(projectRoot string) string {
	return filepath.Join(projectRoot, BrainDirName)
}

// StatePath returns the pipeline-state document path for a project root.
func StatePath(projectRoot string) string {
	return filepath.Join(BrainDir(projectRoot), StateFileName)
}

// LoadState reads a project's pipeline state. It returns (nil, nil)
// when no state document exists.
func LoadState(projectRoot string) (*State, error) {
	var s State
	ok, err := statefile.ReadJSON(StatePath(projectRoot), &s)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// SaveState persists a project's pipeline state, advancing UpdatedAt.
// The engine is the sole writer of this document; the heartbeat's
// stall sweep is the one sanctioned exception.
func SaveState(projectRoot string, s *State) error {
	s.UpdatedAt = time.Now().UTC()
	if err := os.MkdirAll(BrainDir(projectRoot), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", BrainDirName, err)
	}
	return statefile.WriteJSON(StatePath(projectRoot), s)
}

// newState builds a fresh running state for a stage list, all pending.
func newState(projectRoot, task string, stages []Stage) *State {
	s := &State{
		Project:      projectRoot,
		Task:         task,
		Pipeline:     agentNames(stages),
		Status:       StatusRunning,
		CurrentStage: 0,
		StartedAt:    time.Now().UTC(),
		Stages:       make([]StageState, len(stages)),
	}
	for i, st := range stages {
		s.Stages[i] = StageState{
			Agent:      st.Agent,
			Status:     StagePending,
			BatchScope: st.BatchScope,
		}
	}
	return s
}

func agentNames(stages []Stage) []string {
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = st.Agent
	}
	return names
}
