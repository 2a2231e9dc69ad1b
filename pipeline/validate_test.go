package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func brainWrite(t *testing.T, root, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(BrainDir(root), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(BrainDir(root), name), []byte(content), 0o644))
}

func TestValidateScout(t *testing.T) {
	v := NewArtifactValidator(nil)
	ctx := context.Background()

	t.Run("no research dir", func(t *testing.T) {
		assert.Error(t, v.ValidateStage(ctx, RoleScout, t.TempDir()))
	})

	t.Run("empty research dir", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(BrainDir(root), ResearchDirName), 0o755))
		assert.Error(t, v.ValidateStage(ctx, RoleScout, root))
	})

	t.Run("markdown present", func(t *testing.T) {
		root := t.TempDir()
		dir := filepath.Join(BrainDir(root), ResearchDirName)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "findings.md"), []byte("# Findings"), 0o644))
		assert.NoError(t, v.ValidateStage(ctx, RoleScout, root))
	})
}

func TestValidateArchitect(t *testing.T) {
	v := NewArtifactValidator(nil)
	ctx := context.Background()

	t.Run("missing plan", func(t *testing.T) {
		assert.Error(t, v.ValidateStage(ctx, RoleArchitect, t.TempDir()))
	})

	t.Run("empty plan", func(t *testing.T) {
		root := t.TempDir()
		brainWrite(t, root, PlanFileName, "   \n")
		assert.Error(t, v.ValidateStage(ctx, RoleArchitect, root))
	})

	t.Run("plan without headings passes", func(t *testing.T) {
		root := t.TempDir()
		brainWrite(t, root, PlanFileName, "# Plan\n\nOne undivided deliverable.\n")
		assert.NoError(t, v.ValidateStage(ctx, RoleArchitect, root))
	})

	t.Run("contiguous numbering passes", func(t *testing.T) {
		root := t.TempDir()
		brainWrite(t, root, PlanFileName, "### Task 1: a\n### Task 2: b\n")
		assert.NoError(t, v.ValidateStage(ctx, RoleArchitect, root))
	})

	t.Run("broken numbering fails", func(t *testing.T) {
		root := t.TempDir()
		brainWrite(t, root, PlanFileName, "### Task 1: a\n### Task 3: c\n")
		assert.Error(t, v.ValidateStage(ctx, RoleArchitect, root))
	})
}

func TestValidateReviewer(t *testing.T) {
	v := NewArtifactValidator(nil)
	ctx := context.Background()

	t.Run("missing review", func(t *testing.T) {
		assert.Error(t, v.ValidateStage(ctx, RoleReviewer, t.TempDir()))
	})

	t.Run("review present", func(t *testing.T) {
		root := t.TempDir()
		brainWrite(t, root, ReviewFileName, "Verdict: APPROVE\n")
		assert.NoError(t, v.ValidateStage(ctx, RoleReviewer, root))
	})
}

func TestValidateUnknownRolePasses(t *testing.T) {
	v := NewArtifactValidator(nil)
	assert.NoError(t, v.ValidateStage(context.Background(), RoleUnknown, t.TempDir()))
}

func TestSweepPlanParts(t *testing.T) {
	root := t.TempDir()
	brainWrite(t, root, "PLAN-PART-1.md", "fragment")
	brainWrite(t, root, "PLAN-PART-2.md", "fragment")
	brainWrite(t, root, PlanFileName, "### Task 1: keep me\n")

	removed, err := SweepPlanParts(root, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"PLAN-PART-1.md", "PLAN-PART-2.md"}, removed)

	// The real plan survives the sweep.
	_, err = os.Stat(filepath.Join(BrainDir(root), PlanFileName))
	assert.NoError(t, err)

	// A clean directory sweeps to nothing.
	removed, err = SweepPlanParts(root, nil)
	require.NoError(t, err)
	assert.Empty(t, removed)
}
