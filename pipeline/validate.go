package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ResearchDirName is the scout's artifact directory inside .brain/.
const ResearchDirName = "RESEARCH"

// Validator checks a stage's artifacts after the agent returns. A nil
// error means the stage's output contract was met.
type Validator interface {
	ValidateStage(ctx context.Context, role Role, projectRoot string) error
}

// artifactValidator is the production validator: it inspects the
// working tree and .brain/ artifacts.
type artifactValidator struct {
	logger *slog.Logger
}

// NewArtifactValidator returns the production stage validator.
func NewArtifactValidator(logger *slog.Logger) Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &artifactValidator{logger: logger}
}

// ValidateStage implements Validator. Unknown roles pass without checks.
func (v *artifactValidator) ValidateStage(ctx context.Context, role Role, projectRoot string) error {
	switch role {
	case RoleScout:
		return v.validateScout(projectRoot)
	case RoleArchitect:
		return v.validateArchitect(projectRoot)
	case RoleBuilder:
		return v.validateBuilder(ctx, projectRoot)
	case RoleReviewer:
		return v.validateReviewer(projectRoot)
	default:
		return nil
	}
}

// validateScout requires .brain/RESEARCH/ with at least one .md file.
func (v *artifactValidator) validateScout(projectRoot string) error {
	dir := filepath.Join(BrainDir(projectRoot), ResearchDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scout produced no %s/ directory", ResearchDirName)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			return nil
		}
	}
	return fmt.Errorf("scout wrote no markdown files to %s/", ResearchDirName)
}

// validateArchitect requires a non-empty PLAN.md whose task headings,
// if any, number contiguously from 1. A plan with no task headings
// passes — expansion just won't run.
func (v *artifactValidator) validateArchitect(projectRoot string) error {
	path := filepath.Join(BrainDir(projectRoot), PlanFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("architect produced no %s", PlanFileName)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return fmt.Errorf("architect produced an empty %s", PlanFileName)
	}
	tasks := ParsePlanTasks(string(data))
	if len(tasks) == 0 {
		v.logger.Warn("plan contains no task headings; batch expansion will not run",
			"project", projectRoot)
		return nil
	}
	return ValidatePlanNumbering(tasks)
}

// validateBuilder requires a non-empty VCS diff and, when the project's
// package.json declares a test script, a passing test run.
func (v *artifactValidator) validateBuilder(ctx context.Context, projectRoot string) error {
	status := exec.CommandContext(ctx, "git", "status", "-s")
	status.Dir = projectRoot
	out, err := status.Output()
	if err != nil {
		return fmt.Errorf("failed to read git status: %w", err)
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return fmt.Errorf("builder produced no changes (git status is clean)")
	}

	if !hasTestScript(projectRoot) {
		return nil
	}
	test := exec.CommandContext(ctx, "npm", "test")
	test.Dir = projectRoot
	if out, err := test.CombinedOutput(); err != nil {
		return fmt.Errorf("test command failed: %w: %s", err, lastLines(string(out), 5))
	}
	return nil
}

// validateReviewer requires a verdict via either channel. The engine
// checks the structured channel before calling this, so only the
// REVIEW.md fallback is inspected here.
func (v *artifactValidator) validateReviewer(projectRoot string) error {
	data, err := os.ReadFile(ReviewPath(projectRoot))
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return fmt.Errorf("reviewer produced no %s and no structured verdict", ReviewFileName)
	}
	return nil
}

// hasTestScript reports whether package.json declares a "test" script.
func hasTestScript(projectRoot string) bool {
	data, err := os.ReadFile(filepath.Join(projectRoot, "package.json"))
	if err != nil {
		return false
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}
	_, ok := pkg.Scripts["test"]
	return ok
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// SweepPlanParts removes leftover PLAN-PART-*.md fragments the architect
// sometimes leaves behind, returning the removed names.
func SweepPlanParts(projectRoot string, logger *slog.Logger) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(BrainDir(projectRoot), "PLAN-PART-*.md"))
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return removed, fmt.Errorf("failed to sweep %s: %w", filepath.Base(m), err)
		}
		removed = append(removed, filepath.Base(m))
	}
	if len(removed) > 0 && logger != nil {
		logger.Info("swept plan fragments", "project", projectRoot, "files", removed)
	}
	return removed, nil
}
