package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PlanFileName is the architect's plan artifact inside .brain/.
const PlanFileName = "PLAN.md"

// DefaultBatchSize is how many plan tasks one (builder, reviewer) pair
// covers after expansion.
const DefaultBatchSize = 3

// PlanTask is one numbered task heading from PLAN.md.
type PlanTask struct {
	Number int
	Title  string
}

// planTaskPattern matches headings like "### Task 4: Wire the webhook".
var planTaskPattern = regexp.MustCompile(`^###\s+Task\s+(\d+):\s*(.+?)\s*$`)

// ParsePlanTasks scans plan text for task headings and returns them in
// source order.
func ParsePlanTasks(text string) []PlanTask {
	var tasks []PlanTask
	for _, line := range strings.Split(text, "\n") {
		m := planTaskPattern.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		tasks = append(tasks, PlanTask{Number: n, Title: m[2]})
	}
	return tasks
}

// ValidatePlanNumbering checks that task numbers run contiguously from 1
// in source order. An empty plan is allowed; expansion simply won't run.
func ValidatePlanNumbering(tasks []PlanTask) error {
	for i, t := range tasks {
		if t.Number != i+1 {
			return fmt.Errorf("plan task numbering broken: expected Task %d, found Task %d (%s)", i+1, t.Number, t.Title)
		}
	}
	return nil
}

// BatchScopeLabel renders the human-readable scope for tasks [start, end].
func BatchScopeLabel(start, end int) string {
	if start == end {
		return fmt.Sprintf("Task %d", start)
	}
	return fmt.Sprintf("Tasks %d-%d", start, end)
}

// ExpandStages rewrites a generic (builder, reviewer) tail into
// per-batch repetitions, one pair per batchSize plan tasks. The first
// stage whose agent contains expandFrom anchors the rewrite; stages
// after the original reviewer are discarded. The input is returned
// unchanged when there is nothing to expand, so calling it with zero
// tasks — or calling it twice with the same count — is harmless.
func ExpandStages(stages []Stage, taskCount int, expandFrom string, batchSize int) []Stage {
	if taskCount <= 0 {
		return stages
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	expandIdx := -1
	for i, st := range stages {
		if strings.Contains(st.Agent, expandFrom) {
			expandIdx = i
			break
		}
	}
	if expandIdx < 0 {
		return stages
	}

	reviewerIdx := -1
	for i := expandIdx + 1; i < len(stages); i++ {
		if RoleOf(stages[i].Agent) == RoleReviewer {
			reviewerIdx = i
			break
		}
	}
	if reviewerIdx < 0 {
		return stages
	}

	builder := stages[expandIdx]
	reviewer := stages[reviewerIdx]

	expanded := make([]Stage, 0, expandIdx+2*((taskCount+batchSize-1)/batchSize))
	expanded = append(expanded, stages[:expandIdx]...)
	for start := 1; start <= taskCount; start += batchSize {
		end := start + batchSize - 1
		if end > taskCount {
			end = taskCount
		}
		scope := BatchScopeLabel(start, end)

		b := builder
		b.BatchScope = scope
		r := reviewer
		r.BatchScope = scope
		expanded = append(expanded, b, r)
	}
	return expanded
}
