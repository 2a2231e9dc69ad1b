package pipeline

import (
	"fmt"
	"strings"
)

// Stage 0 receives the trigger's task verbatim; later stages get a
// role-specific wrapper pointing at the prior stage's artifact. On a
// retry pass the prompt additionally sends the agent to REVIEW.md.

const retryInstruction = "A previous review did not approve this work. " +
	"Read `.brain/REVIEW.md` first and address every listed issue before continuing."

// buildStageTask constructs the prompt for stage i.
func buildStageTask(stages []Stage, i int, task string, retry bool) string {
	st := stages[i]
	var sb strings.Builder

	if i == 0 {
		sb.WriteString(task)
	} else {
		switch RoleOf(st.Agent) {
		case RoleScout:
			fmt.Fprintf(&sb, "Research the following task and write your findings as markdown files under `.brain/RESEARCH/`.\n\nTask: %s", task)
		case RoleArchitect:
			fmt.Fprintf(&sb, "Read the research in `.brain/RESEARCH/`, then write an implementation plan to `.brain/PLAN.md`. "+
				"Number the plan as `### Task N: title` headings, contiguously from 1.\n\nTask: %s", task)
		case RoleBuilder:
			fmt.Fprintf(&sb, "Read `.brain/PLAN.md` and `.brain/DECISIONS.md`, then implement the plan in this working tree.\n\nTask: %s", task)
		case RoleReviewer:
			fmt.Fprintf(&sb, "Review the work completed so far against the plan in `.brain/PLAN.md`. "+
				"Write `.brain/REVIEW.md` containing a score from 1-10 and a line `Verdict: APPROVE|REVISE|REDESIGN`.\n\nTask: %s", task)
		default:
			sb.WriteString(task)
		}
	}

	if st.BatchScope != "" {
		fmt.Fprintf(&sb, "\n\nScope: cover only %s from the plan.", st.BatchScope)
	}
	if retry {
		sb.WriteString("\n\n")
		sb.WriteString(retryInstruction)
	}
	return sb.String()
}
