package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Verdict is the reviewer's decision on the current batch.
type Verdict string

const (
	VerdictApprove  Verdict = "APPROVE"
	VerdictRevise   Verdict = "REVISE"
	VerdictRedesign Verdict = "REDESIGN"
)

// Severity classifies a review issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityNit      Severity = "nit"
)

// Issue is one problem the reviewer raised.
type Issue struct {
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	File        string   `json:"file,omitempty"`
}

// Review is the structured reviewer output.
type Review struct {
	Verdict            Verdict `json:"verdict"`
	Score              float64 `json:"score"`
	Summary            string  `json:"summary"`
	Issues             []Issue `json:"issues"`
	PatternsCompliance bool    `json:"patternsCompliance"`
}

// ParseReview decodes and strictly validates a structured review.
func ParseReview(raw []byte) (*Review, error) {
	var r Review
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to parse review JSON: %w", err)
	}
	switch r.Verdict {
	case VerdictApprove, VerdictRevise, VerdictRedesign:
	default:
		return nil, fmt.Errorf("invalid review verdict %q", r.Verdict)
	}
	if r.Score < 1 || r.Score > 10 {
		return nil, fmt.Errorf("review score %v out of range [1,10]", r.Score)
	}
	for i, issue := range r.Issues {
		switch issue.Severity {
		case SeverityCritical, SeverityMajor, SeverityMinor, SeverityNit:
		default:
			return nil, fmt.Errorf("issue %d has invalid severity %q", i, issue.Severity)
		}
	}
	return &r, nil
}

// ReviewFileName is the reviewer's markdown artifact inside .brain/.
const ReviewFileName = "REVIEW.md"

// ReviewPath returns the REVIEW.md path for a project root.
func ReviewPath(projectRoot string) string {
	return filepath.Join(BrainDir(projectRoot), ReviewFileName)
}

// verdictPattern matches the verdict line in REVIEW.md.
var verdictPattern = regexp.MustCompile(`(?i)verdict:?\s*(APPROVE|REVISE|REDESIGN)`)

// ParseVerdictText extracts a verdict from markdown text. The second
// return is false when no verdict line was found.
func ParseVerdictText(text string) (Verdict, bool) {
	m := verdictPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return Verdict(strings.ToUpper(m[1])), true
}

// VerdictFromReviewFile reads REVIEW.md and extracts the verdict.
// A present file with no recognizable verdict fails closed to REVISE so
// the pipeline never prematurely claims success.
func VerdictFromReviewFile(projectRoot string) (Verdict, error) {
	data, err := os.ReadFile(ReviewPath(projectRoot))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", ReviewFileName, err)
	}
	if v, ok := ParseVerdictText(string(data)); ok {
		return v, nil
	}
	return VerdictRevise, nil
}

// Markdown renders the review deterministically so a retry prompt can
// point the next agent at a readable REVIEW.md even when the verdict
// arrived over the structured channel.
func (r *Review) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# Review\n\n")
	fmt.Fprintf(&sb, "Score: %g/10\n", r.Score)
	fmt.Fprintf(&sb, "Verdict: %s\n", r.Verdict)
	fmt.Fprintf(&sb, "Patterns compliance: %t\n\n", r.PatternsCompliance)
	if r.Summary != "" {
		sb.WriteString(r.Summary)
		sb.WriteString("\n")
	}
	if len(r.Issues) > 0 {
		sb.WriteString("\n## Issues\n\n")
		for _, issue := range r.Issues {
			fmt.Fprintf(&sb, "- **%s**: %s", issue.Severity, issue.Description)
			if issue.File != "" {
				fmt.Fprintf(&sb, " (`%s`)", issue.File)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// WriteReviewFile persists the deterministic rendering to REVIEW.md.
func WriteReviewFile(projectRoot string, r *Review) error {
	if err := os.MkdirAll(BrainDir(projectRoot), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", BrainDirName, err)
	}
	if err := os.WriteFile(ReviewPath(projectRoot), []byte(r.Markdown()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", ReviewFileName, err)
	}
	return nil
}
