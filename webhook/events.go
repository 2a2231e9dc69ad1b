package webhook

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/overseer/queue"
)

// Default agents per event kind when the mapping does not override.
const (
	defaultIssueAgent = "team-lead"
	defaultPRAgent    = "reviewer"
)

// eventPayload covers the GitHub fields the ingester reads. Everything
// else in the delivery is ignored.
type eventPayload struct {
	Action string `json:"action"`
	Label  struct {
		Name string `json:"name"`
	} `json:"label"`
	Issue struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"issue"`
	PullRequest struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		Head   struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// matchEvent walks the configured mappings in order and builds a queue
// item from the first that matches. The GitHub event is the raw header
// value; the mapping key qualifies it with the payload action.
func (s *Server) matchEvent(event string, payload *eventPayload) (*queue.Item, bool) {
	for _, mapping := range s.config.GitHub.Events {
		switch mapping.Event {
		case "issues.labeled":
			if event != "issues" || payload.Action != "labeled" {
				continue
			}
			if mapping.Label != "" && payload.Label.Name != mapping.Label {
				continue
			}
			return s.issueItem(mapping, payload), true

		case "pull_request.opened":
			if event != "pull_request" || payload.Action != "opened" {
				continue
			}
			return s.pullRequestItem(mapping, payload), true
		}
	}
	return nil, false
}

func (s *Server) issueItem(mapping EventMapping, payload *eventPayload) *queue.Item {
	agentName := mapping.Agent
	if agentName == "" {
		agentName = defaultIssueAgent
	}
	task := mapping.Task
	if task == "" {
		task = fmt.Sprintf("Resolve GitHub issue #%d: %s\n\n%s",
			payload.Issue.Number, payload.Issue.Title, payload.Issue.Body)
	}
	return &queue.Item{
		TriggerName: fmt.Sprintf("webhook:issue-%d", payload.Issue.Number),
		ProjectPath: projectFromRepo(payload.Repository.FullName),
		Agent:       agentName,
		Task:        strings.TrimSpace(task),
		Mode:        mapping.Mode,
		EnqueuedAt:  time.Now().UTC(),
	}
}

func (s *Server) pullRequestItem(mapping EventMapping, payload *eventPayload) *queue.Item {
	agentName := mapping.Agent
	if agentName == "" {
		agentName = defaultPRAgent
	}
	task := mapping.Task
	if task == "" {
		task = fmt.Sprintf("Review pull request #%d (%s): %s\n\n%s",
			payload.PullRequest.Number, payload.PullRequest.Head.Ref,
			payload.PullRequest.Title, payload.PullRequest.Body)
	}
	return &queue.Item{
		TriggerName: fmt.Sprintf("webhook:pr-%d", payload.PullRequest.Number),
		ProjectPath: projectFromRepo(payload.Repository.FullName),
		Agent:       agentName,
		Task:        strings.TrimSpace(task),
		Mode:        mapping.Mode,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// projectFromRepo takes the last segment of owner/repo. The heartbeat
// resolves the short name against the project registry; unresolved
// names pass through as-is.
func projectFromRepo(fullName string) string {
	if i := strings.LastIndexByte(fullName, '/'); i >= 0 {
		return fullName[i+1:]
	}
	return fullName
}
