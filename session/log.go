// Package session keeps the append-only log of completed pipeline
// runs that backs the sessions-list IPC command.
package session

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/overseer/agent"
	"github.com/c360studio/overseer/statefile"
)

// Record summarizes one pipeline run.
type Record struct {
	ID           string     `json:"id"`
	TriggerName  string     `json:"triggerName"`
	Project      string     `json:"project"`
	Agent        string     `json:"agent"`
	Mode         agent.Mode `json:"mode"`
	Task         string     `json:"task"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  time.Time  `json:"completedAt"`
	Completed    bool       `json:"completed"`
	FinalVerdict string     `json:"finalVerdict,omitempty"`
	StagesRun    int        `json:"stagesRun"`
	Retries      int        `json:"retries"`
	Error        string     `json:"error,omitempty"`
}

// document is the on-disk shape.
type document struct {
	Sessions []Record `json:"sessions"`
}

// Log is the durable session history.
type Log struct {
	stateFile string
	lock      *statefile.Lock
	logger    *slog.Logger
}

// NewLog creates a session log persisting to stateFile.
func NewLog(stateFile string, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		stateFile: stateFile,
		lock:      statefile.NewLock(stateFile),
		logger:    logger,
	}
}

// Append records one finished run.
func (l *Log) Append(rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	return l.lock.WithLock(func() error {
		var doc document
		if _, err := statefile.ReadJSON(l.stateFile, &doc); err != nil {
			return err
		}
		doc.Sessions = append(doc.Sessions, rec)
		return statefile.WriteJSON(l.stateFile, &doc)
	})
}

// List returns all recorded sessions, oldest first.
func (l *Log) List() ([]Record, error) {
	var doc document
	if _, err := statefile.ReadJSON(l.stateFile, &doc); err != nil {
		return nil, err
	}
	return doc.Sessions, nil
}
