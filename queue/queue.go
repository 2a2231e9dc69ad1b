// Package queue provides the daemon's crash-safe FIFO work queue.
//
// Items that cannot run immediately (budget exhausted, daemon busy) are
// parked here and drained by the heartbeat in strict arrival order. The
// queue is a write-through JSON document guarded by an advisory file
// lock, so a restart never loses deferred work.
package queue

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/overseer/agent"
	"github.com/c360studio/overseer/statefile"
)

// Item is one unit of deferred work.
type Item struct {
	// ID uniquely identifies the item. Assigned on enqueue when empty.
	ID string `json:"id"`
	// TriggerName names the producer, e.g. "nightly-build",
	// "webhook:issue-7" or "stall-recovery".
	TriggerName string `json:"triggerName"`
	// ProjectPath is the project root, or a short project name the
	// heartbeat resolves against the registry at execution time.
	ProjectPath string `json:"projectPath"`
	// Agent is the agent label to run.
	Agent string `json:"agent"`
	// Task is the prompt text.
	Task string `json:"task"`
	// Mode is standalone or team.
	Mode agent.Mode `json:"mode"`
	// EnqueuedAt is when the item was accepted.
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// document is the on-disk shape.
type document struct {
	Items []Item `json:"items"`
}

// Queue is a durable FIFO of work items.
type Queue struct {
	stateFile string
	lock      *statefile.Lock
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithClock overrides the queue's time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a queue persisting to stateFile.
func New(stateFile string, opts ...Option) *Queue {
	q := &Queue{
		stateFile: stateFile,
		lock:      statefile.NewLock(stateFile),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// ensureExists creates the state document with an empty items list if
// it is absent, before any locking.
func (q *Queue) ensureExists() error {
	var doc document
	ok, err := statefile.ReadJSON(q.stateFile, &doc)
	if err != nil {
		return err
	}
	if !ok {
		return statefile.WriteJSON(q.stateFile, &document{Items: []Item{}})
	}
	return nil
}

// Enqueue appends item to the tail. A missing ID or EnqueuedAt is
// stamped here so producers can stay minimal.
func (q *Queue) Enqueue(item Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = q.now()
	}
	if err := q.ensureExists(); err != nil {
		return err
	}
	return q.lock.WithLock(func() error {
		var doc document
		if _, err := statefile.ReadJSON(q.stateFile, &doc); err != nil {
			return err
		}
		doc.Items = append(doc.Items, item)
		if err := statefile.WriteJSON(q.stateFile, &doc); err != nil {
			return err
		}
		q.logger.Debug("enqueued work item",
			"trigger", item.TriggerName,
			"agent", item.Agent,
			"depth", len(doc.Items))
		return nil
	})
}

// Dequeue atomically removes and returns the head item, or nil when the
// queue is empty.
func (q *Queue) Dequeue() (*Item, error) {
	if err := q.ensureExists(); err != nil {
		return nil, err
	}
	var head *Item
	err := q.lock.WithLock(func() error {
		var doc document
		if _, err := statefile.ReadJSON(q.stateFile, &doc); err != nil {
			return err
		}
		if len(doc.Items) == 0 {
			return nil
		}
		item := doc.Items[0]
		doc.Items = doc.Items[1:]
		if err := statefile.WriteJSON(q.stateFile, &doc); err != nil {
			return err
		}
		head = &item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return head, nil
}

// Peek returns the head item without removing it, or nil when empty.
// Reads are unlocked and best-effort consistent.
func (q *Queue) Peek() (*Item, error) {
	items, err := q.List()
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// List returns a snapshot of all queued items in order.
func (q *Queue) List() ([]Item, error) {
	var doc document
	if _, err := statefile.ReadJSON(q.stateFile, &doc); err != nil {
		return nil, err
	}
	return doc.Items, nil
}

// Size returns the current queue depth.
func (q *Queue) Size() (int, error) {
	items, err := q.List()
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// IsEmpty reports whether the queue has no items.
func (q *Queue) IsEmpty() (bool, error) {
	n, err := q.Size()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}
