// Package statefile provides locked, atomic JSON document persistence
// for the daemon's durable state (budget, queue, projects, sessions).
//
// All documents are pretty-printed JSON written via a temp-file rename so
// a crash mid-write never leaves a truncated document behind. Mutating
// operations serialize through an advisory file lock next to the document.
package statefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when the advisory lock could not be acquired
// within the bounded retry budget.
var ErrLocked = errors.New("statefile: lock acquisition timed out")

const (
	// lockRetries bounds how many times a lock acquisition is attempted.
	lockRetries = 5
	// lockRetryDelay is the pause between lock attempts.
	lockRetryDelay = 100 * time.Millisecond
)

// ReadJSON loads the document at path into v. It returns false with a nil
// error when the file does not exist, so callers can treat a missing
// document as empty state.
func ReadJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read state file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	return true, nil
}

// WriteJSON atomically replaces the document at path with the
// pretty-printed encoding of v, creating parent directories as needed.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Lock is an advisory file lock guarding a state document. The lock file
// lives alongside the document so unrelated documents never contend.
type Lock struct {
	fl *flock.Flock
}

// NewLock returns a lock for the document at path.
func NewLock(path string) *Lock {
	return &Lock{fl: flock.New(path + ".lock")}
}

// WithLock runs fn while holding the advisory lock. Acquisition retries a
// bounded number of times; on exhaustion it returns ErrLocked without
// touching the document.
func (l *Lock) WithLock(fn func() error) error {
	acquired := false
	for i := 0; i < lockRetries; i++ {
		ok, err := l.fl.TryLock()
		if err != nil {
			return fmt.Errorf("failed to acquire state lock: %w", err)
		}
		if ok {
			acquired = true
			break
		}
		time.Sleep(lockRetryDelay)
	}
	if !acquired {
		return ErrLocked
	}
	defer l.fl.Unlock()
	return fn()
}
