package engine

import (
	"fmt"

	"github.com/taskrun/engine/internal/biz/snapshot"
)

// ValidationError rejects malformed input before any lock or storage
// interaction.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// ConflictError signals a stale snapshot reference. The caller should
// refetch the current execution data and retry.
type ConflictError struct {
	RunID            string
	ExpectedSnapshot string
	ActualSnapshot   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("snapshot %s for run %s is stale (current is %s)",
		e.ExpectedSnapshot, e.RunID, e.ActualSnapshot)
}

// StateError signals an illegal state transition. It indicates a caller or
// engine bug and is never swallowed.
type StateError struct {
	RunID string
	From  snapshot.ExecutionStatus
	To    snapshot.ExecutionStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s for run %s", e.From, e.To, e.RunID)
}

// LockTimeoutError signals that lock contention exceeded the configured
// bound. Retryable.
type LockTimeoutError struct {
	Key string
}

func (e *LockTimeoutError) Error() string {
	return "timed out waiting for lock " + e.Key
}

// NotFoundError signals an unknown run, waitpoint or snapshot reference.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return e.Kind + " " + e.ID + " not found"
}
