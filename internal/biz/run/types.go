package run

// Status is the user-facing run status. It mirrors the execution status
// tracked by snapshots but collapses the engine-internal states.
type Status string

const (
	StatusPending               Status = "PENDING"
	StatusQueued                Status = "QUEUED"
	StatusDequeued              Status = "DEQUEUED"
	StatusExecuting             Status = "EXECUTING"
	StatusRetryingAfterFailure  Status = "RETRYING_AFTER_FAILURE"
	StatusCompletedSuccessfully Status = "COMPLETED_SUCCESSFULLY"
	StatusCompletedWithErrors   Status = "COMPLETED_WITH_ERRORS"
	StatusSystemFailure         Status = "SYSTEM_FAILURE"
	StatusCrashed               Status = "CRASHED"
	StatusExpired               Status = "EXPIRED"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	switch s {
	case StatusCompletedSuccessfully, StatusCompletedWithErrors, StatusSystemFailure, StatusCrashed, StatusExpired:
		return true
	}
	return false
}

// ErrorTypeInternal marks infrastructure faults. A terminal failure with
// this type records the run as SYSTEM_FAILURE instead of
// COMPLETED_WITH_ERRORS.
const ErrorTypeInternal = "INTERNAL_ERROR"

// Error describes why an attempt or a run failed. It travels as data in
// completion payloads, never as a Go error.
type Error struct {
	Type       string `json:"type"`
	Name       string `json:"name,omitempty"`
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace,omitempty"`
}
