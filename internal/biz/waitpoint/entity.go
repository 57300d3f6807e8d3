package waitpoint

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Waitpoint is a blocking dependency a run can wait on. It resolves exactly
// once: PENDING to COMPLETED is the only transition and it is terminal.
type Waitpoint struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	FriendlyID    string
	Type          Type
	Status        Status
	EnvironmentID string
	ProjectID     string

	// CompletedAfter is the scheduled fire time for DATETIME waitpoints and
	// the timeout deadline for MANUAL waitpoints created with one.
	CompletedAfter *time.Time
	CompletedAt    *time.Time

	IdempotencyKey             string
	UserProvidedIdempotencyKey bool
	IdempotencyKeyExpiresAt    *time.Time

	Output        []byte
	OutputType    string
	OutputIsError bool
}

// Association records that a waitpoint currently blocks a run. Its absence
// means the run is not blocked, regardless of waitpoint status.
type Association struct {
	RunID       string
	WaitpointID string
	ProjectID   string
	CreatedAt   time.Time
}

// NewID allocates a waitpoint identifier.
func NewID() string {
	return "waitpoint_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewIdempotencyKey allocates a system-generated idempotency key for
// waitpoints created without a caller-supplied one.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// Completed reports whether the waitpoint has reached its terminal state.
func (w *Waitpoint) Completed() bool {
	return w.Status == StatusCompleted
}

// Complete moves the waitpoint to COMPLETED and stores the result. Calling
// it on an already-completed waitpoint is the caller's bug; the engine
// guards with Completed() first.
func (w *Waitpoint) Complete(output []byte, outputType string, outputIsError bool) *Waitpoint {
	now := time.Now()
	w.Status = StatusCompleted
	w.CompletedAt = &now
	w.Output = output
	w.OutputType = outputType
	w.OutputIsError = outputIsError
	return w
}

// IdempotencyKeyExpired reports whether a caller-supplied key has passed its
// TTL at the given instant.
func (w *Waitpoint) IdempotencyKeyExpired(now time.Time) bool {
	return w.IdempotencyKeyExpiresAt != nil && now.After(*w.IdempotencyKeyExpiresAt)
}
