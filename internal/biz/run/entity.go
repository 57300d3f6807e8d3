package run

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Run struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	FriendlyID     string
	EnvironmentID  string
	ProjectID      string
	OrganizationID string
	TaskIdentifier string
	Queue          string
	WorkerQueue    string

	Status        Status
	AttemptNumber int

	Payload     string
	PayloadType string
	PriorityMS  int
	TTL         time.Duration

	IdempotencyKey string
	TraceID        string
	SpanID         string
	Tags           []string
	IsTest         bool

	Error       *Error
	Output      *string
	ExpiredAt   *time.Time
	CompletedAt *time.Time
}

// NewID allocates a run identifier ("run_" + uuid without dashes).
func NewID() string {
	return "run_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// MarkSucceeded records terminal success.
func (r *Run) MarkSucceeded(output *string) *Run {
	now := time.Now()
	r.Status = StatusCompletedSuccessfully
	r.Output = output
	r.CompletedAt = &now
	return r
}

// MarkFailed records terminal failure with the attempt's error.
func (r *Run) MarkFailed(status Status, runErr *Error) *Run {
	now := time.Now()
	r.Status = status
	r.Error = runErr
	r.CompletedAt = &now
	return r
}

// MarkExpired records TTL expiry of a run that was never dequeued.
func (r *Run) MarkExpired() *Run {
	now := time.Now()
	r.Status = StatusExpired
	r.ExpiredAt = &now
	r.CompletedAt = &now
	return r
}
