package waitpoint

import (
	"context"

	"github.com/taskrun/engine/internal/infra/persistence/commonrepo"
)

type Repo interface {
	commonrepo.Transaction
	Create(ctx context.Context, wp *Waitpoint) error
	GetByID(ctx context.Context, id string) (*Waitpoint, error)
	GetByIDs(ctx context.Context, ids []string) ([]*Waitpoint, error)
	Save(ctx context.Context, wp *Waitpoint) error

	// FindByIdempotencyKeyAny resolves the key regardless of expiry, so a
	// stale holder can have its key rotated before reuse. Returns nil when
	// no waitpoint carries the key.
	FindByIdempotencyKeyAny(ctx context.Context, environmentID, key string) (*Waitpoint, error)

	// MarkCompleted persists the terminal state only if the stored row is
	// still PENDING. Reports whether this caller won the transition.
	MarkCompleted(ctx context.Context, wp *Waitpoint) (bool, error)

	// Associate inserts the blocking association; inserting an existing
	// (runID, waitpointID) pair is a no-op.
	Associate(ctx context.Context, assoc *Association) error
	DeleteAssociation(ctx context.Context, runID, waitpointID string) error
	DeleteAssociationsForRun(ctx context.Context, runID string) error
	CountAssociationsForRun(ctx context.Context, runID string) (int64, error)

	// RunsBlockedBy lists the ids of runs the waitpoint currently blocks.
	RunsBlockedBy(ctx context.Context, waitpointID string) ([]string, error)
}
