package snapshot

import (
	"context"

	"github.com/taskrun/engine/internal/infra/persistence/commonrepo"
)

type Repo interface {
	commonrepo.Transaction
	Create(ctx context.Context, snapshot *Snapshot) error
	GetByID(ctx context.Context, id string) (*Snapshot, error)

	// GetLatestValid returns the run's current snapshot, or nil when the run
	// has none yet.
	GetLatestValid(ctx context.Context, runID string) (*Snapshot, error)

	// InvalidateForRun flips IsValid off for every snapshot of the run except
	// exceptID. Called in the same transaction that creates the successor.
	InvalidateForRun(ctx context.Context, runID string, exceptID string) error

	// ListForRun returns all snapshots of the run ordered by creation,
	// oldest first.
	ListForRun(ctx context.Context, runID string) ([]*Snapshot, error)
}
