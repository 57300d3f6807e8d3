package run

import (
	"context"

	"github.com/samber/mo"
	"github.com/taskrun/engine/internal/infra/persistence/commonrepo"
)

type Repo interface {
	commonrepo.Transaction
	Create(ctx context.Context, run *Run) error
	GetByID(ctx context.Context, id string) (*Run, error)
	GetByFriendlyID(ctx context.Context, friendlyID string) (*Run, error)
	Save(ctx context.Context, run *Run) error

	// FindByIdempotencyKey returns nil when no run carries the key in the
	// environment.
	FindByIdempotencyKey(ctx context.Context, environmentID, key string) (*Run, error)

	List(ctx context.Context, filter ListFilter, offset, limit int) ([]*Run, int64, error)
}

type ListFilter struct {
	EnvironmentID  mo.Option[string]
	TaskIdentifier mo.Option[string]
	Status         mo.Option[Status]
	WorkerQueue    mo.Option[string]
}
