package waitpointrepo

import (
	domain "github.com/taskrun/engine/internal/biz/waitpoint"
	"github.com/taskrun/engine/internal/infra/persistence/commonrepo"
)

func (po *Waitpoint) ToDomain() *domain.Waitpoint {
	return &domain.Waitpoint{
		ID:                         po.ID,
		CreatedAt:                  po.CreatedAt,
		UpdatedAt:                  po.UpdatedAt,
		FriendlyID:                 po.FriendlyID,
		Type:                       po.Type,
		Status:                     po.Status,
		EnvironmentID:              po.EnvironmentID,
		ProjectID:                  po.ProjectID,
		CompletedAfter:             po.CompletedAfter,
		CompletedAt:                po.CompletedAt,
		IdempotencyKey:             po.IdempotencyKey,
		UserProvidedIdempotencyKey: po.UserProvidedIdempotencyKey,
		IdempotencyKeyExpiresAt:    po.IdempotencyKeyExpiresAt,
		Output:                     po.Output,
		OutputType:                 po.OutputType,
		OutputIsError:              po.OutputIsError,
	}
}

func (po *Waitpoint) FromDomain(wp *domain.Waitpoint) *Waitpoint {
	return &Waitpoint{
		Mode: commonrepo.Mode{
			ID:        wp.ID,
			CreatedAt: wp.CreatedAt,
			UpdatedAt: wp.UpdatedAt,
		},
		FriendlyID:                 wp.FriendlyID,
		Type:                       wp.Type,
		Status:                     wp.Status,
		EnvironmentID:              wp.EnvironmentID,
		ProjectID:                  wp.ProjectID,
		CompletedAfter:             wp.CompletedAfter,
		CompletedAt:                wp.CompletedAt,
		IdempotencyKey:             wp.IdempotencyKey,
		UserProvidedIdempotencyKey: wp.UserProvidedIdempotencyKey,
		IdempotencyKeyExpiresAt:    wp.IdempotencyKeyExpiresAt,
		Output:                     wp.Output,
		OutputType:                 wp.OutputType,
		OutputIsError:              wp.OutputIsError,
	}
}

func (po *TaskRunWaitpoint) ToDomain() *domain.Association {
	return &domain.Association{
		RunID:       po.RunID,
		WaitpointID: po.WaitpointID,
		ProjectID:   po.ProjectID,
		CreatedAt:   po.CreatedAt,
	}
}
