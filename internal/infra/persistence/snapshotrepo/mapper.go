package snapshotrepo

import (
	domain "github.com/taskrun/engine/internal/biz/snapshot"
	"gorm.io/datatypes"
)

func (po *ExecutionSnapshot) ToDomain() *domain.Snapshot {
	return &domain.Snapshot{
		ID:                    po.ID,
		CreatedAt:             po.CreatedAt,
		RunID:                 po.RunID,
		ExecutionStatus:       po.ExecutionStatus,
		RunStatus:             po.RunStatus,
		Description:           po.Description,
		AttemptNumber:         po.AttemptNumber,
		IsValid:               po.IsValid,
		CompletedWaitpointIDs: po.CompletedWaitpointIDs,
	}
}

func (po *ExecutionSnapshot) FromDomain(s *domain.Snapshot) *ExecutionSnapshot {
	return &ExecutionSnapshot{
		ID:                    s.ID,
		RunID:                 s.RunID,
		ExecutionStatus:       s.ExecutionStatus,
		RunStatus:             s.RunStatus,
		Description:           s.Description,
		AttemptNumber:         s.AttemptNumber,
		IsValid:               s.IsValid,
		CompletedWaitpointIDs: datatypes.NewJSONSlice(s.CompletedWaitpointIDs),
		CreatedAt:             s.CreatedAt,
	}
}
