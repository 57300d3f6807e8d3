package runrepo

import (
	"time"

	domain "github.com/taskrun/engine/internal/biz/run"
	"github.com/taskrun/engine/internal/infra/persistence/commonrepo"
	"gorm.io/datatypes"
)

func (po *TaskRun) ToDomain() *domain.Run {
	return &domain.Run{
		ID:             po.ID,
		CreatedAt:      po.CreatedAt,
		UpdatedAt:      po.UpdatedAt,
		FriendlyID:     po.FriendlyID,
		EnvironmentID:  po.EnvironmentID,
		ProjectID:      po.ProjectID,
		OrganizationID: po.OrganizationID,
		TaskIdentifier: po.TaskIdentifier,
		Queue:          po.Queue,
		WorkerQueue:    po.WorkerQueue,
		Status:         po.Status,
		AttemptNumber:  po.AttemptNumber,
		Payload:        po.Payload,
		PayloadType:    po.PayloadType,
		PriorityMS:     po.PriorityMS,
		TTL:            time.Duration(po.TTLMS) * time.Millisecond,
		IdempotencyKey: po.IdempotencyKey,
		TraceID:        po.TraceID,
		SpanID:         po.SpanID,
		Tags:           po.Tags,
		IsTest:         po.IsTest,
		Error:          po.Error.Data(),
		Output:         po.Output,
		ExpiredAt:      po.ExpiredAt,
		CompletedAt:    po.CompletedAt,
	}
}

func (po *TaskRun) FromDomain(r *domain.Run) *TaskRun {
	return &TaskRun{
		Mode: commonrepo.Mode{
			ID:        r.ID,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		},
		FriendlyID:     r.FriendlyID,
		EnvironmentID:  r.EnvironmentID,
		ProjectID:      r.ProjectID,
		OrganizationID: r.OrganizationID,
		TaskIdentifier: r.TaskIdentifier,
		Queue:          r.Queue,
		WorkerQueue:    r.WorkerQueue,
		Status:         r.Status,
		AttemptNumber:  r.AttemptNumber,
		Payload:        r.Payload,
		PayloadType:    r.PayloadType,
		PriorityMS:     r.PriorityMS,
		TTLMS:          r.TTL.Milliseconds(),
		IdempotencyKey: r.IdempotencyKey,
		TraceID:        r.TraceID,
		SpanID:         r.SpanID,
		Tags:           datatypes.NewJSONSlice(r.Tags),
		IsTest:         r.IsTest,
		Error:          datatypes.NewJSONType(r.Error),
		Output:         r.Output,
		ExpiredAt:      r.ExpiredAt,
		CompletedAt:    r.CompletedAt,
	}
}
