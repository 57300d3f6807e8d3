package runrepo

import (
	"time"

	domain "github.com/taskrun/engine/internal/biz/run"
	"github.com/taskrun/engine/internal/infra/persistence/commonrepo"
	"gorm.io/datatypes"
)

type TaskRun struct {
	commonrepo.Mode
	FriendlyID     string                            `gorm:"column:friendly_id;size:64;not null;uniqueIndex"`
	EnvironmentID  string                            `gorm:"column:environment_id;size:64;not null;index:idx_env_idempotency"`
	ProjectID      string                            `gorm:"column:project_id;size:64;not null"`
	OrganizationID string                            `gorm:"column:organization_id;size:64;not null"`
	TaskIdentifier string                            `gorm:"column:task_identifier;size:255;not null;index"`
	Queue          string                            `gorm:"column:queue;size:255;not null"`
	WorkerQueue    string                            `gorm:"column:worker_queue;size:255;not null;index"`
	Status         domain.Status                     `gorm:"column:status;size:50;not null;index"`
	AttemptNumber  int                               `gorm:"column:attempt_number;default:0"`
	Payload        string                            `gorm:"column:payload;type:text"`
	PayloadType    string                            `gorm:"column:payload_type;size:100"`
	PriorityMS     int                               `gorm:"column:priority_ms;default:0"`
	TTLMS          int64                             `gorm:"column:ttl_ms;default:0"`
	IdempotencyKey string                            `gorm:"column:idempotency_key;size:255;index:idx_env_idempotency"`
	TraceID        string                            `gorm:"column:trace_id;size:64"`
	SpanID         string                            `gorm:"column:span_id;size:64"`
	Tags           datatypes.JSONSlice[string]       `gorm:"column:tags;type:json"`
	IsTest         bool                              `gorm:"column:is_test;default:false"`
	Error          datatypes.JSONType[*domain.Error] `gorm:"column:error;type:json"`
	Output         *string                           `gorm:"column:output;type:text"`
	ExpiredAt      *time.Time                        `gorm:"column:expired_at"`
	CompletedAt    *time.Time                        `gorm:"column:completed_at"`
}

func (TaskRun) TableName() string {
	return "task_runs"
}
