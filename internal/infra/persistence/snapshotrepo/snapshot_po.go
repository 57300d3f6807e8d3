package snapshotrepo

import (
	"time"

	runbiz "github.com/taskrun/engine/internal/biz/run"
	domain "github.com/taskrun/engine/internal/biz/snapshot"
	"gorm.io/datatypes"
)

// ExecutionSnapshot rows are append-only: after creation only the is_valid
// flag changes, once, when a successor supersedes the row.
type ExecutionSnapshot struct {
	ID                    string                      `gorm:"primaryKey;size:64"`
	RunID                 string                      `gorm:"column:run_id;size:64;not null;index:idx_run_created,priority:1;index:idx_run_valid,priority:1"`
	ExecutionStatus       domain.ExecutionStatus      `gorm:"column:execution_status;size:50;not null"`
	RunStatus             runbiz.Status               `gorm:"column:run_status;size:50;not null"`
	Description           string                      `gorm:"column:description;size:255"`
	AttemptNumber         int                         `gorm:"column:attempt_number;default:0"`
	IsValid               bool                        `gorm:"column:is_valid;not null;index:idx_run_valid,priority:2"`
	CompletedWaitpointIDs datatypes.JSONSlice[string] `gorm:"column:completed_waitpoint_ids;type:json"`
	CreatedAt             time.Time                   `gorm:"autoCreateTime;index:idx_run_created,priority:2"`
}

func (ExecutionSnapshot) TableName() string {
	return "execution_snapshots"
}
