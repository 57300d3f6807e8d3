package waitpointrepo

import "time"

// TaskRunWaitpoint is the blocking association. The composite unique key
// makes double-blocking on the same waitpoint a no-op at the storage level.
type TaskRunWaitpoint struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	RunID       string    `gorm:"column:run_id;size:64;not null;uniqueIndex:idx_run_waitpoint,priority:1;index"`
	WaitpointID string    `gorm:"column:waitpoint_id;size:64;not null;uniqueIndex:idx_run_waitpoint,priority:2;index"`
	ProjectID   string    `gorm:"column:project_id;size:64;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (TaskRunWaitpoint) TableName() string {
	return "task_run_waitpoints"
}
