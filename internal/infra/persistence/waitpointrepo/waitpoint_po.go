package waitpointrepo

import (
	"time"

	domain "github.com/taskrun/engine/internal/biz/waitpoint"
	"github.com/taskrun/engine/internal/infra/persistence/commonrepo"
)

type Waitpoint struct {
	commonrepo.Mode
	FriendlyID                 string        `gorm:"column:friendly_id;size:64;not null;uniqueIndex"`
	Type                       domain.Type   `gorm:"column:type;size:20;not null"`
	Status                     domain.Status `gorm:"column:status;size:20;not null;index"`
	EnvironmentID              string        `gorm:"column:environment_id;size:64;not null;uniqueIndex:idx_env_key,priority:1"`
	ProjectID                  string        `gorm:"column:project_id;size:64;not null"`
	CompletedAfter             *time.Time    `gorm:"column:completed_after;index"`
	CompletedAt                *time.Time    `gorm:"column:completed_at"`
	IdempotencyKey             string        `gorm:"column:idempotency_key;size:255;not null;uniqueIndex:idx_env_key,priority:2"`
	UserProvidedIdempotencyKey bool          `gorm:"column:user_provided_idempotency_key;default:false"`
	IdempotencyKeyExpiresAt    *time.Time    `gorm:"column:idempotency_key_expires_at"`
	Output                     []byte        `gorm:"column:output;type:blob"`
	OutputType                 string        `gorm:"column:output_type;size:100"`
	OutputIsError              bool          `gorm:"column:output_is_error;default:false"`
}

func (Waitpoint) TableName() string {
	return "waitpoints"
}
