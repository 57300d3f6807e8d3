package timerrepo

import (
	"time"

	domain "github.com/taskrun/engine/internal/biz/timer"
	"gorm.io/datatypes"
)

type TimerEntry struct {
	ID        uint64            `gorm:"primaryKey;autoIncrement"`
	Key       string            `gorm:"column:timer_key;size:255;not null;uniqueIndex"`
	Kind      domain.Kind       `gorm:"column:kind;size:50;not null"`
	FireAt    time.Time         `gorm:"column:fire_at;not null;index"`
	Payload   datatypes.JSONMap `gorm:"column:payload;type:json"`
	ClaimedAt *time.Time        `gorm:"column:claimed_at"`
	CreatedAt time.Time         `gorm:"autoCreateTime"`
}

func (TimerEntry) TableName() string {
	return "timer_entries"
}

func (po *TimerEntry) ToDomain() *domain.Entry {
	return &domain.Entry{
		Key:       po.Key,
		Kind:      po.Kind,
		FireAt:    po.FireAt,
		Payload:   po.Payload,
		ClaimedAt: po.ClaimedAt,
		CreatedAt: po.CreatedAt,
	}
}
