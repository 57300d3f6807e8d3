package commonrepo

import "time"

// Mode is the embedded base for persistence records. Identifiers are
// caller-assigned strings (prefixed uuids), not auto-increment.
type Mode struct {
	ID        string    `gorm:"primaryKey;size:64"`
	CreatedAt time.Time `gorm:"index;autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
