package snapshot

import (
	"strings"
	"time"

	"github.com/google/uuid"
	runbiz "github.com/taskrun/engine/internal/biz/run"
)

// Snapshot is an immutable record of a run's execution state at one instant.
// Exactly one snapshot per run is valid (current); superseded snapshots keep
// IsValid=false and are never touched again.
type Snapshot struct {
	ID        string
	CreatedAt time.Time

	RunID           string
	ExecutionStatus ExecutionStatus
	RunStatus       runbiz.Status
	Description     string
	AttemptNumber   int
	IsValid         bool

	// CompletedWaitpointIDs is materialized at creation so consumers can
	// resume without re-querying the waitpoint table.
	CompletedWaitpointIDs []string
}

// NewID allocates a snapshot identifier.
func NewID() string {
	return "snapshot_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
