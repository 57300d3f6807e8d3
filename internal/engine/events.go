package engine

import (
	"time"

	"github.com/taskrun/engine/internal/biz/run"
	"github.com/taskrun/engine/internal/biz/snapshot"
	"github.com/taskrun/engine/internal/biz/waitpoint"
)

type EventName string

const (
	// EventWorkerNotification fires whenever a run transitions out of a
	// blocked state and its worker should resume.
	EventWorkerNotification EventName = "workerNotification"
	EventSnapshotCreated    EventName = "executionSnapshotCreated"
	EventRunRetryScheduled  EventName = "runRetryScheduled"
	EventRunSucceeded       EventName = "runSucceeded"
	EventRunFailed          EventName = "runFailed"
	EventRunExpired         EventName = "runExpired"
)

type Event struct {
	Name                EventName
	Time                time.Time
	Run                 *run.Run
	Snapshot            *snapshot.Snapshot
	CompletedWaitpoints []*waitpoint.Waitpoint
}

// redisEvent is the cross-process wire form. Remote subscribers hold only
// identifiers and refetch execution data themselves.
type redisEvent struct {
	Name         EventName `json:"name"`
	RunID        string    `json:"run_id,omitempty"`
	SnapshotID   string    `json:"snapshot_id,omitempty"`
	WaitpointIDs []string  `json:"waitpoint_ids,omitempty"`
	Timestamp    int64     `json:"ts"`
}

const redisEventChannel = "runengine:events"
