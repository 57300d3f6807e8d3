package timer

import "time"

// Kind names the action a durable timer performs when it fires.
type Kind string

const (
	KindCompleteWaitpoint Kind = "waitpoint.complete"
	KindTimeoutWaitpoint  Kind = "waitpoint.timeout"
	KindRetryRun          Kind = "run.retry"
	KindExpireRun         Kind = "run.expire"
)

// Entry is a persisted timer. Entries survive process restart; the poll loop
// re-arms anything still pending, so delivery is at-least-once and the fired
// actions must be idempotent.
type Entry struct {
	Key       string
	Kind      Kind
	FireAt    time.Time
	Payload   map[string]any
	ClaimedAt *time.Time
	CreatedAt time.Time
}
