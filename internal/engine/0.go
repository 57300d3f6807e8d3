package engine

import (
	"context"

	"github.com/google/wire"
)

var Provider = wire.NewSet(
	New,
	NewEventBus,
	NewTimerService,
	NewMetrics,
)

// RunLock is the distributed mutual exclusion primitive keyed by run id.
// WithLock runs fn inside the critical section and guarantees release on
// every exit path. Two run locks are never held at once.
type RunLock interface {
	WithLock(ctx context.Context, runID string, fn func(ctx context.Context) error) error
}

// WorkerQueue is the priority/visibility queue the engine enqueues runs on.
// Delivery is at-least-once within a visibility window; the snapshot state
// machine is the source of truth for whether a run was actually claimed.
type WorkerQueue interface {
	Enqueue(ctx context.Context, workerQueue string, runID string, score float64) error
	Dequeue(ctx context.Context, consumerID, workerQueue string, maxItems int) ([]string, error)
	Ack(ctx context.Context, workerQueue string, runID string) error
	Remove(ctx context.Context, workerQueue string, runID string) error
}
