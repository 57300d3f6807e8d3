package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cast"
	"github.com/taskrun/engine/internal/biz/run"
	"github.com/taskrun/engine/internal/biz/snapshot"
	"github.com/taskrun/engine/internal/biz/timer"
	"github.com/taskrun/engine/internal/biz/waitpoint"
	"github.com/taskrun/engine/pkg/config"
	"go.uber.org/zap"
)

// Engine is the orchestrating façade over the run state machine: it owns the
// snapshot engine, the waitpoint subsystem, the attempt lifecycle and the
// notification path. All run mutations go through the per-run lock.
type Engine struct {
	cfg    config.EngineConfig
	logger *zap.Logger

	runs       run.Repo
	snapshots  snapshot.Repo
	waitpoints waitpoint.Repo

	locker  RunLock
	queue   WorkerQueue
	timers  *TimerService
	bus     *EventBus
	metrics *Metrics
}

func New(
	cfg config.EngineConfig,
	logger *zap.Logger,
	runs run.Repo,
	snapshots snapshot.Repo,
	waitpoints waitpoint.Repo,
	locker RunLock,
	queue WorkerQueue,
	timers *TimerService,
	bus *EventBus,
	metrics *Metrics,
) *Engine {
	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		runs:       runs,
		snapshots:  snapshots,
		waitpoints: waitpoints,
		locker:     locker,
		queue:      queue,
		timers:     timers,
		bus:        bus,
		metrics:    metrics,
	}
	timers.SetHandler(e.handleTimer)
	return e
}

// EventBus exposes the subscription surface (workerNotification and friends).
func (e *Engine) EventBus() *EventBus {
	return e.bus
}

func (e *Engine) Start() error {
	return e.timers.Start()
}

// Quit stops the timer machinery. In-flight operations finish on their own.
func (e *Engine) Quit() {
	e.timers.Stop()
}

// withRunLock wraps the lock primitive to record wait time.
func (e *Engine) withRunLock(ctx context.Context, runID string, fn func(ctx context.Context) error) error {
	start := time.Now()
	return e.locker.WithLock(ctx, runID, func(ctx context.Context) error {
		e.metrics.LockWaits.Observe(time.Since(start).Seconds())
		return fn(ctx)
	})
}

type TriggerRequest struct {
	FriendlyID     string
	EnvironmentID  string
	ProjectID      string
	OrganizationID string
	TaskIdentifier string
	Queue          string
	WorkerQueue    string
	Payload        string
	PayloadType    string
	PriorityMS     int
	TTL            time.Duration
	IdempotencyKey string
	TraceID        string
	SpanID         string
	Tags           []string
	IsTest         bool
}

// Trigger creates a run and enqueues it on its worker queue. A repeat
// trigger with the same idempotency key in the same environment returns the
// existing run without enqueueing again.
func (e *Engine) Trigger(ctx context.Context, req TriggerRequest) (*run.Run, error) {
	if req.TaskIdentifier == "" {
		return nil, &ValidationError{Field: "taskIdentifier", Message: "must not be empty"}
	}
	if req.EnvironmentID == "" {
		return nil, &ValidationError{Field: "environmentId", Message: "must not be empty"}
	}
	if req.WorkerQueue == "" {
		return nil, &ValidationError{Field: "workerQueue", Message: "must not be empty"}
	}
	if req.TTL < 0 {
		return nil, &ValidationError{Field: "ttl", Message: "must not be negative"}
	}

	if req.IdempotencyKey != "" {
		existing, err := e.runs.FindByIdempotencyKey(ctx, req.EnvironmentID, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to look up trigger idempotency key: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	r := &run.Run{
		ID:             run.NewID(),
		FriendlyID:     req.FriendlyID,
		EnvironmentID:  req.EnvironmentID,
		ProjectID:      req.ProjectID,
		OrganizationID: req.OrganizationID,
		TaskIdentifier: req.TaskIdentifier,
		Queue:          req.Queue,
		WorkerQueue:    req.WorkerQueue,
		Status:         run.StatusPending,
		Payload:        req.Payload,
		PayloadType:    req.PayloadType,
		PriorityMS:     req.PriorityMS,
		TTL:            req.TTL,
		IdempotencyKey: req.IdempotencyKey,
		TraceID:        req.TraceID,
		SpanID:         req.SpanID,
		Tags:           req.Tags,
		IsTest:         req.IsTest,
	}
	if r.FriendlyID == "" {
		r.FriendlyID = r.ID
	}

	err := e.withRunLock(ctx, r.ID, func(ctx context.Context) error {
		if err := e.runs.Create(ctx, r); err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}
		if _, err := e.transitionLocked(ctx, r, snapshot.ExecutionStatusRunCreated, run.StatusPending, "run created", nil); err != nil {
			return err
		}

		score := float64(time.Now().UnixMilli() - int64(r.PriorityMS))
		if err := e.queue.Enqueue(ctx, r.WorkerQueue, r.ID, score); err != nil {
			return fmt.Errorf("failed to enqueue run: %w", err)
		}
		_, err := e.transitionLocked(ctx, r, snapshot.ExecutionStatusQueued, run.StatusQueued, "run queued", nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	if r.TTL > 0 {
		entry := &timer.Entry{
			Key:    timerKeyExpireRun + r.ID,
			Kind:   timer.KindExpireRun,
			FireAt: time.Now().Add(r.TTL),
			Payload: map[string]any{
				"run_id": r.ID,
			},
		}
		if err := e.timers.Schedule(ctx, entry); err != nil {
			return nil, fmt.Errorf("failed to schedule run expiry: %w", err)
		}
	}

	e.logger.Info("triggered run",
		zap.String("run_id", r.ID),
		zap.String("task_identifier", r.TaskIdentifier),
		zap.String("worker_queue", r.WorkerQueue))

	return r, nil
}

// handleTimer dispatches fired durable timers. Every branch is idempotent:
// timers deliver at-least-once, and a returned error keeps the entry
// persisted for redelivery.
func (e *Engine) handleTimer(ctx context.Context, entry *timer.Entry) error {
	e.metrics.TimerFires.WithLabelValues(string(entry.Kind)).Inc()

	var err error
	switch entry.Kind {
	case timer.KindCompleteWaitpoint:
		_, err = e.CompleteWaitpoint(ctx, CompleteWaitpointRequest{
			ID:         cast.ToString(entry.Payload["waitpoint_id"]),
			Output:     []byte(`{"timerElapsed":true}`),
			OutputType: "application/json",
			Source:     "timer",
		})
	case timer.KindTimeoutWaitpoint:
		_, err = e.CompleteWaitpoint(ctx, CompleteWaitpointRequest{
			ID:            cast.ToString(entry.Payload["waitpoint_id"]),
			Output:        waitpoint.TimeoutOutput("waitpoint timed out"),
			OutputType:    "application/json",
			OutputIsError: true,
			Source:        "timer",
		})
	case timer.KindRetryRun:
		err = e.enqueueRetry(ctx, cast.ToString(entry.Payload["run_id"]))
	case timer.KindExpireRun:
		err = e.expireRun(ctx, cast.ToString(entry.Payload["run_id"]))
	default:
		e.logger.Warn("unknown timer kind", zap.String("kind", string(entry.Kind)))
		return nil
	}
	return err
}

// expireRun terminates a run whose TTL elapsed before any worker claimed it.
// Expiry races dequeue under the run lock; a run past QUEUED wins and the
// expiry is a no-op.
func (e *Engine) expireRun(ctx context.Context, runID string) error {
	return e.withRunLock(ctx, runID, func(ctx context.Context) error {
		r, err := e.getRun(ctx, runID)
		if err != nil {
			return err
		}
		current, err := e.snapshots.GetLatestValid(ctx, runID)
		if err != nil {
			return err
		}
		if current == nil || current.ExecutionStatus != snapshot.ExecutionStatusQueued {
			return nil
		}

		r.MarkExpired()
		snap, err := e.transitionLocked(ctx, r, snapshot.ExecutionStatusFinished, run.StatusExpired, "run ttl expired", nil)
		if err != nil {
			return err
		}
		if err := e.queue.Remove(ctx, r.WorkerQueue, r.ID); err != nil {
			e.logger.Warn("failed to remove expired run from queue",
				zap.String("run_id", r.ID),
				zap.Error(err))
		}

		e.bus.Emit(ctx, Event{Name: EventRunExpired, Run: r, Snapshot: snap})
		e.logger.Info("expired run", zap.String("run_id", r.ID))
		return nil
	})
}
