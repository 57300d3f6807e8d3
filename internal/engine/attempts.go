package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskrun/engine/internal/biz/run"
	"github.com/taskrun/engine/internal/biz/snapshot"
	"github.com/taskrun/engine/internal/biz/timer"
	"go.uber.org/zap"
)

const (
	timerKeyRetryRun  = "run.retry:"
	timerKeyExpireRun = "run.expire:"
)

// AttemptStatus tells the caller of CompleteRunAttempt what the engine
// decided to do with the run.
type AttemptStatus string

const (
	AttemptStatusSucceeded        AttemptStatus = "COMPLETED_SUCCESSFULLY"
	AttemptStatusFailed           AttemptStatus = "COMPLETED_WITH_ERRORS"
	AttemptStatusSystemFailure    AttemptStatus = "SYSTEM_FAILURE"
	AttemptStatusRetryImmediately AttemptStatus = "RETRY_IMMEDIATELY"
	AttemptStatusRetryAfterDelay  AttemptStatus = "RETRY_AFTER_DELAY"
)

// RetryDirective asks for another attempt. Timestamp, when set, wins over
// DelayMS; a zero/past schedule means retry immediately.
type RetryDirective struct {
	Timestamp time.Time
	DelayMS   int64
}

func (d *RetryDirective) delay(now time.Time) time.Duration {
	if !d.Timestamp.IsZero() {
		return d.Timestamp.Sub(now)
	}
	return time.Duration(d.DelayMS) * time.Millisecond
}

// Completion is the attempt outcome reported by a worker. Failure is data
// here, not a Go error: the Error field drives retry-policy branching.
type Completion struct {
	Ok         bool
	Output     *string
	OutputType string
	Error      *run.Error
	Retry      *RetryDirective
}

// AttemptResult is the engine's decision for a completed attempt.
type AttemptResult struct {
	Run           *run.Run
	Snapshot      *snapshot.Snapshot
	AttemptStatus AttemptStatus
	RetryAt       *time.Time
}

// DequeueFromWorkerQueue claims up to the configured batch of queued runs
// for the named worker queue and transitions each to DEQUEUED. The queue
// delivers at-least-once; a run whose snapshot already moved past QUEUED is
// a duplicate delivery and is acked and skipped, the snapshot transition
// being the source of truth for who claimed what.
func (e *Engine) DequeueFromWorkerQueue(ctx context.Context, consumerID, workerQueue string) ([]*ExecutionData, error) {
	if workerQueue == "" {
		return nil, &ValidationError{Field: "workerQueue", Message: "must not be empty"}
	}

	runIDs, err := e.queue.Dequeue(ctx, consumerID, workerQueue, e.cfg.DequeueMaxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	results := make([]*ExecutionData, 0, len(runIDs))
	for _, runID := range runIDs {
		var data *ExecutionData
		err := e.withRunLock(ctx, runID, func(ctx context.Context) error {
			r, err := e.getRun(ctx, runID)
			if err != nil {
				return err
			}
			snap, err := e.transitionLocked(ctx, r, snapshot.ExecutionStatusDequeued, run.StatusDequeued,
				"dequeued by "+consumerID, nil)
			if err != nil {
				return err
			}
			data = &ExecutionData{Run: r, Snapshot: snap}
			return nil
		})
		if err != nil {
			var stateErr *StateError
			var notFound *NotFoundError
			if errors.As(err, &stateErr) || errors.As(err, &notFound) {
				// duplicate or stale delivery, drop it
				if ackErr := e.queue.Ack(ctx, workerQueue, runID); ackErr != nil {
					e.logger.Warn("failed to ack stale delivery",
						zap.String("run_id", runID),
						zap.Error(ackErr))
				}
				e.logger.Debug("skipped stale queue delivery",
					zap.String("run_id", runID),
					zap.Error(err))
				continue
			}
			return nil, err
		}

		if err := e.queue.Ack(ctx, workerQueue, runID); err != nil {
			e.logger.Warn("failed to ack dequeued run",
				zap.String("run_id", runID),
				zap.Error(err))
		}
		e.metrics.Dequeues.Inc()
		results = append(results, data)
	}
	return results, nil
}

// StartRunAttempt begins execution of a dequeued run. The supplied
// snapshotID must match the run's current valid snapshot; a mismatch means
// the caller acted on stale state and gets a ConflictError so it can
// re-fetch and retry.
func (e *Engine) StartRunAttempt(ctx context.Context, runID, snapshotID string) (*ExecutionData, error) {
	var data *ExecutionData
	err := e.withRunLock(ctx, runID, func(ctx context.Context) error {
		r, err := e.getRun(ctx, runID)
		if err != nil {
			return err
		}
		if err := e.guardSnapshot(ctx, runID, snapshotID); err != nil {
			return err
		}

		r.AttemptNumber++
		snap, err := e.transitionLocked(ctx, r, snapshot.ExecutionStatusExecuting, run.StatusExecuting,
			fmt.Sprintf("attempt %d started", r.AttemptNumber), nil)
		if err != nil {
			return err
		}
		data = &ExecutionData{Run: r, Snapshot: snap}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("started attempt",
		zap.String("run_id", runID),
		zap.Int("attempt_number", data.Run.AttemptNumber))
	return data, nil
}

// CompleteRunAttempt records the attempt outcome and decides what happens
// next: terminal success, terminal failure, immediate retry, or a delayed
// retry via durable timer. The snapshot guard rejects completions based on
// stale state.
func (e *Engine) CompleteRunAttempt(ctx context.Context, runID, snapshotID string, completion Completion) (*AttemptResult, error) {
	var result *AttemptResult
	err := e.withRunLock(ctx, runID, func(ctx context.Context) error {
		r, err := e.getRun(ctx, runID)
		if err != nil {
			return err
		}
		if err := e.guardSnapshot(ctx, runID, snapshotID); err != nil {
			return err
		}

		if completion.Ok {
			result, err = e.succeedAttemptLocked(ctx, r, completion)
			return err
		}
		if completion.Retry != nil && r.AttemptNumber < e.cfg.MaxAttempts {
			result, err = e.retryAttemptLocked(ctx, r, completion)
			return err
		}
		result, err = e.failAttemptLocked(ctx, r, completion)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// guardSnapshot is the optimistic-concurrency check shared by start and
// complete. Callers hold the run lock.
func (e *Engine) guardSnapshot(ctx context.Context, runID, snapshotID string) error {
	current, err := e.snapshots.GetLatestValid(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to read current snapshot: %w", err)
	}
	if current == nil {
		return &NotFoundError{Kind: "snapshot for run", ID: runID}
	}
	if current.ID != snapshotID {
		return &ConflictError{RunID: runID, ExpectedSnapshot: snapshotID, ActualSnapshot: current.ID}
	}
	return nil
}

func (e *Engine) succeedAttemptLocked(ctx context.Context, r *run.Run, completion Completion) (*AttemptResult, error) {
	r.MarkSucceeded(completion.Output)
	snap, err := e.transitionLocked(ctx, r, snapshot.ExecutionStatusFinished, run.StatusCompletedSuccessfully,
		"attempt succeeded", nil)
	if err != nil {
		return nil, err
	}
	if err := e.waitpoints.DeleteAssociationsForRun(ctx, r.ID); err != nil {
		return nil, fmt.Errorf("failed to clear associations: %w", err)
	}

	e.bus.Emit(ctx, Event{Name: EventRunSucceeded, Run: r, Snapshot: snap})
	e.logger.Info("run succeeded",
		zap.String("run_id", r.ID),
		zap.Int("attempt_number", r.AttemptNumber))

	return &AttemptResult{Run: r, Snapshot: snap, AttemptStatus: AttemptStatusSucceeded}, nil
}

func (e *Engine) retryAttemptLocked(ctx context.Context, r *run.Run, completion Completion) (*AttemptResult, error) {
	now := time.Now()
	delay := completion.Retry.delay(now)

	if delay <= 0 {
		snap, err := e.transitionLocked(ctx, r, snapshot.ExecutionStatusExecuting, run.StatusRetryingAfterFailure,
			"retrying immediately", nil)
		if err != nil {
			return nil, err
		}
		// a fresh attempt never inherits the previous attempt's blockers
		if err := e.waitpoints.DeleteAssociationsForRun(ctx, r.ID); err != nil {
			return nil, fmt.Errorf("failed to clear associations: %w", err)
		}
		e.bus.Emit(ctx, Event{Name: EventRunRetryScheduled, Run: r, Snapshot: snap})
		return &AttemptResult{Run: r, Snapshot: snap, AttemptStatus: AttemptStatusRetryImmediately}, nil
	}

	snap, err := e.transitionLocked(ctx, r, snapshot.ExecutionStatusQueued, run.StatusRetryingAfterFailure,
		"retry scheduled", nil)
	if err != nil {
		return nil, err
	}
	if err := e.waitpoints.DeleteAssociationsForRun(ctx, r.ID); err != nil {
		return nil, fmt.Errorf("failed to clear associations: %w", err)
	}

	retryAt := now.Add(delay)
	entry := &timer.Entry{
		Key:     timerKeyRetryRun + r.ID,
		Kind:    timer.KindRetryRun,
		FireAt:  retryAt,
		Payload: map[string]any{"run_id": r.ID},
	}
	if err := e.timers.Schedule(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to schedule retry: %w", err)
	}

	e.bus.Emit(ctx, Event{Name: EventRunRetryScheduled, Run: r, Snapshot: snap})
	e.logger.Info("scheduled retry",
		zap.String("run_id", r.ID),
		zap.Time("retry_at", retryAt))

	return &AttemptResult{Run: r, Snapshot: snap, AttemptStatus: AttemptStatusRetryAfterDelay, RetryAt: &retryAt}, nil
}

func (e *Engine) failAttemptLocked(ctx context.Context, r *run.Run, completion Completion) (*AttemptResult, error) {
	status := run.StatusCompletedWithErrors
	attemptStatus := AttemptStatusFailed
	if completion.Error != nil && completion.Error.Type == run.ErrorTypeInternal {
		status = run.StatusSystemFailure
		attemptStatus = AttemptStatusSystemFailure
	}

	r.MarkFailed(status, completion.Error)
	snap, err := e.transitionLocked(ctx, r, snapshot.ExecutionStatusFinished, status, "attempt failed", nil)
	if err != nil {
		return nil, err
	}
	if err := e.waitpoints.DeleteAssociationsForRun(ctx, r.ID); err != nil {
		return nil, fmt.Errorf("failed to clear associations: %w", err)
	}

	e.bus.Emit(ctx, Event{Name: EventRunFailed, Run: r, Snapshot: snap})
	e.logger.Info("run failed",
		zap.String("run_id", r.ID),
		zap.Int("attempt_number", r.AttemptNumber),
		zap.String("status", string(status)))

	return &AttemptResult{Run: r, Snapshot: snap, AttemptStatus: attemptStatus}, nil
}

// enqueueRetry is the durable-timer target for delayed retries. The run may
// have been completed or expired between scheduling and firing; anything no
// longer sitting in QUEUED makes this a no-op.
func (e *Engine) enqueueRetry(ctx context.Context, runID string) error {
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

		score := float64(time.Now().UnixMilli() - int64(r.PriorityMS))
		if err := e.queue.Enqueue(ctx, r.WorkerQueue, r.ID, score); err != nil {
			return fmt.Errorf("failed to enqueue retry: %w", err)
		}

		e.logger.Info("enqueued retry",
			zap.String("run_id", r.ID),
			zap.Int("attempt_number", r.AttemptNumber))
		return nil
	})
}
