package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskrun/engine/internal/biz/run"
	"github.com/taskrun/engine/internal/biz/snapshot"
	"github.com/taskrun/engine/internal/biz/timer"
	"github.com/taskrun/engine/internal/biz/waitpoint"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	timerKeyCompleteWaitpoint = "waitpoint.complete:"
	timerKeyTimeoutWaitpoint  = "waitpoint.timeout:"
)

// CreateDateTimeWaitpoint creates a PENDING waitpoint that auto-completes at
// completedAfter via a durable timer.
func (e *Engine) CreateDateTimeWaitpoint(ctx context.Context, projectID, environmentID string, completedAfter time.Time) (*waitpoint.Waitpoint, error) {
	if environmentID == "" {
		return nil, &ValidationError{Field: "environmentId", Message: "must not be empty"}
	}
	if completedAfter.IsZero() {
		return nil, &ValidationError{Field: "completedAfter", Message: "must be set"}
	}

	wp := &waitpoint.Waitpoint{
		ID:             waitpoint.NewID(),
		Type:           waitpoint.TypeDateTime,
		Status:         waitpoint.StatusPending,
		EnvironmentID:  environmentID,
		ProjectID:      projectID,
		CompletedAfter: &completedAfter,
		IdempotencyKey: waitpoint.NewIdempotencyKey(),
	}
	wp.FriendlyID = wp.ID

	if err := e.waitpoints.Create(ctx, wp); err != nil {
		return nil, fmt.Errorf("failed to create waitpoint: %w", err)
	}

	entry := &timer.Entry{
		Key:     timerKeyCompleteWaitpoint + wp.ID,
		Kind:    timer.KindCompleteWaitpoint,
		FireAt:  completedAfter,
		Payload: map[string]any{"waitpoint_id": wp.ID},
	}
	if err := e.timers.Schedule(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to schedule waitpoint completion: %w", err)
	}

	e.logger.Debug("created datetime waitpoint",
		zap.String("waitpoint_id", wp.ID),
		zap.Time("completed_after", completedAfter))

	return wp, nil
}

type ManualWaitpointRequest struct {
	EnvironmentID           string
	ProjectID               string
	IdempotencyKey          string
	IdempotencyKeyExpiresAt *time.Time

	// Timeout, when set, auto-completes a still-pending waitpoint at the
	// deadline with outputIsError=true and the timeout marker output.
	Timeout *time.Time
}

// CreateManualWaitpoint creates a PENDING manual waitpoint. An unexpired
// idempotency key resolves to the existing waitpoint; an expired one is
// rotated away so the key becomes free for the new waitpoint.
func (e *Engine) CreateManualWaitpoint(ctx context.Context, req ManualWaitpointRequest) (*waitpoint.Waitpoint, error) {
	if req.EnvironmentID == "" {
		return nil, &ValidationError{Field: "environmentId", Message: "must not be empty"}
	}

	now := time.Now()
	if req.IdempotencyKey != "" {
		existing, err := e.waitpoints.FindByIdempotencyKeyAny(ctx, req.EnvironmentID, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
		}
		if existing != nil {
			if !existing.IdempotencyKeyExpired(now) {
				return existing, nil
			}
			existing.IdempotencyKey = waitpoint.NewIdempotencyKey()
			existing.UserProvidedIdempotencyKey = false
			if err := e.waitpoints.Save(ctx, existing); err != nil {
				return nil, fmt.Errorf("failed to rotate expired idempotency key: %w", err)
			}
		}
	}

	wp := &waitpoint.Waitpoint{
		ID:                      waitpoint.NewID(),
		Type:                    waitpoint.TypeManual,
		Status:                  waitpoint.StatusPending,
		EnvironmentID:           req.EnvironmentID,
		ProjectID:               req.ProjectID,
		CompletedAfter:          req.Timeout,
		IdempotencyKeyExpiresAt: req.IdempotencyKeyExpiresAt,
	}
	wp.FriendlyID = wp.ID
	if req.IdempotencyKey != "" {
		wp.IdempotencyKey = req.IdempotencyKey
		wp.UserProvidedIdempotencyKey = true
	} else {
		wp.IdempotencyKey = waitpoint.NewIdempotencyKey()
	}

	if err := e.waitpoints.Create(ctx, wp); err != nil {
		return nil, fmt.Errorf("failed to create waitpoint: %w", err)
	}

	if req.Timeout != nil {
		entry := &timer.Entry{
			Key:     timerKeyTimeoutWaitpoint + wp.ID,
			Kind:    timer.KindTimeoutWaitpoint,
			FireAt:  *req.Timeout,
			Payload: map[string]any{"waitpoint_id": wp.ID},
		}
		if err := e.timers.Schedule(ctx, entry); err != nil {
			return nil, fmt.Errorf("failed to schedule waitpoint timeout: %w", err)
		}
	}

	return wp, nil
}

type CompleteWaitpointRequest struct {
	ID            string
	Output        []byte
	OutputType    string
	OutputIsError bool

	// Source labels the completion for metrics: "explicit" (default),
	// "timer", "api".
	Source string
}

// CompleteWaitpoint resolves the waitpoint exactly once and unblocks every
// run it was holding. Completing an already-completed waitpoint returns the
// stored result without side effects, which makes the race between explicit
// completion and timers harmless.
func (e *Engine) CompleteWaitpoint(ctx context.Context, req CompleteWaitpointRequest) (*waitpoint.Waitpoint, error) {
	wp, err := e.waitpoints.GetByID(ctx, req.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Kind: "waitpoint", ID: req.ID}
		}
		return nil, err
	}
	if wp.Completed() {
		return wp, nil
	}

	wp.Complete(req.Output, req.OutputType, req.OutputIsError)
	won, err := e.waitpoints.MarkCompleted(ctx, wp)
	if err != nil {
		return nil, fmt.Errorf("failed to complete waitpoint: %w", err)
	}
	if !won {
		// another completer reached the terminal transition first
		return e.waitpoints.GetByID(ctx, req.ID)
	}

	for _, key := range []string{timerKeyCompleteWaitpoint + wp.ID, timerKeyTimeoutWaitpoint + wp.ID} {
		if err := e.timers.Cancel(ctx, key); err != nil {
			e.logger.Warn("failed to cancel waitpoint timer",
				zap.String("key", key),
				zap.Error(err))
		}
	}

	source := req.Source
	if source == "" {
		source = "explicit"
	}
	e.metrics.WaitpointsCompleted.WithLabelValues(source).Inc()

	runIDs, err := e.waitpoints.RunsBlockedBy(ctx, wp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked runs: %w", err)
	}

	// one run's lock at a time, never two, to keep lock ordering trivial
	for _, runID := range runIDs {
		err := e.withRunLock(ctx, runID, func(ctx context.Context) error {
			r, err := e.getRun(ctx, runID)
			if err != nil {
				return err
			}
			return e.removeBlockingWaitpointLocked(ctx, r, wp)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to unblock run %s: %w", runID, err)
		}
	}

	e.logger.Info("completed waitpoint",
		zap.String("waitpoint_id", wp.ID),
		zap.Bool("output_is_error", wp.OutputIsError),
		zap.Int("blocked_runs", len(runIDs)))

	return wp, nil
}

// removeBlockingWaitpointLocked deletes the association and, when the run's
// blocking set becomes empty, performs the unblocking transition and wakes
// the worker. The "count reaches zero" decision happens under the run lock,
// so only one of N concurrent completers observes it. Callers hold the lock.
func (e *Engine) removeBlockingWaitpointLocked(ctx context.Context, r *run.Run, wp *waitpoint.Waitpoint) error {
	if err := e.waitpoints.DeleteAssociation(ctx, r.ID, wp.ID); err != nil {
		return fmt.Errorf("failed to delete association: %w", err)
	}
	remaining, err := e.waitpoints.CountAssociationsForRun(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("failed to count associations: %w", err)
	}

	current, err := e.snapshots.GetLatestValid(ctx, r.ID)
	if err != nil {
		return err
	}
	if current == nil || current.ExecutionStatus != snapshot.ExecutionStatusExecutingWithWaitpoints {
		return nil
	}

	accumulated := appendUnique(current.CompletedWaitpointIDs, wp.ID)

	if remaining > 0 {
		_, err := e.transitionLocked(ctx, r, snapshot.ExecutionStatusExecutingWithWaitpoints, run.StatusExecuting,
			"waitpoint completed, still blocked", accumulated)
		return err
	}

	snap, err := e.transitionLocked(ctx, r, snapshot.ExecutionStatusExecuting, run.StatusExecuting,
		"all waitpoints completed", accumulated)
	if err != nil {
		return err
	}

	completed, err := e.waitpoints.GetByIDs(ctx, accumulated)
	if err != nil {
		return fmt.Errorf("failed to load completed waitpoints: %w", err)
	}
	e.bus.Emit(ctx, Event{
		Name:                EventWorkerNotification,
		Run:                 r,
		Snapshot:            snap,
		CompletedWaitpoints: completed,
	})
	return nil
}

type BlockRequest struct {
	RunID          string
	WaitpointIDs   []string
	ProjectID      string
	OrganizationID string
}

// BlockRunWithWaitpoint atomically attaches one or more waitpoints to the
// run and moves it to EXECUTING_WITH_WAITPOINTS. Blocking is re-entrant:
// more waitpoints can attach while already blocked. Blocking on an
// already-completed waitpoint resolves immediately.
func (e *Engine) BlockRunWithWaitpoint(ctx context.Context, req BlockRequest) (*snapshot.Snapshot, error) {
	if len(req.WaitpointIDs) == 0 {
		return nil, &ValidationError{Field: "waitpoints", Message: "at least one waitpoint required"}
	}

	wps, err := e.waitpoints.GetByIDs(ctx, req.WaitpointIDs)
	if err != nil {
		return nil, err
	}
	if len(wps) != len(req.WaitpointIDs) {
		return nil, &NotFoundError{Kind: "waitpoint", ID: fmt.Sprintf("%v", req.WaitpointIDs)}
	}

	var result *snapshot.Snapshot
	err = e.withRunLock(ctx, req.RunID, func(ctx context.Context) error {
		r, err := e.getRun(ctx, req.RunID)
		if err != nil {
			return err
		}

		for _, wp := range wps {
			assoc := &waitpoint.Association{
				RunID:       r.ID,
				WaitpointID: wp.ID,
				ProjectID:   req.ProjectID,
			}
			if err := e.waitpoints.Associate(ctx, assoc); err != nil {
				return fmt.Errorf("failed to associate waitpoint %s: %w", wp.ID, err)
			}
		}

		current, err := e.snapshots.GetLatestValid(ctx, r.ID)
		if err != nil {
			return err
		}
		var carry []string
		if current != nil && current.ExecutionStatus == snapshot.ExecutionStatusExecutingWithWaitpoints {
			carry = current.CompletedWaitpointIDs
		}

		snap, err := e.transitionLocked(ctx, r, snapshot.ExecutionStatusExecutingWithWaitpoints, run.StatusExecuting,
			"blocked by waitpoints", carry)
		if err != nil {
			return err
		}
		result = snap

		// re-read status under the lock: a completion that finished between
		// the fetch above and Associate never saw these associations, so its
		// unblock pass skipped this run
		wps, err = e.waitpoints.GetByIDs(ctx, req.WaitpointIDs)
		if err != nil {
			return err
		}

		// waitpoints that already resolved unblock without waiting
		for _, wp := range wps {
			if !wp.Completed() {
				continue
			}
			if err := e.removeBlockingWaitpointLocked(ctx, r, wp); err != nil {
				return err
			}
		}

		latest, err := e.snapshots.GetLatestValid(ctx, r.ID)
		if err != nil {
			return err
		}
		if latest != nil {
			result = latest
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids...)
	return append(out, id)
}
