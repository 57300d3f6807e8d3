package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskrun/engine/internal/biz/run"
	"github.com/taskrun/engine/internal/biz/snapshot"
	"github.com/taskrun/engine/internal/biz/waitpoint"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ExecutionData is the full context a worker needs to resume a run: the run
// record, its current snapshot, and the waitpoints whose completion has not
// yet been consumed by the worker.
type ExecutionData struct {
	Run                 *run.Run
	Snapshot            *snapshot.Snapshot
	CompletedWaitpoints []*waitpoint.Waitpoint
}

// SnapshotWithWaitpoints annotates a historical snapshot with the waitpoints
// that had completed by the time it was created.
type SnapshotWithWaitpoints struct {
	Snapshot            *snapshot.Snapshot
	CompletedWaitpoints []*waitpoint.Waitpoint
}

// transitionLocked produces the run's next snapshot and retires the previous
// one in the same transaction. Callers must hold the run's lock. An illegal
// transition fails with a StateError and leaves the run untouched.
func (e *Engine) transitionLocked(
	ctx context.Context,
	r *run.Run,
	next snapshot.ExecutionStatus,
	runStatus run.Status,
	description string,
	completedWaitpointIDs []string,
) (*snapshot.Snapshot, error) {
	current, err := e.snapshots.GetLatestValid(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read current snapshot: %w", err)
	}
	if current == nil {
		if next != snapshot.ExecutionStatusRunCreated {
			return nil, &StateError{RunID: r.ID, From: "", To: next}
		}
	} else if !current.ExecutionStatus.CanTransitionTo(next) {
		return nil, &StateError{RunID: r.ID, From: current.ExecutionStatus, To: next}
	}

	newSnap := &snapshot.Snapshot{
		ID:                    snapshot.NewID(),
		RunID:                 r.ID,
		ExecutionStatus:       next,
		RunStatus:             runStatus,
		Description:           description,
		AttemptNumber:         r.AttemptNumber,
		IsValid:               true,
		CompletedWaitpointIDs: completedWaitpointIDs,
	}

	r.Status = runStatus
	err = e.snapshots.Execute(ctx, func(ctx context.Context) error {
		if err := e.snapshots.Create(ctx, newSnap); err != nil {
			return fmt.Errorf("failed to create snapshot: %w", err)
		}
		if err := e.snapshots.InvalidateForRun(ctx, r.ID, newSnap.ID); err != nil {
			return fmt.Errorf("failed to invalidate previous snapshot: %w", err)
		}
		if err := e.runs.Save(ctx, r); err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.Transitions.WithLabelValues(string(next)).Inc()
	e.bus.Emit(ctx, Event{Name: EventSnapshotCreated, Run: r, Snapshot: newSnap})
	e.logger.Debug("created snapshot",
		zap.String("run_id", r.ID),
		zap.String("snapshot_id", newSnap.ID),
		zap.String("execution_status", string(next)))

	return newSnap, nil
}

func (e *Engine) getRun(ctx context.Context, runID string) (*run.Run, error) {
	r, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Kind: "run", ID: runID}
		}
		return nil, err
	}
	return r, nil
}

// GetRunExecutionData returns the run, its current snapshot, and the
// completed waitpoints materialized on that snapshot.
func (e *Engine) GetRunExecutionData(ctx context.Context, runID string) (*ExecutionData, error) {
	r, err := e.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	current, err := e.snapshots.GetLatestValid(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read current snapshot: %w", err)
	}
	if current == nil {
		return nil, &NotFoundError{Kind: "snapshot for run", ID: runID}
	}

	completed, err := e.waitpoints.GetByIDs(ctx, current.CompletedWaitpointIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load completed waitpoints: %w", err)
	}

	return &ExecutionData{Run: r, Snapshot: current, CompletedWaitpoints: completed}, nil
}

// GetSnapshotsSince returns the snapshots created after the given one,
// oldest first, each annotated with its completed waitpoints. A snapshot id
// unknown for the run yields an empty result, never an error: historical
// queries on superseded identifiers are expected. An unknown run is still a
// NotFoundError.
func (e *Engine) GetSnapshotsSince(ctx context.Context, runID, snapshotID string) ([]*SnapshotWithWaitpoints, error) {
	if _, err := e.getRun(ctx, runID); err != nil {
		return nil, err
	}

	all, err := e.snapshots.ListForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	idx := -1
	for i, s := range all {
		if s.ID == snapshotID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return []*SnapshotWithWaitpoints{}, nil
	}

	result := make([]*SnapshotWithWaitpoints, 0, len(all)-idx-1)
	for _, s := range all[idx+1:] {
		completed, err := e.waitpoints.GetByIDs(ctx, s.CompletedWaitpointIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load completed waitpoints: %w", err)
		}
		result = append(result, &SnapshotWithWaitpoints{Snapshot: s, CompletedWaitpoints: completed})
	}
	return result, nil
}
