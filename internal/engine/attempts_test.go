package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskrun/engine/internal/biz/run"
	"github.com/taskrun/engine/internal/biz/snapshot"
	"github.com/taskrun/engine/internal/biz/timer"
)

func TestStartRunAttemptRejectsStaleSnapshot(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	r, err := te.trigger(ctx)
	require.NoError(t, err)
	data, err := te.dequeueOne(ctx, "default")
	require.NoError(t, err)

	_, err = te.StartRunAttempt(ctx, r.ID, "snapshot_stale")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "snapshot_stale", conflict.ExpectedSnapshot)
	assert.Equal(t, data.Snapshot.ID, conflict.ActualSnapshot)

	// the guard left the run untouched
	stored, err := te.runs.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.AttemptNumber)
}

func TestCompleteRunAttemptRejectsStaleSnapshot(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	r, _ := executingRun(t, te)

	_, err := te.CompleteRunAttempt(ctx, r.ID, "snapshot_stale", Completion{Ok: true})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	stored, err := te.runs.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusExecuting, stored.Status)
}

func TestCompleteRunAttemptTerminalFailure(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	var failed []Event
	te.EventBus().On(EventRunFailed, func(ev Event) { failed = append(failed, ev) })

	r, snapID := executingRun(t, te)

	result, err := te.CompleteRunAttempt(ctx, r.ID, snapID, Completion{
		Ok:    false,
		Error: &run.Error{Type: "USER_ERROR", Name: "Boom", Message: "task panicked"},
	})
	require.NoError(t, err)
	assert.Equal(t, AttemptStatusFailed, result.AttemptStatus)
	assert.Equal(t, run.StatusCompletedWithErrors, result.Run.Status)
	require.NotNil(t, result.Run.Error)
	assert.Equal(t, "task panicked", result.Run.Error.Message)
	require.Len(t, failed, 1)
}

func TestCompleteRunAttemptSystemFailure(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	r, snapID := executingRun(t, te)

	result, err := te.CompleteRunAttempt(ctx, r.ID, snapID, Completion{
		Ok:    false,
		Error: &run.Error{Type: run.ErrorTypeInternal, Message: "oom killed"},
	})
	require.NoError(t, err)
	assert.Equal(t, AttemptStatusSystemFailure, result.AttemptStatus)
	assert.Equal(t, run.StatusSystemFailure, result.Run.Status)
}

func TestRetryImmediately(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	var retries []Event
	te.EventBus().On(EventRunRetryScheduled, func(ev Event) { retries = append(retries, ev) })

	r, snapID := executingRun(t, te)

	result, err := te.CompleteRunAttempt(ctx, r.ID, snapID, Completion{
		Ok:    false,
		Error: &run.Error{Type: "USER_ERROR", Message: "flaky"},
		Retry: &RetryDirective{},
	})
	require.NoError(t, err)
	assert.Equal(t, AttemptStatusRetryImmediately, result.AttemptStatus)
	assert.Equal(t, run.StatusRetryingAfterFailure, result.Run.Status)
	assert.Equal(t, snapshot.ExecutionStatusExecuting, result.Snapshot.ExecutionStatus)
	require.Len(t, retries, 1)

	// the next attempt starts off the new snapshot
	started, err := te.StartRunAttempt(ctx, r.ID, result.Snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, started.Run.AttemptNumber)
}

func TestRetryAfterDelay(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	r, snapID := executingRun(t, te)

	result, err := te.CompleteRunAttempt(ctx, r.ID, snapID, Completion{
		Ok:    false,
		Error: &run.Error{Type: "USER_ERROR", Message: "rate limited"},
		Retry: &RetryDirective{DelayMS: int64(time.Hour / time.Millisecond)},
	})
	require.NoError(t, err)
	assert.Equal(t, AttemptStatusRetryAfterDelay, result.AttemptStatus)
	assert.Equal(t, snapshot.ExecutionStatusQueued, result.Snapshot.ExecutionStatus)
	require.NotNil(t, result.RetryAt)

	entry := te.timerRepo.get(timerKeyRetryRun + r.ID)
	require.NotNil(t, entry)
	assert.Equal(t, timer.KindRetryRun, entry.Kind)

	// nothing is deliverable until the timer fires
	items, err := te.DequeueFromWorkerQueue(ctx, "consumer-1", "default")
	require.NoError(t, err)
	assert.Empty(t, items)

	te.handleTimer(ctx, entry)

	data, err := te.dequeueOne(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, r.ID, data.Run.ID)
}

func TestRetryTimestampInPastRetriesImmediately(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	r, snapID := executingRun(t, te)

	result, err := te.CompleteRunAttempt(ctx, r.ID, snapID, Completion{
		Ok:    false,
		Error: &run.Error{Type: "USER_ERROR", Message: "flaky"},
		Retry: &RetryDirective{Timestamp: time.Now().Add(-time.Minute)},
	})
	require.NoError(t, err)
	assert.Equal(t, AttemptStatusRetryImmediately, result.AttemptStatus)
}

func TestMaxAttemptsForcesTerminalFailure(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	r, err := te.trigger(ctx)
	require.NoError(t, err)
	data, err := te.dequeueOne(ctx, "default")
	require.NoError(t, err)

	snapID := data.Snapshot.ID
	// MaxAttempts is 3 in the test config; the third failure may not retry
	for attempt := 1; attempt <= 3; attempt++ {
		started, err := te.StartRunAttempt(ctx, r.ID, snapID)
		require.NoError(t, err)

		result, err := te.CompleteRunAttempt(ctx, r.ID, started.Snapshot.ID, Completion{
			Ok:    false,
			Error: &run.Error{Type: "USER_ERROR", Message: "still broken"},
			Retry: &RetryDirective{},
		})
		require.NoError(t, err)
		snapID = result.Snapshot.ID

		if attempt < 3 {
			assert.Equal(t, AttemptStatusRetryImmediately, result.AttemptStatus)
		} else {
			assert.Equal(t, AttemptStatusFailed, result.AttemptStatus)
			assert.Equal(t, run.StatusCompletedWithErrors, result.Run.Status)
		}
	}
}

func TestRetryTimerIsNoopAfterCompletion(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	r, snapID := executingRun(t, te)

	_, err := te.CompleteRunAttempt(ctx, r.ID, snapID, Completion{
		Ok:    false,
		Error: &run.Error{Type: "USER_ERROR", Message: "rate limited"},
		Retry: &RetryDirective{DelayMS: 60_000},
	})
	require.NoError(t, err)
	entry := te.timerRepo.get(timerKeyRetryRun + r.ID)
	require.NotNil(t, entry)

	// the run gets dequeued and completed before the timer fires
	te.handleTimer(ctx, entry)
	data, err := te.dequeueOne(ctx, "default")
	require.NoError(t, err)
	started, err := te.StartRunAttempt(ctx, r.ID, data.Snapshot.ID)
	require.NoError(t, err)
	_, err = te.CompleteRunAttempt(ctx, r.ID, started.Snapshot.ID, Completion{Ok: true})
	require.NoError(t, err)

	// a late duplicate delivery must not resurrect the finished run
	te.handleTimer(ctx, entry)
	items, err := te.DequeueFromWorkerQueue(ctx, "consumer-1", "default")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStartAttemptOnUnknownRun(t *testing.T) {
	te := newTestEngine()

	_, err := te.StartRunAttempt(context.Background(), "run_missing", "snapshot_x")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}
