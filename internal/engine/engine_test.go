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

func TestTriggerCreatesQueuedRun(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	r, err := te.trigger(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.StatusQueued, r.Status)
	assert.Equal(t, 0, r.AttemptNumber)
	assert.NotEmpty(t, r.FriendlyID)

	current, err := te.snapshots.GetLatestValid(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, snapshot.ExecutionStatusQueued, current.ExecutionStatus)
	assert.Equal(t, 1, te.snapshots.validCount(r.ID))

	history, err := te.snapshots.ListForRun(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, snapshot.ExecutionStatusRunCreated, history[0].ExecutionStatus)
	assert.False(t, history[0].IsValid)
}

func TestTriggerValidation(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	_, err := te.trigger(ctx, func(req *TriggerRequest) { req.TaskIdentifier = "" })
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "taskIdentifier", validationErr.Field)

	_, err = te.trigger(ctx, func(req *TriggerRequest) { req.WorkerQueue = "" })
	require.ErrorAs(t, err, &validationErr)

	_, err = te.trigger(ctx, func(req *TriggerRequest) { req.TTL = -time.Second })
	require.ErrorAs(t, err, &validationErr)
}

func TestTriggerIdempotency(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	first, err := te.trigger(ctx, func(req *TriggerRequest) { req.IdempotencyKey = "once" })
	require.NoError(t, err)

	second, err := te.trigger(ctx, func(req *TriggerRequest) { req.IdempotencyKey = "once" })
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// same key in a different environment is a different run
	third, err := te.trigger(ctx, func(req *TriggerRequest) {
		req.IdempotencyKey = "once"
		req.EnvironmentID = "env_2"
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestDequeueClaimsRun(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	r, err := te.trigger(ctx)
	require.NoError(t, err)

	data, err := te.dequeueOne(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, r.ID, data.Run.ID)
	assert.Equal(t, snapshot.ExecutionStatusDequeued, data.Snapshot.ExecutionStatus)
	assert.Equal(t, run.StatusDequeued, data.Run.Status)

	// the queue is drained
	items, err := te.DequeueFromWorkerQueue(ctx, "consumer-2", "default")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDequeueRespectsPriority(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	low, err := te.trigger(ctx)
	require.NoError(t, err)
	high, err := te.trigger(ctx, func(req *TriggerRequest) { req.PriorityMS = 60_000 })
	require.NoError(t, err)

	items, err := te.DequeueFromWorkerQueue(ctx, "consumer-1", "default")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, high.ID, items[0].Run.ID)
	assert.Equal(t, low.ID, items[1].Run.ID)
}

func TestDequeueSkipsDuplicateDelivery(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	r, err := te.trigger(ctx)
	require.NoError(t, err)

	// simulate the queue delivering the same run twice
	require.NoError(t, te.queue.Enqueue(ctx, "default", r.ID, 0))
	_, err = te.dequeueOne(ctx, "default")
	require.NoError(t, err)

	require.NoError(t, te.queue.Enqueue(ctx, "default", r.ID, 0))
	items, err := te.DequeueFromWorkerQueue(ctx, "consumer-1", "default")
	require.NoError(t, err)
	assert.Empty(t, items)

	current, err := te.snapshots.GetLatestValid(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, snapshot.ExecutionStatusDequeued, current.ExecutionStatus)
}

func TestFullLifecycleSuccess(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	var succeeded []Event
	te.EventBus().On(EventRunSucceeded, func(ev Event) { succeeded = append(succeeded, ev) })

	r, err := te.trigger(ctx)
	require.NoError(t, err)

	data, err := te.dequeueOne(ctx, "default")
	require.NoError(t, err)

	started, err := te.StartRunAttempt(ctx, r.ID, data.Snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, started.Run.AttemptNumber)
	assert.Equal(t, snapshot.ExecutionStatusExecuting, started.Snapshot.ExecutionStatus)

	output := `{"result":42}`
	result, err := te.CompleteRunAttempt(ctx, r.ID, started.Snapshot.ID, Completion{
		Ok:         true,
		Output:     &output,
		OutputType: "application/json",
	})
	require.NoError(t, err)
	assert.Equal(t, AttemptStatusSucceeded, result.AttemptStatus)
	assert.Equal(t, run.StatusCompletedSuccessfully, result.Run.Status)
	assert.True(t, result.Snapshot.ExecutionStatus.Finished())
	require.NotNil(t, result.Run.Output)
	assert.Equal(t, output, *result.Run.Output)
	assert.NotNil(t, result.Run.CompletedAt)

	require.Len(t, succeeded, 1)
	assert.Equal(t, 1, te.snapshots.validCount(r.ID))
}

func TestRunTTLExpiry(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	var expired []Event
	te.EventBus().On(EventRunExpired, func(ev Event) { expired = append(expired, ev) })

	r, err := te.trigger(ctx, func(req *TriggerRequest) { req.TTL = time.Hour })
	require.NoError(t, err)

	entry := te.timerRepo.get(timerKeyExpireRun + r.ID)
	require.NotNil(t, entry)
	assert.Equal(t, timer.KindExpireRun, entry.Kind)

	te.handleTimer(ctx, entry)

	stored, err := te.runs.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusExpired, stored.Status)
	assert.NotNil(t, stored.ExpiredAt)

	current, err := te.snapshots.GetLatestValid(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, current.ExecutionStatus.Finished())
	require.Len(t, expired, 1)

	// the queue no longer delivers the expired run
	items, err := te.DequeueFromWorkerQueue(ctx, "consumer-1", "default")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRunTTLExpiryIsNoopAfterDequeue(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	r, err := te.trigger(ctx, func(req *TriggerRequest) { req.TTL = time.Hour })
	require.NoError(t, err)

	_, err = te.dequeueOne(ctx, "default")
	require.NoError(t, err)

	te.handleTimer(ctx, te.timerRepo.get(timerKeyExpireRun + r.ID))

	stored, err := te.runs.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusDequeued, stored.Status)
}

func TestGetRunExecutionData(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()

	r, err := te.trigger(ctx)
	require.NoError(t, err)

	data, err := te.GetRunExecutionData(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, data.Run.ID)
	assert.Equal(t, snapshot.ExecutionStatusQueued, data.Snapshot.ExecutionStatus)
	assert.Empty(t, data.CompletedWaitpoints)

	_, err = te.GetRunExecutionData(ctx, "run_missing")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}
