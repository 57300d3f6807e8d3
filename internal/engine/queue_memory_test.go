package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWorkerQueueOrdering(t *testing.T) {
	q := NewMemoryWorkerQueue(time.Minute)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "default", "run_b", 200))
	require.NoError(t, q.Enqueue(ctx, "default", "run_a", 100))
	require.NoError(t, q.Enqueue(ctx, "default", "run_c", 300))

	ids, err := q.Dequeue(ctx, "c1", "default", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"run_a", "run_b", "run_c"}, ids)
}

func TestMemoryWorkerQueueMaxItems(t *testing.T) {
	q := NewMemoryWorkerQueue(time.Minute)
	ctx := context.Background()

	for i, id := range []string{"run_a", "run_b", "run_c"} {
		require.NoError(t, q.Enqueue(ctx, "default", id, float64(i)))
	}

	ids, err := q.Dequeue(ctx, "c1", "default", 2)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	ids, err = q.Dequeue(ctx, "c1", "default", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"run_c"}, ids)
}

func TestMemoryWorkerQueueVisibilityReclaim(t *testing.T) {
	q := NewMemoryWorkerQueue(10 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "default", "run_a", 0))

	ids, err := q.Dequeue(ctx, "c1", "default", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"run_a"}, ids)

	// unacked claim becomes deliverable again after the visibility window
	ids, err = q.Dequeue(ctx, "c2", "default", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	time.Sleep(20 * time.Millisecond)
	ids, err = q.Dequeue(ctx, "c2", "default", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"run_a"}, ids)
}

func TestMemoryWorkerQueueAckStopsRedelivery(t *testing.T) {
	q := NewMemoryWorkerQueue(10 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "default", "run_a", 0))
	_, err := q.Dequeue(ctx, "c1", "default", 10)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, "default", "run_a"))

	time.Sleep(20 * time.Millisecond)
	ids, err := q.Dequeue(ctx, "c1", "default", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryWorkerQueueRemove(t *testing.T) {
	q := NewMemoryWorkerQueue(time.Minute)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "default", "run_a", 0))
	require.NoError(t, q.Remove(ctx, "default", "run_a"))

	ids, err := q.Dequeue(ctx, "c1", "default", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryWorkerQueueEnqueueUpdatesScore(t *testing.T) {
	q := NewMemoryWorkerQueue(time.Minute)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "default", "run_a", 100))
	require.NoError(t, q.Enqueue(ctx, "default", "run_b", 200))
	require.NoError(t, q.Enqueue(ctx, "default", "run_a", 300))

	ids, err := q.Dequeue(ctx, "c1", "default", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"run_b", "run_a"}, ids)
}

func TestMemoryWorkerQueueIsolatedQueues(t *testing.T) {
	q := NewMemoryWorkerQueue(time.Minute)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "alpha", "run_a", 0))
	require.NoError(t, q.Enqueue(ctx, "beta", "run_b", 0))

	ids, err := q.Dequeue(ctx, "c1", "alpha", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"run_a"}, ids)
}
