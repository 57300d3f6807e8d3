package engine

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryQueueItem struct {
	runID string
	score float64
}

type memoryClaim struct {
	runID    string
	deadline time.Time
}

// MemoryWorkerQueue mirrors RedisWorkerQueue's semantics in process memory:
// score-ordered dequeue, visibility deadlines, reclaim of expired claims.
// Used by tests and single-node deployments without Redis.
type MemoryWorkerQueue struct {
	mu         sync.Mutex
	queues     map[string][]memoryQueueItem
	inflight   map[string][]memoryClaim
	visibility time.Duration
}

func NewMemoryWorkerQueue(visibility time.Duration) *MemoryWorkerQueue {
	return &MemoryWorkerQueue{
		queues:     make(map[string][]memoryQueueItem),
		inflight:   make(map[string][]memoryClaim),
		visibility: visibility,
	}
}

func (q *MemoryWorkerQueue) Enqueue(_ context.Context, workerQueue string, runID string, score float64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.queues[workerQueue]
	for i := range items {
		if items[i].runID == runID {
			items[i].score = score
			return nil
		}
	}
	q.queues[workerQueue] = append(items, memoryQueueItem{runID: runID, score: score})
	return nil
}

func (q *MemoryWorkerQueue) Dequeue(_ context.Context, consumerID, workerQueue string, maxItems int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()

	// expired claims rejoin the queue at top priority
	var live []memoryClaim
	for _, c := range q.inflight[workerQueue] {
		if now.After(c.deadline) {
			q.queues[workerQueue] = append(q.queues[workerQueue], memoryQueueItem{runID: c.runID, score: 0})
		} else {
			live = append(live, c)
		}
	}
	q.inflight[workerQueue] = live

	items := q.queues[workerQueue]
	if len(items) == 0 {
		return nil, nil
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].score < items[j].score })

	n := maxItems
	if n > len(items) {
		n = len(items)
	}
	claimed := items[:n]
	q.queues[workerQueue] = items[n:]

	deadline := now.Add(q.visibility)
	runIDs := make([]string, 0, n)
	for _, item := range claimed {
		runIDs = append(runIDs, item.runID)
		q.inflight[workerQueue] = append(q.inflight[workerQueue], memoryClaim{runID: item.runID, deadline: deadline})
	}
	return runIDs, nil
}

func (q *MemoryWorkerQueue) Ack(_ context.Context, workerQueue string, runID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeClaim(workerQueue, runID)
	return nil
}

func (q *MemoryWorkerQueue) Remove(_ context.Context, workerQueue string, runID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.queues[workerQueue]
	for i := range items {
		if items[i].runID == runID {
			q.queues[workerQueue] = append(items[:i], items[i+1:]...)
			break
		}
	}
	q.removeClaim(workerQueue, runID)
	return nil
}

func (q *MemoryWorkerQueue) removeClaim(workerQueue, runID string) {
	claims := q.inflight[workerQueue]
	for i := range claims {
		if claims[i].runID == runID {
			q.inflight[workerQueue] = append(claims[:i], claims[i+1:]...)
			return
		}
	}
}
