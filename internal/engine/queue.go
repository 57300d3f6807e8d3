package engine

import (
	"context"
	"fmt"
	"time"

	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	queueKeyPrefix    = "runengine:queue:"
	inflightKeyPrefix = "runengine:inflight:"
)

// RedisWorkerQueue keeps one sorted set per worker queue, scored by
// enqueue time minus the run's priority offset, and a companion sorted set
// of in-flight claims scored by visibility deadline. Claims not acked
// before their deadline are returned to the queue on the next dequeue, so
// delivery is at-least-once.
type RedisWorkerQueue struct {
	rdb        *redis.Client
	visibility time.Duration
	logger     *zap.Logger
}

func NewRedisWorkerQueue(rdb *redis.Client, visibility time.Duration, logger *zap.Logger) *RedisWorkerQueue {
	return &RedisWorkerQueue{rdb: rdb, visibility: visibility, logger: logger}
}

func (q *RedisWorkerQueue) Enqueue(ctx context.Context, workerQueue string, runID string, score float64) error {
	err := q.rdb.ZAdd(ctx, queueKeyPrefix+workerQueue, &redis.Z{Score: score, Member: runID}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue run %s: %w", runID, err)
	}
	return nil
}

func (q *RedisWorkerQueue) Dequeue(ctx context.Context, consumerID, workerQueue string, maxItems int) ([]string, error) {
	queueKey := queueKeyPrefix + workerQueue
	inflightKey := inflightKeyPrefix + workerQueue
	now := time.Now()

	if err := q.reclaimExpired(ctx, queueKey, inflightKey, now); err != nil {
		q.logger.Warn("failed to reclaim expired claims",
			zap.String("worker_queue", workerQueue),
			zap.Error(err))
	}

	members, err := q.rdb.ZPopMin(ctx, queueKey, int64(maxItems)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue from %s: %w", workerQueue, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	deadline := float64(now.Add(q.visibility).UnixMilli())
	claims := make([]*redis.Z, 0, len(members))
	runIDs := make([]string, 0, len(members))
	for _, m := range members {
		runID, ok := m.Member.(string)
		if !ok {
			continue
		}
		runIDs = append(runIDs, runID)
		claims = append(claims, &redis.Z{Score: deadline, Member: runID})
	}
	if len(claims) > 0 {
		if err := q.rdb.ZAdd(ctx, inflightKey, claims...).Err(); err != nil {
			return nil, fmt.Errorf("failed to record claims: %w", err)
		}
	}

	q.logger.Debug("dequeued runs",
		zap.String("consumer_id", consumerID),
		zap.String("worker_queue", workerQueue),
		zap.Int("count", len(runIDs)))

	return runIDs, nil
}

// reclaimExpired moves claims whose visibility deadline passed back onto the
// queue at top priority.
func (q *RedisWorkerQueue) reclaimExpired(ctx context.Context, queueKey, inflightKey string, now time.Time) error {
	expired, err := q.rdb.ZRangeByScore(ctx, inflightKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return err
	}
	for _, runID := range expired {
		if err := q.rdb.ZAdd(ctx, queueKey, &redis.Z{Score: 0, Member: runID}).Err(); err != nil {
			return err
		}
		if err := q.rdb.ZRem(ctx, inflightKey, runID).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisWorkerQueue) Ack(ctx context.Context, workerQueue string, runID string) error {
	return q.rdb.ZRem(ctx, inflightKeyPrefix+workerQueue, runID).Err()
}

func (q *RedisWorkerQueue) Remove(ctx context.Context, workerQueue string, runID string) error {
	if err := q.rdb.ZRem(ctx, queueKeyPrefix+workerQueue, runID).Err(); err != nil {
		return err
	}
	return q.rdb.ZRem(ctx, inflightKeyPrefix+workerQueue, runID).Err()
}
