package engine

import (
	"context"
	"fmt"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const lockKeyPrefix = "runengine:lock:run:"

// releaseScript deletes the lock only when the caller still owns it, so a
// critical section that outlives the TTL cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

// RedisRunLock implements RunLock with SET NX PX plus a compare-and-delete
// release. Contended acquisition retries until the wait bound, then fails
// with a LockTimeoutError the caller may retry.
type RedisRunLock struct {
	rdb         *redis.Client
	duration    time.Duration
	waitTimeout time.Duration
	retryDelay  time.Duration
	logger      *zap.Logger
}

func NewRedisRunLock(rdb *redis.Client, duration, waitTimeout, retryDelay time.Duration, logger *zap.Logger) *RedisRunLock {
	return &RedisRunLock{
		rdb:         rdb,
		duration:    duration,
		waitTimeout: waitTimeout,
		retryDelay:  retryDelay,
		logger:      logger,
	}
}

func (l *RedisRunLock) WithLock(ctx context.Context, runID string, fn func(ctx context.Context) error) error {
	key := lockKeyPrefix + runID
	token := uuid.NewString()
	deadline := time.Now().Add(l.waitTimeout)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.duration).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return &LockTimeoutError{Key: key}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}

	defer func() {
		if err := releaseScript.Run(context.Background(), l.rdb, []string{key}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Error("failed to release lock",
				zap.String("key", key),
				zap.Error(err))
		}
	}()

	return fn(ctx)
}
