package engine

import (
	"context"
	"sync"
	"time"
)

// MemoryRunLock is the in-process RunLock used by tests and single-node
// deployments without Redis. Each run id maps to a one-slot channel acting
// as a mutex that supports bounded waits.
type MemoryRunLock struct {
	mu          sync.Mutex
	locks       map[string]chan struct{}
	waitTimeout time.Duration
}

func NewMemoryRunLock(waitTimeout time.Duration) *MemoryRunLock {
	return &MemoryRunLock{
		locks:       make(map[string]chan struct{}),
		waitTimeout: waitTimeout,
	}
}

func (l *MemoryRunLock) slot(runID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[runID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[runID] = ch
	}
	return ch
}

func (l *MemoryRunLock) WithLock(ctx context.Context, runID string, fn func(ctx context.Context) error) error {
	ch := l.slot(runID)

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(l.waitTimeout):
		return &LockTimeoutError{Key: lockKeyPrefix + runID}
	}
	defer func() { <-ch }()

	return fn(ctx)
}
