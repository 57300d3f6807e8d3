package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type Handler func(Event)

// EventBus dispatches engine events to in-process subscribers and, when a
// Redis client is configured, republishes them on a pub/sub channel so
// workers on other instances are woken too. With a nil client it degrades to
// purely local delivery, which is what tests and single-node deployments use.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventName][]Handler
	rdb      *redis.Client
	logger   *zap.Logger
}

func NewEventBus(rdb *redis.Client, logger *zap.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[EventName][]Handler),
		rdb:      rdb,
		logger:   logger,
	}
}

// On registers a handler for the named event. Handlers run synchronously in
// emit order; long work belongs in the subscriber's own goroutine.
func (b *EventBus) On(name EventName, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

func (b *EventBus) Emit(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	handlers := b.handlers[ev.Name]
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}

	if b.rdb == nil {
		return
	}

	wire := redisEvent{
		Name:      ev.Name,
		Timestamp: ev.Time.UnixMilli(),
	}
	if ev.Run != nil {
		wire.RunID = ev.Run.ID
	}
	if ev.Snapshot != nil {
		wire.SnapshotID = ev.Snapshot.ID
	}
	for _, wp := range ev.CompletedWaitpoints {
		wire.WaitpointIDs = append(wire.WaitpointIDs, wp.ID)
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		b.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	if err := b.rdb.Publish(ctx, redisEventChannel, payload).Err(); err != nil {
		b.logger.Error("failed to publish event",
			zap.String("event", string(ev.Name)),
			zap.Error(err))
	}
}
