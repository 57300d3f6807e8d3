package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/taskrun/engine/internal/biz/run"
	"go.uber.org/zap"
)

func TestEventBusDispatchesInOrder(t *testing.T) {
	bus := NewEventBus(nil, zap.NewNop())

	var order []string
	bus.On(EventRunSucceeded, func(Event) { order = append(order, "first") })
	bus.On(EventRunSucceeded, func(Event) { order = append(order, "second") })
	bus.On(EventRunFailed, func(Event) { order = append(order, "never") })

	bus.Emit(context.Background(), Event{Name: EventRunSucceeded, Run: &run.Run{ID: "run_1"}})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEventBusUnsubscribedEventIsSilent(t *testing.T) {
	bus := NewEventBus(nil, zap.NewNop())
	// no handlers registered; must not panic
	bus.Emit(context.Background(), Event{Name: EventWorkerNotification})
}

func TestEventBusStampsTime(t *testing.T) {
	bus := NewEventBus(nil, zap.NewNop())

	var got Event
	bus.On(EventSnapshotCreated, func(ev Event) { got = ev })
	bus.Emit(context.Background(), Event{Name: EventSnapshotCreated})

	assert.False(t, got.Time.IsZero())
}
