package event_bus

import (
	"errors"
	"github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"sync"
	"testing"
	"time"
)

var logger, _ = zap.NewDevelopment()

func TestCollectorEventBus(t *testing.T) {
	t.Run("Delivers published events to subscribers", func(t *testing.T) {
		bus := NewCollectorEventBus[BatchOutcome, BatchOutcome](EventBus.New(), logger)
		var mu sync.Mutex
		var received []BatchOutcome
		err := bus.Subscribe(BatchOutcomeTopic, func(input BatchOutcome) error {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, input)
			return nil
		}, true)
		require.NoError(t, err)

		sent := BatchOutcome{BatchID: "b-1", Records: 3, Delivered: true, Attempts: 2, Duration: 2 * time.Second}
		require.NoError(t, bus.Publish(BatchOutcomeTopic, sent))
		bus.WaitAsync()

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []BatchOutcome{sent}, received)
	})

	t.Run("Handler errors do not stop later events", func(t *testing.T) {
		bus := NewCollectorEventBus[StateChange, StateChange](EventBus.New(), logger)
		var mu sync.Mutex
		calls := 0
		err := bus.Subscribe(StateTopic, func(input StateChange) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return errors.New("handler failed")
		}, true)
		require.NoError(t, err)

		require.NoError(t, bus.Publish(StateTopic, StateChange{From: "Starting", To: "Running"}))
		require.NoError(t, bus.Publish(StateTopic, StateChange{From: "Running", To: "Draining"}))
		bus.WaitAsync()

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 2, calls)
	})
}
