package event_bus

import (
	"encoding/json"
	"fmt"
	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
	"time"
)

const (
	StateTopic        = "collector:state"
	BatchOutcomeTopic = "collector:batch_outcome"
)

// StateChange is published on StateTopic whenever the collector moves
// between lifecycle states.
type StateChange struct {
	CollectorID string    `json:"collector_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	At          time.Time `json:"at"`
}

// BatchOutcome is published on BatchOutcomeTopic once per Send.
type BatchOutcome struct {
	BatchID     string        `json:"batch_id"`
	Records     int           `json:"records"`
	Delivered   bool          `json:"delivered"`
	Attempts    int           `json:"attempts"`
	Class       string        `json:"class,omitempty"`
	Error       string        `json:"error,omitempty"`
	Interrupted bool          `json:"interrupted"`
	Duration    time.Duration `json:"duration"`
}

// CollectorEventBus moves events as JSON text so subscribers never share
// memory with publishers.
type CollectorEventBus[InputType any, OutputType any] interface {
	Subscribe(topic string, handler func(input InputType) error, transactional bool) error
	Publish(topic string, arg OutputType) error
	WaitAsync()
}

type CollectorEventBusImpl[InputType any, OutputType any] struct {
	eventBus EventBus.Bus
	logger   *zap.Logger
}

func NewCollectorEventBus[InputType any, OutputType any](
	eventBus EventBus.Bus,
	logger *zap.Logger,
) CollectorEventBus[InputType, OutputType] {
	return &CollectorEventBusImpl[InputType, OutputType]{
		eventBus: eventBus,
		logger:   logger,
	}
}

func (ev *CollectorEventBusImpl[InputType, OutputType]) Subscribe(
	topic string,
	handler func(input InputType) error,
	transactional bool,
) error {
	err := ev.eventBus.SubscribeAsync(
		topic,
		func(arg string) {
			var input InputType
			err := json.Unmarshal([]byte(arg), &input)
			if err != nil {
				ev.logger.Error("Failed to unmarshal event",
					zap.String("topic", topic),
					zap.Error(err),
				)
				return
			}
			err = handler(input)
			if err != nil {
				ev.logger.Error("Failed to handle event",
					zap.String("topic", topic),
					zap.Error(err),
				)
			}
		},
		transactional,
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	return nil
}

func (ev *CollectorEventBusImpl[InputType, OutputType]) Publish(
	topic string,
	arg OutputType,
) error {
	argBytes, err := json.Marshal(arg)
	if err != nil {
		return fmt.Errorf("failed to marshal event for topic %s: %w", topic, err)
	}
	ev.eventBus.Publish(topic, string(argBytes))
	return nil
}

// WaitAsync blocks until every asynchronous handler has returned.
func (ev *CollectorEventBusImpl[InputType, OutputType]) WaitAsync() {
	ev.eventBus.WaitAsync()
}
