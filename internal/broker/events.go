package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"jewelcraft/internal/models"
	"jewelcraft/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Message headers set on every published domain event
const (
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOutboxEvent publishes a stored outbox event keyed by its order,
// so all events of one order land on the same partition in order.
func (ep *EventPublisher) PublishOutboxEvent(ctx context.Context, event models.OutboxEvent) error {
	return ep.producer.Publish(ctx, kafka.Message{
		Key:   []byte("order-" + event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(event.EventType)},
			{Key: HeaderEventID, Value: []byte(event.ID)},
		},
	})
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderCreated       func(context.Context, *models.OrderCreatedEvent) error
	onOrderStatusChanged func(context.Context, *models.OrderStatusChangedEvent) error
	logger               *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderCreated registers a handler for ORDER_CREATED events
func (eh *EventHandler) OnOrderCreated(handler func(context.Context, *models.OrderCreatedEvent) error) {
	eh.onOrderCreated = handler
}

// OnOrderStatusChanged registers a handler for ORDER_STATUS_CHANGED events
func (eh *EventHandler) OnOrderStatusChanged(handler func(context.Context, *models.OrderStatusChangedEvent) error) {
	eh.onOrderStatusChanged = handler
}

// HandleMessage routes messages to the registered handlers. Payloads that
// cannot be decoded are logged and dropped so they do not block the partition.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		eh.logger.Error("dropping undecodable event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	eh.logger.Debug("handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated:
		if eh.onOrderCreated != nil {
			var event models.OrderCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				eh.logger.Error("dropping malformed ORDER_CREATED event", zap.Error(err))
				return nil
			}
			if err := eh.onOrderCreated(ctx, &event); err != nil {
				return fmt.Errorf("handle ORDER_CREATED %s: %w", event.EventID, err)
			}
		}

	case models.EventTypeOrderStatusChanged:
		if eh.onOrderStatusChanged != nil {
			var event models.OrderStatusChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				eh.logger.Error("dropping malformed ORDER_STATUS_CHANGED event", zap.Error(err))
				return nil
			}
			if err := eh.onOrderStatusChanged(ctx, &event); err != nil {
				return fmt.Errorf("handle ORDER_STATUS_CHANGED %s: %w", event.EventID, err)
			}
		}

	default:
		eh.logger.Warn("unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
