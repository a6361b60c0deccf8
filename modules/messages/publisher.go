package messages

import (
	"context"
	"time"

	domain "github.com/example/team-chat/domain/chat"
	"github.com/example/team-chat/events"
	"github.com/go-monolith/mono"
)

// EventBusPublisher publishes collection changes on the mono event bus.
type EventBusPublisher struct {
	bus mono.EventBus
}

var _ Publisher = (*EventBusPublisher)(nil)

// NewEventBusPublisher creates an EventBusPublisher.
func NewEventBusPublisher(bus mono.EventBus) *EventBusPublisher {
	return &EventBusPublisher{bus: bus}
}

// MessageCreated publishes MessageCreated.v1.
func (p *EventBusPublisher) MessageCreated(_ context.Context, msg domain.Message) error {
	return events.MessageCreatedV1.Publish(p.bus, events.MessageCreatedEvent{Message: msg}, nil)
}

// MessageUpdated publishes MessageUpdated.v1.
func (p *EventBusPublisher) MessageUpdated(_ context.Context, msg domain.Message) error {
	return events.MessageUpdatedV1.Publish(p.bus, events.MessageUpdatedEvent{Message: msg}, nil)
}

// MessageDeleted publishes MessageDeleted.v1.
func (p *EventBusPublisher) MessageDeleted(_ context.Context, id, deletedBy string) error {
	return events.MessageDeletedV1.Publish(p.bus, events.MessageDeletedEvent{
		MessageID: id,
		DeletedBy: deletedBy,
		Timestamp: time.Now().UTC(),
	}, nil)
}
