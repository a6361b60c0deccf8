package events

import (
	"time"

	domain "github.com/example/team-chat/domain/chat"
	"github.com/go-monolith/mono/pkg/helper"
)

// MessageCreatedEvent is emitted after a message row is inserted.
type MessageCreatedEvent struct {
	Message domain.Message `json:"message"`
}

// MessageUpdatedEvent is emitted after a message row is changed.
type MessageUpdatedEvent struct {
	Message domain.Message `json:"message"`
}

// MessageDeletedEvent is emitted after a message row is removed.
type MessageDeletedEvent struct {
	MessageID string    `json:"message_id"`
	DeletedBy string    `json:"deleted_by"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the messages collection.
var (
	MessageCreatedV1 = helper.EventDefinition[MessageCreatedEvent](
		"messages",
		"MessageCreated",
		"v1",
	)

	MessageUpdatedV1 = helper.EventDefinition[MessageUpdatedEvent](
		"messages",
		"MessageUpdated",
		"v1",
	)

	MessageDeletedV1 = helper.EventDefinition[MessageDeletedEvent](
		"messages",
		"MessageDeleted",
		"v1",
	)
)
