package messages

import (
	domain "github.com/example/team-chat/domain/chat"
	"github.com/example/team-chat/query"
)

// ListMessagesRequest runs a collection query.
type ListMessagesRequest struct {
	Query query.Query `json:"query"`
}

// ListMessagesResponse carries query results.
type ListMessagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

// GetMessageRequest selects one message.
type GetMessageRequest struct {
	ID string `json:"id"`
}

// CreateMessageRequest creates a message on behalf of AuthorID.
type CreateMessageRequest struct {
	AuthorID string `json:"author_id"`
	Text     string `json:"text"`
}

// UpdateMessageRequest changes the text of a message.
type UpdateMessageRequest struct {
	ActorID string `json:"actor_id"`
	ID      string `json:"id"`
	Text    string `json:"text"`
}

// DeleteMessageRequest removes a message.
type DeleteMessageRequest struct {
	ActorID string `json:"actor_id"`
	ID      string `json:"id"`
}

// MessageResponse carries a single message.
type MessageResponse struct {
	Message domain.Message `json:"message"`
}

// DeleteMessageResponse acknowledges a delete.
type DeleteMessageResponse struct {
	ID string `json:"id"`
}
