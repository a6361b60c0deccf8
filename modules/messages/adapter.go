package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	domain "github.com/example/team-chat/domain/chat"
	"github.com/example/team-chat/query"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// MessagesPort defines the interface other modules use to access the
// messages collection.
type MessagesPort interface {
	List(ctx context.Context, q query.Query) ([]domain.Message, error)
	Get(ctx context.Context, id string) (*domain.Message, error)
	Create(ctx context.Context, authorID, text string) (*domain.Message, error)
	Update(ctx context.Context, actorID, id, text string) (*domain.Message, error)
	Delete(ctx context.Context, actorID, id string) error
}

// MessagesAdapter implements MessagesPort using the service container.
type MessagesAdapter struct {
	container mono.ServiceContainer
}

var _ MessagesPort = (*MessagesAdapter)(nil)

// NewMessagesAdapter creates a new MessagesAdapter.
func NewMessagesAdapter(container mono.ServiceContainer) *MessagesAdapter {
	return &MessagesAdapter{container: container}
}

// List runs a collection query.
func (a *MessagesAdapter) List(ctx context.Context, q query.Query) ([]domain.Message, error) {
	req := ListMessagesRequest{Query: q}
	var resp ListMessagesResponse
	if err := call(ctx, a.container, "list-messages", &req, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Get returns one message.
func (a *MessagesAdapter) Get(ctx context.Context, id string) (*domain.Message, error) {
	req := GetMessageRequest{ID: id}
	var resp MessageResponse
	if err := call(ctx, a.container, "get-message", &req, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

// Create stores a message written by authorID.
func (a *MessagesAdapter) Create(ctx context.Context, authorID, text string) (*domain.Message, error) {
	req := CreateMessageRequest{AuthorID: authorID, Text: text}
	var resp MessageResponse
	if err := call(ctx, a.container, "create-message", &req, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

// Update changes the text of a message.
func (a *MessagesAdapter) Update(ctx context.Context, actorID, id, text string) (*domain.Message, error) {
	req := UpdateMessageRequest{ActorID: actorID, ID: id, Text: text}
	var resp MessageResponse
	if err := call(ctx, a.container, "update-message", &req, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

// Delete removes a message.
func (a *MessagesAdapter) Delete(ctx context.Context, actorID, id string) error {
	req := DeleteMessageRequest{ActorID: actorID, ID: id}
	var resp DeleteMessageResponse
	return call(ctx, a.container, "delete-message", &req, &resp)
}

// call runs a request/reply service and maps its error back to a sentinel.
func call[Req, Resp any](ctx context.Context, container mono.ServiceContainer, service string, req *Req, resp *Resp) error {
	if err := helper.CallRequestReplyService(
		ctx,
		container,
		service,
		json.Marshal,
		json.Unmarshal,
		req,
		resp,
	); err != nil {
		return restoreError(service, err)
	}
	return nil
}

var knownErrors = []error{
	ErrMessageNotFound,
	ErrNotAuthor,
	ErrUnknownAuthor,
	domain.ErrMessageEmpty,
	domain.ErrMessageTooLong,
	domain.ErrMessageInvalid,
	query.ErrInvalidQuery,
	query.ErrUnknownField,
	query.ErrUnknownOperator,
}

func restoreError(service string, err error) error {
	msg := err.Error()
	for _, known := range knownErrors {
		if strings.Contains(msg, known.Error()) {
			return fmt.Errorf("%s request failed: %w", service, known)
		}
	}
	return fmt.Errorf("%s request failed: %w", service, err)
}
