package messages

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "github.com/example/team-chat/domain/chat"
	"github.com/example/team-chat/query"
	"github.com/google/uuid"
)

var (
	// ErrNotAuthor is returned when a user changes a message they did not write.
	ErrNotAuthor = errors.New("only the author may modify this message")
	// ErrUnknownAuthor is returned when a message would reference a user that does not exist.
	ErrUnknownAuthor = errors.New("unknown author")
)

// UserResolver looks up message authors.
type UserResolver interface {
	ListUsers(ctx context.Context, ids []string, limit, offset int) ([]domain.User, error)
}

// Publisher announces changes to the messages collection.
type Publisher interface {
	MessageCreated(ctx context.Context, msg domain.Message) error
	MessageUpdated(ctx context.Context, msg domain.Message) error
	MessageDeleted(ctx context.Context, id, deletedBy string) error
}

// Service implements the messages collection.
type Service struct {
	repo      *Repository
	users     UserResolver
	publisher Publisher

	// mu serializes inserts so date_created grows with insertion order.
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewService creates a new Service. The latest stored timestamp seeds the
// clock so ordering survives restarts.
func NewService(repo *Repository, users UserResolver, publisher Publisher) (*Service, error) {
	last, err := repo.LatestDateCreated()
	if err != nil {
		return nil, fmt.Errorf("failed to read latest message timestamp: %w", err)
	}
	return &Service{
		repo:      repo,
		users:     users,
		publisher: publisher,
		last:      last,
		now:       time.Now,
	}, nil
}

// Create stores a message written by authorID and publishes it.
func (s *Service) Create(ctx context.Context, authorID, text string) (*domain.Message, error) {
	if err := domain.ValidateMessageText(text); err != nil {
		return nil, err
	}

	author, err := s.author(ctx, authorID)
	if err != nil {
		return nil, err
	}

	// publishing under the lock keeps created events in date_created order
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &domain.Message{
		ID:            uuid.New().String(),
		Text:          text,
		DateCreated:   s.nextTimestamp(),
		UserCreatedID: authorID,
	}
	if err := s.repo.Create(msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	msg.UserCreated = author
	if err := s.publisher.MessageCreated(ctx, *msg); err != nil {
		// an unannounced row would never reach subscribers
		if derr := s.repo.Delete(msg.ID); derr != nil {
			return nil, errors.Join(fmt.Errorf("failed to publish message: %w", err), derr)
		}
		return nil, fmt.Errorf("failed to publish message: %w", err)
	}
	return msg, nil
}

// nextTimestamp returns a UTC timestamp strictly after the previous one.
// Callers hold s.mu.
func (s *Service) nextTimestamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

// List runs a query and resolves the authors of the results.
func (s *Service) List(ctx context.Context, q query.Query) ([]domain.Message, error) {
	msgs, err := s.repo.Find(q)
	if err != nil {
		return nil, err
	}
	if err := s.resolveAuthors(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Get returns one message with its author.
func (s *Service) Get(ctx context.Context, id string) (*domain.Message, error) {
	msg, err := s.repo.FindByID(id)
	if err != nil {
		return nil, err
	}
	one := []domain.Message{*msg}
	if err := s.resolveAuthors(ctx, one); err != nil {
		return nil, err
	}
	return &one[0], nil
}

// Update changes the text of a message owned by actorID.
func (s *Service) Update(ctx context.Context, actorID, id, text string) (*domain.Message, error) {
	if err := domain.ValidateMessageText(text); err != nil {
		return nil, err
	}

	msg, err := s.repo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if msg.UserCreatedID != actorID {
		return nil, ErrNotAuthor
	}

	if err := s.repo.UpdateText(id, text); err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	msg.Text = text

	one := []domain.Message{*msg}
	if err := s.resolveAuthors(ctx, one); err != nil {
		return nil, err
	}
	if err := s.publisher.MessageUpdated(ctx, one[0]); err != nil {
		return nil, fmt.Errorf("failed to publish update: %w", err)
	}
	return &one[0], nil
}

// Delete removes a message owned by actorID.
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	msg, err := s.repo.FindByID(id)
	if err != nil {
		return err
	}
	if msg.UserCreatedID != actorID {
		return ErrNotAuthor
	}

	if err := s.repo.Delete(id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if err := s.publisher.MessageDeleted(ctx, id, actorID); err != nil {
		return fmt.Errorf("failed to publish delete: %w", err)
	}
	return nil
}

func (s *Service) author(ctx context.Context, id string) (*domain.User, error) {
	users, err := s.users.ListUsers(ctx, []string{id}, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve author: %w", err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("author %s: %w", id, ErrUnknownAuthor)
	}
	return &users[0], nil
}

func (s *Service) resolveAuthors(ctx context.Context, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if !seen[m.UserCreatedID] {
			seen[m.UserCreatedID] = true
			ids = append(ids, m.UserCreatedID)
		}
	}

	users, err := s.users.ListUsers(ctx, ids, len(ids), 0)
	if err != nil {
		return fmt.Errorf("failed to resolve authors: %w", err)
	}
	byID := make(map[string]domain.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	for i := range msgs {
		if u, ok := byID[msgs[i].UserCreatedID]; ok {
			msgs[i].UserCreated = &u
		} else {
			msgs[i].UserCreated = &domain.User{ID: msgs[i].UserCreatedID}
		}
	}
	return nil
}
