package teamchat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/example/team-chat/client"
	domain "github.com/example/team-chat/domain/chat"
	"github.com/example/team-chat/extension"
	"github.com/example/team-chat/query"
)

// MessagesCollection is the collection the surface shows.
const MessagesCollection = "messages"

// HistoryLimit is the number of past messages loaded on mount.
const HistoryLimit = 100

var errNotMounted = errors.New("surface is not mounted")

// Surface is the chat timeline. It merges the historical read with
// realtime events by message id.
type Surface struct {
	historyLimit int

	mu       sync.RWMutex
	me       domain.User
	timeline *timeline
	live     client.Status
	mounted  bool

	changes  chan struct{}
	messages *client.Items[domain.Message]
	sub      *client.Subscription[domain.Message]
	done     chan struct{}
	unmount  sync.Once
}

// NewSurface creates an unmounted surface.
func NewSurface() extension.Surface {
	return newSurface(HistoryLimit)
}

func newSurface(historyLimit int) *Surface {
	return &Surface{
		historyLimit: historyLimit,
		timeline:     newTimeline(),
		live:         client.StatusUnavailable,
		changes:      make(chan struct{}, 1),
	}
}

// Mount resolves the current user, subscribes to messages and loads the
// latest history page. ctx bounds the mount itself; the subscription lives
// until Unmount.
func (s *Surface) Mount(ctx context.Context, c *client.Client) error {
	me, err := client.Me[domain.User](ctx, c)
	if err != nil {
		return fmt.Errorf("resolve current user: %w", err)
	}

	sub, err := client.Subscribe[domain.Message](context.WithoutCancel(ctx), c, MessagesCollection, client.SubscribeOptions{})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", MessagesCollection, err)
	}

	messages := client.Collection[domain.Message](c, MessagesCollection)
	history, err := messages.ReadMany(ctx, query.Query{
		Sort:  []string{"-date_created"},
		Limit: s.historyLimit,
	})
	if err != nil {
		_ = sub.Close()
		return fmt.Errorf("load history: %w", err)
	}

	s.mu.Lock()
	s.me = me
	s.messages = messages
	s.sub = sub
	s.live = client.StatusLive
	s.mounted = true
	s.done = make(chan struct{})
	s.timeline.fill(history)
	s.mu.Unlock()
	s.notify()

	go s.loop(sub)
	return nil
}

func (s *Surface) loop(sub *client.Subscription[domain.Message]) {
	defer close(s.done)

	events, status := sub.Events(), sub.Status()
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.mu.Lock()
			s.timeline.apply(ev)
			s.mu.Unlock()
			s.notify()
		case st, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			s.setLive(st)
		}
	}
	// no more events will arrive, whatever ended the subscription
	s.setLive(client.StatusUnavailable)
}

func (s *Surface) setLive(st client.Status) {
	s.mu.Lock()
	changed := s.live != st
	s.live = st
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// notify signals renderers without blocking; pending signals coalesce.
func (s *Surface) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Unmount cancels the subscription and waits for the event loop to stop.
func (s *Surface) Unmount() error {
	var err error
	s.unmount.Do(func() {
		s.mu.Lock()
		sub, done := s.sub, s.done
		s.mounted = false
		s.mu.Unlock()
		if sub != nil {
			err = sub.Close()
			<-done
		}
		s.setLive(client.StatusUnavailable)
	})
	return err
}

// Send posts a message as the current user. It appears in the timeline once
// the subscription echoes it.
func (s *Surface) Send(ctx context.Context, text string) (domain.Message, error) {
	if err := domain.ValidateMessageText(text); err != nil {
		return domain.Message{}, err
	}
	s.mu.RLock()
	messages, mounted := s.messages, s.mounted
	s.mu.RUnlock()
	if !mounted {
		return domain.Message{}, errNotMounted
	}
	return messages.Create(ctx, map[string]string{"text": text})
}

// Messages returns the timeline ordered by date_created then id.
func (s *Surface) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeline.ordered()
}

// Changes signals that Messages or Live changed.
func (s *Surface) Changes() <-chan struct{} {
	return s.changes
}

// Live reports the realtime status.
func (s *Surface) Live() client.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// Me returns the user the surface is mounted for.
func (s *Surface) Me() domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.me
}

// timeline holds messages by id. Realtime events overwrite, deletions leave
// a tombstone, and historical rows only fill gaps.
type timeline struct {
	items   map[string]domain.Message
	deleted map[string]bool
}

func newTimeline() *timeline {
	return &timeline{
		items:   make(map[string]domain.Message),
		deleted: make(map[string]bool),
	}
}

func (t *timeline) apply(ev client.Event[domain.Message]) {
	switch ev.Type {
	case client.EventDeleted:
		delete(t.items, ev.Key)
		t.deleted[ev.Key] = true
	case client.EventCreated, client.EventUpdated:
		if ev.Key == "" || t.deleted[ev.Key] {
			return
		}
		msg := ev.Record
		if prev, ok := t.items[ev.Key]; ok && msg.UserCreated == nil {
			msg.UserCreated = prev.UserCreated
		}
		t.items[ev.Key] = msg
	}
}

func (t *timeline) fill(rows []domain.Message) {
	for _, msg := range rows {
		if msg.ID == "" || t.deleted[msg.ID] {
			continue
		}
		if _, ok := t.items[msg.ID]; ok {
			continue
		}
		t.items[msg.ID] = msg
	}
}

func (t *timeline) ordered() []domain.Message {
	out := make([]domain.Message, 0, len(t.items))
	for _, msg := range t.items {
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DateCreated.Equal(out[j].DateCreated) {
			return out[i].DateCreated.Before(out[j].DateCreated)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
