package realtime

import (
	"log"
	"sync"

	"github.com/example/team-chat/query"
)

// DefaultQueueSize bounds the number of frames waiting to be written to a
// connection.
const DefaultQueueSize = 256

// Subscription is one live query registered by a connection.
type Subscription struct {
	UID        string
	Collection string
	Filter     query.Filter
}

type subscriptionState struct {
	Subscription
	// pending subscriptions buffer events until their init frame is queued.
	pending bool
	backlog [][]byte
}

// Client represents an authenticated realtime connection.
type Client struct {
	ID     string
	UserID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	subs map[string]*subscriptionState
}

// NewClient creates a Client with a send queue of queueSize frames.
func NewClient(id, userID string, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Client{
		ID:     id,
		UserID: userID,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
		subs:   make(map[string]*subscriptionState),
	}
}

// Outbound returns the queue of encoded frames to write.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close marks the client closed. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Subscribe registers a pending subscription, replacing any with the same
// uid. Events for it are held back until Activate.
func (c *Client) Subscribe(sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[sub.UID] = &subscriptionState{Subscription: sub, pending: true}
}

// Activate queues the init frame of a pending subscription followed by any
// events that arrived while the snapshot was read.
func (c *Client) Activate(uid string, init []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.subs[uid]
	if !ok {
		return false
	}
	if !c.enqueue(init) {
		return false
	}
	for _, frame := range state.backlog {
		if !c.enqueue(frame) {
			return false
		}
	}
	state.backlog = nil
	state.pending = false
	return true
}

// Unsubscribe removes a subscription and reports whether it existed.
func (c *Client) Unsubscribe(uid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[uid]; !ok {
		return false
	}
	delete(c.subs, uid)
	return true
}

// SubscriptionCount returns the number of registered subscriptions.
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Send queues an encoded frame. A full queue closes the client.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueue(data)
}

// deliver fans a change out to every matching subscription of the client.
func (c *Client) deliver(change Change) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, state := range c.subs {
		if state.Collection != change.Collection {
			continue
		}
		// deleted records cannot be matched, every subscriber learns the key
		if change.Event != EventDelete && !state.Filter.Match(change.Record) {
			continue
		}

		data, err := encodeFrame(change.frame(state.UID))
		if err != nil {
			log.Printf("[realtime] Failed to encode %s event: %v", change.Event, err)
			continue
		}
		if state.pending {
			state.backlog = append(state.backlog, data)
			continue
		}
		if !c.enqueue(data) {
			return
		}
	}
}

// enqueue never blocks; callers hold c.mu.
func (c *Client) enqueue(data []byte) bool {
	if c.Closed() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		log.Printf("[realtime] Client %s is too slow, disconnecting", c.ID)
		c.Close()
		return false
	}
}
