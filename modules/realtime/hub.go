package realtime

import (
	"context"
	"log"
	"sync"
)

// Change is a collection mutation to fan out to subscribers.
type Change struct {
	Collection string
	Event      string
	Key        string
	Record     map[string]any
}

func (ch Change) frame(uid string) Frame {
	var data any = []any{ch.Record}
	if ch.Event == EventDelete {
		data = []string{ch.Key}
	}
	return Frame{Type: FrameSubscription, Event: ch.Event, UID: uid, Data: data}
}

// Hub tracks realtime clients and delivers collection changes to them in
// publish order.
type Hub struct {
	clients    map[string]*Client // clientID -> Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Change
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Change, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. It accepts a context for graceful shutdown.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("[hub] Shutting down...")
			h.closeAllClients()
			close(h.done)
			return
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		case change := <-h.broadcast:
			h.handleBroadcast(change)
		}
	}
}

// Wait blocks until the hub has stopped.
func (h *Hub) Wait() {
	<-h.done
}

// closeAllClients closes all connected clients.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		client.Close()
	}
	h.clients = make(map[string]*Client)
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	log.Printf("[hub] Client %s (user %s) registered", client.ID, client.UserID)
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		log.Printf("[hub] Client %s (user %s) unregistered", client.ID, client.UserID)
	}
}

func (h *Hub) handleBroadcast(change Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		client.deliver(change)
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues a change for delivery. Changes are delivered in the order
// they are published.
func (h *Hub) Publish(change Change) {
	select {
	case h.broadcast <- change:
	case <-h.done:
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriptionCount returns the number of subscriptions across all clients.
func (h *Hub) SubscriptionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, client := range h.clients {
		total += client.SubscriptionCount()
	}
	return total
}
