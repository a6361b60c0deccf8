package realtime

import (
	"context"
	"fmt"
	"log"

	domain "github.com/example/team-chat/domain/chat"
	"github.com/example/team-chat/events"
	"github.com/example/team-chat/modules/auth"
	"github.com/example/team-chat/modules/messages"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

// RealtimeModule consumes collection events and serves realtime subscriptions.
type RealtimeModule struct {
	hub       *Hub
	cancelHub context.CancelFunc
	tokens    TokenValidator
	snapshots Snapshotter
	config    SessionConfig
	logger    types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*RealtimeModule)(nil)
var _ mono.DependentModule = (*RealtimeModule)(nil)
var _ mono.EventConsumerModule = (*RealtimeModule)(nil)
var _ mono.HealthCheckableModule = (*RealtimeModule)(nil)

// NewModule creates a new RealtimeModule.
func NewModule(config SessionConfig, logger types.Logger) *RealtimeModule {
	return &RealtimeModule{
		hub:    NewHub(),
		config: config,
		logger: logger.WithModule("realtime"),
	}
}

// Name returns the module name.
func (m *RealtimeModule) Name() string {
	return "realtime"
}

// Dependencies returns the list of module dependencies.
func (m *RealtimeModule) Dependencies() []string {
	return []string{"auth", "messages"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *RealtimeModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "auth":
		m.tokens = auth.NewAuthAdapter(container)
	case "messages":
		m.snapshots = messages.NewMessagesAdapter(container)
	}
}

// Start starts the hub.
func (m *RealtimeModule) Start(_ context.Context) error {
	if m.tokens == nil || m.snapshots == nil {
		return fmt.Errorf("auth and messages dependencies not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelHub = cancel
	go m.hub.Run(ctx)
	log.Println("[realtime] Module started - subscription hub running")
	return nil
}

// Stop shuts down the hub and disconnects all clients.
func (m *RealtimeModule) Stop(_ context.Context) error {
	clientCount := m.hub.ClientCount()
	if m.cancelHub != nil {
		m.cancelHub()
		m.hub.Wait()
	}
	log.Printf("[realtime] Module stopped - %d clients were connected", clientCount)
	return nil
}

// Health returns the health status.
func (m *RealtimeModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.cancelHub != nil,
		Message: "operational",
		Details: map[string]any{
			"connected_clients": m.hub.ClientCount(),
			"subscriptions":     m.hub.SubscriptionCount(),
		},
	}
}

// Serve runs the realtime protocol on an upgraded connection until it ends.
func (m *RealtimeModule) Serve(ctx context.Context, conn Conn) error {
	return NewSession(conn, m.hub, m.tokens, m.snapshots, m.config, m.logger).Serve(ctx)
}

// Hub returns the subscription hub.
func (m *RealtimeModule) Hub() *Hub {
	return m.hub
}

// RegisterEventConsumers registers event handlers.
func (m *RealtimeModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageCreatedV1, m.handleMessageCreated, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageCreated consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageUpdatedV1, m.handleMessageUpdated, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageUpdated consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageDeletedV1, m.handleMessageDeleted, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageDeleted consumer: %w", err)
	}

	log.Println("[realtime] Registered event consumers: MessageCreated, MessageUpdated, MessageDeleted")
	return nil
}

// Event handlers

func (m *RealtimeModule) handleMessageCreated(_ context.Context, event events.MessageCreatedEvent, _ *mono.Msg) error {
	return m.publishMessage(EventCreate, event.Message)
}

func (m *RealtimeModule) handleMessageUpdated(_ context.Context, event events.MessageUpdatedEvent, _ *mono.Msg) error {
	return m.publishMessage(EventUpdate, event.Message)
}

func (m *RealtimeModule) publishMessage(kind string, msg domain.Message) error {
	record, err := MessageRecord(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
	}

	m.logger.Debug("Publishing message change", "event", kind, "messageID", msg.ID)
	m.hub.Publish(Change{
		Collection: MessagesCollection,
		Event:      kind,
		Key:        msg.ID,
		Record:     record,
	})
	return nil
}

func (m *RealtimeModule) handleMessageDeleted(_ context.Context, event events.MessageDeletedEvent, _ *mono.Msg) error {
	m.logger.Debug("Publishing message change", "event", EventDelete, "messageID", event.MessageID)
	m.hub.Publish(Change{
		Collection: MessagesCollection,
		Event:      EventDelete,
		Key:        event.MessageID,
	})
	return nil
}
