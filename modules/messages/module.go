package messages

import (
	"context"
	"encoding/json"
	"fmt"

	domain "github.com/example/team-chat/domain/chat"
	"github.com/example/team-chat/events"
	"github.com/example/team-chat/modules/auth"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Module owns the messages collection.
type Module struct {
	dbPath   string
	db       *gorm.DB
	service  *Service
	users    auth.AuthPort
	eventBus mono.EventBus
	logger   types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.DependentModule       = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new messages module.
func NewModule(dbPath string, logger types.Logger) *Module {
	if dbPath == "" {
		dbPath = "team_chat.db"
	}
	return &Module{
		dbPath: dbPath,
		logger: logger.WithModule("messages"),
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "messages"
}

// Dependencies returns the list of module dependencies.
func (m *Module) Dependencies() []string {
	return []string{"auth"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "auth":
		m.users = auth.NewAuthAdapter(container)
	}
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MessageCreatedV1.ToBase(),
		events.MessageUpdatedV1.ToBase(),
		events.MessageDeletedV1.ToBase(),
	}
}

// Start opens the database and builds the service.
func (m *Module) Start(_ context.Context) error {
	if m.users == nil {
		return fmt.Errorf("auth dependency not set")
	}
	if m.eventBus == nil {
		return fmt.Errorf("event bus not set")
	}

	db, err := gorm.Open(sqlite.Open(m.dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	m.db = db

	if err := db.AutoMigrate(&domain.Message{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	svc, err := NewService(NewRepository(db), m.users, NewEventBusPublisher(m.eventBus))
	if err != nil {
		return err
	}
	m.service = svc

	m.logger.Info("Messages module started", "database", m.dbPath)
	return nil
}

// Stop closes the database.
func (m *Module) Stop(_ context.Context) error {
	if m.db != nil {
		if sqlDB, err := m.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	m.logger.Info("Messages module stopped")
	return nil
}

// Health reports database reachability.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{Healthy: false, Message: "database not initialized"}
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("failed to get database connection: %v", err)}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("database ping failed: %v", err)}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{"database": m.dbPath},
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, "list-messages", json.Unmarshal, json.Marshal, m.handleList,
	); err != nil {
		return fmt.Errorf("failed to register list-messages service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, "get-message", json.Unmarshal, json.Marshal, m.handleGet,
	); err != nil {
		return fmt.Errorf("failed to register get-message service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, "create-message", json.Unmarshal, json.Marshal, m.handleCreate,
	); err != nil {
		return fmt.Errorf("failed to register create-message service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, "update-message", json.Unmarshal, json.Marshal, m.handleUpdate,
	); err != nil {
		return fmt.Errorf("failed to register update-message service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, "delete-message", json.Unmarshal, json.Marshal, m.handleDelete,
	); err != nil {
		return fmt.Errorf("failed to register delete-message service: %w", err)
	}

	m.logger.Info("Registered services",
		"services", "list-messages, get-message, create-message, update-message, delete-message")
	return nil
}

func (m *Module) handleList(ctx context.Context, req ListMessagesRequest, _ *mono.Msg) (ListMessagesResponse, error) {
	msgs, err := m.service.List(ctx, req.Query)
	if err != nil {
		return ListMessagesResponse{}, err
	}
	return ListMessagesResponse{Messages: msgs}, nil
}

func (m *Module) handleGet(ctx context.Context, req GetMessageRequest, _ *mono.Msg) (MessageResponse, error) {
	msg, err := m.service.Get(ctx, req.ID)
	if err != nil {
		return MessageResponse{}, err
	}
	return MessageResponse{Message: *msg}, nil
}

func (m *Module) handleCreate(ctx context.Context, req CreateMessageRequest, _ *mono.Msg) (MessageResponse, error) {
	msg, err := m.service.Create(ctx, req.AuthorID, req.Text)
	if err != nil {
		return MessageResponse{}, err
	}
	m.logger.Debug("Message created", "messageID", msg.ID, "userID", req.AuthorID)
	return MessageResponse{Message: *msg}, nil
}

func (m *Module) handleUpdate(ctx context.Context, req UpdateMessageRequest, _ *mono.Msg) (MessageResponse, error) {
	msg, err := m.service.Update(ctx, req.ActorID, req.ID, req.Text)
	if err != nil {
		return MessageResponse{}, err
	}
	m.logger.Debug("Message updated", "messageID", msg.ID, "userID", req.ActorID)
	return MessageResponse{Message: *msg}, nil
}

func (m *Module) handleDelete(ctx context.Context, req DeleteMessageRequest, _ *mono.Msg) (DeleteMessageResponse, error) {
	if err := m.service.Delete(ctx, req.ActorID, req.ID); err != nil {
		return DeleteMessageResponse{}, err
	}
	m.logger.Debug("Message deleted", "messageID", req.ID, "userID", req.ActorID)
	return DeleteMessageResponse{ID: req.ID}, nil
}
