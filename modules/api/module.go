package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/team-chat/modules/auth"
	"github.com/example/team-chat/modules/messages"
	"github.com/example/team-chat/modules/realtime"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Config configures the HTTP server.
type Config struct {
	Port               string
	CORSAllowedOrigins string
	// MessageRateLimit is the number of message writes allowed per user per second.
	MessageRateLimit int
}

// RealtimeServer runs the realtime protocol on upgraded connections.
type RealtimeServer interface {
	Serve(ctx context.Context, conn realtime.Conn) error
	Hub() *realtime.Hub
}

// APIModule is the HTTP API module with WebSocket support.
type APIModule struct {
	app             *fiber.App
	config          Config
	authAdapter     auth.AuthPort
	messagesAdapter messages.MessagesPort
	realtime        RealtimeServer
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*APIModule)(nil)
var _ mono.DependentModule = (*APIModule)(nil)
var _ mono.HealthCheckableModule = (*APIModule)(nil)

// NewModule creates a new APIModule.
func NewModule(config Config, logger types.Logger) *APIModule {
	if config.Port == "" {
		config.Port = "3000"
	}
	if config.MessageRateLimit <= 0 {
		config.MessageRateLimit = 10
	}
	return &APIModule{
		config: config,
		logger: logger.WithModule("api"),
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"auth", "messages"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "auth":
		m.authAdapter = auth.NewAuthAdapter(container)
	case "messages":
		m.messagesAdapter = messages.NewMessagesAdapter(container)
	}
}

// SetRealtime sets the realtime server (called from main.go).
func (m *APIModule) SetRealtime(rt RealtimeServer) {
	m.realtime = rt
}

// Start initializes the Fiber HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if m.authAdapter == nil || m.messagesAdapter == nil {
		return fmt.Errorf("auth and messages dependencies not set")
	}
	if m.realtime == nil {
		return fmt.Errorf("realtime module not set")
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.app = m.newApp()

	// Start server in goroutine with startup error detection
	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(":" + m.config.Port); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	m.logger.Info("HTTP server started", "port", m.config.Port)
	return nil
}

// Stop shuts down the Fiber HTTP server.
func (m *APIModule) Stop(ctx context.Context) error {
	if m.app == nil {
		return nil
	}
	m.logger.Info("Shutting down HTTP server")
	if m.cancel != nil {
		m.cancel()
	}
	return m.app.ShutdownWithContext(ctx)
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	details := map[string]any{"port": m.config.Port}
	if m.realtime != nil {
		details["connected_clients"] = m.realtime.Hub().ClientCount()
	}
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: details,
	}
}

// newApp builds the Fiber application with middleware and routes.
func (m *APIModule) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(corsConfig(m.config.CORSAllowedOrigins)))

	m.setupRoutes(app)
	return app
}

func corsConfig(allowedOrigins string) cors.Config {
	cfg := cors.Config{
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}
	if origins := strings.TrimSpace(allowedOrigins); origins != "" {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes(app *fiber.App) {
	handlers := NewHandlers(m.authAdapter, m.messagesAdapter)
	protected := AuthMiddleware(m.authAdapter)

	app.Get("/server/health", m.healthHandler)

	// WebSocket endpoint
	app.Use("/websocket", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/websocket", websocket.New(m.handleWebSocket))

	// Public auth routes
	authRoutes := app.Group("/auth")
	authRoutes.Post("/login", handlers.Login)
	authRoutes.Post("/refresh", handlers.Refresh)
	authRoutes.Post("/logout", handlers.Logout)

	users := app.Group("/users", protected)
	users.Get("/me", handlers.Me)
	users.Get("/", handlers.ListUsers)
	users.Post("/", handlers.CreateUser)
	users.Get("/:id", handlers.GetUser)

	items := app.Group("/items/messages", protected)
	items.Get("/", handlers.ListMessages)
	items.Post("/", MessageRateLimit(m.config.MessageRateLimit, time.Second), handlers.CreateMessage)
	items.Get("/:id", handlers.GetMessage)
	items.Patch("/:id", handlers.UpdateMessage)
	items.Delete("/:id", handlers.DeleteMessage)
}

// healthHandler handles GET /server/health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	details := map[string]any{"module": "api"}
	if m.realtime != nil {
		details["connected_clients"] = m.realtime.Hub().ClientCount()
	}
	return c.JSON(HealthResponse{
		Status:  "ok",
		Details: details,
	})
}

// handleWebSocket hands an upgraded connection to the realtime module.
func (m *APIModule) handleWebSocket(c *websocket.Conn) {
	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := m.realtime.Serve(ctx, c); err != nil {
		m.logger.Debug("WebSocket session ended", "error", err)
	}
}
