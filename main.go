package main

import (
	"context"
	"log"
	"os"

	"github.com/example/team-chat/modules/api"
	"github.com/example/team-chat/modules/auth"
	"github.com/example/team-chat/modules/messages"
	"github.com/example/team-chat/modules/realtime"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
)

func main() {
	log.Println("=== Team Chat Backend ===")

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(cfg.ShutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	logger := app.Logger()

	authModule := auth.NewModule(cfg.authConfig(), logger)
	messagesModule := messages.NewModule(cfg.DBPath, logger)
	realtimeModule := realtime.NewModule(realtime.DefaultSessionConfig(), logger)
	apiModule := api.NewModule(cfg.apiConfig(), logger)
	apiModule.SetRealtime(realtimeModule)

	// Order: independent modules first, then dependent modules
	app.Register(authModule)
	app.Register(messagesModule)
	app.Register(realtimeModule)
	app.Register(apiModule)

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg)

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(cfg Config) {
	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", cfg.Port)
	log.Println("")
	log.Println("  Public Endpoints:")
	log.Println("  POST   /auth/login            - Login and get tokens")
	log.Println("  POST   /auth/refresh          - Refresh access token")
	log.Println("  POST   /auth/logout           - Revoke a refresh token")
	log.Println("  GET    /server/health         - Health check")
	log.Println("")
	log.Println("  Protected Endpoints (require Bearer token):")
	log.Println("  GET    /users/me              - Current user")
	log.Println("  GET    /users                 - List users (filter by id)")
	log.Println("  POST   /users                 - Create a user")
	log.Println("  GET    /items/messages        - Query messages")
	log.Println("  POST   /items/messages        - Send a message")
	log.Println("  PATCH  /items/messages/:id    - Edit own message")
	log.Println("  DELETE /items/messages/:id    - Delete own message")
	log.Println("")
	log.Printf("WebSocket: ws://localhost:%s/websocket", cfg.Port)
	if cfg.AdminEmail != "" {
		log.Printf("Admin account: %s", cfg.AdminEmail)
	}
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
