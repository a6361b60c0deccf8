package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/example/team-chat/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config configures the auth module.
type Config struct {
	DBPath     string
	JWT        JWTConfig
	BcryptCost int
	// RedisAddr selects the Redis revocation store; empty keeps revocations in memory.
	RedisAddr string
	// Admin is created on start when its email is set and unknown.
	Admin CreateUserInput
}

// AuthModule provides authentication services.
type AuthModule struct {
	config  Config
	db      *gorm.DB
	redis   *redis.Client
	service *AuthService
	logger  types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*AuthModule)(nil)
var _ mono.ServiceProviderModule = (*AuthModule)(nil)
var _ mono.HealthCheckableModule = (*AuthModule)(nil)

// NewModule creates a new AuthModule.
func NewModule(config Config, logger types.Logger) *AuthModule {
	if config.DBPath == "" {
		config.DBPath = "team_chat.db"
	}
	if config.JWT.SecretKey == "" {
		config.JWT = DefaultJWTConfig()
	}
	return &AuthModule{
		config: config,
		logger: logger.WithModule("auth"),
	}
}

// Name returns the module name.
func (m *AuthModule) Name() string {
	return "auth"
}

// Start opens the user database and builds the service.
func (m *AuthModule) Start(ctx context.Context) error {
	db, err := gorm.Open(sqlite.Open(m.config.DBPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	m.db = db

	if err := db.AutoMigrate(&domain.User{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	revoked, err := m.revocationStore(ctx)
	if err != nil {
		return err
	}

	m.service = NewAuthService(
		NewUserRepository(db),
		NewPasswordHasher(m.config.BcryptCost),
		NewTokenIssuer(m.config.JWT),
		revoked,
	)

	if m.config.Admin.Email != "" {
		created, err := m.service.EnsureUser(ctx, m.config.Admin)
		if err != nil {
			return fmt.Errorf("failed to bootstrap admin user: %w", err)
		}
		if created {
			m.logger.Info("Bootstrapped admin user", "email", m.config.Admin.Email)
		}
	}

	m.logger.Info("Auth module started", "database", m.config.DBPath)
	return nil
}

func (m *AuthModule) revocationStore(ctx context.Context) (RevocationStore, error) {
	if m.config.RedisAddr == "" {
		return NewMemoryRevocationStore(), nil
	}

	m.redis = redis.NewClient(&redis.Options{
		Addr: m.config.RedisAddr,
	})
	if err := m.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", m.config.RedisAddr, err)
	}
	m.logger.Info("Using Redis revocation store", "addr", m.config.RedisAddr)
	return NewRedisRevocationStore(m.redis, ""), nil
}

// Stop shuts down the module.
func (m *AuthModule) Stop(_ context.Context) error {
	if m.db != nil {
		if sqlDB, err := m.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if m.redis != nil {
		m.redis.Close()
	}
	m.logger.Info("Auth module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *AuthModule) Health(ctx context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "database not initialized",
		}
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("failed to get database connection: %v", err),
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}

	details := map[string]any{
		"database":   m.config.DBPath,
		"revocation": "memory",
	}
	if m.redis != nil {
		details["revocation"] = "redis"
		if err := m.redis.Ping(ctx).Err(); err != nil {
			return mono.HealthStatus{
				Healthy: false,
				Message: fmt.Sprintf("redis ping failed: %v", err),
				Details: details,
			}
		}
	}

	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: details,
	}
}

// Service returns the underlying service. It is nil before Start.
func (m *AuthModule) Service() *AuthService {
	return m.service
}

// RegisterServices registers request-reply services in the service container.
func (m *AuthModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, "login", json.Unmarshal, json.Marshal, m.handleLogin,
	); err != nil {
		return fmt.Errorf("failed to register login service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, "refresh-token", json.Unmarshal, json.Marshal, m.handleRefresh,
	); err != nil {
		return fmt.Errorf("failed to register refresh-token service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, "logout", json.Unmarshal, json.Marshal, m.handleLogout,
	); err != nil {
		return fmt.Errorf("failed to register logout service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, "validate-token", json.Unmarshal, json.Marshal, m.handleValidateToken,
	); err != nil {
		return fmt.Errorf("failed to register validate-token service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, "get-user", json.Unmarshal, json.Marshal, m.handleGetUser,
	); err != nil {
		return fmt.Errorf("failed to register get-user service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, "list-users", json.Unmarshal, json.Marshal, m.handleListUsers,
	); err != nil {
		return fmt.Errorf("failed to register list-users service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, "create-user", json.Unmarshal, json.Marshal, m.handleCreateUser,
	); err != nil {
		return fmt.Errorf("failed to register create-user service: %w", err)
	}

	m.logger.Info("Registered services",
		"services", "login, refresh-token, logout, validate-token, get-user, list-users, create-user")
	return nil
}

func (m *AuthModule) handleLogin(ctx context.Context, req LoginRequest, _ *mono.Msg) (TokenResponse, error) {
	tokens, err := m.service.Login(ctx, req.Email, req.Password)
	if err != nil {
		return TokenResponse{}, err
	}
	return tokenResponse(tokens), nil
}

func (m *AuthModule) handleRefresh(ctx context.Context, req RefreshRequest, _ *mono.Msg) (TokenResponse, error) {
	tokens, err := m.service.RefreshTokens(ctx, req.RefreshToken)
	if err != nil {
		return TokenResponse{}, err
	}
	return tokenResponse(tokens), nil
}

func (m *AuthModule) handleLogout(ctx context.Context, req RefreshRequest, _ *mono.Msg) (LogoutResponse, error) {
	if err := m.service.Logout(ctx, req.RefreshToken); err != nil {
		return LogoutResponse{}, err
	}
	return LogoutResponse{OK: true}, nil
}

func (m *AuthModule) handleValidateToken(ctx context.Context, req ValidateTokenRequest, _ *mono.Msg) (ValidateTokenResponse, error) {
	claims, err := m.service.ValidateToken(ctx, req.Token)
	if err != nil {
		errMsg := ErrInvalidToken.Error()
		if errors.Is(err, ErrExpiredToken) {
			errMsg = ErrExpiredToken.Error()
		}
		return ValidateTokenResponse{
			Valid: false,
			Error: errMsg,
		}, nil // validation failures are a response, not an error
	}

	return ValidateTokenResponse{
		Valid:  true,
		UserID: claims.UserID,
		Email:  claims.Email,
	}, nil
}

func (m *AuthModule) handleGetUser(ctx context.Context, req GetUserRequest, _ *mono.Msg) (GetUserResponse, error) {
	user, err := m.service.GetUser(ctx, req.UserID)
	if err != nil {
		return GetUserResponse{}, err
	}
	return GetUserResponse{User: *user}, nil
}

func (m *AuthModule) handleListUsers(ctx context.Context, req ListUsersRequest, _ *mono.Msg) (ListUsersResponse, error) {
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	users, err := m.service.ListUsers(ctx, req.IDs, limit, req.Offset)
	if err != nil {
		return ListUsersResponse{}, err
	}
	return ListUsersResponse{Users: users}, nil
}

func (m *AuthModule) handleCreateUser(ctx context.Context, req CreateUserRequest, _ *mono.Msg) (CreateUserResponse, error) {
	user, err := m.service.CreateUser(ctx, CreateUserInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return CreateUserResponse{}, err
	}
	m.logger.Info("User created", "userID", user.ID)
	return CreateUserResponse{User: *user}, nil
}

func tokenResponse(tokens *domain.TokenPair) TokenResponse {
	return TokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Expires:      tokens.Expires,
	}
}
