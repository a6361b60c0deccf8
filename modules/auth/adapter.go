package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	domain "github.com/example/team-chat/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// AuthPort defines the interface for authentication operations.
// This is the port that other modules use to access auth functionality.
type AuthPort interface {
	Login(ctx context.Context, email, password string) (*domain.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	ValidateToken(ctx context.Context, token string) (*domain.Claims, error)
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	ListUsers(ctx context.Context, ids []string, limit, offset int) ([]domain.User, error)
	CreateUser(ctx context.Context, req CreateUserRequest) (*domain.User, error)
}

// AuthAdapter implements AuthPort using the service container.
type AuthAdapter struct {
	container mono.ServiceContainer
}

var _ AuthPort = (*AuthAdapter)(nil)

// NewAuthAdapter creates a new AuthAdapter.
func NewAuthAdapter(container mono.ServiceContainer) *AuthAdapter {
	return &AuthAdapter{
		container: container,
	}
}

// Login exchanges credentials for a token pair.
func (a *AuthAdapter) Login(ctx context.Context, email, password string) (*domain.TokenPair, error) {
	req := LoginRequest{Email: email, Password: password}
	var resp TokenResponse
	if err := call(ctx, a.container, "login", &req, &resp); err != nil {
		return nil, err
	}
	return &domain.TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		Expires:      resp.Expires,
	}, nil
}

// Refresh rotates a refresh token.
func (a *AuthAdapter) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	req := RefreshRequest{RefreshToken: refreshToken}
	var resp TokenResponse
	if err := call(ctx, a.container, "refresh-token", &req, &resp); err != nil {
		return nil, err
	}
	return &domain.TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		Expires:      resp.Expires,
	}, nil
}

// Logout revokes a refresh token.
func (a *AuthAdapter) Logout(ctx context.Context, refreshToken string) error {
	req := RefreshRequest{RefreshToken: refreshToken}
	var resp LogoutResponse
	return call(ctx, a.container, "logout", &req, &resp)
}

// ValidateToken validates an access token and returns claims.
func (a *AuthAdapter) ValidateToken(ctx context.Context, token string) (*domain.Claims, error) {
	req := ValidateTokenRequest{Token: token}
	var resp ValidateTokenResponse
	if err := call(ctx, a.container, "validate-token", &req, &resp); err != nil {
		return nil, err
	}

	if !resp.Valid {
		if resp.Error == ErrExpiredToken.Error() {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	return &domain.Claims{
		UserID: resp.UserID,
		Email:  resp.Email,
	}, nil
}

// GetUser retrieves a user by ID.
func (a *AuthAdapter) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	req := GetUserRequest{UserID: userID}
	var resp GetUserResponse
	if err := call(ctx, a.container, "get-user", &req, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// ListUsers retrieves users by ID, or a page of all users.
func (a *AuthAdapter) ListUsers(ctx context.Context, ids []string, limit, offset int) ([]domain.User, error) {
	req := ListUsersRequest{IDs: ids, Limit: limit, Offset: offset}
	var resp ListUsersResponse
	if err := call(ctx, a.container, "list-users", &req, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// CreateUser creates a user.
func (a *AuthAdapter) CreateUser(ctx context.Context, req CreateUserRequest) (*domain.User, error) {
	var resp CreateUserResponse
	if err := call(ctx, a.container, "create-user", &req, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
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

// knownErrors are matched by message because errors cross the service
// boundary as text.
var knownErrors = []error{
	ErrInvalidCredentials,
	ErrInvalidEmail,
	ErrWeakPassword,
	ErrPasswordTooLong,
	ErrFirstNameRequired,
	ErrTokenRevoked,
	ErrUserExists,
	ErrUserNotFound,
	ErrExpiredToken,
	ErrInvalidToken,
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
