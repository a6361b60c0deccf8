package auth

import (
	domain "github.com/example/team-chat/domain/chat"
)

// LoginRequest represents a user login request.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a freshly issued token pair.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Expires      int64  `json:"expires"`
}

// RefreshRequest represents a token refresh or logout request.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutResponse acknowledges a logout.
type LogoutResponse struct {
	OK bool `json:"ok"`
}

// ValidateTokenRequest represents a token validation request.
type ValidateTokenRequest struct {
	Token string `json:"token"`
}

// ValidateTokenResponse represents a token validation response.
type ValidateTokenResponse struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	Error  string `json:"error,omitempty"`
}

// GetUserRequest represents a get user request.
type GetUserRequest struct {
	UserID string `json:"user_id"`
}

// GetUserResponse represents a get user response.
type GetUserResponse struct {
	User domain.User `json:"user"`
}

// ListUsersRequest selects users by ID, or pages through all users.
type ListUsersRequest struct {
	IDs    []string `json:"ids,omitempty"`
	Limit  int      `json:"limit,omitempty"`
	Offset int      `json:"offset,omitempty"`
}

// ListUsersResponse represents a list users response.
type ListUsersResponse struct {
	Users []domain.User `json:"users"`
}

// CreateUserRequest represents a create user request.
type CreateUserRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
}

// CreateUserResponse represents a create user response.
type CreateUserResponse struct {
	User domain.User `json:"user"`
}
