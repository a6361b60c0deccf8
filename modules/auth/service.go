package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	domain "github.com/example/team-chat/domain/chat"
	"github.com/google/uuid"
)

var (
	// ErrInvalidCredentials is returned when login credentials are invalid.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidEmail is returned when email format is invalid.
	ErrInvalidEmail = errors.New("invalid email format")
	// ErrWeakPassword is returned when password is too weak.
	ErrWeakPassword = errors.New("password must be at least 8 characters")
	// ErrPasswordTooLong is returned when password exceeds bcrypt's 72-byte limit.
	ErrPasswordTooLong = errors.New("password must be at most 72 characters")
	// ErrFirstNameRequired is returned when a user is created without a first name.
	ErrFirstNameRequired = errors.New("first name is required")
	// ErrTokenRevoked is returned when a refresh token was logged out or already rotated.
	ErrTokenRevoked = errors.New("token has been revoked")
)

// CreateUserInput holds the fields of a new user.
type CreateUserInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// AuthService handles authentication business logic.
type AuthService struct {
	repo    *UserRepository
	hasher  *PasswordHasher
	tokens  *TokenIssuer
	revoked RevocationStore
}

// NewAuthService creates a new AuthService.
func NewAuthService(repo *UserRepository, hasher *PasswordHasher, tokens *TokenIssuer, revoked RevocationStore) *AuthService {
	return &AuthService{
		repo:    repo,
		hasher:  hasher,
		tokens:  tokens,
		revoked: revoked,
	}
}

// CreateUser validates the input and stores a new user.
func (s *AuthService) CreateUser(_ context.Context, in CreateUserInput) (*domain.User, error) {
	if strings.TrimSpace(in.FirstName) == "" {
		return nil, ErrFirstNameRequired
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(in.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if len(in.Password) > 72 {
		return nil, ErrPasswordTooLong
	}

	exists, err := s.repo.EmailExists(in.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email existence: %w", err)
	}
	if exists {
		return nil, ErrUserExists
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        in.Email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// EnsureUser creates the user unless one with the same email already exists.
// It reports whether a user was created.
func (s *AuthService) EnsureUser(ctx context.Context, in CreateUserInput) (bool, error) {
	exists, err := s.repo.EmailExists(in.Email)
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	if exists {
		return false, nil
	}
	if _, err := s.CreateUser(ctx, in); err != nil {
		return false, err
	}
	return true, nil
}

// Login authenticates a user and returns tokens.
func (s *AuthService) Login(_ context.Context, email, password string) (*domain.TokenPair, error) {
	user, err := s.repo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

// RefreshTokens rotates a refresh token: the presented token is revoked and
// a new pair is issued.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	session, err := s.checkRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.FindByID(session.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if err := s.revoked.Revoke(ctx, session.TokenID, session.Expires); err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return s.issue(user)
}

// Logout revokes the refresh token so it cannot be used again.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	session, err := s.checkRefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}
	if err := s.revoked.Revoke(ctx, session.TokenID, session.Expires); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

func (s *AuthService) checkRefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	session, err := s.tokens.Verify(refreshToken, KindRefresh)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	revoked, err := s.revoked.IsRevoked(ctx, session.TokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to check revocation: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return session, nil
}

// ValidateToken validates an access token and returns claims.
func (s *AuthService) ValidateToken(_ context.Context, token string) (*domain.Claims, error) {
	session, err := s.tokens.Verify(token, KindAccess)
	if err != nil {
		return nil, err
	}
	return &session.Claims, nil
}

// GetUser retrieves a user by ID.
func (s *AuthService) GetUser(_ context.Context, userID string) (*domain.User, error) {
	return s.repo.FindByID(userID)
}

// ListUsers returns the users with the given IDs, or a page of all users
// when ids is empty.
func (s *AuthService) ListUsers(_ context.Context, ids []string, limit, offset int) ([]domain.User, error) {
	if len(ids) > 0 {
		return s.repo.FindByIDs(ids)
	}
	return s.repo.List(limit, offset)
}

func (s *AuthService) issue(user *domain.User) (*domain.TokenPair, error) {
	pair, err := s.tokens.Pair(domain.Claims{UserID: user.ID, Email: user.Email})
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}
	return pair, nil
}
