package auth

import (
	"context"
	"errors"
	"testing"

	domain "github.com/example/team-chat/domain/chat"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// every pooled connection would otherwise get its own empty database
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&domain.User{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

func newTestService(t *testing.T) (*AuthService, *MemoryRevocationStore) {
	t.Helper()
	revoked := NewMemoryRevocationStore()
	svc := NewAuthService(
		NewUserRepository(setupTestDB(t)),
		NewPasswordHasher(bcrypt.MinCost),
		NewTokenIssuer(testJWTConfig()),
		revoked,
	)
	return svc, revoked
}

func validUser() CreateUserInput {
	return CreateUserInput{
		Email:     "ada@example.com",
		Password:  "correct-horse",
		FirstName: "Ada",
		LastName:  "Lovelace",
	}
}

func TestAuthService_CreateUser(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(in *CreateUserInput)
		wantErr error
	}{
		{name: "valid user", mutate: func(in *CreateUserInput) {}},
		{name: "missing first name", mutate: func(in *CreateUserInput) { in.FirstName = "  " }, wantErr: ErrFirstNameRequired},
		{name: "invalid email", mutate: func(in *CreateUserInput) { in.Email = "not-an-email" }, wantErr: ErrInvalidEmail},
		{name: "short password", mutate: func(in *CreateUserInput) { in.Password = "short" }, wantErr: ErrWeakPassword},
		{
			name:    "password too long",
			mutate:  func(in *CreateUserInput) { in.Password = string(make([]byte, 73)) },
			wantErr: ErrPasswordTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			in := validUser()
			tt.mutate(&in)

			user, err := svc.CreateUser(ctx, in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("CreateUser() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateUser() unexpected error: %v", err)
			}
			if user.ID == "" {
				t.Error("CreateUser() user.ID should not be empty")
			}
			if user.PasswordHash == in.Password {
				t.Error("CreateUser() stored the plain password")
			}
		})
	}
}

func TestAuthService_CreateUser_Duplicate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, err := svc.CreateUser(ctx, validUser()); err != nil {
		t.Fatalf("CreateUser() unexpected error: %v", err)
	}
	if _, err := svc.CreateUser(ctx, validUser()); !errors.Is(err, ErrUserExists) {
		t.Errorf("CreateUser() error = %v, want %v", err, ErrUserExists)
	}

	created, err := svc.EnsureUser(ctx, validUser())
	if err != nil {
		t.Fatalf("EnsureUser() unexpected error: %v", err)
	}
	if created {
		t.Error("EnsureUser() = true for an existing email")
	}
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	user, err := svc.CreateUser(ctx, validUser())
	if err != nil {
		t.Fatalf("CreateUser() unexpected error: %v", err)
	}

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{name: "valid credentials", email: "ada@example.com", password: "correct-horse"},
		{name: "wrong password", email: "ada@example.com", password: "wrong-horse", wantErr: ErrInvalidCredentials},
		{name: "unknown email", email: "bob@example.com", password: "correct-horse", wantErr: ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := svc.Login(ctx, tt.email, tt.password)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Login() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Login() unexpected error: %v", err)
			}
			if tokens.Expires != testJWTConfig().AccessTokenDuration.Milliseconds() {
				t.Errorf("Login() Expires = %d, want %d", tokens.Expires, testJWTConfig().AccessTokenDuration.Milliseconds())
			}

			claims, err := svc.ValidateToken(ctx, tokens.AccessToken)
			if err != nil {
				t.Fatalf("ValidateToken() unexpected error: %v", err)
			}
			if claims.UserID != user.ID {
				t.Errorf("claims.UserID = %v, want %v", claims.UserID, user.ID)
			}
		})
	}
}

func TestAuthService_RefreshRotatesToken(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	if _, err := svc.CreateUser(ctx, validUser()); err != nil {
		t.Fatalf("CreateUser() unexpected error: %v", err)
	}
	tokens, err := svc.Login(ctx, "ada@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login() unexpected error: %v", err)
	}

	rotated, err := svc.RefreshTokens(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshTokens() unexpected error: %v", err)
	}
	if rotated.RefreshToken == tokens.RefreshToken {
		t.Error("RefreshTokens() returned the same refresh token")
	}

	if _, err := svc.RefreshTokens(ctx, tokens.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("reusing rotated token error = %v, want %v", err, ErrTokenRevoked)
	}
	if _, err := svc.RefreshTokens(ctx, rotated.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("refreshing with access token error = %v, want %v", err, ErrInvalidToken)
	}
}

func TestAuthService_Logout(t *testing.T) {
	ctx := context.Background()
	svc, revoked := newTestService(t)
	if _, err := svc.CreateUser(ctx, validUser()); err != nil {
		t.Fatalf("CreateUser() unexpected error: %v", err)
	}
	tokens, err := svc.Login(ctx, "ada@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login() unexpected error: %v", err)
	}

	if err := svc.Logout(ctx, tokens.RefreshToken); err != nil {
		t.Fatalf("Logout() unexpected error: %v", err)
	}
	if revoked.Len() != 1 {
		t.Errorf("revocations = %d, want 1", revoked.Len())
	}

	if _, err := svc.RefreshTokens(ctx, tokens.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("RefreshTokens() after logout error = %v, want %v", err, ErrTokenRevoked)
	}
	if err := svc.Logout(ctx, tokens.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("second Logout() error = %v, want %v", err, ErrTokenRevoked)
	}
}

func TestAuthService_ListUsers(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	ada, _ := svc.CreateUser(ctx, validUser())
	bob, _ := svc.CreateUser(ctx, CreateUserInput{
		Email: "bob@example.com", Password: "password123", FirstName: "Bob",
	})
	if ada == nil || bob == nil {
		t.Fatal("failed to create users")
	}

	all, err := svc.ListUsers(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("ListUsers() unexpected error: %v", err)
	}
	if len(all) != 2 || all[0].FirstName != "Ada" || all[1].FirstName != "Bob" {
		t.Errorf("ListUsers() = %+v, want Ada then Bob", all)
	}

	byID, err := svc.ListUsers(ctx, []string{bob.ID, "missing"}, 10, 0)
	if err != nil {
		t.Fatalf("ListUsers(ids) unexpected error: %v", err)
	}
	if len(byID) != 1 || byID[0].ID != bob.ID {
		t.Errorf("ListUsers(ids) = %+v, want only Bob", byID)
	}

	if _, err := svc.GetUser(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetUser() error = %v, want %v", err, ErrUserNotFound)
	}
}
