package api

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/example/team-chat/domain/chat"
	"github.com/example/team-chat/modules/auth"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

const (
	// UserContextKey is the key used to store user claims in the Fiber context.
	UserContextKey = "user"
)

// TokenValidator is the part of the auth port the middleware needs.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*domain.Claims, error)
}

// AuthMiddleware creates a middleware that validates JWT tokens.
func AuthMiddleware(tokens TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Get Authorization header
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(
				newErrorResponse(CodeInvalidToken, "Authorization header is required"))
		}

		// Check Bearer prefix
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(
				newErrorResponse(CodeInvalidToken, "Invalid authorization header format. Use: Bearer <token>"))
		}

		// Extract token
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(
				newErrorResponse(CodeInvalidToken, "Token is required"))
		}

		// Validate token
		claims, err := tokens.ValidateToken(c.UserContext(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) {
				return c.Status(fiber.StatusUnauthorized).JSON(
					newErrorResponse(CodeTokenExpired, "Token expired"))
			}
			return c.Status(fiber.StatusUnauthorized).JSON(
				newErrorResponse(CodeInvalidToken, "Invalid or expired token"))
		}

		// Store claims in context for use in handlers
		c.Locals(UserContextKey, claims)

		return c.Next()
	}
}

// currentUser returns the claims stored by AuthMiddleware.
func currentUser(c *fiber.Ctx) (*domain.Claims, error) {
	claims, ok := c.Locals(UserContextKey).(*domain.Claims)
	if !ok {
		return nil, unauthorized("User not authenticated")
	}
	return claims, nil
}

// MessageRateLimit limits message writes per authenticated user.
func MessageRateLimit(max int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if claims, err := currentUser(c); err == nil {
				return claims.UserID
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(
				newErrorResponse(CodeRequestsExceeded, "Too many messages, slow down"))
		},
	})
}
