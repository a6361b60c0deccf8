package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	domain "github.com/example/team-chat/domain/chat"
)

var (
	// ErrInvalidToken is returned when the token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

// TokenKind tells access tokens and refresh tokens apart. A token of one
// kind is never accepted as the other.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	SecretKey            string
	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration
	Issuer               string
}

// DefaultJWTConfig returns a development configuration. Deployments set
// JWT_SECRET_KEY.
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		SecretKey:            "team-chat-secret-change-in-production",
		AccessTokenDuration:  15 * time.Minute,
		RefreshTokenDuration: 7 * 24 * time.Hour,
		Issuer:               "team-chat",
	}
}

// sessionToken is the signed payload: the session's domain claims, its kind
// and the registered fields. The jti makes every refresh token revocable
// on its own.
type sessionToken struct {
	domain.Claims
	Kind TokenKind `json:"token_type"`
	jwt.RegisteredClaims
}

// Session is a verified token.
type Session struct {
	domain.Claims
	Kind TokenKind
	// TokenID is the jti, the key under which the token is revoked.
	TokenID string
	Expires time.Time
}

// TokenIssuer signs session tokens with HS256 and verifies them.
type TokenIssuer struct {
	cfg    JWTConfig
	key    []byte
	parser *jwt.Parser
}

// NewTokenIssuer creates a TokenIssuer for cfg.
func NewTokenIssuer(cfg JWTConfig) *TokenIssuer {
	return &TokenIssuer{
		cfg: cfg,
		key: []byte(cfg.SecretKey),
		parser: jwt.NewParser(
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		),
	}
}

func (t *TokenIssuer) lifetime(kind TokenKind) time.Duration {
	if kind == KindRefresh {
		return t.cfg.RefreshTokenDuration
	}
	return t.cfg.AccessTokenDuration
}

// Issue signs a token of the given kind for claims.
func (t *TokenIssuer) Issue(claims domain.Claims, kind TokenKind) (string, error) {
	now := time.Now()
	payload := sessionToken{
		Claims: claims,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    t.cfg.Issuer,
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.lifetime(kind))),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(t.key)
}

// Pair issues the access and refresh tokens of a new session.
func (t *TokenIssuer) Pair(claims domain.Claims) (*domain.TokenPair, error) {
	access, err := t.Issue(claims, KindAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := t.Issue(claims, KindRefresh)
	if err != nil {
		return nil, err
	}
	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		Expires:      t.cfg.AccessTokenDuration.Milliseconds(),
	}, nil
}

// Verify checks the signature, issuer, lifetime and kind of token.
func (t *TokenIssuer) Verify(token string, kind TokenKind) (*Session, error) {
	var payload sessionToken
	_, err := t.parser.ParseWithClaims(token, &payload, func(*jwt.Token) (any, error) {
		return t.key, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, ErrInvalidToken
	case payload.Kind != kind:
		return nil, ErrInvalidToken
	}

	s := &Session{Claims: payload.Claims, Kind: payload.Kind, TokenID: payload.ID}
	if payload.ExpiresAt != nil {
		s.Expires = payload.ExpiresAt.Time
	}
	return s, nil
}

// AccessTokenDuration returns the access token lifetime.
func (t *TokenIssuer) AccessTokenDuration() time.Duration {
	return t.cfg.AccessTokenDuration
}
