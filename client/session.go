package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is an authenticated session.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expires      time.Time `json:"expires"`
}

// Refreshable reports whether the session can be renewed.
func (s Session) Refreshable() bool {
	return s.RefreshToken != ""
}

func (s Session) expiresWithin(now time.Time, d time.Duration) bool {
	return !s.Expires.IsZero() && !now.Add(d).Before(s.Expires)
}

// SessionStore persists a session between runs.
type SessionStore interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the session in memory.
type MemoryStore struct {
	mu      sync.Mutex
	session *Session
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	m.session = &s
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	return nil
}

// FileStore keeps the session in a JSON file readable only by its owner.
type FileStore struct {
	Path string
}

// NewFileStore creates a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) Load(_ context.Context) (*Session, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return &s, nil
}

func (f *FileStore) Save(_ context.Context, s Session) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return os.Rename(tmp, f.Path)
}

func (f *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

type tokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Expires      int64  `json:"expires"`
}

// Login authenticates with email and password and stores the session.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	data, err := c.call(ctx, request{
		method: "POST",
		path:   "/auth/login",
		body:   map[string]string{"email": email, "password": password},
	})
	if err != nil {
		return Session{}, asAuthError(err)
	}
	s, err := c.sessionFrom(data)
	if err != nil {
		return Session{}, err
	}
	if err := c.setSession(ctx, s); err != nil {
		return Session{}, err
	}
	c.logger.Info("logged in", "email", email)
	return s, nil
}

// Refresh renews the session with its refresh token. Concurrent callers
// share one request.
func (c *Client) Refresh(ctx context.Context) (Session, error) {
	return c.renew(ctx, "")
}

// renew refreshes the session unless the access token already moved on from
// stale. An empty stale always refreshes.
func (c *Client) renew(ctx context.Context, stale string) (Session, error) {
	v, err, shared := c.refresh.Do("refresh", func() (any, error) {
		if current, ok := c.Session(); ok && stale != "" && current.AccessToken != stale {
			return current, nil
		}
		return c.doRefresh(ctx)
	})
	if err != nil {
		return Session{}, err
	}
	if shared {
		c.logger.Debug("joined in-flight token refresh")
	}
	return v.(Session), nil
}

func (c *Client) doRefresh(ctx context.Context) (Session, error) {
	current, ok := c.Session()
	if !ok {
		return Session{}, unauthenticated()
	}
	if !current.Refreshable() {
		return Session{}, &AuthError{Code: "TOKEN_EXPIRED", Message: "session has no refresh token"}
	}

	data, err := c.call(ctx, request{
		method: "POST",
		path:   "/auth/refresh",
		body:   map[string]string{"refresh_token": current.RefreshToken},
	})
	if err != nil {
		if isUnauthorized(err) {
			c.dropSession(ctx)
		}
		return Session{}, asAuthError(err)
	}
	s, err := c.sessionFrom(data)
	if err != nil {
		return Session{}, err
	}
	if err := c.setSession(ctx, s); err != nil {
		return Session{}, err
	}
	c.logger.Debug("token refreshed", "expires", s.Expires)
	return s, nil
}

// Logout revokes the refresh token and forgets the session. The local
// session is dropped even when the backend call fails.
func (c *Client) Logout(ctx context.Context) error {
	current, ok := c.Session()
	if !ok {
		return nil
	}
	defer c.dropSession(ctx)
	if !current.Refreshable() {
		return nil
	}
	_, err := c.call(ctx, request{
		method: "POST",
		path:   "/auth/logout",
		body:   map[string]string{"refresh_token": current.RefreshToken},
	})
	return err
}

// SetToken uses a bare access token. Its expiry is read from the token's exp
// claim without verifying the signature.
func (c *Client) SetToken(access string) error {
	s := Session{AccessToken: access}
	exp, err := tokenExpiry(access)
	if err != nil {
		return &AuthError{Code: "INVALID_TOKEN", Message: "malformed access token", Err: err}
	}
	s.Expires = exp
	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()
	return nil
}

// ResumeSession loads the stored session, refreshing it when expired.
func (c *Client) ResumeSession(ctx context.Context) (Session, error) {
	stored, err := c.store.Load(ctx)
	if err != nil {
		return Session{}, err
	}
	if stored == nil || stored.AccessToken == "" {
		return Session{}, unauthenticated()
	}

	c.mu.Lock()
	c.session = stored
	c.mu.Unlock()

	if stored.expiresWithin(c.now(), refreshLeeway) {
		return c.Refresh(ctx)
	}
	return *stored, nil
}

// Session returns the current session.
func (c *Client) Session() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Me returns the authenticated user.
func Me[T any](ctx context.Context, c *Client) (T, error) {
	var out T
	data, err := c.read(ctx, request{method: "GET", path: "/users/me", protected: true})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode current user: %w", err)
	}
	return out, nil
}

// accessToken returns a token that is valid for at least refreshLeeway,
// refreshing it first when needed.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	s, ok := c.Session()
	if !ok {
		return "", unauthenticated()
	}
	if s.Refreshable() && s.expiresWithin(c.now(), refreshLeeway) {
		renewed, err := c.renew(ctx, s.AccessToken)
		if err != nil {
			return "", err
		}
		return renewed.AccessToken, nil
	}
	return s.AccessToken, nil
}

func (c *Client) canRefresh() bool {
	s, ok := c.Session()
	return ok && s.Refreshable()
}

func (c *Client) sessionFrom(data json.RawMessage) (Session, error) {
	var p tokenPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Session{}, fmt.Errorf("decode tokens: %w", err)
	}
	if p.AccessToken == "" {
		return Session{}, &AuthError{Code: "INVALID_TOKEN", Message: "backend returned no access token"}
	}
	s := Session{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}
	if p.Expires > 0 {
		s.Expires = c.now().Add(time.Duration(p.Expires) * time.Millisecond)
	} else if exp, err := tokenExpiry(p.AccessToken); err == nil {
		s.Expires = exp
	}
	return s, nil
}

func (c *Client) setSession(ctx context.Context, s Session) error {
	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()
	if err := c.store.Save(ctx, s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (c *Client) dropSession(ctx context.Context) {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Warn("failed to clear stored session", "error", err)
	}
}

func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}
