// Package client is a Go binding for the team chat backend: REST reads and
// writes over typed collections, token-based sessions, and realtime
// subscriptions over WebSocket.
package client

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTimeout bounds every HTTP request.
	DefaultTimeout = 30 * time.Second
	// DefaultReadTries is the number of attempts for idempotent reads.
	DefaultReadTries = 3
	// refreshLeeway renews tokens this long before they expire.
	refreshLeeway = 10 * time.Second
)

// Client talks to one backend origin. It is safe for concurrent use.
type Client struct {
	origin    string
	base      *url.URL
	baseErr   error
	http      *http.Client
	logger    *slog.Logger
	store     SessionStore
	realtime  RealtimeConfig
	readTries uint
	now       func() time.Time

	mu      sync.RWMutex
	session *Session
	refresh singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout is kept unless
// WithTimeout is also given.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		clone := *c.http
		clone.Timeout = d
		c.http = &clone
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSessionStore persists sessions across runs.
func WithSessionStore(s SessionStore) Option {
	return func(c *Client) {
		if s != nil {
			c.store = s
		}
	}
}

// WithRealtime configures subscriptions.
func WithRealtime(cfg RealtimeConfig) Option {
	return func(c *Client) {
		c.realtime = cfg.withDefaults()
	}
}

// WithRetry sets the number of attempts for idempotent reads.
func WithRetry(maxTries uint) Option {
	return func(c *Client) {
		if maxTries > 0 {
			c.readTries = maxTries
		}
	}
}

// New creates a client for origin. It performs no I/O; an invalid origin
// surfaces as a NetworkError on first use.
func New(origin string, opts ...Option) *Client {
	origin = strings.TrimRight(origin, "/")
	c := &Client{
		origin:    origin,
		http:      &http.Client{Timeout: DefaultTimeout},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		store:     NewMemoryStore(),
		realtime:  DefaultRealtimeConfig(),
		readTries: DefaultReadTries,
		now:       time.Now,
	}
	c.base, c.baseErr = url.Parse(origin)
	if c.baseErr == nil && (c.base.Scheme == "" || c.base.Host == "") {
		c.baseErr = &url.Error{Op: "parse", URL: origin, Err: errInvalidOrigin}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Origin returns the backend origin.
func (c *Client) Origin() string {
	return c.origin
}

func (c *Client) endpoint(path string, params url.Values) (string, error) {
	if c.baseErr != nil {
		return "", &NetworkError{Op: "resolve", URL: c.origin, Err: c.baseErr}
	}
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String(), nil
}
