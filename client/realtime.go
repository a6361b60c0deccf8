package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/example/team-chat/query"
)

// RealtimeConfig configures subscriptions.
type RealtimeConfig struct {
	// Path of the WebSocket endpoint on the origin.
	Path             string
	HandshakeTimeout time.Duration
	// PingInterval is the server heartbeat; a connection silent for two
	// intervals is considered dropped.
	PingInterval         time.Duration
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	MaxReconnectAttempts int
	// EventBuffer is the capacity of each subscription's event channel.
	EventBuffer int
}

// DefaultRealtimeConfig returns the default subscription settings.
func DefaultRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		Path:                 "/websocket",
		HandshakeTimeout:     10 * time.Second,
		PingInterval:         30 * time.Second,
		InitialBackoff:       500 * time.Millisecond,
		MaxBackoff:           30 * time.Second,
		MaxReconnectAttempts: 10,
		EventBuffer:          64,
	}
}

func (c RealtimeConfig) withDefaults() RealtimeConfig {
	d := DefaultRealtimeConfig()
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}

// EventType is the kind of change an Event reports.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is one change to a subscribed collection. Deleted events carry only
// the Key.
type Event[T any] struct {
	Type   EventType
	Record T
	Key    string
}

// Status is the health of a subscription's connection.
type Status string

const (
	StatusLive         Status = "live"
	StatusReconnecting Status = "reconnecting"
	StatusUnavailable  Status = "unavailable"
)

// SubscribeOptions narrows a subscription.
type SubscribeOptions struct {
	Query query.Query
	// Since replays records created at or after it as created events. When
	// zero, records existing at subscribe time are not replayed.
	Since time.Time
	// UID names the subscription on the wire. Generated when empty.
	UID string
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wireFrame struct {
	Type        string          `json:"type"`
	Status      string          `json:"status,omitempty"`
	AccessToken string          `json:"access_token,omitempty"`
	Collection  string          `json:"collection,omitempty"`
	Query       *query.Query    `json:"query,omitempty"`
	UID         string          `json:"uid,omitempty"`
	Event       string          `json:"event,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Error       *wireError      `json:"error,omitempty"`
}

// catchUpPage is the page size used to replay a backlog after a reconnect.
const catchUpPage = query.MaxLimit

type handshake struct {
	conn *websocket.Conn
	init json.RawMessage
	// seed marks an init holding only the newest record, which sets the
	// watermark without being delivered.
	seed bool
}

// Subscription delivers changes of one collection in the order the server
// sent them, reconnecting after transport failures.
type Subscription[T any] struct {
	c          *Client
	collection string
	opts       SubscribeOptions
	uid        string
	config     RealtimeConfig

	events chan Event[T]
	status chan Status

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	err    error

	writeMu sync.Mutex

	// watermark is the latest date_created seen; seen holds the ids created
	// at that instant or later.
	watermark time.Time
	seen      map[string]time.Time
}

// Subscribe opens a realtime subscription on collection. It returns once
// the server acknowledged the subscription. Cancelling ctx closes it.
func Subscribe[T any](ctx context.Context, c *Client, collection string, opts SubscribeOptions) (*Subscription[T], error) {
	cfg := c.realtime.withDefaults()
	uid := opts.UID
	if uid == "" {
		uid = uuid.NewString()
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		c:          c,
		collection: collection,
		opts:       opts,
		uid:        uid,
		config:     cfg,
		events:     make(chan Event[T], cfg.EventBuffer),
		status:     make(chan Status, 8),
		ctx:        subCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
		seen:       make(map[string]time.Time),
	}

	hs, err := s.connect(false)
	if err != nil {
		cancel()
		return nil, err
	}

	go s.run(hs)
	return s, nil
}

// Events returns the change channel. It is closed when the subscription ends.
func (s *Subscription[T]) Events() <-chan Event[T] {
	return s.events
}

// Status reports connection state transitions.
func (s *Subscription[T]) Status() <-chan Status {
	return s.status
}

// UID returns the subscription id used on the wire.
func (s *Subscription[T]) UID() string {
	return s.uid
}

// Err returns the error that ended the subscription, or nil when it was
// closed by the caller.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the subscription has fully stopped.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes, closes the connection and waits for delivery to stop.
// It is safe to call more than once.
func (s *Subscription[T]) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *Subscription[T]) run(hs *handshake) {
	defer close(s.done)
	defer close(s.status)
	defer close(s.events)

	defer s.cancel()
	stop := context.AfterFunc(s.ctx, s.shutdown)
	defer stop()
	defer s.shutdown()

	for {
		s.setStatus(StatusLive)
		err := s.catchUp(hs)
		if err == nil {
			err = s.readLoop(hs.conn)
		}
		hs.conn.Close()
		if s.ctx.Err() != nil {
			return
		}
		var authErr *AuthError
		if errors.As(err, &authErr) {
			s.fail(err)
			return
		}
		s.c.logger.Warn("realtime connection lost", "collection", s.collection, "uid", s.uid, "error", err)

		hs, err = s.reconnect()
		if err != nil {
			if s.ctx.Err() == nil {
				s.fail(err)
			}
			return
		}
	}
}

func (s *Subscription[T]) reconnect() (*handshake, error) {
	s.setStatus(StatusReconnecting)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.InitialBackoff
	b.MaxInterval = s.config.MaxBackoff

	attempts := 0
	hs, err := backoff.Retry(s.ctx, func() (*handshake, error) {
		attempts++
		hs, err := s.connect(true)
		if err == nil {
			return hs, nil
		}
		var authErr *AuthError
		var subErr *SubscriptionError
		if errors.As(err, &authErr) || errors.As(err, &subErr) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.config.MaxReconnectAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.c.logger.Info("realtime reconnect failed", "collection", s.collection, "attempt", attempts, "retry_in", next, "error", err)
		}),
	)
	if err == nil {
		s.c.logger.Info("realtime reconnected", "collection", s.collection, "uid", s.uid, "attempts", attempts)
		return hs, nil
	}

	var authErr *AuthError
	var subErr *SubscriptionError
	if errors.As(err, &authErr) || errors.As(err, &subErr) {
		return nil, err
	}
	return nil, &SubscriptionError{Collection: s.collection, Attempts: attempts, Err: err}
}

// connect dials, authenticates and subscribes.
func (s *Subscription[T]) connect(resume bool) (*handshake, error) {
	if resume && s.c.canRefresh() {
		if _, err := s.c.Refresh(s.ctx); err != nil {
			return nil, err
		}
	}
	token, err := s.c.accessToken(s.ctx)
	if err != nil {
		return nil, err
	}

	target, err := s.socketURL()
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: s.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(s.ctx, target, nil)
	if err != nil {
		return nil, &NetworkError{Op: "dial", URL: target, Err: err}
	}

	hs, err := s.handshake(conn, token, resume)
	if err != nil {
		conn.Close()
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return nil, s.ctx.Err()
	}
	s.conn = conn
	return hs, nil
}

func (s *Subscription[T]) handshake(conn *websocket.Conn, token string, resume bool) (*handshake, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.config.HandshakeTimeout))

	if err := s.write(conn, wireFrame{Type: "auth", AccessToken: token}); err != nil {
		return nil, err
	}
	if _, err := s.await(conn, func(f wireFrame) (bool, error) {
		if f.Type != "auth" {
			return false, nil
		}
		if f.Status != "ok" {
			return false, frameAuthError(f.Error)
		}
		return true, nil
	}); err != nil {
		return nil, err
	}

	q, seed := s.subscribeQuery(resume)
	if err := s.write(conn, wireFrame{Type: "subscribe", Collection: s.collection, Query: &q, UID: s.uid}); err != nil {
		return nil, err
	}
	init, err := s.await(conn, func(f wireFrame) (bool, error) {
		if f.UID != s.uid {
			return false, nil
		}
		if f.Status == "error" {
			return false, s.rejection(f.Error)
		}
		return f.Type == "subscription" && f.Event == "init", nil
	})
	if err != nil {
		return nil, err
	}
	return &handshake{conn: conn, init: init.Data, seed: seed}, nil
}

// await reads frames until match accepts one, answering pings meanwhile.
func (s *Subscription[T]) await(conn *websocket.Conn, match func(wireFrame) (bool, error)) (wireFrame, error) {
	for {
		f, err := s.readFrame(conn)
		if err != nil {
			return wireFrame{}, err
		}
		if f.Type == "ping" {
			if err := s.write(conn, wireFrame{Type: "pong"}); err != nil {
				return wireFrame{}, err
			}
			continue
		}
		ok, err := match(f)
		if err != nil {
			return wireFrame{}, err
		}
		if ok {
			return f, nil
		}
	}
}

// subscribeQuery builds the subscribe frame's query. A fresh subscription
// without Since asks only for the newest record to seed the watermark;
// otherwise the snapshot starts at Since or the watermark, oldest first.
func (s *Subscription[T]) subscribeQuery(resume bool) (query.Query, bool) {
	if !resume && s.opts.Since.IsZero() {
		return query.Query{
			Filter: s.opts.Query.Filter,
			Fields: s.opts.Query.Fields,
			Sort:   []string{"-date_created"},
			Limit:  1,
		}, true
	}
	since := s.opts.Since
	if resume && !s.watermark.IsZero() {
		since = s.watermark
	}
	return s.backlogQuery(since), false
}

// backlogQuery pages through records created at or after since.
func (s *Subscription[T]) backlogQuery(since time.Time) query.Query {
	q := query.Query{
		Filter: s.opts.Query.Filter,
		Fields: s.opts.Query.Fields,
		Sort:   []string{"date_created"},
		Limit:  catchUpPage,
	}
	if !since.IsZero() {
		q.Filter = query.And(q.Filter, query.Field("date_created", "_gte", since.UTC().Format(time.RFC3339Nano)))
	}
	return q
}

// catchUp delivers the init snapshot, then fetches the rest of the backlog
// over REST while the snapshot came back full.
func (s *Subscription[T]) catchUp(hs *handshake) error {
	n, ok := s.replay(hs.init, hs.seed)
	if !ok {
		return s.ctx.Err()
	}
	for !hs.seed && n >= catchUpPage {
		from := s.watermark
		data, err := s.c.read(s.ctx, request{
			method:    http.MethodGet,
			path:      collectionPath(s.collection),
			params:    s.backlogQuery(from).Encode(),
			protected: true,
		})
		if err != nil {
			return err
		}
		if n, ok = s.replay(data, false); !ok {
			return s.ctx.Err()
		}
		if !s.watermark.After(from) {
			s.c.logger.Warn("realtime backlog did not advance", "collection", s.collection, "uid", s.uid, "watermark", from)
			return nil
		}
	}
	return nil
}

func (s *Subscription[T]) readLoop(conn *websocket.Conn) error {
	for {
		f, err := s.readFrame(conn)
		if err != nil {
			return err
		}
		switch f.Type {
		case "ping":
			if err := s.write(conn, wireFrame{Type: "pong"}); err != nil {
				return err
			}
		case "pong":
		case "auth":
			if f.Status == "error" {
				return frameAuthError(f.Error)
			}
		case "subscription":
			if f.UID != s.uid {
				continue
			}
			if !s.dispatch(f.Event, f.Data) {
				return nil
			}
		default:
			if f.Status == "error" && f.Error != nil {
				s.c.logger.Warn("realtime error frame", "type", f.Type, "code", f.Error.Code, "message", f.Error.Message)
			}
		}
	}
}

func (s *Subscription[T]) readFrame(conn *websocket.Conn) (wireFrame, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return wireFrame{}, &NetworkError{Op: "read", URL: s.collection, Err: err}
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * s.config.PingInterval))

		var f wireFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.c.logger.Warn("discarding malformed realtime frame", "error", err)
			continue
		}
		return f, nil
	}
}

func (s *Subscription[T]) write(conn *websocket.Conn, f wireFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.config.HandshakeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &NetworkError{Op: "write", URL: s.collection, Err: err}
	}
	return nil
}

// replay handles a page of records in date order. A seed page only moves
// the watermark; other pages are delivered minus the ids already seen. It
// reports the page size and false once the subscription is closing.
func (s *Subscription[T]) replay(page json.RawMessage, seed bool) (int, bool) {
	n, ok := 0, true
	gjson.ParseBytes(page).ForEach(func(_, v gjson.Result) bool {
		n++
		if seed {
			s.track(v)
			return true
		}
		ok = s.created(v)
		return ok
	})
	return n, ok
}

func (s *Subscription[T]) dispatch(event string, data json.RawMessage) bool {
	ok := true
	gjson.ParseBytes(data).ForEach(func(_, v gjson.Result) bool {
		switch event {
		case "create":
			ok = s.created(v)
		case "update":
			ok = s.emitRecord(EventUpdated, v)
		case "delete":
			key := v.String()
			if v.IsObject() {
				key = v.Get("id").String()
			}
			ok = s.emit(Event[T]{Type: EventDeleted, Key: key})
		}
		return ok
	})
	return ok
}

// created delivers a record once. Records older than the watermark were
// delivered or skipped before it moved.
func (s *Subscription[T]) created(v gjson.Result) bool {
	id := v.Get("id").String()
	if _, dup := s.seen[id]; dup {
		return true
	}
	if at, err := time.Parse(time.RFC3339Nano, v.Get("date_created").String()); err == nil && at.Before(s.watermark) {
		return true
	}
	s.track(v)
	return s.emitRecord(EventCreated, v)
}

func (s *Subscription[T]) track(v gjson.Result) {
	id := v.Get("id").String()
	created, err := time.Parse(time.RFC3339Nano, v.Get("date_created").String())
	if id == "" || err != nil || created.Before(s.watermark) {
		return
	}
	if created.After(s.watermark) {
		s.watermark = created
		for seenID, at := range s.seen {
			if at.Before(created) {
				delete(s.seen, seenID)
			}
		}
	}
	s.seen[id] = created
}

func (s *Subscription[T]) emitRecord(kind EventType, v gjson.Result) bool {
	var record T
	if err := json.Unmarshal([]byte(v.Raw), &record); err != nil {
		s.c.logger.Warn("discarding undecodable record", "collection", s.collection, "error", err)
		return true
	}
	return s.emit(Event[T]{Type: kind, Record: record, Key: v.Get("id").String()})
}

func (s *Subscription[T]) emit(ev Event[T]) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// setStatus never blocks; a reader that falls behind sees the latest states.
func (s *Subscription[T]) setStatus(st Status) {
	for {
		select {
		case s.status <- st:
			return
		default:
		}
		select {
		case <-s.status:
		default:
		}
	}
}

func (s *Subscription[T]) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.setStatus(StatusUnavailable)
	s.c.logger.Error("realtime subscription ended", "collection", s.collection, "uid", s.uid, "error", err)
}

// shutdown unsubscribes and closes the live connection.
func (s *Subscription[T]) shutdown() {
	s.mu.Lock()
	conn := s.conn
	s.closed = true
	s.mu.Unlock()
	if conn == nil {
		return
	}
	_ = s.write(conn, wireFrame{Type: "unsubscribe", UID: s.uid})
	conn.Close()
}

func (s *Subscription[T]) socketURL() (string, error) {
	if s.c.baseErr != nil {
		return "", &NetworkError{Op: "resolve", URL: s.c.origin, Err: s.c.baseErr}
	}
	u := *s.c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + s.config.Path
	u.RawQuery = ""
	return u.String(), nil
}

func (s *Subscription[T]) rejection(e *wireError) error {
	err := errors.New("subscription rejected")
	if e != nil {
		err = fmt.Errorf("%s: %s", e.Code, e.Message)
	}
	return &SubscriptionError{Collection: s.collection, Attempts: 1, Err: err}
}

func frameAuthError(e *wireError) error {
	if e == nil {
		return &AuthError{Code: "INVALID_CREDENTIALS", Message: "realtime authentication rejected"}
	}
	return &AuthError{Code: e.Code, Message: e.Message}
}
