package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/example/team-chat/domain/chat"
	"github.com/example/team-chat/modules/auth"
	"github.com/example/team-chat/modules/messages"
	"github.com/example/team-chat/query"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// MessagesCollection is the only collection served over realtime.
const MessagesCollection = "messages"

// Conn is the part of a websocket connection a Session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// TokenValidator checks access tokens.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*domain.Claims, error)
}

// Snapshotter reads the initial result of a subscription.
type Snapshotter interface {
	List(ctx context.Context, q query.Query) ([]domain.Message, error)
}

// SessionConfig holds connection timing and sizing.
type SessionConfig struct {
	AuthTimeout  time.Duration
	PingInterval time.Duration
	QueueSize    int
	InitLimit    int
}

// DefaultSessionConfig returns the production session settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		AuthTimeout:  10 * time.Second,
		PingInterval: 30 * time.Second,
		QueueSize:    DefaultQueueSize,
		InitLimit:    query.DefaultLimit,
	}
}

// Session serves the realtime protocol on one connection.
type Session struct {
	conn      Conn
	hub       *Hub
	tokens    TokenValidator
	snapshots Snapshotter
	config    SessionConfig
	logger    types.Logger
	client    *Client
}

// NewSession creates a Session for conn.
func NewSession(conn Conn, hub *Hub, tokens TokenValidator, snapshots Snapshotter, config SessionConfig, logger types.Logger) *Session {
	return &Session{
		conn:      conn,
		hub:       hub,
		tokens:    tokens,
		snapshots: snapshots,
		config:    config,
		logger:    logger,
	}
}

// Serve runs the session until the connection ends or ctx is cancelled. The
// connection is closed on return.
func (s *Session) Serve(ctx context.Context) error {
	defer s.conn.Close()

	claims, err := s.authenticate(ctx)
	if err != nil {
		return err
	}

	s.client = NewClient(uuid.New().String(), claims.UserID, s.config.QueueSize)
	s.hub.Register(s.client)
	s.logger.Debug("Realtime client connected", "clientID", s.client.ID, "userID", claims.UserID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx)
	}()

	err = s.readLoop(ctx)

	s.client.Close()
	s.hub.Unregister(s.client)
	<-writerDone
	s.logger.Debug("Realtime client disconnected", "clientID", s.client.ID)
	return err
}

// authenticate expects an auth frame within AuthTimeout.
func (s *Session) authenticate(ctx context.Context) (*domain.Claims, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.config.AuthTimeout)); err != nil {
		return nil, err
	}
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("no auth frame received: %w", err)
	}

	frame, err := decodeFrame(data)
	if err != nil || frame.Type != FrameAuth || frame.AccessToken == "" {
		s.write(errorFrame(FrameAuth, "", CodeInvalidPayload, "first message must authenticate"))
		return nil, fmt.Errorf("unexpected first frame")
	}

	claims, err := s.tokens.ValidateToken(ctx, frame.AccessToken)
	if err != nil {
		s.write(authErrorFrame(err))
		return nil, fmt.Errorf("authentication rejected: %w", err)
	}
	if err := s.write(Frame{Type: FrameAuth, Status: StatusOK}); err != nil {
		return nil, err
	}
	return claims, nil
}

func authErrorFrame(err error) Frame {
	if errors.Is(err, auth.ErrExpiredToken) {
		return errorFrame(FrameAuth, "", CodeTokenExpired, "Token expired.")
	}
	return errorFrame(FrameAuth, "", CodeInvalidCredentials, "Invalid access token.")
}

// write sends a frame directly. Only used before the write loop starts.
func (s *Session) write(f Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// queue hands a frame to the write loop.
func (s *Session) queue(f Frame) {
	data, err := encodeFrame(f)
	if err != nil {
		s.logger.Error("Failed to encode frame", "type", f.Type, "error", err)
		return
	}
	s.client.Send(data)
}

func (s *Session) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()
	// unblocks the read loop when the client is closed from elsewhere
	defer s.conn.Close()

	ping, _ := encodeFrame(Frame{Type: FramePing})
	for {
		select {
		case <-ctx.Done():
			s.client.Close()
			return
		case <-s.client.Done():
			return
		case data := <-s.client.Outbound():
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("Realtime write failed", "clientID", s.client.ID, "error", err)
				s.client.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				s.client.Close()
				return
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		// a peer silent for two heartbeats is gone
		if err := s.conn.SetReadDeadline(time.Now().Add(2 * s.config.PingInterval)); err != nil {
			return err
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.client.Closed() || websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		frame, err := decodeFrame(data)
		if err != nil {
			s.queue(errorFrame("", "", CodeInvalidPayload, "invalid JSON frame"))
			continue
		}

		switch frame.Type {
		case FramePing:
			s.queue(Frame{Type: FramePong})
		case FramePong:
		case FrameAuth:
			s.reauthenticate(ctx, frame)
		case FrameSubscribe:
			s.subscribe(ctx, frame)
		case FrameUnsubscribe:
			s.client.Unsubscribe(frame.UID)
		default:
			s.queue(errorFrame(frame.Type, frame.UID, CodeInvalidPayload, "unknown frame type: "+frame.Type))
		}
	}
}

// reauthenticate accepts a fresh access token for the same user.
func (s *Session) reauthenticate(ctx context.Context, frame Frame) {
	claims, err := s.tokens.ValidateToken(ctx, frame.AccessToken)
	if err != nil {
		s.queue(authErrorFrame(err))
		return
	}
	if claims.UserID != s.client.UserID {
		s.queue(errorFrame(FrameAuth, "", CodeForbidden, "token belongs to another user"))
		return
	}
	s.queue(Frame{Type: FrameAuth, Status: StatusOK})
}

func (s *Session) subscribe(ctx context.Context, frame Frame) {
	uid := frame.UID
	if uid == "" {
		uid = uuid.New().String()
	}
	if frame.Collection != MessagesCollection {
		s.queue(errorFrame(FrameSubscribe, uid, CodeForbidden, "unknown collection: "+frame.Collection))
		return
	}

	var q query.Query
	if frame.Query != nil {
		q = *frame.Query
	}
	if err := q.Filter.Validate(messages.Columns.Allowed); err != nil {
		s.queue(errorFrame(FrameSubscribe, uid, CodeInvalidQuery, err.Error()))
		return
	}
	if len(q.Sort) == 0 {
		q.Sort = []string{"date_created"}
	}
	if _, err := query.OrderSQL(q.Sort, messages.Columns); err != nil {
		s.queue(errorFrame(FrameSubscribe, uid, CodeInvalidQuery, err.Error()))
		return
	}
	q.Offset = 0
	if q.Limit == 0 {
		q.Limit = s.config.InitLimit
	}

	s.client.Subscribe(Subscription{UID: uid, Collection: frame.Collection, Filter: q.Filter})

	rows, err := s.snapshots.List(ctx, q)
	if err != nil {
		s.client.Unsubscribe(uid)
		s.logger.Error("Failed to read subscription snapshot", "uid", uid, "error", err)
		s.queue(errorFrame(FrameSubscribe, uid, CodeInternal, "failed to read collection"))
		return
	}

	records := make([]any, 0, len(rows))
	for _, msg := range rows {
		record, err := MessageRecord(msg)
		if err != nil {
			s.logger.Error("Failed to encode record", "messageID", msg.ID, "error", err)
			continue
		}
		records = append(records, record)
	}

	initFrame, err := encodeFrame(Frame{Type: FrameSubscription, Event: EventInit, UID: uid, Data: records})
	if err != nil {
		s.logger.Error("Failed to encode init frame", "uid", uid, "error", err)
		return
	}
	s.client.Activate(uid, initFrame)
	s.logger.Debug("Subscription started", "clientID", s.client.ID, "uid", uid, "records", len(records))
}

// MessageRecord renders a message the way it appears on the wire, as a
// generic map the query filters can match against.
func MessageRecord(msg domain.Message) (map[string]any, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return record, nil
}
