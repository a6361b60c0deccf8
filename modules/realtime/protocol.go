package realtime

import (
	"encoding/json"

	"github.com/example/team-chat/query"
)

// Frame types exchanged on the realtime channel.
const (
	FrameAuth         = "auth"
	FrameSubscribe    = "subscribe"
	FrameSubscription = "subscription"
	FrameUnsubscribe  = "unsubscribe"
	FramePing         = "ping"
	FramePong         = "pong"
)

// Subscription events.
const (
	EventInit   = "init"
	EventCreate = "create"
	EventUpdate = "update"
	EventDelete = "delete"
)

// Frame statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Error codes carried in error frames.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeInvalidPayload     = "INVALID_PAYLOAD"
	CodeInvalidQuery       = "INVALID_QUERY"
	CodeForbidden          = "FORBIDDEN"
	CodeInternal           = "INTERNAL_SERVER_ERROR"
)

// Frame is one JSON message on the realtime channel.
type Frame struct {
	Type        string       `json:"type"`
	Status      string       `json:"status,omitempty"`
	AccessToken string       `json:"access_token,omitempty"`
	Collection  string       `json:"collection,omitempty"`
	Query       *query.Query `json:"query,omitempty"`
	UID         string       `json:"uid,omitempty"`
	Event       string       `json:"event,omitempty"`
	Data        any          `json:"data,omitempty"`
	Error       *FrameError  `json:"error,omitempty"`
}

// FrameError describes a rejected frame.
type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorFrame(frameType, uid, code, message string) Frame {
	return Frame{
		Type:   frameType,
		Status: StatusError,
		UID:    uid,
		Error:  &FrameError{Code: code, Message: message},
	}
}

func encodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}
